package mailer

import (
	"context"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
)

// Sender is the outbound mail port.
type Sender interface {
	Send(ctx context.Context, email OutboundEmail) (*SendReceipt, error)
}

// Mailbox is the inbound mail port. FetchUnseen must not mark messages seen;
// MarkConsumed does that once the caller is done with a message.
type Mailbox interface {
	FetchUnseen(ctx context.Context) ([]domain.InboundMessage, error)
	MarkConsumed(ctx context.Context, ref domain.MessageRef) error
}

// OutboundEmail is a single plain-text message to one recipient.
type OutboundEmail struct {
	To      string
	ReplyTo string
	Subject string
	Body    string
}

// SendReceipt stores transport metadata for the action log.
type SendReceipt struct {
	MessageID string
}
