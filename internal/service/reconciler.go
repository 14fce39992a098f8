package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"go.uber.org/zap"
)

// ReconcileResult reports what a single inbound message matched.
type ReconcileResult struct {
	Matched    bool
	FirstReply bool
	ContactID  string
	Sender     string
	ReplyAt    time.Time
}

// Reconciler matches inbound mail to contacts and records replies.
type Reconciler struct {
	contacts repository.ContactRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewReconciler(contacts repository.ContactRepository, logger *zap.Logger) (*Reconciler, error) {
	if contacts == nil {
		return nil, fmt.Errorf("contact repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{contacts: contacts, logger: logger, now: time.Now}, nil
}

// Reconcile records msg as a reply if its sender is a known contact. The
// reply time is the processing time, not the Date header. Unknown senders
// come back unmatched with no error and no state change.
func (r *Reconciler) Reconcile(ctx context.Context, msg domain.InboundMessage) (ReconcileResult, error) {
	sender, err := SenderAddress(msg.From)
	if err != nil {
		r.logger.Debug("inbound message has no usable sender", zap.String("from", msg.From), zap.Error(err))
		return ReconcileResult{}, nil
	}

	result := ReconcileResult{Sender: sender}
	contact, err := r.contacts.FindByEmail(ctx, sender)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return result, nil
		}
		return result, fmt.Errorf("failed to look up sender %s: %w", sender, err)
	}

	at := r.now().UTC()
	first, err := r.contacts.ApplyReply(ctx, contact.ID, at, fmt.Sprintf("subject=%q", msg.Subject))
	if err != nil {
		return result, fmt.Errorf("failed to record reply for contact %s: %w", contact.ID, err)
	}

	result.Matched = true
	result.FirstReply = first
	result.ContactID = contact.ID
	result.ReplyAt = at
	return result, nil
}

// SenderAddress extracts the bare, lower-cased address from a From header.
func SenderAddress(from string) (string, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", fmt.Errorf("%w: empty sender", domain.ErrValidation)
	}

	addr := ""
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	} else if start, end := strings.LastIndex(from, "<"), strings.LastIndex(from, ">"); start >= 0 && end > start {
		addr = from[start+1 : end]
	} else {
		addr = from
	}

	addr = domain.NormalizeEmail(addr)
	if err := domain.ValidateEmail(addr); err != nil {
		return "", err
	}
	return addr, nil
}
