package domain

import "time"

// MessageRef identifies a mailbox message so it can be marked consumed later.
type MessageRef string

// InboundMessage is the parsed subset of a received email the reconciler needs.
type InboundMessage struct {
	Ref       MessageRef
	MessageID string
	From      string
	Subject   string
	Date      time.Time
	Body      string
}

// ForwardJob carries a matched reply to the manager recipients. ReplyAt is
// when the engine received the message; SentAt is the sender's Date header
// and may be zero.
type ForwardJob struct {
	ContactID string    `json:"contactId"`
	Sender    string    `json:"sender"`
	Subject   string    `json:"subject"`
	ReplyAt   time.Time `json:"replyAt"`
	SentAt    time.Time `json:"sentAt"`
	Body      string    `json:"body"`
}
