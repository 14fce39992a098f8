package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
)

// ForwardMessage is the broker payload for delivering one reply to one manager.
type ForwardMessage struct {
	Job           domain.ForwardJob `json:"job"`
	Recipient     string            `json:"recipient"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

func (m ForwardMessage) Validate() error {
	if strings.TrimSpace(m.Job.ContactID) == "" {
		return fmt.Errorf("job.contactId is required")
	}
	if strings.TrimSpace(m.Job.Sender) == "" {
		return fmt.Errorf("job.sender is required")
	}
	if err := domain.ValidateEmail(m.Recipient); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	return nil
}

// MessageID is stable for a job and recipient so broker-side dedupe works.
func (m ForwardMessage) MessageID() string {
	return fmt.Sprintf("%s:%d:%s", m.Job.ContactID, m.Job.ReplyAt.UnixNano(), strings.ToLower(m.Recipient))
}
