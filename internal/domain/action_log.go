package domain

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind names an entry in the append-only action log.
type ActionKind string

const (
	ActionInitialSent   ActionKind = "INITIAL_SENT"
	ActionFollowupSent  ActionKind = "FOLLOWUP_SENT"
	ActionSendFailed    ActionKind = "SEND_FAILED"
	ActionReplyReceived ActionKind = "REPLY_RECEIVED"
	ActionReplyRepeated ActionKind = "REPLY_REPEATED"
	ActionForwarded     ActionKind = "FORWARDED"
	ActionForwardFailed ActionKind = "FORWARD_FAILED"
	ActionDataIntegrity ActionKind = "DATA_INTEGRITY"
)

func (k ActionKind) String() string { return string(k) }

func (k ActionKind) IsValid() bool {
	switch k {
	case ActionInitialSent, ActionFollowupSent, ActionSendFailed, ActionReplyReceived,
		ActionReplyRepeated, ActionForwarded, ActionForwardFailed, ActionDataIntegrity:
		return true
	}
	return false
}

func ParseActionKindFromString(s string) (ActionKind, error) {
	k := ActionKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid action kind %q", ErrValidation, s)
	}
	return k, nil
}

// ActionLog is one audit entry. Entries are never updated or deleted.
type ActionLog struct {
	ID           string
	ContactID    string
	ContactEmail string
	Kind         ActionKind
	Details      string
	CreatedAt    time.Time
}
