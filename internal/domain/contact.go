package domain

import (
	"fmt"
	"strings"
	"time"
)

// Contact is a single outreach recipient and its follow-up state.
type Contact struct {
	ID                 string
	Email              string
	Name               string
	InitialSentAt      *time.Time
	FollowupCount      int
	LastFollowupAt     *time.Time
	LastContactAt      *time.Time
	Replied            bool
	ReplyAt            *time.Time
	CustomFollowupTime *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Stage is a display label for where a contact sits in the sequence.
type Stage string

const (
	StageNew         Stage = "NEW"
	StageInitialSent Stage = "INITIAL_SENT"
	StageExhausted   Stage = "EXHAUSTED"
	StageReplied     Stage = "REPLIED"
)

func (s Stage) String() string { return string(s) }

// Stage reports the contact's position given the configured follow-up cap.
func (c Contact) Stage(maxFollowups int) Stage {
	switch {
	case c.Replied:
		return StageReplied
	case c.InitialSentAt == nil:
		return StageNew
	case c.FollowupCount >= maxFollowups:
		return StageExhausted
	case c.FollowupCount == 0:
		return StageInitialSent
	}
	return Stage(fmt.Sprintf("FOLLOWUP_%d", c.FollowupCount))
}

// NormalizeEmail trims and lower-cases an address for comparisons.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidateEmail performs a shallow syntactic check used at import time.
func ValidateEmail(addr string) error {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if addr == "" || at <= 0 || at == len(addr)-1 || strings.ContainsAny(addr, " <>,") {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, addr)
	}
	return nil
}

// Stats is the dashboard summary of the campaign.
type Stats struct {
	Total           int64 `json:"total"`
	InitialSent     int64 `json:"initialSent"`
	Replied         int64 `json:"replied"`
	PendingFollowup int64 `json:"pendingFollowup"`
}
