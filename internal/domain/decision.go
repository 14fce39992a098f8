package domain

import (
	"fmt"
	"strings"
	"time"
)

// Decision is what the engine wants done with a contact.
type Decision string

const (
	DecisionSkip         Decision = "SKIP"
	DecisionSendInitial  Decision = "SEND_INITIAL"
	DecisionSendFollowup Decision = "SEND_FOLLOWUP"
)

func (d Decision) String() string { return string(d) }

// Action is the result of Decide. FollowupNumber is set for DecisionSendFollowup.
type Action struct {
	Decision       Decision
	FollowupNumber int
	Reason         string
}

func skip(reason string) Action {
	return Action{Decision: DecisionSkip, Reason: reason}
}

// TriggerKind tells the engine why a pass is running.
type TriggerKind string

const (
	TriggerSchedule TriggerKind = "SCHEDULE"
	TriggerManual   TriggerKind = "MANUAL"
)

func (k TriggerKind) String() string { return string(k) }

// Trigger describes the invocation of a pass. Clock is the local time of day
// that fired a scheduled pass.
type Trigger struct {
	Kind  TriggerKind
	Clock ClockTime
}

func ScheduleTrigger(clock ClockTime) Trigger {
	return Trigger{Kind: TriggerSchedule, Clock: clock}
}

func ManualTrigger() Trigger {
	return Trigger{Kind: TriggerManual}
}

// Decide returns the next action for contact at now. It never mutates the
// contact and has no side effects. A contact whose stored state cannot be
// trusted yields a skip together with an ErrDataIntegrity error.
func Decide(contact Contact, settings CampaignSettings, now time.Time, trigger Trigger) (Action, error) {
	if contact.Replied {
		return skip("replied"), nil
	}
	if contact.InitialSentAt == nil {
		return Action{Decision: DecisionSendInitial}, nil
	}
	if contact.InitialSentAt.IsZero() {
		return skip("corrupt state"), integrityError(contact, "initial_sent_at is zero")
	}
	if contact.FollowupCount < 0 {
		return skip("corrupt state"), integrityError(contact, fmt.Sprintf("followup_count is %d", contact.FollowupCount))
	}
	if contact.FollowupCount >= settings.MaxFollowups {
		return skip("max followups reached"), nil
	}

	anchor := *contact.InitialSentAt
	if contact.LastFollowupAt != nil {
		if contact.LastFollowupAt.IsZero() {
			return skip("corrupt state"), integrityError(contact, "last_followup_at is zero")
		}
		anchor = *contact.LastFollowupAt
	}

	cadence := CadenceFromSettings(settings)
	if contact.CustomFollowupTime != nil && strings.TrimSpace(*contact.CustomFollowupTime) != "" {
		override, err := ParseCadence(*contact.CustomFollowupTime)
		if err != nil {
			return skip("corrupt state"), integrityError(contact, err.Error())
		}
		cadence = override
	}

	if cadence.Interval != nil && !cadence.Interval.withinMax() {
		return skip("corrupt state"), integrityError(contact, fmt.Sprintf("follow-up interval %d %s out of range", cadence.Interval.Value, cadence.Interval.Unit))
	}

	due := false
	switch {
	case cadence.Interval != nil:
		due = now.Sub(anchor) >= cadence.Interval.Duration()
	case cadence.FixedTime != nil:
		due = trigger.Kind == TriggerManual ||
			(trigger.Kind == TriggerSchedule && trigger.Clock == *cadence.FixedTime)
	}
	if !due {
		return skip("not due"), nil
	}
	return Action{Decision: DecisionSendFollowup, FollowupNumber: contact.FollowupCount + 1}, nil
}

func integrityError(c Contact, detail string) error {
	return fmt.Errorf("%w: contact %s: %s", ErrDataIntegrity, c.ID, detail)
}
