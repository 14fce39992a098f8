package domain

import (
	"errors"
	"testing"
	"time"
)

func ptrTime(t time.Time) *time.Time { return &t }

func ptrString(s string) *string { return &s }

func TestDecide(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	interval := DefaultSettings()
	interval.FollowupMode = FollowupModeInterval
	interval.FollowupInterval = Interval{Value: 3, Unit: IntervalDays}
	interval.MaxFollowups = 2

	fixed := interval
	fixed.FollowupMode = FollowupModeFixedTime
	fixed.FollowupFixedTime = ClockTime{Hour: 14}

	tests := []struct {
		name     string
		contact  Contact
		settings CampaignSettings
		trigger  Trigger
		want     Action
		wantErr  error
	}{
		{
			name:     "new contact gets initial",
			contact:  Contact{ID: "c1"},
			settings: interval,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSendInitial},
		},
		{
			name:     "replied wins over everything",
			contact:  Contact{ID: "c1", Replied: true},
			settings: interval,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSkip, Reason: "replied"},
		},
		{
			name:     "interval not yet elapsed",
			contact:  Contact{ID: "c1", InitialSentAt: ptrTime(now.Add(-71 * time.Hour))},
			settings: interval,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSkip, Reason: "not due"},
		},
		{
			name:     "interval elapsed exactly",
			contact:  Contact{ID: "c1", InitialSentAt: ptrTime(now.Add(-72 * time.Hour))},
			settings: interval,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSendFollowup, FollowupNumber: 1},
		},
		{
			name: "anchor is last followup",
			contact: Contact{
				ID:             "c1",
				InitialSentAt:  ptrTime(now.Add(-10 * 24 * time.Hour)),
				LastFollowupAt: ptrTime(now.Add(-24 * time.Hour)),
				FollowupCount:  1,
			},
			settings: interval,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSkip, Reason: "not due"},
		},
		{
			name: "second followup due",
			contact: Contact{
				ID:             "c1",
				InitialSentAt:  ptrTime(now.Add(-10 * 24 * time.Hour)),
				LastFollowupAt: ptrTime(now.Add(-4 * 24 * time.Hour)),
				FollowupCount:  1,
			},
			settings: interval,
			trigger:  ScheduleTrigger(ClockTime{Hour: 9}),
			want:     Action{Decision: DecisionSendFollowup, FollowupNumber: 2},
		},
		{
			name: "max followups reached",
			contact: Contact{
				ID:             "c1",
				InitialSentAt:  ptrTime(now.Add(-30 * 24 * time.Hour)),
				LastFollowupAt: ptrTime(now.Add(-20 * 24 * time.Hour)),
				FollowupCount:  2,
			},
			settings: interval,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSkip, Reason: "max followups reached"},
		},
		{
			name:     "fixed time matches trigger",
			contact:  Contact{ID: "c1", InitialSentAt: ptrTime(now.Add(-time.Hour))},
			settings: fixed,
			trigger:  ScheduleTrigger(ClockTime{Hour: 14}),
			want:     Action{Decision: DecisionSendFollowup, FollowupNumber: 1},
		},
		{
			name:     "fixed time other minute",
			contact:  Contact{ID: "c1", InitialSentAt: ptrTime(now.Add(-5 * 24 * time.Hour))},
			settings: fixed,
			trigger:  ScheduleTrigger(ClockTime{Hour: 14, Minute: 1}),
			want:     Action{Decision: DecisionSkip, Reason: "not due"},
		},
		{
			name:     "fixed time manual run",
			contact:  Contact{ID: "c1", InitialSentAt: ptrTime(now.Add(-time.Hour))},
			settings: fixed,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSendFollowup, FollowupNumber: 1},
		},
		{
			name: "custom interval overrides fixed mode",
			contact: Contact{
				ID:                 "c1",
				InitialSentAt:      ptrTime(now.Add(-2 * time.Hour)),
				CustomFollowupTime: ptrString("90m"),
			},
			settings: fixed,
			trigger:  ScheduleTrigger(ClockTime{Hour: 3}),
			want:     Action{Decision: DecisionSendFollowup, FollowupNumber: 1},
		},
		{
			name: "custom fixed time overrides interval",
			contact: Contact{
				ID:                 "c1",
				InitialSentAt:      ptrTime(now.Add(-10 * 24 * time.Hour)),
				CustomFollowupTime: ptrString("10:30"),
			},
			settings: interval,
			trigger:  ScheduleTrigger(ClockTime{Hour: 9}),
			want:     Action{Decision: DecisionSkip, Reason: "not due"},
		},
		{
			name: "blank custom time falls back to settings",
			contact: Contact{
				ID:                 "c1",
				InitialSentAt:      ptrTime(now.Add(-4 * 24 * time.Hour)),
				CustomFollowupTime: ptrString("  "),
			},
			settings: interval,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSendFollowup, FollowupNumber: 1},
		},
		{
			name: "unparseable custom time",
			contact: Contact{
				ID:                 "c1",
				InitialSentAt:      ptrTime(now.Add(-4 * 24 * time.Hour)),
				CustomFollowupTime: ptrString("soon"),
			},
			settings: interval,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSkip, Reason: "corrupt state"},
			wantErr:  ErrDataIntegrity,
		},
		{
			name:     "zero initial timestamp",
			contact:  Contact{ID: "c1", InitialSentAt: ptrTime(time.Time{})},
			settings: interval,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSkip, Reason: "corrupt state"},
			wantErr:  ErrDataIntegrity,
		},
		{
			name: "zero followup timestamp",
			contact: Contact{
				ID:             "c1",
				InitialSentAt:  ptrTime(now.Add(-4 * 24 * time.Hour)),
				LastFollowupAt: ptrTime(time.Time{}),
				FollowupCount:  1,
			},
			settings: interval,
			trigger:  ManualTrigger(),
			want:     Action{Decision: DecisionSkip, Reason: "corrupt state"},
			wantErr:  ErrDataIntegrity,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Decide(tt.contact, tt.settings, now, tt.trigger)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decide() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Decide() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecideIntervalBoundary(t *testing.T) {
	t.Parallel()

	settings := DefaultSettings()
	settings.FollowupInterval = Interval{Value: 2, Unit: IntervalHours}
	anchor := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	contact := Contact{ID: "c1", InitialSentAt: &anchor}

	for offset := time.Duration(0); offset <= 4*time.Hour; offset += 15 * time.Minute {
		got, err := Decide(contact, settings, anchor.Add(offset), ManualTrigger())
		if err != nil {
			t.Fatalf("Decide() unexpected error = %v", err)
		}
		wantDue := offset >= 2*time.Hour
		if (got.Decision == DecisionSendFollowup) != wantDue {
			t.Fatalf("Decide() at +%s = %s, want due=%v", offset, got.Decision, wantDue)
		}
	}
}

func TestDecideNeverExceedsMax(t *testing.T) {
	t.Parallel()

	settings := DefaultSettings()
	settings.MaxFollowups = 3
	settings.FollowupInterval = Interval{Value: 1, Unit: IntervalDays}

	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	contact := Contact{ID: "c1"}
	sends := 0
	for day := 0; day < 20; day++ {
		now = now.Add(24 * time.Hour)
		action, err := Decide(contact, settings, now, ManualTrigger())
		if err != nil {
			t.Fatalf("Decide() unexpected error = %v", err)
		}
		switch action.Decision {
		case DecisionSendInitial:
			ts := now
			contact.InitialSentAt = &ts
		case DecisionSendFollowup:
			ts := now
			contact.FollowupCount = action.FollowupNumber
			contact.LastFollowupAt = &ts
			sends++
		}
	}

	if sends != settings.MaxFollowups || contact.FollowupCount != settings.MaxFollowups {
		t.Fatalf("followups sent = %d (count %d), want %d", sends, contact.FollowupCount, settings.MaxFollowups)
	}
}

func TestDecideRejectsOversizedStoredInterval(t *testing.T) {
	t.Parallel()

	settings := DefaultSettings()
	settings.FollowupInterval = Interval{Value: 200000, Unit: IntervalDays}
	sent := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	contact := Contact{ID: "c1", InitialSentAt: &sent}

	got, err := Decide(contact, settings, sent.Add(time.Minute), ManualTrigger())
	if !errors.Is(err, ErrDataIntegrity) {
		t.Fatalf("Decide() error = %v, want ErrDataIntegrity", err)
	}
	if got.Decision != DecisionSkip {
		t.Fatalf("Decide() = %s, want %s", got.Decision, DecisionSkip)
	}
}
