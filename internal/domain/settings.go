package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FollowupMode selects how follow-up due-ness is computed.
type FollowupMode string

const (
	FollowupModeFixedTime FollowupMode = "FIXED_TIME"
	FollowupModeInterval  FollowupMode = "INTERVAL"
)

func (m FollowupMode) String() string { return string(m) }

func (m FollowupMode) IsValid() bool {
	switch m {
	case FollowupModeFixedTime, FollowupModeInterval:
		return true
	}
	return false
}

func ParseFollowupModeFromString(s string) (FollowupMode, error) {
	m := FollowupMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid followup mode %q", ErrConfiguration, s)
	}
	return m, nil
}

// IntervalUnit is the unit of a follow-up interval.
type IntervalUnit string

const (
	IntervalMinutes IntervalUnit = "minutes"
	IntervalHours   IntervalUnit = "hours"
	IntervalDays    IntervalUnit = "days"
)

func (u IntervalUnit) String() string { return string(u) }

func (u IntervalUnit) IsValid() bool {
	switch u {
	case IntervalMinutes, IntervalHours, IntervalDays:
		return true
	}
	return false
}

func ParseIntervalUnitFromString(s string) (IntervalUnit, error) {
	u := IntervalUnit(strings.ToLower(strings.TrimSpace(s)))
	if !u.IsValid() {
		return "", fmt.Errorf("%w: invalid interval unit %q", ErrConfiguration, s)
	}
	return u, nil
}

func (u IntervalUnit) duration() time.Duration {
	switch u {
	case IntervalMinutes:
		return time.Minute
	case IntervalHours:
		return time.Hour
	case IntervalDays:
		return 24 * time.Hour
	}
	return 0
}

// MaxInterval bounds follow-up intervals; larger values would overflow
// time.Duration for day units.
const MaxInterval = 365 * 24 * time.Hour

// Interval is a positive amount of minutes, hours or days, at most MaxInterval.
type Interval struct {
	Value int          `json:"value"`
	Unit  IntervalUnit `json:"unit"`
}

func (i Interval) Duration() time.Duration {
	return time.Duration(i.Value) * i.Unit.duration()
}

func (i Interval) Validate() error {
	if !i.Unit.IsValid() {
		return fmt.Errorf("%w: invalid interval unit %q", ErrConfiguration, i.Unit)
	}
	if i.Value <= 0 {
		return fmt.Errorf("%w: interval value must be positive, got %d", ErrConfiguration, i.Value)
	}
	if !i.withinMax() {
		return fmt.Errorf("%w: interval %d %s exceeds %s", ErrConfiguration, i.Value, i.Unit, MaxInterval)
	}
	return nil
}

// withinMax compares in units so oversized values never reach a Duration
// multiplication.
func (i Interval) withinMax() bool {
	unit := i.Unit.duration()
	return unit > 0 && i.Value > 0 && int64(i.Value) <= int64(MaxInterval/unit)
}

// ClockTime is a local time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (24h).
func ParseClockTime(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("%w: invalid time of day %q", ErrConfiguration, s)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || len(mm) != 2 || h < 0 || h > 23 || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("%w: invalid time of day %q", ErrConfiguration, s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: time of day must be a string", ErrConfiguration)
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// CampaignSettings is the operator-editable campaign configuration.
// A copy is taken at the start of every pass.
type CampaignSettings struct {
	DailySendTime         ClockTime    `json:"dailySendTime"`
	FollowupMode          FollowupMode `json:"followupMode"`
	FollowupFixedTime     ClockTime    `json:"followupFixedTime"`
	FollowupInterval      Interval     `json:"followupInterval"`
	MaxFollowups          int          `json:"maxFollowups"`
	InterSendDelaySeconds int          `json:"interSendDelaySeconds"`
	Enabled               bool         `json:"enabled"`
	Timezone              string       `json:"timezone"`
}

func DefaultSettings() CampaignSettings {
	return CampaignSettings{
		DailySendTime:         ClockTime{Hour: 8},
		FollowupMode:          FollowupModeInterval,
		FollowupFixedTime:     ClockTime{Hour: 14},
		FollowupInterval:      Interval{Value: 3, Unit: IntervalDays},
		MaxFollowups:          2,
		InterSendDelaySeconds: 5,
		Enabled:               true,
		Timezone:              "Asia/Kolkata",
	}
}

func (s CampaignSettings) InterSendDelay() time.Duration {
	return time.Duration(s.InterSendDelaySeconds) * time.Second
}

// Location resolves the configured timezone.
func (s CampaignSettings) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrConfiguration, s.Timezone)
	}
	return loc, nil
}

// Validate rejects settings that would break scheduling. It runs on save.
func (s CampaignSettings) Validate() error {
	if !s.FollowupMode.IsValid() {
		return fmt.Errorf("%w: invalid followup mode %q", ErrConfiguration, s.FollowupMode)
	}
	if err := s.FollowupInterval.Validate(); err != nil {
		return err
	}
	if s.MaxFollowups < 0 {
		return fmt.Errorf("%w: maxFollowups must not be negative", ErrConfiguration)
	}
	if s.InterSendDelaySeconds < 0 {
		return fmt.Errorf("%w: interSendDelaySeconds must not be negative", ErrConfiguration)
	}
	if strings.TrimSpace(s.Timezone) == "" {
		return fmt.Errorf("%w: timezone is required", ErrConfiguration)
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	for _, c := range []ClockTime{s.DailySendTime, s.FollowupFixedTime} {
		if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
			return fmt.Errorf("%w: invalid time of day %s", ErrConfiguration, c)
		}
	}
	return nil
}
