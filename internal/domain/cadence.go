package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Cadence is the effective follow-up rule for one contact: either a fixed
// time of day or an interval since the last touch.
type Cadence struct {
	FixedTime *ClockTime
	Interval  *Interval
}

// ParseCadence parses a per-contact override. "HH:MM" selects a fixed time of
// day; "<n>m", "<n>h" or "<n>d" selects an interval.
func ParseCadence(s string) (Cadence, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Cadence{}, fmt.Errorf("%w: empty cadence", ErrValidation)
	}
	if strings.Contains(s, ":") {
		c, err := ParseClockTime(s)
		if err != nil {
			return Cadence{}, fmt.Errorf("%w: invalid cadence %q", ErrValidation, s)
		}
		return Cadence{FixedTime: &c}, nil
	}

	var unit IntervalUnit
	switch s[len(s)-1] {
	case 'm':
		unit = IntervalMinutes
	case 'h':
		unit = IntervalHours
	case 'd':
		unit = IntervalDays
	default:
		return Cadence{}, fmt.Errorf("%w: invalid cadence %q", ErrValidation, s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return Cadence{}, fmt.Errorf("%w: invalid cadence %q", ErrValidation, s)
	}
	interval := Interval{Value: n, Unit: unit}
	if !interval.withinMax() {
		return Cadence{}, fmt.Errorf("%w: cadence %q exceeds %s", ErrValidation, s, MaxInterval)
	}
	return Cadence{Interval: &interval}, nil
}

// CadenceFromSettings returns the campaign-wide cadence.
func CadenceFromSettings(s CampaignSettings) Cadence {
	if s.FollowupMode == FollowupModeFixedTime {
		c := s.FollowupFixedTime
		return Cadence{FixedTime: &c}
	}
	i := s.FollowupInterval
	return Cadence{Interval: &i}
}

func (c Cadence) String() string {
	switch {
	case c.FixedTime != nil:
		return c.FixedTime.String()
	case c.Interval != nil:
		return fmt.Sprintf("%d%c", c.Interval.Value, c.Interval.Unit.String()[0])
	}
	return ""
}
