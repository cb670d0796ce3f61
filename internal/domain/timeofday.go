package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TimeOfDay is an hour:minute wall-clock time with no date or zone.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: time %q must be HH:MM", ErrValidation, s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: time %q: bad hour", ErrValidation, s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: time %q: bad minute", ErrValidation, s)
	}
	t := TimeOfDay{Hour: hour, Minute: minute}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("%w: hour %d out of range 0-23", ErrValidation, t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: minute %d out of range 0-59", ErrValidation, t.Minute)
	}
	return nil
}

// Before reports whether t is earlier in the day than u.
func (t TimeOfDay) Before(u TimeOfDay) bool {
	return t.Hour*60+t.Minute < u.Hour*60+u.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// UnmarshalJSON accepts either {"hour":8,"minute":30} or "08:30".
func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseTimeOfDay(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	type plain TimeOfDay
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = TimeOfDay(p)
	return nil
}
