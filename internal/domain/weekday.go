package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Weekday enumerates the days a recurring schedule can fire on.
// Values follow time.Weekday ordering (Sunday = 0).
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [...]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

var weekdayTokens = [...]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

// ParseWeekday accepts a full day name ("monday") or its three-letter
// token ("MON"), case-insensitively.
func ParseWeekday(s string) (Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for i, name := range weekdayNames {
		if v == name || v == strings.ToLower(weekdayTokens[i]) {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrValidation, s)
}

func (d Weekday) Valid() bool {
	return d >= Sunday && d <= Saturday
}

// Token returns the three-letter day token used in trigger expressions.
func (d Weekday) Token() string {
	if !d.Valid() {
		return ""
	}
	return weekdayTokens[d]
}

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

func (d Weekday) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid weekday %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *Weekday) UnmarshalText(b []byte) error {
	w, err := ParseWeekday(string(b))
	if err != nil {
		return err
	}
	*d = w
	return nil
}

// NormalizeWeekdays removes duplicates and orders days Sunday first.
// An empty input is rejected.
func NormalizeWeekdays(days []Weekday) ([]Weekday, error) {
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: at least one weekday is required", ErrValidation)
	}
	seen := make(map[Weekday]bool, len(days))
	out := make([]Weekday, 0, len(days))
	for _, d := range days {
		if !d.Valid() {
			return nil, fmt.Errorf("%w: invalid weekday %d", ErrValidation, int(d))
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
