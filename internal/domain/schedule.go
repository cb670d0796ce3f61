package domain

import "time"

// DefaultScheduleName labels schedules created without a name.
const DefaultScheduleName = "Unnamed"

// ScheduleRecord is the persisted declaration of a recurring on/off window.
// It owns the triggers named by OnTriggerName and OffTriggerName.
// OffTriggerName is set iff EndTime is set.
type ScheduleRecord struct {
	ID       string
	DeviceID string
	Name     string

	Weekdays  []Weekday
	StartTime TimeOfDay
	EndTime   *TimeOfDay // nil = turn-on only
	Enabled   bool

	OnTriggerName  string
	OffTriggerName string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TriggerNames returns the owned trigger names, on first.
func (r ScheduleRecord) TriggerNames() []string {
	names := []string{r.OnTriggerName}
	if r.OffTriggerName != "" {
		names = append(names, r.OffTriggerName)
	}
	return names
}
