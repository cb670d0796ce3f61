package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/dispatcher"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/recurrence"
)

// CreateRequest declares a new recurring window for one device.
type CreateRequest struct {
	DeviceID  string            `json:"device_id"`
	Name      string            `json:"name,omitempty"`
	Weekdays  []domain.Weekday  `json:"weekdays"`
	StartTime *domain.TimeOfDay `json:"start_time"`
	EndTime   *domain.TimeOfDay `json:"end_time,omitempty"`
	Enabled   *bool             `json:"is_enabled,omitempty"` // nil = true
}

func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return fmt.Errorf("%w: device_id is required", domain.ErrValidation)
	}
	return validateWindow(r.Weekdays, r.StartTime)
}

func (r CreateRequest) window() recurrence.Window {
	return recurrence.Window{Weekdays: r.Weekdays, StartTime: *r.StartTime, EndTime: r.EndTime}
}

// UpdateRequest fully replaces the window of an existing schedule. The
// device cannot change.
type UpdateRequest struct {
	Name      string            `json:"name,omitempty"`
	Weekdays  []domain.Weekday  `json:"weekdays"`
	StartTime *domain.TimeOfDay `json:"start_time"`
	EndTime   *domain.TimeOfDay `json:"end_time,omitempty"`
	Enabled   *bool             `json:"is_enabled,omitempty"` // nil = true
}

func (r UpdateRequest) Validate() error {
	return validateWindow(r.Weekdays, r.StartTime)
}

func (r UpdateRequest) window() recurrence.Window {
	return recurrence.Window{Weekdays: r.Weekdays, StartTime: *r.StartTime, EndTime: r.EndTime}
}

func validateWindow(weekdays []domain.Weekday, start *domain.TimeOfDay) error {
	if len(weekdays) == 0 {
		return fmt.Errorf("%w: at least one weekday is required", domain.ErrValidation)
	}
	if start == nil {
		return fmt.Errorf("%w: start_time is required", domain.ErrValidation)
	}
	return nil
}

func enabledOrDefault(b *bool) bool {
	return b == nil || *b
}

func nameOrDefault(name string) string {
	if strings.TrimSpace(name) == "" {
		return domain.DefaultScheduleName
	}
	return name
}

// DeleteResult reports each sub-step of a delete. TriggerErrors is keyed
// by trigger name and only holds failed removals.
type DeleteResult struct {
	ScheduleID      string            `json:"schedule_id"`
	RemovedTriggers []string          `json:"removed_triggers"`
	TriggerErrors   map[string]string `json:"trigger_errors,omitempty"`
	RecordRemoved   bool              `json:"record_removed"`
}

// MaxRunForSeconds caps a one-shot countdown at seven days.
const MaxRunForSeconds = 7 * 24 * 60 * 60

// RunForRequest turns a device on now and off after Seconds.
type RunForRequest struct {
	DeviceID string `json:"device_id"`
	Seconds  int    `json:"seconds"`
}

func (r RunForRequest) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return fmt.Errorf("%w: device_id is required", domain.ErrValidation)
	}
	if r.Seconds <= 0 {
		return fmt.Errorf("%w: seconds must be a positive integer, got %d", domain.ErrValidation, r.Seconds)
	}
	if r.Seconds > MaxRunForSeconds {
		return fmt.Errorf("%w: seconds must be at most %d, got %d", domain.ErrValidation, MaxRunForSeconds, r.Seconds)
	}
	return nil
}

type RunForResult struct {
	Ack            dispatcher.Ack
	OffTriggerName string
	OffExpression  string
	OffAt          time.Time
}
