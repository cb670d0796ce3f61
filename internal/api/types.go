package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/dispatcher"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/schedule"
)

// CommandRequest is the body of POST /commands.
type CommandRequest struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"` // ON or OFF, any case
}

// FireRequest is the body of POST /triggers/fire, the payload a fired
// trigger delivers to its target action.
type FireRequest struct {
	DeviceID string `json:"device_id"`
	Action   string `json:"action"` // turnOn or turnOff
}

type ScheduleResponse struct {
	ID         string           `json:"schedule_id"`
	DeviceID   string           `json:"device_id"`
	Name       string           `json:"name"`
	Weekdays   []domain.Weekday `json:"weekdays"`
	StartTime  string           `json:"start_time"`
	EndTime    string           `json:"end_time,omitempty"`
	Enabled    bool             `json:"is_enabled"`
	OnTrigger  string           `json:"on_trigger"`
	OffTrigger string           `json:"off_trigger,omitempty"`
	CreatedAt  string           `json:"created_at"`
	UpdatedAt  string           `json:"updated_at"`

	// Error is set when the schedule was written but a cleanup step failed.
	Error string `json:"error,omitempty"`
}

type ListSchedulesResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
}

type DeleteScheduleResponse struct {
	schedule.DeleteResult
	Error string `json:"error,omitempty"`
}

type CommandResponse struct {
	DeviceID      string `json:"device_id"`
	Command       string `json:"command"`
	ObservationID string `json:"observation_id,omitempty"`
	Timestamp     string `json:"timestamp"`
	Error         string `json:"error,omitempty"`
}

type OneShotResponse struct {
	CommandResponse
	OffTrigger    string `json:"off_trigger,omitempty"`
	OffExpression string `json:"off_expression,omitempty"`
	OffAt         string `json:"off_at,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func toScheduleResponse(r domain.ScheduleRecord) ScheduleResponse {
	resp := ScheduleResponse{
		ID:         r.ID,
		DeviceID:   r.DeviceID,
		Name:       r.Name,
		Weekdays:   r.Weekdays,
		StartTime:  r.StartTime.String(),
		Enabled:    r.Enabled,
		OnTrigger:  r.OnTriggerName,
		OffTrigger: r.OffTriggerName,
		CreatedAt:  formatTime(r.CreatedAt),
		UpdatedAt:  formatTime(r.UpdatedAt),
	}
	if r.EndTime != nil {
		resp.EndTime = r.EndTime.String()
	}
	return resp
}

func toCommandResponse(ack dispatcher.Ack) CommandResponse {
	resp := CommandResponse{
		DeviceID:  ack.DeviceID,
		Command:   string(ack.Command),
		Timestamp: formatTime(ack.Timestamp),
	}
	if ack.ObservationID != uuid.Nil {
		resp.ObservationID = ack.ObservationID.String()
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
