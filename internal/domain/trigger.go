package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TriggerState string

const (
	TriggerStateEnabled  TriggerState = "ENABLED"
	TriggerStateDisabled TriggerState = "DISABLED"
)

// StateFor maps a schedule's enabled flag to a trigger state.
func StateFor(enabled bool) TriggerState {
	if enabled {
		return TriggerStateEnabled
	}
	return TriggerStateDisabled
}

// TriggerAction is the downstream action a trigger invokes when it fires.
type TriggerAction string

const (
	ActionTurnOn  TriggerAction = "turnOn"
	ActionTurnOff TriggerAction = "turnOff"
)

func ParseTriggerAction(s string) (TriggerAction, error) {
	switch TriggerAction(s) {
	case ActionTurnOn, ActionTurnOff:
		return TriggerAction(s), nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
}

// Command returns the device command the action results in.
func (a TriggerAction) Command() Command {
	if a == ActionTurnOn {
		return CommandOn
	}
	return CommandOff
}

// TriggerInput is the fixed payload delivered to the target action.
type TriggerInput struct {
	DeviceID string        `json:"deviceId"`
	Action   TriggerAction `json:"action"`
}

type TriggerTarget struct {
	ActionRef string
	RoleRef   string
	Input     TriggerInput
}

// AtLayout formats the instant of a one-shot at(...) expression: local
// wall time, no fractional seconds, no zone suffix.
const AtLayout = "2006-01-02T15:04:05"

// Trigger is a named, externally scheduled event.
type Trigger struct {
	Name       string
	Expression string // cron(...) or at(...)
	Target     TriggerTarget
	State      TriggerState
	CreatedAt  time.Time
}

// FireEvent is emitted by the trigger scheduler when a trigger fires.
type FireEvent struct {
	FiringID    uuid.UUID
	TriggerName string
	DeviceID    string
	Action      TriggerAction

	ScheduledAt    time.Time // intended fire time (UTC)
	FiredAt        time.Time // actual emission time
	IdempotencyKey string

	CreatedAt time.Time
}
