package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command is an immediate device command and also the state it requests.
type Command string

const (
	CommandOn  Command = "ON"
	CommandOff Command = "OFF"
)

// ParseCommand accepts "on"/"off" in any case.
func ParseCommand(s string) (Command, error) {
	switch c := Command(strings.ToUpper(strings.TrimSpace(s))); c {
	case CommandOn, CommandOff:
		return c, nil
	}
	return "", fmt.Errorf("%w: command must be ON or OFF, got %q", ErrValidation, s)
}

// DeviceStateObservation is an append-only readings row. Rows written on
// command dispatch carry zeroed measurements.
type DeviceStateObservation struct {
	ID        uuid.UUID
	DeviceID  string
	Timestamp time.Time
	State     Command

	Voltage float64
	Current float64
	Power   float64
}
