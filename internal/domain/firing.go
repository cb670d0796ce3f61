package domain

import (
	"time"

	"github.com/google/uuid"
)

type FiringStatus string

const (
	FiringStatusEmitted   FiringStatus = "emitted"
	FiringStatusDelivered FiringStatus = "delivered"
	FiringStatusFailed    FiringStatus = "failed"
)

// Firing records that a trigger fired at a specific time.
type Firing struct {
	ID uuid.UUID

	TriggerName string
	DeviceID    string
	Action      TriggerAction

	ScheduledAt time.Time
	FiredAt     time.Time
	Status      FiringStatus
	Error       string

	CreatedAt time.Time
}
