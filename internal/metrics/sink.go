package metrics

import (
	"errors"
	"time"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Trigger scheduler
	TickStarted()
	TickCompleted(duration time.Duration, triggersFired int, err error)
	TickDrift(drift time.Duration)

	// Firing worker
	FiringOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// Command dispatcher
	CommandDispatched(command domain.Command, outcome string, duration time.Duration)

	// Trigger registry and schedule orchestrator
	TriggerOperation(op, outcome string)
	ScheduleOperation(op, outcome string)

	// EventBus
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Reconciler
	OrphanedFiringsUpdate(count int)
	FiringLatencyObserve(latencySeconds float64)

	// Leader election
	LeaderStatus(isLeader bool)
}

// Firing outcomes.
const (
	OutcomeDelivered   = "delivered"
	OutcomeFailed      = "failed"
	OutcomeCircuitOpen = "circuit_open"
)

// Error classes used as the outcome label of command, trigger and
// schedule metrics.
const (
	ClassOK          = "ok"
	ClassValidation  = "validation"
	ClassConflict    = "conflict"
	ClassUpstream    = "upstream"
	ClassChannel     = "channel"
	ClassPersistence = "persistence"
	ClassNotFound    = "not_found"
	ClassOther       = "other"
)

// ClassifyError maps an error to its error-kind class.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ClassOK
	case errors.Is(err, domain.ErrValidation):
		return ClassValidation
	case errors.Is(err, domain.ErrConflict):
		return ClassConflict
	case errors.Is(err, domain.ErrUpstream):
		return ClassUpstream
	case errors.Is(err, domain.ErrChannel):
		return ClassChannel
	case errors.Is(err, domain.ErrPersistence):
		return ClassPersistence
	case errors.Is(err, domain.ErrNotFound):
		return ClassNotFound
	default:
		return ClassOther
	}
}
