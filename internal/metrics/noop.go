package metrics

import (
	"time"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                        {}
func (n *NoopSink) TickCompleted(duration time.Duration, triggersFired int, err error)  {}
func (n *NoopSink) TickDrift(drift time.Duration)                                       {}
func (n *NoopSink) FiringOutcome(outcome string)                                        {}
func (n *NoopSink) EventsInFlightIncr()                                                 {}
func (n *NoopSink) EventsInFlightDecr()                                                 {}
func (n *NoopSink) CommandDispatched(c domain.Command, outcome string, d time.Duration) {}
func (n *NoopSink) TriggerOperation(op, outcome string)                                 {}
func (n *NoopSink) ScheduleOperation(op, outcome string)                                {}
func (n *NoopSink) BufferSizeUpdate(size int)                                           {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                      {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                           {}
func (n *NoopSink) EmitError()                                                          {}
func (n *NoopSink) OrphanedFiringsUpdate(count int)                                     {}
func (n *NoopSink) FiringLatencyObserve(latencySeconds float64)                         {}
func (n *NoopSink) LeaderStatus(isLeader bool)                                          {}
