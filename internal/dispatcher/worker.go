package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// ErrStatusTransitionDenied is returned when a status update would regress
// from a terminal state (delivered/failed).
var ErrStatusTransitionDenied = errors.New("status transition denied: firing already in terminal state")

// FiringStore records the outcome of a trigger firing.
type FiringStore interface {
	// UpdateFiringStatus sets the firing status. Implementations MUST
	// reject transitions from terminal states (delivered/failed) and return
	// ErrStatusTransitionDenied. This keeps replays idempotent.
	UpdateFiringStatus(ctx context.Context, firingID uuid.UUID, status domain.FiringStatus, errMsg string) error
}

// CommandSender is implemented by Dispatcher.
type CommandSender interface {
	Dispatch(ctx context.Context, deviceID string, cmd domain.Command) (Ack, error)
}

// Breaker guards the command path per device.
type Breaker interface {
	Allow(deviceID string) error
	RecordSuccess(deviceID string)
	RecordFailure(deviceID string)
}

// WorkerMetrics defines the interface for recording firing metrics.
// All methods must be non-blocking and fire-and-forget.
type WorkerMetrics interface {
	FiringOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()
	FiringLatencyObserve(latencySeconds float64)
}

// DefaultDrainTimeout is the maximum time to wait for buffered events during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// Worker turns fire events into device commands. Each firing gets exactly
// one dispatch attempt.
type Worker struct {
	store        FiringStore
	sender       CommandSender
	breaker      Breaker       // optional, nil = disabled
	metrics      WorkerMetrics // optional, nil = disabled
	logger       *zap.Logger
	clock        func() time.Time
	drainTimeout time.Duration
}

func NewWorker(store FiringStore, sender CommandSender, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:        store,
		sender:       sender,
		logger:       logger.Named("worker"),
		clock:        time.Now,
		drainTimeout: DefaultDrainTimeout,
	}
}

func (w *Worker) WithCircuitBreaker(b Breaker) *Worker {
	w.breaker = b
	return w
}

func (w *Worker) WithMetrics(m WorkerMetrics) *Worker {
	w.metrics = m
	return w
}

func (w *Worker) WithDrainTimeout(d time.Duration) *Worker {
	if d > 0 {
		w.drainTimeout = d
	}
	return w
}

func (w *Worker) WithClock(clock func() time.Time) *Worker {
	w.clock = clock
	return w
}

// Run processes events from the channel until context is cancelled.
// After cancellation, it drains remaining buffered events with a timeout.
func (w *Worker) Run(ctx context.Context, ch <-chan domain.FireEvent) {
	w.logger.Info("started")
	for {
		select {
		case <-ctx.Done():
			w.drain(ch)
			w.logger.Info("stopped")
			return
		case event, ok := <-ch:
			if !ok {
				w.logger.Info("channel closed")
				return
			}
			if err := w.Handle(ctx, event); err != nil {
				w.logger.Error("handle firing", zap.Stringer("firing_id", event.FiringID), zap.Error(err))
			}
		}
	}
}

// drain processes events still buffered after shutdown using a fresh
// context, since the run context is already cancelled.
func (w *Worker) drain(ch <-chan domain.FireEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			w.logger.Warn("drain timeout", zap.Int("processed", count))
			return
		case event, ok := <-ch:
			if !ok {
				w.logger.Info("drain complete", zap.Int("processed", count))
				return
			}
			if err := w.Handle(drainCtx, event); err != nil {
				w.logger.Error("drain: handle firing", zap.Stringer("firing_id", event.FiringID), zap.Error(err))
			}
			count++
		default:
			if count > 0 {
				w.logger.Info("drain complete", zap.Int("processed", count))
			}
			return
		}
	}
}

// Handle dispatches the command for one firing and records its outcome.
// The returned error covers only the status update; dispatch failures are
// recorded on the firing.
func (w *Worker) Handle(ctx context.Context, event domain.FireEvent) error {
	if w.metrics != nil {
		w.metrics.EventsInFlightIncr()
		defer w.metrics.EventsInFlightDecr()
	}

	log := w.logger.With(
		zap.String("trigger", event.TriggerName),
		zap.String("device_id", event.DeviceID),
		zap.String("action", string(event.Action)),
		zap.Time("scheduled_at", event.ScheduledAt),
	)

	if w.breaker != nil {
		if err := w.breaker.Allow(event.DeviceID); err != nil {
			log.Warn("circuit open, skipping firing")
			w.outcome("circuit_open")
			return w.finish(ctx, log, event, domain.FiringStatusFailed, err.Error())
		}
	}

	_, err := w.sender.Dispatch(ctx, event.DeviceID, event.Action.Command())

	if w.metrics != nil {
		w.metrics.FiringLatencyObserve(w.clock().Sub(event.ScheduledAt).Seconds())
	}

	switch {
	case err == nil:
		w.recordBreaker(event.DeviceID, true)
		w.outcome("delivered")
		return w.finish(ctx, log, event, domain.FiringStatusDelivered, "")

	case errors.Is(err, domain.ErrPersistence):
		// the command reached the channel; only the observation is missing
		w.recordBreaker(event.DeviceID, true)
		w.outcome("delivered")
		log.Warn("firing delivered without observation", zap.Error(err))
		return w.finish(ctx, log, event, domain.FiringStatusDelivered, err.Error())

	default:
		w.recordBreaker(event.DeviceID, false)
		w.outcome("failed")
		log.Warn("firing failed", zap.Error(err))
		return w.finish(ctx, log, event, domain.FiringStatusFailed, err.Error())
	}
}

func (w *Worker) finish(ctx context.Context, log *zap.Logger, event domain.FireEvent, status domain.FiringStatus, errMsg string) error {
	err := w.store.UpdateFiringStatus(ctx, event.FiringID, status, errMsg)
	if errors.Is(err, ErrStatusTransitionDenied) {
		log.Info("firing already terminal, skipping status update", zap.Stringer("firing_id", event.FiringID))
		return nil
	}
	return err
}

func (w *Worker) recordBreaker(deviceID string, ok bool) {
	if w.breaker == nil {
		return
	}
	if ok {
		w.breaker.RecordSuccess(deviceID)
		return
	}
	w.breaker.RecordFailure(deviceID)
}

func (w *Worker) outcome(o string) {
	if w.metrics != nil {
		w.metrics.FiringOutcome(o)
	}
}
