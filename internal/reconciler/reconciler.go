// Package reconciler re-emits orphaned firings.
//
// A firing is orphaned when it is still status='emitted' after the
// threshold, typically because the bus was full or the process crashed
// between recording and delivery. The worker's terminal-state guard makes
// a re-emit of an already finished firing a no-op.
//
// Firings older than MaxAge, or whose trigger has since been deleted, are
// marked failed instead of re-emitted so a device is never switched by a
// stale or withdrawn schedule.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/dispatcher"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/scheduler"
)

// Store is implemented by the postgres store. UpdateFiringStatus returns
// dispatcher.ErrStatusTransitionDenied for a firing already terminal.
type Store interface {
	GetOrphanedFirings(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Firing, error)
	TriggerExists(ctx context.Context, name string) (bool, error)
	UpdateFiringStatus(ctx context.Context, firingID uuid.UUID, status domain.FiringStatus, errMsg string) error
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.FireEvent) error
}

type MetricsSink interface {
	OrphanedFiringsUpdate(count int)
}

type Config struct {
	// Interval is how often a cycle runs. Default 5m.
	Interval time.Duration

	// Threshold is the age after which an emitted firing counts as orphaned. Default 10m.
	Threshold time.Duration

	// BatchSize caps orphans handled per cycle. Default 100.
	BatchSize int

	// MaxAge is the oldest scheduled time still worth replaying. Older
	// orphans are expired. Zero means no limit. Default 1h.
	MaxAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 10 * time.Minute,
		BatchSize: 100,
		MaxAge:    time.Hour,
	}
}

type Reconciler struct {
	config  Config
	store   Store
	emitter EventEmitter
	metrics MetricsSink
	logger  *zap.Logger
	clock   func() time.Time
}

func New(config Config, store Store, emitter EventEmitter, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		logger:  logger.Named("reconciler"),
		clock:   time.Now,
	}
}

func (r *Reconciler) WithMetrics(m MetricsSink) *Reconciler {
	r.metrics = m
	return r
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run blocks until ctx is cancelled. The first cycle runs immediately.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("threshold", r.config.Threshold),
		zap.Int("batch", r.config.BatchSize),
		zap.Duration("max_age", r.config.MaxAge),
	)

	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle performs one scan and returns the number of re-emitted firings.
func (r *Reconciler) RunCycle(ctx context.Context) int {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	orphans, err := r.store.GetOrphanedFirings(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// retried next interval
		r.logger.Error("fetch orphans failed", zap.Error(err))
		return 0
	}
	if r.metrics != nil {
		r.metrics.OrphanedFiringsUpdate(len(orphans))
	}
	if len(orphans) == 0 {
		return 0
	}

	r.logger.Info("found orphaned firings", zap.Int("count", len(orphans)))

	emitted, failed, expired := 0, 0, 0
	for _, f := range orphans {
		if ctx.Err() != nil {
			r.logger.Info("cycle interrupted", zap.Int("processed", emitted+failed+expired), zap.Int("total", len(orphans)))
			return emitted
		}

		reason, err := r.staleReason(ctx, f, now)
		if err != nil {
			r.logger.Warn("trigger lookup failed, skipping firing",
				zap.Stringer("firing_id", f.ID),
				zap.String("trigger", f.TriggerName),
				zap.Error(err),
			)
			failed++
			continue
		}
		if reason != "" {
			if r.expire(ctx, f, reason) {
				expired++
			} else {
				failed++
			}
			continue
		}

		event := scheduler.FireEventFor(f)
		event.CreatedAt = now

		if err := r.emitter.Emit(ctx, event); err != nil {
			r.logger.Warn("re-emit failed",
				zap.Stringer("firing_id", f.ID),
				zap.String("trigger", f.TriggerName),
				zap.Error(err),
			)
			failed++
			continue
		}

		r.logger.Info("re-emitted",
			zap.Stringer("firing_id", f.ID),
			zap.String("trigger", f.TriggerName),
			zap.Time("scheduled_at", f.ScheduledAt),
			zap.Duration("age", now.Sub(f.CreatedAt).Round(time.Second)),
		)
		emitted++
	}

	r.logger.Info("cycle complete", zap.Int("re_emitted", emitted), zap.Int("expired", expired), zap.Int("failed", failed))
	return emitted
}

// staleReason returns why f must not be replayed, or "" if it may be.
func (r *Reconciler) staleReason(ctx context.Context, f domain.Firing, now time.Time) (string, error) {
	if r.config.MaxAge > 0 && f.ScheduledAt.Before(now.Add(-r.config.MaxAge)) {
		return "expired: scheduled more than " + r.config.MaxAge.String() + " ago", nil
	}
	ok, err := r.store.TriggerExists(ctx, f.TriggerName)
	if err != nil {
		return "", err
	}
	if !ok {
		return "expired: trigger deleted", nil
	}
	return "", nil
}

// expire marks f failed. A firing finished meanwhile counts as expired.
func (r *Reconciler) expire(ctx context.Context, f domain.Firing, reason string) bool {
	err := r.store.UpdateFiringStatus(ctx, f.ID, domain.FiringStatusFailed, reason)
	if err != nil && !errors.Is(err, dispatcher.ErrStatusTransitionDenied) {
		r.logger.Warn("expire failed",
			zap.Stringer("firing_id", f.ID),
			zap.String("trigger", f.TriggerName),
			zap.Error(err),
		)
		return false
	}
	r.logger.Info("orphan not replayed",
		zap.Stringer("firing_id", f.ID),
		zap.String("trigger", f.TriggerName),
		zap.Time("scheduled_at", f.ScheduledAt),
		zap.String("reason", reason),
	)
	return true
}
