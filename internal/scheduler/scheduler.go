// Package scheduler evaluates enabled triggers on a fixed tick and emits a
// fire event for every due fire time.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

var ErrDuplicateFiring = errors.New("firing already exists")

type Store interface {
	ListEnabledTriggers(ctx context.Context) ([]domain.Trigger, error)
	// InsertFiring returns ErrDuplicateFiring if (trigger_name, scheduled_at) exists.
	InsertFiring(ctx context.Context, f domain.Firing) error
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

// CronSchedule returns the next fire time after the given time, or the
// zero time when the schedule is exhausted.
type CronSchedule interface {
	Next(after time.Time) time.Time
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.FireEvent) error
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, triggersFired int, err error)
	TickDrift(drift time.Duration)
}

type Config struct {
	TickInterval time.Duration
	// Timezone in which trigger expressions are evaluated. Empty means UTC.
	Timezone string
}

// maxFiresPerTrigger bounds catch-up work for one trigger in one tick.
const maxFiresPerTrigger = 1000

type Scheduler struct {
	config   Config
	store    Store
	parser   CronParser
	emitter  EventEmitter
	metrics  MetricsSink // optional, nil = disabled
	logger   *zap.Logger
	clock    func() time.Time
	lastTick time.Time
}

func New(config Config, store Store, parser CronParser, emitter EventEmitter, logger *zap.Logger) *Scheduler {
	if config.Timezone == "" {
		config.Timezone = "UTC"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		config:  config,
		store:   store,
		parser:  parser,
		emitter: emitter,
		logger:  logger.Named("scheduler"),
		clock:   time.Now,
	}
}

func (s *Scheduler) WithMetrics(m MetricsSink) *Scheduler {
	s.metrics = m
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("started", zap.Duration("tick", s.config.TickInterval), zap.String("timezone", s.config.Timezone))
	s.lastTick = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("tick error", zap.Error(err))
			}
		}
	}
}

// Tick emits every fire time in (lastTick, now] for each enabled trigger.
// The first call only starts the window.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock().UTC()
	if s.lastTick.IsZero() {
		s.lastTick = now
		return nil
	}

	if s.metrics != nil {
		s.metrics.TickStarted()
		if s.config.TickInterval > 0 {
			s.metrics.TickDrift(now.Sub(s.lastTick) - s.config.TickInterval)
		}
	}

	fired, err := s.processTick(ctx, now)

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().UTC().Sub(now), fired, err)
	}
	if err != nil {
		return err
	}

	s.lastTick = now
	return nil
}

func (s *Scheduler) processTick(ctx context.Context, now time.Time) (int, error) {
	triggers, err := s.store.ListEnabledTriggers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list triggers: %w", err)
	}

	fired := 0
	for _, t := range triggers {
		n, err := s.processTrigger(ctx, t, s.lastTick, now)
		if err != nil {
			s.logger.Warn("trigger skipped", zap.String("trigger", t.Name), zap.Error(err))
		}
		fired += n
	}
	return fired, nil
}

func (s *Scheduler) processTrigger(ctx context.Context, t domain.Trigger, lastTick, now time.Time) (int, error) {
	if t.State != domain.TriggerStateEnabled {
		return 0, nil
	}

	sched, err := s.parser.Parse(t.Expression, s.config.Timezone)
	if err != nil {
		return 0, fmt.Errorf("parse expression: %w", err)
	}

	fired := 0
	next := sched.Next(lastTick)
	for i := 0; i < maxFiresPerTrigger && !next.IsZero() && !next.After(now); i++ {
		scheduledAt := next.UTC()
		ok, err := s.emitFiring(ctx, t, scheduledAt, now)
		if err != nil {
			s.logger.Error("emit failed",
				zap.String("trigger", t.Name),
				zap.Time("scheduled_at", scheduledAt),
				zap.Error(err),
			)
		}
		if ok {
			fired++
		}
		next = sched.Next(next)
	}
	return fired, nil
}

// emitFiring records the firing then emits its event. It reports whether a
// new firing was emitted.
func (s *Scheduler) emitFiring(ctx context.Context, t domain.Trigger, scheduledAt, now time.Time) (bool, error) {
	firing := domain.Firing{
		ID:          uuid.New(),
		TriggerName: t.Name,
		DeviceID:    t.Target.Input.DeviceID,
		Action:      t.Target.Input.Action,
		ScheduledAt: scheduledAt,
		FiredAt:     now,
		Status:      domain.FiringStatusEmitted,
		CreatedAt:   now,
	}

	if err := s.store.InsertFiring(ctx, firing); err != nil {
		if errors.Is(err, ErrDuplicateFiring) {
			return false, nil // already emitted
		}
		return false, fmt.Errorf("insert firing: %w", err)
	}

	event := FireEventFor(firing)
	if err := s.emitter.Emit(ctx, event); err != nil {
		// the firing row stays emitted and the reconciler picks it up
		return false, fmt.Errorf("emit: %w", err)
	}

	s.logger.Info("trigger fired",
		zap.String("trigger", t.Name),
		zap.String("device_id", firing.DeviceID),
		zap.String("action", string(firing.Action)),
		zap.Time("scheduled_at", scheduledAt),
	)
	return true, nil
}

// FireEventFor builds the bus event for a recorded firing.
func FireEventFor(f domain.Firing) domain.FireEvent {
	return domain.FireEvent{
		FiringID:       f.ID,
		TriggerName:    f.TriggerName,
		DeviceID:       f.DeviceID,
		Action:         f.Action,
		ScheduledAt:    f.ScheduledAt,
		FiredAt:        f.FiredAt,
		IdempotencyKey: IdempotencyKey(f.TriggerName, f.ScheduledAt),
		CreatedAt:      f.CreatedAt,
	}
}

// IdempotencyKey identifies one fire time of one trigger.
func IdempotencyKey(triggerName string, scheduledAt time.Time) string {
	data := fmt.Sprintf("%s:%d", triggerName, scheduledAt.Unix())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
