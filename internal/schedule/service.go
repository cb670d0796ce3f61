// Package schedule coordinates the trigger registry, the schedule record
// store and the command dispatcher for each user-facing operation.
//
// Steps inside one operation run sequentially. Nothing is retried; the only
// automatic recovery is best-effort rollback of triggers registered by the
// failing operation.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/dispatcher"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/metrics"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/recurrence"
)

// Store persists schedule records. GetSchedule returns domain.ErrNotFound
// on a miss and DeleteSchedule is idempotent.
type Store interface {
	PutSchedule(ctx context.Context, r domain.ScheduleRecord) error
	GetSchedule(ctx context.Context, id string) (domain.ScheduleRecord, error)
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedulesByDevice(ctx context.Context, deviceID string) ([]domain.ScheduleRecord, error)
}

// Triggers is implemented by trigger.Registry.
type Triggers interface {
	NewName(action domain.TriggerAction, deviceID string) string
	Register(ctx context.Context, name, expression string, input domain.TriggerInput, enabled bool) (string, error)
	Unregister(ctx context.Context, ref string) error
}

// CommandSender is implemented by dispatcher.Dispatcher.
type CommandSender interface {
	Dispatch(ctx context.Context, deviceID string, cmd domain.Command) (dispatcher.Ack, error)
}

type MetricsSink interface {
	ScheduleOperation(op, outcome string)
}

type Service struct {
	store    Store
	triggers Triggers
	sender   CommandSender
	location *time.Location
	metrics  MetricsSink
	logger   *zap.Logger
	clock    func() time.Time
	newID    func() string
}

// NewService creates a Service. location is the zone one-shot at(...)
// expressions are written in; it must match the trigger authority's zone.
func NewService(store Store, triggers Triggers, sender CommandSender, location *time.Location, logger *zap.Logger) *Service {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		triggers: triggers,
		sender:   sender,
		location: location,
		logger:   logger.Named("schedule"),
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

func (s *Service) WithMetrics(m MetricsSink) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Create compiles the window, registers its triggers and persists the
// record. A failure after registration unregisters what this call
// registered before returning.
func (s *Service) Create(ctx context.Context, req CreateRequest) (rec domain.ScheduleRecord, err error) {
	defer func() { s.record("create", err) }()

	if err := req.Validate(); err != nil {
		return domain.ScheduleRecord{}, err
	}
	exprs, err := recurrence.Compile(req.window())
	if err != nil {
		return domain.ScheduleRecord{}, err
	}

	enabled := enabledOrDefault(req.Enabled)
	onName, offName, err := s.registerPair(ctx, req.DeviceID, exprs, enabled)
	if err != nil {
		return domain.ScheduleRecord{}, err
	}

	now := s.clock().UTC()
	weekdays, _ := domain.NormalizeWeekdays(req.Weekdays)
	rec = domain.ScheduleRecord{
		ID:             s.newID(),
		DeviceID:       req.DeviceID,
		Name:           nameOrDefault(req.Name),
		Weekdays:       weekdays,
		StartTime:      *req.StartTime,
		EndTime:        req.EndTime,
		Enabled:        enabled,
		OnTriggerName:  onName,
		OffTriggerName: offName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.PutSchedule(ctx, rec); err != nil {
		err = fmt.Errorf("%w: put schedule %s: %w", domain.ErrPersistence, rec.ID, err)
		return domain.ScheduleRecord{}, multierr.Append(err, s.rollback(ctx, rec.TriggerNames()...))
	}

	s.logger.Info("schedule created",
		zap.String("schedule_id", rec.ID),
		zap.String("device_id", rec.DeviceID),
		zap.String("on", exprs.On),
		zap.String("off", exprs.Off),
		zap.Bool("enabled", enabled),
	)
	return rec, nil
}

// registerPair registers the on trigger and, if present, the off trigger
// under fresh names. If the off registration fails the on trigger is
// unregistered before returning.
func (s *Service) registerPair(ctx context.Context, deviceID string, exprs recurrence.Expressions, enabled bool) (string, string, error) {
	onName := s.triggers.NewName(domain.ActionTurnOn, deviceID)
	onInput := domain.TriggerInput{DeviceID: deviceID, Action: domain.ActionTurnOn}
	if _, err := s.triggers.Register(ctx, onName, exprs.On, onInput, enabled); err != nil {
		return "", "", err
	}
	if !exprs.HasOff() {
		return onName, "", nil
	}

	offName := s.triggers.NewName(domain.ActionTurnOff, deviceID)
	offInput := domain.TriggerInput{DeviceID: deviceID, Action: domain.ActionTurnOff}
	if _, err := s.triggers.Register(ctx, offName, exprs.Off, offInput, enabled); err != nil {
		return "", "", multierr.Append(err, s.rollback(ctx, onName))
	}
	return onName, offName, nil
}

// rollback unregisters triggers this operation created. Failures are
// returned so the caller can report the leaked names.
func (s *Service) rollback(ctx context.Context, names ...string) error {
	var errs error
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := s.triggers.Unregister(ctx, name); err != nil {
			s.logger.Error("rollback failed, trigger leaked", zap.String("trigger", name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("rollback %s: %w", name, err))
			continue
		}
		s.logger.Warn("rolled back trigger", zap.String("trigger", name))
	}
	return errs
}

// Get returns domain.ErrNotFound if the schedule does not exist.
func (s *Service) Get(ctx context.Context, id string) (domain.ScheduleRecord, error) {
	if strings.TrimSpace(id) == "" {
		return domain.ScheduleRecord{}, fmt.Errorf("%w: schedule id is required", domain.ErrValidation)
	}
	rec, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return domain.ScheduleRecord{}, storeErr(err, "get schedule "+id)
	}
	return rec, nil
}

// ListByDevice returns the device's schedules. An empty result is not an error.
func (s *Service) ListByDevice(ctx context.Context, deviceID string) ([]domain.ScheduleRecord, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device_id is required", domain.ErrValidation)
	}
	recs, err := s.store.ListSchedulesByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list schedules for %s: %w", domain.ErrPersistence, deviceID, err)
	}
	if recs == nil {
		recs = []domain.ScheduleRecord{}
	}
	return recs, nil
}

// Delete removes the schedule's triggers and then its record. The record
// is removed even when a trigger removal fails; the returned error then
// combines every failed sub-step and the result shows which ones.
func (s *Service) Delete(ctx context.Context, id string) (res DeleteResult, err error) {
	defer func() { s.record("delete", err) }()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}

	res = DeleteResult{ScheduleID: rec.ID, RemovedTriggers: []string{}}
	var errs error
	for _, name := range rec.TriggerNames() {
		if err := s.triggers.Unregister(ctx, name); err != nil {
			if res.TriggerErrors == nil {
				res.TriggerErrors = make(map[string]string)
			}
			res.TriggerErrors[name] = err.Error()
			errs = multierr.Append(errs, err)
			s.logger.Warn("trigger removal failed", zap.String("schedule_id", rec.ID), zap.String("trigger", name), zap.Error(err))
			continue
		}
		res.RemovedTriggers = append(res.RemovedTriggers, name)
	}

	if err := s.store.DeleteSchedule(ctx, rec.ID); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: delete schedule %s: %w", domain.ErrPersistence, rec.ID, err))
	} else {
		res.RecordRemoved = true
	}

	s.logger.Info("schedule deleted",
		zap.String("schedule_id", rec.ID),
		zap.Strings("removed_triggers", res.RemovedTriggers),
		zap.Bool("record_removed", res.RecordRemoved),
		zap.Error(errs),
	)
	return res, errs
}

// Update replaces the schedule's window. New triggers are registered and
// the record is rewritten before the old triggers are removed, so a
// failure before the rewrite leaves the old schedule intact. Failure to
// remove an old trigger is returned alongside the updated record.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (rec domain.ScheduleRecord, err error) {
	defer func() { s.record("update", err) }()

	if err := req.Validate(); err != nil {
		return domain.ScheduleRecord{}, err
	}
	exprs, err := recurrence.Compile(req.window())
	if err != nil {
		return domain.ScheduleRecord{}, err
	}

	old, err := s.Get(ctx, id)
	if err != nil {
		return domain.ScheduleRecord{}, err
	}

	enabled := enabledOrDefault(req.Enabled)
	onName, offName, err := s.registerPair(ctx, old.DeviceID, exprs, enabled)
	if err != nil {
		return domain.ScheduleRecord{}, err
	}

	weekdays, _ := domain.NormalizeWeekdays(req.Weekdays)
	rec = domain.ScheduleRecord{
		ID:             old.ID,
		DeviceID:       old.DeviceID,
		Name:           nameOrDefault(req.Name),
		Weekdays:       weekdays,
		StartTime:      *req.StartTime,
		EndTime:        req.EndTime,
		Enabled:        enabled,
		OnTriggerName:  onName,
		OffTriggerName: offName,
		CreatedAt:      old.CreatedAt,
		UpdatedAt:      s.clock().UTC(),
	}

	if err := s.store.PutSchedule(ctx, rec); err != nil {
		err = fmt.Errorf("%w: put schedule %s: %w", domain.ErrPersistence, rec.ID, err)
		return domain.ScheduleRecord{}, multierr.Append(err, s.rollback(ctx, rec.TriggerNames()...))
	}

	var errs error
	for _, name := range old.TriggerNames() {
		if err := s.triggers.Unregister(ctx, name); err != nil {
			s.logger.Warn("old trigger removal failed", zap.String("schedule_id", rec.ID), zap.String("trigger", name), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	s.logger.Info("schedule updated",
		zap.String("schedule_id", rec.ID),
		zap.String("on", exprs.On),
		zap.String("off", exprs.Off),
		zap.Bool("enabled", enabled),
	)
	return rec, errs
}

// RunFor turns the device on immediately and registers a one-shot off
// trigger Seconds from now. No schedule record is created. A persistence
// failure after a successful publish does not stop the off trigger from
// being registered; both outcomes are reported.
func (s *Service) RunFor(ctx context.Context, req RunForRequest) (res RunForResult, err error) {
	defer func() { s.record("run_for", err) }()

	if err := req.Validate(); err != nil {
		return RunForResult{}, err
	}

	ack, dispatchErr := s.sender.Dispatch(ctx, req.DeviceID, domain.CommandOn)
	if dispatchErr != nil && !errors.Is(dispatchErr, domain.ErrPersistence) {
		return RunForResult{}, dispatchErr
	}
	res.Ack = ack

	res.OffAt = s.clock().In(s.location).Add(time.Duration(req.Seconds) * time.Second).Truncate(time.Second)
	res.OffExpression = recurrence.At(res.OffAt)
	res.OffTriggerName = s.triggers.NewName(domain.ActionTurnOff, req.DeviceID)

	input := domain.TriggerInput{DeviceID: req.DeviceID, Action: domain.ActionTurnOff}
	if _, err := s.triggers.Register(ctx, res.OffTriggerName, res.OffExpression, input, true); err != nil {
		s.logger.Error("device left on, off trigger not registered",
			zap.String("device_id", req.DeviceID),
			zap.String("trigger", res.OffTriggerName),
			zap.Error(err),
		)
		return res, multierr.Append(dispatchErr, err)
	}

	s.logger.Info("one-shot scheduled",
		zap.String("device_id", req.DeviceID),
		zap.Int("seconds", req.Seconds),
		zap.String("off", res.OffExpression),
	)
	return res, dispatchErr
}

func (s *Service) record(op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ScheduleOperation(op, metrics.ClassifyError(err))
}

// storeErr passes domain.ErrNotFound through and wraps anything else as a
// persistence failure.
func storeErr(err error, step string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, step, err)
}
