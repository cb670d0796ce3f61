// Package postgres persists schedule records, the trigger table, firings
// and readings in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/dispatcher"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/reconciler"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/schedule"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/scheduler"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/trigger"
)

type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithOpTimeout bounds every query. Zero leaves the caller's deadline alone.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.db.PingContext(ctx)
}

// PutSchedule inserts or fully replaces a schedule record.
func (s *Store) PutSchedule(ctx context.Context, r domain.ScheduleRecord) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	weekdays := make([]string, len(r.Weekdays))
	for i, d := range r.Weekdays {
		weekdays[i] = d.String()
	}
	var endTime sql.NullString
	if r.EndTime != nil {
		endTime = sql.NullString{String: r.EndTime.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, queryPutSchedule,
		r.ID,
		r.DeviceID,
		r.Name,
		pq.Array(weekdays),
		r.StartTime.String(),
		endTime,
		r.Enabled,
		r.OnTriggerName,
		r.OffTriggerName,
		r.CreatedAt,
		r.UpdatedAt,
	)
	return err
}

// GetSchedule returns domain.ErrNotFound if no record has the id.
func (s *Store) GetSchedule(ctx context.Context, id string) (domain.ScheduleRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	r, err := scanSchedule(s.db.QueryRowContext(ctx, queryGetSchedule, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduleRecord{}, fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	return r, err
}

// DeleteSchedule is idempotent.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryDeleteSchedule, id)
	return err
}

func (s *Store) ListSchedulesByDevice(ctx context.Context, deviceID string) ([]domain.ScheduleRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListSchedulesByDevice, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ScheduleRecord
	for rows.Next() {
		r, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (domain.ScheduleRecord, error) {
	var (
		r         domain.ScheduleRecord
		weekdays  []string
		startTime string
		endTime   sql.NullString
	)
	err := row.Scan(
		&r.ID,
		&r.DeviceID,
		&r.Name,
		pq.Array(&weekdays),
		&startTime,
		&endTime,
		&r.Enabled,
		&r.OnTriggerName,
		&r.OffTriggerName,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return domain.ScheduleRecord{}, err
	}

	for _, w := range weekdays {
		d, err := domain.ParseWeekday(w)
		if err != nil {
			return domain.ScheduleRecord{}, fmt.Errorf("schedule %s: %w", r.ID, err)
		}
		r.Weekdays = append(r.Weekdays, d)
	}
	if r.StartTime, err = domain.ParseTimeOfDay(startTime); err != nil {
		return domain.ScheduleRecord{}, fmt.Errorf("schedule %s: %w", r.ID, err)
	}
	if endTime.Valid {
		end, err := domain.ParseTimeOfDay(endTime.String)
		if err != nil {
			return domain.ScheduleRecord{}, fmt.Errorf("schedule %s: %w", r.ID, err)
		}
		r.EndTime = &end
	}
	return r, nil
}

// InsertTrigger returns trigger.ErrTriggerExists if the name is taken.
func (s *Store) InsertTrigger(ctx context.Context, t domain.Trigger) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertTrigger,
		t.Name,
		t.Expression,
		t.Target.ActionRef,
		t.Target.RoleRef,
		t.Target.Input.DeviceID,
		string(t.Target.Input.Action),
		string(t.State),
		t.CreatedAt,
	)
	if isDuplicateKeyError(err) {
		return trigger.ErrTriggerExists
	}
	return err
}

// DeleteTrigger returns trigger.ErrTriggerNotFound if no trigger has the name.
func (s *Store) DeleteTrigger(ctx context.Context, name string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryDeleteTrigger, name)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return trigger.ErrTriggerNotFound
	}
	return nil
}

func (s *Store) TriggerExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var exists bool
	if err := s.db.QueryRowContext(ctx, queryTriggerExists, name).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) ListEnabledTriggers(ctx context.Context) ([]domain.Trigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEnabledTriggers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Trigger
	for rows.Next() {
		var t domain.Trigger
		var action, state string
		err := rows.Scan(
			&t.Name,
			&t.Expression,
			&t.Target.ActionRef,
			&t.Target.RoleRef,
			&t.Target.Input.DeviceID,
			&action,
			&state,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		t.Target.Input.Action = domain.TriggerAction(action)
		t.State = domain.TriggerState(state)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// InsertFiring returns scheduler.ErrDuplicateFiring if
// (trigger_name, scheduled_at) already exists.
func (s *Store) InsertFiring(ctx context.Context, f domain.Firing) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertFiring,
		f.ID,
		f.TriggerName,
		f.DeviceID,
		string(f.Action),
		f.ScheduledAt,
		f.FiredAt,
		string(f.Status),
		f.CreatedAt,
	)
	if isDuplicateKeyError(err) {
		return scheduler.ErrDuplicateFiring
	}
	return err
}

// UpdateFiringStatus returns dispatcher.ErrStatusTransitionDenied if the
// firing is already terminal. The guard lives in the WHERE clause so
// concurrent updates serialize on the row lock.
func (s *Store) UpdateFiringStatus(ctx context.Context, id uuid.UUID, status domain.FiringStatus, errMsg string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryUpdateFiringStatus, string(status), errMsg, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, queryGetFiringStatus, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("firing %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return dispatcher.ErrStatusTransitionDenied
}

// GetOrphanedFirings returns emitted firings created before olderThan,
// oldest first.
func (s *Store) GetOrphanedFirings(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Firing, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetOrphanedFirings, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Firing
	for rows.Next() {
		var f domain.Firing
		var action, status string
		err := rows.Scan(
			&f.ID,
			&f.TriggerName,
			&f.DeviceID,
			&action,
			&f.ScheduledAt,
			&f.FiredAt,
			&status,
			&f.Error,
			&f.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		f.Action = domain.TriggerAction(action)
		f.Status = domain.FiringStatus(status)
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) InsertObservation(ctx context.Context, obs domain.DeviceStateObservation) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertReading,
		obs.ID,
		obs.DeviceID,
		obs.Timestamp,
		string(obs.State),
		obs.Voltage,
		obs.Current,
		obs.Power,
	)
	return err
}

// isDuplicateKeyError reports a unique_violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

var (
	_ scheduler.Store          = (*Store)(nil)
	_ reconciler.Store         = (*Store)(nil)
	_ dispatcher.FiringStore   = (*Store)(nil)
	_ dispatcher.ReadingsStore = (*Store)(nil)
	_ trigger.Store            = (*Store)(nil)
	_ schedule.Store           = (*Store)(nil)
)
