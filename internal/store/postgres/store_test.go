package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/dispatcher"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/scheduler"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/trigger"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

var scheduleCols = []string{"id", "device_id", "name", "weekdays", "start_time", "end_time", "enabled", "on_trigger_name", "off_trigger_name", "created_at", "updated_at"}

var testTime = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestStore_PutSchedule(t *testing.T) {
	s, mock := newMockStore(t)
	end := domain.TimeOfDay{Hour: 18}
	rec := domain.ScheduleRecord{
		ID:             "sched-1",
		DeviceID:       "dev-1",
		Name:           "Office",
		Weekdays:       []domain.Weekday{domain.Monday, domain.Wednesday},
		StartTime:      domain.TimeOfDay{Hour: 8, Minute: 30},
		EndTime:        &end,
		Enabled:        true,
		OnTriggerName:  "turnOn-dev-1-a",
		OffTriggerName: "turnOff-dev-1-b",
		CreatedAt:      testTime,
		UpdatedAt:      testTime,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedules")).
		WithArgs("sched-1", "dev-1", "Office", sqlmock.AnyArg(), "08:30", "18:00", true,
			"turnOn-dev-1-a", "turnOff-dev-1-b", testTime, testTime).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.PutSchedule(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetSchedule(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedules")).
		WithArgs("sched-1").
		WillReturnRows(sqlmock.NewRows(scheduleCols).AddRow(
			"sched-1", "dev-1", "Office", []byte("{monday,wednesday}"), "08:30", "18:00", true,
			"turnOn-dev-1-a", "turnOff-dev-1-b", testTime, testTime,
		))

	rec, err := s.GetSchedule(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Weekday{domain.Monday, domain.Wednesday}, rec.Weekdays)
	assert.Equal(t, domain.TimeOfDay{Hour: 8, Minute: 30}, rec.StartTime)
	require.NotNil(t, rec.EndTime)
	assert.Equal(t, domain.TimeOfDay{Hour: 18}, *rec.EndTime)
	assert.Equal(t, []string{"turnOn-dev-1-a", "turnOff-dev-1-b"}, rec.TriggerNames())
}

func TestStore_GetSchedule_StartOnly(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedules")).
		WillReturnRows(sqlmock.NewRows(scheduleCols).AddRow(
			"sched-2", "dev-1", "Unnamed", []byte("{friday}"), "07:00", nil, false,
			"turnOn-dev-1-c", "", testTime, testTime,
		))

	rec, err := s.GetSchedule(context.Background(), "sched-2")
	require.NoError(t, err)
	assert.Nil(t, rec.EndTime)
	assert.False(t, rec.Enabled)
	assert.Equal(t, []string{"turnOn-dev-1-c"}, rec.TriggerNames())
}

func TestStore_GetSchedule_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedules")).
		WillReturnRows(sqlmock.NewRows(scheduleCols))

	_, err := s.GetSchedule(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_GetSchedule_CorruptWeekday(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedules")).
		WillReturnRows(sqlmock.NewRows(scheduleCols).AddRow(
			"sched-3", "dev-1", "x", []byte("{funday}"), "07:00", nil, true, "on", "", testTime, testTime,
		))

	_, err := s.GetSchedule(context.Background(), "sched-3")
	assert.Error(t, err)
}

func TestStore_DeleteSchedule(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules")).
		WithArgs("sched-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, s.DeleteSchedule(context.Background(), "sched-1"))
}

func TestStore_OpTimeout(t *testing.T) {
	s, mock := newMockStore(t)
	s.WithOpTimeout(10 * time.Millisecond)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules")).
		WithArgs("sched-1").
		WillDelayFor(time.Second).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.DeleteSchedule(context.Background(), "sched-1")
	assert.Error(t, err)
}

func TestStore_ListSchedulesByDevice(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE device_id = $1")).
		WithArgs("dev-1").
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("a", "dev-1", "A", []byte("{monday}"), "08:00", nil, true, "on-a", "", testTime, testTime).
			AddRow("b", "dev-1", "B", []byte("{tuesday}"), "09:00", "10:00", true, "on-b", "off-b", testTime, testTime))

	recs, err := s.ListSchedulesByDevice(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "off-b", recs[1].OffTriggerName)
}

func TestStore_InsertTrigger_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO triggers")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.InsertTrigger(context.Background(), domain.Trigger{Name: "turnOn-dev-1-a", State: domain.TriggerStateEnabled})
	assert.ErrorIs(t, err, trigger.ErrTriggerExists)
}

func TestStore_InsertTrigger_OtherError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO triggers")).
		WillReturnError(errors.New("connection reset"))

	err := s.InsertTrigger(context.Background(), domain.Trigger{Name: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, trigger.ErrTriggerExists)
}

func TestStore_DeleteTrigger(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM triggers")).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM triggers")).
		WithArgs("present").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.ErrorIs(t, s.DeleteTrigger(context.Background(), "gone"), trigger.ErrTriggerNotFound)
	assert.NoError(t, s.DeleteTrigger(context.Background(), "present"))
}

func TestStore_TriggerExists(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM triggers WHERE name = $1)")).
		WithArgs("turnOff-dev-1-gone").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM triggers WHERE name = $1)")).
		WithArgs("turnOn-dev-1-a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.TriggerExists(context.Background(), "turnOff-dev-1-gone")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = s.TriggerExists(context.Background(), "turnOn-dev-1-a")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_ListEnabledTriggers(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM triggers")).
		WillReturnRows(sqlmock.NewRows([]string{"name", "expression", "action_ref", "role_ref", "device_id", "action", "state", "created_at"}).
			AddRow("turnOn-dev-1-a", "cron(30 8 ? * MON *)", "arn:on", "arn:role", "dev-1", "turnOn", "ENABLED", testTime))

	triggers, err := s.ListEnabledTriggers(context.Background())
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, domain.ActionTurnOn, triggers[0].Target.Input.Action)
	assert.Equal(t, domain.TriggerStateEnabled, triggers[0].State)
	assert.Equal(t, "arn:on", triggers[0].Target.ActionRef)
}

func TestStore_InsertFiring_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO firings")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.InsertFiring(context.Background(), domain.Firing{ID: uuid.New(), Status: domain.FiringStatusEmitted})
	assert.ErrorIs(t, err, scheduler.ErrDuplicateFiring)
}

func TestStore_UpdateFiringStatus(t *testing.T) {
	id := uuid.New()

	t.Run("updated", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE firings")).
			WithArgs("delivered", "", id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, s.UpdateFiringStatus(context.Background(), id, domain.FiringStatusDelivered, ""))
	})

	t.Run("terminal", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE firings")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM firings")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("delivered"))
		err := s.UpdateFiringStatus(context.Background(), id, domain.FiringStatusFailed, "boom")
		assert.ErrorIs(t, err, dispatcher.ErrStatusTransitionDenied)
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE firings")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM firings")).
			WillReturnError(sql.ErrNoRows)
		err := s.UpdateFiringStatus(context.Background(), id, domain.FiringStatusFailed, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestStore_GetOrphanedFirings(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	cutoff := testTime.Add(-10 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'emitted'")).
		WithArgs(cutoff, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "trigger_name", "device_id", "action", "scheduled_at", "fired_at", "status", "error", "created_at"}).
			AddRow(id.String(), "turnOff-dev-1-b", "dev-1", "turnOff", testTime, testTime, "emitted", "", testTime))

	firings, err := s.GetOrphanedFirings(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, id, firings[0].ID)
	assert.Equal(t, domain.ActionTurnOff, firings[0].Action)
	assert.Equal(t, domain.FiringStatusEmitted, firings[0].Status)
}

func TestStore_InsertObservation(t *testing.T) {
	s, mock := newMockStore(t)
	obs := domain.DeviceStateObservation{ID: uuid.New(), DeviceID: "dev-1", Timestamp: testTime, State: domain.CommandOn}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO readings")).
		WithArgs(obs.ID, "dev-1", testTime, "ON", 0.0, 0.0, 0.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.InsertObservation(context.Background(), obs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schedules")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
