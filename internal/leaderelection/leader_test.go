package leaderelection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/testutil"
)

type recordingMetrics struct {
	mu       sync.Mutex
	statuses []bool
}

func (m *recordingMetrics) LeaderStatus(isLeader bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, isLeader)
}

func testConfig() Config {
	return Config{LockKey: 42, RetryInterval: 10 * time.Millisecond, HeartbeatInterval: time.Hour}
}

func TestElector_LockHeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	elected := false
	e := New(db, testConfig(), func(context.Context) { elected = true }, func() {}, nil)

	reason := e.runOnce(context.Background())

	assert.Equal(t, "", reason)
	assert.False(t, elected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestElector_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).WillReturnError(errors.New("boom"))

	e := New(db, testConfig(), func(context.Context) {}, func() {}, nil)
	assert.Equal(t, "", e.runOnce(context.Background()))
}

func TestElector_AcquireThenShutdown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	ctx, cancel := context.WithCancel(context.Background())
	leaderCtxDone := make(chan struct{})
	demoted := false
	metrics := &recordingMetrics{}

	e := New(db, testConfig(), func(lctx context.Context) {
		cancel()
		<-lctx.Done()
		close(leaderCtxDone)
	}, func() { demoted = true }, nil).WithMetrics(metrics)

	reason := e.runOnce(ctx)

	assert.Equal(t, ReasonShutdown, reason)
	assert.True(t, demoted)
	select {
	case <-leaderCtxDone:
	default:
		t.Fatal("runOnce returned before leader duties stopped")
	}
	metrics.mu.Lock()
	assert.Equal(t, []bool{true, false}, metrics.statuses)
	metrics.mu.Unlock()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestElector_UnlockFailureStillDemotes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery(`SELECT pg_advisory_unlock`).WillReturnError(errors.New("connection reset"))

	logger, logs := testutil.ObservedLogger()
	ctx, cancel := context.WithCancel(context.Background())
	demoted := false
	e := New(db, testConfig(), func(lctx context.Context) {
		cancel()
		<-lctx.Done()
	}, func() { demoted = true }, logger)

	reason := e.runOnce(ctx)

	assert.Equal(t, ReasonShutdown, reason)
	assert.True(t, demoted)
	assert.Equal(t, 1, logs.FilterMessage("advisory unlock failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("advisory lock released by discarding connection").Len())
	assert.Equal(t, 0, logs.FilterMessage("released advisory lock").Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestElector_RunStopsOnCancel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e := New(db, testConfig(), func(context.Context) {}, func() {}, nil)
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
