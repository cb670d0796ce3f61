// Package leaderelection elects a single scheduling leader with a Postgres
// session-scoped advisory lock.
//
// The lock lives as long as the dedicated connection holding it. There is no
// TTL; the heartbeat ping only detects local connection death so the leader
// can step down promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"time"

	"go.uber.org/zap"
)

// Reasons reported when leadership ends.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

const unlockTimeout = 2 * time.Second

type MetricsSink interface {
	LeaderStatus(isLeader bool)
}

type Config struct {
	LockKey           int64
	RetryInterval     time.Duration // follower acquisition attempts
	HeartbeatInterval time.Duration // leader connection pings
}

type Elector struct {
	db        *sql.DB
	config    Config
	onElected func(ctx context.Context)
	onDemoted func()
	metrics   MetricsSink
	logger    *zap.Logger
}

// New creates an Elector.
//
// onElected runs in its own goroutine once the lock is acquired; its context
// is cancelled when leadership ends and the lock is not released until it
// returns. onDemoted is called after that. It must be idempotent.
func New(db *sql.DB, config Config, onElected func(ctx context.Context), onDemoted func(), logger *zap.Logger) *Elector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Elector{
		db:        db,
		config:    config,
		onElected: onElected,
		onDemoted: onDemoted,
		logger:    logger.Named("leader").With(zap.Int64("lock_key", config.LockKey)),
	}
}

func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info("election loop started",
		zap.Duration("retry", e.config.RetryInterval),
		zap.Duration("heartbeat", e.config.HeartbeatInterval),
	)

	for {
		reason := e.runOnce(ctx)
		if ctx.Err() != nil {
			e.logger.Info("election loop stopped")
			return
		}
		if reason != "" {
			e.logger.Warn("lost leadership", zap.String("reason", reason), zap.Duration("retry_in", e.config.RetryInterval))
		}

		select {
		case <-ctx.Done():
			e.logger.Info("election loop stopped")
			return
		case <-time.After(e.config.RetryInterval):
		}
	}
}

// runOnce tries the lock once and holds it until lost. It returns the
// reason leadership ended, or "" if the lock was not acquired.
func (e *Elector) runOnce(ctx context.Context) string {
	if ctx.Err() != nil {
		return ""
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.logger.Error("dedicated connection failed", zap.Error(err))
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.config.LockKey).Scan(&acquired); err != nil {
		e.logger.Error("advisory lock query failed", zap.Error(err))
		return ""
	}
	if !acquired {
		e.logger.Debug("lock held by another instance")
		return ""
	}

	e.logger.Info("acquired advisory lock")
	if e.metrics != nil {
		e.metrics.LeaderStatus(true)
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.onElected(leaderCtx)
	}()

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	<-done
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatus(false)
	}
	if e.releaseLock(conn) {
		e.logger.Info("released advisory lock", zap.String("reason", reason))
	} else {
		e.logger.Warn("advisory lock released by discarding connection", zap.String("reason", reason))
	}
	return reason
}

// releaseLock unlocks before conn.Close hands the session back to the pool,
// where a held lock would outlive leadership. If the unlock fails the
// session is discarded instead. The caller's context is usually cancelled by
// now, so it uses its own.
func (e *Elector) releaseLock(conn *sql.Conn) bool {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", e.config.LockKey).Scan(&released); err != nil {
		e.logger.Warn("advisory unlock failed", zap.Error(err))
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		return false
	}
	if !released {
		e.logger.Warn("advisory lock was not held at unlock")
	}
	return true
}

func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.logger.Error("dedicated connection ping failed", zap.Error(err))
				return ReasonConnLost
			}
		}
	}
}
