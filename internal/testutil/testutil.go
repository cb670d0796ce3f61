// Package testutil provides shared test helpers for easyswitch.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ObservedLogger returns a logger whose entries at debug level and above
// are captured for assertions.
func ObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// Weekdays parses day names and panics on error.
// Only for use in tests.
func Weekdays(names ...string) []domain.Weekday {
	out := make([]domain.Weekday, len(names))
	for i, n := range names {
		d, err := domain.ParseWeekday(n)
		if err != nil {
			panic("testutil.Weekdays: " + err.Error())
		}
		out[i] = d
	}
	return out
}

// TimeOfDay returns a pointer to hour:minute, for optional end times.
func TimeOfDay(hour, minute int) *domain.TimeOfDay {
	return &domain.TimeOfDay{Hour: hour, Minute: minute}
}
