// Package circuitbreaker stops command dispatch to devices whose command
// path keeps failing, then lets a single probe through after a cooldown.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type deviceState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks consecutive failures per device ID.
type CircuitBreaker struct {
	mu        sync.Mutex
	devices   map[string]*deviceState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

type Option func(*CircuitBreaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

func New(threshold int, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		devices:   make(map[string]*deviceState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow returns ErrCircuitOpen while the device's circuit is open, or while
// a half-open probe is outstanding.
func (cb *CircuitBreaker) Allow(deviceID string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.devices[deviceID]
	if !ok {
		return nil
	}

	switch s.state {
	case StateOpen:
		if cb.now().Sub(s.openedAt) >= cb.cooldown {
			s.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(deviceID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// closed devices are not tracked
	delete(cb.devices, deviceID)
}

func (cb *CircuitBreaker) RecordFailure(deviceID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.devices[deviceID]
	if !ok {
		s = &deviceState{}
		cb.devices[deviceID] = s
	}

	s.consecutiveFailures++
	if s.state == StateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = StateOpen
		s.openedAt = cb.now()
	}
}

// State reports the device's circuit state without changing it.
func (cb *CircuitBreaker) State(deviceID string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.devices[deviceID]; ok {
		return s.state
	}
	return StateClosed
}
