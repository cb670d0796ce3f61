package channel

import (
	"context"
	"errors"
	"time"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

// ErrBufferFull is returned when no buffer space frees up within the emit timeout.
var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink is the subset of metrics.Sink used by the bus.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

// EventBus is an in-memory fire-event queue between the trigger scheduler
// and the firing worker. Events lost on process exit are recovered by the
// reconciler.
type EventBus struct {
	ch          chan domain.FireEvent
	emitTimeout time.Duration
	metrics     MetricsSink
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = m
	}
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.FireEvent, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

func (b *EventBus) Emit(ctx context.Context, event domain.FireEvent) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.recordSize()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.FireEvent {
	return b.ch
}

func (b *EventBus) recordSize() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if c := cap(b.ch); c > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(c))
	}
}
