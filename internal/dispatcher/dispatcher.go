// Package dispatcher sends device commands and processes trigger firings.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

const analyticsTimeout = 2 * time.Second

// Publisher sends a command on the device's control channel.
// Delivery to the device is the channel's responsibility.
type Publisher interface {
	Publish(ctx context.Context, deviceID string, cmd domain.Command) error
}

// ReadingsStore appends device state observations.
type ReadingsStore interface {
	InsertObservation(ctx context.Context, obs domain.DeviceStateObservation) error
}

// AnalyticsSink counts dispatched commands. Implementations handle their
// own errors; analytics never affects dispatch results.
type AnalyticsSink interface {
	RecordCommand(ctx context.Context, deviceID string, cmd domain.Command, at time.Time)
}

// MetricsSink defines the interface for recording command metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	CommandDispatched(cmd domain.Command, outcome string, duration time.Duration)
}

// Ack confirms a published command and the observation written for it.
type Ack struct {
	DeviceID      string
	Command       domain.Command
	ObservationID uuid.UUID
	Timestamp     time.Time
}

type Dispatcher struct {
	publisher Publisher
	readings  ReadingsStore
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	logger    *zap.Logger
	clock     func() time.Time
	newID     func() uuid.UUID
}

func New(publisher Publisher, readings ReadingsStore, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		publisher: publisher,
		readings:  readings,
		logger:    logger.Named("dispatcher"),
		clock:     time.Now,
		newID:     uuid.New,
	}
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Dispatch publishes cmd to the device, then appends one observation with
// the requested state and zeroed measurements.
//
// A failed publish returns domain.ErrChannel and writes nothing. A failed
// observation write returns domain.ErrPersistence together with a populated
// Ack, since the command has already been sent.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, cmd domain.Command) (Ack, error) {
	if strings.TrimSpace(deviceID) == "" {
		return Ack{}, fmt.Errorf("%w: device id is required", domain.ErrValidation)
	}
	if cmd != domain.CommandOn && cmd != domain.CommandOff {
		return Ack{}, fmt.Errorf("%w: command must be ON or OFF, got %q", domain.ErrValidation, cmd)
	}

	start := d.clock()

	if err := d.publisher.Publish(ctx, deviceID, cmd); err != nil {
		err = fmt.Errorf("%w: publish %s to %s: %w", domain.ErrChannel, cmd, deviceID, err)
		d.logger.Warn("publish failed",
			zap.String("device_id", deviceID),
			zap.String("command", string(cmd)),
			zap.Error(err),
		)
		d.record(cmd, "channel", start)
		return Ack{}, err
	}

	obs := domain.DeviceStateObservation{
		ID:        d.newID(),
		DeviceID:  deviceID,
		Timestamp: start.UTC(),
		State:     cmd,
	}
	ack := Ack{
		DeviceID:      deviceID,
		Command:       cmd,
		ObservationID: obs.ID,
		Timestamp:     obs.Timestamp,
	}

	err := d.readings.InsertObservation(ctx, obs)
	d.recordAnalytics(ctx, deviceID, cmd, obs.Timestamp)
	if err != nil {
		err = fmt.Errorf("%w: record %s observation for %s: %w", domain.ErrPersistence, cmd, deviceID, err)
		d.logger.Error("command sent but observation not recorded",
			zap.String("device_id", deviceID),
			zap.String("command", string(cmd)),
			zap.Error(err),
		)
		d.record(cmd, "persistence", start)
		return ack, err
	}

	d.logger.Info("command dispatched",
		zap.String("device_id", deviceID),
		zap.String("command", string(cmd)),
		zap.Stringer("observation_id", obs.ID),
	)
	d.record(cmd, "ok", start)
	return ack, nil
}

// recordAnalytics runs after the observation write and is bounded by
// analyticsTimeout, so a slow sink delays only the return of Dispatch.
func (d *Dispatcher) recordAnalytics(ctx context.Context, deviceID string, cmd domain.Command, at time.Time) {
	if d.analytics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), analyticsTimeout)
	defer cancel()
	d.analytics.RecordCommand(ctx, deviceID, cmd, at)
}

func (d *Dispatcher) record(cmd domain.Command, outcome string, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.CommandDispatched(cmd, outcome, d.clock().Sub(start))
}
