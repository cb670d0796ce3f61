package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Trigger scheduler
	ticksTotal         prometheus.Counter
	tickErrorsTotal    prometheus.Counter
	triggersFiredTotal prometheus.Counter
	tickDuration       prometheus.Histogram
	tickDrift          prometheus.Histogram

	// Firing worker
	firingOutcomesTotal *prometheus.CounterVec
	eventsInFlight      prometheus.Gauge

	// Command dispatcher
	commandsTotal   *prometheus.CounterVec
	commandDuration prometheus.Histogram

	// Registry and orchestrator
	triggerOpsTotal  *prometheus.CounterVec
	scheduleOpsTotal *prometheus.CounterVec

	// EventBus
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Reconciler
	orphanedFirings prometheus.Gauge
	firingLatency   prometheus.Histogram

	isLeader prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register keep working but are not exported.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{logger: logger.Named("metrics")}
	s.initSchedulerMetrics(reg)
	s.initWorkerMetrics(reg)
	s.initOperationMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initReconcilerMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyswitch_scheduler_ticks_total",
		Help: "Total number of trigger scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyswitch_scheduler_tick_errors_total",
		Help: "Total number of trigger scheduler tick errors.",
	})
	s.triggersFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyswitch_scheduler_triggers_fired_total",
		Help: "Total number of trigger firings emitted.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyswitch_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyswitch_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "easyswitch_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "easyswitch_scheduler_tick_errors_total")
	s.register(reg, s.triggersFiredTotal, "easyswitch_scheduler_triggers_fired_total")
	s.register(reg, s.tickDuration, "easyswitch_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "easyswitch_scheduler_tick_drift_seconds")
}

func (s *PrometheusSink) initWorkerMetrics(reg prometheus.Registerer) {
	s.firingOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyswitch_worker_firing_outcomes_total",
		Help: "Final outcome per trigger firing.",
	}, []string{"outcome"})
	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyswitch_worker_events_in_flight",
		Help: "Number of fire events currently being processed.",
	})
	s.commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyswitch_dispatcher_commands_total",
		Help: "Device commands dispatched, by command and outcome.",
	}, []string{"command", "outcome"})
	s.commandDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyswitch_dispatcher_command_duration_seconds",
		Help:    "Publish plus observation write latency in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	s.register(reg, s.firingOutcomesTotal, "easyswitch_worker_firing_outcomes_total")
	s.register(reg, s.eventsInFlight, "easyswitch_worker_events_in_flight")
	s.register(reg, s.commandsTotal, "easyswitch_dispatcher_commands_total")
	s.register(reg, s.commandDuration, "easyswitch_dispatcher_command_duration_seconds")
}

func (s *PrometheusSink) initOperationMetrics(reg prometheus.Registerer) {
	s.triggerOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyswitch_trigger_operations_total",
		Help: "Trigger registry operations, by operation and outcome.",
	}, []string{"op", "outcome"})
	s.scheduleOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyswitch_schedule_operations_total",
		Help: "Schedule orchestrator operations, by operation and outcome.",
	}, []string{"op", "outcome"})
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyswitch_leader",
		Help: "1 if this instance holds the scheduler leader lock.",
	})

	s.register(reg, s.triggerOpsTotal, "easyswitch_trigger_operations_total")
	s.register(reg, s.scheduleOpsTotal, "easyswitch_schedule_operations_total")
	s.register(reg, s.isLeader, "easyswitch_leader")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyswitch_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyswitch_eventbus_buffer_capacity",
		Help: "Configured capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyswitch_eventbus_buffer_saturation",
		Help: "Buffer size divided by capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyswitch_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "easyswitch_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "easyswitch_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "easyswitch_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "easyswitch_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.orphanedFirings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyswitch_reconciler_orphaned_firings",
		Help: "Firings found stuck in emitted status on the last sweep.",
	})
	s.firingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyswitch_firing_latency_seconds",
		Help:    "Time from scheduled fire time to command dispatch.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	s.register(reg, s.orphanedFirings, "easyswitch_reconciler_orphaned_firings")
	s.register(reg, s.firingLatency, "easyswitch_firing_latency_seconds")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", zap.String("metric", name), zap.Error(err))
	}
}

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, triggersFired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.triggersFiredTotal.Add(float64(triggersFired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) FiringOutcome(outcome string) {
	s.firingOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

func (s *PrometheusSink) CommandDispatched(command domain.Command, outcome string, duration time.Duration) {
	s.commandsTotal.WithLabelValues(string(command), outcome).Inc()
	s.commandDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) TriggerOperation(op, outcome string) {
	s.triggerOpsTotal.WithLabelValues(op, outcome).Inc()
}

func (s *PrometheusSink) ScheduleOperation(op, outcome string) {
	s.scheduleOpsTotal.WithLabelValues(op, outcome).Inc()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) OrphanedFiringsUpdate(count int) {
	s.orphanedFirings.Set(float64(count))
}

func (s *PrometheusSink) FiringLatencyObserve(latencySeconds float64) {
	s.firingLatency.Observe(latencySeconds)
}

func (s *PrometheusSink) LeaderStatus(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}
