package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg, zap.NewNop())
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg, zap.NewNop())
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_TickStarted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TickStarted()
	sink.TickStarted()

	val := getCounterValue(t, reg, "easyswitch_scheduler_ticks_total")
	if val != 2 {
		t.Errorf("ticks_total = %v, want 2", val)
	}
}

func TestPrometheusSink_TickCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TickCompleted(100*time.Millisecond, 3, nil)
	if v := getCounterValue(t, reg, "easyswitch_scheduler_tick_errors_total"); v != 0 {
		t.Errorf("tick_errors_total = %v after success, want 0", v)
	}
	if v := getCounterValue(t, reg, "easyswitch_scheduler_triggers_fired_total"); v != 3 {
		t.Errorf("triggers_fired_total = %v, want 3", v)
	}

	sink.TickCompleted(100*time.Millisecond, 0, errors.New("db error"))
	if v := getCounterValue(t, reg, "easyswitch_scheduler_tick_errors_total"); v != 1 {
		t.Errorf("tick_errors_total = %v after error, want 1", v)
	}
}

func TestPrometheusSink_CommandDispatched(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.CommandDispatched(domain.CommandOn, ClassOK, 10*time.Millisecond)
	sink.CommandDispatched(domain.CommandOn, ClassOK, 10*time.Millisecond)
	sink.CommandDispatched(domain.CommandOff, ClassChannel, 5*time.Millisecond)

	on := getCounterVecValue(t, reg, "easyswitch_dispatcher_commands_total",
		map[string]string{"command": "ON", "outcome": "ok"})
	if on != 2 {
		t.Errorf("command=ON,outcome=ok = %v, want 2", on)
	}
	off := getCounterVecValue(t, reg, "easyswitch_dispatcher_commands_total",
		map[string]string{"command": "OFF", "outcome": "channel"})
	if off != 1 {
		t.Errorf("command=OFF,outcome=channel = %v, want 1", off)
	}
}

func TestPrometheusSink_Operations(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TriggerOperation("register", ClassConflict)
	sink.ScheduleOperation("delete", ClassNotFound)
	sink.ScheduleOperation("delete", ClassNotFound)

	if v := getCounterVecValue(t, reg, "easyswitch_trigger_operations_total",
		map[string]string{"op": "register", "outcome": "conflict"}); v != 1 {
		t.Errorf("trigger op = %v, want 1", v)
	}
	if v := getCounterVecValue(t, reg, "easyswitch_schedule_operations_total",
		map[string]string{"op": "delete", "outcome": "not_found"}); v != 2 {
		t.Errorf("schedule op = %v, want 2", v)
	}
}

func TestPrometheusSink_FiringOutcome(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.FiringOutcome(OutcomeDelivered)
	sink.FiringOutcome(OutcomeCircuitOpen)

	if v := getCounterVecValue(t, reg, "easyswitch_worker_firing_outcomes_total",
		map[string]string{"outcome": "circuit_open"}); v != 1 {
		t.Errorf("outcome=circuit_open = %v, want 1", v)
	}
}

func TestPrometheusSink_Gauges(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.EventsInFlightIncr()
	sink.EventsInFlightIncr()
	sink.EventsInFlightDecr()
	sink.BufferCapacitySet(100)
	sink.BufferSizeUpdate(42)
	sink.BufferSaturationUpdate(0.42)
	sink.OrphanedFiringsUpdate(7)
	sink.LeaderStatus(true)

	tests := []struct {
		name string
		want float64
	}{
		{"easyswitch_worker_events_in_flight", 1},
		{"easyswitch_eventbus_buffer_capacity", 100},
		{"easyswitch_eventbus_buffer_size", 42},
		{"easyswitch_eventbus_buffer_saturation", 0.42},
		{"easyswitch_reconciler_orphaned_firings", 7},
		{"easyswitch_leader", 1},
	}
	for _, tt := range tests {
		if got := getGaugeValue(t, reg, tt.name); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	reg := prometheus.NewRegistry()

	if NewPrometheusSink(reg, zap.NewNop()) == nil {
		t.Fatal("first NewPrometheusSink returned nil")
	}
	if NewPrometheusSink(reg, zap.NewNop()) == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
}

var _ Sink = (*PrometheusSink)(nil)
