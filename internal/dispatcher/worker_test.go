package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/circuitbreaker"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// mockFiringStore tracks firing status transitions and enforces terminal state guards.
type mockFiringStore struct {
	mu      sync.Mutex
	status  map[uuid.UUID]domain.FiringStatus
	errMsg  map[uuid.UUID]string
	updates []statusUpdate
}

type statusUpdate struct {
	FiringID uuid.UUID
	Status   domain.FiringStatus
	Denied   bool
}

func newMockFiringStore() *mockFiringStore {
	return &mockFiringStore{
		status: make(map[uuid.UUID]domain.FiringStatus),
		errMsg: make(map[uuid.UUID]string),
	}
}

func (s *mockFiringStore) UpdateFiringStatus(ctx context.Context, id uuid.UUID, status domain.FiringStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.status[id]
	if current == domain.FiringStatusDelivered || current == domain.FiringStatusFailed {
		s.updates = append(s.updates, statusUpdate{id, status, true})
		return ErrStatusTransitionDenied
	}
	s.status[id] = status
	s.errMsg[id] = errMsg
	s.updates = append(s.updates, statusUpdate{id, status, false})
	return nil
}

func (s *mockFiringStore) get(id uuid.UUID) domain.FiringStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

// mockSender returns queued results, then success.
type mockSender struct {
	mu      sync.Mutex
	results []error
	calls   []published
}

func (s *mockSender) Dispatch(ctx context.Context, deviceID string, cmd domain.Command) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, published{deviceID, cmd})
	if len(s.results) > 0 {
		err := s.results[0]
		s.results = s.results[1:]
		return Ack{DeviceID: deviceID, Command: cmd}, err
	}
	return Ack{DeviceID: deviceID, Command: cmd}, nil
}

func (s *mockSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type mockWorkerMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	inFlight  int
	latencies []float64
}

func (m *mockWorkerMetrics) FiringOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockWorkerMetrics) EventsInFlightIncr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
}

func (m *mockWorkerMetrics) EventsInFlightDecr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

func (m *mockWorkerMetrics) FiringLatencyObserve(latencySeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, latencySeconds)
}

func newFireEvent(action domain.TriggerAction) domain.FireEvent {
	scheduled := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	return domain.FireEvent{
		FiringID:    uuid.New(),
		TriggerName: fmt.Sprintf("%s-fan1-%s", action, uuid.NewString()),
		DeviceID:    "fan1",
		Action:      action,
		ScheduledAt: scheduled,
		FiredAt:     scheduled.Add(2 * time.Second),
		CreatedAt:   scheduled.Add(2 * time.Second),
	}
}

func TestWorker_Handle_Delivered(t *testing.T) {
	store := newMockFiringStore()
	sender := &mockSender{}
	metrics := &mockWorkerMetrics{}
	now := time.Date(2024, 1, 15, 18, 0, 3, 0, time.UTC)
	w := NewWorker(store, sender, nil).WithMetrics(metrics).WithClock(func() time.Time { return now })

	event := newFireEvent(domain.ActionTurnOff)
	if err := w.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if sender.calls[0] != (published{"fan1", domain.CommandOff}) {
		t.Errorf("dispatched %+v, want fan1 OFF", sender.calls[0])
	}
	if store.get(event.FiringID) != domain.FiringStatusDelivered {
		t.Errorf("status = %q, want delivered", store.get(event.FiringID))
	}
	if metrics.outcomes[0] != "delivered" {
		t.Errorf("outcome = %v", metrics.outcomes)
	}
	if metrics.inFlight != 0 {
		t.Errorf("inFlight = %d, want 0", metrics.inFlight)
	}
	if len(metrics.latencies) != 1 || metrics.latencies[0] != 3 {
		t.Errorf("latencies = %v, want [3]", metrics.latencies)
	}
}

func TestWorker_Handle_ChannelErrorMarksFailed_NoRetry(t *testing.T) {
	store := newMockFiringStore()
	sender := &mockSender{results: []error{fmt.Errorf("%w: broker down", domain.ErrChannel)}}
	w := NewWorker(store, sender, nil)

	event := newFireEvent(domain.ActionTurnOn)
	if err := w.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if sender.callCount() != 1 {
		t.Errorf("dispatch calls = %d, want exactly 1", sender.callCount())
	}
	if store.get(event.FiringID) != domain.FiringStatusFailed {
		t.Errorf("status = %q, want failed", store.get(event.FiringID))
	}
	if store.errMsg[event.FiringID] == "" {
		t.Error("failure reason should be recorded")
	}
}

func TestWorker_Handle_PersistenceErrorStillDelivered(t *testing.T) {
	store := newMockFiringStore()
	sender := &mockSender{results: []error{fmt.Errorf("%w: readings down", domain.ErrPersistence)}}
	w := NewWorker(store, sender, nil)

	event := newFireEvent(domain.ActionTurnOn)
	if err := w.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if store.get(event.FiringID) != domain.FiringStatusDelivered {
		t.Errorf("status = %q, want delivered", store.get(event.FiringID))
	}
}

func TestWorker_TerminalState_CannotRegress(t *testing.T) {
	tests := []domain.FiringStatus{domain.FiringStatusDelivered, domain.FiringStatusFailed}
	for _, initial := range tests {
		t.Run(string(initial), func(t *testing.T) {
			store := newMockFiringStore()
			w := NewWorker(store, &mockSender{}, nil)

			event := newFireEvent(domain.ActionTurnOn)
			store.status[event.FiringID] = initial

			if err := w.Handle(context.Background(), event); err != nil {
				t.Fatalf("Handle should succeed on replay: %v", err)
			}
			if store.get(event.FiringID) != initial {
				t.Errorf("status = %q, want %q", store.get(event.FiringID), initial)
			}
			if len(store.updates) != 1 || !store.updates[0].Denied {
				t.Errorf("expected one denied update, got %+v", store.updates)
			}
		})
	}
}

func TestWorker_StoreError_Propagates(t *testing.T) {
	store := &failingFiringStore{err: errors.New("db down")}
	w := NewWorker(store, &mockSender{}, nil)

	if err := w.Handle(context.Background(), newFireEvent(domain.ActionTurnOn)); err == nil {
		t.Fatal("expected status update error")
	}
}

type failingFiringStore struct{ err error }

func (s *failingFiringStore) UpdateFiringStatus(context.Context, uuid.UUID, domain.FiringStatus, string) error {
	return s.err
}

func TestWorker_CircuitBreaker(t *testing.T) {
	store := newMockFiringStore()
	channelErr := fmt.Errorf("%w: timeout", domain.ErrChannel)
	sender := &mockSender{results: []error{channelErr, channelErr}}
	metrics := &mockWorkerMetrics{}
	breaker := circuitbreaker.New(2, time.Hour)
	w := NewWorker(store, sender, nil).WithCircuitBreaker(breaker).WithMetrics(metrics)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		w.Handle(ctx, newFireEvent(domain.ActionTurnOn))
	}

	skipped := newFireEvent(domain.ActionTurnOn)
	if err := w.Handle(ctx, skipped); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if sender.callCount() != 2 {
		t.Errorf("dispatch calls = %d, want 2 (third blocked)", sender.callCount())
	}
	if store.get(skipped.FiringID) != domain.FiringStatusFailed {
		t.Errorf("blocked firing status = %q, want failed", store.get(skipped.FiringID))
	}
	if metrics.outcomes[2] != "circuit_open" {
		t.Errorf("outcomes = %v", metrics.outcomes)
	}

	// other devices are unaffected
	other := newFireEvent(domain.ActionTurnOn)
	other.DeviceID = "lamp2"
	w.Handle(ctx, other)
	if sender.callCount() != 3 {
		t.Errorf("lamp2 should be dispatched, calls = %d", sender.callCount())
	}
}

func TestWorker_Run_DrainsOnShutdown(t *testing.T) {
	store := newMockFiringStore()
	sender := &mockSender{}
	w := NewWorker(store, sender, nil).WithDrainTimeout(time.Second)

	ch := make(chan domain.FireEvent, 5)
	for i := 0; i < 3; i++ {
		ch <- newFireEvent(domain.ActionTurnOn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if sender.callCount() != 3 {
		t.Errorf("processed %d events, want 3", sender.callCount())
	}
}

func TestWorker_Run_ProcessesEvents(t *testing.T) {
	store := newMockFiringStore()
	sender := &mockSender{}
	w := NewWorker(store, sender, nil)

	ch := make(chan domain.FireEvent)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, ch)
		close(done)
	}()

	ch <- newFireEvent(domain.ActionTurnOn)
	ch <- newFireEvent(domain.ActionTurnOff)
	cancel()
	<-done

	if sender.callCount() != 2 {
		t.Errorf("processed %d events, want 2", sender.callCount())
	}
}
