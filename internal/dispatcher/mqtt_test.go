package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// fakeToken completes immediately with err, or never when pending is set.
type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, pending bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if !pending {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type publishCall struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

type fakeMQTTClient struct {
	mu       sync.Mutex
	calls    []publishCall
	err      error
	pending  bool
	closedMs uint
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, publishCall{topic, qos, retained, payload.([]byte)})
	return newFakeToken(c.err, c.pending)
}

func (c *fakeMQTTClient) IsConnectionOpen() bool { return true }

func (c *fakeMQTTClient) Disconnect(quiesce uint) { c.closedMs = quiesce }

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeMQTTClient{}
	p := newMQTTPublisher(client, "devices/{device_id}/commands", time.Second, nil)

	if err := p.Publish(context.Background(), "fan1", domain.CommandOn); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(client.calls) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(client.calls))
	}
	call := client.calls[0]
	if call.Topic != "devices/fan1/commands" {
		t.Errorf("topic = %q", call.Topic)
	}
	if call.QoS != 1 {
		t.Errorf("qos = %d, want 1", call.QoS)
	}
	if call.Retained {
		t.Error("commands must not be retained")
	}

	var payload map[string]string
	if err := json.Unmarshal(call.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(payload) != 1 || payload["command"] != "ON" {
		t.Errorf("payload = %s", call.Payload)
	}
}

func TestMQTTPublisher_FixedTopic(t *testing.T) {
	client := &fakeMQTTClient{}
	p := newMQTTPublisher(client, "esp32/commands", time.Second, nil)

	p.Publish(context.Background(), "fan1", domain.CommandOff)
	if client.calls[0].Topic != "esp32/commands" {
		t.Errorf("topic = %q", client.calls[0].Topic)
	}
}

func TestMQTTPublisher_BrokerError(t *testing.T) {
	client := &fakeMQTTClient{err: errors.New("not connected")}
	p := newMQTTPublisher(client, "devices/{device_id}/commands", time.Second, nil)

	if err := p.Publish(context.Background(), "fan1", domain.CommandOn); err == nil {
		t.Fatal("expected error")
	}
}

func TestMQTTPublisher_Timeout(t *testing.T) {
	client := &fakeMQTTClient{pending: true}
	p := newMQTTPublisher(client, "devices/{device_id}/commands", 20*time.Millisecond, nil)

	start := time.Now()
	err := p.Publish(context.Background(), "fan1", domain.CommandOn)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("publish took %v, should stop at the timeout", time.Since(start))
	}
}

func TestMQTTPublisher_ContextCancelled(t *testing.T) {
	client := &fakeMQTTClient{pending: true}
	p := newMQTTPublisher(client, "devices/{device_id}/commands", time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Publish(ctx, "fan1", domain.CommandOn)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMQTTPublisher_WithDispatcher_ChannelError(t *testing.T) {
	client := &fakeMQTTClient{err: errors.New("connection lost")}
	p := newMQTTPublisher(client, "devices/{device_id}/commands", time.Second, nil)
	readings := &mockReadings{}

	_, err := New(p, readings, nil).Dispatch(context.Background(), "fan1", domain.CommandOff)
	if !errors.Is(err, domain.ErrChannel) {
		t.Fatalf("err = %v, want ErrChannel", err)
	}
	if readings.count() != 0 {
		t.Error("no observation expected after failed publish")
	}
}

func TestMQTTPublisher_Close(t *testing.T) {
	client := &fakeMQTTClient{}
	p := newMQTTPublisher(client, "t", time.Second, nil)
	p.Close()
	if client.closedMs != 250 {
		t.Errorf("quiesce = %d, want 250", client.closedMs)
	}
}

func TestCommandTopic(t *testing.T) {
	if got := CommandTopic("home/{device_id}/set/{device_id}", "x"); got != "home/x/set/x" {
		t.Errorf("CommandTopic = %q", got)
	}
}
