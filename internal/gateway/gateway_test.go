package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ─── Mock MQTT client ───────────────────────────────────────────────────────

type mockMQTT struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]func(topic string, payload []byte) error
}

type publishedMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{handlers: make(map[string]func(string, []byte) error)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{topic, payload, qos, retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler func(string, []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

// deliver simulates a broker message arriving on a subscribed wildcard.
func (m *mockMQTT) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	handler := m.handlers[defaultStatePrefix+"#"]
	m.mu.Unlock()
	if handler == nil {
		t.Fatal("no state subscription registered")
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("state handler error: %v", err)
	}
}

// ─── MQTTGateway tests ──────────────────────────────────────────────────────

func TestMQTTGateway_StateCache(t *testing.T) {
	mqtt := newMockMQTT()
	gw := NewMQTTGateway(mqtt, 1)
	if err := gw.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mqtt.deliver(t, defaultStatePrefix+"light.porch",
		[]byte(`{"state":"on","attributes":{"brightness":180}}`))

	state, err := gw.GetEntityState("light.porch")
	if err != nil {
		t.Fatalf("GetEntityState() error = %v", err)
	}
	if state.State != "on" {
		t.Errorf("state = %q, want %q", state.State, "on")
	}
	if state.Attributes["brightness"] != float64(180) {
		t.Errorf("brightness = %v, want 180", state.Attributes["brightness"])
	}

	bare, err := gw.GetState("light.porch")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if bare != "on" {
		t.Errorf("GetState() = %q, want %q", bare, "on")
	}
}

func TestMQTTGateway_BareStringPayload(t *testing.T) {
	mqtt := newMockMQTT()
	gw := NewMQTTGateway(mqtt, 1)
	if err := gw.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mqtt.deliver(t, defaultStatePrefix+"binary_sensor.door", []byte("open\n"))

	state, err := gw.GetState("binary_sensor.door")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state != "open" {
		t.Errorf("GetState() = %q, want %q", state, "open")
	}
}

func TestMQTTGateway_UnknownEntity(t *testing.T) {
	gw := NewMQTTGateway(newMockMQTT(), 1)

	_, err := gw.GetState("light.never_seen")
	if !errors.Is(err, ErrEntityUnknown) {
		t.Errorf("GetState() error = %v, want ErrEntityUnknown", err)
	}
}

func TestMQTTGateway_WatchStateFiresOnTransition(t *testing.T) {
	mqtt := newMockMQTT()
	gw := NewMQTTGateway(mqtt, 1)
	if err := gw.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	type transition struct{ old, new string }
	var seen []transition
	gw.WatchState("light.porch", func(_, old, new string) {
		seen = append(seen, transition{old, new})
	})

	mqtt.deliver(t, defaultStatePrefix+"light.porch", []byte(`{"state":"on"}`))
	mqtt.deliver(t, defaultStatePrefix+"light.porch", []byte(`{"state":"on"}`))
	mqtt.deliver(t, defaultStatePrefix+"light.porch", []byte(`{"state":"off"}`))
	mqtt.deliver(t, defaultStatePrefix+"light.hall", []byte(`{"state":"on"}`))

	want := []transition{{"", "on"}, {"on", "off"}}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestMQTTGateway_SetStateFiresWatchers(t *testing.T) {
	gw := NewMQTTGateway(newMockMQTT(), 1)

	fired := 0
	gw.WatchState("switch.fan", func(_, _, _ string) { fired++ })

	gw.SetState("switch.fan", EntityState{State: "on"})
	gw.SetState("switch.fan", EntityState{State: "on"})
	gw.SetState("switch.fan", EntityState{State: "off"})

	if fired != 2 {
		t.Errorf("watcher fired %d times, want 2", fired)
	}
}

func TestMQTTGateway_CallService(t *testing.T) {
	mqtt := newMockMQTT()
	gw := NewMQTTGateway(mqtt, 1)

	err := gw.CallService("light/turn_on", map[string]any{
		"entity_id":  "light.porch",
		"brightness": 200,
	})
	if err != nil {
		t.Fatalf("CallService() error = %v", err)
	}

	if len(mqtt.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(mqtt.published))
	}
	msg := mqtt.published[0]
	if msg.Topic != defaultServicePrefix+"light/turn_on" {
		t.Errorf("topic = %q", msg.Topic)
	}
	if msg.Retained {
		t.Error("service calls must not be retained")
	}

	var args map[string]any
	if err := json.Unmarshal(msg.Payload, &args); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if args["entity_id"] != "light.porch" {
		t.Errorf("entity_id = %v", args["entity_id"])
	}
}

func TestMQTTGateway_CallService_InvalidName(t *testing.T) {
	gw := NewMQTTGateway(newMockMQTT(), 1)

	for _, service := range []string{"", "turn_on", "light/", "/turn_on"} {
		if err := gw.CallService(service, nil); !errors.Is(err, ErrInvalidService) {
			t.Errorf("CallService(%q) error = %v, want ErrInvalidService", service, err)
		}
	}
}

// ─── Timers tests ───────────────────────────────────────────────────────────

func TestTimers_ScheduleAfterFires(t *testing.T) {
	timers := NewTimers()
	done := make(chan struct{})

	timers.ScheduleAfter(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("one-shot timer did not fire")
	}
}

func TestTimers_CancelPreventsFiring(t *testing.T) {
	timers := NewTimers()
	var fired atomic.Bool

	h := timers.ScheduleAfter(20*time.Millisecond, func() { fired.Store(true) })
	timers.Cancel(h)

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled timer fired")
	}
	if timers.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", timers.Pending())
	}
}

func TestTimers_CancelIsIdempotent(t *testing.T) {
	timers := NewTimers()
	h := timers.ScheduleAfter(time.Hour, func() {})

	timers.Cancel(h)
	timers.Cancel(h)     // already cancelled
	timers.Cancel(99999) // never existed
}

func TestTimers_ScheduleEveryRepeats(t *testing.T) {
	timers := NewTimers()
	var count atomic.Int32

	h := timers.ScheduleEvery(5*time.Millisecond, func() { count.Add(1) })
	defer timers.Cancel(h)

	deadline := time.After(time.Second)
	for count.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("ticker fired %d times, want >= 3", count.Load())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestTimers_CancelAndRecreate(t *testing.T) {
	timers := NewTimers()
	var first, second atomic.Bool

	h := timers.ScheduleAfter(20*time.Millisecond, func() { first.Store(true) })
	timers.Cancel(h)
	timers.ScheduleAfter(5*time.Millisecond, func() { second.Store(true) })

	time.Sleep(60 * time.Millisecond)
	if first.Load() {
		t.Error("replaced timer fired")
	}
	if !second.Load() {
		t.Error("replacement timer did not fire")
	}
}
