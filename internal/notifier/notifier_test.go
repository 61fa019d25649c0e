package notifier

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/status-core/internal/conditions"
	"github.com/nerrad567/status-core/internal/gateway"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// fakeGateway serves canned state and lets tests push state transitions
// through registered watchers.
type fakeGateway struct {
	mu       sync.Mutex
	states   map[string]string
	watchers map[string][]gateway.StateChangeFunc
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		states:   make(map[string]string),
		watchers: make(map[string][]gateway.StateChangeFunc),
	}
}

func (g *fakeGateway) GetState(entityID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.states[entityID]
	if !ok {
		return "", gateway.ErrEntityUnknown
	}
	return state, nil
}

func (g *fakeGateway) GetEntityState(entityID string) (gateway.EntityState, error) {
	state, err := g.GetState(entityID)
	if err != nil {
		return gateway.EntityState{}, err
	}
	return gateway.EntityState{State: state}, nil
}

func (g *fakeGateway) WatchState(entityID string, fn gateway.StateChangeFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.watchers[entityID] = append(g.watchers[entityID], fn)
}

// setState updates the cache and fires watchers, like the real gateway.
func (g *fakeGateway) setState(entityID, state string) {
	g.mu.Lock()
	old := g.states[entityID]
	g.states[entityID] = state
	watchers := append([]gateway.StateChangeFunc(nil), g.watchers[entityID]...)
	g.mu.Unlock()

	if old != state {
		for _, fn := range watchers {
			fn(entityID, old, state)
		}
	}
}

// fakeSched is a hand-cranked scheduler.
type fakeSched struct {
	mu     sync.Mutex
	next   gateway.Handle
	oneOff map[gateway.Handle]func()
}

func newFakeSched() *fakeSched {
	return &fakeSched{oneOff: make(map[gateway.Handle]func())}
}

func (s *fakeSched) ScheduleAfter(_ time.Duration, fn func()) gateway.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.oneOff[s.next] = fn
	return s.next
}

func (s *fakeSched) ScheduleEvery(_ time.Duration, _ func()) gateway.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next
}

func (s *fakeSched) Cancel(h gateway.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.oneOff, h)
}

// fire runs and removes every pending one-off.
func (s *fakeSched) fire() int {
	s.mu.Lock()
	var fns []func()
	for h, fn := range s.oneOff {
		fns = append(fns, fn)
		delete(s.oneOff, h)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func (s *fakeSched) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.oneOff)
}

type fakePublisher struct {
	mu       sync.Mutex
	messages [][]byte
	topics   []string
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, payload)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

const eventTopic = "statuscore/event"

func testConfig() Config {
	return Config{
		Name: "dog-escape",
		Trigger: []conditions.Clause{
			{"kind": "trigger", "binary_sensor.pet_door": "on"},
		},
		Suppress: []conditions.Clause{
			{"kind": "trigger", "binary_sensor.hallway_motion": "on"},
		},
		Event:         map[string]any{"tags": []string{"dog_escape"}},
		WindowSeconds: 120,
		ResetSeconds:  900,
	}
}

// newTestNotifier wires a notifier over fakes and starts it.
func newTestNotifier(t *testing.T, cfg Config) (*Notifier, *fakeGateway, *fakeSched, *fakePublisher, *fakeClock) {
	t.Helper()

	gw := newFakeGateway()
	sched := newFakeSched()
	pub := &fakePublisher{}
	clock := newFakeClock()

	n, err := New(cfg, eventTopic, gw, sched, pub)
	if err != nil {
		t.Fatalf("creating notifier: %v", err)
	}
	n.nowFn = clock.now
	if err := n.Start(); err != nil {
		t.Fatalf("starting notifier: %v", err)
	}
	t.Cleanup(n.Stop)
	return n, gw, sched, pub, clock
}

// ─── Firing ─────────────────────────────────────────────────────────────────

func TestFires_WhenTriggerSurvivesWindow(t *testing.T) {
	_, gw, sched, pub, _ := newTestNotifier(t, testConfig())

	gw.setState("binary_sensor.pet_door", "on")
	if sched.pending() != 1 {
		t.Fatalf("pending windows = %d, want 1", sched.pending())
	}

	sched.fire()
	if pub.count() != 1 {
		t.Fatalf("published = %d, want 1", pub.count())
	}
	if pub.topics[0] != eventTopic {
		t.Errorf("topic = %q, want %q", pub.topics[0], eventTopic)
	}

	var payload map[string]any
	if err := json.Unmarshal(pub.messages[0], &payload); err != nil {
		t.Fatalf("decoding event payload: %v", err)
	}
	tags, _ := payload["tags"].([]any)
	if len(tags) != 1 || tags[0] != "dog_escape" {
		t.Errorf("tags = %v, want [dog_escape]", payload["tags"])
	}
}

func TestSuppressHit_SwallowsTheWindow(t *testing.T) {
	_, gw, sched, pub, clock := newTestNotifier(t, testConfig())

	gw.setState("binary_sensor.pet_door", "on")
	clock.advance(10 * time.Second)
	gw.setState("binary_sensor.hallway_motion", "on")

	sched.fire()
	if pub.count() != 0 {
		t.Fatalf("published = %d, want 0 (suppressed)", pub.count())
	}
}

func TestSuppressBeforeWindow_DoesNotSwallow(t *testing.T) {
	_, gw, sched, pub, clock := newTestNotifier(t, testConfig())

	// A suppress hit older than the window is irrelevant.
	gw.setState("binary_sensor.hallway_motion", "on")
	clock.advance(121 * time.Second)
	gw.setState("binary_sensor.pet_door", "on")

	sched.fire()
	if pub.count() != 1 {
		t.Fatalf("published = %d, want 1", pub.count())
	}
}

func TestAllTriggerClausesMustHitInsideWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Trigger = append(cfg.Trigger, conditions.Clause{
		"kind": "trigger", "binary_sensor.garden_motion": "on",
	})
	_, gw, sched, pub, _ := newTestNotifier(t, cfg)

	// Only the first trigger clause ever hits.
	gw.setState("binary_sensor.pet_door", "on")
	sched.fire()
	if pub.count() != 0 {
		t.Fatalf("published = %d, want 0 (second clause never hit)", pub.count())
	}

	// Both hitting inside one window fires.
	gw.setState("binary_sensor.pet_door", "off")
	gw.setState("binary_sensor.pet_door", "on")
	gw.setState("binary_sensor.garden_motion", "on")
	sched.fire()
	if pub.count() != 1 {
		t.Fatalf("published = %d, want 1", pub.count())
	}
}

func TestDisableCondition_BlocksFiring(t *testing.T) {
	cfg := testConfig()
	cfg.Disable = []conditions.Clause{{"person.owner": "home"}}
	_, gw, sched, pub, _ := newTestNotifier(t, cfg)

	gw.setState("person.owner", "home")
	gw.setState("binary_sensor.pet_door", "on")
	sched.fire()
	if pub.count() != 0 {
		t.Fatalf("published = %d, want 0 (disabled)", pub.count())
	}

	gw.setState("person.owner", "away")
	gw.setState("binary_sensor.pet_door", "off")
	gw.setState("binary_sensor.pet_door", "on")
	sched.fire()
	if pub.count() != 1 {
		t.Fatalf("published = %d, want 1", pub.count())
	}
}

func TestResetWindow_RateLimitsFiring(t *testing.T) {
	_, gw, sched, pub, clock := newTestNotifier(t, testConfig())

	gw.setState("binary_sensor.pet_door", "on")
	sched.fire()
	if pub.count() != 1 {
		t.Fatalf("published = %d, want 1", pub.count())
	}

	// A second complete window inside the reset interval stays quiet.
	clock.advance(5 * time.Minute)
	gw.setState("binary_sensor.pet_door", "off")
	gw.setState("binary_sensor.pet_door", "on")
	sched.fire()
	if pub.count() != 1 {
		t.Fatalf("published = %d, want 1 (inside reset window)", pub.count())
	}

	// Once the reset interval passes it fires again.
	clock.advance(11 * time.Minute)
	gw.setState("binary_sensor.pet_door", "off")
	gw.setState("binary_sensor.pet_door", "on")
	sched.fire()
	if pub.count() != 2 {
		t.Fatalf("published = %d, want 2", pub.count())
	}
}

func TestRepeatTriggers_ShareOneWindow(t *testing.T) {
	_, gw, sched, _, _ := newTestNotifier(t, testConfig())

	gw.setState("binary_sensor.pet_door", "on")
	gw.setState("binary_sensor.pet_door", "off")
	gw.setState("binary_sensor.pet_door", "on")

	if sched.pending() != 1 {
		t.Fatalf("pending windows = %d, want 1", sched.pending())
	}
}

func TestStop_AbandonsOpenWindow(t *testing.T) {
	n, gw, sched, pub, _ := newTestNotifier(t, testConfig())

	gw.setState("binary_sensor.pet_door", "on")
	n.Stop()

	if sched.fire() != 0 {
		t.Fatal("window callback survived Stop")
	}
	if pub.count() != 0 {
		t.Fatalf("published = %d, want 0", pub.count())
	}
}

// ─── Configuration ──────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing name", func(c *Config) { c.Name = "" }, false},
		{"no trigger", func(c *Config) { c.Trigger = nil }, false},
		{"no event", func(c *Config) { c.Event = nil }, false},
		{"window too long", func(c *Config) { c.WindowSeconds = 301 }, false},
		{"negative window", func(c *Config) { c.WindowSeconds = -1 }, false},
		{"reset too long", func(c *Config) { c.ResetSeconds = maxReset + 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfigs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifiers.yaml")
	data := `
notifiers:
  - name: dog-escape
    trigger_condition:
      - kind: trigger
        binary_sensor.pet_door: "on"
    suppress_condition:
      - kind: trigger
        binary_sensor.hallway_motion: "on"
    disable_condition:
      - person.owner: home
    event:
      tags: [dog_escape]
    window_seconds: 60
    reset_window_seconds: 600
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	configs, err := LoadConfigs(path)
	if err != nil {
		t.Fatalf("LoadConfigs() = %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("len(configs) = %d, want 1", len(configs))
	}
	cfg := configs[0]
	if cfg.Name != "dog-escape" || cfg.WindowSeconds != 60 || cfg.ResetSeconds != 600 {
		t.Errorf("config = %+v, want dog-escape/60/600", cfg)
	}
	if len(cfg.Trigger) != 1 || len(cfg.Suppress) != 1 || len(cfg.Disable) != 1 {
		t.Errorf("clause counts = %d/%d/%d, want 1/1/1",
			len(cfg.Trigger), len(cfg.Suppress), len(cfg.Disable))
	}
}

func TestLoadConfigs_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifiers.yaml")
	data := "notifiers:\n  - name: broken\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if _, err := LoadConfigs(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("LoadConfigs() = %v, want ErrInvalidConfig", err)
	}
}
