package button

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/nerrad567/status-core/internal/gateway"
)

// ─── Mock Gateway ───────────────────────────────────────────────────────────

type fakeGateway struct {
	mu     sync.Mutex
	states map[string]string
	calls  []svcCall
}

type svcCall struct {
	Service string
	Args    map[string]any
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{states: make(map[string]string)}
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

func (g *fakeGateway) CallService(service string, args map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, svcCall{Service: service, Args: args})
	return nil
}

func (g *fakeGateway) callServices() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	services := make([]string, len(g.calls))
	for i, c := range g.calls {
		services[i] = c.Service
	}
	return services
}

func (g *fakeGateway) callEntities() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	entities := make([]string, len(g.calls))
	for i, c := range g.calls {
		entities[i], _ = c.Args["entity_id"].(string)
	}
	return entities
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func newDispatcher(t *testing.T, cfg Config, gw *fakeGateway) *Dispatcher {
	t.Helper()
	d, err := New(cfg, gw)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func handle(t *testing.T, d *Dispatcher, payload string) {
	t.Helper()
	if err := d.HandleEvent([]byte(payload)); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
}

// ─── Toggle ─────────────────────────────────────────────────────────────────

func TestDispatcher_ToggleTurnsOnWhenAllCheckOff(t *testing.T) {
	gw := newFakeGateway()
	gw.states["light.bedroom"] = "off"
	d := newDispatcher(t, Config{
		Name: "bedroom-remote",
		Commands: map[string][]CommandSet{
			"toggle": {{Entities: []string{"light.bedroom"}, Args: map[string]any{"transition": 2}}},
		},
	}, gw)

	handle(t, d, `{"command": "toggle"}`)

	want := []string{"light/turn_on"}
	if got := gw.callServices(); !reflect.DeepEqual(got, want) {
		t.Fatalf("services = %v, want %v", got, want)
	}
	if gw.calls[0].Args["transition"] != 2 {
		t.Errorf("transition = %v, want 2", gw.calls[0].Args["transition"])
	}
}

func TestDispatcher_ToggleTurnsOffWhenAnyCheckOn(t *testing.T) {
	gw := newFakeGateway()
	gw.states["light.bedroom"] = "off"
	gw.states["light.lamp"] = "on"
	d := newDispatcher(t, Config{
		Name: "bedroom-remote",
		Commands: map[string][]CommandSet{
			"toggle": {{
				Entities: []string{"light.bedroom", "light.lamp"},
				Args:     map[string]any{"brightness_pct": 80},
			}},
		},
	}, gw)

	handle(t, d, `{"command": "toggle"}`)

	want := []string{"light/turn_off", "light/turn_off"}
	if got := gw.callServices(); !reflect.DeepEqual(got, want) {
		t.Fatalf("services = %v, want %v", got, want)
	}
	// Args only make sense when switching on.
	for i, c := range gw.calls {
		if _, ok := c.Args["brightness_pct"]; ok {
			t.Errorf("call %d carries brightness_pct on turn_off", i)
		}
	}
}

func TestDispatcher_ToggleAsymmetricSets(t *testing.T) {
	gw := newFakeGateway()
	gw.states["group.bedroom"] = "on"
	d := newDispatcher(t, Config{
		Name: "bedroom-remote",
		Commands: map[string][]CommandSet{
			"toggle": {{
				EntitiesOn:    []string{"light.lamp"},
				EntitiesOff:   []string{"light.lamp", "light.ceiling"},
				EntitiesCheck: []string{"group.bedroom"},
			}},
		},
	}, gw)

	handle(t, d, `{"command": "toggle"}`)

	want := []string{"light.lamp", "light.ceiling"}
	if got := gw.callEntities(); !reflect.DeepEqual(got, want) {
		t.Fatalf("entities = %v, want %v", got, want)
	}
}

// ─── Rotate ─────────────────────────────────────────────────────────────────

func TestDispatcher_RotateOnCyclesThroughEntities(t *testing.T) {
	gw := newFakeGateway()
	d := newDispatcher(t, Config{
		Name: "scene-button",
		Commands: map[string][]CommandSet{
			"press": {{Service: ServiceRotateOn, Entities: []string{"light.a", "light.b"}}},
		},
	}, gw)

	for i := 0; i < 3; i++ {
		handle(t, d, `{"command": "press"}`)
	}

	want := []string{"light.a", "light.b", "light.a"}
	if got := gw.callEntities(); !reflect.DeepEqual(got, want) {
		t.Fatalf("entities = %v, want %v", got, want)
	}
	for i, svc := range gw.callServices() {
		if svc != "light/turn_on" {
			t.Errorf("call %d service = %q, want light/turn_on", i, svc)
		}
	}
}

// ─── Event Handling ─────────────────────────────────────────────────────────

func TestDispatcher_BrightnessForwardedFromEvent(t *testing.T) {
	gw := newFakeGateway()
	d := newDispatcher(t, Config{
		Name: "dimmer",
		Commands: map[string][]CommandSet{
			"step_up": {{Service: ServiceTurnOn, Entities: []string{"light.desk"}}},
		},
	}, gw)

	handle(t, d, `{"command": "step_up", "brightness_pct": 40}`)

	if len(gw.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(gw.calls))
	}
	if gw.calls[0].Args["brightness_pct"] != float64(40) {
		t.Errorf("brightness_pct = %v, want 40", gw.calls[0].Args["brightness_pct"])
	}
}

func TestDispatcher_FilterMismatchIgnored(t *testing.T) {
	gw := newFakeGateway()
	d := newDispatcher(t, Config{
		Name:   "bedroom-remote",
		Filter: map[string]string{"device": "bedroom_remote"},
		Commands: map[string][]CommandSet{
			"toggle": {{Entities: []string{"light.bedroom"}}},
		},
	}, gw)

	handle(t, d, `{"command": "toggle", "device": "kitchen_remote"}`)
	if len(gw.calls) != 0 {
		t.Fatalf("calls = %d, want 0 for filtered event", len(gw.calls))
	}

	handle(t, d, `{"command": "toggle", "device": "bedroom_remote"}`)
	if len(gw.calls) != 1 {
		t.Fatalf("calls = %d, want 1 for matching event", len(gw.calls))
	}
}

func TestDispatcher_UnknownCommandIgnored(t *testing.T) {
	gw := newFakeGateway()
	d := newDispatcher(t, Config{
		Name: "remote",
		Commands: map[string][]CommandSet{
			"toggle": {{Entities: []string{"light.bedroom"}}},
		},
	}, gw)

	handle(t, d, `{"command": "quadruple_press"}`)
	handle(t, d, `{"no_command": true}`)

	if len(gw.calls) != 0 {
		t.Fatalf("calls = %d, want 0", len(gw.calls))
	}
}

func TestDispatcher_MalformedEvent(t *testing.T) {
	d := newDispatcher(t, Config{
		Name: "remote",
		Commands: map[string][]CommandSet{
			"toggle": {{Entities: []string{"light.bedroom"}}},
		},
	}, newFakeGateway())

	if err := d.HandleEvent([]byte(`{not json`)); err == nil {
		t.Fatal("HandleEvent() error = nil, want parse error")
	}
}

// ─── Config ─────────────────────────────────────────────────────────────────

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg: Config{
				Name:     "remote",
				Commands: map[string][]CommandSet{"toggle": {{Entities: []string{"light.a"}}}},
			},
		},
		{
			name:    "missing name",
			cfg:     Config{Commands: map[string][]CommandSet{"toggle": {{Entities: []string{"light.a"}}}}},
			wantErr: true,
		},
		{
			name:    "no commands",
			cfg:     Config{Name: "remote"},
			wantErr: true,
		},
		{
			name: "unknown service",
			cfg: Config{
				Name:     "remote",
				Commands: map[string][]CommandSet{"toggle": {{Service: "dim", Entities: []string{"light.a"}}}},
			},
			wantErr: true,
		},
		{
			name: "no entities",
			cfg: Config{
				Name:     "remote",
				Commands: map[string][]CommandSet{"toggle": {{Service: ServiceTurnOn}}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfigs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buttons.yaml")
	content := `
buttons:
  - name: bedroom-remote
    filter:
      device: bedroom_remote
    commands:
      toggle:
        - entities: [light.bedroom]
      double_press:
        - service: turn_on
          entities: [light.bedroom]
          args:
            brightness_pct: 100
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	configs, err := LoadConfigs(path)
	if err != nil {
		t.Fatalf("LoadConfigs() error = %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("configs = %d, want 1", len(configs))
	}
	if configs[0].Name != "bedroom-remote" {
		t.Errorf("name = %q, want bedroom-remote", configs[0].Name)
	}
	if len(configs[0].Commands) != 2 {
		t.Errorf("commands = %d, want 2", len(configs[0].Commands))
	}
}

func TestLoadConfigs_InvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buttons.yaml")
	content := `
buttons:
  - name: broken
    commands:
      toggle:
        - service: explode
          entities: [light.a]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if _, err := LoadConfigs(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("LoadConfigs() error = %v, want ErrInvalidConfig", err)
	}
}
