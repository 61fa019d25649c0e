package button

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/status-core/internal/gateway"
)

// Logger is the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// brightnessKey is the event payload field forwarded into service args
// for dimmer-style buttons.
const brightnessKey = "brightness_pct"

// Dispatcher routes button events to entity service calls.
//
// Thread Safety: HandleEvent is safe for concurrent use.
type Dispatcher struct {
	cfg    Config
	gw     gateway.Gateway
	logger Logger

	mu          sync.Mutex
	rotateIndex map[string]int
}

// New creates a dispatcher for one button configuration.
func New(cfg Config, gw gateway.Gateway) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		cfg:         cfg,
		gw:          gw,
		logger:      noopLogger{},
		rotateIndex: make(map[string]int),
	}, nil
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// HandleEvent processes one button event payload. Events that fail the
// filter or name no configured command are ignored.
func (d *Dispatcher) HandleEvent(payload []byte) error {
	var event map[string]any
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("parsing button event: %w", err)
	}

	if !d.matchesFilter(event) {
		return nil
	}

	command, _ := event["command"].(string)
	if command == "" {
		return nil
	}
	sets, ok := d.cfg.Commands[command]
	if !ok {
		d.logger.Debug("unconfigured command", "dispatcher", d.cfg.Name, "command", command)
		return nil
	}

	d.logger.Info("button command", "dispatcher", d.cfg.Name, "command", command)

	for i := range sets {
		d.runCommandSet(command, &sets[i], event)
	}
	return nil
}

// matchesFilter checks every filter pair against the event payload.
func (d *Dispatcher) matchesFilter(event map[string]any) bool {
	for key, want := range d.cfg.Filter {
		got, ok := event[key]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// runCommandSet executes one command set for a button press.
func (d *Dispatcher) runCommandSet(command string, cs *CommandSet, event map[string]any) {
	service := cs.service()
	entitiesOn := cs.onEntities()

	if service == ServiceRotateOn {
		entitiesOn = []string{d.nextRotateEntity(command, entitiesOn)}
		service = ServiceTurnOn
	}

	args := make(map[string]any, len(cs.Args)+1)
	for k, v := range cs.Args {
		args[k] = v
	}
	if pct, ok := event[brightnessKey]; ok {
		args[brightnessKey] = pct
	}

	switch service {
	case ServiceTurnOn:
		d.turnOn(entitiesOn, args)
	case ServiceTurnOff:
		d.turnOff(cs.offEntities())
	case ServiceToggle:
		d.toggle(entitiesOn, cs.offEntities(), cs.checkEntities(), args)
	}
}

// nextRotateEntity returns the entity for this press and advances the
// rotation cursor.
func (d *Dispatcher) nextRotateEntity(command string, entities []string) string {
	key := command + "/" + strings.Join(entities, ",")

	d.mu.Lock()
	index := d.rotateIndex[key]
	d.rotateIndex[key] = (index + 1) % len(entities)
	d.mu.Unlock()

	return entities[index]
}

// toggle turns the off-set off when any check entity is on, otherwise
// turns the on-set on. Implemented against the check set rather than a
// native toggle so asymmetric on/off groups stay consistent.
func (d *Dispatcher) toggle(entitiesOn, entitiesOff, entitiesCheck []string, args map[string]any) {
	for _, entityID := range entitiesCheck {
		state, err := d.gw.GetState(entityID)
		if err == nil && state == "on" {
			d.turnOff(entitiesOff)
			return
		}
	}
	d.turnOn(entitiesOn, args)
}

func (d *Dispatcher) turnOn(entities []string, args map[string]any) {
	for _, entityID := range entities {
		callArgs := map[string]any{"entity_id": entityID}
		for k, v := range args {
			callArgs[k] = v
		}
		if err := d.gw.CallService(entityDomain(entityID)+"/turn_on", callArgs); err != nil {
			d.logger.Warn("turn_on failed", "entity_id", entityID, "error", err)
		}
	}
}

// turnOff drops the extra args: brightness and friends only make sense
// when switching on.
func (d *Dispatcher) turnOff(entities []string) {
	for _, entityID := range entities {
		err := d.gw.CallService(entityDomain(entityID)+"/turn_off", map[string]any{"entity_id": entityID})
		if err != nil {
			d.logger.Warn("turn_off failed", "entity_id", entityID, "error", err)
		}
	}
}

// entityDomain extracts the service domain from an entity ID.
func entityDomain(entityID string) string {
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok || domain == "" {
		return "light"
	}
	return domain
}
