package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Default topic prefixes. State topics are published retained by the
// bridges so the cache warms immediately after subscribing.
const (
	defaultStatePrefix   = "statuscore/state/"
	defaultServicePrefix = "statuscore/service/"
)

// MQTTClient is the narrow slice of the infrastructure MQTT client the
// gateway needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
}

// Logger is the logging interface used by the MQTT gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MQTTGateway implements Gateway over an MQTT broker.
//
// Entity state arrives on retained statuscore/state/{entity} topics and
// is cached; GetState reads are local and synchronous. Service calls
// publish JSON keyword arguments to statuscore/service/{domain}/{name}.
//
// Thread Safety: all methods are safe for concurrent use.
type MQTTGateway struct {
	mqtt   MQTTClient
	qos    byte
	logger Logger

	mu       sync.RWMutex
	states   map[string]EntityState
	watchers map[string][]StateChangeFunc
}

// NewMQTTGateway creates a gateway over the given MQTT client.
func NewMQTTGateway(mqtt MQTTClient, qos byte) *MQTTGateway {
	return &MQTTGateway{
		mqtt:     mqtt,
		qos:      qos,
		logger:   noopLogger{},
		states:   make(map[string]EntityState),
		watchers: make(map[string][]StateChangeFunc),
	}
}

// SetLogger sets the logger for the gateway.
func (g *MQTTGateway) SetLogger(logger Logger) {
	g.logger = logger
}

// Start subscribes to the entity state topics. Must be called before
// the controller starts so the cache is warm by the first event.
func (g *MQTTGateway) Start() error {
	topic := defaultStatePrefix + "#"
	if err := g.mqtt.Subscribe(topic, g.qos, g.handleStateMessage); err != nil {
		return fmt.Errorf("subscribing to %q: %w", topic, err)
	}
	return nil
}

// handleStateMessage updates the state cache from a state topic.
//
// Payloads are either a JSON object {"state": ..., "attributes": ...}
// or a bare string used as the state directly.
func (g *MQTTGateway) handleStateMessage(topic string, payload []byte) error {
	entityID := strings.TrimPrefix(topic, defaultStatePrefix)
	if entityID == "" || entityID == topic {
		g.logger.Warn("state message on unexpected topic", "topic", topic)
		return nil
	}

	var state EntityState
	if err := json.Unmarshal(payload, &state); err != nil {
		// Not JSON: treat the raw payload as the bare state string.
		state = EntityState{State: strings.TrimSpace(string(payload))}
	}

	g.mu.Lock()
	old := g.states[entityID].State
	g.states[entityID] = state
	watchers := g.watchers[entityID]
	g.mu.Unlock()

	g.logger.Debug("entity state updated", "entity_id", entityID, "state", state.State)

	if old != state.State {
		for _, fn := range watchers {
			fn(entityID, old, state.State)
		}
	}
	return nil
}

// WatchState registers fn to run whenever the bare state string of an
// entity changes. Registration is permanent; callbacks run on the MQTT
// delivery goroutine.
func (g *MQTTGateway) WatchState(entityID string, fn StateChangeFunc) {
	g.mu.Lock()
	g.watchers[entityID] = append(g.watchers[entityID], fn)
	g.mu.Unlock()
}

// GetState returns the bare state string of an entity.
func (g *MQTTGateway) GetState(entityID string) (string, error) {
	state, err := g.GetEntityState(entityID)
	if err != nil {
		return "", err
	}
	return state.State, nil
}

// GetEntityState returns the full cached state of an entity.
// Returns ErrEntityUnknown if no state has been observed.
func (g *MQTTGateway) GetEntityState(entityID string) (EntityState, error) {
	g.mu.RLock()
	state, ok := g.states[entityID]
	g.mu.RUnlock()

	if !ok {
		return EntityState{}, fmt.Errorf("%w: %q", ErrEntityUnknown, entityID)
	}
	return state, nil
}

// SetState seeds the cache directly. Used by tests and by bridges that
// report state in-process. Watchers fire exactly as they do for broker
// updates.
func (g *MQTTGateway) SetState(entityID string, state EntityState) {
	g.mu.Lock()
	old := g.states[entityID].State
	g.states[entityID] = state
	watchers := g.watchers[entityID]
	g.mu.Unlock()

	if old != state.State {
		for _, fn := range watchers {
			fn(entityID, old, state.State)
		}
	}
}

// CallService publishes a service invocation.
//
// The service name must be "domain/name" (e.g. "light/turn_on",
// "media_player/play_media"); args become the JSON payload.
func (g *MQTTGateway) CallService(service string, args map[string]any) error {
	domain, name, ok := strings.Cut(service, "/")
	if !ok || domain == "" || name == "" {
		return fmt.Errorf("%w: %q", ErrInvalidService, service)
	}

	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshalling service args: %w", err)
	}

	topic := defaultServicePrefix + domain + "/" + name
	if err := g.mqtt.Publish(topic, payload, g.qos, false); err != nil {
		return fmt.Errorf("publishing to %q: %w", topic, err)
	}

	g.logger.Debug("service called", "service", service, "topic", topic)
	return nil
}
