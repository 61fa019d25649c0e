package autolight

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/status-core/internal/conditions"
)

// ErrInvalidConfig is returned when an automation configuration cannot
// be accepted at load time.
var ErrInvalidConfig = errors.New("autolight: invalid config")

// Defaults and floors for the automation timers, in seconds.
const (
	defaultAutoTimeout  = 15 * 60
	defaultHardTimeout  = 3 * 60 * 60
	defaultMinActionGap = 60
	defaultOnState      = "on"

	minAutoTimeout  = 60
	minHardTimeout  = 300
	minMinActionGap = 60
)

// Services an output entity may name explicitly.
const (
	ServiceTurnOn  = "turn_on"
	ServiceTurnOff = "turn_off"
)

// EntityRef names an entity and the state that counts as "on" for it.
type EntityRef struct {
	EntityID string `yaml:"entity_id"`
	OnState  string `yaml:"on_state,omitempty"`
}

// onState returns the entity's on state, defaulting to "on".
func (e *EntityRef) onState() string {
	if e.OnState == "" {
		return defaultOnState
	}
	return e.OnState
}

// OutputEntity is one entity an output switches.
//
// Service is usually inferred from the phase (activate or deactivate);
// setting it explicitly lets a deactivation turn something on, e.g. a
// night light replacing the main lights.
type OutputEntity struct {
	EntityRef   `yaml:",inline"`
	Service     string         `yaml:"service,omitempty"`
	ServiceData map[string]any `yaml:"service_data,omitempty"`
}

// Output is a conditional set of entities. The first output whose
// condition holds is used, so ordering expresses preference (e.g. dim
// lights at night, bright lights otherwise).
type Output struct {
	Condition  []conditions.Clause `yaml:"condition,omitempty"`
	Activate   []OutputEntity      `yaml:"activate_entities"`
	Deactivate []OutputEntity      `yaml:"deactivate_entities,omitempty"`
}

// Config describes one auto-light automation.
type Config struct {
	// Name identifies the automation in logs and status topics.
	Name string `yaml:"name"`

	// StatusTopic, when set, receives a retained JSON status snapshot
	// every few seconds. Empty disables status publishing.
	StatusTopic string `yaml:"status_topic,omitempty"`

	// TriggerActivate fires the activate path when it evaluates true
	// against a trigger entity's new state.
	TriggerActivate []conditions.Clause `yaml:"trigger_activate_condition,omitempty"`

	// TriggerDeactivate fires the deactivate path.
	TriggerDeactivate []conditions.Clause `yaml:"trigger_deactivate_condition,omitempty"`

	// Extend postpones auto-off while it evaluates true.
	Extend []conditions.Clause `yaml:"extend_condition,omitempty"`

	// StateEntities are the entities whose on/off state reflects the
	// room. Defaults to every output entity.
	StateEntities []EntityRef `yaml:"state_entities,omitempty"`

	// AutoTimeout is the auto-off delay in seconds after activation.
	AutoTimeout int `yaml:"auto_timeout,omitempty"`

	// HardTimeout is the absolute on-time bound in seconds.
	HardTimeout int `yaml:"hard_timeout,omitempty"`

	// MinActionGap is the anti-flap window in seconds.
	MinActionGap int `yaml:"min_action_gap,omitempty"`

	// Outputs are tried in order; the first matching condition wins.
	Outputs []Output `yaml:"output"`
}

// autoTimeout returns the configured auto timeout as a duration.
func (c *Config) autoTimeout() time.Duration {
	if c.AutoTimeout == 0 {
		return defaultAutoTimeout * time.Second
	}
	return time.Duration(c.AutoTimeout) * time.Second
}

// hardTimeout returns the configured hard timeout as a duration.
func (c *Config) hardTimeout() time.Duration {
	if c.HardTimeout == 0 {
		return defaultHardTimeout * time.Second
	}
	return time.Duration(c.HardTimeout) * time.Second
}

// minActionGap returns the configured anti-flap window as a duration.
func (c *Config) minActionGap() time.Duration {
	if c.MinActionGap == 0 {
		return defaultMinActionGap * time.Second
	}
	return time.Duration(c.MinActionGap) * time.Second
}

// stateEntities returns the explicit state entities, or every output
// entity when none are configured.
func (c *Config) stateEntities() []EntityRef {
	if len(c.StateEntities) > 0 {
		return c.StateEntities
	}
	var entities []EntityRef
	for _, out := range c.Outputs {
		for _, e := range out.Activate {
			entities = append(entities, e.EntityRef)
		}
		for _, e := range out.Deactivate {
			entities = append(entities, e.EntityRef)
		}
	}
	return entities
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if len(c.Outputs) == 0 {
		return fmt.Errorf("%w: %s has no outputs", ErrInvalidConfig, c.Name)
	}
	if c.AutoTimeout != 0 && c.AutoTimeout < minAutoTimeout {
		return fmt.Errorf("%w: %s auto_timeout %d below minimum %d",
			ErrInvalidConfig, c.Name, c.AutoTimeout, minAutoTimeout)
	}
	if c.HardTimeout != 0 && c.HardTimeout < minHardTimeout {
		return fmt.Errorf("%w: %s hard_timeout %d below minimum %d",
			ErrInvalidConfig, c.Name, c.HardTimeout, minHardTimeout)
	}
	if c.MinActionGap != 0 && c.MinActionGap < minMinActionGap {
		return fmt.Errorf("%w: %s min_action_gap %d below minimum %d",
			ErrInvalidConfig, c.Name, c.MinActionGap, minMinActionGap)
	}
	for i, out := range c.Outputs {
		if len(out.Activate) == 0 {
			return fmt.Errorf("%w: %s output #%d has no activate_entities",
				ErrInvalidConfig, c.Name, i)
		}
		for _, e := range append(append([]OutputEntity{}, out.Activate...), out.Deactivate...) {
			if e.EntityID == "" {
				return fmt.Errorf("%w: %s output #%d names an empty entity",
					ErrInvalidConfig, c.Name, i)
			}
			if e.Service != "" && e.Service != ServiceTurnOn && e.Service != ServiceTurnOff {
				return fmt.Errorf("%w: %s output #%d has unknown service %q",
					ErrInvalidConfig, c.Name, i, e.Service)
			}
		}
	}
	return nil
}

// autoLightsFile is the on-disk shape of an auto-lights config file.
type autoLightsFile struct {
	AutoLights []Config `yaml:"auto_lights"`
}

// LoadConfigs reads and validates an auto-lights file.
func LoadConfigs(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading auto-lights file: %w", err)
	}

	var file autoLightsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing auto-lights file: %w", err)
	}

	for i := range file.AutoLights {
		if err := file.AutoLights[i].Validate(); err != nil {
			return nil, err
		}
	}
	return file.AutoLights, nil
}
