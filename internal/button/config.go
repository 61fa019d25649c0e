package button

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a button configuration cannot be
// accepted at load time.
var ErrInvalidConfig = errors.New("button: invalid config")

// Services a command set may run.
const (
	ServiceToggle   = "toggle"
	ServiceTurnOn   = "turn_on"
	ServiceTurnOff  = "turn_off"
	ServiceRotateOn = "rotate_on"
)

// CommandSet is one batch of entities a button command drives.
//
// Entities is the shared list; EntitiesOn / EntitiesOff / EntitiesCheck
// override it for the respective role when asymmetric behaviour is
// wanted (e.g. check a group sensor but switch individual lights).
type CommandSet struct {
	Service       string         `yaml:"service,omitempty"`
	Entities      []string       `yaml:"entities,omitempty"`
	EntitiesOn    []string       `yaml:"entities_on,omitempty"`
	EntitiesOff   []string       `yaml:"entities_off,omitempty"`
	EntitiesCheck []string       `yaml:"entities_check,omitempty"`
	Args          map[string]any `yaml:"args,omitempty"`
}

// service returns the command set's service, defaulting to toggle.
func (cs *CommandSet) service() string {
	if cs.Service == "" {
		return ServiceToggle
	}
	return cs.Service
}

// onEntities returns the entities to turn on.
func (cs *CommandSet) onEntities() []string {
	if len(cs.EntitiesOn) > 0 {
		return cs.EntitiesOn
	}
	return cs.Entities
}

// offEntities returns the entities to turn off.
func (cs *CommandSet) offEntities() []string {
	if len(cs.EntitiesOff) > 0 {
		return cs.EntitiesOff
	}
	return cs.Entities
}

// checkEntities returns the entities whose state decides a toggle.
func (cs *CommandSet) checkEntities() []string {
	if len(cs.EntitiesCheck) > 0 {
		return cs.EntitiesCheck
	}
	return cs.Entities
}

// Config describes one button dispatcher.
type Config struct {
	// Name identifies the dispatcher in logs.
	Name string `yaml:"name"`

	// Filter matches against top-level event payload fields. All pairs
	// must match for the event to be handled; an empty filter matches
	// every event.
	Filter map[string]string `yaml:"filter,omitempty"`

	// Commands maps a command name from the event payload to the
	// command sets it runs.
	Commands map[string][]CommandSet `yaml:"commands"`
}

// Validate rejects configurations that would fail mid-press.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if len(c.Commands) == 0 {
		return fmt.Errorf("%w: %s has no commands", ErrInvalidConfig, c.Name)
	}
	for command, sets := range c.Commands {
		for _, cs := range sets {
			switch cs.service() {
			case ServiceToggle, ServiceTurnOn, ServiceTurnOff, ServiceRotateOn:
			default:
				return fmt.Errorf("%w: %s command %q has unknown service %q",
					ErrInvalidConfig, c.Name, command, cs.Service)
			}
			if len(cs.Entities)+len(cs.EntitiesOn)+len(cs.EntitiesOff) == 0 {
				return fmt.Errorf("%w: %s command %q names no entities",
					ErrInvalidConfig, c.Name, command)
			}
		}
	}
	return nil
}

// buttonsFile is the on-disk shape of a buttons config file.
type buttonsFile struct {
	Buttons []Config `yaml:"buttons"`
}

// LoadConfigs reads and validates a buttons file.
func LoadConfigs(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading buttons file: %w", err)
	}

	var file buttonsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing buttons file: %w", err)
	}

	for i := range file.Buttons {
		if err := file.Buttons[i].Validate(); err != nil {
			return nil, err
		}
	}
	return file.Buttons, nil
}
