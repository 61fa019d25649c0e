package notifier

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/status-core/internal/conditions"
)

// ErrInvalidConfig is returned when a notifier configuration cannot be
// accepted at load time.
var ErrInvalidConfig = errors.New("notifier: invalid config")

// Defaults and bounds for the deliberation windows, in seconds.
const (
	defaultWindow = 120
	maxWindow     = 300

	defaultReset = 15 * 60
	maxReset     = 24 * 60 * 60
)

// Config describes one cautious notifier.
type Config struct {
	// Name identifies the notifier in logs.
	Name string `yaml:"name"`

	// Trigger clauses must all fire within the window for the event to
	// go out. Each clause is evaluated on its own against the state
	// change that arrives.
	Trigger []conditions.Clause `yaml:"trigger_condition"`

	// Suppress clauses veto the window: any one firing inside it
	// swallows the event.
	Suppress []conditions.Clause `yaml:"suppress_condition,omitempty"`

	// Disable is checked once, when the window closes. True means the
	// notifier is off (e.g. someone is home).
	Disable []conditions.Clause `yaml:"disable_condition,omitempty"`

	// Event is the status event payload published when the notifier
	// fires: tags plus any per-domain overrides.
	Event map[string]any `yaml:"event"`

	// WindowSeconds is the deliberation window length.
	WindowSeconds int `yaml:"window_seconds,omitempty"`

	// ResetSeconds is the minimum quiet time between firings.
	ResetSeconds int `yaml:"reset_window_seconds,omitempty"`
}

// window returns the deliberation window as a duration.
func (c *Config) window() time.Duration {
	if c.WindowSeconds == 0 {
		return defaultWindow * time.Second
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// reset returns the between-firings quiet time as a duration.
func (c *Config) reset() time.Duration {
	if c.ResetSeconds == 0 {
		return defaultReset * time.Second
	}
	return time.Duration(c.ResetSeconds) * time.Second
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if len(c.Trigger) == 0 {
		return fmt.Errorf("%w: %s has no trigger_condition", ErrInvalidConfig, c.Name)
	}
	if len(c.Event) == 0 {
		return fmt.Errorf("%w: %s has no event payload", ErrInvalidConfig, c.Name)
	}
	if c.WindowSeconds < 0 || c.WindowSeconds > maxWindow {
		return fmt.Errorf("%w: %s window_seconds %d outside 0-%d",
			ErrInvalidConfig, c.Name, c.WindowSeconds, maxWindow)
	}
	if c.ResetSeconds < 0 || c.ResetSeconds > maxReset {
		return fmt.Errorf("%w: %s reset_window_seconds %d outside 0-%d",
			ErrInvalidConfig, c.Name, c.ResetSeconds, maxReset)
	}
	return nil
}

// notifiersFile is the on-disk shape of a notifiers config file.
type notifiersFile struct {
	Notifiers []Config `yaml:"notifiers"`
}

// LoadConfigs reads and validates a notifiers file.
func LoadConfigs(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading notifiers file: %w", err)
	}

	var file notifiersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing notifiers file: %w", err)
	}

	for i := range file.Notifiers {
		if err := file.Notifiers[i].Validate(); err != nil {
			return nil, err
		}
	}
	return file.Notifiers, nil
}
