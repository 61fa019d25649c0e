package controller

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/status-core/internal/conditions"
)

// TagSettings are arguments contributed by a tag. Every event carrying
// the tag inherits these, below entry-level overrides and above
// event-level ones.
type TagSettings struct {
	Priority *int           `yaml:"priority,omitempty"`
	Force    *bool          `yaml:"force,omitempty"`
	Media    map[string]any `yaml:"media,omitempty"`
	Device   map[string]any `yaml:"device,omitempty"`
	Notify   map[string]any `yaml:"notify,omitempty"`
	Publish  map[string]any `yaml:"publish,omitempty"`
}

// args returns the tag's argument layer for a domain.
func (t *TagSettings) args(d Domain) map[string]any {
	switch d {
	case DomainMedia:
		return t.Media
	case DomainDevice:
		return t.Device
	case DomainNotify:
		return t.Notify
	case DomainPublish:
		return t.Publish
	}
	return nil
}

// Output is one configured rule: an optional condition guarding a set
// of per-domain action entries. Entries are loosely-keyed maps; the
// argument resolver turns them into typed per-domain structs.
type Output struct {
	Name      string              `yaml:"name"`
	Condition []conditions.Clause `yaml:"condition,omitempty"`
	Media     []map[string]any    `yaml:"media,omitempty"`
	Device    []map[string]any    `yaml:"device,omitempty"`
	Notify    []map[string]any    `yaml:"notify,omitempty"`
	Publish   []map[string]any    `yaml:"publish,omitempty"`
}

// Entries returns the output's entries for a domain.
func (o *Output) Entries(d Domain) []map[string]any {
	switch d {
	case DomainMedia:
		return o.Media
	case DomainDevice:
		return o.Device
	case DomainNotify:
		return o.Notify
	case DomainPublish:
		return o.Publish
	}
	return nil
}

// Rules is the validated rules tree: outputs, tag argument layers,
// domain defaults and the logical-to-physical entity alias map.
type Rules struct {
	EntityAliases map[string][]string       `yaml:"entity_aliases,omitempty"`
	Tags          map[string]TagSettings    `yaml:"tags,omitempty"`
	Defaults      map[Domain]map[string]any `yaml:"defaults,omitempty"`
	Outputs       []Output                  `yaml:"outputs"`
}

// ExpandEntity maps a logical entity to its underlying physical
// entities. An entity with no alias is its own expansion.
func (r *Rules) ExpandEntity(entityID string) []string {
	if physical, ok := r.EntityAliases[entityID]; ok {
		return physical
	}
	return []string{entityID}
}

// LoadRules reads and validates a rules file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// Validate checks the rules tree for problems that must be rejected at
// load time rather than surfacing mid-event.
func (r *Rules) Validate() error {
	for tag, settings := range r.Tags {
		if settings.Priority != nil {
			if p := *settings.Priority; p < 0 || p > 100 {
				return fmt.Errorf("%w: tag %q priority %d outside 0-100", ErrInvalidRules, tag, p)
			}
		}
	}

	for alias, physical := range r.EntityAliases {
		if len(physical) == 0 {
			return fmt.Errorf("%w: entity alias %q expands to nothing", ErrInvalidRules, alias)
		}
	}

	if len(r.Outputs) == 0 {
		return fmt.Errorf("%w: no outputs defined", ErrInvalidRules)
	}

	for i, out := range r.Outputs {
		name := out.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if len(out.Media)+len(out.Device)+len(out.Notify)+len(out.Publish) == 0 {
			return fmt.Errorf("%w: output %s has no action entries", ErrInvalidRules, name)
		}
		for _, entry := range out.Media {
			if err := validateEntities(entry, name, "media"); err != nil {
				return err
			}
		}
		for _, entry := range out.Device {
			if err := validateEntities(entry, name, "device"); err != nil {
				return err
			}
			if cmd, ok := entry["command"].(string); ok {
				switch cmd {
				case "turn_on", "turn_off", "toggle", "breathe":
				default:
					return fmt.Errorf("%w: output %s device command %q unknown", ErrInvalidRules, name, cmd)
				}
			}
		}
		for _, entry := range out.Notify {
			if _, ok := entry["service"].(string); !ok {
				return fmt.Errorf("%w: output %s notify entry missing service", ErrInvalidRules, name)
			}
		}
		for _, entry := range out.Publish {
			if _, ok := entry["topic"].(string); !ok {
				return fmt.Errorf("%w: output %s publish entry missing topic", ErrInvalidRules, name)
			}
		}
	}
	return nil
}

func validateEntities(entry map[string]any, output, domain string) error {
	raw, ok := entry["entities"]
	if !ok {
		return fmt.Errorf("%w: output %s %s entry missing entities", ErrInvalidRules, output, domain)
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return fmt.Errorf("%w: output %s %s entry has empty entities", ErrInvalidRules, output, domain)
	}
	return nil
}
