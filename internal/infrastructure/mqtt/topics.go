package mqtt

import "fmt"

// Topic prefixes for the Status Core MQTT hierarchy.
//
// Entity state is mirrored onto retained state topics, service calls
// go out on service topics, and inbound status events arrive on the
// event topic.
const (
	// TopicPrefix is the base for all Status Core topics.
	TopicPrefix = "statuscore"

	// TopicPrefixState is the base for retained entity state topics.
	TopicPrefixState = "statuscore/state"

	// TopicPrefixService is the base for outbound service call topics.
	TopicPrefixService = "statuscore/service"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "statuscore/system"
)

// Topics provides builders for Status Core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.EntityState("light.porch")
//	// Returns: "statuscore/state/light.porch"
type Topics struct{}

// EntityState returns the retained state topic for one entity.
//
// Example: statuscore/state/light.porch
func (Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixState, entityID)
}

// Service returns the topic a service call is published to.
//
// Example: statuscore/service/media_player/play_media
func (Topics) Service(domain, name string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixService, domain, name)
}

// Event returns the inbound status event topic.
//
// Example: statuscore/event
func (Topics) Event() string {
	return fmt.Sprintf("%s/event", TopicPrefix)
}

// ButtonEvent returns the inbound button event topic.
//
// Example: statuscore/button
func (Topics) ButtonEvent() string {
	return fmt.Sprintf("%s/button", TopicPrefix)
}

// AutomationStatus returns the retained status topic of a named
// automation.
//
// Example: statuscore/automation/hallway-lights/status
func (Topics) AutomationStatus(name string) string {
	return fmt.Sprintf("%s/automation/%s/status", TopicPrefix, name)
}

// ControllerStatus returns the topic the controller publishes its
// status snapshot to.
//
// Example: statuscore/controller/status
func (Topics) ControllerStatus() string {
	return fmt.Sprintf("%s/controller/status", TopicPrefix)
}

// SystemStatus returns the system status topic, also used for the
// broker LWT so subscribers see an ungraceful exit.
//
// Example: statuscore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: statuscore/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// AllEntityStates returns a pattern matching every retained entity
// state topic.
//
// Pattern: statuscore/state/#
func (Topics) AllEntityStates() string {
	return fmt.Sprintf("%s/#", TopicPrefixState)
}

// AllServiceCalls returns a pattern matching every outbound service
// call.
//
// Pattern: statuscore/service/+/+
func (Topics) AllServiceCalls() string {
	return fmt.Sprintf("%s/+/+", TopicPrefixService)
}

// AllTopics returns a pattern matching all Status Core topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: statuscore/#
func (Topics) AllTopics() string {
	return "statuscore/#"
}
