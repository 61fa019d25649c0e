package gateway

import (
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrEntityUnknown is returned when no state has been observed for
	// an entity.
	ErrEntityUnknown = errors.New("gateway: entity unknown")

	// ErrInvalidService is returned when a service name is not of the
	// form "domain/name".
	ErrInvalidService = errors.New("gateway: invalid service name")
)

// EntityState is the last observed state of an entity, including its
// attributes (brightness, colour, volume, ...).
type EntityState struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// StateReader reads current entity state. Reads are synchronous against
// a local cache; they never block on the network.
type StateReader interface {
	// GetState returns the bare state string of an entity.
	GetState(entityID string) (string, error)

	// GetEntityState returns the full state including attributes.
	GetEntityState(entityID string) (EntityState, error)
}

// ServiceCaller invokes a named service with keyword arguments.
// Calls are fire-and-forget: an error means the call could not be
// issued, not that the device rejected it.
type ServiceCaller interface {
	CallService(service string, args map[string]any) error
}

// StateChangeFunc receives entity state transitions. old is empty for
// the first observation of an entity.
type StateChangeFunc func(entityID, old, new string)

// StateWatcher registers callbacks for entity state transitions.
// Callbacks fire on the gateway's delivery goroutine and must not
// block.
type StateWatcher interface {
	WatchState(entityID string, fn StateChangeFunc)
}

// Handle identifies a scheduled callback for cancellation.
type Handle uint64

// Scheduler schedules one-shot and repeating callbacks.
//
// Cancel is safe to call with an already-fired or already-cancelled
// handle, so callers may cancel-and-recreate freely when re-triggered.
type Scheduler interface {
	// ScheduleAfter runs fn once after d.
	ScheduleAfter(d time.Duration, fn func()) Handle

	// ScheduleEvery runs fn every interval until cancelled. The first
	// run happens after one interval.
	ScheduleEvery(interval time.Duration, fn func()) Handle

	// Cancel stops a scheduled callback.
	Cancel(h Handle)
}

// Gateway is the controller's view of the outside world: entity state
// in, service calls out.
type Gateway interface {
	StateReader
	ServiceCaller
}
