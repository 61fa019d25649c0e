package controller

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Domain is a category of action an output can issue.
type Domain string

const (
	DomainMedia   Domain = "media"
	DomainDevice  Domain = "device"
	DomainNotify  Domain = "notify"
	DomainPublish Domain = "publish"
)

// domainOrder is the fixed order in which the factory walks an event's
// matched entries. Media first: grouped speakers are the most
// latency-sensitive output.
var domainOrder = []Domain{DomainMedia, DomainDevice, DomainNotify, DomainPublish}

// Event is an immutable tagged status event. Tags drive output
// matching; the per-domain args override tag-level and default
// arguments for this event only.
type Event struct {
	ID       string
	Tags     []string
	Args     map[Domain]map[string]any
	Priority *int
	Force    *bool
	Received time.Time
}

// HasTag reports whether the event carries the given tag.
func (e *Event) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// eventPayload is the inbound wire shape. Tags is mandatory; everything
// else is optional.
type eventPayload struct {
	Tags     []string       `json:"tags"`
	Priority *int           `json:"priority,omitempty"`
	Force    *bool          `json:"force,omitempty"`
	Media    map[string]any `json:"media,omitempty"`
	Device   map[string]any `json:"device,omitempty"`
	Notify   map[string]any `json:"notify,omitempty"`
	Publish  map[string]any `json:"publish,omitempty"`
}

// ParseEvent decodes an inbound event payload and assigns it an ID.
func ParseEvent(data []byte) (*Event, error) {
	var payload eventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, ErrMalformedEvent
	}
	if len(payload.Tags) == 0 {
		return nil, ErrMissingTags
	}

	args := make(map[Domain]map[string]any)
	if payload.Media != nil {
		args[DomainMedia] = payload.Media
	}
	if payload.Device != nil {
		args[DomainDevice] = payload.Device
	}
	if payload.Notify != nil {
		args[DomainNotify] = payload.Notify
	}
	if payload.Publish != nil {
		args[DomainPublish] = payload.Publish
	}

	return &Event{
		ID:       uuid.New().String(),
		Tags:     payload.Tags,
		Args:     args,
		Priority: payload.Priority,
		Force:    payload.Force,
		Received: time.Now().UTC(),
	}, nil
}

// pendingEvent is one queue entry awaiting admission: the event, its
// resolved control settings and the outputs whose conditions matched at
// arrival time.
type pendingEvent struct {
	event    *Event
	priority int
	force    bool
	outputs  []*Output
}
