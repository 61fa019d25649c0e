package controller

import "errors"

// Sentinel errors for event intake and rules loading.
var (
	// ErrMalformedEvent indicates an inbound payload that is not valid JSON.
	ErrMalformedEvent = errors.New("controller: malformed event payload")

	// ErrMissingTags indicates an event with no tags; tags are mandatory.
	ErrMissingTags = errors.New("controller: event has no tags")

	// ErrNotRunning indicates an event was added before Start or after Stop.
	ErrNotRunning = errors.New("controller: not running")

	// ErrInvalidRules indicates the rules file failed validation.
	ErrInvalidRules = errors.New("controller: invalid rules")
)
