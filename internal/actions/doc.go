// Package actions implements the units of work dispatched by the
// controller: grouped media announcements and playback, light commands
// with hold-and-finish semantics, a pulsing breathe effect, and
// fire-and-forget notify and publish calls.
//
// Every action moves through the same lifecycle. Prepare performs
// setup with no user-visible effect, Act performs the visible effect
// and arms any self-completion timer, and Complete finishes the action
// exactly once regardless of whether the call came from a timer or a
// forced preemption. Actions report the physical entities they claim
// through Entities; the controller uses that set for contention
// tracking.
//
// Actions never talk to devices directly. All outbound effects go
// through the gateway interfaces, so the package is testable with
// in-memory fakes.
package actions
