package controller

import "github.com/nerrad567/status-core/internal/actions"

// Observer receives lifecycle notifications from the controller. Used
// for audit records, metrics and live API feeds. Implementations must
// be fast or hand off to their own goroutines: some notifications fire
// on the coordinator.
type Observer interface {
	// EventQueued fires when an event is accepted into the pending queue.
	EventQueued(ev *Event, priority int, force bool)

	// EventDropped fires when an event matches no output.
	EventDropped(ev *Event)

	// EventAdmitted fires when the scheduler admits an event and its
	// actions have been built.
	EventAdmitted(ev *Event, actionCount int)

	// ActionFinished fires when an action leaves the lock table, either
	// by completing on its own or by forced preemption.
	ActionFinished(a actions.Action, forced bool)
}

// NopObserver ignores every notification. Embed it to implement a
// subset of Observer.
type NopObserver struct{}

func (NopObserver) EventQueued(*Event, int, bool)       {}
func (NopObserver) EventDropped(*Event)                 {}
func (NopObserver) EventAdmitted(*Event, int)           {}
func (NopObserver) ActionFinished(actions.Action, bool) {}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) EventQueued(ev *Event, priority int, force bool) {
	for _, o := range m {
		o.EventQueued(ev, priority, force)
	}
}

func (m MultiObserver) EventDropped(ev *Event) {
	for _, o := range m {
		o.EventDropped(ev)
	}
}

func (m MultiObserver) EventAdmitted(ev *Event, actionCount int) {
	for _, o := range m {
		o.EventAdmitted(ev, actionCount)
	}
}

func (m MultiObserver) ActionFinished(a actions.Action, forced bool) {
	for _, o := range m {
		o.ActionFinished(a, forced)
	}
}
