package autolight

import (
	"time"

	"github.com/nerrad567/status-core/internal/gateway"
)

// timer is a cancel-and-recreate one-shot over the gateway scheduler.
// It tracks its own expiry so status reports can show time remaining.
//
// Not self-locking: the owning automation serialises access under its
// mutex, and fire() clears the armed flag before the callback runs so
// callbacks observe the timer as expired.
type timer struct {
	sched gateway.Scheduler
	name  string
	d     time.Duration
	fn    func()

	handle  gateway.Handle
	armed   bool
	expires time.Time
}

func newTimer(sched gateway.Scheduler, name string, d time.Duration, fn func()) *timer {
	return &timer{sched: sched, name: name, d: d, fn: fn}
}

// create arms the timer for its default duration, replacing any
// previous arming.
func (t *timer) create(now time.Time) {
	t.createFor(now, t.d)
}

// createFor arms the timer for d, replacing any previous arming.
func (t *timer) createFor(now time.Time, d time.Duration) {
	t.cancel()
	t.armed = true
	t.expires = now.Add(d)
	t.handle = t.sched.ScheduleAfter(d, t.fire)
}

// cancel disarms the timer. Safe on an unarmed timer.
func (t *timer) cancel() {
	if !t.armed {
		return
	}
	t.sched.Cancel(t.handle)
	t.reset()
}

func (t *timer) reset() {
	t.armed = false
	t.expires = time.Time{}
}

// fire runs on the scheduler goroutine; the callback must take the
// automation mutex itself.
func (t *timer) fire() {
	t.fn()
}

// active reports whether the timer is armed.
func (t *timer) active() bool {
	return t.armed
}

// remaining returns the time until expiry, zero when unarmed.
func (t *timer) remaining(now time.Time) time.Duration {
	if !t.armed {
		return 0
	}
	if d := t.expires.Sub(now); d > 0 {
		return d
	}
	return 0
}
