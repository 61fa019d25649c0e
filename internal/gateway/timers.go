package gateway

import (
	"sync"
	"time"
)

// Timers is the production Scheduler, backed by the runtime timer heap.
//
// One-shot callbacks use time.AfterFunc; repeating callbacks run in a
// dedicated goroutine with a ticker. Callbacks fire on their own
// goroutines and must do their own locking.
//
// Thread Safety: all methods are safe for concurrent use.
type Timers struct {
	mu     sync.Mutex
	nextID Handle
	oneOff map[Handle]*time.Timer
	tick   map[Handle]chan struct{}
}

// NewTimers creates an empty timer table.
func NewTimers() *Timers {
	return &Timers{
		oneOff: make(map[Handle]*time.Timer),
		tick:   make(map[Handle]chan struct{}),
	}
}

// ScheduleAfter runs fn once after d.
func (t *Timers) ScheduleAfter(d time.Duration, fn func()) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	handle := t.nextID

	t.oneOff[handle] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.oneOff, handle)
		t.mu.Unlock()
		fn()
	})
	return handle
}

// ScheduleEvery runs fn every interval until cancelled.
func (t *Timers) ScheduleEvery(interval time.Duration, fn func()) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	handle := t.nextID

	stop := make(chan struct{})
	t.tick[handle] = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()
	return handle
}

// Cancel stops a scheduled callback. Cancelling an unknown, fired or
// already-cancelled handle is a no-op.
func (t *Timers) Cancel(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.oneOff[h]; ok {
		timer.Stop()
		delete(t.oneOff, h)
	}
	if stop, ok := t.tick[h]; ok {
		close(stop)
		delete(t.tick, h)
	}
}

// Pending returns the number of scheduled callbacks. Used by health
// reporting and tests.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.oneOff) + len(t.tick)
}
