package actions

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/status-core/internal/gateway"
)

// Action is a polymorphic unit of work with a lifecycle.
//
// Lifecycle: construct → Prepare (user-invisible setup, called exactly
// once) → Act (user-visible effect, may schedule its own completion) →
// Complete (terminal). Complete is guarded: concurrent calls from a
// timer callback and a forced preemption are both safe and only the
// first wins.
type Action interface {
	// Prepare performs setup with no user-visible effect.
	Prepare()

	// Act performs the user-visible effect. Time-bounded variants
	// schedule their own completion timer here.
	Act()

	// Complete finishes the action exactly once. A nil forced set is a
	// normal finish and runs the variant's finish policy. A non-nil set
	// is a forced preemption: the named entities are denied their
	// finish policy, and grouped media stops playback when its primary
	// member is in the set.
	Complete(forced []string)

	// IsFinished reports whether the action has completed.
	// Safe to call from any goroutine.
	IsFinished() bool

	// Priority returns the priority assigned at construction (0-100).
	Priority() int

	// Entities returns the physical entity IDs this action claims.
	// Fire-and-forget actions claim none.
	Entities() []string
}

// CompleteFunc is invoked after an action finishes. The scheduler uses
// it to wake its coordinator; implementations must not call back into
// the action.
type CompleteFunc func(Action)

// Logger is the logging interface used by actions.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// base carries the lifecycle state shared by every variant: the
// guarded exactly-once finished transition, the completion callback and
// the static priority.
type base struct {
	once       sync.Once
	finished   atomic.Bool
	onComplete CompleteFunc
	priority   int
	logger     Logger
}

func newBase(priority int, onComplete CompleteFunc, logger Logger) base {
	if logger == nil {
		logger = noopLogger{}
	}
	return base{
		onComplete: onComplete,
		priority:   priority,
		logger:     logger,
	}
}

// IsFinished reports whether the action has completed.
func (b *base) IsFinished() bool {
	return b.finished.Load()
}

// Priority returns the priority assigned at construction.
func (b *base) Priority() int {
	return b.priority
}

// finish runs fn exactly once, marks the action finished and notifies
// the completion callback. Later calls are no-ops, which makes a timer
// completion racing a forced kill safe.
func (b *base) finish(self Action, fn func()) {
	b.once.Do(func() {
		if fn != nil {
			fn()
		}
		b.finished.Store(true)
		if b.onComplete != nil {
			b.onComplete(self)
		}
	})
}

// timedBase extends base with a self-scheduled completion timer for
// variants whose effect has a bounded lifetime. It is composed into
// variants rather than layered into a class hierarchy.
type timedBase struct {
	base
	sched  gateway.Scheduler
	length time.Duration

	timerMu       sync.Mutex
	completeTimer gateway.Handle
	timerSet      bool
}

func newTimedBase(priority int, length time.Duration, sched gateway.Scheduler, onComplete CompleteFunc, logger Logger) timedBase {
	return timedBase{
		base:   newBase(priority, onComplete, logger),
		sched:  sched,
		length: length,
	}
}

// scheduleComplete arms the completion timer. Re-arming replaces any
// existing timer (cancel + recreate).
func (t *timedBase) scheduleComplete(self Action) {
	if t.IsFinished() {
		return
	}

	t.timerMu.Lock()
	defer t.timerMu.Unlock()

	if t.timerSet {
		t.sched.Cancel(t.completeTimer)
	}
	t.completeTimer = t.sched.ScheduleAfter(t.length, func() {
		self.Complete(nil)
	})
	t.timerSet = true
}

// cancelCompleteTimer disarms the completion timer if armed.
func (t *timedBase) cancelCompleteTimer() {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()

	if t.timerSet {
		t.sched.Cancel(t.completeTimer)
		t.timerSet = false
	}
}

// inForcedSet reports whether entityID is named in a forced set.
func inForcedSet(forced []string, entityID string) bool {
	for _, id := range forced {
		if id == entityID {
			return true
		}
	}
	return false
}
