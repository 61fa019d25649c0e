package controller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/status-core/internal/actions"
	"github.com/nerrad567/status-core/internal/conditions"
	"github.com/nerrad567/status-core/internal/gateway"
)

// Logger is the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Status is a point-in-time view of the controller for the API and
// health surfaces.
type Status struct {
	Running            bool     `json:"running"`
	QueueDepth         int      `json:"queue_depth"`
	ActiveActions      int      `json:"active_actions"`
	LockedEntities     []string `json:"locked_entities"`
	GlobalSnapshotHeld bool     `json:"global_snapshot_held"`
	EntitySnapshots    int      `json:"entity_snapshots"`
}

// Controller is the single coordinator: it owns the pending-event
// queue, the entity lock table and the snapshot store, and decides per
// wake cycle which events are admitted, postponed or admitted by
// force-preempting the incumbents.
//
// All shared state is guarded by one mutex, which also backs the
// condition variable the coordinator sleeps on. Action completion
// callbacks only ever wake the coordinator; table mutation happens
// exclusively on the coordinator goroutine.
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	rules     *Rules
	gw        gateway.Gateway
	sched     gateway.Scheduler
	locks     *lockTable
	snapshots *snapshotStore
	factory   *factory

	queue    []*pendingEvent
	inflight map[actions.Action]bool
	running  bool
	dirty    bool
	stopped  chan struct{}

	observer Observer
	logger   Logger
}

// New creates a controller. It does not start the coordinator; call
// Start.
func New(rules *Rules, gw gateway.Gateway, sched gateway.Scheduler, pub actions.Publisher) *Controller {
	c := &Controller{
		rules:    rules,
		gw:       gw,
		sched:    sched,
		observer: NopObserver{},
		logger:   noopLogger{},
	}
	c.cond = sync.NewCond(&c.mu)
	c.inflight = make(map[actions.Action]bool)
	c.locks = newLockTable()
	c.snapshots = newSnapshotStore(gw, c.logger)
	c.factory = &factory{
		rules:      rules,
		gw:         gw,
		sched:      sched,
		pub:        pub,
		locks:      c.locks,
		snapshots:  c.snapshots,
		onComplete: c.actionCompleted,
		logger:     c.logger,
	}
	return c
}

// SetLogger installs a logger. Call before Start.
func (c *Controller) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	c.logger = logger
	c.factory.logger = logger
	c.snapshots.logger = logger
}

// SetObserver installs an observer for lifecycle notifications. Call
// before Start.
func (c *Controller) SetObserver(observer Observer) {
	if observer == nil {
		return
	}
	c.observer = observer
}

// Start launches the coordinator goroutine. The controller stops when
// ctx is cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopped = make(chan struct{})
	c.mu.Unlock()

	go c.run()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	c.logger.Info("controller started", "outputs", len(c.rules.Outputs))
	return nil
}

// Stop shuts the coordinator down, completing any in-flight actions,
// and blocks until it has exited. Safe to call twice.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stopped := c.stopped
	c.cond.Broadcast()
	c.mu.Unlock()

	<-stopped
	c.logger.Info("controller stopped")
}

// Add matches an event against the configured outputs and queues it
// for the next scheduler cycle. Events matching no output are dropped
// silently; contention is never surfaced to the caller.
func (c *Controller) Add(ev *Event) error {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	outputs := c.matchOutputs(ev)
	if len(outputs) == 0 {
		c.logger.Debug("event matched no outputs, dropping", "event_id", ev.ID, "tags", ev.Tags)
		c.observer.EventDropped(ev)
		return nil
	}

	priority, force := c.rules.resolveControl(ev, outputs)

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.queue = append(c.queue, &pendingEvent{
		event:    ev,
		priority: priority,
		force:    force,
		outputs:  outputs,
	})
	c.dirty = true
	c.cond.Signal()
	c.mu.Unlock()

	c.logger.Debug("event queued",
		"event_id", ev.ID, "tags", ev.Tags, "priority", priority, "force", force, "outputs", len(outputs))
	c.observer.EventQueued(ev, priority, force)
	return nil
}

// Status returns a snapshot of the controller's state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	locked := make([]string, 0, c.locks.size())
	for id := range c.locks.lockedEntities() {
		locked = append(locked, id)
	}
	sort.Strings(locked)

	return Status{
		Running:            c.running,
		QueueDepth:         len(c.queue),
		ActiveActions:      len(c.locks.activeActions()),
		LockedEntities:     locked,
		GlobalSnapshotHeld: c.snapshots.globalIsHeld(),
		EntitySnapshots:    c.snapshots.heldEntities(),
	}
}

// matchOutputs evaluates every output's condition against the event.
// Runs without the controller mutex: state reads go to the gateway's
// local cache.
func (c *Controller) matchOutputs(ev *Event) []*Output {
	tags := make(map[string]struct{}, len(ev.Tags))
	for _, tag := range ev.Tags {
		tags[tag] = struct{}{}
	}
	ctx := conditions.Context{
		Now:      time.Now(),
		Tags:     tags,
		GetState: c.gw.GetState,
	}

	var matched []*Output
	for i := range c.rules.Outputs {
		out := &c.rules.Outputs[i]
		ok, err := conditions.Evaluate(out.Condition, ctx)
		if err != nil {
			c.logger.Error("condition evaluation failed, skipping output",
				"output", out.Name, "event_id", ev.ID, "error", err)
			continue
		}
		if ok {
			matched = append(matched, out)
		}
	}
	return matched
}

// actionCompleted is the completion callback wired into every action.
// It may fire from a timer goroutine or from the coordinator itself
// during a forced preemption, so the wake is asynchronous.
func (c *Controller) actionCompleted(actions.Action) {
	go func() {
		c.mu.Lock()
		c.dirty = true
		c.cond.Signal()
		c.mu.Unlock()
	}()
}

// run is the coordinator loop: sleep until woken, clear finished
// actions, walk the queue, execute what was admitted, reconcile
// snapshots.
func (c *Controller) run() {
	c.mu.Lock()
	for {
		for c.running && !c.dirty {
			c.cond.Wait()
		}
		if !c.running {
			c.shutdownLocked()
			c.mu.Unlock()
			return
		}
		c.dirty = false

		c.locks.removeFinished()
		for a := range c.inflight {
			if a.IsFinished() {
				delete(c.inflight, a)
				c.observer.ActionFinished(a, false)
			}
		}

		batches := c.admitPending()

		if len(batches) > 0 {
			// Execution happens off the mutex: workers block on
			// outbound calls and fast actions complete inline.
			c.mu.Unlock()
			for _, batch := range batches {
				c.executeBatch(batch)
			}
			c.mu.Lock()
		}

		c.reconcileSnapshots()
	}
}

// admitPending walks the queue in descending priority. Contended
// entries without force stay queued; contended entries with force have
// the incumbents completed first. A postponed entry never blocks later
// uncontended entries in the same pass.
func (c *Controller) admitPending() [][]actions.Action {
	sort.SliceStable(c.queue, func(i, j int) bool {
		return c.queue[i].priority > c.queue[j].priority
	})

	var remaining []*pendingEvent
	var batches [][]actions.Action

	for _, entry := range c.queue {
		touched := c.touchedEntities(entry)
		conflicting := c.locks.conflicts(touched)

		if len(conflicting) > 0 {
			if !entry.force {
				c.logger.Debug("event postponed: entities locked",
					"event_id", entry.event.ID, "entities", touched)
				remaining = append(remaining, entry)
				continue
			}
			for _, incumbent := range conflicting {
				c.logger.Info("force-completing incumbent action",
					"event_id", entry.event.ID, "entities", incumbent.Entities())
				incumbent.Complete(touched)
				c.locks.release(incumbent)
				delete(c.inflight, incumbent)
				c.observer.ActionFinished(incumbent, true)
			}
		}

		built := c.factory.build(entry.event, entry.outputs)
		for _, a := range built {
			c.inflight[a] = true
		}
		c.logger.Info("event admitted",
			"event_id", entry.event.ID, "priority", entry.priority, "actions", len(built))
		c.observer.EventAdmitted(entry.event, len(built))
		if len(built) > 0 {
			batches = append(batches, built)
		}
	}

	c.queue = remaining
	return batches
}

// touchedEntities computes the physical entities an entry's matched
// outputs would claim, for contention checking.
func (c *Controller) touchedEntities(entry *pendingEvent) []string {
	seen := make(map[string]bool)
	var out []string

	collect := func(domain Domain, entries []map[string]any) {
		for _, raw := range entries {
			resolved := c.rules.resolveArgs(entry.event, domain, raw)
			for _, logical := range getStringList(resolved, "entities") {
				for _, physical := range c.rules.ExpandEntity(logical) {
					if !seen[physical] {
						seen[physical] = true
						out = append(out, physical)
					}
				}
			}
		}
	}

	for _, output := range entry.outputs {
		collect(DomainMedia, output.Entries(DomainMedia))
		collect(DomainDevice, output.Entries(DomainDevice))
	}
	return out
}

// executeBatch runs one event's actions band by band, highest priority
// first. Within a band every Prepare is issued concurrently and joined,
// then every Act is issued concurrently and joined; Act returns once
// the call is issued, so the join does not wait out action lifetimes.
func (c *Controller) executeBatch(batch []actions.Action) {
	bands := make(map[int][]actions.Action)
	var priorities []int
	for _, a := range batch {
		p := a.Priority()
		if _, ok := bands[p]; !ok {
			priorities = append(priorities, p)
		}
		bands[p] = append(bands[p], a)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	for _, p := range priorities {
		band := bands[p]

		var prepare sync.WaitGroup
		for _, a := range band {
			prepare.Add(1)
			go func(a actions.Action) {
				defer prepare.Done()
				c.runPhase(a, "prepare", a.Prepare)
			}(a)
		}
		prepare.Wait()

		var act sync.WaitGroup
		for _, a := range band {
			act.Add(1)
			go func(a actions.Action) {
				defer act.Done()
				c.runPhase(a, "act", a.Act)
			}(a)
		}
		act.Wait()
	}
}

// runPhase guards one lifecycle call. A panic is logged and the action
// is completed so it cannot hold its entities forever.
func (c *Controller) runPhase(a actions.Action, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("action phase panicked",
				"phase", phase, "entities", a.Entities(), "panic", r)
			a.Complete(nil)
		}
	}()
	fn()
}

// reconcileSnapshots restores the global media snapshot once no
// grouped-media action remains, and discards per-entity captures whose
// entity is no longer locked.
func (c *Controller) reconcileSnapshots() {
	if c.snapshots.globalIsHeld() && !c.mediaActive() {
		c.logger.Debug("restoring global media snapshot")
		c.snapshots.restoreGlobal()
	}
	c.snapshots.discardUnreferenced(c.locks.lockedEntities())
}

// mediaActive reports whether any grouped-media action still holds an
// entity.
func (c *Controller) mediaActive() bool {
	for _, a := range c.locks.activeActions() {
		switch a.(type) {
		case *actions.SpeakAction, *actions.PlayMediaAction:
			return true
		}
	}
	return false
}

// shutdownLocked completes every in-flight action and abandons the
// queue. Called with the mutex held as the coordinator exits.
func (c *Controller) shutdownLocked() {
	for a := range c.inflight {
		a.Complete(nil)
		c.locks.release(a)
		delete(c.inflight, a)
	}
	c.reconcileSnapshots()
	c.queue = nil
	close(c.stopped)
}
