package autolight

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/status-core/internal/conditions"
	"github.com/nerrad567/status-core/internal/gateway"
)

// Logger is the logging interface used by automations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Gateway is the automation's view of the world: state in, calls out,
// plus change notifications for its trigger and state entities.
type Gateway interface {
	gateway.Gateway
	gateway.StateWatcher
}

// Publisher publishes retained status snapshots.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Automation status states.
const (
	StatusManual  = "manual"
	StatusTimer   = "auto_timer"
	StatusBlocked = "blocked"
	StatusWaiting = "waiting"
)

// statusInterval is how often the retained status snapshot refreshes.
const statusInterval = 10 * time.Second

// Status is the published automation snapshot.
type Status struct {
	State                 string `json:"state"`
	TimeRemaining         string `json:"time_remaining,omitempty"`
	LastTriggerActivate   string `json:"last_trigger_activate,omitempty"`
	LastTriggerDeactivate string `json:"last_trigger_deactivate,omitempty"`
	WillExtend            string `json:"will_extend,omitempty"`
}

// Automation is one auto-light instance.
//
// All mutable state sits behind one mutex; gateway watch callbacks and
// scheduler callbacks both serialise through it.
type Automation struct {
	cfg    Config
	gw     Gateway
	sched  gateway.Scheduler
	pub    Publisher
	logger Logger
	nowFn  func() time.Time

	mu             sync.Mutex
	manual         bool
	autoTimer      *timer
	hardTimer      *timer
	blockTimer     *timer
	lastActivate   time.Time
	lastDeactivate time.Time
	lastTrigger    map[bool]string // keyed by activate
	statusHandle   gateway.Handle
	statusArmed    bool
}

// New creates an automation. It does nothing until Start is called.
func New(cfg Config, gw Gateway, sched gateway.Scheduler, pub Publisher) (*Automation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Automation{
		cfg:         cfg,
		gw:          gw,
		sched:       sched,
		pub:         pub,
		logger:      noopLogger{},
		nowFn:       time.Now,
		lastTrigger: make(map[bool]string),
	}
	a.autoTimer = newTimer(sched, "auto", cfg.autoTimeout(), func() { a.timerExpired(a.autoTimer, a.autoExpired) })
	a.hardTimer = newTimer(sched, "hard", cfg.hardTimeout(), func() { a.timerExpired(a.hardTimer, a.hardExpired) })
	a.blockTimer = newTimer(sched, "block", 0, func() { a.timerExpired(a.blockTimer, func() {}) })
	return a, nil
}

// SetLogger sets the logger for the automation.
func (a *Automation) SetLogger(logger Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// Start registers state watchers and arms the hard timer if anything
// is already on.
func (a *Automation) Start() error {
	for _, entityID := range conditions.ExtractEntities(a.cfg.TriggerActivate) {
		a.gw.WatchState(entityID, func(id, _, newState string) {
			a.trigger(id, newState, true)
		})
	}
	for _, entityID := range conditions.ExtractEntities(a.cfg.TriggerDeactivate) {
		a.gw.WatchState(entityID, func(id, _, newState string) {
			a.trigger(id, newState, false)
		})
	}
	for _, ref := range a.cfg.stateEntities() {
		a.gw.WatchState(ref.EntityID, func(_, old, newState string) {
			a.stateChanged(old, newState)
		})
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.anyStateEntityOn() {
		a.hardTimer.create(a.nowFn())
	}
	if a.cfg.StatusTopic != "" && a.pub != nil {
		a.statusHandle = a.sched.ScheduleEvery(statusInterval, a.publishStatus)
		a.statusArmed = true
	}

	a.logger.Info("auto-light automation started", "name", a.cfg.Name)
	return nil
}

// Stop cancels all timers and the status loop.
func (a *Automation) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.autoTimer.cancel()
	a.hardTimer.cancel()
	a.blockTimer.cancel()
	if a.statusArmed {
		a.sched.Cancel(a.statusHandle)
		a.statusArmed = false
	}
}

// timerExpired funnels scheduler callbacks through the mutex, ignoring
// firings that lost a cancel-and-recreate race.
func (a *Automation) timerExpired(t *timer, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t.armed && a.nowFn().Before(t.expires) {
		// Re-armed after this firing was scheduled.
		return
	}
	t.reset()
	fn()
	a.publishStatusLocked()
}

// autoExpired handles auto-timer expiry: extend or switch off.
func (a *Automation) autoExpired() {
	a.logger.Debug("auto timer expired", "name", a.cfg.Name)

	if a.shouldExtend() {
		a.logger.Info("extending auto timer", "name", a.cfg.Name)
		a.autoTimer.create(a.nowFn())
		return
	}

	if out := a.bestOutput(); out != nil {
		a.apply(out, false)
	}
}

// hardExpired switches off unconditionally.
func (a *Automation) hardExpired() {
	a.logger.Debug("hard timer expired", "name", a.cfg.Name)

	if out := a.bestOutput(); out != nil {
		a.apply(out, false)
	}
}

// trigger handles a trigger entity changing state.
func (a *Automation) trigger(entityID, newState string, activate bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.manual {
		a.logger.Debug("trigger skipped in manual mode", "name", a.cfg.Name, "entity_id", entityID)
		return
	}

	condition := a.cfg.TriggerActivate
	if !activate {
		condition = a.cfg.TriggerDeactivate
	}
	triggered, err := conditions.Evaluate(condition, conditions.Context{
		Now:      a.nowFn(),
		Triggers: map[string]string{entityID: newState},
		GetState: a.gw.GetState,
	})
	if err != nil {
		a.logger.Warn("trigger condition failed", "name", a.cfg.Name, "error", err)
		return
	}
	if !triggered {
		return
	}

	out := a.bestOutput()
	if out == nil {
		return
	}

	if block := a.flapBlock(activate); block > 0 {
		a.logger.Info("blocking flapping trigger",
			"name", a.cfg.Name, "entity_id", entityID, "activate", activate, "block", block)
		a.blockTimer.createFor(a.nowFn(), block)
		a.publishStatusLocked()
		return
	}

	if activate {
		a.autoTimer.create(a.nowFn())
	}
	a.apply(out, activate)
	a.lastTrigger[activate] = entityID

	a.publishStatusLocked()
}

// flapBlock returns how long a trigger should be blocked to stop
// on/off flapping, or zero to proceed.
//
// An action is blocked when both directions fired inside the gap
// window and the opposite direction was the more recent one. Repeats
// of the same direction inside the window stay allowed (walking past
// several motion sensors).
func (a *Automation) flapBlock(activate bool) time.Duration {
	if a.lastActivate.IsZero() || a.lastDeactivate.IsZero() {
		return 0
	}

	now := a.nowFn()
	gap := a.cfg.minActionGap()
	if now.Sub(a.lastActivate) >= gap || now.Sub(a.lastDeactivate) >= gap {
		return 0
	}

	flapping := (a.lastActivate.After(a.lastDeactivate) && !activate) ||
		(a.lastActivate.Before(a.lastDeactivate) && activate)
	if !flapping {
		return 0
	}

	same := a.lastActivate
	if !activate {
		same = a.lastDeactivate
	}
	return gap - now.Sub(same)
}

// stateChanged handles a state entity transition: manual use detection
// and timer upkeep.
func (a *Automation) stateChanged(old, newState string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Debug("state entity changed", "name", a.cfg.Name, "old", old, "new", newState)

	if a.anyStateEntityOn() {
		// Any state movement while on resets the hard bound.
		a.hardTimer.create(a.nowFn())

		if !a.autoTimer.active() {
			// On without an armed auto timer means someone used the
			// switch: hands off until the room goes dark.
			a.manual = true
		}
	} else {
		a.autoTimer.cancel()
		a.hardTimer.cancel()
		a.manual = false
	}

	a.publishStatusLocked()
}

// apply switches an output on or off.
func (a *Automation) apply(out *Output, activate bool) {
	entities := out.Activate
	defaultService := ServiceTurnOn
	if !activate {
		defaultService = ServiceTurnOff
		if len(out.Deactivate) > 0 {
			entities = out.Deactivate
		}
	}

	a.logger.Info("switching output", "name", a.cfg.Name, "activate", activate, "entities", len(entities))

	for _, e := range entities {
		service := e.Service
		if service == "" {
			service = defaultService
		}
		args := map[string]any{"entity_id": e.EntityID}
		if service == ServiceTurnOn {
			for k, v := range e.ServiceData {
				args[k] = v
			}
		}
		if err := a.gw.CallService(entityDomain(e.EntityID)+"/"+service, args); err != nil {
			a.logger.Warn("service call failed",
				"name", a.cfg.Name, "entity_id", e.EntityID, "service", service, "error", err)
		}
	}

	if activate {
		a.lastActivate = a.nowFn()
	} else {
		a.lastDeactivate = a.nowFn()
	}
}

// bestOutput returns the first output whose condition holds.
func (a *Automation) bestOutput() *Output {
	for i := range a.cfg.Outputs {
		out := &a.cfg.Outputs[i]
		ok, err := conditions.Evaluate(out.Condition, conditions.Context{
			Now:      a.nowFn(),
			GetState: a.gw.GetState,
		})
		if err != nil {
			a.logger.Warn("output condition failed", "name", a.cfg.Name, "output", i, "error", err)
			continue
		}
		if ok {
			return out
		}
	}
	return nil
}

// shouldExtend reports whether the extend condition holds.
func (a *Automation) shouldExtend() bool {
	if len(a.cfg.Extend) == 0 {
		return false
	}
	ok, err := conditions.Evaluate(a.cfg.Extend, conditions.Context{
		Now:      a.nowFn(),
		GetState: a.gw.GetState,
	})
	if err != nil {
		a.logger.Warn("extend condition failed", "name", a.cfg.Name, "error", err)
		return false
	}
	return ok
}

// anyStateEntityOn reports whether any state entity is in its on state.
func (a *Automation) anyStateEntityOn() bool {
	for _, ref := range a.cfg.stateEntities() {
		state, err := a.gw.GetState(ref.EntityID)
		if err == nil && state == ref.onState() {
			return true
		}
	}
	return false
}

// publishStatus is the scheduler entry point for the status loop.
func (a *Automation) publishStatus() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publishStatusLocked()
}

// publishStatusLocked publishes the retained status snapshot. Caller
// holds the mutex.
func (a *Automation) publishStatusLocked() {
	if a.cfg.StatusTopic == "" || a.pub == nil {
		return
	}

	status := a.statusLocked()
	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := a.pub.Publish(a.cfg.StatusTopic, payload, 1, true); err != nil {
		a.logger.Warn("status publish failed", "name", a.cfg.Name, "error", err)
	}
}

// statusLocked builds the status snapshot. Caller holds the mutex.
func (a *Automation) statusLocked() Status {
	status := Status{State: StatusWaiting}
	switch {
	case a.manual:
		status.State = StatusManual
	case a.blockTimer.active():
		status.State = StatusBlocked
	case a.autoTimer.active():
		status.State = StatusTimer
	}

	now := a.nowFn()
	soonest := time.Duration(0)
	for _, t := range []*timer{a.autoTimer, a.hardTimer} {
		if !t.active() {
			continue
		}
		if r := t.remaining(now); soonest == 0 || r < soonest {
			soonest = r
		}
	}
	if soonest > 0 {
		status.TimeRemaining = formatDuration(soonest)
	}

	status.LastTriggerActivate = a.lastTrigger[true]
	status.LastTriggerDeactivate = a.lastTrigger[false]

	if len(a.cfg.Extend) > 0 {
		status.WillExtend = "no"
		if a.shouldExtend() {
			status.WillExtend = "yes"
		}
	} else {
		status.WillExtend = "never"
	}
	return status
}

// Snapshot returns the current status. Exposed for tests and the API.
func (a *Automation) Snapshot() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

// formatDuration renders a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// entityDomain extracts the service domain from an entity ID.
func entityDomain(entityID string) string {
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok || domain == "" {
		return "light"
	}
	return domain
}
