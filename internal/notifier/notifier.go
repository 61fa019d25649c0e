package notifier

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/status-core/internal/conditions"
	"github.com/nerrad567/status-core/internal/gateway"
)

// Logger is the logging interface used by notifiers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Gateway is the notifier's view of the world: state reads plus change
// notifications for its trigger and suppress entities.
type Gateway interface {
	gateway.StateReader
	gateway.StateWatcher
}

// Publisher publishes the fired event to the controller's event topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Notifier is one cautious notifier instance.
//
// Clause hit times and the pending window sit behind one mutex;
// gateway watch callbacks and the window-close callback both serialise
// through it.
type Notifier struct {
	cfg    Config
	topic  string
	gw     Gateway
	sched  gateway.Scheduler
	pub    Publisher
	logger Logger
	nowFn  func() time.Time

	mu         sync.Mutex
	triggerAt  []time.Time
	suppressAt []time.Time
	lastFired  time.Time
	pending    bool
	handle     gateway.Handle
	reference  time.Time
}

// New creates a notifier publishing to topic. It does nothing until
// Start is called.
func New(cfg Config, topic string, gw Gateway, sched gateway.Scheduler, pub Publisher) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Notifier{
		cfg:        cfg,
		topic:      topic,
		gw:         gw,
		sched:      sched,
		pub:        pub,
		logger:     noopLogger{},
		nowFn:      time.Now,
		triggerAt:  make([]time.Time, len(cfg.Trigger)),
		suppressAt: make([]time.Time, len(cfg.Suppress)),
	}, nil
}

// SetLogger sets the logger for the notifier.
func (n *Notifier) SetLogger(logger Logger) {
	if logger != nil {
		n.logger = logger
	}
}

// Start registers state watchers for the trigger and suppress entities.
func (n *Notifier) Start() error {
	for _, entityID := range conditions.ExtractEntities(n.cfg.Trigger) {
		n.gw.WatchState(entityID, func(id, _, newState string) {
			n.triggerChanged(id, newState)
		})
	}
	for _, entityID := range conditions.ExtractEntities(n.cfg.Suppress) {
		n.gw.WatchState(entityID, func(id, _, newState string) {
			n.suppressChanged(id, newState)
		})
	}

	n.logger.Info("notifier started", "name", n.cfg.Name)
	return nil
}

// Stop abandons any open window.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pending {
		n.sched.Cancel(n.handle)
		n.pending = false
	}
}

// suppressChanged records which suppress clauses the state change
// satisfies.
func (n *Notifier) suppressChanged(entityID, newState string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, hit := range n.evaluateEach(n.cfg.Suppress, entityID, newState) {
		if hit {
			n.logger.Debug("suppress clause hit",
				"name", n.cfg.Name, "clause", i, "entity_id", entityID, "state", newState)
			n.suppressAt[i] = n.nowFn()
		}
	}
}

// triggerChanged records which trigger clauses the state change
// satisfies and opens a deliberation window if none is open.
func (n *Notifier) triggerChanged(entityID, newState string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, hit := range n.evaluateEach(n.cfg.Trigger, entityID, newState) {
		if hit {
			n.logger.Debug("trigger clause hit",
				"name", n.cfg.Name, "clause", i, "entity_id", entityID, "state", newState)
			n.triggerAt[i] = n.nowFn()
		}
	}

	if n.pending {
		return
	}
	// The reference is the instant the window is due to close, kept
	// aside so scheduling jitter cannot skew the age comparisons.
	n.pending = true
	n.reference = n.nowFn().Add(n.cfg.window())
	n.handle = n.sched.ScheduleAfter(n.cfg.window(), n.windowClosed)
}

// evaluateEach runs every clause independently against one state
// change and reports which ones hold.
func (n *Notifier) evaluateEach(clauses []conditions.Clause, entityID, newState string) []bool {
	hits := make([]bool, len(clauses))
	ctx := conditions.Context{
		Now:      n.nowFn(),
		Triggers: map[string]string{entityID: newState},
		GetState: n.gw.GetState,
	}
	for i, clause := range clauses {
		ok, err := conditions.Evaluate([]conditions.Clause{clause}, ctx)
		if err != nil {
			n.logger.Warn("clause evaluation failed", "name", n.cfg.Name, "clause", i, "error", err)
			continue
		}
		hits[i] = ok
	}
	return hits
}

// windowClosed decides whether the deliberated event goes out.
func (n *Notifier) windowClosed() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.pending {
		// Stopped while the window was open.
		return
	}
	n.pending = false
	window := n.cfg.window()

	for i, at := range n.suppressAt {
		if !at.IsZero() && n.reference.Sub(at) <= window {
			n.logger.Info("suppressed: suppress clause hit inside window",
				"name", n.cfg.Name, "clause", i, "age", n.reference.Sub(at))
			return
		}
	}

	for i, at := range n.triggerAt {
		if at.IsZero() {
			n.logger.Debug("not firing: trigger clause never hit", "name", n.cfg.Name, "clause", i)
			return
		}
		if age := n.reference.Sub(at); age > window {
			n.logger.Debug("not firing: trigger clause hit too long ago",
				"name", n.cfg.Name, "clause", i, "age", age)
			return
		}
	}

	if len(n.cfg.Disable) > 0 {
		disabled, err := conditions.Evaluate(n.cfg.Disable, conditions.Context{
			Now:      n.nowFn(),
			GetState: n.gw.GetState,
		})
		if err != nil {
			n.logger.Warn("disable condition failed", "name", n.cfg.Name, "error", err)
		}
		if disabled {
			n.logger.Info("suppressed: disable condition holds", "name", n.cfg.Name)
			return
		}
	}

	now := n.nowFn()
	if !n.lastFired.IsZero() && now.Sub(n.lastFired) < n.cfg.reset() {
		n.logger.Info("suppressed: fired too recently",
			"name", n.cfg.Name, "since", now.Sub(n.lastFired))
		return
	}

	payload, err := json.Marshal(n.cfg.Event)
	if err != nil {
		n.logger.Warn("event payload not marshallable", "name", n.cfg.Name, "error", err)
		return
	}
	if err := n.pub.Publish(n.topic, payload, 1, false); err != nil {
		n.logger.Warn("event publish failed", "name", n.cfg.Name, "error", err)
		return
	}
	n.lastFired = now
	n.logger.Info("notifier fired", "name", n.cfg.Name, "topic", n.topic)
}
