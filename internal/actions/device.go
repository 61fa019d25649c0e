package actions

import (
	"math"
	"sync"
	"time"

	"github.com/nerrad567/status-core/internal/gateway"
)

// Light services issued through the gateway.
const (
	ServiceLightTurnOn  = "light/turn_on"
	ServiceLightTurnOff = "light/turn_off"
	ServiceLightToggle  = "light/toggle"
)

// Command is the user-visible effect of a device action.
type Command string

const (
	CommandTurnOn  Command = "turn_on"
	CommandTurnOff Command = "turn_off"
	CommandToggle  Command = "toggle"
)

// FinishPolicy decides what happens to a device when its action
// completes normally.
type FinishPolicy string

const (
	// FinishNone leaves the device in whatever state the action put it.
	FinishNone FinishPolicy = "none"
	// FinishTurnOn turns the device on at completion.
	FinishTurnOn FinishPolicy = "turn_on"
	// FinishTurnOff turns the device off at completion.
	FinishTurnOff FinishPolicy = "turn_off"
	// FinishRestore puts each underlying entity back to its captured
	// pre-action state.
	FinishRestore FinishPolicy = "restore"
)

// restoreAttrs are the captured attributes carried back through
// turn_on during a restore. Anything else a platform reports is not a
// valid turn_on parameter.
var restoreAttrs = []string{
	"brightness",
	"color_temp",
	"rgb_color",
	"xy_color",
	"hs_color",
	"color_name",
	"effect",
}

// deviceBase holds what the light variants share: the logical target,
// its captured per-entity prior state and the finish policy applied at
// completion.
type deviceBase struct {
	timedBase
	gw       gateway.Gateway
	entityID string
	prior    map[string]gateway.EntityState
	policy   FinishPolicy
	args     map[string]any
}

func newDeviceBase(entityID string, prior map[string]gateway.EntityState, policy FinishPolicy, args map[string]any, priority int, length time.Duration, gw gateway.Gateway, sched gateway.Scheduler, onComplete CompleteFunc, logger Logger) deviceBase {
	if policy == "" {
		policy = FinishNone
	}
	return deviceBase{
		timedBase: newTimedBase(priority, length, sched, onComplete, logger),
		gw:        gw,
		entityID:  entityID,
		prior:     prior,
		policy:    policy,
		args:      args,
	}
}

// Entities returns the physical entity IDs behind the logical target.
// The captured prior state carries the expansion.
func (d *deviceBase) Entities() []string {
	ids := make([]string, 0, len(d.prior))
	for id := range d.prior {
		ids = append(ids, id)
	}
	return ids
}

// turnOn switches an entity on, forwarding the action's service
// arguments (brightness and friends).
func (d *deviceBase) turnOn(entityID string, extra map[string]any) {
	if d.IsFinished() {
		return
	}
	payload := map[string]any{"entity_id": entityID}
	for k, v := range d.args {
		payload[k] = v
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := d.gw.CallService(ServiceLightTurnOn, payload); err != nil {
		d.logger.Error("light turn_on failed", "entity_id", entityID, "error", err)
	}
}

func (d *deviceBase) turnOff(entityID string) {
	if d.IsFinished() {
		return
	}
	payload := map[string]any{"entity_id": entityID}
	if transition, ok := d.args["transition"]; ok {
		payload["transition"] = transition
	}
	if err := d.gw.CallService(ServiceLightTurnOff, payload); err != nil {
		d.logger.Error("light turn_off failed", "entity_id", entityID, "error", err)
	}
}

// toggle flips an entity based on its current reported state rather
// than the platform's toggle service, so the decision is visible here.
func (d *deviceBase) toggle(entityID string) {
	state, err := d.gw.GetState(entityID)
	if err != nil {
		d.logger.Error("state read failed", "entity_id", entityID, "error", err)
		return
	}
	if state == "on" {
		d.turnOff(entityID)
	} else {
		d.turnOn(entityID, nil)
	}
}

// applyFinishPolicy runs the finish policy over the underlying
// entities. Entities named in the forced set are being claimed by a
// newer action and are skipped, leaving them for the winner (partial
// restore).
func (d *deviceBase) applyFinishPolicy(forced []string) {
	for entityID, captured := range d.prior {
		if inForcedSet(forced, entityID) {
			continue
		}
		switch d.policy {
		case FinishTurnOn:
			d.restoreTurnOn(entityID, captured)
		case FinishTurnOff:
			d.finishTurnOff(entityID)
		case FinishRestore:
			if captured.State == "on" {
				d.restoreTurnOn(entityID, captured)
			} else {
				d.finishTurnOff(entityID)
			}
		}
	}
}

// restoreTurnOn turns an entity on with its captured attributes.
// Action-level turn_on args do not apply during restore.
func (d *deviceBase) restoreTurnOn(entityID string, captured gateway.EntityState) {
	payload := map[string]any{"entity_id": entityID}
	for _, attr := range restoreAttrs {
		if v, ok := captured.Attributes[attr]; ok && v != nil {
			payload[attr] = v
		}
	}
	if err := d.gw.CallService(ServiceLightTurnOn, payload); err != nil {
		d.logger.Error("restore turn_on failed", "entity_id", entityID, "error", err)
	}
}

// finishTurnOff is turnOff without the finished guard: it runs inside
// Complete, after the finished transition has begun.
func (d *deviceBase) finishTurnOff(entityID string) {
	if err := d.gw.CallService(ServiceLightTurnOff, map[string]any{"entity_id": entityID}); err != nil {
		d.logger.Error("finish turn_off failed", "entity_id", entityID, "error", err)
	}
}

// DeviceAction applies a single command to a light and holds it for the
// action's length, then applies the finish policy.
type DeviceAction struct {
	deviceBase
	command Command
}

// DeviceConfig configures a DeviceAction.
type DeviceConfig struct {
	EntityID   string
	PriorState map[string]gateway.EntityState
	Command    Command
	Policy     FinishPolicy
	Args       map[string]any
	Length     time.Duration
	Priority   int
}

// NewDevice builds a command-and-hold light action.
func NewDevice(cfg DeviceConfig, gw gateway.Gateway, sched gateway.Scheduler, onComplete CompleteFunc, logger Logger) *DeviceAction {
	return &DeviceAction{
		deviceBase: newDeviceBase(cfg.EntityID, cfg.PriorState, cfg.Policy, cfg.Args, cfg.Priority, cfg.Length, gw, sched, onComplete, logger),
		command:    cfg.Command,
	}
}

// Prepare is a no-op: the command itself is the visible effect.
func (a *DeviceAction) Prepare() {}

// Act issues the command against the logical target and arms the
// completion timer.
func (a *DeviceAction) Act() {
	switch a.command {
	case CommandTurnOn:
		a.turnOn(a.entityID, nil)
	case CommandTurnOff:
		a.turnOff(a.entityID)
	case CommandToggle:
		a.toggle(a.entityID)
	default:
		a.logger.Warn("unknown device command", "command", string(a.command), "entity_id", a.entityID)
	}
	a.scheduleComplete(a)
}

// Complete cancels the hold timer and applies the finish policy,
// excluding forced entities.
func (a *DeviceAction) Complete(forced []string) {
	a.finish(a, func() {
		a.cancelCompleteTimer()
		a.applyFinishPolicy(forced)
	})
}

// BreatheAction toggles a light on a fixed cadence so it pulses for the
// action's length, then applies the finish policy. The beat count is
// fixed at construction; an even count returns the light to its
// starting state, so a light found on gets one extra beat.
type BreatheAction struct {
	deviceBase
	breathLength time.Duration

	beatMu      sync.Mutex
	beats       int
	breatheTick gateway.Handle
	tickSet     bool
}

// BreatheConfig configures a BreatheAction.
type BreatheConfig struct {
	EntityID     string
	PriorState   map[string]gateway.EntityState
	Policy       FinishPolicy
	Args         map[string]any
	Length       time.Duration
	BreathLength time.Duration
	Priority     int
}

// NewBreathe builds a pulsing light action. Beats are two per breath,
// with the breath count rounded half-to-even so a length that lands
// exactly between breath counts does not bias long.
func NewBreathe(cfg BreatheConfig, gw gateway.Gateway, sched gateway.Scheduler, onComplete CompleteFunc, logger Logger) *BreatheAction {
	breathLength := cfg.BreathLength
	if breathLength <= 0 {
		breathLength = time.Second
	}

	a := &BreatheAction{
		deviceBase:   newDeviceBase(cfg.EntityID, cfg.PriorState, cfg.Policy, cfg.Args, cfg.Priority, cfg.Length, gw, sched, onComplete, logger),
		breathLength: breathLength,
	}

	breaths := math.RoundToEven(cfg.Length.Seconds() / breathLength.Seconds())
	a.beats = 2 * int(breaths)

	if state, err := gw.GetState(cfg.EntityID); err == nil && state == "on" {
		a.beats++
	}
	return a
}

// Prepare is a no-op.
func (a *BreatheAction) Prepare() {}

// Act starts the beat ticker. Each beat is half a breath, so one full
// breath is an off-on (or on-off) pair.
func (a *BreatheAction) Act() {
	a.beatMu.Lock()
	defer a.beatMu.Unlock()

	if a.beats <= 0 {
		a.sched.ScheduleAfter(0, func() { a.Complete(nil) })
		return
	}
	a.breatheTick = a.sched.ScheduleEvery(a.breathLength/2, a.beat)
	a.tickSet = true
}

// beat toggles the light and counts down; the final beat completes the
// action.
func (a *BreatheAction) beat() {
	if a.IsFinished() {
		return
	}

	a.beatMu.Lock()
	if a.beats <= 0 {
		a.beatMu.Unlock()
		a.Complete(nil)
		return
	}
	a.beats--
	done := a.beats == 0
	a.beatMu.Unlock()

	a.toggle(a.entityID)
	if done {
		a.Complete(nil)
	}
}

// Complete stops the beat ticker and applies the finish policy,
// excluding forced entities.
func (a *BreatheAction) Complete(forced []string) {
	a.finish(a, func() {
		a.beatMu.Lock()
		if a.tickSet {
			a.sched.Cancel(a.breatheTick)
			a.tickSet = false
		}
		a.beatMu.Unlock()

		a.cancelCompleteTimer()
		a.applyFinishPolicy(forced)
	})
}

// RemainingBeats reports how many beats the action has left.
func (a *BreatheAction) RemainingBeats() int {
	a.beatMu.Lock()
	defer a.beatMu.Unlock()
	return a.beats
}
