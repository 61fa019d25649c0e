package actions

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/status-core/internal/gateway"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// fakeSched is a hand-cranked scheduler: nothing fires until the test
// fires it.
type fakeSched struct {
	mu     sync.Mutex
	next   gateway.Handle
	oneOff map[gateway.Handle]func()
	ticks  map[gateway.Handle]func()
}

func newFakeSched() *fakeSched {
	return &fakeSched{
		oneOff: make(map[gateway.Handle]func()),
		ticks:  make(map[gateway.Handle]func()),
	}
}

func (s *fakeSched) ScheduleAfter(_ time.Duration, fn func()) gateway.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.oneOff[s.next] = fn
	return s.next
}

func (s *fakeSched) ScheduleEvery(_ time.Duration, fn func()) gateway.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.ticks[s.next] = fn
	return s.next
}

func (s *fakeSched) Cancel(h gateway.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.oneOff, h)
	delete(s.ticks, h)
}

// fireOneOffs runs and clears every pending one-off callback. Callbacks
// may schedule further work; that work stays pending for the next call.
func (s *fakeSched) fireOneOffs() {
	s.mu.Lock()
	pending := s.oneOff
	s.oneOff = make(map[gateway.Handle]func())
	s.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// tick fires every repeating callback once.
func (s *fakeSched) tick() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.ticks))
	for _, fn := range s.ticks {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *fakeSched) pendingOneOffs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.oneOff)
}

// fakeGateway records service calls and serves canned entity state.
type fakeGateway struct {
	mu     sync.Mutex
	states map[string]gateway.EntityState
	calls  []svcCall
	failOn string
}

type svcCall struct {
	Service string
	Args    map[string]any
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{states: make(map[string]gateway.EntityState)}
}

func (g *fakeGateway) GetState(entityID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[entityID]
	if !ok {
		return "", gateway.ErrEntityUnknown
	}
	return st.State, nil
}

func (g *fakeGateway) GetEntityState(entityID string) (gateway.EntityState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[entityID]
	if !ok {
		return gateway.EntityState{}, gateway.ErrEntityUnknown
	}
	return st, nil
}

func (g *fakeGateway) CallService(service string, args map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if service == g.failOn {
		return errors.New("gateway: service call failed")
	}
	g.calls = append(g.calls, svcCall{Service: service, Args: args})
	return nil
}

func (g *fakeGateway) callsFor(service string) []svcCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []svcCall
	for _, c := range g.calls {
		if c.Service == service {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// completedRecorder counts completion callbacks.
type completedRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *completedRecorder) onComplete(Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func (r *completedRecorder) completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func speakMembers() []Member {
	return []Member{
		{EntityID: "media_player.kitchen", Volume: 0.4, Priority: 10},
		{EntityID: "media_player.lounge", Volume: 0.6, Priority: 50},
		{EntityID: "media_player.hall", Volume: 0.4, Priority: 10},
	}
}

// ─── Primary Selection ──────────────────────────────────────────────────────

func TestPrimaryMember(t *testing.T) {
	tests := []struct {
		name    string
		members []Member
		want    string
	}{
		{
			name:    "highest priority wins",
			members: speakMembers(),
			want:    "media_player.lounge",
		},
		{
			name: "tie goes to first listed",
			members: []Member{
				{EntityID: "media_player.a", Priority: 20},
				{EntityID: "media_player.b", Priority: 20},
			},
			want: "media_player.a",
		},
		{
			name:    "empty group",
			members: nil,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := primaryMember(tt.members); got != tt.want {
				t.Errorf("primaryMember() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ─── Speak Action ───────────────────────────────────────────────────────────

func TestSpeak_JoinFirstGroupsBeforeActing(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()
	rec := &completedRecorder{}

	action := NewSpeak(SpeakConfig{
		Members:     speakMembers(),
		Message:     "someone is at the door",
		TTSService:  "tts/google_say",
		Chime:       "http://media/chime.mp3",
		ChimeLength: 2 * time.Second,
		Length:      10 * time.Second,
		Priority:    60,
	}, gw, sched, rec.onComplete, nil)

	action.Prepare()

	if got := len(gw.callsFor(ServiceMediaUnjoin)); got != 3 {
		t.Errorf("unjoin calls = %d, want 3", got)
	}
	joins := gw.callsFor(ServiceMediaJoin)
	if len(joins) != 1 {
		t.Fatalf("join calls = %d, want 1", len(joins))
	}
	if joins[0].Args["entity_id"] != "media_player.lounge" {
		t.Errorf("join target = %v, want primary media_player.lounge", joins[0].Args["entity_id"])
	}

	action.Act()

	plays := gw.callsFor(ServiceMediaPlay)
	if len(plays) != 1 {
		t.Fatalf("play calls = %d, want 1 (chime)", len(plays))
	}
	if plays[0].Args["media_content_id"] != "http://media/chime.mp3" {
		t.Errorf("chime content = %v", plays[0].Args["media_content_id"])
	}
	if len(gw.callsFor("tts/google_say")) != 0 {
		t.Error("tts issued before chime finished")
	}

	// Chime timer fires: announcement goes out and the completion
	// timer is armed.
	sched.fireOneOffs()

	tts := gw.callsFor("tts/google_say")
	if len(tts) != 1 {
		t.Fatalf("tts calls = %d, want 1", len(tts))
	}
	if tts[0].Args["entity_id"] != "media_player.lounge" {
		t.Errorf("tts target = %v, want primary", tts[0].Args["entity_id"])
	}
	if tts[0].Args["message"] != "someone is at the door" {
		t.Errorf("tts message = %v", tts[0].Args["message"])
	}

	// Completion timer fires.
	sched.fireOneOffs()

	if !action.IsFinished() {
		t.Error("action not finished after completion timer")
	}
	if rec.completions() != 1 {
		t.Errorf("completions = %d, want 1", rec.completions())
	}
}

func TestSpeak_PlayFirstJoinsAfterActing(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()

	action := NewSpeak(SpeakConfig{
		Members:    speakMembers(),
		PlayFirst:  true,
		Message:    "washing done",
		TTSService: "tts/google_say",
		Length:     5 * time.Second,
	}, gw, sched, nil, nil)

	action.Prepare()

	if got := len(gw.callsFor(ServiceMediaJoin)); got != 0 {
		t.Errorf("join calls during Prepare = %d, want 0 in play-first mode", got)
	}

	action.Act()

	if len(gw.callsFor("tts/google_say")) != 1 {
		t.Error("no chime configured: tts should be immediate")
	}
	if got := len(gw.callsFor(ServiceMediaJoin)); got != 1 {
		t.Errorf("join calls after Act = %d, want 1", got)
	}
}

func TestSpeak_VolumesBatchedByLevel(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()

	action := NewSpeak(SpeakConfig{
		Members:    speakMembers(),
		Message:    "hello",
		TTSService: "tts/google_say",
		Length:     5 * time.Second,
	}, gw, sched, nil, nil)
	action.Prepare()

	volumes := gw.callsFor(ServiceMediaVolumeSet)
	if len(volumes) != 2 {
		t.Fatalf("volume_set calls = %d, want 2 (0.4 batch, 0.6 batch)", len(volumes))
	}
	for _, call := range volumes {
		ids, ok := call.Args["entity_id"].([]string)
		if !ok {
			t.Fatalf("entity_id not a list: %v", call.Args["entity_id"])
		}
		switch call.Args["volume_level"] {
		case 0.4:
			if len(ids) != 2 {
				t.Errorf("0.4 batch = %v, want kitchen and hall together", ids)
			}
		case 0.6:
			if len(ids) != 1 {
				t.Errorf("0.6 batch = %v, want lounge alone", ids)
			}
		default:
			t.Errorf("unexpected volume level %v", call.Args["volume_level"])
		}
	}
}

func TestSpeak_ForcedPrimaryStopsPlayback(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()

	action := NewSpeak(SpeakConfig{
		Members:    speakMembers(),
		Message:    "hello",
		TTSService: "tts/google_say",
		Length:     5 * time.Second,
	}, gw, sched, nil, nil)
	action.Prepare()
	action.Act()

	action.Complete([]string{"media_player.lounge", "media_player.kitchen"})

	if got := len(gw.callsFor(ServiceMediaStop)); got != 1 {
		t.Errorf("media_stop calls = %d, want 1 (primary forced)", got)
	}
}

func TestSpeak_ForcedSecondaryLeavesPlayback(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()

	action := NewSpeak(SpeakConfig{
		Members:    speakMembers(),
		Message:    "hello",
		TTSService: "tts/google_say",
		Length:     5 * time.Second,
	}, gw, sched, nil, nil)
	action.Prepare()
	action.Act()

	action.Complete([]string{"media_player.kitchen"})

	if got := len(gw.callsFor(ServiceMediaStop)); got != 0 {
		t.Errorf("media_stop calls = %d, want 0 (primary not forced)", got)
	}
}

func TestSpeak_ForcedBeforeChimeCancelsAnnouncement(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()

	action := NewSpeak(SpeakConfig{
		Members:     speakMembers(),
		Message:     "hello",
		TTSService:  "tts/google_say",
		Chime:       "http://media/chime.mp3",
		ChimeLength: 2 * time.Second,
		Length:      5 * time.Second,
	}, gw, sched, nil, nil)
	action.Prepare()
	action.Act()

	action.Complete([]string{"media_player.lounge"})
	sched.fireOneOffs()

	if got := len(gw.callsFor("tts/google_say")); got != 0 {
		t.Errorf("tts calls after forced kill = %d, want 0", got)
	}
}

func TestSpeak_CompleteExactlyOnce(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()
	rec := &completedRecorder{}

	action := NewSpeak(SpeakConfig{
		Members:    speakMembers(),
		Message:    "hello",
		TTSService: "tts/google_say",
		Length:     5 * time.Second,
	}, gw, sched, rec.onComplete, nil)
	action.Prepare()
	action.Act()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			action.Complete([]string{"media_player.lounge"})
		}()
	}
	wg.Wait()
	sched.fireOneOffs() // any surviving completion timer

	if rec.completions() != 1 {
		t.Errorf("completions = %d, want exactly 1", rec.completions())
	}
	if got := len(gw.callsFor(ServiceMediaStop)); got != 1 {
		t.Errorf("media_stop calls = %d, want 1", got)
	}
}

// ─── Play Media Action ──────────────────────────────────────────────────────

func TestPlayMedia_PlaysOnPrimaryAndCompletes(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()
	rec := &completedRecorder{}

	action := NewPlayMedia(PlayMediaConfig{
		Members:   speakMembers(),
		ContentID: "http://media/rain.mp3",
		Length:    30 * time.Second,
	}, gw, sched, rec.onComplete, nil)
	action.Prepare()
	action.Act()

	plays := gw.callsFor(ServiceMediaPlay)
	if len(plays) != 1 {
		t.Fatalf("play calls = %d, want 1", len(plays))
	}
	if plays[0].Args["entity_id"] != "media_player.lounge" {
		t.Errorf("play target = %v, want primary", plays[0].Args["entity_id"])
	}
	if plays[0].Args["media_content_type"] != "music" {
		t.Errorf("content type = %v, want music default", plays[0].Args["media_content_type"])
	}

	sched.fireOneOffs()

	if !action.IsFinished() {
		t.Error("not finished after completion timer")
	}
	if rec.completions() != 1 {
		t.Errorf("completions = %d, want 1", rec.completions())
	}
}

// ─── Device Action ──────────────────────────────────────────────────────────

func porchPrior(state string, attrs map[string]any) map[string]gateway.EntityState {
	return map[string]gateway.EntityState{
		"light.porch": {State: state, Attributes: attrs},
	}
}

func TestDevice_TurnOnThenRestore(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()

	action := NewDevice(DeviceConfig{
		EntityID:   "light.porch",
		PriorState: porchPrior("on", map[string]any{"brightness": 128, "color_temp": 370}),
		Command:    CommandTurnOn,
		Policy:     FinishRestore,
		Args:       map[string]any{"brightness": 255},
		Length:     10 * time.Second,
	}, gw, sched, nil, nil)
	action.Prepare()
	action.Act()

	ons := gw.callsFor(ServiceLightTurnOn)
	if len(ons) != 1 {
		t.Fatalf("turn_on calls = %d, want 1", len(ons))
	}
	if ons[0].Args["brightness"] != 255 {
		t.Errorf("action brightness = %v, want 255", ons[0].Args["brightness"])
	}

	sched.fireOneOffs() // completion timer

	ons = gw.callsFor(ServiceLightTurnOn)
	if len(ons) != 2 {
		t.Fatalf("turn_on calls after restore = %d, want 2", len(ons))
	}
	restore := ons[1]
	if restore.Args["brightness"] != 128 {
		t.Errorf("restored brightness = %v, want captured 128", restore.Args["brightness"])
	}
	if restore.Args["color_temp"] != 370 {
		t.Errorf("restored color_temp = %v, want captured 370", restore.Args["color_temp"])
	}
}

func TestDevice_RestoreOffEntityTurnsOff(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()

	action := NewDevice(DeviceConfig{
		EntityID:   "light.porch",
		PriorState: porchPrior("off", nil),
		Command:    CommandTurnOn,
		Policy:     FinishRestore,
		Length:     10 * time.Second,
	}, gw, sched, nil, nil)
	action.Prepare()
	action.Act()
	sched.fireOneOffs()

	if got := len(gw.callsFor(ServiceLightTurnOff)); got != 1 {
		t.Errorf("turn_off calls = %d, want 1 (restore to off)", got)
	}
}

func TestDevice_PartialRestoreSkipsForcedEntities(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()

	prior := map[string]gateway.EntityState{
		"light.porch_left":  {State: "on", Attributes: map[string]any{"brightness": 90}},
		"light.porch_right": {State: "on", Attributes: map[string]any{"brightness": 90}},
	}
	action := NewDevice(DeviceConfig{
		EntityID:   "light.porch",
		PriorState: prior,
		Command:    CommandTurnOff,
		Policy:     FinishRestore,
		Length:     10 * time.Second,
	}, gw, sched, nil, nil)
	action.Prepare()
	action.Act()

	action.Complete([]string{"light.porch_left"})

	ons := gw.callsFor(ServiceLightTurnOn)
	if len(ons) != 1 {
		t.Fatalf("restore turn_on calls = %d, want 1 (forced entity skipped)", len(ons))
	}
	if ons[0].Args["entity_id"] != "light.porch_right" {
		t.Errorf("restored entity = %v, want light.porch_right", ons[0].Args["entity_id"])
	}
}

func TestDevice_ToggleFollowsCurrentState(t *testing.T) {
	tests := []struct {
		name        string
		state       string
		wantService string
	}{
		{name: "on toggles off", state: "on", wantService: ServiceLightTurnOff},
		{name: "off toggles on", state: "off", wantService: ServiceLightTurnOn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.states["light.porch"] = gateway.EntityState{State: tt.state}
			sched := newFakeSched()

			action := NewDevice(DeviceConfig{
				EntityID:   "light.porch",
				PriorState: porchPrior(tt.state, nil),
				Command:    CommandToggle,
				Length:     5 * time.Second,
			}, gw, sched, nil, nil)
			action.Prepare()
			action.Act()

			if got := len(gw.callsFor(tt.wantService)); got != 1 {
				t.Errorf("%s calls = %d, want 1", tt.wantService, got)
			}
		})
	}
}

func TestDevice_NoCallsAfterFinished(t *testing.T) {
	gw := newFakeGateway()
	sched := newFakeSched()

	action := NewDevice(DeviceConfig{
		EntityID:   "light.porch",
		PriorState: porchPrior("off", nil),
		Command:    CommandTurnOn,
		Length:     5 * time.Second,
	}, gw, sched, nil, nil)
	action.Prepare()
	action.Complete(nil)
	action.Act()

	if got := gw.callCount(); got != 0 {
		t.Errorf("service calls after finish = %d, want 0", got)
	}
}

// ─── Breathe Action ─────────────────────────────────────────────────────────

func TestBreathe_BeatCount(t *testing.T) {
	tests := []struct {
		name         string
		length       time.Duration
		breathLength time.Duration
		startState   string
		wantBeats    int
	}{
		{
			name:         "even division",
			length:       6 * time.Second,
			breathLength: 2 * time.Second,
			startState:   "off",
			wantBeats:    6,
		},
		{
			name:         "half breath rounds to even",
			length:       5 * time.Second,
			breathLength: 2 * time.Second,
			startState:   "off",
			wantBeats:    4,
		},
		{
			name:         "already on gets an extra beat",
			length:       6 * time.Second,
			breathLength: 2 * time.Second,
			startState:   "on",
			wantBeats:    7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.states["light.hall"] = gateway.EntityState{State: tt.startState}
			sched := newFakeSched()

			action := NewBreathe(BreatheConfig{
				EntityID:     "light.hall",
				PriorState:   map[string]gateway.EntityState{"light.hall": {State: tt.startState}},
				Length:       tt.length,
				BreathLength: tt.breathLength,
			}, gw, sched, nil, nil)

			if got := action.RemainingBeats(); got != tt.wantBeats {
				t.Errorf("beats = %d, want %d", got, tt.wantBeats)
			}
		})
	}
}

func TestBreathe_RunsToCompletion(t *testing.T) {
	gw := newFakeGateway()
	gw.states["light.hall"] = gateway.EntityState{State: "off"}
	sched := newFakeSched()
	rec := &completedRecorder{}

	action := NewBreathe(BreatheConfig{
		EntityID:     "light.hall",
		PriorState:   map[string]gateway.EntityState{"light.hall": {State: "off"}},
		Policy:       FinishTurnOff,
		Length:       4 * time.Second,
		BreathLength: 2 * time.Second,
	}, gw, sched, rec.onComplete, nil)
	action.Prepare()
	action.Act()

	// Four beats, alternating the cached state so toggle flips each time.
	for i := 0; i < 4; i++ {
		sched.tick()
		st := gw.states["light.hall"]
		if st.State == "on" {
			gw.states["light.hall"] = gateway.EntityState{State: "off"}
		} else {
			gw.states["light.hall"] = gateway.EntityState{State: "on"}
		}
	}

	if !action.IsFinished() {
		t.Fatal("not finished after final beat")
	}
	if rec.completions() != 1 {
		t.Errorf("completions = %d, want 1", rec.completions())
	}
	if got := len(gw.callsFor(ServiceLightTurnOff)); got == 0 {
		t.Error("finish policy turn_off never issued")
	}

	// Further ticks must be inert.
	before := gw.callCount()
	sched.tick()
	if gw.callCount() != before {
		t.Error("beats continued after completion")
	}
}

func TestBreathe_ForcedStopsBeats(t *testing.T) {
	gw := newFakeGateway()
	gw.states["light.hall"] = gateway.EntityState{State: "off"}
	sched := newFakeSched()

	action := NewBreathe(BreatheConfig{
		EntityID:     "light.hall",
		PriorState:   map[string]gateway.EntityState{"light.hall": {State: "off"}},
		Policy:       FinishRestore,
		Length:       10 * time.Second,
		BreathLength: 2 * time.Second,
	}, gw, sched, nil, nil)
	action.Prepare()
	action.Act()
	sched.tick()

	action.Complete([]string{"light.hall"})

	// Forced entity is excluded from restore, so no further calls.
	before := gw.callCount()
	sched.tick()
	if gw.callCount() != before {
		t.Error("calls issued after forced completion")
	}
}

// ─── Fire-and-Forget Actions ────────────────────────────────────────────────

func TestNotify_CompletesImmediately(t *testing.T) {
	gw := newFakeGateway()
	rec := &completedRecorder{}

	action := NewNotify(NotifyConfig{
		Service: "notify/mobile_app_phone",
		Message: "front door opened",
		Title:   "Security",
	}, gw, rec.onComplete, nil)
	action.Prepare()
	action.Act()

	calls := gw.callsFor("notify/mobile_app_phone")
	if len(calls) != 1 {
		t.Fatalf("notify calls = %d, want 1", len(calls))
	}
	if calls[0].Args["message"] != "front door opened" {
		t.Errorf("message = %v", calls[0].Args["message"])
	}
	if calls[0].Args["title"] != "Security" {
		t.Errorf("title = %v", calls[0].Args["title"])
	}
	if !action.IsFinished() {
		t.Error("notify not finished after Act")
	}
	if rec.completions() != 1 {
		t.Errorf("completions = %d, want 1", rec.completions())
	}
	if action.Entities() != nil {
		t.Error("notify should claim no entities")
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestPublish_CompletesImmediately(t *testing.T) {
	pub := &fakePublisher{}
	rec := &completedRecorder{}

	action := NewPublish(PublishConfig{
		Topic:   "hall/display/banner",
		Payload: `{"text":"visitor"}`,
	}, pub, rec.onComplete, nil)
	action.Prepare()
	action.Act()

	if len(pub.topics) != 1 || pub.topics[0] != "hall/display/banner" {
		t.Errorf("published topics = %v", pub.topics)
	}
	if !action.IsFinished() {
		t.Error("publish not finished after Act")
	}
	if rec.completions() != 1 {
		t.Errorf("completions = %d, want 1", rec.completions())
	}
}
