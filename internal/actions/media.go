package actions

import (
	"sync"
	"time"

	"github.com/nerrad567/status-core/internal/gateway"
)

// Media player services issued through the gateway.
const (
	ServiceMediaJoin      = "media_player/join"
	ServiceMediaUnjoin    = "media_player/unjoin"
	ServiceMediaVolumeSet = "media_player/volume_set"
	ServiceMediaPlay      = "media_player/play_media"
	ServiceMediaStop      = "media_player/media_stop"
	ServiceMediaSnapshot  = "media_player/snapshot"
	ServiceMediaRestore   = "media_player/restore"
)

// Member is one speaker participating in a grouped media action.
// Volume zero means no volume change for that member.
type Member struct {
	EntityID string
	Volume   float64
	Priority int
}

// primaryMember selects the member with the highest priority; ties go
// to the earlier member. The primary is the speaker that actually
// plays, with the rest joined to it.
func primaryMember(members []Member) string {
	if len(members) == 0 {
		return ""
	}
	best := members[0]
	for _, m := range members[1:] {
		if m.Priority > best.Priority {
			best = m
		}
	}
	return best.EntityID
}

// mediaBase holds the grouped-speaker mechanics shared by speak and
// play variants: ungrouping, joining secondaries to the primary and
// batched volume changes.
type mediaBase struct {
	timedBase
	svc       gateway.ServiceCaller
	members   []Member
	primary   string
	playFirst bool
}

func newMediaBase(members []Member, playFirst bool, priority int, length time.Duration, svc gateway.ServiceCaller, sched gateway.Scheduler, onComplete CompleteFunc, logger Logger) mediaBase {
	return mediaBase{
		timedBase: newTimedBase(priority, length, sched, onComplete, logger),
		svc:       svc,
		members:   members,
		primary:   primaryMember(members),
		playFirst: playFirst,
	}
}

// Entities returns the member speaker IDs.
func (m *mediaBase) Entities() []string {
	ids := make([]string, len(m.members))
	for i, mem := range m.members {
		ids[i] = mem.EntityID
	}
	return ids
}

// Primary returns the speaker that carries playback for the group.
func (m *mediaBase) Primary() string {
	return m.primary
}

// unjoinAll detaches every member from whatever group it is in, so the
// action starts from a clean topology.
func (m *mediaBase) unjoinAll() {
	for _, mem := range m.members {
		if m.IsFinished() {
			return
		}
		err := m.svc.CallService(ServiceMediaUnjoin, map[string]any{
			"entity_id": mem.EntityID,
		})
		if err != nil {
			m.logger.Error("media unjoin failed", "entity_id", mem.EntityID, "error", err)
		}
	}
}

// joinAndVolume joins the secondaries to the primary and applies member
// volumes, batching members with identical volumes into a single call.
func (m *mediaBase) joinAndVolume() {
	if m.IsFinished() {
		return
	}

	var secondaries []string
	for _, mem := range m.members {
		if mem.EntityID != m.primary {
			secondaries = append(secondaries, mem.EntityID)
		}
	}
	if len(secondaries) > 0 {
		err := m.svc.CallService(ServiceMediaJoin, map[string]any{
			"entity_id":     m.primary,
			"group_members": secondaries,
		})
		if err != nil {
			m.logger.Error("media join failed", "primary", m.primary, "error", err)
		}
	}
	m.setVolumes()
}

// setVolumes applies member volumes. Members sharing a volume level are
// batched into one service call; members with no volume set are skipped.
func (m *mediaBase) setVolumes() {
	byLevel := make(map[float64][]string)
	var order []float64
	for _, mem := range m.members {
		if mem.Volume <= 0 {
			continue
		}
		if _, seen := byLevel[mem.Volume]; !seen {
			order = append(order, mem.Volume)
		}
		byLevel[mem.Volume] = append(byLevel[mem.Volume], mem.EntityID)
	}
	for _, level := range order {
		if m.IsFinished() {
			return
		}
		err := m.svc.CallService(ServiceMediaVolumeSet, map[string]any{
			"entity_id":    byLevel[level],
			"volume_level": level,
		})
		if err != nil {
			m.logger.Error("media volume set failed", "entities", byLevel[level], "error", err)
		}
	}
}

// stopMedia stops playback on the primary. Secondaries track the
// primary, so stopping the group leader is sufficient.
func (m *mediaBase) stopMedia() {
	err := m.svc.CallService(ServiceMediaStop, map[string]any{
		"entity_id": m.primary,
	})
	if err != nil {
		m.logger.Error("media stop failed", "entity_id", m.primary, "error", err)
	}
}

// playMedia starts a media URL on the primary.
func (m *mediaBase) playMedia(contentID, contentType string) {
	err := m.svc.CallService(ServiceMediaPlay, map[string]any{
		"entity_id":          m.primary,
		"media_content_id":   contentID,
		"media_content_type": contentType,
	})
	if err != nil {
		m.logger.Error("media play failed", "entity_id", m.primary, "error", err)
	}
}

// SpeakAction announces a TTS message on a grouped set of speakers,
// optionally preceded by a chime on the primary. In join-first mode the
// group is assembled during Prepare so the whole group hears the
// announcement; in play-first mode the primary starts immediately and
// the group is assembled during Act, trading sync for latency.
type SpeakAction struct {
	mediaBase

	message     string
	ttsService  string
	chime       string
	chimeLength time.Duration

	speakMu    sync.Mutex
	speakTimer gateway.Handle
	speakSet   bool
}

// SpeakConfig configures a SpeakAction.
type SpeakConfig struct {
	Members     []Member
	PlayFirst   bool
	Message     string
	TTSService  string
	Chime       string
	ChimeLength time.Duration
	Length      time.Duration
	Priority    int
}

// NewSpeak builds a grouped TTS announcement action.
func NewSpeak(cfg SpeakConfig, svc gateway.ServiceCaller, sched gateway.Scheduler, onComplete CompleteFunc, logger Logger) *SpeakAction {
	return &SpeakAction{
		mediaBase:   newMediaBase(cfg.Members, cfg.PlayFirst, cfg.Priority, cfg.Length, svc, sched, onComplete, logger),
		message:     cfg.Message,
		ttsService:  cfg.TTSService,
		chime:       cfg.Chime,
		chimeLength: cfg.ChimeLength,
	}
}

// Prepare ungroups the members and, in join-first mode, assembles the
// group and applies volumes before anything audible happens.
func (a *SpeakAction) Prepare() {
	a.unjoinAll()
	if !a.playFirst {
		a.joinAndVolume()
	}
}

// Act plays the chime (if configured) and schedules the announcement to
// follow it; without a chime it announces immediately. In play-first
// mode the group is assembled afterwards, while the chime is already
// sounding.
func (a *SpeakAction) Act() {
	if a.chime != "" {
		a.playMedia(a.chime, "music")

		a.speakMu.Lock()
		a.speakTimer = a.sched.ScheduleAfter(a.chimeLength, a.speak)
		a.speakSet = true
		a.speakMu.Unlock()
	} else {
		a.speak()
	}

	if a.playFirst {
		a.joinAndVolume()
	}
}

// speak issues the TTS call and arms the completion timer.
func (a *SpeakAction) speak() {
	if a.IsFinished() {
		return
	}
	err := a.svc.CallService(a.ttsService, map[string]any{
		"entity_id": a.primary,
		"message":   a.message,
	})
	if err != nil {
		a.logger.Error("tts announce failed", "entity_id", a.primary, "error", err)
	}
	a.scheduleComplete(a)
}

// Complete finishes the announcement. If the primary is in the forced
// set the in-progress audio is stopped; otherwise playback is left to
// run out naturally.
func (a *SpeakAction) Complete(forced []string) {
	a.finish(a, func() {
		a.speakMu.Lock()
		if a.speakSet {
			a.sched.Cancel(a.speakTimer)
			a.speakSet = false
		}
		a.speakMu.Unlock()

		a.cancelCompleteTimer()

		if inForcedSet(forced, a.primary) {
			a.stopMedia()
		}
	})
}

// PlayMediaAction plays a media URL on a grouped set of speakers.
type PlayMediaAction struct {
	mediaBase

	contentID   string
	contentType string
}

// PlayMediaConfig configures a PlayMediaAction.
type PlayMediaConfig struct {
	Members     []Member
	PlayFirst   bool
	ContentID   string
	ContentType string
	Length      time.Duration
	Priority    int
}

// NewPlayMedia builds a grouped media playback action.
func NewPlayMedia(cfg PlayMediaConfig, svc gateway.ServiceCaller, sched gateway.Scheduler, onComplete CompleteFunc, logger Logger) *PlayMediaAction {
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "music"
	}
	return &PlayMediaAction{
		mediaBase:   newMediaBase(cfg.Members, cfg.PlayFirst, cfg.Priority, cfg.Length, svc, sched, onComplete, logger),
		contentID:   cfg.ContentID,
		contentType: contentType,
	}
}

// Prepare ungroups the members and, in join-first mode, assembles the
// group before playback starts.
func (a *PlayMediaAction) Prepare() {
	a.unjoinAll()
	if !a.playFirst {
		a.joinAndVolume()
	}
}

// Act starts playback on the primary and arms the completion timer. In
// play-first mode the secondaries are joined once playback has begun.
func (a *PlayMediaAction) Act() {
	a.playMedia(a.contentID, a.contentType)
	a.scheduleComplete(a)

	if a.playFirst {
		a.joinAndVolume()
	}
}

// Complete finishes playback. A forced primary has its audio stopped.
func (a *PlayMediaAction) Complete(forced []string) {
	a.finish(a, func() {
		a.cancelCompleteTimer()

		if inForcedSet(forced, a.primary) {
			a.stopMedia()
		}
	})
}
