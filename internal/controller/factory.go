package controller

import (
	"github.com/nerrad567/status-core/internal/actions"
	"github.com/nerrad567/status-core/internal/gateway"
)

// factory turns one admitted event plus its matched outputs into
// concrete actions: resolving arguments, expanding entity aliases,
// enforcing first-match-wins per physical entity, grouping media
// entries, capturing snapshots and registering every new action in the
// lock table.
//
// build runs on the coordinator goroutine under the controller mutex.
type factory struct {
	rules      *Rules
	gw         gateway.Gateway
	sched      gateway.Scheduler
	pub        actions.Publisher
	locks      *lockTable
	snapshots  *snapshotStore
	onComplete actions.CompleteFunc
	logger     Logger
}

// mediaGroup accumulates members for entries sharing a grouping key.
type mediaGroup struct {
	args    MediaArgs
	members []actions.Member
}

// build constructs the actions for one event. Domains are walked in
// fixed order, and within one event each physical entity goes to the
// first entry that names it.
func (f *factory) build(ev *Event, outputs []*Output) []actions.Action {
	claimed := make(map[string]bool)
	var built []actions.Action

	for _, domain := range domainOrder {
		switch domain {
		case DomainMedia:
			built = append(built, f.buildMedia(ev, outputs, claimed)...)
		case DomainDevice:
			built = append(built, f.buildDevice(ev, outputs, claimed)...)
		case DomainNotify:
			built = append(built, f.buildNotify(ev, outputs)...)
		case DomainPublish:
			built = append(built, f.buildPublish(ev, outputs)...)
		}
	}
	return built
}

// buildMedia groups media entries sharing identical resolved arguments
// (ignoring entities, volume and priority) into one grouped action.
func (f *factory) buildMedia(ev *Event, outputs []*Output, claimed map[string]bool) []actions.Action {
	groups := make(map[string]*mediaGroup)
	var order []string

	for _, out := range outputs {
		for _, entry := range out.Entries(DomainMedia) {
			resolved := f.rules.resolveArgs(ev, DomainMedia, entry)
			args := mediaArgsFrom(resolved)
			key := groupKey(resolved)

			group, ok := groups[key]
			if !ok {
				group = &mediaGroup{args: args}
				groups[key] = group
				order = append(order, key)
			}

			for _, logical := range args.Entities {
				for _, physical := range f.rules.ExpandEntity(logical) {
					if claimed[physical] {
						f.logger.Warn("entity already claimed in this event, skipping",
							"entity_id", physical, "output", out.Name, "domain", "media")
						continue
					}
					claimed[physical] = true
					group.members = append(group.members, actions.Member{
						EntityID: physical,
						Volume:   args.Volume,
						Priority: args.Priority,
					})
				}
			}
		}
	}

	var built []actions.Action
	for _, key := range order {
		group := groups[key]
		if len(group.members) == 0 {
			continue
		}
		a := f.buildMediaAction(ev, group)
		if a == nil {
			continue
		}

		f.snapshots.captureGlobal()
		for _, member := range group.members {
			f.locks.claim(member.EntityID, a)
		}
		built = append(built, a)
	}
	return built
}

func (f *factory) buildMediaAction(ev *Event, group *mediaGroup) actions.Action {
	args := group.args
	switch args.Kind {
	case "speak":
		if args.Message == "" {
			f.logger.Warn("speak entry with no message, skipping", "event_id", ev.ID)
			return nil
		}
		return actions.NewSpeak(actions.SpeakConfig{
			Members:     group.members,
			PlayFirst:   args.PlayFirst,
			Message:     args.Message,
			TTSService:  args.TTSService,
			Chime:       args.Chime,
			ChimeLength: args.ChimeLength,
			Length:      args.Length,
			Priority:    args.Priority,
		}, f.gw, f.sched, f.onComplete, f.logger)
	case "play":
		if args.Media == "" {
			f.logger.Warn("play entry with no media, skipping", "event_id", ev.ID)
			return nil
		}
		return actions.NewPlayMedia(actions.PlayMediaConfig{
			Members:     group.members,
			PlayFirst:   args.PlayFirst,
			ContentID:   args.Media,
			ContentType: args.MediaType,
			Length:      args.Length,
			Priority:    args.Priority,
		}, f.gw, f.sched, f.onComplete, f.logger)
	default:
		f.logger.Warn("unknown media kind, skipping", "kind", args.Kind, "event_id", ev.ID)
		return nil
	}
}

// buildDevice builds one action per logical device entity. A logical
// entity any of whose physical expansion is already claimed is skipped
// whole, so one event never splits an alias group between actions.
func (f *factory) buildDevice(ev *Event, outputs []*Output, claimed map[string]bool) []actions.Action {
	var built []actions.Action

	for _, out := range outputs {
		for _, entry := range out.Entries(DomainDevice) {
			resolved := f.rules.resolveArgs(ev, DomainDevice, entry)
			args := deviceArgsFrom(resolved)

			for _, logical := range args.Entities {
				physical := f.rules.ExpandEntity(logical)

				conflict := false
				for _, id := range physical {
					if claimed[id] {
						conflict = true
						break
					}
				}
				if conflict {
					f.logger.Warn("entity already claimed in this event, skipping",
						"entity_id", logical, "output", out.Name, "domain", "device")
					continue
				}

				prior := make(map[string]gateway.EntityState, len(physical))
				for _, id := range physical {
					claimed[id] = true
					prior[id] = f.snapshots.capture(id)
				}

				a := f.buildDeviceAction(logical, prior, args)
				for _, id := range physical {
					f.locks.claim(id, a)
				}
				built = append(built, a)
			}
		}
	}
	return built
}

func (f *factory) buildDeviceAction(entityID string, prior map[string]gateway.EntityState, args DeviceArgs) actions.Action {
	policy := finishPolicy(args.Finish)

	if args.Command == "breathe" {
		return actions.NewBreathe(actions.BreatheConfig{
			EntityID:     entityID,
			PriorState:   prior,
			Policy:       policy,
			Args:         args.Service,
			Length:       args.Length,
			BreathLength: args.BreathLength,
			Priority:     args.Priority,
		}, f.gw, f.sched, f.onComplete, f.logger)
	}

	return actions.NewDevice(actions.DeviceConfig{
		EntityID:   entityID,
		PriorState: prior,
		Command:    actions.Command(args.Command),
		Policy:     policy,
		Args:       args.Service,
		Length:     args.Length,
		Priority:   args.Priority,
	}, f.gw, f.sched, f.onComplete, f.logger)
}

func finishPolicy(name string) actions.FinishPolicy {
	switch name {
	case "turn_on":
		return actions.FinishTurnOn
	case "turn_off":
		return actions.FinishTurnOff
	case "restore":
		return actions.FinishRestore
	default:
		return actions.FinishNone
	}
}

func (f *factory) buildNotify(ev *Event, outputs []*Output) []actions.Action {
	var built []actions.Action
	for _, out := range outputs {
		for _, entry := range out.Entries(DomainNotify) {
			args := notifyArgsFrom(f.rules.resolveArgs(ev, DomainNotify, entry))
			if args.Service == "" || args.Message == "" {
				f.logger.Warn("notify entry missing service or message, skipping",
					"output", out.Name, "event_id", ev.ID)
				continue
			}
			built = append(built, actions.NewNotify(actions.NotifyConfig{
				Service:  args.Service,
				Message:  args.Message,
				Title:    args.Title,
				Extra:    args.Data,
				Priority: args.Priority,
			}, f.gw, f.onComplete, f.logger))
		}
	}
	return built
}

func (f *factory) buildPublish(ev *Event, outputs []*Output) []actions.Action {
	var built []actions.Action
	for _, out := range outputs {
		for _, entry := range out.Entries(DomainPublish) {
			args := publishArgsFrom(f.rules.resolveArgs(ev, DomainPublish, entry))
			if args.Topic == "" {
				f.logger.Warn("publish entry missing topic, skipping",
					"output", out.Name, "event_id", ev.ID)
				continue
			}
			built = append(built, actions.NewPublish(actions.PublishConfig{
				Topic:    args.Topic,
				Payload:  args.Payload,
				QoS:      args.QoS,
				Retained: args.Retained,
				Priority: args.Priority,
			}, f.pub, f.onComplete, f.logger))
		}
	}
	return built
}
