package controller

import (
	"github.com/nerrad567/status-core/internal/actions"
	"github.com/nerrad567/status-core/internal/gateway"
)

// snapshotStore remembers device state captured before actions mutate
// it. Grouped media shares one global snapshot (the platform snapshots
// the whole speaker topology in a single call); lights get per-entity
// captures discarded once no action references them.
//
// Like the lock table it is only touched on the coordinator goroutine
// under the controller mutex.
type snapshotStore struct {
	svc        gateway.Gateway
	globalHeld bool
	perEntity  map[string]gateway.EntityState
	logger     Logger
}

func newSnapshotStore(svc gateway.Gateway, logger Logger) *snapshotStore {
	return &snapshotStore{
		svc:       svc,
		perEntity: make(map[string]gateway.EntityState),
		logger:    logger,
	}
}

// captureGlobal snapshots the speaker topology if not already held.
// Captured once before the first media action in a batch; later media
// actions reuse the held snapshot.
func (s *snapshotStore) captureGlobal() {
	if s.globalHeld {
		return
	}
	err := s.svc.CallService(actions.ServiceMediaSnapshot, map[string]any{
		"entity_id": "all",
	})
	if err != nil {
		s.logger.Error("global media snapshot failed", "error", err)
	}
	s.globalHeld = true
}

// restoreGlobal restores the speaker topology and clears the held
// flag. A no-op when nothing is held.
func (s *snapshotStore) restoreGlobal() {
	if !s.globalHeld {
		return
	}
	err := s.svc.CallService(actions.ServiceMediaRestore, map[string]any{
		"entity_id": "all",
	})
	if err != nil {
		s.logger.Error("global media restore failed", "error", err)
	}
	s.globalHeld = false
}

// globalIsHeld reports whether the global snapshot is outstanding.
func (s *snapshotStore) globalIsHeld() bool {
	return s.globalHeld
}

// capture records an entity's current state if no capture is held.
// Lazy: the first action to touch an entity captures it, later actions
// within the same lifetime reuse the original capture.
func (s *snapshotStore) capture(entityID string) gateway.EntityState {
	if held, ok := s.perEntity[entityID]; ok {
		return held
	}
	state, err := s.svc.GetEntityState(entityID)
	if err != nil {
		s.logger.Warn("state capture failed, snapshotting as off", "entity_id", entityID, "error", err)
		state = gateway.EntityState{State: "off"}
	}
	s.perEntity[entityID] = state
	return state
}

// discardUnreferenced drops per-entity captures for entities no longer
// locked. They will be recaptured fresh if touched again.
func (s *snapshotStore) discardUnreferenced(locked map[string]bool) {
	for id := range s.perEntity {
		if !locked[id] {
			delete(s.perEntity, id)
		}
	}
}

// heldEntities returns the number of per-entity captures held.
func (s *snapshotStore) heldEntities() int {
	return len(s.perEntity)
}
