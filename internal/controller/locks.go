package controller

import "github.com/nerrad567/status-core/internal/actions"

// lockTable maps each physical entity currently under an action's
// control to that action. An entity appears iff some unfinished action
// claims it, and at most one action claims it at a time.
//
// The table is not self-locking: every access happens on the
// coordinator goroutine under the controller mutex.
type lockTable struct {
	owners map[string]actions.Action
}

func newLockTable() *lockTable {
	return &lockTable{owners: make(map[string]actions.Action)}
}

// claim records a as the owner of entityID, displacing any previous
// owner. Callers resolve contention before claiming.
func (t *lockTable) claim(entityID string, a actions.Action) {
	t.owners[entityID] = a
}

// owner returns the action holding entityID, if any.
func (t *lockTable) owner(entityID string) (actions.Action, bool) {
	a, ok := t.owners[entityID]
	return a, ok
}

// conflicts returns the distinct actions holding any of the given
// entities.
func (t *lockTable) conflicts(entities []string) []actions.Action {
	seen := make(map[actions.Action]bool)
	var out []actions.Action
	for _, id := range entities {
		if a, ok := t.owners[id]; ok && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// release removes every entity owned by a.
func (t *lockTable) release(a actions.Action) {
	for id, owner := range t.owners {
		if owner == a {
			delete(t.owners, id)
		}
	}
}

// removeFinished drops every entry whose action reports finished and
// returns the removed actions.
func (t *lockTable) removeFinished() []actions.Action {
	seen := make(map[actions.Action]bool)
	var removed []actions.Action
	for id, a := range t.owners {
		if a.IsFinished() {
			delete(t.owners, id)
			if !seen[a] {
				seen[a] = true
				removed = append(removed, a)
			}
		}
	}
	return removed
}

// lockedEntities returns the set of currently locked entity IDs.
func (t *lockTable) lockedEntities() map[string]bool {
	out := make(map[string]bool, len(t.owners))
	for id := range t.owners {
		out[id] = true
	}
	return out
}

// activeActions returns the distinct actions currently holding any
// entity.
func (t *lockTable) activeActions() []actions.Action {
	seen := make(map[actions.Action]bool)
	var out []actions.Action
	for _, a := range t.owners {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// size returns the number of locked entities.
func (t *lockTable) size() int {
	return len(t.owners)
}
