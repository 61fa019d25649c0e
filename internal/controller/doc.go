// Package controller implements the event scheduler and
// action-contention core: a single coordinator goroutine that receives
// tagged status events, matches them against configured outputs,
// resolves which physical entities each event wants, and decides per
// cycle whether competing events run concurrently, wait their turn or
// preempt the incumbents by force.
//
// The coordinator owns three pieces of shared state, all guarded by
// one mutex: the pending-event queue (drained in descending priority,
// postponed entries never blocking uncontended ones), the entity lock
// table (at most one action per physical entity at any instant), and
// the snapshot store (a global speaker-topology capture plus lazy
// per-light captures, restored or discarded as actions finish).
//
// Admitted events are handed to the action factory, which resolves
// layered arguments (defaults < event < tags < entry), expands entity
// aliases, groups media entries into single actions and registers
// everything in the lock table. Execution fans out per priority band:
// all Prepare calls concurrently, joined, then all Act calls
// concurrently, joined, before the next lower band starts.
package controller
