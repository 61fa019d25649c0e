// Package autolight turns lights off (and optionally on) automatically
// around motion-style triggers.
//
// An automation watches trigger entities through the gateway: when its
// activate condition fires it switches the matching output on and arms
// an auto-off timer; the deactivate condition or timer expiry switches
// the output off. A hard timer bounds how long anything stays on, an
// extend condition can postpone auto-off (someone still in the room),
// and manual switch use suspends automation until the room is dark
// again. An anti-flap gap blocks rapid on/off cycles from competing
// triggers.
//
// Status is published as retained JSON so dashboards can show whether
// a room is manual, blocked, on a timer, or idle.
package autolight
