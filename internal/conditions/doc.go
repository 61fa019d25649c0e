// Package conditions evaluates declarative boolean clause trees.
//
// A clause is a small map, typically decoded straight from YAML:
//
//	- tag: doorbell
//	- after: "22:00:00"
//	- or:
//	    - binary_sensor.front_door: "on"
//	    - lux.hallway: "< 40"
//
// Reserved keys compose sub-clauses (and/or/not), compare the wall
// clock (after/before/between, ranges may wrap midnight) or test event
// tag membership (tag). Any other key names an entity whose current
// state is compared against the clause value: string equality by
// default, numeric comparison when the value carries a <=, <, >= or >
// prefix. A clause with kind "trigger" compares against the triggering
// value supplied in the Context instead of querying state.
//
// Evaluation is pure given a Context; the only side channel is the
// Context's GetState reader. Malformed clauses and unknown composition
// operators abort the whole tree with an error rather than being
// silently skipped.
//
// ExtractEntities walks a tree and returns the entity IDs it
// references, which automations use to subscribe to state changes.
package conditions
