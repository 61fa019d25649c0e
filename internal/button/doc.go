// Package button dispatches physical button events onto entity service
// calls.
//
// A button event names a command ("toggle", "on_press", ...); the
// dispatcher looks the command up in its configuration and runs each
// configured command set: turn entities on, off, toggle them against a
// check set, or rotate through a list turning on one entity per press.
//
// Events arrive as JSON payloads, typically relayed from an MQTT button
// topic. A per-dispatcher filter matches payload fields so several
// dispatchers can share one topic.
package button
