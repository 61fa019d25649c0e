// Package notifier fires a status event only when a pattern of state
// changes survives a deliberation window.
//
// A notifier watches the entities named in its trigger and suppress
// conditions. The first trigger hit opens an evaluation window; when
// the window closes the event fires only if every trigger clause was
// seen inside the window, no suppress clause was, the disable
// condition does not hold, and a reset interval has passed since the
// last firing. The classic use is a "dog let itself out" alert: the
// pet door opening triggers, a person walking through the hallway
// suppresses.
//
// Fired events are published to the controller's event topic, so the
// payload is an ordinary status event (tags plus overrides).
package notifier
