// Package gateway is the controller's boundary to the outside world.
//
// It defines small consumer interfaces: StateReader for synchronous
// entity state queries, ServiceCaller for fire-and-forget service
// invocations, StateWatcher for state-transition callbacks, and
// Scheduler for one-shot and repeating timers with cancellation. The
// production implementations are MQTTGateway (retained state topics
// in, service-call topics out) and Timers (runtime timer heap).
//
// Actions and the controller depend only on the interfaces, so tests
// substitute recording fakes and a hand-cranked scheduler.
package gateway
