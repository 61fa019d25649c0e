// Package influxdb stores scheduler metrics as time series.
//
// Three measurements cover the controller's behaviour over time:
// events (queued/admitted/dropped with priority and force), actions
// (finished, with variant and forced-preemption flag) and scheduler
// (queue depth and lock-table size, sampled periodically).
//
// Writes go through the official influxdb-client-go v2 non-blocking
// batched API: an unreachable server drops metrics, it never blocks
// the controller. Batch errors surface asynchronously through the
// SetOnError callback.
//
// The whole package is optional; Connect returns ErrDisabled when the
// config switches metrics off and the caller runs without it.
package influxdb
