package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// All writes are drop-on-disconnect: metrics are best effort and never
// block or fail the caller.

// WriteEventMetric records one processed event. status is the outcome
// ("queued", "admitted", "dropped"); actionCount is 0 until admission.
func (c *Client) WriteEventMetric(status string, priority int, force bool, actionCount int) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		"events",
		map[string]string{"status": status},
		map[string]interface{}{
			"priority":     priority,
			"force":        force,
			"action_count": actionCount,
		},
		time.Now(),
	))
}

// WriteActionMetric records one finished action. kind is the action
// variant ("speak", "play", "device", "breathe", "notify", "publish");
// forced marks preemption by a newer event.
func (c *Client) WriteActionMetric(kind string, entityCount int, priority int, forced bool) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		"actions",
		map[string]string{"kind": kind},
		map[string]interface{}{
			"entity_count": entityCount,
			"priority":     priority,
			"forced":       forced,
		},
		time.Now(),
	))
}

// WriteQueueMetric records scheduler queue depth and lock table size.
// Sampled periodically; useful for spotting sustained contention.
func (c *Client) WriteQueueMetric(queueDepth int, lockedEntities int) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		"scheduler",
		map[string]string{},
		map[string]interface{}{
			"queue_depth":     queueDepth,
			"locked_entities": lockedEntities,
		},
		time.Now(),
	))
}
