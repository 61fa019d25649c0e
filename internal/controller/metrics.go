package controller

import (
	"github.com/nerrad567/status-core/internal/actions"
	"github.com/nerrad567/status-core/internal/infrastructure/influxdb"
)

// MetricsObserver writes controller lifecycle metrics to InfluxDB.
// Writes are batched and non-blocking, so it is safe to run on the
// coordinator.
type MetricsObserver struct {
	client *influxdb.Client
}

// NewMetricsObserver creates a metrics observer on a connected client.
func NewMetricsObserver(client *influxdb.Client) *MetricsObserver {
	return &MetricsObserver{client: client}
}

func (m *MetricsObserver) EventQueued(_ *Event, priority int, force bool) {
	m.client.WriteEventMetric("queued", priority, force, 0)
}

func (m *MetricsObserver) EventDropped(_ *Event) {
	m.client.WriteEventMetric("dropped", 0, false, 0)
}

func (m *MetricsObserver) EventAdmitted(_ *Event, actionCount int) {
	m.client.WriteEventMetric("admitted", 0, false, actionCount)
}

func (m *MetricsObserver) ActionFinished(a actions.Action, forced bool) {
	m.client.WriteActionMetric(ActionKind(a), len(a.Entities()), a.Priority(), forced)
}
