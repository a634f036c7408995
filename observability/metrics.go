// Package observability holds the metric instruments and tracing helpers
// used by the delivery engine.
package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for the hooks engine, backed by any
// go-utils MetricFactory.
type Metrics struct {
	EventsDispatchedTotal gu.Counter
	DeliveriesTotal       gu.Counter
	DeliveryLatency       gu.Histogram
	PendingDeliveries     gu.Gauge
	QuotaDenialsTotal     gu.Counter
}

// NewMetrics creates hooks metric instruments using the supplied factory.
// Pass metrics.NewMetricsCollector("hooks") for standalone usage or the
// host application's shared factory.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsDispatchedTotal: factory.Counter("hooks_events_dispatched_total"),
		DeliveriesTotal:       factory.Counter("hooks_deliveries_total"),
		DeliveryLatency:       factory.Histogram("hooks_delivery_latency_seconds"),
		PendingDeliveries:     factory.Gauge("hooks_pending_deliveries"),
		QuotaDenialsTotal:     factory.Counter("hooks_quota_denials_total"),
	}
}

// RecordDelivery records a delivery attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
