// Package metrics is the telemetry recorder: counters and gauges for ingest
// volume, dedupe drops, redactions, and ingestion lag. Recording is
// fire-and-forget; a telemetry failure never blocks ingestion.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blackroadhq/eventmesh/internal/models"
)

var (
	ingestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "ingest_total",
			Help:      "Envelopes accepted onto the bus, partitioned by source and kind.",
		},
		[]string{"source", "kind"},
	)

	dedupeDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "dedupe_dropped_total",
			Help:      "Envelopes dropped as duplicates within the dedupe window.",
		},
		[]string{"source", "kind"},
	)

	redactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "redactions_total",
			Help:      "Sensitive fields masked before storage or transmission.",
		},
		[]string{"field"},
	)

	ingestLagSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "eventmesh",
			Name:      "ingest_lag_seconds",
			Help:      "Delay between event time and ingestion, clamped at zero.",
		},
		[]string{"source"},
	)

	subscriberDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventmesh",
			Name:      "subscriber_dropped_total",
			Help:      "Envelopes discarded from slow subscriber queues.",
		},
	)

	subscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventmesh",
			Name:      "subscribers_active",
			Help:      "Currently attached live subscribers.",
		},
	)
)

// Register attaches eventmesh collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ingestTotal,
		dedupeDroppedTotal,
		redactionsTotal,
		ingestLagSeconds,
		subscriberDroppedTotal,
		subscribersActive,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordIngest counts an accepted envelope and updates the lag gauge.
func RecordIngest(e models.Envelope) {
	ingestTotal.WithLabelValues(string(e.Source), string(e.Kind)).Inc()
	lag := time.Since(e.TS).Seconds()
	if lag < 0 {
		lag = 0
	}
	ingestLagSeconds.WithLabelValues(string(e.Source)).Set(lag)
}

// RecordDedupeDrop counts a duplicate dropped by the idempotency gate.
func RecordDedupeDrop(e models.Envelope) {
	dedupeDroppedTotal.WithLabelValues(string(e.Source), string(e.Kind)).Inc()
}

// RecordRedaction counts one masked field.
func RecordRedaction(field string) {
	redactionsTotal.WithLabelValues(field).Inc()
}

// RecordSubscriberDrop counts an envelope discarded from a slow subscriber queue.
func RecordSubscriberDrop() {
	subscriberDroppedTotal.Inc()
}

// SubscriberAttached bumps the active-subscriber gauge.
func SubscriberAttached() {
	subscribersActive.Inc()
}

// SubscriberDetached decrements the active-subscriber gauge.
func SubscriberDetached() {
	subscribersActive.Dec()
}
