package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwire_events_emitted_total",
			Help: "Total number of events emitted.",
		},
		[]string{"event_type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwire_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome"}, // success, retrying, failed, abandoned, skipped
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwire_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network
	)

	DeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookwire_dead_letters_total",
			Help: "Total number of deliveries that exhausted their retry budget.",
		},
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookwire_delivery_latency_seconds",
			Help:    "HTTP latency of webhook delivery attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookwire_sweeps_total",
			Help: "Total number of sweeper runs.",
		},
	)

	SweptDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwire_swept_deliveries_total",
			Help: "Total number of deliveries re-queued by the sweeper.",
		},
		[]string{"kind"}, // retry, pending
	)

	EndpointCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookwire_endpoint_cache_total",
			Help: "Active-endpoint cache lookups by result.",
		},
		[]string{"result"}, // hit, miss
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookwire_queue_depth",
			Help: "Depth of NSQ topic channels feeding the workers.",
		},
		[]string{"topic", "channel"},
	)
)

// MustRegister registers every collector on the given registry.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsEmittedTotal,
		DeliveriesTotal,
		RetriesTotal,
		DeadLettersTotal,
		DeliveryLatency,
		SweepsTotal,
		SweptDeliveriesTotal,
		EndpointCacheTotal,
		QueueDepth,
	)
}

// RecordAttempt records one delivery attempt outcome and its latency.
func RecordAttempt(outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		DeliveryLatency.Observe(latency.Seconds())
	}
}
