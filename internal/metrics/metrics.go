package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siem_export_events_total",
			Help: "Total number of delivery attempts per destination",
		},
		[]string{"destination", "status"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siem_export_latency_seconds",
			Help:    "Duration of destination delivery calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"destination"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "siem_export_queue_depth",
			Help: "Current depth of the export queue",
		},
		[]string{"backend"},
	)

	// Retry and dead-letter metrics
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siem_export_retries_total",
			Help: "Total number of scheduled delivery retries",
		},
	)

	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siem_export_dead_letters_total",
			Help: "Total number of events dead-lettered after exhausting retries",
		},
	)
)
