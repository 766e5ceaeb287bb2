// Package metrics registers the service's Prometheus collectors
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "festtix",
		Name:      "bookings_total",
		Help:      "Booking attempts by outcome.",
	}, []string{"outcome"})

	CancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "festtix",
		Name:      "cancellations_total",
		Help:      "Cancellation attempts by outcome.",
	}, []string{"outcome"})

	CounterUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "festtix",
		Name:      "counter_updates_total",
		Help:      "Background tickets_booked adjustments by direction and outcome.",
	}, []string{"direction", "outcome"})

	CounterDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "festtix",
		Name:      "counter_drift_total",
		Help:      "Counter adjustments abandoned after the last retry.",
	})

	CounterQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "festtix",
		Name:      "counter_queue_depth",
		Help:      "Counter adjustments waiting for the worker.",
	})

	RealtimeResyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "festtix",
		Name:      "realtime_resyncs_total",
		Help:      "Full ledger refreshes triggered by a realtime reconnect.",
	})

	RealtimeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "festtix",
		Name:      "realtime_stream_clients",
		Help:      "Open capacity stream connections.",
	})

	NotificationStreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "festtix",
		Name:      "notification_stream_clients",
		Help:      "Open notification stream connections.",
	})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "festtix",
		Name:      "notifications_sent_total",
		Help:      "Broadcast notification rows by outcome.",
	}, []string{"outcome"})

	CatalogCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "festtix",
		Name:      "catalog_cache_requests_total",
		Help:      "Catalog cache lookups by result.",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "festtix",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
