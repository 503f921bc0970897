package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook ingestion metrics
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhooks_total",
			Help: "Total number of webhook submissions by outcome",
		},
		[]string{"status"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Total number of submissions rejected by the admission limiter",
		},
		[]string{"source"},
	)

	// Broadcast metrics
	EventsBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_events_broadcast_total",
			Help: "Total number of events fanned out to consumers",
		},
	)

	DeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Total number of per-consumer event deliveries",
		},
	)

	// Consumer connection metrics
	ConsumersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_consumers_connected",
			Help: "Number of currently connected consumers",
		},
	)

	MirrorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_mirror_errors_total",
			Help: "Total number of failed NATS mirror publishes",
		},
	)
)
