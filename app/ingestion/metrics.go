package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Claims handled, partitioned by routing outcome or error kind
	claimsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_router_claims_processed_total",
			Help: "Total number of claim messages handled by the ingestion consumer",
		},
		[]string{"outcome"},
	)

	// Claims moved to the dead-letter stream, partitioned by reason kind
	claimsDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_router_claims_dead_lettered_total",
			Help: "Total number of claim messages moved to the dead-letter stream",
		},
		[]string{"reason"},
	)

	claimsRetriedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_router_claims_retried_total",
			Help: "Total number of claim messages left unacknowledged for redelivery",
		},
	)

	claimProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claim_router_claim_processing_duration_seconds",
			Help:    "Claim processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"disposition"},
	)

	claimsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "claim_router_claims_inflight",
			Help: "Number of claim messages currently being processed",
		},
	)

	queueErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_router_queue_errors_total",
			Help: "Total number of failed queue operations",
		},
		[]string{"operation"},
	)
)
