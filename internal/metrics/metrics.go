package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshOutcomes counts dispatched work items by kind and result (ok, nok, error)
	RefreshOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_refresh_outcomes_total",
			Help: "Total number of dispatched refresh work items by outcome",
		},
		[]string{"kind", "result"},
	)

	// RefreshDuration tracks work item processing time
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governance_refresh_duration_seconds",
			Help:    "Refresh work item processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// QueueDepth tracks the number of queued work items
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "governance_queue_depth",
			Help: "Number of refresh work items waiting in the queue",
		},
	)

	// QueueRejected counts work items rejected because the queue was full
	QueueRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_queue_rejected_total",
			Help: "Total number of work items rejected by a full queue",
		},
		[]string{"kind"},
	)

	// ProposalsIngested counts upserted proposals by source type
	ProposalsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_proposals_ingested_total",
			Help: "Total number of proposals upserted",
		},
		[]string{"source"},
	)

	// VotesIngested counts upserted votes by source type
	VotesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_votes_ingested_total",
			Help: "Total number of votes upserted",
		},
		[]string{"source"},
	)

	// EntityCursor tracks the chain cursor of each governance entity
	EntityCursor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "governance_entity_cursor",
			Help: "Next block to scan by governance entity",
		},
		[]string{"entity", "source"},
	)

	// AdapterDuration tracks source adapter call time
	AdapterDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governance_adapter_duration_seconds",
			Help:    "Source adapter call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"source", "operation"},
	)

	// RetryAttempts counts outbound call attempts by target and result
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_retry_attempts_total",
			Help: "Total number of outbound call attempts",
		},
		[]string{"target", "result"},
	)

	// ProviderSelections counts which RPC provider served a block range
	ProviderSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_provider_selections_total",
			Help: "Total number of block ranges routed to each RPC provider",
		},
		[]string{"provider"},
	)

	// DecodeErrors counts skipped logs or records that failed to decode
	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_decode_errors_total",
			Help: "Total number of records skipped because they failed to decode",
		},
		[]string{"source"},
	)

	// TxRetries counts retried database transactions by SQLSTATE class
	TxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_tx_retries_total",
			Help: "Total number of retried database transactions",
		},
		[]string{"code"},
	)

	// SanityFindings counts missing and removed proposals found by the sanity pass
	SanityFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_sanity_findings_total",
			Help: "Total number of sanity pass findings",
		},
		[]string{"finding"},
	)

	// ErrorsTotal counts errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
