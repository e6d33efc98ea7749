// Package metrics declares the Prometheus instruments shared across the
// service. Collectors register themselves on the default registry via
// promauto; the API server exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueriesTotal counts completed queries by final action (auto_reply|escalate).
var QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sage_queries_total",
	Help: "completed queries by final action",
}, []string{"action"})

// QueryDuration tracks end-to-end query latency, cache hits included.
var QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "sage_query_duration_seconds",
	Help:    "end-to-end query pipeline latency",
	Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
})

// NodeDuration tracks per-node latency by node name and terminal status
// (ok|failed|recovered|bypassed|skipped).
var NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "sage_node_duration_seconds",
	Help:    "per-node pipeline latency",
	Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
}, []string{"node", "status"})

// CacheRequests counts answer-cache lookups by result
// (hit|semantic_hit|miss|bypass).
var CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sage_cache_requests_total",
	Help: "answer cache lookups by result",
}, []string{"result"})

// LLMRequests counts provider calls by kind (chat|embed) and status
// (ok|error).
var LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sage_llm_requests_total",
	Help: "LLM provider calls by kind and status",
}, []string{"kind", "status"})

// LLMRequestDuration tracks provider call latency by kind.
var LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "sage_llm_request_duration_seconds",
	Help:    "LLM provider call latency",
	Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
}, []string{"kind"})

// WebhookDeliveries counts delivery attempts by outcome
// (success|retry|dead).
var WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sage_webhook_deliveries_total",
	Help: "webhook delivery attempts by outcome",
}, []string{"status"})

// WebhookAttemptDuration tracks a single delivery HTTP attempt.
var WebhookAttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "sage_webhook_attempt_duration_seconds",
	Help:    "webhook HTTP attempt latency",
	Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
})

// IngestCommits counts staging commits by outcome (ok|conflict|error).
var IngestCommits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sage_ingest_commits_total",
	Help: "staging draft commits by outcome",
}, []string{"status"})

// IngestPairsCommitted counts QA pairs written to the committed store.
var IngestPairsCommitted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sage_ingest_pairs_committed_total",
	Help: "QA pairs committed to the knowledge base",
})

// RegistryRefreshes counts intent registry rebuilds by status (ok|error).
var RegistryRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sage_registry_refreshes_total",
	Help: "intent registry rebuilds",
}, []string{"status"})
