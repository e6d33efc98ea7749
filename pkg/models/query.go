package models

import "time"

// Routing actions.
const (
	ActionAutoReply = "auto_reply"
	ActionEscalate  = "escalate"
)

// Machine-readable escalation reasons.
const (
	EscalationNoRelevantContext = "no_relevant_context"
	EscalationLowConfidence     = "low_confidence"
	EscalationRequiresHandoff   = "requires_handoff"
	EscalationLoopDetected      = "loop_detected"
	EscalationGuardrailBlock    = "guardrail_block"
	EscalationClarifying        = "clarifying"
)

// Source links a query record to one grounding pair with its relevance.
type Source struct {
	PairID    string  `json:"pair_id"`
	Relevance float64 `json:"relevance"`
}

// NodeTrace records one pipeline node's execution for telemetry.
type NodeTrace struct {
	Node       string `json:"node"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// QueryTelemetry is the per-query execution trace persisted with the record.
type QueryTelemetry struct {
	CacheHit        bool        `json:"cache_hit"`
	HopsUsed        int         `json:"hops_used"`
	Nodes           []NodeTrace `json:"nodes"`
	TotalDurationMs int64       `json:"total_duration_ms"`
}

// QueryRecord is the immutable outcome of one query pipeline run.
type QueryRecord struct {
	ID               string         `json:"id" db:"id"`
	Question         string         `json:"question" db:"question"`
	NormalizedKey    string         `json:"normalized_key" db:"normalized_key"`
	Answer           *string        `json:"answer" db:"answer"`
	Confidence       float64        `json:"confidence" db:"confidence"`
	Sources          []Source       `json:"sources"`
	Action           string         `json:"action" db:"action"`
	EscalationReason string         `json:"escalation_reason,omitempty" db:"escalation_reason"`
	Telemetry        QueryTelemetry `json:"telemetry"`
	UserID           string         `json:"user_id" db:"user_id"`
	SessionID        string         `json:"session_id,omitempty" db:"session_id"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
}

// QueryOptions are per-request overrides, clamped to configured caps.
type QueryOptions struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	TimeoutSeconds *int     `json:"timeout_seconds,omitempty"`
	TopK           *int     `json:"top_k,omitempty"`
}

// QueryRequest contains fields for running the query pipeline.
type QueryRequest struct {
	Question  string        `json:"question"`
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id,omitempty"`
	History   []Turn        `json:"history,omitempty"`
	Options   *QueryOptions `json:"options,omitempty"`
}

// SearchFilter restricts retrieval by equality on metadata fields; empty
// fields do not filter.
type SearchFilter struct {
	Category string `json:"category,omitempty"`
	Intent   string `json:"intent,omitempty"`
	Language string `json:"language,omitempty"`
}

// ScoredPair is one ranked retrieval result. VectorScore and FusionRank are
// retained for deterministic tie-breaking downstream.
type ScoredPair struct {
	Pair        QAPair  `json:"pair"`
	Score       float64 `json:"score"`
	VectorScore float64 `json:"vector_score,omitempty"`
	FusionRank  int     `json:"fusion_rank,omitempty"`
	Excerpt     string  `json:"excerpt,omitempty"`
	Hop         int     `json:"hop"`
}

// SearchRequest contains fields for a direct hybrid-search call.
type SearchRequest struct {
	Query  string        `json:"query"`
	TopK   int           `json:"top_k,omitempty"`
	Filter *SearchFilter `json:"filter,omitempty"`
}
