package api

// HealthCheck is one dependency's probe result.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health and GET /ready.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks,omitempty"`
}

// BlockedQueryResponse is returned when input guardrails refuse a query and
// the pipeline could not produce a regular record. The block is a domain
// outcome, so the status code stays 200.
type BlockedQueryResponse struct {
	Answer           string  `json:"answer"`
	Action           string  `json:"action"`
	EscalationReason string  `json:"escalation_reason"`
	RiskScore        float64 `json:"risk_score"`
}

// CommitResponse is returned by POST /api/v1/ingest/drafts/:id/commit.
type CommitResponse struct {
	DocumentID     string   `json:"document_id"`
	CommittedCount int      `json:"committed_count"`
	PairIDs        []string `json:"pair_ids"`
}

// ArchiveResponse is returned by DELETE /api/v1/documents/:id.
type ArchiveResponse struct {
	DocumentID    string `json:"document_id"`
	PairsArchived int    `json:"pairs_archived"`
}
