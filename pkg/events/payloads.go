package events

// QueryCompletedPayload is the payload for query.completed events.
// Published after a query resolves with action=auto_reply.
type QueryCompletedPayload struct {
	QueryID    string   `json:"query_id"`
	UserID     string   `json:"user_id,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"` // pair ids, relevance order
	CacheHit   bool     `json:"cache_hit"`
	LatencyMs  int64    `json:"latency_ms"`
	Timestamp  string   `json:"timestamp"` // RFC3339Nano
}

// QueryEscalatedPayload is the payload for query.escalated events.
// Published when routing hands the query to a human agent.
type QueryEscalatedPayload struct {
	QueryID    string  `json:"query_id"`
	UserID     string  `json:"user_id,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
	Question   string  `json:"question"`
	Reason     string  `json:"reason"` // machine-readable escalation reason
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"` // RFC3339Nano
}

// DocumentIngestedPayload is the payload for document.ingested events.
// Published once per source document when a draft commit completes.
type DocumentIngestedPayload struct {
	DocumentID string `json:"document_id"`
	DraftID    string `json:"draft_id"`
	Title      string `json:"title"`
	PairCount  int    `json:"pair_count"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// DocumentArchivedPayload is the payload for document.archived events.
type DocumentArchivedPayload struct {
	DocumentID    string `json:"document_id"`
	PairsArchived int    `json:"pairs_archived"`
	Timestamp     string `json:"timestamp"` // RFC3339Nano
}

// ClassificationCompletedPayload is the payload for
// job.classification.completed events, published when the
// auto-classification of a staged upload finishes.
type ClassificationCompletedPayload struct {
	DraftID    string `json:"draft_id"`
	Chunks     int    `json:"chunks"`
	Categories int    `json:"categories"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// SessionEscalatedPayload is the payload for session.escalated events.
// Published when the dialog state machine moves a session to ESCALATED.
type SessionEscalatedPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	Turns     int    `json:"turns"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// RegistryRefreshedPayload is the payload for system.registry.refreshed
// events, published after a forced registry rebuild.
type RegistryRefreshedPayload struct {
	Categories int    `json:"categories"`
	Intents    int    `json:"intents"`
	PairCount  int    `json:"pair_count"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}
