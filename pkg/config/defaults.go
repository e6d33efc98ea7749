package config

import "time"

// DefaultNodeOrder is the built-in linear order of the query graph.
// input_guardrails MUST precede cache_lookup: blocked content is never read
// from or written to the cache. Conditional edges (cache-hit short-circuit,
// guardrail block, escalate routing, single-hop skip) are contributed by the
// nodes themselves.
var DefaultNodeOrder = []string{
	"input_guardrails",
	"normalize",
	"session_load",
	"cache_lookup",
	"language_detect",
	"query_expand",
	"embed_query",
	"intent_classify",
	"complexity",
	"retrieve",
	"rerank",
	"multi_hop",
	"merge_context",
	"dialog_state",
	"route",
	"generate",
	"output_guardrails",
	"refusal",
	"session_store",
	"cache_store",
	"emit_events",
	"archive",
}

// DefaultConfig returns the complete built-in configuration. User YAML is
// merged on top of it; env-dependent fields (DSNs, API keys) stay empty
// until Initialize resolves them.
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			ListenAddr:           ":8080",
			AuthTokenEnv:         "SAGE_API_TOKEN",
			MaxConcurrentQueries: 32,
			QueryTimeout:         30 * time.Second,
			ShutdownTimeout:      10 * time.Second,
		},
		Postgres: &PostgresConfig{
			DSNEnv:              "SAGE_POSTGRES_DSN",
			MaxOpenConns:        20,
			MaxIdleConns:        5,
			ConnMaxLifetime:     30 * time.Minute,
			EmbeddingDimensions: 768,
		},
		Redis: &RedisConfig{
			AddrEnv:   "SAGE_REDIS_ADDR",
			Addr:      "localhost:6379",
			DB:        0,
			KeyPrefix: "sage",
		},
		LLM: &LLMConfig{
			Provider:        "gemini",
			APIKeyEnv:       "GOOGLE_API_KEY",
			ChatModel:       "gemini-2.0-flash",
			EmbedModel:      "text-embedding-004",
			EmbedDimensions: 768,
			MaxTemperature:  1.0,
			MaxOutputTokens: 1024,
			RequestTimeout:  20 * time.Second,
			RateLimitRPS:    8,
			RateLimitBurst:  16,
			EmbedBatchSize:  64,
		},
		Pipeline: &PipelineConfig{
			NodeOrder:   append([]string(nil), DefaultNodeOrder...),
			NodeTimeout: 10 * time.Second,
			// Enrichment steps degrade instead of failing the query: expansion
			// falls back to the original question, multi-hop to the initial
			// ranking, generation to an escalation handoff.
			Nodes: map[string]NodeConfig{
				"query_expand": {OnError: FailureRecover},
				"multi_hop":    {OnError: FailureRecover},
				"generate":     {OnError: FailureRecover},
			},
		},
		Cache: &CacheConfig{
			TTL:           12 * time.Hour,
			MinConfidence: 0.6,
			MaxEntries:    10000,
		},
		Guardrails: &GuardrailsConfig{
			MinQuestionChars:  3,
			MaxQuestionChars:  2000,
			BlockThreshold:    0.7,
			GroundednessFloor: 0.35,
		},
		Search: &SearchConfig{
			TopK:                    5,
			RerankTopN:              24,
			FusionAlpha:             0.7,
			RRFK:                    60,
			CategoryConfidenceFloor: 0.55,
			MaxHops:                 3,
			HopMinRelevance:         0.45,
			HopFetchLimit:           10,
			ComplexityMedium:        3.0,
			ComplexityHigh:          5.0,
			ContextTokenBudget:      1200,
		},
		Dialog: &DialogConfig{
			AutoReplyThreshold:    0.7,
			MaxLowConfidenceTurns: 2,
			LoopThreshold:         0.9,
			LoopWindow:            4,
			MinLoopMessages:       2,
		},
		Session: &SessionConfig{
			TTL:             24 * time.Hour,
			MaxContextTurns: 6,
			MaxTurns:        50,
			EmbeddingWindow: 6,
		},
		Ingest: &IngestConfig{
			NumCategories:         15,
			IntentsPerCategory:    3,
			KMeansMaxIters:        50,
			KMeansSeed:            42,
			NamingSimilarityFloor: 0.8,
			HandoffLow:            0.25,
			HandoffHigh:           0.75,
			DraftTTL:              24 * time.Hour,
			CommittedDraftTTL:     1 * time.Hour,
			CommitLockTTL:         5 * time.Minute,
			MaxUploadBytes:        10 << 20,
		},
		Webhook:   DefaultWebhookConfig(),
		Retention: DefaultRetentionConfig(),
	}
}
