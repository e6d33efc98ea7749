package config

// SearchConfig tunes hybrid retrieval, reranking, and multi-hop expansion.
type SearchConfig struct {
	// TopK is the default result count returned to callers.
	TopK int `yaml:"top_k"`

	// RerankTopN is how many fused candidates the cross-encoder scores.
	RerankTopN int `yaml:"rerank_top_n"`

	// FusionAlpha weights vector vs lexical reciprocal-rank scores:
	// score = alpha*RRF_vec + (1-alpha)*RRF_lex.
	FusionAlpha float64 `yaml:"fusion_alpha"`

	// RRFK is the rank-offset constant in 1/(k+rank).
	RRFK int `yaml:"rrf_k"`

	// CategoryConfidenceFloor gates the category filter: below it the
	// filter is bypassed rather than trusted.
	CategoryConfidenceFloor float64 `yaml:"category_confidence_floor"`

	// Multi-hop settings.
	MaxHops           int     `yaml:"max_hops"`
	HopMinRelevance   float64 `yaml:"hop_min_relevance"`
	HopFetchLimit     int     `yaml:"hop_fetch_limit"`
	ComplexityMedium  float64 `yaml:"complexity_medium"`
	ComplexityHigh    float64 `yaml:"complexity_high"`
	ContextTokenBudget int    `yaml:"context_token_budget"`
}
