package config

import (
	"fmt"
	"regexp"
	"time"
)

// KnownNodes is the set of node names the engine can build. The pipeline
// order may only reference these.
var KnownNodes = map[string]bool{
	"input_guardrails":  true,
	"normalize":         true,
	"cache_lookup":      true,
	"session_load":      true,
	"language_detect":   true,
	"intent_classify":   true,
	"query_expand":      true,
	"embed_query":       true,
	"complexity":        true,
	"retrieve":          true,
	"rerank":            true,
	"multi_hop":         true,
	"merge_context":     true,
	"dialog_state":      true,
	"route":             true,
	"generate":          true,
	"output_guardrails": true,
	"refusal":           true,
	"session_store":     true,
	"archive":           true,
	"cache_store":       true,
	"emit_events":       true,
}

// ConfigValidator validates configuration comprehensively with clear error messages.
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error).
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validatePipeline(); err != nil {
		return fmt.Errorf("pipeline validation failed: %w", err)
	}
	if err := v.validateCache(); err != nil {
		return fmt.Errorf("cache validation failed: %w", err)
	}
	if err := v.validateGuardrails(); err != nil {
		return fmt.Errorf("guardrails validation failed: %w", err)
	}
	if err := v.validateSearch(); err != nil {
		return fmt.Errorf("search validation failed: %w", err)
	}
	if err := v.validateDialog(); err != nil {
		return fmt.Errorf("dialog validation failed: %w", err)
	}
	if err := v.validateIngest(); err != nil {
		return fmt.Errorf("ingest validation failed: %w", err)
	}
	if err := v.validateWebhook(); err != nil {
		return fmt.Errorf("webhook validation failed: %w", err)
	}
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s.ListenAddr == "" {
		return NewValidationError("server", "listen_addr", ErrMissingRequiredField)
	}
	if s.MaxConcurrentQueries < 1 {
		return NewValidationError("server", "max_concurrent_queries", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.QueryTimeout <= 0 {
		return NewValidationError("server", "query_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validatePipeline() error {
	p := v.cfg.Pipeline
	if len(p.NodeOrder) == 0 {
		return NewValidationError("pipeline", "node_order", ErrMissingRequiredField)
	}

	guardIdx, cacheIdx := -1, -1
	seen := map[string]bool{}
	for i, name := range p.NodeOrder {
		if !KnownNodes[name] {
			return NewValidationError("pipeline", "node_order", fmt.Errorf("%w: %s", ErrUnknownNode, name))
		}
		if seen[name] {
			return NewValidationError("pipeline", "node_order", fmt.Errorf("%w: duplicate node %s", ErrInvalidValue, name))
		}
		seen[name] = true
		switch name {
		case "input_guardrails":
			guardIdx = i
		case "cache_lookup":
			cacheIdx = i
		}
	}

	// Security invariant: blocked content must never touch the cache, so
	// input_guardrails has to run before cache_lookup whenever both exist.
	if guardIdx >= 0 && cacheIdx >= 0 && guardIdx > cacheIdx {
		if v.cfg.Pipeline.NodeEnabled("input_guardrails") && v.cfg.Pipeline.NodeEnabled("cache_lookup") {
			return NewValidationError("pipeline", "node_order",
				fmt.Errorf("%w: input_guardrails must precede cache_lookup", ErrInvalidValue))
		}
	}

	for name, nc := range p.Nodes {
		if !KnownNodes[name] {
			return NewValidationError("pipeline", "nodes", fmt.Errorf("%w: %s", ErrUnknownNode, name))
		}
		switch nc.OnError {
		case "", FailureFatal, FailureRecover, FailureBypass:
		default:
			return NewValidationError("pipeline", fmt.Sprintf("nodes.%s.on_error", name),
				fmt.Errorf("%w: %s (want fatal|recover|bypass)", ErrInvalidValue, nc.OnError))
		}
	}
	if p.NodeTimeout <= 0 {
		return NewValidationError("pipeline", "node_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateCache() error {
	c := v.cfg.Cache
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return NewValidationError("cache", "min_confidence", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	// The semantic threshold is a required setting with no hidden default:
	// multiple plausible values exist and silently picking one produces
	// surprising hit rates.
	if c.Semantic() {
		if c.SemanticThreshold <= 0 || c.SemanticThreshold > 1 {
			return NewValidationError("cache", "semantic_threshold",
				fmt.Errorf("%w: required in (0,1] when semantic_enabled is true", ErrMissingRequiredField))
		}
	}
	if c.MaxEntries < 1 {
		return NewValidationError("cache", "max_entries", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.TTL <= 0 {
		return NewValidationError("cache", "ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateGuardrails() error {
	g := v.cfg.Guardrails
	if g.MinQuestionChars < 1 || g.MaxQuestionChars < g.MinQuestionChars {
		return NewValidationError("guardrails", "max_question_chars",
			fmt.Errorf("%w: bounds must satisfy 1 <= min <= max", ErrInvalidValue))
	}
	if g.BlockThreshold <= 0 || g.BlockThreshold > 1 {
		return NewValidationError("guardrails", "block_threshold", fmt.Errorf("%w: must be in (0,1]", ErrInvalidValue))
	}
	if g.GroundednessFloor < 0 || g.GroundednessFloor > 1 {
		return NewValidationError("guardrails", "groundedness_floor", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	for _, r := range g.Rules {
		if r.Name == "" {
			return NewValidationError("guardrails", "rules", fmt.Errorf("%w: rule name", ErrMissingRequiredField))
		}
		if _, err := regexp.Compile("(?i)" + r.Pattern); err != nil {
			return NewValidationError("guardrails", fmt.Sprintf("rules.%s.pattern", r.Name),
				fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
		if r.Risk <= 0 || r.Risk > 1 {
			return NewValidationError("guardrails", fmt.Sprintf("rules.%s.risk", r.Name),
				fmt.Errorf("%w: must be in (0,1]", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateSearch() error {
	s := v.cfg.Search
	if s.TopK < 1 {
		return NewValidationError("search", "top_k", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.FusionAlpha < 0 || s.FusionAlpha > 1 {
		return NewValidationError("search", "fusion_alpha", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	if s.RRFK < 1 {
		return NewValidationError("search", "rrf_k", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.MaxHops < 1 || s.MaxHops > 3 {
		return NewValidationError("search", "max_hops", fmt.Errorf("%w: must be in [1,3]", ErrInvalidValue))
	}
	if s.ComplexityMedium >= s.ComplexityHigh {
		return NewValidationError("search", "complexity_high",
			fmt.Errorf("%w: must be greater than complexity_medium", ErrInvalidValue))
	}
	if s.ContextTokenBudget < 1 {
		return NewValidationError("search", "context_token_budget", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateDialog() error {
	d := v.cfg.Dialog
	if d.AutoReplyThreshold < 0 || d.AutoReplyThreshold > 1 {
		return NewValidationError("dialog", "auto_reply_threshold", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	if d.LoopThreshold <= 0 || d.LoopThreshold > 1 {
		return NewValidationError("dialog", "loop_threshold", fmt.Errorf("%w: must be in (0,1]", ErrInvalidValue))
	}
	if d.MinLoopMessages < 2 {
		return NewValidationError("dialog", "min_loop_messages", fmt.Errorf("%w: must be at least 2", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateIngest() error {
	i := v.cfg.Ingest
	if i.NumCategories < 1 {
		return NewValidationError("ingest", "num_categories", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if i.IntentsPerCategory < 1 {
		return NewValidationError("ingest", "intents_per_category", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if i.HandoffLow >= i.HandoffHigh {
		return NewValidationError("ingest", "handoff_high",
			fmt.Errorf("%w: must be greater than handoff_low", ErrInvalidValue))
	}
	if i.DraftTTL < time.Hour || i.DraftTTL > 24*time.Hour {
		return NewValidationError("ingest", "draft_ttl", fmt.Errorf("%w: must be within [1h, 24h]", ErrInvalidValue))
	}
	if i.MaxUploadBytes < 1 {
		return NewValidationError("ingest", "max_upload_bytes", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateWebhook() error {
	w := v.cfg.Webhook
	if w.Workers < 1 {
		return NewValidationError("webhook", "workers", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if len(w.Backoff) == 0 {
		return NewValidationError("webhook", "backoff", ErrMissingRequiredField)
	}
	for idx, b := range w.Backoff {
		if b <= 0 {
			return NewValidationError("webhook", fmt.Sprintf("backoff[%d]", idx),
				fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}
	if w.JitterFraction < 0 || w.JitterFraction >= 1 {
		return NewValidationError("webhook", "jitter_fraction", fmt.Errorf("%w: must be in [0,1)", ErrInvalidValue))
	}
	if w.DefaultMaxAttempts < 1 {
		return NewValidationError("webhook", "default_max_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if w.StaleClaimTTL <= w.DefaultTimeout {
		return NewValidationError("webhook", "stale_claim_ttl",
			fmt.Errorf("%w: must exceed default_timeout", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if r.CleanupInterval < time.Minute {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("%w: must be at least 1m", ErrInvalidValue))
	}
	if r.DeliveryTTL <= 0 {
		return NewValidationError("retention", "delivery_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.DeadDeliveryTTL < r.DeliveryTTL {
		return NewValidationError("retention", "dead_delivery_ttl",
			fmt.Errorf("%w: must be at least delivery_ttl", ErrInvalidValue))
	}
	if r.EventTTL < r.DeadDeliveryTTL {
		return NewValidationError("retention", "event_ttl",
			fmt.Errorf("%w: must be at least dead_delivery_ttl", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateLLM() error {
	l := v.cfg.LLM
	switch l.Provider {
	case "gemini", "fake":
	default:
		return NewValidationError("llm", "provider", fmt.Errorf("%w: %s (want gemini|fake)", ErrInvalidValue, l.Provider))
	}
	if l.EmbedDimensions < 1 {
		return NewValidationError("llm", "embed_dimensions", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if l.EmbedDimensions != v.cfg.Postgres.EmbeddingDimensions {
		return NewValidationError("llm", "embed_dimensions",
			fmt.Errorf("%w: must equal postgres.embedding_dimensions", ErrInvalidValue))
	}
	if l.RateLimitRPS <= 0 {
		return NewValidationError("llm", "rate_limit_rps", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if l.EmbedBatchSize < 1 {
		return NewValidationError("llm", "embed_batch_size", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}
