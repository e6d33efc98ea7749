package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAll_DefaultsAreValid(t *testing.T) {
	require.NoError(t, NewValidator(DefaultConfig()).ValidateAll())
}

func TestValidateAll_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "unknown node in order",
			mutate:  func(c *Config) { c.Pipeline.NodeOrder = append(c.Pipeline.NodeOrder, "telepathy") },
			wantMsg: "unknown pipeline node",
		},
		{
			name: "duplicate node in order",
			mutate: func(c *Config) {
				c.Pipeline.NodeOrder = append(c.Pipeline.NodeOrder, "retrieve")
			},
			wantMsg: "duplicate node",
		},
		{
			name: "bad failure mode",
			mutate: func(c *Config) {
				c.Pipeline.Nodes["retrieve"] = NodeConfig{OnError: "shrug"}
			},
			wantMsg: "fatal|recover|bypass",
		},
		{
			name:    "cache min confidence out of range",
			mutate:  func(c *Config) { c.Cache.MinConfidence = 1.5 },
			wantMsg: "min_confidence",
		},
		{
			name: "semantic without threshold",
			mutate: func(c *Config) {
				on := true
				c.Cache.SemanticEnabled = &on
				c.Cache.SemanticThreshold = 0
			},
			wantMsg: "semantic_threshold",
		},
		{
			name:    "guardrail bounds inverted",
			mutate:  func(c *Config) { c.Guardrails.MaxQuestionChars = 1 },
			wantMsg: "max_question_chars",
		},
		{
			name: "bad guardrail rule pattern",
			mutate: func(c *Config) {
				c.Guardrails.Rules = []GuardrailRule{{Name: "broken", Pattern: "([", Risk: 0.5}}
			},
			wantMsg: "pattern",
		},
		{
			name:    "fusion alpha out of range",
			mutate:  func(c *Config) { c.Search.FusionAlpha = 1.2 },
			wantMsg: "fusion_alpha",
		},
		{
			name:    "max hops out of range",
			mutate:  func(c *Config) { c.Search.MaxHops = 5 },
			wantMsg: "max_hops",
		},
		{
			name:    "complexity thresholds inverted",
			mutate:  func(c *Config) { c.Search.ComplexityMedium = 9; c.Search.ComplexityHigh = 3 },
			wantMsg: "complexity_high",
		},
		{
			name:    "handoff band inverted",
			mutate:  func(c *Config) { c.Ingest.HandoffLow = 0.9 },
			wantMsg: "handoff_high",
		},
		{
			name:    "draft ttl below one hour",
			mutate:  func(c *Config) { c.Ingest.DraftTTL = 5 * time.Minute },
			wantMsg: "draft_ttl",
		},
		{
			name:    "empty backoff",
			mutate:  func(c *Config) { c.Webhook.Backoff = nil },
			wantMsg: "backoff",
		},
		{
			name:    "jitter fraction too large",
			mutate:  func(c *Config) { c.Webhook.JitterFraction = 1.0 },
			wantMsg: "jitter_fraction",
		},
		{
			name:    "stale claim ttl below attempt timeout",
			mutate:  func(c *Config) { c.Webhook.StaleClaimTTL = 5 * time.Second },
			wantMsg: "stale_claim_ttl",
		},
		{
			name:    "unsupported provider",
			mutate:  func(c *Config) { c.LLM.Provider = "mystery" },
			wantMsg: "provider",
		},
		{
			name: "embedding dimension mismatch",
			mutate: func(c *Config) {
				c.LLM.EmbedDimensions = 512
			},
			wantMsg: "embedding_dimensions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidationErrorFormatting(t *testing.T) {
	err := NewValidationError("cache", "ttl", ErrInvalidValue)
	assert.Contains(t, err.Error(), "cache")
	assert.Contains(t, err.Error(), "ttl")
	assert.ErrorIs(t, err, ErrInvalidValue)
}
