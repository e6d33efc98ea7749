package config

import "time"

// LLMConfig holds model provider settings. One provider serves both chat
// completion and embeddings; calls share a token-bucket rate limiter keyed
// by provider+model.
type LLMConfig struct {
	// Provider selects the client implementation: "gemini" or "fake".
	// "fake" is deterministic and exists for tests and dev mode.
	Provider string `yaml:"provider"`

	// APIKeyEnv names the env var carrying the provider API key.
	APIKeyEnv string `yaml:"api_key_env"`

	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`

	// EmbedDimensions must equal postgres.embedding_dimensions.
	EmbedDimensions int `yaml:"embed_dimensions"`

	// Caps clamp per-request overrides from QueryOptions.
	MaxTemperature  float64 `yaml:"max_temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`

	// RequestTimeout is the per-call deadline; node timeouts still apply.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Token-bucket rate limit per (provider, model).
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// EmbedBatchSize caps texts per embedding call; larger inputs are
	// chunked and embedded concurrently.
	EmbedBatchSize int `yaml:"embed_batch_size"`
}
