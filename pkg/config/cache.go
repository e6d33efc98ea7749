package config

import "time"

// CacheConfig tunes the normalized-query answer cache.
type CacheConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`

	// TTL applies to every stored entry.
	TTL time.Duration `yaml:"ttl"`

	// MinConfidence is the floor below which answers are never cached.
	MinConfidence float64 `yaml:"min_confidence"`

	// SemanticEnabled turns on the secondary cosine-similarity lookup.
	SemanticEnabled *bool `yaml:"semantic_enabled,omitempty"`

	// SemanticThreshold is the cosine floor for a semantic hit. It is
	// REQUIRED when SemanticEnabled is true: there is deliberately no
	// built-in default, and validation fails without it.
	SemanticThreshold float64 `yaml:"semantic_threshold,omitempty"`

	// MaxEntries bounds the in-process semantic index (LRU eviction).
	MaxEntries int `yaml:"max_entries"`
}

// On reports whether the cache is enabled (default true).
func (c *CacheConfig) On() bool {
	return c.Enabled == nil || *c.Enabled
}

// Semantic reports whether the semantic lookup is enabled (default false).
func (c *CacheConfig) Semantic() bool {
	return c.SemanticEnabled != nil && *c.SemanticEnabled
}
