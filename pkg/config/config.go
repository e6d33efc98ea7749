package config

// Config is the umbrella configuration object returned by Initialize() and
// used throughout the application. Sections are resolved (defaults applied,
// env expanded, validated) before the Config is handed out.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Server     *ServerConfig
	Postgres   *PostgresConfig
	Redis      *RedisConfig
	LLM        *LLMConfig
	Pipeline   *PipelineConfig
	Cache      *CacheConfig
	Guardrails *GuardrailsConfig
	Search     *SearchConfig
	Dialog     *DialogConfig
	Session    *SessionConfig
	Ingest     *IngestConfig
	Webhook    *WebhookConfig
	Retention  *RetentionConfig
}

// Stats contains statistics about loaded configuration.
type Stats struct {
	EnabledNodes int
	EventKinds   int
	BackoffSteps int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Pipeline != nil {
		for _, n := range c.Pipeline.NodeOrder {
			if c.Pipeline.NodeEnabled(n) {
				s.EnabledNodes++
			}
		}
	}
	if c.Webhook != nil {
		s.BackoffSteps = len(c.Webhook.Backoff)
	}
	return s
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
