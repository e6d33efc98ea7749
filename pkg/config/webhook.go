package config

import "time"

// WebhookConfig contains dispatcher and worker pool configuration.
// These values control how deliveries are polled, claimed, and retried.
type WebhookConfig struct {
	// Workers is the number of delivery worker goroutines per replica.
	// Each worker independently polls and processes due deliveries.
	Workers int `yaml:"workers"`

	// PollInterval is the base interval for checking due deliveries.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// Backoff is the retry schedule after a failed attempt. Attempts beyond
	// its length reuse the last interval.
	Backoff []time.Duration `yaml:"backoff"`

	// JitterFraction randomizes each backoff interval by ±fraction.
	JitterFraction float64 `yaml:"jitter_fraction"`

	// DefaultMaxAttempts and DefaultTimeout apply to subscriptions created
	// without an explicit policy.
	DefaultMaxAttempts int           `yaml:"default_max_attempts"`
	DefaultTimeout     time.Duration `yaml:"default_timeout"`

	// ReplaySkew is the accepted |now - X-Timestamp| window for inbound
	// webhook verification; replay ids are remembered for 2× this value.
	ReplaySkew time.Duration `yaml:"replay_skew"`

	// IncomingSecrets maps inbound webhook source names to their shared
	// HMAC secrets. Requests for unknown sources are rejected.
	IncomingSecrets map[string]string `yaml:"incoming_secrets,omitempty"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// deliveries to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// StaleClaimTTL is how long a delivery may sit in_flight before it is
	// presumed orphaned by a crashed worker and requeued. Must comfortably
	// exceed the longest per-attempt timeout.
	StaleClaimTTL time.Duration `yaml:"stale_claim_ttl"`
}

// DefaultWebhookConfig returns the built-in dispatcher defaults.
func DefaultWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		Workers:                 4,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		Backoff:                 []time.Duration{5 * time.Second, 30 * time.Second, 5 * time.Minute, 30 * time.Minute},
		JitterFraction:          0.2,
		DefaultMaxAttempts:      5,
		DefaultTimeout:          10 * time.Second,
		ReplaySkew:              5 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		StaleClaimTTL:           5 * time.Minute,
	}
}
