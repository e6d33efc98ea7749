package config

import "time"

// RetentionConfig bounds how long terminal webhook data is kept. Staging
// drafts, sessions, and cache entries expire through k/v TTLs; the rows
// swept here live in Postgres, which has no TTL of its own.
type RetentionConfig struct {
	// CleanupInterval is how often the sweeper runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// DeliveryTTL keeps succeeded deliveries for inspection before they
	// are deleted.
	DeliveryTTL time.Duration `yaml:"delivery_ttl"`

	// DeadDeliveryTTL keeps dead deliveries (the DLQ view) longer so an
	// operator can retry them.
	DeadDeliveryTTL time.Duration `yaml:"dead_delivery_ttl"`

	// EventTTL deletes event rows once no delivery references them.
	EventTTL time.Duration `yaml:"event_ttl"`
}

// DefaultRetentionConfig returns the built-in retention policy.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CleanupInterval: 1 * time.Hour,
		DeliveryTTL:     72 * time.Hour,
		DeadDeliveryTTL: 14 * 24 * time.Hour,
		EventTTL:        30 * 24 * time.Hour,
	}
}
