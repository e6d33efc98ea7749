package models

import (
	"encoding/json"
	"time"
)

// Delivery status values.
const (
	DeliveryStatusQueued   = "queued"
	DeliveryStatusInFlight = "in_flight"
	DeliveryStatusSuccess  = "success"
	DeliveryStatusFailed   = "failed"
	DeliveryStatusDead     = "dead"
)

// DeliveryPolicy is the per-subscription retry/timeout policy.
type DeliveryPolicy struct {
	MaxAttempts    int `json:"max_attempts"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

// WebhookSubscription registers a receiver URL for a set of event kinds.
// Secret is the raw signing secret; it is returned once on create and
// otherwise only its hash is exposed.
type WebhookSubscription struct {
	ID         string         `json:"id" db:"id"`
	URL        string         `json:"url" db:"url"`
	Kinds      []string       `json:"kinds"`
	Active     bool           `json:"active" db:"active"`
	Secret     string         `json:"-" db:"secret"`
	SecretHash string         `json:"secret_hash" db:"secret_hash"`
	Policy     DeliveryPolicy `json:"policy"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// Matches reports whether the subscription wants the given event kind.
func (s *WebhookSubscription) Matches(kind string) bool {
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// WebhookEvent is one durably persisted event; the outbox row producers
// write before any delivery is attempted.
type WebhookEvent struct {
	ID        string          `json:"id" db:"id"`
	Kind      string          `json:"kind" db:"kind"`
	Tenant    string          `json:"tenant" db:"tenant"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// WebhookDelivery tracks the attempts of one event against one
// subscription. Its id is stable across retries so receivers can
// deduplicate.
type WebhookDelivery struct {
	ID             string    `json:"id" db:"id"`
	EventID        string    `json:"event_id" db:"event_id"`
	SubscriptionID string    `json:"subscription_id" db:"subscription_id"`
	Attempts       int       `json:"attempts" db:"attempts"`
	Status         string    `json:"status" db:"status"`
	LastStatusCode *int      `json:"last_status_code,omitempty" db:"last_status_code"`
	LastError      string    `json:"last_error,omitempty" db:"last_error"`
	LastLatencyMs  int64     `json:"last_latency_ms" db:"last_latency_ms"`
	NextRetryAt    time.Time `json:"next_retry_at" db:"next_retry_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
