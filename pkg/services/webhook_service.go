package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/events"
	"github.com/replyworks/sage/pkg/kv"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/store"
	"github.com/replyworks/sage/pkg/webhook"
)

// incomingInboxMax bounds the per-source inbox of verified inbound
// webhooks awaiting pickup.
const incomingInboxMax = 512

// SubscribeInput contains the domain-level data needed to register a
// webhook receiver. Transformed from the HTTP request by the handler.
type SubscribeInput struct {
	URL    string
	Kinds  []string
	Secret string // empty means the service generates one
	Policy *models.DeliveryPolicy
}

// IncomingWebhook is one verified inbound delivery parked in the k/v inbox.
type IncomingWebhook struct {
	Source     string          `json:"source"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// WebhookService manages outbound subscriptions, the delivery DLQ, and
// verified inbound webhooks.
type WebhookService struct {
	webhooks *store.WebhookStore
	receiver *webhook.Receiver
	kv       *kv.Store
	cfg      *config.WebhookConfig
	logger   *slog.Logger
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(webhooks *store.WebhookStore, receiver *webhook.Receiver, kvStore *kv.Store, cfg *config.WebhookConfig) *WebhookService {
	if webhooks == nil {
		panic("NewWebhookService: webhooks must not be nil")
	}
	if cfg == nil {
		panic("NewWebhookService: cfg must not be nil")
	}
	return &WebhookService{
		webhooks: webhooks,
		receiver: receiver,
		kv:       kvStore,
		cfg:      cfg,
		logger:   slog.With("component", "webhook_service"),
	}
}

// Subscribe registers a receiver for a set of event kinds. The raw signing
// secret is present on the returned subscription exactly once; afterwards
// only its hash is exposed.
func (s *WebhookService) Subscribe(ctx context.Context, input SubscribeInput) (*models.WebhookSubscription, error) {
	if err := validateSubscriptionURL(input.URL); err != nil {
		return nil, err
	}
	if len(input.Kinds) == 0 {
		return nil, NewValidationError("kinds", "at least one event kind is required")
	}
	for _, k := range input.Kinds {
		if !events.ValidKind(k) {
			return nil, NewValidationError("kinds", fmt.Sprintf("unknown event kind %q", k))
		}
	}

	secret := input.Secret
	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing secret: %w", err)
		}
		secret = generated
	} else if len(secret) < 16 {
		return nil, NewValidationError("secret", "must be at least 16 characters")
	}

	policy := models.DeliveryPolicy{
		MaxAttempts:    s.cfg.DefaultMaxAttempts,
		TimeoutSeconds: int(s.cfg.DefaultTimeout / time.Second),
	}
	if input.Policy != nil {
		if input.Policy.MaxAttempts < 1 {
			return nil, NewValidationError("policy.max_attempts", "must be positive")
		}
		if input.Policy.TimeoutSeconds < 1 {
			return nil, NewValidationError("policy.timeout_seconds", "must be positive")
		}
		policy = *input.Policy
	}

	hash := sha256.Sum256([]byte(secret))
	sub := &models.WebhookSubscription{
		ID:         models.NewSubscriptionID(),
		URL:        input.URL,
		Kinds:      input.Kinds,
		Active:     true,
		Secret:     secret,
		SecretHash: hex.EncodeToString(hash[:]),
		Policy:     policy,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.webhooks.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub, nil
}

// Subscriptions lists all subscriptions, newest first, inactive included.
func (s *WebhookService) Subscriptions(ctx context.Context) ([]models.WebhookSubscription, error) {
	subs, err := s.webhooks.ListSubscriptions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// Deactivate stops fan-out to a subscription. Queued deliveries already
// created for it still drain.
func (s *WebhookService) Deactivate(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return NewValidationError("subscription_id", "required")
	}
	if err := s.webhooks.DeactivateSubscription(ctx, subscriptionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	return nil
}

// Deliveries lists a subscription's deliveries, newest first, optionally
// filtered by status. The dead ones form the DLQ view.
func (s *WebhookService) Deliveries(ctx context.Context, subscriptionID, status string, limit, offset int) ([]models.WebhookDelivery, error) {
	if subscriptionID == "" {
		return nil, NewValidationError("subscription_id", "required")
	}
	switch status {
	case "", models.DeliveryStatusQueued, models.DeliveryStatusInFlight,
		models.DeliveryStatusSuccess, models.DeliveryStatusFailed, models.DeliveryStatusDead:
	default:
		return nil, NewValidationError("status", fmt.Sprintf("unknown delivery status %q", status))
	}
	if offset < 0 {
		return nil, NewValidationError("offset", "must not be negative")
	}

	if _, err := s.webhooks.GetSubscription(ctx, subscriptionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	deliveries, err := s.webhooks.ListDeliveries(ctx, subscriptionID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return deliveries, nil
}

// RetryDelivery re-queues a dead or failed delivery for an immediate
// attempt, keeping its id and attempt counter.
func (s *WebhookService) RetryDelivery(ctx context.Context, deliveryID string) (*models.WebhookDelivery, error) {
	if deliveryID == "" {
		return nil, NewValidationError("delivery_id", "required")
	}

	d, err := s.webhooks.GetDelivery(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	if d.Status != models.DeliveryStatusDead && d.Status != models.DeliveryStatusFailed {
		return nil, NewValidationError("delivery_id",
			fmt.Sprintf("delivery is %s; only failed or dead deliveries can be retried", d.Status))
	}

	if err := s.webhooks.Requeue(ctx, deliveryID); err != nil {
		// Lost a race with the dispatcher picking it up; surface as not
		// retryable right now.
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to requeue delivery: %w", err)
	}

	requeued, err := s.webhooks.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload delivery: %w", err)
	}
	return requeued, nil
}

// Incoming verifies one inbound webhook and parks it in the source's
// inbox. Verification failures pass through untyped; the handler maps
// every one of them to an authorization failure.
func (s *WebhookService) Incoming(ctx context.Context, source, timestamp string, body []byte, signature, replayKey string) error {
	if s.receiver == nil {
		return webhook.ErrUnknownSource
	}
	if err := s.receiver.Verify(ctx, source, timestamp, body, signature, replayKey); err != nil {
		return err
	}
	if !json.Valid(body) {
		return NewValidationError("body", "must be a JSON document")
	}

	entry, err := json.Marshal(IncomingWebhook{
		Source:     source,
		ReceivedAt: time.Now().UTC(),
		Payload:    json.RawMessage(body),
	})
	if err != nil {
		return fmt.Errorf("failed to encode inbound webhook: %w", err)
	}
	key := "webhook:inbox:" + source
	if err := s.kv.RPush(ctx, key, entry); err != nil {
		return fmt.Errorf("failed to store inbound webhook: %w", err)
	}
	if err := s.kv.LTrim(ctx, key, -incomingInboxMax, -1); err != nil {
		s.logger.Warn("Failed to trim webhook inbox", "source", source, "error", err)
	}
	return nil
}

func validateSubscriptionURL(raw string) error {
	if raw == "" {
		return NewValidationError("url", "required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return NewValidationError("url", "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewValidationError("url", "scheme must be http or https")
	}
	if u.Host == "" {
		return NewValidationError("url", "host is required")
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
