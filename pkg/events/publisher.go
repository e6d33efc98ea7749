package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/replyworks/sage/pkg/models"
)

// defaultTenant tags events in single-tenant deployments. The column
// exists so hosted multi-tenant installs can partition their outbox.
const defaultTenant = "default"

// Outbox is the slice of the webhook store the publisher needs: the
// durable event row plus the fan-out delivery rows.
type Outbox interface {
	InsertEvent(ctx context.Context, ev *models.WebhookEvent) error
	ListActiveForKind(ctx context.Context, kind string) ([]models.WebhookSubscription, error)
	InsertDeliveries(ctx context.Context, deliveries []models.WebhookDelivery) error
}

// Publisher writes events to the outbox. An event is durable once the
// typed Publish method returns nil; delivery happens asynchronously via
// the webhook dispatcher draining the delivery rows.
//
// Each public method accepts one typed payload struct from payloads.go.
// Internally payloads are marshaled to JSON and handed to publish, which
// persists the event before fanning out.
type Publisher struct {
	outbox Outbox
	logger *slog.Logger
}

// NewPublisher creates a publisher over the given outbox.
func NewPublisher(outbox Outbox) *Publisher {
	return &Publisher{
		outbox: outbox,
		logger: slog.Default().With("component", "event_publisher"),
	}
}

// Timestamp returns the canonical payload timestamp format.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// --- Typed public methods ---

// PublishQueryCompleted records a query.completed event.
func (p *Publisher) PublishQueryCompleted(ctx context.Context, payload QueryCompletedPayload) (string, error) {
	return p.publish(ctx, KindQueryCompleted, payload)
}

// PublishQueryEscalated records a query.escalated event.
func (p *Publisher) PublishQueryEscalated(ctx context.Context, payload QueryEscalatedPayload) (string, error) {
	return p.publish(ctx, KindQueryEscalated, payload)
}

// PublishDocumentIngested records a document.ingested event.
func (p *Publisher) PublishDocumentIngested(ctx context.Context, payload DocumentIngestedPayload) (string, error) {
	return p.publish(ctx, KindDocumentIngested, payload)
}

// PublishDocumentArchived records a document.archived event.
func (p *Publisher) PublishDocumentArchived(ctx context.Context, payload DocumentArchivedPayload) (string, error) {
	return p.publish(ctx, KindDocumentArchived, payload)
}

// PublishClassificationCompleted records a job.classification.completed
// event.
func (p *Publisher) PublishClassificationCompleted(ctx context.Context, payload ClassificationCompletedPayload) (string, error) {
	return p.publish(ctx, KindClassificationCompleted, payload)
}

// PublishSessionEscalated records a session.escalated event.
func (p *Publisher) PublishSessionEscalated(ctx context.Context, payload SessionEscalatedPayload) (string, error) {
	return p.publish(ctx, KindSessionEscalated, payload)
}

// PublishRegistryRefreshed records a system.registry.refreshed event.
func (p *Publisher) PublishRegistryRefreshed(ctx context.Context, payload RegistryRefreshedPayload) (string, error) {
	return p.publish(ctx, KindRegistryRefreshed, payload)
}

// publish persists the event row, then inserts one queued delivery per
// active subscription matching the kind. Fan-out failure after the
// insert is logged but not returned: the event itself is durable and
// the row can be replayed.
func (p *Publisher) publish(ctx context.Context, kind string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	ev := &models.WebhookEvent{
		ID:        models.NewEventID(),
		Kind:      kind,
		Tenant:    defaultTenant,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.outbox.InsertEvent(ctx, ev); err != nil {
		return "", fmt.Errorf("failed to persist %s event: %w", kind, err)
	}

	if err := p.fanOut(ctx, ev); err != nil {
		p.logger.Error("Event fan-out failed, event persisted without deliveries",
			"event_id", ev.ID, "kind", kind, "error", err)
	}
	return ev.ID, nil
}

func (p *Publisher) fanOut(ctx context.Context, ev *models.WebhookEvent) error {
	subs, err := p.outbox.ListActiveForKind(ctx, ev.Kind)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	deliveries := make([]models.WebhookDelivery, 0, len(subs))
	for _, sub := range subs {
		deliveries = append(deliveries, models.WebhookDelivery{
			ID:             models.NewDeliveryID(),
			EventID:        ev.ID,
			SubscriptionID: sub.ID,
			Status:         models.DeliveryStatusQueued,
			NextRetryAt:    now,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if err := p.outbox.InsertDeliveries(ctx, deliveries); err != nil {
		return fmt.Errorf("insert deliveries: %w", err)
	}

	p.logger.Debug("Event fanned out",
		"event_id", ev.ID, "kind", ev.Kind, "deliveries", len(deliveries))
	return nil
}
