package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/replyworks/sage/pkg/models"
)

// ErrNoDeliveriesDue is returned by ClaimDue when nothing is ready. The
// dispatcher treats it as "sleep and poll again".
var ErrNoDeliveriesDue = errors.New("store: no deliveries due")

// WebhookStore persists subscriptions, the event outbox, and per-receiver
// delivery rows.
type WebhookStore struct {
	db *sqlx.DB
}

type subscriptionRow struct {
	ID         string    `db:"id"`
	URL        string    `db:"url"`
	Kinds      []byte    `db:"kinds"`
	Active     bool      `db:"active"`
	Secret     string    `db:"secret"`
	SecretHash string    `db:"secret_hash"`
	Policy     []byte    `db:"policy"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *subscriptionRow) toModel() (models.WebhookSubscription, error) {
	sub := models.WebhookSubscription{
		ID:         r.ID,
		URL:        r.URL,
		Active:     r.Active,
		Secret:     r.Secret,
		SecretHash: r.SecretHash,
		CreatedAt:  r.CreatedAt,
	}
	if err := json.Unmarshal(r.Kinds, &sub.Kinds); err != nil {
		return sub, fmt.Errorf("failed to decode kinds for subscription %s: %w", r.ID, err)
	}
	if len(r.Policy) > 0 {
		if err := json.Unmarshal(r.Policy, &sub.Policy); err != nil {
			return sub, fmt.Errorf("failed to decode policy for subscription %s: %w", r.ID, err)
		}
	}
	return sub, nil
}

const subscriptionColumns = `id, url, kinds, active, secret, secret_hash, policy, created_at`

// CreateSubscription writes a new subscription.
func (s *WebhookStore) CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	kinds, err := json.Marshal(sub.Kinds)
	if err != nil {
		return fmt.Errorf("failed to encode kinds: %w", err)
	}
	policy, err := json.Marshal(sub.Policy)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO webhook_subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.URL, kinds, sub.Active, sub.Secret, sub.SecretHash, policy, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert subscription %s: %w", sub.ID, err)
	}
	return nil
}

// GetSubscription returns one subscription by id.
func (s *WebhookStore) GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription %s: %w", id, err)
	}
	sub, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns all subscriptions, newest first.
func (s *WebhookStore) ListSubscriptions(ctx context.Context, activeOnly bool) ([]models.WebhookSubscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		 WHERE ($1 = FALSE OR active)
		 ORDER BY created_at DESC, id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	out := make([]models.WebhookSubscription, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// ListActiveForKind returns active subscriptions whose kinds contain the
// given event kind. Fan-out calls this once per published event.
func (s *WebhookStore) ListActiveForKind(ctx context.Context, kind string) ([]models.WebhookSubscription, error) {
	match, err := json.Marshal([]string{kind})
	if err != nil {
		return nil, fmt.Errorf("failed to encode kind: %w", err)
	}
	var rows []subscriptionRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		 WHERE active AND kinds @> $1::jsonb
		 ORDER BY created_at, id`, match)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for kind %s: %w", kind, err)
	}
	out := make([]models.WebhookSubscription, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// DeactivateSubscription disables a subscription. Rows are kept so existing
// delivery history stays consistent; pending deliveries stop being attempted.
func (s *WebhookStore) DeactivateSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read deactivate result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type eventRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Tenant    string    `db:"tenant"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *eventRow) toModel() models.WebhookEvent {
	return models.WebhookEvent{
		ID:        r.ID,
		Kind:      r.Kind,
		Tenant:    r.Tenant,
		Payload:   json.RawMessage(r.Payload),
		CreatedAt: r.CreatedAt,
	}
}

// InsertEvent persists one event. This is the durability point: the
// publisher returns success to its caller once this row is committed.
func (s *WebhookStore) InsertEvent(ctx context.Context, ev *models.WebhookEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (id, kind, tenant, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Kind, ev.Tenant, []byte(ev.Payload), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
	}
	return nil
}

// GetEvent returns one event by id.
func (s *WebhookStore) GetEvent(ctx context.Context, id string) (*models.WebhookEvent, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, kind, tenant, payload, created_at FROM webhook_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	ev := row.toModel()
	return &ev, nil
}

// ListEvents returns events newest first; kind filters when non-empty.
func (s *WebhookStore) ListEvents(ctx context.Context, kind string, limit, offset int) ([]models.WebhookEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, kind, tenant, payload, created_at FROM webhook_events
		 WHERE ($1 = '' OR kind = $1)
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	out := make([]models.WebhookEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

type deliveryRow struct {
	ID             string        `db:"id"`
	EventID        string        `db:"event_id"`
	SubscriptionID string        `db:"subscription_id"`
	Attempts       int           `db:"attempts"`
	Status         string        `db:"status"`
	LastStatusCode sql.NullInt32 `db:"last_status_code"`
	LastError      string        `db:"last_error"`
	LastLatencyMs  int64         `db:"last_latency_ms"`
	NextRetryAt    time.Time     `db:"next_retry_at"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

func (r *deliveryRow) toModel() models.WebhookDelivery {
	d := models.WebhookDelivery{
		ID:             r.ID,
		EventID:        r.EventID,
		SubscriptionID: r.SubscriptionID,
		Attempts:       r.Attempts,
		Status:         r.Status,
		LastError:      r.LastError,
		LastLatencyMs:  r.LastLatencyMs,
		NextRetryAt:    r.NextRetryAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LastStatusCode.Valid {
		code := int(r.LastStatusCode.Int32)
		d.LastStatusCode = &code
	}
	return d
}

const deliveryColumns = `id, event_id, subscription_id, attempts, status,
	last_status_code, last_error, last_latency_ms, next_retry_at, created_at, updated_at`

// InsertDeliveries writes the fan-out rows for one event.
func (s *WebhookStore) InsertDeliveries(ctx context.Context, deliveries []models.WebhookDelivery) error {
	const q = `INSERT INTO webhook_deliveries
		(id, event_id, subscription_id, attempts, status, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i := range deliveries {
		d := &deliveries[i]
		if _, err := s.db.ExecContext(ctx, q,
			d.ID, d.EventID, d.SubscriptionID, d.Attempts, d.Status,
			d.NextRetryAt, d.CreatedAt, d.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert delivery %s: %w", d.ID, err)
		}
	}
	return nil
}

// DeliveryJob is one claimed delivery with the event and subscription the
// worker needs to attempt it.
type DeliveryJob struct {
	Delivery     models.WebhookDelivery
	Event        models.WebhookEvent
	Subscription models.WebhookSubscription
}

// ClaimDue atomically claims the next due delivery using
// FOR UPDATE SKIP LOCKED, so concurrent workers and replicas never pick the
// same row. The claim sets status in_flight and bumps the attempt counter.
// Event and subscription load inside the same transaction: any failure rolls
// the status flip back, so the row stays claimable instead of stranding
// in_flight.
func (s *WebhookStore) ClaimDue(ctx context.Context) (*DeliveryJob, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row deliveryRow
	err = tx.GetContext(ctx, &row,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries
		 WHERE status IN ('queued', 'failed') AND next_retry_at <= now()
		 ORDER BY next_retry_at, id
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDeliveriesDue
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query due deliveries: %w", err)
	}

	err = tx.GetContext(ctx, &row,
		`UPDATE webhook_deliveries
		 SET status = 'in_flight', attempts = attempts + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING `+deliveryColumns, row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim delivery %s: %w", row.ID, err)
	}
	job := &DeliveryJob{Delivery: row.toModel()}

	var evRow eventRow
	err = tx.GetContext(ctx, &evRow,
		`SELECT id, kind, tenant, payload, created_at FROM webhook_events WHERE id = $1`,
		job.Delivery.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load event for delivery %s: %w", job.Delivery.ID, err)
	}
	job.Event = evRow.toModel()

	var subRow subscriptionRow
	err = tx.GetContext(ctx, &subRow,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`,
		job.Delivery.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription for delivery %s: %w", job.Delivery.ID, err)
	}
	sub, err := subRow.toModel()
	if err != nil {
		return nil, err
	}
	job.Subscription = sub

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return job, nil
}

// RequeueStaleInFlight returns in_flight deliveries whose claim is older
// than cutoff to the queue. A worker crash after the claim commit leaves
// the row in_flight with nobody holding it; age is the only signal, so the
// cutoff must comfortably exceed the longest delivery attempt.
func (s *WebhookStore) RequeueStaleInFlight(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET status = 'queued', next_retry_at = now(), updated_at = now()
		 WHERE status = 'in_flight' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale in_flight deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read requeue result: %w", err)
	}
	return n, nil
}

// MarkSuccess finalizes a delivery after a 2xx response.
func (s *WebhookStore) MarkSuccess(ctx context.Context, id string, statusCode int, latencyMs int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET status = 'success', last_status_code = $2, last_error = '',
		     last_latency_ms = $3, updated_at = now()
		 WHERE id = $1`, id, statusCode, latencyMs)
	if err != nil {
		return fmt.Errorf("failed to mark delivery %s success: %w", id, err)
	}
	return nil
}

// MarkFailed schedules a retry after a transient failure.
func (s *WebhookStore) MarkFailed(ctx context.Context, id string, statusCode *int, lastError string, latencyMs int64, nextRetryAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET status = 'failed', last_status_code = $2, last_error = $3,
		     last_latency_ms = $4, next_retry_at = $5, updated_at = now()
		 WHERE id = $1`, id, nullInt(statusCode), lastError, latencyMs, nextRetryAt)
	if err != nil {
		return fmt.Errorf("failed to mark delivery %s failed: %w", id, err)
	}
	return nil
}

// MarkDead moves a delivery to the dead letter state. Only the manual retry
// endpoint can revive it.
func (s *WebhookStore) MarkDead(ctx context.Context, id string, statusCode *int, lastError string, latencyMs int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET status = 'dead', last_status_code = $2, last_error = $3,
		     last_latency_ms = $4, updated_at = now()
		 WHERE id = $1`, id, nullInt(statusCode), lastError, latencyMs)
	if err != nil {
		return fmt.Errorf("failed to mark delivery %s dead: %w", id, err)
	}
	return nil
}

// Requeue revives a dead or failed delivery for immediate re-attempt,
// preserving its id so receivers can deduplicate. Returns ErrNotFound when
// the delivery does not exist or is in neither state.
func (s *WebhookStore) Requeue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET status = 'queued', next_retry_at = now(), updated_at = now()
		 WHERE id = $1 AND status IN ('dead', 'failed')`, id)
	if err != nil {
		return fmt.Errorf("failed to requeue delivery %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read requeue result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDelivery returns one delivery by id.
func (s *WebhookStore) GetDelivery(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	var row deliveryRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery %s: %w", id, err)
	}
	d := row.toModel()
	return &d, nil
}

// ListDeliveries returns deliveries newest first, filtered by subscription
// and status when non-empty.
func (s *WebhookStore) ListDeliveries(ctx context.Context, subscriptionID, status string, limit, offset int) ([]models.WebhookDelivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []deliveryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries
		 WHERE ($1 = '' OR subscription_id = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC, id
		 LIMIT $3 OFFSET $4`, subscriptionID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	out := make([]models.WebhookDelivery, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// CountDeliveriesByStatus returns delivery counts per status.
func (s *WebhookStore) CountDeliveriesByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT status, count(*) FROM webhook_deliveries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries: %w", err)
	}
	defer rows.Close()
	counts := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan delivery count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteDeliveriesBefore removes terminal deliveries in the given status
// whose last update is older than cutoff. Returns the number of rows removed.
func (s *WebhookStore) DeleteDeliveriesBefore(ctx context.Context, status string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_deliveries WHERE status = $1 AND updated_at < $2`,
		status, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s deliveries: %w", status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n, nil
}

// DeleteOrphanEventsBefore removes event rows older than cutoff that no
// delivery references anymore. Events with surviving deliveries are kept so
// the manual retry endpoint can still rebuild their payloads.
func (s *WebhookStore) DeleteOrphanEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_events e
		 WHERE e.created_at < $1
		   AND NOT EXISTS (SELECT 1 FROM webhook_deliveries d WHERE d.event_id = e.id)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n, nil
}

func nullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}
