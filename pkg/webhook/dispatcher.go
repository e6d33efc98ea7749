package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/metrics"
	"github.com/replyworks/sage/pkg/store"
)

// DeliveryStore is the slice of the webhook store the dispatcher drives.
type DeliveryStore interface {
	ClaimDue(ctx context.Context) (*store.DeliveryJob, error)
	MarkSuccess(ctx context.Context, id string, statusCode int, latencyMs int64) error
	MarkFailed(ctx context.Context, id string, statusCode *int, lastError string, latencyMs int64, nextRetryAt time.Time) error
	MarkDead(ctx context.Context, id string, statusCode *int, lastError string, latencyMs int64) error
	RequeueStaleInFlight(ctx context.Context, cutoff time.Time) (int64, error)
}

// deliveryBody is the outgoing request body. Data carries the event
// payload verbatim; timestamp is the event creation time, which together
// with event_id lets receivers order deliveries if they need to.
type deliveryBody struct {
	EventID         string          `json:"event_id"`
	Kind            string          `json:"kind"`
	Timestamp       string          `json:"timestamp"`
	DeliveryAttempt int             `json:"delivery_attempt"`
	Data            json.RawMessage `json:"data"`
}

// Dispatcher drains due delivery rows with a pool of workers. Each worker
// claims one delivery at a time (FOR UPDATE SKIP LOCKED in the store), so
// replicas never double-send a row; retries are scheduled by writing
// next_retry_at back to the row.
type Dispatcher struct {
	store  DeliveryStore
	cfg    *config.WebhookConfig
	client *http.Client
	logger *slog.Logger

	// now is swapped in tests to pin retry schedules.
	now func() time.Time

	workers     []*worker
	started     bool
	mu          sync.Mutex
	reclaimStop chan struct{}
	reclaimOnce sync.Once
	reclaimWG   sync.WaitGroup
}

// NewDispatcher creates a dispatcher. The HTTP client is shared by all
// workers; per-attempt timeouts come from the subscription policy.
func NewDispatcher(deliveries DeliveryStore, cfg *config.WebhookConfig) *Dispatcher {
	return &Dispatcher{
		store:  deliveries,
		cfg:    cfg,
		client: &http.Client{},
		logger: slog.Default().With("component", "webhook_dispatcher"),
		now:    time.Now,
	}
}

// Start spawns the delivery workers. Safe to call once; subsequent calls
// are no-ops.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		d.logger.Warn("Dispatcher already started, ignoring duplicate Start call")
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		w := &worker{
			id:     fmt.Sprintf("delivery-worker-%d", i),
			d:      d,
			stopCh: make(chan struct{}),
		}
		d.workers = append(d.workers, w)
		w.start(ctx)
	}

	d.reclaimStop = make(chan struct{})
	d.reclaimWG.Add(1)
	go d.reclaimLoop(ctx)

	d.logger.Info("Webhook dispatcher started", "workers", d.cfg.Workers)
}

// reclaimLoop requeues deliveries stranded in_flight by a worker that
// crashed after committing its claim. The first sweep runs immediately so a
// restart recovers its own orphans without waiting a full interval.
func (d *Dispatcher) reclaimLoop(ctx context.Context) {
	defer d.reclaimWG.Done()

	interval := d.cfg.StaleClaimTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.reclaimStale(ctx)
	for {
		select {
		case <-d.reclaimStop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reclaimStale(ctx)
		}
	}
}

func (d *Dispatcher) reclaimStale(ctx context.Context) {
	cutoff := d.now().Add(-d.cfg.StaleClaimTTL)
	n, err := d.store.RequeueStaleInFlight(ctx, cutoff)
	if err != nil {
		d.logger.Error("Stale claim requeue failed", "error", err)
		return
	}
	if n > 0 {
		d.logger.Warn("Requeued stale in_flight deliveries", "count", n)
	}
}

// Stop signals all workers and waits for in-flight attempts to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	workers := d.workers
	reclaimStop := d.reclaimStop
	d.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	if reclaimStop != nil {
		d.reclaimOnce.Do(func() { close(reclaimStop) })
		d.reclaimWG.Wait()
	}
	d.logger.Info("Webhook dispatcher stopped")
}

// errNoWork tells the worker loop to sleep a poll interval.
var errNoWork = errors.New("no deliveries due")

type worker struct {
	id       string
	d        *Dispatcher
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (w *worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// stop signals the worker and waits for it to finish. Safe to call
// multiple times.
func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := w.d.logger.With("worker_id", w.id)
	log.Debug("Delivery worker started")

	for {
		select {
		case <-w.stopCh:
			log.Debug("Delivery worker shutting down")
			return
		case <-ctx.Done():
			log.Debug("Context cancelled, delivery worker shutting down")
			return
		default:
			if err := w.pollAndDeliver(ctx); err != nil {
				if errors.Is(err, errNoWork) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing delivery", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *worker) pollInterval() time.Duration {
	base := w.d.cfg.PollInterval
	jitter := w.d.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *worker) pollAndDeliver(ctx context.Context) error {
	job, err := w.d.store.ClaimDue(ctx)
	if errors.Is(err, store.ErrNoDeliveriesDue) {
		return errNoWork
	}
	if err != nil {
		return fmt.Errorf("claiming delivery: %w", err)
	}
	w.d.deliver(ctx, job)
	return nil
}

// deliver runs one attempt and writes the outcome back to the row.
func (d *Dispatcher) deliver(ctx context.Context, job *store.DeliveryJob) {
	log := d.logger.With(
		"delivery_id", job.Delivery.ID,
		"event_id", job.Event.ID,
		"subscription_id", job.Subscription.ID,
		"attempt", job.Delivery.Attempts)

	started := d.now()
	statusCode, err := d.attempt(ctx, job)
	latency := time.Since(started)
	latencyMs := latency.Milliseconds()
	metrics.WebhookAttemptDuration.Observe(latency.Seconds())

	switch {
	case err == nil && statusCode >= 200 && statusCode < 300:
		if mErr := d.store.MarkSuccess(ctx, job.Delivery.ID, statusCode, latencyMs); mErr != nil {
			log.Error("Failed to mark delivery success", "error", mErr)
			return
		}
		metrics.WebhookDeliveries.WithLabelValues("success").Inc()
		log.Info("Delivery succeeded", "status_code", statusCode, "latency_ms", latencyMs)

	case retryable(statusCode, err):
		d.scheduleRetry(ctx, job, statusCode, err, latencyMs, log)

	default:
		// Non-retryable response (4xx other than 408/429).
		d.markDead(ctx, job, statusCode, err, latencyMs, log)
	}
}

// attempt sends one signed POST. A transport error returns statusCode 0.
func (d *Dispatcher) attempt(ctx context.Context, job *store.DeliveryJob) (int, error) {
	body, err := json.Marshal(deliveryBody{
		EventID:         job.Event.ID,
		Kind:            job.Event.Kind,
		Timestamp:       job.Event.CreatedAt.UTC().Format(time.RFC3339Nano),
		DeliveryAttempt: job.Delivery.Attempts,
		Data:            job.Event.Payload,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal delivery body: %w", err)
	}

	timeout := d.cfg.DefaultTimeout
	if s := job.Subscription.Policy.TimeoutSeconds; s > 0 {
		timeout = time.Duration(s) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, job.Subscription.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	ts := d.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", job.Event.ID)
	req.Header.Set("X-Event-Kind", job.Event.Kind)
	req.Header.Set("X-Webhook-Id", job.Subscription.ID)
	req.Header.Set("X-Delivery-Attempt", strconv.Itoa(job.Delivery.Attempts))
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", Sign(job.Subscription.Secret, ts, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()
	return resp.StatusCode, nil
}

// retryable classifies an attempt outcome. Transport errors (statusCode
// 0) always retry; 408, 429 and every 5xx retry; other 4xx do not.
func retryable(statusCode int, err error) bool {
	if err != nil || statusCode == 0 {
		return true
	}
	switch {
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, job *store.DeliveryJob, statusCode int, attemptErr error, latencyMs int64, log *slog.Logger) {
	maxAttempts := d.cfg.DefaultMaxAttempts
	if p := job.Subscription.Policy.MaxAttempts; p > 0 {
		maxAttempts = p
	}
	if job.Delivery.Attempts >= maxAttempts {
		d.markDead(ctx, job, statusCode, attemptErr, latencyMs, log)
		return
	}

	next := d.now().Add(d.backoff(job.Delivery.Attempts))
	if err := d.store.MarkFailed(ctx, job.Delivery.ID, codePtr(statusCode), errText(statusCode, attemptErr), latencyMs, next); err != nil {
		log.Error("Failed to schedule retry", "error", err)
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("retry").Inc()
	log.Warn("Delivery failed, retry scheduled",
		"status_code", statusCode, "next_retry_at", next, "error", attemptErr)
}

func (d *Dispatcher) markDead(ctx context.Context, job *store.DeliveryJob, statusCode int, attemptErr error, latencyMs int64, log *slog.Logger) {
	if err := d.store.MarkDead(ctx, job.Delivery.ID, codePtr(statusCode), errText(statusCode, attemptErr), latencyMs); err != nil {
		log.Error("Failed to mark delivery dead", "error", err)
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("dead").Inc()
	log.Error("Delivery dead-lettered",
		"status_code", statusCode, "attempts", job.Delivery.Attempts, "error", attemptErr)
}

// backoff returns the wait before the next attempt, given how many
// attempts have already run. Attempts beyond the schedule reuse its last
// interval; each interval is jittered by ±JitterFraction.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	schedule := d.cfg.Backoff
	if len(schedule) == 0 {
		return time.Minute
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	base := schedule[idx]
	if f := d.cfg.JitterFraction; f > 0 {
		// Range: [base·(1-f), base·(1+f)]
		delta := (rand.Float64()*2 - 1) * f * float64(base)
		base += time.Duration(delta)
	}
	return base
}

func codePtr(statusCode int) *int {
	if statusCode == 0 {
		return nil
	}
	return &statusCode
}

func errText(statusCode int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("http status %d", statusCode)
}
