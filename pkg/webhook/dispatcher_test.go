package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/store"
)

type markCall struct {
	op          string
	statusCode  *int
	lastError   string
	nextRetryAt time.Time
}

type fakeDeliveryStore struct {
	mu       sync.Mutex
	jobs     []*store.DeliveryJob
	marks    map[string][]markCall
	requeues []time.Time
	stale    int64
}

func newFakeDeliveryStore(jobs ...*store.DeliveryJob) *fakeDeliveryStore {
	return &fakeDeliveryStore{jobs: jobs, marks: make(map[string][]markCall)}
}

func (f *fakeDeliveryStore) ClaimDue(ctx context.Context) (*store.DeliveryJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return nil, store.ErrNoDeliveriesDue
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	job.Delivery.Attempts++
	job.Delivery.Status = models.DeliveryStatusInFlight
	return job, nil
}

func (f *fakeDeliveryStore) MarkSuccess(ctx context.Context, id string, statusCode int, latencyMs int64) error {
	f.record(id, markCall{op: "success", statusCode: &statusCode})
	return nil
}

func (f *fakeDeliveryStore) MarkFailed(ctx context.Context, id string, statusCode *int, lastError string, latencyMs int64, nextRetryAt time.Time) error {
	f.record(id, markCall{op: "failed", statusCode: statusCode, lastError: lastError, nextRetryAt: nextRetryAt})
	return nil
}

func (f *fakeDeliveryStore) MarkDead(ctx context.Context, id string, statusCode *int, lastError string, latencyMs int64) error {
	f.record(id, markCall{op: "dead", statusCode: statusCode, lastError: lastError})
	return nil
}

func (f *fakeDeliveryStore) RequeueStaleInFlight(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeues = append(f.requeues, cutoff)
	n := f.stale
	f.stale = 0
	return n, nil
}

func (f *fakeDeliveryStore) requeueCutoffs() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.requeues...)
}

func (f *fakeDeliveryStore) record(id string, c markCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks[id] = append(f.marks[id], c)
}

func (f *fakeDeliveryStore) callsFor(id string) []markCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]markCall(nil), f.marks[id]...)
}

func testWebhookConfig() *config.WebhookConfig {
	cfg := config.DefaultWebhookConfig()
	cfg.Workers = 1
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PollIntervalJitter = 0
	cfg.JitterFraction = 0 // deterministic backoff in tests
	return cfg
}

func testJob(url, secret string) *store.DeliveryJob {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return &store.DeliveryJob{
		Delivery: models.WebhookDelivery{
			ID:             "dlv_1",
			EventID:        "evt_1",
			SubscriptionID: "whs_1",
			Status:         models.DeliveryStatusQueued,
		},
		Event: models.WebhookEvent{
			ID:        "evt_1",
			Kind:      "query.completed",
			Payload:   json.RawMessage(`{"query_id":"qry_1","answer":"42"}`),
			CreatedAt: now,
		},
		Subscription: models.WebhookSubscription{
			ID:     "whs_1",
			URL:    url,
			Kinds:  []string{"query.completed"},
			Active: true,
			Secret: secret,
		},
	}
}

func TestDeliver_SuccessSignsAndPosts(t *testing.T) {
	type received struct {
		headers http.Header
		body    []byte
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{headers: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := newFakeDeliveryStore()
	d := NewDispatcher(fs, testWebhookConfig())

	job := testJob(srv.URL, "hook-secret")
	job.Delivery.Attempts = 1 // as ClaimDue would have set
	d.deliver(context.Background(), job)

	calls := fs.callsFor("dlv_1")
	require.Len(t, calls, 1)
	assert.Equal(t, "success", calls[0].op)

	r := <-got
	assert.Equal(t, "application/json", r.headers.Get("Content-Type"))
	assert.Equal(t, "evt_1", r.headers.Get("X-Event-Id"))
	assert.Equal(t, "query.completed", r.headers.Get("X-Event-Kind"))
	assert.Equal(t, "whs_1", r.headers.Get("X-Webhook-Id"))
	assert.Equal(t, "1", r.headers.Get("X-Delivery-Attempt"))

	// Signature round-trip over the exact wire bytes.
	ts, err := strconv.ParseInt(r.headers.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	assert.True(t, Verify("hook-secret", ts, r.body, r.headers.Get("X-Signature")))

	var body deliveryBody
	require.NoError(t, json.Unmarshal(r.body, &body))
	assert.Equal(t, "evt_1", body.EventID)
	assert.Equal(t, "query.completed", body.Kind)
	assert.Equal(t, 1, body.DeliveryAttempt)
	assert.JSONEq(t, `{"query_id":"qry_1","answer":"42"}`, string(body.Data))
}

func TestDeliver_RetrySchedule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fs := newFakeDeliveryStore()
	d := NewDispatcher(fs, testWebhookConfig())
	frozen := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return frozen }

	// Backoff schedule: 5s, 30s, 5m, 30m for attempts 1..4.
	wantDelays := []time.Duration{5 * time.Second, 30 * time.Second, 5 * time.Minute, 30 * time.Minute}
	for attempt := 1; attempt <= 4; attempt++ {
		job := testJob(srv.URL, "s")
		job.Delivery.Attempts = attempt
		d.deliver(context.Background(), job)

		calls := fs.callsFor("dlv_1")
		last := calls[len(calls)-1]
		require.Equal(t, "failed", last.op, "attempt %d", attempt)
		require.NotNil(t, last.statusCode)
		assert.Equal(t, http.StatusServiceUnavailable, *last.statusCode)
		assert.Equal(t, frozen.Add(wantDelays[attempt-1]), last.nextRetryAt)
	}

	// Attempt 5 exhausts the default budget and dead-letters.
	job := testJob(srv.URL, "s")
	job.Delivery.Attempts = 5
	d.deliver(context.Background(), job)
	calls := fs.callsFor("dlv_1")
	assert.Equal(t, "dead", calls[len(calls)-1].op)
}

func TestDeliver_NonRetryableGoesDead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	fs := newFakeDeliveryStore()
	d := NewDispatcher(fs, testWebhookConfig())

	job := testJob(srv.URL, "s")
	job.Delivery.Attempts = 1
	d.deliver(context.Background(), job)

	calls := fs.callsFor("dlv_1")
	require.Len(t, calls, 1)
	assert.Equal(t, "dead", calls[0].op)
	require.NotNil(t, calls[0].statusCode)
	assert.Equal(t, http.StatusGone, *calls[0].statusCode)
}

func TestDeliver_RetryableStatuses(t *testing.T) {
	tests := []struct {
		statusCode int
		wantOp     string
	}{
		{http.StatusRequestTimeout, "failed"},
		{http.StatusTooManyRequests, "failed"},
		{http.StatusInternalServerError, "failed"},
		{http.StatusBadGateway, "failed"},
		{http.StatusBadRequest, "dead"},
		{http.StatusUnauthorized, "dead"},
		{http.StatusNotFound, "dead"},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.statusCode), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer srv.Close()

			fs := newFakeDeliveryStore()
			d := NewDispatcher(fs, testWebhookConfig())
			job := testJob(srv.URL, "s")
			job.Delivery.Attempts = 1
			d.deliver(context.Background(), job)

			calls := fs.callsFor("dlv_1")
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantOp, calls[0].op)
		})
	}
}

func TestDeliver_TransportErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // connection refused from here on

	fs := newFakeDeliveryStore()
	d := NewDispatcher(fs, testWebhookConfig())
	job := testJob(url, "s")
	job.Delivery.Attempts = 1
	d.deliver(context.Background(), job)

	calls := fs.callsFor("dlv_1")
	require.Len(t, calls, 1)
	assert.Equal(t, "failed", calls[0].op)
	assert.Nil(t, calls[0].statusCode)
	assert.NotEmpty(t, calls[0].lastError)
}

func TestDispatcher_RequeuesStaleClaimsOnStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := newFakeDeliveryStore()
	fs.stale = 2

	cfg := testWebhookConfig()
	cfg.StaleClaimTTL = 5 * time.Minute
	d := NewDispatcher(fs, cfg)
	frozen := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return frozen }

	d.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(fs.requeueCutoffs()) >= 1
	}, 5*time.Second, 10*time.Millisecond, "first sweep runs at startup")
	d.Stop()

	cutoffs := fs.requeueCutoffs()
	require.NotEmpty(t, cutoffs)
	assert.Equal(t, frozen.Add(-5*time.Minute), cutoffs[0],
		"rows older than the claim TTL are reclaimed")
}

func TestDispatcher_DrainsQueueAndStopsClean(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	jobs := make([]*store.DeliveryJob, 0, 3)
	for i := 0; i < 3; i++ {
		job := testJob(srv.URL, "s")
		job.Delivery.ID = "dlv_" + strconv.Itoa(i)
		jobs = append(jobs, job)
	}
	fs := newFakeDeliveryStore(jobs...)

	cfg := testWebhookConfig()
	cfg.Workers = 2
	d := NewDispatcher(fs, cfg)
	d.Start(context.Background())
	d.Start(context.Background()) // duplicate Start is a no-op

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hits == 3
	}, 5*time.Second, 10*time.Millisecond)

	d.Stop()
	d.client.CloseIdleConnections()
	srv.Close()

	for i := 0; i < 3; i++ {
		calls := fs.callsFor("dlv_" + strconv.Itoa(i))
		require.Len(t, calls, 1)
		assert.Equal(t, "success", calls[0].op)
	}
}
