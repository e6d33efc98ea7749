package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/events"
	"github.com/replyworks/sage/pkg/intent"
	"github.com/replyworks/sage/pkg/kv"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/store"
	"github.com/replyworks/sage/test/util"
)

type fakeRegistry struct {
	rebuilds atomic.Int32
}

func (f *fakeRegistry) Rebuild(ctx context.Context) (*intent.Snapshot, error) {
	f.rebuilds.Add(1)
	return &intent.Snapshot{}, nil
}

type commitHarness struct {
	staging   *Staging
	committer *Committer
	client    *store.Client
	kv        *kv.Store
	provider  *llm.Fake
	registry  *fakeRegistry
}

func TestCommitWritesEverything(t *testing.T) {
	h := newCommitHarness(t)
	ctx := context.Background()

	draft, err := h.staging.Create(ctx, "faq.json", commitChunks())
	require.NoError(t, err)

	// staged drafts are invisible to the committed corpus
	active, err := h.client.Pairs.CountActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, active)

	result, err := h.committer.Commit(ctx, draft.ID)
	require.NoError(t, err)
	require.NotEmpty(t, result.DocumentID)
	require.Len(t, result.PairIDs, 3)

	doc, err := h.client.Documents.Get(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "faq.json", doc.Title)
	assert.Equal(t, models.DocumentStatusActive, doc.Status)
	assert.Len(t, doc.PairIDs, 3)

	active, err = h.client.Pairs.CountActive(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, active)

	vectors, err := h.client.Vectors.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, vectors)

	assert.EqualValues(t, 1, h.registry.rebuilds.Load())

	evs, err := h.client.Webhooks.ListEvents(ctx, events.KindDocumentIngested, 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	var payload events.DocumentIngestedPayload
	require.NoError(t, json.Unmarshal(evs[0].Payload, &payload))
	assert.Equal(t, result.DocumentID, payload.DocumentID)
	assert.Equal(t, draft.ID, payload.DraftID)
	assert.Equal(t, 3, payload.PairCount)

	got, err := h.staging.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusCommitted, got.Status)
	assert.Equal(t, result.DocumentID, got.DocumentID)

	// pairs sharing category and intent reference each other
	pairs, err := h.client.Pairs.GetMany(ctx, result.PairIDs)
	require.NoError(t, err)
	linked := 0
	for _, p := range pairs {
		if p.Intent == "order_status" {
			require.Len(t, p.SeeAlso, 1)
			linked++
		} else {
			assert.Empty(t, p.SeeAlso)
		}
	}
	assert.Equal(t, 2, linked)
}

func TestCommitConflict(t *testing.T) {
	h := newCommitHarness(t)
	ctx := context.Background()

	draft, err := h.staging.Create(ctx, "faq.json", commitChunks())
	require.NoError(t, err)

	locked, err := h.kv.SetNX(ctx, commitLockPrefix+draft.ID, []byte("1"), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = h.committer.Commit(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrCommitConflict)

	require.NoError(t, h.kv.Del(ctx, commitLockPrefix+draft.ID))
	_, err = h.committer.Commit(ctx, draft.ID)
	assert.NoError(t, err)
}

func TestCommitEmbedFailureCompensates(t *testing.T) {
	h := newCommitHarness(t)
	ctx := context.Background()

	draft, err := h.staging.Create(ctx, "faq.json", commitChunks())
	require.NoError(t, err)

	h.provider.FailEmbed(errors.New("embedding quota exhausted"))
	_, err = h.committer.Commit(ctx, draft.ID)
	require.Error(t, err)

	// nothing half-committed is left behind
	docs, err := h.client.Documents.Count(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, docs)
	active, err := h.client.Pairs.CountActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, active)
	vectors, err := h.client.Vectors.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, vectors)
	assert.Zero(t, h.registry.rebuilds.Load())

	// the draft survives for a retry once the provider recovers
	h.provider.FailEmbed(nil)
	result, err := h.committer.Commit(ctx, draft.ID)
	require.NoError(t, err)
	docs, err = h.client.Documents.Count(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, docs)
	assert.Len(t, result.PairIDs, 3)
}

func TestCommitReplayReturnsExistingDocument(t *testing.T) {
	h := newCommitHarness(t)
	ctx := context.Background()

	draft, err := h.staging.Create(ctx, "faq.json", commitChunks())
	require.NoError(t, err)

	first, err := h.committer.Commit(ctx, draft.ID)
	require.NoError(t, err)
	second, err := h.committer.Commit(ctx, draft.ID)
	require.NoError(t, err)

	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.ElementsMatch(t, first.PairIDs, second.PairIDs)

	docs, err := h.client.Documents.Count(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, docs, "replay must not duplicate the document")
	assert.EqualValues(t, 1, h.registry.rebuilds.Load())

	evs, err := h.client.Webhooks.ListEvents(ctx, events.KindDocumentIngested, 10, 0)
	require.NoError(t, err)
	assert.Len(t, evs, 1, "replay must not publish a second event")
}

func TestCommitResumesAfterPartialCommit(t *testing.T) {
	h := newCommitHarness(t)
	ctx := context.Background()

	draft, err := h.staging.Create(ctx, "faq.json", commitChunks())
	require.NoError(t, err)

	// simulate a crash after the insert transaction landed: the reserved
	// document exists but embeddings, registry, event, and the committed
	// mark are all missing
	now := time.Now().UTC()
	doc := &models.Document{
		ID:        models.NewDocumentID(),
		Title:     draft.Filename,
		Status:    models.DocumentStatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	pairs := make([]models.QAPair, len(draft.Chunks))
	for i, chunk := range draft.Chunks {
		pairs[i] = models.QAPair{
			ID:               models.NewPairID(),
			Question:         chunk.Question,
			Answer:           chunk.Answer,
			Category:         chunk.Category,
			Intent:           chunk.Intent,
			Language:         chunk.Language,
			Confidence:       1,
			SourceDocumentID: doc.ID,
			Status:           models.PairStatusActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	require.NoError(t, h.committer.insertCommitted(ctx, doc, pairs))
	draft.DocumentID = doc.ID
	require.NoError(t, h.staging.save(ctx, draft))

	result, err := h.committer.Commit(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, result.DocumentID, "resume reuses the landed document")

	docs, err := h.client.Documents.Count(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, docs)
	vectors, err := h.client.Vectors.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, vectors)
	assert.EqualValues(t, 1, h.registry.rebuilds.Load())

	got, err := h.staging.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusCommitted, got.Status)
}

func TestCommitRejectsBadDrafts(t *testing.T) {
	h := newCommitHarness(t)
	ctx := context.Background()

	_, err := h.committer.Commit(ctx, "drf_missing")
	assert.ErrorIs(t, err, ErrDraftNotFound)

	incomplete := commitChunks()
	incomplete[1].Intent = ""
	draft, err := h.staging.Create(ctx, "faq.json", incomplete)
	require.NoError(t, err)
	_, err = h.committer.Commit(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrDraftIncomplete)

	discarded, err := h.staging.Create(ctx, "faq.json", commitChunks())
	require.NoError(t, err)
	require.NoError(t, h.staging.Discard(ctx, discarded.ID))
	_, err = h.committer.Commit(ctx, discarded.ID)
	assert.ErrorIs(t, err, ErrDraftFinalized)
}

// commitChunks has two chunks sharing category and intent so the commit
// cross-links them.
func commitChunks() []models.DraftChunk {
	return []models.DraftChunk{
		{ChunkID: "c1", Question: "How do I pay?", Answer: "Cards or PayPal.", Category: "billing", Intent: "payment_methods", Language: "en", CategoryConfidence: 0.9, IntentConfidence: 0.8},
		{ChunkID: "c2", Question: "Where is my order?", Answer: "Track it online.", Category: "shipping", Intent: "order_status", Language: "en", CategoryConfidence: 0.9, IntentConfidence: 0.9},
		{ChunkID: "c3", Question: "My order is late", Answer: "Check tracking or contact us.", Category: "shipping", Intent: "order_status", Language: "es", CategoryConfidence: 0.9, IntentConfidence: 0.9},
	}
}

func newCommitHarness(t *testing.T) *commitHarness {
	t.Helper()
	client := util.SetupTestStore(t)
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	kvStore := kv.NewWithClient(rc, "sage")

	cfg := testIngestConfig()
	cfg.DraftTTL = 12 * time.Hour
	cfg.CommittedDraftTTL = time.Hour
	cfg.CommitLockTTL = 5 * time.Minute

	provider := llm.NewFake(768)
	staging := NewStaging(kvStore, cfg)
	registry := &fakeRegistry{}
	publisher := events.NewPublisher(client.Webhooks)
	committer := NewCommitter(staging, client, provider, registry, publisher, kvStore, cfg, &config.LLMConfig{EmbedModel: "fake-embed"})

	return &commitHarness{
		staging:   staging,
		committer: committer,
		client:    client,
		kv:        kvStore,
		provider:  provider,
		registry:  registry,
	}
}
