package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/events"
	"github.com/replyworks/sage/pkg/intent"
	"github.com/replyworks/sage/pkg/kv"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/metrics"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/store"
)

var (
	// ErrCommitConflict is returned when another commit holds the draft lock.
	ErrCommitConflict = errors.New("commit already in progress for this draft")

	// ErrDraftIncomplete is returned when a chunk is missing a field every
	// committed pair must have.
	ErrDraftIncomplete = errors.New("draft has incomplete chunks")
)

const commitLockPrefix = "lock:draft:"

// seeAlsoCap bounds the cross-links written between pairs that share an
// intent in one commit. Multi-hop retrieval follows these links.
const seeAlsoCap = 4

// RegistryRebuilder refreshes the intent registry after committed pairs
// change the corpus.
type RegistryRebuilder interface {
	Rebuild(ctx context.Context) (*intent.Snapshot, error)
}

// IngestedPublisher emits the document.ingested event.
type IngestedPublisher interface {
	PublishDocumentIngested(ctx context.Context, payload events.DocumentIngestedPayload) (string, error)
}

// CommitResult reports what one commit wrote.
type CommitResult struct {
	DocumentID string   `json:"document_id"`
	PairIDs    []string `json:"pair_ids"`
}

// Committer turns a reviewed draft into a committed document with pairs and
// embeddings. Commits are serialized per draft with a k/v SET NX lock, and
// pairs become visible to retrieval only when the insert transaction lands;
// an embedding failure afterwards deletes the inserted rows again.
//
// The sequence survives a crash at any point: the document id is reserved
// on the draft before anything touches Postgres, so a retried commit either
// finds the insert landed and repairs the remaining steps, or finds nothing
// and starts over.
type Committer struct {
	staging  *Staging
	store    *store.Client
	provider llm.Provider
	registry RegistryRebuilder
	events   IngestedPublisher
	kv       *kv.Store
	cfg      *config.IngestConfig
	llmCfg   *config.LLMConfig
	logger   *slog.Logger
}

func NewCommitter(staging *Staging, client *store.Client, provider llm.Provider, registry RegistryRebuilder, publisher IngestedPublisher, kvStore *kv.Store, cfg *config.IngestConfig, llmCfg *config.LLMConfig) *Committer {
	return &Committer{
		staging:  staging,
		store:    client,
		provider: provider,
		registry: registry,
		events:   publisher,
		kv:       kvStore,
		cfg:      cfg,
		llmCfg:   llmCfg,
		logger:   slog.With("component", "committer"),
	}
}

// Commit runs the full commit sequence for one draft. A concurrent commit
// of the same draft fails fast with ErrCommitConflict; a crashed commit
// frees the lock when CommitLockTTL expires.
func (c *Committer) Commit(ctx context.Context, draftID string) (*CommitResult, error) {
	lockKey := commitLockPrefix + draftID
	locked, err := c.kv.SetNX(ctx, lockKey, []byte("1"), c.cfg.CommitLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire commit lock: %w", err)
	}
	if !locked {
		metrics.IngestCommits.WithLabelValues("conflict").Inc()
		return nil, ErrCommitConflict
	}
	defer func() { _ = c.kv.Del(ctx, lockKey) }()

	result, err := c.commit(ctx, draftID)
	if err != nil {
		metrics.IngestCommits.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.IngestCommits.WithLabelValues("ok").Inc()
	return result, nil
}

func (c *Committer) commit(ctx context.Context, draftID string) (*CommitResult, error) {
	draft, err := c.staging.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	switch draft.Status {
	case models.DraftStatusCommitted:
		// replayed commit: the document already exists
		pairIDs, err := c.store.Pairs.ListIDsByDocument(ctx, draft.DocumentID)
		if err != nil {
			return nil, err
		}
		return &CommitResult{DocumentID: draft.DocumentID, PairIDs: pairIDs}, nil
	case models.DraftStatusDiscarded:
		return nil, ErrDraftFinalized
	}
	if err := validateChunks(draft.Chunks); err != nil {
		return nil, err
	}

	if draft.DocumentID != "" {
		result, landed, err := c.resume(ctx, draft)
		if err != nil {
			return nil, err
		}
		if landed {
			return result, nil
		}
	}

	// step 1: stable ids, with the document id reserved on the draft before
	// anything lands in Postgres
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
			RequiresHandoff:  chunk.RequiresHandoff,
			Language:         chunk.Language,
			Confidence:       pairConfidence(chunk),
			SourceDocumentID: doc.ID,
			Tags:             chunk.Tags,
			Status:           models.PairStatusActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	linkSeeAlso(pairs)

	draft.DocumentID = doc.ID
	if err := c.staging.save(ctx, draft); err != nil {
		return nil, fmt.Errorf("reserve document id: %w", err)
	}

	// step 2: document and pairs land in one transaction
	if err := c.insertCommitted(ctx, doc, pairs); err != nil {
		return nil, err
	}

	// step 3: embeddings; failure rolls the insert back so retrieval never
	// sees pairs without vectors
	if err := c.embedPairs(ctx, pairs); err != nil {
		c.compensate(ctx, doc.ID)
		return nil, fmt.Errorf("embed pairs: %w", err)
	}

	return c.finish(ctx, draft, doc.ID, doc.Title, pairs)
}

// resume picks up a commit whose insert transaction landed on an earlier
// attempt but whose later steps did not. It re-embeds and repeats steps 4-6;
// nothing is deleted here because the previous attempt may already have
// published the pairs to the registry. Reports landed=false when the
// reserved document id never made it to Postgres, in which case the caller
// starts over.
func (c *Committer) resume(ctx context.Context, draft *models.StagingDraft) (*CommitResult, bool, error) {
	doc, err := c.store.Documents.Get(ctx, draft.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	c.logger.Warn("resuming interrupted commit", "draft_id", draft.ID, "document_id", doc.ID)

	pairs, err := c.store.Pairs.GetMany(ctx, doc.PairIDs)
	if err != nil {
		return nil, false, err
	}
	if err := c.embedPairs(ctx, pairs); err != nil {
		return nil, false, fmt.Errorf("embed pairs: %w", err)
	}
	result, err := c.finish(ctx, draft, doc.ID, doc.Title, pairs)
	return result, true, err
}

// finish runs steps 4-6. Each is idempotent and none can fail the commit:
// the corpus is durable by now, so problems here are repaired by the next
// registry rebuild or a replayed commit.
func (c *Committer) finish(ctx context.Context, draft *models.StagingDraft, docID, title string, pairs []models.QAPair) (*CommitResult, error) {
	if _, err := c.registry.Rebuild(ctx); err != nil {
		c.logger.Error("registry rebuild after commit failed", "draft_id", draft.ID, "error", err)
	}

	pairIDs := make([]string, len(pairs))
	for i := range pairs {
		pairIDs[i] = pairs[i].ID
	}
	if _, err := c.events.PublishDocumentIngested(ctx, events.DocumentIngestedPayload{
		DocumentID: docID,
		DraftID:    draft.ID,
		Title:      title,
		PairCount:  len(pairs),
		Timestamp:  events.Timestamp(),
	}); err != nil {
		c.logger.Error("document.ingested publish failed", "document_id", docID, "error", err)
	}

	draft.DocumentID = docID
	if err := c.staging.markCommitted(ctx, draft); err != nil {
		c.logger.Error("marking draft committed failed", "draft_id", draft.ID, "error", err)
	}

	metrics.IngestPairsCommitted.Add(float64(len(pairs)))
	c.logger.Info("draft committed",
		"draft_id", draft.ID,
		"document_id", docID,
		"pairs", len(pairs))
	return &CommitResult{DocumentID: docID, PairIDs: pairIDs}, nil
}

func (c *Committer) insertCommitted(ctx context.Context, doc *models.Document, pairs []models.QAPair) error {
	tx, err := c.store.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := c.store.Documents.InsertTx(ctx, tx, doc); err != nil {
		return err
	}
	if err := c.store.Pairs.InsertTx(ctx, tx, pairs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (c *Committer) embedPairs(ctx context.Context, pairs []models.QAPair) error {
	texts := make([]string, len(pairs))
	for i := range pairs {
		texts[i] = pairs[i].Text()
	}
	vectors, err := c.provider.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(pairs) {
		return fmt.Errorf("got %d vectors for %d pairs", len(vectors), len(pairs))
	}
	items := make([]store.PairEmbedding, len(pairs))
	for i := range pairs {
		items[i] = store.PairEmbedding{
			PairID:    pairs[i].ID,
			Embedding: vectors[i],
			Model:     c.llmCfg.EmbedModel,
		}
	}
	return c.store.Vectors.Upsert(ctx, items)
}

// compensate removes the rows of a commit whose embedding step failed. Pair
// and embedding rows cascade from the document delete.
func (c *Committer) compensate(ctx context.Context, documentID string) {
	if err := c.store.Documents.Delete(ctx, documentID); err != nil {
		c.logger.Error("commit compensation failed, document left behind",
			"document_id", documentID, "error", err)
	}
}

func validateChunks(chunks []models.DraftChunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: draft has no chunks", ErrDraftIncomplete)
	}
	for _, chunk := range chunks {
		if chunk.Question == "" || chunk.Answer == "" {
			return fmt.Errorf("%w: chunk %s has an empty question or answer", ErrDraftIncomplete, chunk.ChunkID)
		}
		if chunk.Category == "" || chunk.Intent == "" {
			return fmt.Errorf("%w: chunk %s has no category or intent", ErrDraftIncomplete, chunk.ChunkID)
		}
	}
	return nil
}

// pairConfidence is the conservative classification confidence: the lower
// of the chunk's category and intent confidences.
func pairConfidence(chunk models.DraftChunk) float64 {
	conf := chunk.CategoryConfidence
	if chunk.IntentConfidence < conf {
		conf = chunk.IntentConfidence
	}
	return clampUnit(conf)
}

// linkSeeAlso cross-references pairs that share category and intent within
// one commit, up to seeAlsoCap links each, in commit order.
func linkSeeAlso(pairs []models.QAPair) {
	groups := make(map[string][]int)
	for i := range pairs {
		key := pairs[i].Category + "\x00" + pairs[i].Intent
		groups[key] = append(groups[key], i)
	}
	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		for _, i := range idxs {
			for _, j := range idxs {
				if i == j || len(pairs[i].SeeAlso) >= seeAlsoCap {
					continue
				}
				pairs[i].SeeAlso = append(pairs[i].SeeAlso, pairs[j].ID)
			}
		}
	}
}
