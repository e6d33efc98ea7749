package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/kv"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/similarity"
)

var (
	// ErrDraftNotFound is returned when the draft id is unknown or expired.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrDraftFinalized is returned when editing a committed or discarded
	// draft.
	ErrDraftFinalized = errors.New("draft already committed or discarded")

	// ErrBadEdit is returned when a review operation references an unknown
	// chunk, an unknown op, or malformed arguments.
	ErrBadEdit = errors.New("invalid draft edit")
)

const draftKeyPrefix = "draft:"

func draftKey(id string) string { return draftKeyPrefix + id }

// Staging stores drafts in the k/v store under their configured TTL. Drafts
// never touch Postgres; an expired or discarded draft simply disappears.
type Staging struct {
	kv  *kv.Store
	cfg *config.IngestConfig
}

func NewStaging(store *kv.Store, cfg *config.IngestConfig) *Staging {
	return &Staging{kv: store, cfg: cfg}
}

// Create persists a new pending draft holding the classified chunks.
func (s *Staging) Create(ctx context.Context, filename string, chunks []models.DraftChunk) (*models.StagingDraft, error) {
	now := time.Now().UTC()
	draft := &models.StagingDraft{
		ID:        models.NewDraftID(),
		Filename:  filename,
		Chunks:    chunks,
		Status:    models.DraftStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.kv.SetJSON(ctx, draftKey(draft.ID), draft, s.cfg.DraftTTL); err != nil {
		return nil, fmt.Errorf("store draft: %w", err)
	}
	return draft, nil
}

// Get loads one draft.
func (s *Staging) Get(ctx context.Context, id string) (*models.StagingDraft, error) {
	var draft models.StagingDraft
	if err := s.kv.GetJSON(ctx, draftKey(id), &draft); err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return nil, ErrDraftNotFound
		}
		return nil, err
	}
	return &draft, nil
}

// List returns all live drafts, newest first. Drafts expiring between scan
// and fetch are skipped.
func (s *Staging) List(ctx context.Context) ([]*models.StagingDraft, error) {
	keys, err := s.kv.ScanPrefix(ctx, draftKeyPrefix)
	if err != nil {
		return nil, err
	}
	drafts := make([]*models.StagingDraft, 0, len(keys))
	for _, key := range keys {
		var draft models.StagingDraft
		if err := s.kv.GetJSON(ctx, key, &draft); err != nil {
			if errors.Is(err, kv.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		drafts = append(drafts, &draft)
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].CreatedAt.After(drafts[j].CreatedAt) })
	return drafts, nil
}

// Patch applies review edits to a pending or reviewed draft and refreshes
// its TTL. Every operation is idempotent by chunk id: replaying the same
// patch leaves the draft unchanged.
func (s *Staging) Patch(ctx context.Context, id string, edits []models.ChunkEdit) (*models.StagingDraft, error) {
	draft, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.Status == models.DraftStatusCommitted || draft.Status == models.DraftStatusDiscarded {
		return nil, ErrDraftFinalized
	}

	for i, edit := range edits {
		if err := applyEdit(draft, edit); err != nil {
			return nil, fmt.Errorf("%w: edit %d (%s %s): %v", ErrBadEdit, i, edit.Op, edit.ChunkID, err)
		}
	}

	draft.Status = models.DraftStatusReviewed
	draft.UpdatedAt = time.Now().UTC()
	if err := s.kv.SetJSON(ctx, draftKey(draft.ID), draft, s.cfg.DraftTTL); err != nil {
		return nil, fmt.Errorf("store draft: %w", err)
	}
	return draft, nil
}

// Discard marks the draft discarded and shortens its TTL.
func (s *Staging) Discard(ctx context.Context, id string) error {
	draft, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if draft.Status == models.DraftStatusCommitted {
		return ErrDraftFinalized
	}
	draft.Status = models.DraftStatusDiscarded
	draft.UpdatedAt = time.Now().UTC()
	return s.kv.SetJSON(ctx, draftKey(draft.ID), draft, s.cfg.CommittedDraftTTL)
}

// markCommitted finalizes the draft after a successful commit and shortens
// its TTL so reviewers can briefly inspect the outcome. Idempotent.
func (s *Staging) markCommitted(ctx context.Context, draft *models.StagingDraft) error {
	draft.Status = models.DraftStatusCommitted
	draft.UpdatedAt = time.Now().UTC()
	return s.kv.SetJSON(ctx, draftKey(draft.ID), draft, s.cfg.CommittedDraftTTL)
}

// save persists the draft as-is with a full TTL; the committer uses it to
// reserve the document id before touching Postgres.
func (s *Staging) save(ctx context.Context, draft *models.StagingDraft) error {
	draft.UpdatedAt = time.Now().UTC()
	return s.kv.SetJSON(ctx, draftKey(draft.ID), draft, s.cfg.DraftTTL)
}

func applyEdit(draft *models.StagingDraft, edit models.ChunkEdit) error {
	switch edit.Op {
	case models.ChunkOpAdd:
		return applyAdd(draft, edit)
	case models.ChunkOpEdit:
		return applyFieldEdit(draft, edit)
	case models.ChunkOpRemove:
		removeChunks(draft, edit.ChunkID)
		return nil
	case models.ChunkOpSplit:
		return applySplit(draft, edit)
	case models.ChunkOpMerge:
		return applyMerge(draft, edit)
	case models.ChunkOpReassign:
		return applyReassign(draft, edit)
	default:
		return fmt.Errorf("unknown op %q", edit.Op)
	}
}

// applyAdd appends a reviewer-authored chunk. Repeating the add with the
// same chunk id is a no-op.
func applyAdd(draft *models.StagingDraft, edit models.ChunkEdit) error {
	if edit.ChunkID == "" {
		return errors.New("chunk_id is required")
	}
	if draft.Chunk(edit.ChunkID) != nil {
		return nil
	}
	if edit.Question == nil || strings.TrimSpace(*edit.Question) == "" ||
		edit.Answer == nil || strings.TrimSpace(*edit.Answer) == "" {
		return errors.New("question and answer are required")
	}
	chunk := models.DraftChunk{
		ChunkID:  edit.ChunkID,
		Question: strings.TrimSpace(*edit.Question),
		Answer:   strings.TrimSpace(*edit.Answer),
		Tags:     edit.Tags,
	}
	if edit.Language != nil {
		chunk.Language = *edit.Language
	} else {
		chunk.Language = similarity.DetectLanguage(chunk.Question + " " + chunk.Answer)
	}
	if edit.Category != nil {
		chunk.Category = *edit.Category
		chunk.CategoryConfidence = 1
	}
	if edit.Intent != nil {
		chunk.Intent = *edit.Intent
		chunk.IntentConfidence = 1
	}
	if edit.RequiresHandoff != nil {
		chunk.RequiresHandoff = *edit.RequiresHandoff
	}
	draft.Chunks = append(draft.Chunks, chunk)
	return nil
}

func applyFieldEdit(draft *models.StagingDraft, edit models.ChunkEdit) error {
	chunk := draft.Chunk(edit.ChunkID)
	if chunk == nil {
		return errors.New("no such chunk")
	}
	if edit.Question != nil {
		chunk.Question = strings.TrimSpace(*edit.Question)
	}
	if edit.Answer != nil {
		chunk.Answer = strings.TrimSpace(*edit.Answer)
	}
	if edit.Language != nil {
		chunk.Language = *edit.Language
	}
	if edit.RequiresHandoff != nil {
		chunk.RequiresHandoff = *edit.RequiresHandoff
	}
	if edit.Tags != nil {
		chunk.Tags = edit.Tags
	}
	if chunk.Question == "" || chunk.Answer == "" {
		return errors.New("question and answer must stay non-empty")
	}
	return nil
}

func removeChunks(draft *models.StagingDraft, ids ...string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := draft.Chunks[:0]
	for _, chunk := range draft.Chunks {
		if !drop[chunk.ChunkID] {
			kept = append(kept, chunk)
		}
	}
	draft.Chunks = kept
}

// applySplit replaces a chunk with its parts at the same position, ids
// <chunk_id>.1, <chunk_id>.2, … A replayed split finds the parts already
// present and does nothing.
func applySplit(draft *models.StagingDraft, edit models.ChunkEdit) error {
	if len(edit.Parts) < 2 {
		return errors.New("split needs at least two parts")
	}
	parent := draft.Chunk(edit.ChunkID)
	if parent == nil {
		if draft.Chunk(edit.ChunkID+".1") != nil {
			return nil
		}
		return errors.New("no such chunk")
	}
	parts := make([]models.DraftChunk, len(edit.Parts))
	for i, part := range edit.Parts {
		if strings.TrimSpace(part.Question) == "" || strings.TrimSpace(part.Answer) == "" {
			return fmt.Errorf("part %d: question and answer are required", i+1)
		}
		parts[i] = *parent
		parts[i].ChunkID = fmt.Sprintf("%s.%d", edit.ChunkID, i+1)
		parts[i].Question = strings.TrimSpace(part.Question)
		parts[i].Answer = strings.TrimSpace(part.Answer)
	}
	for i, chunk := range draft.Chunks {
		if chunk.ChunkID == edit.ChunkID {
			expanded := make([]models.DraftChunk, 0, len(draft.Chunks)+len(parts)-1)
			expanded = append(expanded, draft.Chunks[:i]...)
			expanded = append(expanded, parts...)
			expanded = append(expanded, draft.Chunks[i+1:]...)
			draft.Chunks = expanded
			return nil
		}
	}
	return errors.New("no such chunk")
}

// applyMerge folds the MergeIDs chunks into the target in order: their
// answers are appended to the target's and their tags unioned, then they
// are removed. Already-merged ids are skipped.
func applyMerge(draft *models.StagingDraft, edit models.ChunkEdit) error {
	target := draft.Chunk(edit.ChunkID)
	if target == nil {
		return errors.New("no such chunk")
	}
	if len(edit.MergeIDs) == 0 {
		return errors.New("merge_ids is required")
	}
	var absorbed []string
	for _, id := range edit.MergeIDs {
		if id == edit.ChunkID {
			return errors.New("cannot merge a chunk into itself")
		}
		source := draft.Chunk(id)
		if source == nil {
			continue
		}
		target.Answer = target.Answer + "\n\n" + source.Answer
		target.Tags = unionTags(target.Tags, source.Tags)
		target.RequiresHandoff = target.RequiresHandoff || source.RequiresHandoff
		absorbed = append(absorbed, id)
	}
	removeChunks(draft, absorbed...)
	return nil
}

func applyReassign(draft *models.StagingDraft, edit models.ChunkEdit) error {
	chunk := draft.Chunk(edit.ChunkID)
	if chunk == nil {
		return errors.New("no such chunk")
	}
	if edit.Category == nil && edit.Intent == nil {
		return errors.New("category or intent is required")
	}
	if edit.Category != nil {
		chunk.Category = *edit.Category
		chunk.CategoryConfidence = 1
	}
	if edit.Intent != nil {
		chunk.Intent = *edit.Intent
		chunk.IntentConfidence = 1
	}
	return nil
}

func unionTags(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, tag := range a {
		seen[tag] = true
	}
	for _, tag := range b {
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
