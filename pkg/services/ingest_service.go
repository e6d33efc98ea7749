package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/replyworks/sage/pkg/events"
	"github.com/replyworks/sage/pkg/ingest"
	"github.com/replyworks/sage/pkg/models"
)

// ClassificationPublisher emits the job.classification.completed event.
type ClassificationPublisher interface {
	PublishClassificationCompleted(ctx context.Context, payload events.ClassificationCompletedPayload) (string, error)
}

// IngestService owns the staged-review ingestion flow: parse uploaded
// files, auto-classify the chunks, hold them in a reviewable draft, and
// hand reviewed drafts to the committer.
type IngestService struct {
	staging    *ingest.Staging
	classifier *ingest.Classifier
	committer  *ingest.Committer
	events     ClassificationPublisher
	logger     *slog.Logger
}

// NewIngestService creates a new IngestService.
func NewIngestService(staging *ingest.Staging, classifier *ingest.Classifier, committer *ingest.Committer, publisher ClassificationPublisher) *IngestService {
	if staging == nil {
		panic("NewIngestService: staging must not be nil")
	}
	if classifier == nil {
		panic("NewIngestService: classifier must not be nil")
	}
	if committer == nil {
		panic("NewIngestService: committer must not be nil")
	}
	return &IngestService{
		staging:    staging,
		classifier: classifier,
		committer:  committer,
		events:     publisher,
		logger:     slog.With("component", "ingest_service"),
	}
}

// Stage parses the uploaded files, classifies every chunk, and stores the
// result as a pending draft. The draft is invisible to the query pipeline
// until committed. Filename is taken from the first file for the draft
// title; multi-file uploads stage into one draft.
func (s *IngestService) Stage(ctx context.Context, files []ingest.File) (*models.StagingDraft, error) {
	if len(files) == 0 {
		return nil, NewValidationError("files", "at least one file is required")
	}
	for _, f := range files {
		if len(f.Data) == 0 {
			return nil, NewValidationError("files", fmt.Sprintf("file %q is empty", f.Name))
		}
	}

	chunks, err := ingest.Parse(files)
	if err != nil {
		return nil, NewValidationError("files", err.Error())
	}
	if len(chunks) == 0 {
		return nil, NewValidationError("files", "no question/answer pairs found")
	}

	start := time.Now()
	categories, err := s.classifier.Classify(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: classify upload: %v", ErrUpstream, err)
	}

	draft, err := s.staging.Create(ctx, files[0].Name, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to stage draft: %w", err)
	}

	if s.events != nil {
		_, err := s.events.PublishClassificationCompleted(ctx, events.ClassificationCompletedPayload{
			DraftID:    draft.ID,
			Chunks:     len(chunks),
			Categories: categories,
			DurationMs: time.Since(start).Milliseconds(),
			Timestamp:  events.Timestamp(),
		})
		if err != nil {
			s.logger.Warn("Failed to publish classification event",
				"draft_id", draft.ID, "error", err)
		}
	}

	return draft, nil
}

// Drafts lists the live staging drafts, newest first.
func (s *IngestService) Drafts(ctx context.Context) ([]*models.StagingDraft, error) {
	drafts, err := s.staging.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// Draft returns one draft by id.
func (s *IngestService) Draft(ctx context.Context, draftID string) (*models.StagingDraft, error) {
	if draftID == "" {
		return nil, NewValidationError("draft_id", "required")
	}
	draft, err := s.staging.Get(ctx, draftID)
	if err != nil {
		return nil, mapDraftError(err)
	}
	return draft, nil
}

// PatchDraft applies review edits to a draft. Edits are idempotent by
// chunk id so a retried PATCH cannot double-apply.
func (s *IngestService) PatchDraft(ctx context.Context, draftID string, edits []models.ChunkEdit) (*models.StagingDraft, error) {
	if draftID == "" {
		return nil, NewValidationError("draft_id", "required")
	}
	if len(edits) == 0 {
		return nil, NewValidationError("edits", "at least one edit is required")
	}
	draft, err := s.staging.Patch(ctx, draftID, edits)
	if err != nil {
		if errors.Is(err, ingest.ErrBadEdit) {
			return nil, NewValidationError("edits", err.Error())
		}
		return nil, mapDraftError(err)
	}
	return draft, nil
}

// Commit turns a draft into a committed document. Replaying the commit of
// an already committed draft returns the original result.
func (s *IngestService) Commit(ctx context.Context, draftID string) (*ingest.CommitResult, error) {
	if draftID == "" {
		return nil, NewValidationError("draft_id", "required")
	}
	result, err := s.committer.Commit(ctx, draftID)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrCommitConflict):
			return nil, ErrCommitConflict
		case errors.Is(err, ingest.ErrDraftIncomplete):
			return nil, NewValidationError("draft", err.Error())
		}
		return nil, mapDraftError(err)
	}
	return result, nil
}

// Discard drops a draft from review. Committed drafts cannot be discarded.
func (s *IngestService) Discard(ctx context.Context, draftID string) error {
	if draftID == "" {
		return NewValidationError("draft_id", "required")
	}
	if err := s.staging.Discard(ctx, draftID); err != nil {
		return mapDraftError(err)
	}
	return nil
}

func mapDraftError(err error) error {
	switch {
	case errors.Is(err, ingest.ErrDraftNotFound):
		return ErrNotFound
	case errors.Is(err, ingest.ErrDraftFinalized):
		return fmt.Errorf("%w: draft is already finalized", ErrAlreadyExists)
	}
	return err
}
