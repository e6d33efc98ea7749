package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/replyworks/sage/pkg/events"
	"github.com/replyworks/sage/pkg/intent"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/store"
)

// RegistryRefresher rebuilds the intent registry snapshot after the
// committed corpus changes.
type RegistryRefresher interface {
	Rebuild(ctx context.Context) (*intent.Snapshot, error)
}

// ArchivePublisher emits the document.archived event.
type ArchivePublisher interface {
	PublishDocumentArchived(ctx context.Context, payload events.DocumentArchivedPayload) (string, error)
}

// DocumentService serves the committed corpus: list and inspect documents,
// and archive a document together with its pairs.
type DocumentService struct {
	store    *store.Client
	registry RegistryRefresher
	events   ArchivePublisher
	logger   *slog.Logger
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(client *store.Client, registry RegistryRefresher, publisher ArchivePublisher) *DocumentService {
	if client == nil {
		panic("NewDocumentService: client must not be nil")
	}
	return &DocumentService{
		store:    client,
		registry: registry,
		events:   publisher,
		logger:   slog.With("component", "document_service"),
	}
}

// List returns documents newest first. Status filters to active or
// archived documents when set.
func (s *DocumentService) List(ctx context.Context, status string, limit, offset int) ([]models.Document, error) {
	switch status {
	case "", models.DocumentStatusActive, models.DocumentStatusArchived:
	default:
		return nil, NewValidationError("status", "must be active or archived")
	}
	if offset < 0 {
		return nil, NewValidationError("offset", "must not be negative")
	}
	docs, err := s.store.Documents.List(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// Get returns one document with its pairs.
func (s *DocumentService) Get(ctx context.Context, documentID string) (*models.DocumentWithPairs, error) {
	if documentID == "" {
		return nil, NewValidationError("document_id", "required")
	}
	doc, err := s.store.Documents.Get(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	pairs, err := s.store.Pairs.GetMany(ctx, doc.PairIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load pairs for document %s: %w", documentID, err)
	}
	return &models.DocumentWithPairs{Document: *doc, Pairs: pairs}, nil
}

// Archive marks the document and its pairs archived and returns how many
// pairs dropped out of retrieval. Archiving an archived document is a
// no-op. The registry rebuild and the vector cleanup run after the
// transaction; both are safe to lose since retrieval filters on pair
// status and the next rebuild resynchronizes the snapshot.
func (s *DocumentService) Archive(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, NewValidationError("document_id", "required")
	}

	pairIDs, err := s.store.Documents.Archive(ctx, s.store.Pairs, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to archive document: %w", err)
	}
	if len(pairIDs) == 0 {
		return 0, nil
	}

	if err := s.store.Vectors.DeleteByPairIDs(ctx, pairIDs); err != nil {
		s.logger.Warn("Failed to delete embeddings of archived pairs",
			"document_id", documentID, "error", err)
	}
	if s.registry != nil {
		if _, err := s.registry.Rebuild(ctx); err != nil {
			s.logger.Warn("Failed to rebuild registry after archive",
				"document_id", documentID, "error", err)
		}
	}
	if s.events != nil {
		_, err := s.events.PublishDocumentArchived(ctx, events.DocumentArchivedPayload{
			DocumentID:    documentID,
			PairsArchived: len(pairIDs),
			Timestamp:     events.Timestamp(),
		})
		if err != nil {
			s.logger.Warn("Failed to publish archive event",
				"document_id", documentID, "error", err)
		}
	}

	return len(pairIDs), nil
}
