package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/replyworks/sage/pkg/models"
)

// DocumentStore persists ingested documents. A document is the commit unit:
// one committed staging draft becomes one document plus its pairs.
type DocumentStore struct {
	db *sqlx.DB
}

type documentRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	Status    string    `db:"status"`
	Version   int       `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *documentRow) toModel() models.Document {
	return models.Document{
		ID:        r.ID,
		Title:     r.Title,
		Status:    r.Status,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// InsertTx writes the document row inside the caller's transaction.
func (s *DocumentStore) InsertTx(ctx context.Context, tx *sqlx.Tx, doc *models.Document) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.Title, doc.Status, doc.Version, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns one document with its pair ids hydrated.
func (s *DocumentStore) Get(ctx context.Context, id string) (*models.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, title, status, version, created_at, updated_at
		 FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	doc := row.toModel()
	if err := s.db.SelectContext(ctx, &doc.PairIDs,
		`SELECT id FROM qa_pairs WHERE source_document_id = $1 ORDER BY id`, id); err != nil {
		return nil, fmt.Errorf("failed to list pair ids for document %s: %w", id, err)
	}
	return &doc, nil
}

// List returns documents newest first; status filters when non-empty.
func (s *DocumentStore) List(ctx context.Context, status string, limit, offset int) ([]models.Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, title, status, version, created_at, updated_at
		 FROM documents
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	out := make([]models.Document, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// Archive marks the document and all its active pairs archived in one
// transaction and returns the archived pair ids. Archived pairs drop out of
// retrieval immediately; rows are kept for audit.
func (s *DocumentStore) Archive(ctx context.Context, pairs *PairStore, id string) ([]string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = 'archived', version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to archive document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read archive result: %w", err)
	}
	if n == 0 {
		// Either missing or already archived; disambiguate for the caller.
		var status string
		err := tx.GetContext(ctx, &status, `SELECT status FROM documents WHERE id = $1`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check document %s: %w", id, err)
		}
		return nil, nil // already archived: idempotent no-op
	}

	pairIDs, err := pairs.ArchiveByDocumentTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit archive of document %s: %w", id, err)
	}
	return pairIDs, nil
}

// Delete removes the document row; pairs and embeddings cascade. Only the
// commit compensation path uses this.
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// Count returns the number of documents with the given status ('' = all).
func (s *DocumentStore) Count(ctx context.Context, status string) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT count(*) FROM documents WHERE ($1 = '' OR status = $1)`, status)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}
