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

// PairStore persists committed QA pairs.
type PairStore struct {
	db *sqlx.DB
}

type pairRow struct {
	ID               string    `db:"id"`
	Question         string    `db:"question"`
	Answer           string    `db:"answer"`
	Category         string    `db:"category"`
	Intent           string    `db:"intent"`
	RequiresHandoff  bool      `db:"requires_handoff"`
	Language         string    `db:"language"`
	Confidence       float64   `db:"confidence"`
	SourceDocumentID string    `db:"source_document_id"`
	Tags             []byte    `db:"tags"`
	SeeAlso          []byte    `db:"see_also"`
	Status           string    `db:"status"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r *pairRow) toModel() (models.QAPair, error) {
	p := models.QAPair{
		ID:               r.ID,
		Question:         r.Question,
		Answer:           r.Answer,
		Category:         r.Category,
		Intent:           r.Intent,
		RequiresHandoff:  r.RequiresHandoff,
		Language:         r.Language,
		Confidence:       r.Confidence,
		SourceDocumentID: r.SourceDocumentID,
		Status:           r.Status,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &p.Tags); err != nil {
			return p, fmt.Errorf("failed to decode tags for pair %s: %w", r.ID, err)
		}
	}
	if len(r.SeeAlso) > 0 {
		if err := json.Unmarshal(r.SeeAlso, &p.SeeAlso); err != nil {
			return p, fmt.Errorf("failed to decode see_also for pair %s: %w", r.ID, err)
		}
	}
	return p, nil
}

func pairRowsToModels(rows []pairRow) ([]models.QAPair, error) {
	out := make([]models.QAPair, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

const pairColumns = `id, question, answer, category, intent, requires_handoff,
	language, confidence, source_document_id, tags, see_also, status,
	created_at, updated_at`

// Get returns one pair by id regardless of status.
func (s *PairStore) Get(ctx context.Context, id string) (*models.QAPair, error) {
	var row pairRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+pairColumns+` FROM qa_pairs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pair %s: %w", id, err)
	}
	p, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetMany returns the pairs for the given ids, in the input order. Missing
// ids are silently dropped so callers can hydrate best-effort result lists.
func (s *PairStore) GetMany(ctx context.Context, ids []string) ([]models.QAPair, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+pairColumns+` FROM qa_pairs WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build pair query: %w", err)
	}
	var rows []pairRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get pairs: %w", err)
	}
	byID := make(map[string]pairRow, len(rows))
	for i := range rows {
		byID[rows[i].ID] = rows[i]
	}
	out := make([]models.QAPair, 0, len(ids))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ListActive returns every active pair, oldest first. The lexical index and
// the intent registry rebuild from this.
func (s *PairStore) ListActive(ctx context.Context) ([]models.QAPair, error) {
	var rows []pairRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+pairColumns+` FROM qa_pairs WHERE status = 'active' ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active pairs: %w", err)
	}
	return pairRowsToModels(rows)
}

// ListByCategoryIntent returns active pairs matching category and, when
// non-empty, intent. Used by multi-hop expansion and draft classification.
func (s *PairStore) ListByCategoryIntent(ctx context.Context, category, intent string, limit int) ([]models.QAPair, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []pairRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+pairColumns+` FROM qa_pairs
		 WHERE status = 'active' AND category = $1 AND ($2 = '' OR intent = $2)
		 ORDER BY confidence DESC, id
		 LIMIT $3`, category, intent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs for category %s: %w", category, err)
	}
	return pairRowsToModels(rows)
}

// InsertTx writes pairs inside the caller's transaction. The committer uses
// it so document and pairs land atomically.
func (s *PairStore) InsertTx(ctx context.Context, tx *sqlx.Tx, pairs []models.QAPair) error {
	const q = `INSERT INTO qa_pairs
		(id, question, answer, category, intent, requires_handoff, language,
		 confidence, source_document_id, tags, see_also, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	for i := range pairs {
		p := &pairs[i]
		tags, err := json.Marshal(orEmpty(p.Tags))
		if err != nil {
			return fmt.Errorf("failed to encode tags: %w", err)
		}
		seeAlso, err := json.Marshal(orEmpty(p.SeeAlso))
		if err != nil {
			return fmt.Errorf("failed to encode see_also: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q,
			p.ID, p.Question, p.Answer, p.Category, p.Intent, p.RequiresHandoff,
			p.Language, p.Confidence, p.SourceDocumentID, tags, seeAlso,
			p.Status, p.CreatedAt, p.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert pair %s: %w", p.ID, err)
		}
	}
	return nil
}

// ArchiveByDocumentTx marks all active pairs of a document archived and
// returns their ids.
func (s *PairStore) ArchiveByDocumentTx(ctx context.Context, tx *sqlx.Tx, documentID string) ([]string, error) {
	var ids []string
	err := tx.SelectContext(ctx, &ids,
		`UPDATE qa_pairs SET status = 'archived', updated_at = now()
		 WHERE source_document_id = $1 AND status = 'active'
		 RETURNING id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to archive pairs for document %s: %w", documentID, err)
	}
	return ids, nil
}

// DeleteByDocument removes a document's pairs entirely; embeddings cascade.
// This is the compensating path when a commit fails after the insert step.
func (s *PairStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM qa_pairs WHERE source_document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete pairs for document %s: %w", documentID, err)
	}
	return nil
}

// ListIDsByDocument returns pair ids for one document, any status.
func (s *PairStore) ListIDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM qa_pairs WHERE source_document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pair ids for document %s: %w", documentID, err)
	}
	return ids, nil
}

// CountActive returns the number of active pairs.
func (s *PairStore) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n,
		`SELECT count(*) FROM qa_pairs WHERE status = 'active'`); err != nil {
		return 0, fmt.Errorf("failed to count active pairs: %w", err)
	}
	return n, nil
}

// orEmpty keeps JSONB columns as [] instead of null for nil slices.
func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
