package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/replyworks/sage/pkg/models"
)

// VectorStore persists pair embeddings in a pgvector column and runs the
// vector leg of hybrid search.
type VectorStore struct {
	db *sqlx.DB
}

// PairEmbedding is one embedding upsert unit.
type PairEmbedding struct {
	PairID    string
	Embedding []float32
	Model     string
}

// VectorHit is one vector search result. Score is cosine similarity in
// [-1, 1]; in practice non-negative for normalized text embeddings.
type VectorHit struct {
	PairID string  `db:"pair_id"`
	Score  float64 `db:"score"`
}

// vectorLiteral renders a []float32 as the pgvector input literal
// '[x1,x2,...]'. Parameters are passed as text and cast server-side.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Upsert writes embeddings, replacing any existing row per pair.
func (s *VectorStore) Upsert(ctx context.Context, items []PairEmbedding) error {
	const q = `INSERT INTO pair_embeddings (pair_id, embedding, model, updated_at)
		VALUES ($1, $2::vector, $3, now())
		ON CONFLICT (pair_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, model = EXCLUDED.model, updated_at = now()`
	for i := range items {
		it := &items[i]
		if len(it.Embedding) == 0 {
			return fmt.Errorf("empty embedding for pair %s", it.PairID)
		}
		if _, err := s.db.ExecContext(ctx, q, it.PairID, vectorLiteral(it.Embedding), it.Model); err != nil {
			return fmt.Errorf("failed to upsert embedding for pair %s: %w", it.PairID, err)
		}
	}
	return nil
}

// Search returns the topK active pairs closest to the query embedding by
// cosine distance. The join keeps archived pairs out without deleting their
// embedding rows, and the filter narrows by metadata equality.
func (s *VectorStore) Search(ctx context.Context, embedding []float32, topK int, filter *models.SearchFilter) ([]VectorHit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}
	if topK <= 0 {
		topK = 10
	}
	var category, intent, language string
	if filter != nil {
		category, intent, language = filter.Category, filter.Intent, filter.Language
	}
	var hits []VectorHit
	err := s.db.SelectContext(ctx, &hits,
		`SELECT e.pair_id, 1 - (e.embedding <=> $1::vector) AS score
		 FROM pair_embeddings e
		 JOIN qa_pairs p ON p.id = e.pair_id
		 WHERE p.status = 'active'
		   AND ($2 = '' OR p.category = $2)
		   AND ($3 = '' OR p.intent = $3)
		   AND ($4 = '' OR p.language = $4)
		 ORDER BY e.embedding <=> $1::vector
		 LIMIT $5`,
		vectorLiteral(embedding), category, intent, language, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	return hits, nil
}

// ListEmbeddings loads stored embeddings for the given pairs, keyed by
// pair id. Pairs without a stored embedding are absent from the map.
func (s *VectorStore) ListEmbeddings(ctx context.Context, pairIDs []string) (map[string][]float32, error) {
	if len(pairIDs) == 0 {
		return map[string][]float32{}, nil
	}
	query, args, err := sqlx.In(
		`SELECT pair_id, embedding::text AS embedding FROM pair_embeddings WHERE pair_id IN (?)`, pairIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding select: %w", err)
	}
	var rows []struct {
		PairID    string `db:"pair_id"`
		Embedding string `db:"embedding"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	out := make(map[string][]float32, len(rows))
	for _, r := range rows {
		vec, err := parseVectorLiteral(r.Embedding)
		if err != nil {
			return nil, fmt.Errorf("bad embedding for pair %s: %w", r.PairID, err)
		}
		out[r.PairID] = vec
	}
	return out, nil
}

// parseVectorLiteral is the inverse of vectorLiteral.
func parseVectorLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("not a vector literal")
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

// DeleteByPairIDs removes embedding rows. Pair deletion cascades already;
// this exists for partial compensation when a batch upsert fails midway.
func (s *VectorStore) DeleteByPairIDs(ctx context.Context, pairIDs []string) error {
	if len(pairIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM pair_embeddings WHERE pair_id IN (?)`, pairIDs)
	if err != nil {
		return fmt.Errorf("failed to build embedding delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return nil
}

// Count returns the number of stored embeddings.
func (s *VectorStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM pair_embeddings`); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}
