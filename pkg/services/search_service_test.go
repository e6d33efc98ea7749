package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/search"
	"github.com/replyworks/sage/pkg/store"
)

type searchVectorsFake struct {
	hits   []store.VectorHit
	corpus map[string]models.QAPair
	err    error
}

func (f *searchVectorsFake) Search(_ context.Context, _ []float32, topK int, filter *models.SearchFilter) ([]store.VectorHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]store.VectorHit, 0)
	for _, h := range f.hits {
		p := f.corpus[h.PairID]
		if filter != nil && filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if len(out) == topK {
			break
		}
		out = append(out, h)
	}
	return out, nil
}

type searchLoaderFake struct {
	corpus map[string]models.QAPair
}

func (f *searchLoaderFake) GetMany(_ context.Context, ids []string) ([]models.QAPair, error) {
	out := make([]models.QAPair, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.corpus[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func searchServiceCorpus() []models.QAPair {
	mk := func(id, q, a, category, intent string) models.QAPair {
		return models.QAPair{
			ID: id, Question: q, Answer: a,
			Category: category, Intent: intent,
			Language: models.LanguageEnglish,
			Status:   models.PairStatusActive,
		}
	}
	return []models.QAPair{
		mk("p1", "How do I reset my password?",
			"Use the forgot password link on the login page.", "account", "password_reset"),
		mk("p2", "How do I change my email address?",
			"Open account settings and edit the email field.", "account", "email_change"),
		mk("p3", "How do I update my card?",
			"Open billing settings and replace the card on file.", "billing", "update_payment"),
		mk("p4", "How do I track my order?",
			"Use the tracking link in your confirmation email.", "shipping", "order_tracking"),
	}
}

func setupTestSearchService(t *testing.T) (*SearchService, *searchVectorsFake) {
	t.Helper()

	corpus := map[string]models.QAPair{}
	for _, p := range searchServiceCorpus() {
		corpus[p.ID] = p
	}
	vectors := &searchVectorsFake{
		corpus: corpus,
		hits: []store.VectorHit{
			{PairID: "p1", Score: 0.91},
			{PairID: "p2", Score: 0.67},
			{PairID: "p3", Score: 0.44},
			{PairID: "p4", Score: 0.32},
		},
	}
	lexical := search.NewLexicalIndex()
	lexical.Rebuild(searchServiceCorpus())

	cfg := config.DefaultConfig().Search
	hybrid := search.NewHybrid(vectors, &searchLoaderFake{corpus: corpus}, lexical, llm.NewFake(32), cfg)
	return NewSearchService(hybrid, cfg), vectors
}

func TestNewSearchService(t *testing.T) {
	assert.Panics(t, func() { NewSearchService(nil, config.DefaultConfig().Search) })
}

func TestSearchService_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("returns fused ranked pairs", func(t *testing.T) {
		svc, _ := setupTestSearchService(t)

		out, err := svc.Search(ctx, models.SearchRequest{Query: "reset my password"})
		require.NoError(t, err)
		require.NotEmpty(t, out)
		assert.Equal(t, "p1", out[0].Pair.ID, "both legs agree on the password pair")
		for _, doc := range out {
			assert.NotEmpty(t, doc.Pair.Answer)
		}
	})

	t.Run("truncates to the requested top_k", func(t *testing.T) {
		svc, _ := setupTestSearchService(t)

		out, err := svc.Search(ctx, models.SearchRequest{Query: "reset my password", TopK: 1})
		require.NoError(t, err)
		assert.Len(t, out, 1)
	})

	t.Run("honors an explicit category filter", func(t *testing.T) {
		svc, _ := setupTestSearchService(t)

		out, err := svc.Search(ctx, models.SearchRequest{
			Query:  "update my card",
			Filter: &models.SearchFilter{Category: "billing"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, out)
		for _, doc := range out {
			assert.Equal(t, "billing", doc.Pair.Category)
		}
	})

	t.Run("validates the query", func(t *testing.T) {
		svc, _ := setupTestSearchService(t)

		_, err := svc.Search(ctx, models.SearchRequest{Query: "   "})
		var validErr *ValidationError
		require.ErrorAs(t, err, &validErr)
		assert.Equal(t, "query", validErr.Field)
	})

	t.Run("rejects negative top_k", func(t *testing.T) {
		svc, _ := setupTestSearchService(t)

		_, err := svc.Search(ctx, models.SearchRequest{Query: "q", TopK: -3})
		var validErr *ValidationError
		require.ErrorAs(t, err, &validErr)
		assert.Equal(t, "top_k", validErr.Field)
	})

	t.Run("maps retrieval failures to ErrUpstream", func(t *testing.T) {
		svc, vectors := setupTestSearchService(t)
		vectors.err = errors.New("pgvector down")

		_, err := svc.Search(ctx, models.SearchRequest{Query: "reset my password"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("an empty corpus match returns an empty slice", func(t *testing.T) {
		svc, vectors := setupTestSearchService(t)
		vectors.hits = nil

		out, err := svc.Search(ctx, models.SearchRequest{Query: "do you sell helicopters"})
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}
