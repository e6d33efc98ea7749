package search

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/store"
)

// VectorSearcher is the vector leg. *store.VectorStore satisfies it.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int, filter *models.SearchFilter) ([]store.VectorHit, error)
}

// PairLoader hydrates fused candidate ids. *store.PairStore satisfies it.
type PairLoader interface {
	GetMany(ctx context.Context, ids []string) ([]models.QAPair, error)
}

// Embedder embeds query variants when the caller has no embeddings yet.
// llm.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Input is one hybrid retrieval request. Queries holds the original
// question plus any expansions or translations; Embeddings, when present,
// must be parallel to Queries (otherwise the embedder is invoked).
// FilterConfidence gates the category filter: below the configured floor
// the category is advisory only and is dropped. Explicit caller-supplied
// filters should pass 1.
type Input struct {
	Queries          []string
	Embeddings       [][]float32
	Filter           *models.SearchFilter
	FilterConfidence float64
	TopK             int
}

// Hybrid runs vector and lexical retrieval concurrently and fuses the
// rankings. Reranking is a separate stage (Reranker).
type Hybrid struct {
	vectors  VectorSearcher
	pairs    PairLoader
	lexical  *LexicalIndex
	embedder Embedder
	cfg      *config.SearchConfig
	logger   *slog.Logger
}

func NewHybrid(vectors VectorSearcher, pairs PairLoader, lexical *LexicalIndex, embedder Embedder, cfg *config.SearchConfig) *Hybrid {
	return &Hybrid{
		vectors:  vectors,
		pairs:    pairs,
		lexical:  lexical,
		embedder: embedder,
		cfg:      cfg,
		logger:   slog.With("component", "hybrid_search"),
	}
}

// Search retrieves fused candidates for the query set, hop 0, best first.
// An empty result under a category filter triggers one unfiltered retry
// before giving up; a genuinely empty corpus yields an empty slice, which
// downstream routing turns into an escalation.
func (h *Hybrid) Search(ctx context.Context, in Input) ([]models.ScoredPair, error) {
	if len(in.Queries) == 0 {
		return nil, fmt.Errorf("hybrid search requires at least one query")
	}
	topK := in.TopK
	if topK <= 0 {
		topK = h.cfg.TopK
	}

	embeddings := in.Embeddings
	if len(embeddings) != len(in.Queries) {
		var err error
		embeddings, err = h.embedder.Embed(ctx, in.Queries)
		if err != nil {
			return nil, fmt.Errorf("failed to embed queries: %w", err)
		}
	}

	filter := h.effectiveFilter(in)
	fused, err := h.runLegs(ctx, in.Queries, embeddings, filter, topK)
	if err != nil {
		return nil, err
	}

	// Safety fallback: a trusted-but-wrong category filter must not turn an
	// answerable question into an escalation.
	if len(fused) == 0 && filter != nil && filter.Category != "" {
		h.logger.Info("category filter produced no candidates, retrying unfiltered",
			"category", filter.Category)
		unfiltered := *filter
		unfiltered.Category = ""
		unfiltered.Intent = ""
		fused, err = h.runLegs(ctx, in.Queries, embeddings, &unfiltered, topK)
		if err != nil {
			return nil, err
		}
	}
	if len(fused) == 0 {
		return nil, nil
	}

	keep := topK
	if h.cfg.RerankTopN > keep {
		keep = h.cfg.RerankTopN
	}
	if len(fused) > keep {
		fused = fused[:keep]
	}
	return h.hydrate(ctx, fused)
}

func (h *Hybrid) effectiveFilter(in Input) *models.SearchFilter {
	if in.Filter == nil {
		return nil
	}
	f := *in.Filter
	if f.Category != "" && in.FilterConfidence < h.cfg.CategoryConfidenceFloor {
		f.Category = ""
		f.Intent = ""
	}
	if f == (models.SearchFilter{}) {
		return nil
	}
	return &f
}

// runLegs executes the vector and lexical legs of every query variant
// concurrently and fuses the results. Each goroutine writes only its own
// slot, so the slices need no locking.
func (h *Hybrid) runLegs(ctx context.Context, queries []string, embeddings [][]float32, filter *models.SearchFilter, topK int) ([]FusedHit, error) {
	// Fetch deeper than topK so fusion sees enough of both rankings for
	// rank positions to matter.
	legLimit := topK
	if h.cfg.RerankTopN > legLimit {
		legLimit = h.cfg.RerankTopN
	}
	legLimit *= 2

	legs := make([]legResults, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i := range queries {
		g.Go(func() error {
			hits, err := h.vectors.Search(gctx, embeddings[i], legLimit, filter)
			if err != nil {
				return fmt.Errorf("vector search failed: %w", err)
			}
			legs[i].vector = hits
			return nil
		})
		g.Go(func() error {
			legs[i].lexical = h.lexical.Search(queries[i], filter, legLimit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fuse(legs, h.cfg.FusionAlpha, h.cfg.RRFK), nil
}

func (h *Hybrid) hydrate(ctx context.Context, fused []FusedHit) ([]models.ScoredPair, error) {
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.PairID
	}
	pairs, err := h.pairs.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate pairs: %w", err)
	}
	byID := make(map[string]models.QAPair, len(pairs))
	for _, p := range pairs {
		byID[p.ID] = p
	}

	out := make([]models.ScoredPair, 0, len(fused))
	for _, f := range fused {
		p, ok := byID[f.PairID]
		if !ok {
			// Pair archived between index refresh and hydration.
			continue
		}
		out = append(out, models.ScoredPair{
			Pair:        p,
			Score:       f.Score,
			VectorScore: f.VectorScore,
			FusionRank:  len(out) + 1,
			Hop:         0,
		})
	}
	return out, nil
}
