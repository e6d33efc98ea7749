package nodes

import (
	"context"
	"log/slog"
	"time"

	"github.com/replyworks/sage/pkg/cache"
	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
)

// normalizeNode derives the canonical cache key from the question.
type normalizeNode struct{}

func newNormalize(_ Deps, _ *config.Config) pipeline.Node { return &normalizeNode{} }

func (n *normalizeNode) Name() string { return "normalize" }

func (n *normalizeNode) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs:    []string{pipeline.FieldQuestion},
		GuaranteedOutputs: []string{pipeline.FieldNormalizedKey},
	}
}

func (n *normalizeNode) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	return pipeline.Patch{pipeline.FieldNormalizedKey: cache.Normalize(st.Question)}, nil
}

// cacheLookup probes the answer cache. When the semantic index is enabled
// the query is embedded up front so the probe and every later consumer share
// one embedding. A hit jumps past retrieval and generation to session_store:
// the cached turn still lands in the transcript and the record archive.
type cacheLookup struct {
	cache    *cache.AnswerCache
	provider llm.Provider
	cfg      *config.CacheConfig
	logger   *slog.Logger
}

func newCacheLookup(deps Deps, cfg *config.Config) pipeline.Node {
	return &cacheLookup{
		cache:    deps.Cache,
		provider: deps.Provider,
		cfg:      cfg.Cache,
		logger:   slog.With("component", "node", "node", "cache_lookup"),
	}
}

func (n *cacheLookup) Name() string { return "cache_lookup" }

func (n *cacheLookup) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs:    []string{pipeline.FieldQuestion, pipeline.FieldNormalizedKey},
		GuaranteedOutputs: []string{pipeline.FieldCacheHit},
		ConditionalOutputs: []string{
			pipeline.FieldCachedAnswer,
			pipeline.FieldAnswer,
			pipeline.FieldConfidence,
			pipeline.FieldSources,
			pipeline.FieldRouteAction,
			pipeline.FieldQueryEmbedding,
		},
	}
}

func (n *cacheLookup) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	var embedding []float32
	if n.cfg.On() && n.cfg.Semantic() {
		vecs, err := n.provider.Embed(ctx, []string{st.Question})
		if err != nil {
			n.logger.Warn("query embedding failed, exact lookup only", "error", err)
		} else if len(vecs) == 1 {
			embedding = vecs[0]
		}
	}

	entry, semantic, err := n.cache.Lookup(ctx, st.NormalizedKey, embedding)
	if err != nil {
		n.logger.Warn("cache lookup failed, treating as miss", "error", err)
		entry = nil
	}

	patch := pipeline.Patch{pipeline.FieldCacheHit: entry != nil}
	if len(embedding) > 0 {
		patch[pipeline.FieldQueryEmbedding] = embedding
	}
	if entry == nil {
		return patch, nil
	}

	if semantic {
		n.logger.Debug("semantic cache hit", "key", entry.Key)
	}
	sources := make([]models.Source, len(entry.PairIDs))
	for i, id := range entry.PairIDs {
		sources[i] = models.Source{PairID: id, Relevance: entry.Confidence}
	}
	patch[pipeline.FieldCachedAnswer] = entry
	patch[pipeline.FieldAnswer] = entry.Answer
	patch[pipeline.FieldConfidence] = entry.Confidence
	patch[pipeline.FieldSources] = sources
	patch[pipeline.FieldRouteAction] = models.ActionAutoReply
	return patch, nil
}

func (n *cacheLookup) Branch(st *pipeline.State) (string, bool) {
	return "session_store", st.CacheHit
}

// cacheStore writes the finished answer back to the cache. It only applies
// to auto-replied, unblocked queries that were not themselves served from
// the cache; the confidence floor is enforced by the cache itself.
type cacheStore struct {
	cache  *cache.AnswerCache
	logger *slog.Logger
}

func newCacheStore(deps Deps, _ *config.Config) pipeline.Node {
	return &cacheStore{
		cache:  deps.Cache,
		logger: slog.With("component", "node", "node", "cache_store"),
	}
}

func (n *cacheStore) Name() string { return "cache_store" }

func (n *cacheStore) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{
			pipeline.FieldQuestion,
			pipeline.FieldNormalizedKey,
			pipeline.FieldAnswer,
			pipeline.FieldConfidence,
		},
		OptionalInputs: []string{pipeline.FieldSources, pipeline.FieldQueryEmbedding},
	}
}

func (n *cacheStore) Applies(st *pipeline.State) bool {
	return st.RouteAction == models.ActionAutoReply &&
		!st.Blocked &&
		!st.CacheHit &&
		st.Has(pipeline.FieldNormalizedKey) &&
		st.Has(pipeline.FieldAnswer) &&
		st.Has(pipeline.FieldConfidence)
}

func (n *cacheStore) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	// A cancelled query must not leave a cache entry behind.
	if ctx.Err() != nil {
		return pipeline.Patch{}, nil
	}
	pairIDs := make([]string, len(st.Sources))
	for i, src := range st.Sources {
		pairIDs[i] = src.PairID
	}
	entry := &models.CacheEntry{
		Key:        st.NormalizedKey,
		Query:      st.Question,
		Answer:     st.Answer,
		PairIDs:    pairIDs,
		Confidence: st.Confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if err := n.cache.Store(ctx, entry, st.QueryEmbedding); err != nil {
		n.logger.Warn("answer cache write failed", "key", entry.Key, "error", err)
	}
	return pipeline.Patch{}, nil
}
