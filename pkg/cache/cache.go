package cache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/kv"
	"github.com/replyworks/sage/pkg/metrics"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/similarity"
)

const (
	entryKeyPrefix = "answer:"
	hitsKeyPrefix  = "answer:hits:"
)

// AnswerCache stores final answers keyed by the normalized question.
// Lookups are exact first; when the semantic index is enabled, a miss is
// retried against an in-process LRU of (key, query embedding) pairs using
// cosine similarity. Cache failures are never fatal: every error path
// degrades to a miss.
type AnswerCache struct {
	kv     *kv.Store
	cfg    *config.CacheConfig
	index  *lru.Cache[string, []float32]
	logger *slog.Logger
}

// New builds the cache. The semantic index is only allocated when enabled;
// its size is bounded by cfg.MaxEntries with LRU eviction.
func New(kvStore *kv.Store, cfg *config.CacheConfig) (*AnswerCache, error) {
	c := &AnswerCache{
		kv:     kvStore,
		cfg:    cfg,
		logger: slog.With("component", "answer_cache"),
	}
	if cfg.Semantic() {
		size := cfg.MaxEntries
		if size <= 0 {
			size = 10000
		}
		index, err := lru.New[string, []float32](size)
		if err != nil {
			return nil, err
		}
		c.index = index
	}
	return c, nil
}

// Lookup returns the cached entry for the normalized key, trying exact
// match first and the semantic index second. The second return reports
// whether the hit was semantic. A nil entry means miss.
func (c *AnswerCache) Lookup(ctx context.Context, normKey string, queryEmbedding []float32) (*models.CacheEntry, bool, error) {
	if !c.cfg.On() || normKey == "" {
		metrics.CacheRequests.WithLabelValues("bypass").Inc()
		return nil, false, nil
	}

	entry, err := c.get(ctx, normKey)
	if err != nil {
		c.logger.Warn("cache lookup degraded to miss", "error", err)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if entry != nil {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		c.bumpHits(normKey)
		return entry, false, nil
	}

	if c.index != nil && len(queryEmbedding) > 0 {
		if key, ok := c.nearestKey(queryEmbedding); ok {
			entry, err := c.get(ctx, key)
			if err != nil {
				c.logger.Warn("semantic cache lookup degraded to miss", "error", err)
			} else if entry != nil {
				metrics.CacheRequests.WithLabelValues("semantic_hit").Inc()
				c.bumpHits(key)
				return entry, true, nil
			}
			// Entry expired out of Redis; drop the stale index row.
			c.index.Remove(key)
		}
	}

	metrics.CacheRequests.WithLabelValues("miss").Inc()
	return nil, false, nil
}

// Store writes the entry under its normalized key. Entries below the
// configured confidence floor are refused; callers additionally gate on
// action == auto_reply. The embedding feeds the semantic index and may be
// nil when semantic lookup is off.
func (c *AnswerCache) Store(ctx context.Context, entry *models.CacheEntry, embedding []float32) error {
	if !c.cfg.On() || entry == nil || entry.Key == "" {
		return nil
	}
	if entry.Confidence < c.cfg.MinConfidence {
		c.logger.Debug("answer below cache confidence floor",
			"key", entry.Key, "confidence", entry.Confidence)
		return nil
	}
	if err := c.kv.SetJSON(ctx, entryKeyPrefix+entry.Key, entry, c.cfg.TTL); err != nil {
		return err
	}
	if c.index != nil && len(embedding) > 0 {
		c.index.Add(entry.Key, embedding)
	}
	return nil
}

// Invalidate removes entries by normalized key.
func (c *AnswerCache) Invalidate(ctx context.Context, normKeys ...string) error {
	keys := make([]string, 0, 2*len(normKeys))
	for _, k := range normKeys {
		keys = append(keys, entryKeyPrefix+k, hitsKeyPrefix+k)
		if c.index != nil {
			c.index.Remove(k)
		}
	}
	return c.kv.Del(ctx, keys...)
}

// HitCount returns the recorded hits for a key. Counts are advisory: they
// are bumped fire-and-forget after each hit.
func (c *AnswerCache) HitCount(ctx context.Context, normKey string) (int64, error) {
	raw, err := c.kv.Get(ctx, hitsKeyPrefix+normKey)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (c *AnswerCache) get(ctx context.Context, normKey string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	err := c.kv.GetJSON(ctx, entryKeyPrefix+normKey, &entry)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// nearestKey scans the semantic index for the closest stored embedding at
// or above the configured threshold. The index is bounded, so the linear
// scan stays cheap.
func (c *AnswerCache) nearestKey(queryEmbedding []float32) (string, bool) {
	var bestKey string
	bestSim := c.cfg.SemanticThreshold
	found := false
	for _, key := range c.index.Keys() {
		emb, ok := c.index.Peek(key)
		if !ok {
			continue
		}
		sim := similarity.Cosine(queryEmbedding, emb)
		if sim > bestSim || (!found && sim == bestSim) {
			bestKey, bestSim, found = key, sim, true
		}
	}
	return bestKey, found
}

// bumpHits increments the hit counter without blocking the query path.
func (c *AnswerCache) bumpHits(normKey string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := c.kv.Incr(ctx, hitsKeyPrefix+normKey); err != nil {
			c.logger.Debug("hit count bump failed", "key", normKey, "error", err)
		}
	}()
}
