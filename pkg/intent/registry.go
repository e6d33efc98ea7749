// Package intent maintains the category/intent registry: an immutable
// snapshot of the taxonomy carried by the committed corpus, with one
// exemplar centroid per intent for nearest-centroid classification.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/replyworks/sage/pkg/metrics"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/similarity"
)

// PairLister loads the active corpus the snapshot is built from.
type PairLister interface {
	ListActive(ctx context.Context) ([]models.QAPair, error)
}

// EmbeddingLister batch-loads stored pair embeddings by pair id.
type EmbeddingLister interface {
	ListEmbeddings(ctx context.Context, pairIDs []string) (map[string][]float32, error)
}

// Reindexer is rebuilt alongside the snapshot so lexical search always
// reflects the same corpus generation. *search.LexicalIndex satisfies it.
type Reindexer interface {
	Rebuild(pairs []models.QAPair)
}

// Intent is one taxonomy leaf with its exemplar data.
type Intent struct {
	Name string
	// Examples holds up to a handful of member questions, used by
	// cluster naming during ingestion.
	Examples []string
	// Centroid is the mean of the member pairs' stored embeddings;
	// nil when no member has an embedding yet.
	Centroid []float32
	// Pairs is the member count.
	Pairs int
}

// Category groups intents. Order within Intents is stable (by name).
type Category struct {
	Name    string
	Intents []Intent
	Pairs   int
}

// Snapshot is one immutable generation of the registry. It is shared by
// reference and must never be mutated after publication.
type Snapshot struct {
	Categories []Category
	PairCount  int
	BuiltAt    time.Time
}

// Match is a nearest-centroid classification result.
type Match struct {
	Category   string
	Intent     string
	Confidence float64
}

const maxExamplesPerIntent = 5

// Registry holds the current snapshot behind an atomic pointer. Reads
// are lock-free; rebuilds are deduplicated so concurrent refresh
// triggers share one corpus scan.
type Registry struct {
	pairs      PairLister
	embeddings EmbeddingLister
	reindexers []Reindexer

	snapshot atomic.Pointer[Snapshot]
	rebuilds singleflight.Group
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Call Rebuild before first use;
// until then Current returns an empty snapshot.
func NewRegistry(pairs PairLister, embeddings EmbeddingLister, reindexers ...Reindexer) *Registry {
	r := &Registry{
		pairs:      pairs,
		embeddings: embeddings,
		reindexers: reindexers,
		logger:     slog.Default().With("component", "intent_registry"),
	}
	r.snapshot.Store(&Snapshot{BuiltAt: time.Time{}})
	return r
}

// Current returns the latest published snapshot. Never nil.
func (r *Registry) Current() *Snapshot {
	return r.snapshot.Load()
}

// Rebuild scans the active corpus, recomputes the snapshot and the
// attached lexical indexes, and publishes the result. Concurrent calls
// collapse into a single scan; all callers get that scan's error.
func (r *Registry) Rebuild(ctx context.Context) (*Snapshot, error) {
	v, err, _ := r.rebuilds.Do("rebuild", func() (any, error) {
		return r.rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (r *Registry) rebuild(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	pairs, err := r.pairs.ListActive(ctx)
	if err != nil {
		metrics.RegistryRefreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list active pairs: %w", err)
	}

	ids := make([]string, len(pairs))
	for i := range pairs {
		ids[i] = pairs[i].ID
	}
	vectors, err := r.embeddings.ListEmbeddings(ctx, ids)
	if err != nil {
		metrics.RegistryRefreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list pair embeddings: %w", err)
	}

	snap := buildSnapshot(pairs, vectors)
	for _, idx := range r.reindexers {
		idx.Rebuild(pairs)
	}
	r.snapshot.Store(snap)
	metrics.RegistryRefreshes.WithLabelValues("ok").Inc()

	r.logger.Info("Registry snapshot rebuilt",
		"pairs", snap.PairCount,
		"categories", len(snap.Categories),
		"duration", time.Since(start))
	return snap, nil
}

func buildSnapshot(pairs []models.QAPair, vectors map[string][]float32) *Snapshot {
	type key struct{ category, intent string }
	members := make(map[key][]*models.QAPair)
	for i := range pairs {
		p := &pairs[i]
		k := key{p.Category, p.Intent}
		members[k] = append(members[k], p)
	}

	byCategory := make(map[string][]Intent)
	for k, ps := range members {
		in := Intent{Name: k.intent, Pairs: len(ps)}
		var vecs [][]float32
		for _, p := range ps {
			if len(in.Examples) < maxExamplesPerIntent {
				in.Examples = append(in.Examples, p.Question)
			}
			if v, ok := vectors[p.ID]; ok {
				vecs = append(vecs, v)
			}
		}
		if len(vecs) > 0 {
			in.Centroid = similarity.Centroid(vecs)
		}
		byCategory[k.category] = append(byCategory[k.category], in)
	}

	snap := &Snapshot{PairCount: len(pairs), BuiltAt: time.Now().UTC()}
	for name, intents := range byCategory {
		sort.Slice(intents, func(i, j int) bool { return intents[i].Name < intents[j].Name })
		cat := Category{Name: name, Intents: intents}
		for _, in := range intents {
			cat.Pairs += in.Pairs
		}
		snap.Categories = append(snap.Categories, cat)
	}
	sort.Slice(snap.Categories, func(i, j int) bool {
		return snap.Categories[i].Name < snap.Categories[j].Name
	})
	return snap
}

// Match classifies a question embedding by nearest intent centroid.
// Confidence is the cosine similarity to the winning centroid; ok is
// false when the snapshot has no centroids at all.
func (s *Snapshot) Match(embedding []float32) (Match, bool) {
	var (
		best  Match
		found bool
	)
	if len(embedding) == 0 {
		return best, false
	}
	for ci := range s.Categories {
		cat := &s.Categories[ci]
		for ii := range cat.Intents {
			in := &cat.Intents[ii]
			if len(in.Centroid) == 0 {
				continue
			}
			score := similarity.Cosine(embedding, in.Centroid)
			if !found || score > best.Confidence {
				best = Match{Category: cat.Name, Intent: in.Name, Confidence: score}
				found = true
			}
		}
	}
	return best, found
}

// CategoryNames returns the ordered category list.
func (s *Snapshot) CategoryNames() []string {
	names := make([]string, len(s.Categories))
	for i, c := range s.Categories {
		names[i] = c.Name
	}
	return names
}

// FindIntent looks up an intent by exact question match over the stored
// examples. Used by cluster naming before falling back to centroids.
func (s *Snapshot) FindIntent(question string) (category, intent string, ok bool) {
	for _, c := range s.Categories {
		for _, in := range c.Intents {
			for _, ex := range in.Examples {
				if ex == question {
					return c.Name, in.Name, true
				}
			}
		}
	}
	return "", "", false
}

// NearestIntent returns the intent whose centroid is closest to the
// embedding together with the similarity, ok false when no centroid
// exists.
func (s *Snapshot) NearestIntent(embedding []float32) (category, intent string, score float64, ok bool) {
	m, found := s.Match(embedding)
	if !found {
		return "", "", 0, false
	}
	return m.Category, m.Intent, m.Confidence, true
}
