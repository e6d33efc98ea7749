package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/similarity"
)

// HopFetcher loads expansion candidates. *store.PairStore satisfies it.
type HopFetcher interface {
	GetMany(ctx context.Context, ids []string) ([]models.QAPair, error)
	ListByCategoryIntent(ctx context.Context, category, intent string, limit int) ([]models.QAPair, error)
}

// Expander walks the pair graph for complex questions: each hop expands the
// best not-yet-expanded pair through its see_also links and its
// category+intent neighborhood, keeping candidates that clear the relevance
// floor against the original question.
type Expander struct {
	fetcher HopFetcher
	cfg     *config.SearchConfig
	logger  *slog.Logger
}

func NewExpander(fetcher HopFetcher, cfg *config.SearchConfig) *Expander {
	return &Expander{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  slog.With("component", "multihop"),
	}
}

// Expand grows the working set up to numHops. Hop 1 is the initial
// retrieval, so numHops <= 1 returns the input untouched. The second return
// is the hop count actually used: 1 plus the expansions that added pairs.
func (e *Expander) Expand(ctx context.Context, question string, initial []models.ScoredPair, numHops int) ([]models.ScoredPair, int, error) {
	hopsUsed := 1
	if numHops <= 1 || len(initial) == 0 {
		return initial, hopsUsed, nil
	}

	qTokens := similarity.ContentTokens(question)
	working := make([]models.ScoredPair, len(initial))
	copy(working, initial)

	seen := make(map[string]struct{}, len(working))
	expanded := make(map[string]struct{})
	for _, sp := range working {
		seen[sp.Pair.ID] = struct{}{}
	}

	for hop := 1; hop < numHops; hop++ {
		pivot := bestUnexpanded(working, expanded)
		if pivot == nil {
			break
		}
		expanded[pivot.Pair.ID] = struct{}{}

		candidates, err := e.fetchNeighbors(ctx, &pivot.Pair)
		if err != nil {
			return nil, 0, err
		}

		added := 0
		for _, p := range candidates {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			rel := similarity.OverlapRatio(qTokens, similarity.ContentTokens(p.Text()))
			if rel < e.cfg.HopMinRelevance {
				continue
			}
			working = append(working, models.ScoredPair{Pair: p, Score: rel, Hop: hop})
			added++
		}
		if added == 0 {
			break
		}
		hopsUsed++
		e.logger.Debug("hop expanded working set",
			"hop", hop, "pivot", pivot.Pair.ID, "added", added)
	}
	return working, hopsUsed, nil
}

func (e *Expander) fetchNeighbors(ctx context.Context, pivot *models.QAPair) ([]models.QAPair, error) {
	var out []models.QAPair
	if len(pivot.SeeAlso) > 0 {
		linked, err := e.fetcher.GetMany(ctx, pivot.SeeAlso)
		if err != nil {
			return nil, fmt.Errorf("failed to load see_also pairs: %w", err)
		}
		out = append(out, linked...)
	}
	neighbors, err := e.fetcher.ListByCategoryIntent(ctx, pivot.Category, pivot.Intent, e.cfg.HopFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load category neighbors: %w", err)
	}
	return append(out, neighbors...), nil
}

func bestUnexpanded(working []models.ScoredPair, expanded map[string]struct{}) *models.ScoredPair {
	var best *models.ScoredPair
	for i := range working {
		if _, done := expanded[working[i].Pair.ID]; done {
			continue
		}
		if best == nil || working[i].Score > best.Score {
			best = &working[i]
		}
	}
	return best
}
