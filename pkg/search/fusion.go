package search

import (
	"sort"

	"github.com/replyworks/sage/pkg/store"
)

// FusedHit is one candidate after reciprocal-rank fusion across legs.
type FusedHit struct {
	PairID      string
	Score       float64
	VectorScore float64
}

// legResults holds both legs' ranked lists for a single query variant.
type legResults struct {
	vector  []store.VectorHit
	lexical []LexicalHit
}

// fuse combines the vector and lexical rankings of every query variant with
// reciprocal-rank fusion: score = alpha/(k+vecRank) + (1-alpha)/(k+lexRank),
// ranks 1-based, absent-from-leg contributes nothing. A pair seen under
// several variants keeps its maximum fused score; its best vector score is
// retained for tie-breaking.
func fuse(legs []legResults, alpha float64, k int) []FusedHit {
	type acc struct {
		score       float64
		vectorScore float64
	}
	best := make(map[string]acc)

	for _, leg := range legs {
		scores := make(map[string]float64)
		vecScores := make(map[string]float64)
		for rank, hit := range leg.vector {
			scores[hit.PairID] += alpha / float64(k+rank+1)
			if hit.Score > vecScores[hit.PairID] {
				vecScores[hit.PairID] = hit.Score
			}
		}
		for rank, hit := range leg.lexical {
			scores[hit.PairID] += (1 - alpha) / float64(k+rank+1)
		}
		for id, s := range scores {
			a := best[id]
			if s > a.score {
				a.score = s
			}
			if vs := vecScores[id]; vs > a.vectorScore {
				a.vectorScore = vs
			}
			best[id] = a
		}
	}

	fused := make([]FusedHit, 0, len(best))
	for id, a := range best {
		fused = append(fused, FusedHit{PairID: id, Score: a.score, VectorScore: a.vectorScore})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].VectorScore != fused[j].VectorScore {
			return fused[i].VectorScore > fused[j].VectorScore
		}
		return fused[i].PairID < fused[j].PairID
	})
	return fused
}
