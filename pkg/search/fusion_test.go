package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/store"
)

func TestFuseWeighsLegsByAlpha(t *testing.T) {
	legs := []legResults{{
		vector:  []store.VectorHit{{PairID: "vec-top", Score: 0.95}, {PairID: "shared", Score: 0.80}},
		lexical: []LexicalHit{{PairID: "lex-top", Score: 9.1}, {PairID: "shared", Score: 7.0}},
	}}

	fused := fuse(legs, 0.7, 60)
	require.Len(t, fused, 3)

	// shared: 0.7/62 + 0.3/62 = 1/62 beats either single-leg rank-1 hit.
	assert.Equal(t, "shared", fused[0].PairID)
	// With alpha 0.7 the vector rank-1 beats the lexical rank-1.
	assert.Equal(t, "vec-top", fused[1].PairID)
	assert.Equal(t, "lex-top", fused[2].PairID)

	assert.InDelta(t, 1.0/62.0, fused[0].Score, 1e-12)
	assert.InDelta(t, 0.7/61.0, fused[1].Score, 1e-12)
	assert.InDelta(t, 0.3/61.0, fused[2].Score, 1e-12)
}

func TestFuseKeepsMaxAcrossVariants(t *testing.T) {
	legs := []legResults{
		{vector: []store.VectorHit{{PairID: "p", Score: 0.5}}},                                     // rank 1
		{vector: []store.VectorHit{{PairID: "other", Score: 0.9}, {PairID: "p", Score: 0.88}}},     // rank 2
	}

	fused := fuse(legs, 1.0, 60)
	require.Len(t, fused, 2)

	var p FusedHit
	for _, f := range fused {
		if f.PairID == "p" {
			p = f
		}
	}
	// Max fused score wins (rank 1 from the first variant), and the best
	// vector score seen anywhere is retained for tie-breaking.
	assert.InDelta(t, 1.0/61.0, p.Score, 1e-12)
	assert.InDelta(t, 0.88, p.VectorScore, 1e-12)
}

func TestFuseTieBreaksByVectorScoreThenID(t *testing.T) {
	legs := []legResults{{
		vector: []store.VectorHit{{PairID: "pa", Score: 0.6}},
	}, {
		vector: []store.VectorHit{{PairID: "pb", Score: 0.9}},
	}}

	// Both pairs are rank 1 in their variant: identical fused scores.
	fused := fuse(legs, 1.0, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, "pb", fused[0].PairID, "higher vector score wins the tie")

	// Identical vector scores fall back to id order.
	legs[1].vector[0].Score = 0.6
	fused = fuse(legs, 1.0, 60)
	assert.Equal(t, "pa", fused[0].PairID)
}

func TestFuseLexicalOnly(t *testing.T) {
	legs := []legResults{{
		lexical: []LexicalHit{{PairID: "p1", Score: 5}, {PairID: "p2", Score: 3}},
	}}

	fused := fuse(legs, 0.7, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, "p1", fused[0].PairID)
	assert.Zero(t, fused[0].VectorScore)
}
