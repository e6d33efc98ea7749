package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/models"
)

func scored(id string, score float64, hop int, question, answer string) models.ScoredPair {
	return models.ScoredPair{
		Pair:  mkPair(id, question, answer, "c", "i"),
		Score: score,
		Hop:   hop,
	}
}

func TestMergeContextOrderAndMarkers(t *testing.T) {
	pairs := []models.ScoredPair{
		scored("p1", 0.9, 0, "Primary question?", "Primary answer."),
		scored("p2", 0.5, 1, "Hop question?", "Hop answer."),
		scored("p3", 0.7, 0, "Second question?", "Second answer."),
	}

	merged := MergeContext(pairs, 1000)
	blocks := strings.Split(merged, "\n\n")
	require.Len(t, blocks, 3)

	assert.True(t, strings.HasPrefix(blocks[0], "[primary] Primary question?"))
	assert.True(t, strings.HasPrefix(blocks[1], "[primary] Second question?"))
	assert.True(t, strings.HasPrefix(blocks[2], "[hop1] Hop question?"))
	assert.Contains(t, blocks[0], "Primary answer.")
}

func TestMergeContextDropsHopPairsFirst(t *testing.T) {
	long := strings.Repeat("word ", 30)
	pairs := []models.ScoredPair{
		scored("primary", 0.9, 0, "Primary question?", long),
		scored("initial-low", 0.3, 0, "Initial low question?", long),
		scored("hop-high", 0.8, 1, "Hop high question?", long),
		scored("hop-low", 0.6, 2, "Hop low question?", long),
	}

	// Room for roughly two blocks: both hop pairs must go before the
	// low-scored initial pair does.
	merged := MergeContext(pairs, 70)
	assert.Contains(t, merged, "Primary question?")
	assert.Contains(t, merged, "Initial low question?")
	assert.NotContains(t, merged, "Hop high question?")
	assert.NotContains(t, merged, "Hop low question?")
}

func TestMergeContextEvictsLowestScoreFirst(t *testing.T) {
	long := strings.Repeat("word ", 30)
	pairs := []models.ScoredPair{
		scored("primary", 0.9, 0, "Primary question?", long),
		scored("hop-high", 0.8, 1, "Hop high question?", long),
		scored("hop-low", 0.2, 1, "Hop low question?", long),
	}

	merged := MergeContext(pairs, 70)
	assert.Contains(t, merged, "Hop high question?")
	assert.NotContains(t, merged, "Hop low question?")
}

func TestMergeContextPrimaryNeverDropped(t *testing.T) {
	long := strings.Repeat("word ", 50)
	pairs := []models.ScoredPair{
		scored("primary", 0.9, 0, "Primary question?", long),
		scored("hop", 0.8, 1, "Hop question?", "short answer"),
	}

	// Budget smaller than the primary alone: it is still included whole.
	merged := MergeContext(pairs, 10)
	assert.Contains(t, merged, "Primary question?")
	assert.Contains(t, merged, strings.TrimSpace(long))
	assert.NotContains(t, merged, "Hop question?")
}

func TestMergeContextProtectsBestInitialPair(t *testing.T) {
	long := strings.Repeat("word ", 30)
	pairs := []models.ScoredPair{
		// The hop pair outscores every initial pair; the protected primary
		// is still the best hop-0 pair.
		scored("hop", 0.95, 1, "Hop question?", long),
		scored("initial", 0.7, 0, "Initial question?", long),
	}

	merged := MergeContext(pairs, 40)
	assert.Contains(t, merged, "Initial question?")
	assert.NotContains(t, merged, "Hop question?")
}

func TestMergeContextEmpty(t *testing.T) {
	assert.Empty(t, MergeContext(nil, 100))
}
