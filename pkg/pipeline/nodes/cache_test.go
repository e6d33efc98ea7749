package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
)

func TestNormalizeProducesStableKey(t *testing.T) {
	fx := newFixture(t)
	node := buildNode(t, fx, "normalize")

	variants := []string{
		"How do I reset my password?",
		"how do i reset my password",
		"  How DO I reset my password!!  ",
	}
	keys := make(map[string]struct{})
	for _, q := range variants {
		patch, err := node.Run(context.Background(), queryState(q))
		require.NoError(t, err)
		key := patch[pipeline.FieldNormalizedKey].(string)
		require.NotEmpty(t, key)
		keys[key] = struct{}{}
	}
	assert.Len(t, keys, 1, "every phrasing variant should normalize to one key")
}

func TestCacheRoundTrip(t *testing.T) {
	fx := newFixture(t)
	lookup := buildNode(t, fx, "cache_lookup")
	storeNode := buildNode(t, fx, "cache_store")
	normalize := buildNode(t, fx, "normalize")

	ctx := context.Background()
	answer := "Use the forgot password link on the login page."

	first := queryState("How do I reset my password?")
	patch, err := normalize.Run(ctx, first)
	require.NoError(t, err)
	seed(t, first, patch)

	patch, err = lookup.Run(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, false, patch[pipeline.FieldCacheHit])
	assert.NotContains(t, patch, pipeline.FieldAnswer)

	seed(t, first, map[string]any{
		pipeline.FieldAnswer:      answer,
		pipeline.FieldConfidence:  0.9,
		pipeline.FieldRouteAction: models.ActionAutoReply,
		pipeline.FieldSources:     []models.Source{{PairID: "p1", Relevance: 0.93}},
	})
	require.True(t, storeNode.(pipeline.Gate).Applies(first))
	_, err = storeNode.Run(ctx, first)
	require.NoError(t, err)

	// A differently phrased duplicate normalizes to the same key.
	second := queryState("how do i reset my password")
	patch, err = normalize.Run(ctx, second)
	require.NoError(t, err)
	seed(t, second, patch)

	patch, err = lookup.Run(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, true, patch[pipeline.FieldCacheHit])
	assert.Equal(t, answer, patch[pipeline.FieldAnswer])
	assert.Equal(t, 0.9, patch[pipeline.FieldConfidence])
	assert.Equal(t, models.ActionAutoReply, patch[pipeline.FieldRouteAction])

	sources := patch[pipeline.FieldSources].([]models.Source)
	require.Len(t, sources, 1)
	assert.Equal(t, "p1", sources[0].PairID)
	assert.Equal(t, 0.9, sources[0].Relevance)

	seed(t, second, map[string]any{pipeline.FieldCacheHit: true})
	target, jump := lookup.(pipeline.Brancher).Branch(second)
	assert.True(t, jump)
	assert.Equal(t, "archive", target)
}

func TestCacheStoreSkipsEscalatedAndBlockedQueries(t *testing.T) {
	fx := newFixture(t)
	node := buildNode(t, fx, "cache_store")
	gate := node.(pipeline.Gate)

	escalated := queryState("How do I reset my password?")
	seed(t, escalated, map[string]any{
		pipeline.FieldNormalizedKey: "how do i reset my password",
		pipeline.FieldAnswer:        "a human will help",
		pipeline.FieldConfidence:    0.9,
		pipeline.FieldRouteAction:   models.ActionEscalate,
	})
	assert.False(t, gate.Applies(escalated))

	blocked := queryState("blocked question")
	seed(t, blocked, map[string]any{
		pipeline.FieldNormalizedKey: "blocked question",
		pipeline.FieldAnswer:        "refused",
		pipeline.FieldConfidence:    0.9,
		pipeline.FieldRouteAction:   models.ActionAutoReply,
		pipeline.FieldBlocked:       true,
	})
	assert.False(t, gate.Applies(blocked))
}

func TestCacheStoreIgnoresCancelledContext(t *testing.T) {
	fx := newFixture(t)
	node := buildNode(t, fx, "cache_store")

	st := queryState("How do I reset my password?")
	seed(t, st, map[string]any{
		pipeline.FieldNormalizedKey: "how do i reset my password",
		pipeline.FieldAnswer:        "Use the forgot password link.",
		pipeline.FieldConfidence:    0.9,
		pipeline.FieldRouteAction:   models.ActionAutoReply,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := node.Run(ctx, st)
	require.NoError(t, err)
	assert.Empty(t, fx.redis.Keys())
}

func TestCacheLookupSemanticProbeEmbedsOnce(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.SemanticEnabled = boolPtr(true)
	cfg.Cache.SemanticThreshold = 0.92
	fx := newFixtureWithConfig(t, cfg)
	node := buildNode(t, fx, "cache_lookup")

	st := queryState("How do I reset my password?")
	seed(t, st, map[string]any{pipeline.FieldNormalizedKey: "how do i reset my password"})

	patch, err := node.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, false, patch[pipeline.FieldCacheHit])
	assert.Contains(t, patch, pipeline.FieldQueryEmbedding)
	assert.Len(t, fx.provider.EmbedCalls, 1)
}
