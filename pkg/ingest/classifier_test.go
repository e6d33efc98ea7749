package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/intent"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
)

type fakeSnapshots struct{ snap *intent.Snapshot }

func (f *fakeSnapshots) Current() *intent.Snapshot { return f.snap }

func testIngestConfig() *config.IngestConfig {
	return &config.IngestConfig{
		NumCategories:         2,
		IntentsPerCategory:    1,
		KMeansMaxIters:        50,
		KMeansSeed:            42,
		NamingSimilarityFloor: 0.8,
		HandoffLow:            0.25,
		HandoffHigh:           0.75,
	}
}

// topicEmbedder maps questions onto fixed axes by keyword so clustering is
// fully predictable.
func topicEmbedder(topics map[string]int) func(string) []float32 {
	return func(text string) []float32 {
		for word, ax := range topics {
			if strings.Contains(strings.ToLower(text), word) {
				return axis(ax, 8)
			}
		}
		return axis(7, 8)
	}
}

func TestKeywordHandoffScore(t *testing.T) {
	tests := []struct {
		question string
		want     float64
	}{
		{"I want a refund and a chargeback", 1.0},
		{"quiero hablar con un abogado", 0.8},
		{"where is my package", 0},
		{"refund refund refund", 0.4},
		{"sue fraud lawyer human", 1.0},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, keywordHandoffScore(tc.question), 1e-9, tc.question)
	}
}

func TestDetectHandoffBand(t *testing.T) {
	provider := llm.NewFake(8)
	c := NewClassifier(provider, &fakeSnapshots{snap: &intent.Snapshot{}}, testIngestConfig())
	ctx := context.Background()

	// below the band: the rule decides, no model call
	handoff, score := c.detectHandoff(ctx, "how do I pay for my order")
	assert.False(t, handoff)
	assert.Zero(t, score)
	assert.Empty(t, provider.ChatCalls)

	// above the band: the rule decides, no model call
	handoff, _ = c.detectHandoff(ctx, "I will sue you for fraud, get me a human")
	assert.True(t, handoff)
	assert.Empty(t, provider.ChatCalls)

	// inside the band the model decides
	provider.EnqueueChat("YES", "NO")
	handoff, score = c.detectHandoff(ctx, "I want a refund")
	assert.True(t, handoff)
	assert.InDelta(t, 0.4, score, 1e-9)
	handoff, _ = c.detectHandoff(ctx, "I want a refund")
	assert.False(t, handoff)
	assert.Len(t, provider.ChatCalls, 2)

	// model failure falls back to the band midpoint
	provider.FailChat(errors.New("quota exceeded"))
	handoff, _ = c.detectHandoff(ctx, "cancel my order and refund me")
	assert.True(t, handoff, "0.7 is above the 0.5 midpoint")
	handoff, _ = c.detectHandoff(ctx, "I want a refund")
	assert.False(t, handoff, "0.4 is below the 0.5 midpoint")
}

func TestClassifyNamesFromRegistryExactMatch(t *testing.T) {
	snap := &intent.Snapshot{
		Categories: []intent.Category{{
			Name: "account",
			Intents: []intent.Intent{{
				Name:     "password_reset",
				Examples: []string{"How do I reset my password?"},
				Centroid: axis(0, 8),
				Pairs:    2,
			}},
			Pairs: 2,
		}},
		PairCount: 2,
	}
	provider := llm.NewFake(8)
	provider.EmbedFunc = topicEmbedder(map[string]int{"password": 0})
	c := NewClassifier(provider, &fakeSnapshots{snap: snap}, testIngestConfig())

	chunks := []models.DraftChunk{
		{ChunkID: "c1", Question: "How do I reset my password?", Answer: "Use the reset link."},
		{ChunkID: "c2", Question: "I lost my password", Answer: "Use the reset link."},
	}
	categories, err := c.Classify(context.Background(), chunks)
	require.NoError(t, err)

	assert.Equal(t, 1, categories)
	for _, chunk := range chunks {
		assert.Equal(t, "account", chunk.Category)
		assert.Equal(t, "password_reset", chunk.Intent)
		assert.InDelta(t, 1.0, chunk.CategoryConfidence, 1e-6)
		assert.InDelta(t, 1.0, chunk.IntentConfidence, 1e-6)
		assert.False(t, chunk.RequiresHandoff)
	}
	assert.Empty(t, provider.ChatCalls, "registry naming must not call the model")
}

func TestClassifyNamesFromRegistryCentroid(t *testing.T) {
	snap := &intent.Snapshot{
		Categories: []intent.Category{{
			Name: "account",
			Intents: []intent.Intent{{
				Name:     "password_reset",
				Examples: []string{"some other phrasing entirely"},
				Centroid: axis(0, 8),
				Pairs:    1,
			}},
			Pairs: 1,
		}},
		PairCount: 1,
	}
	provider := llm.NewFake(8)
	provider.EmbedFunc = topicEmbedder(map[string]int{"password": 0})
	c := NewClassifier(provider, &fakeSnapshots{snap: snap}, testIngestConfig())

	chunks := []models.DraftChunk{
		{ChunkID: "c1", Question: "brand new password question", Answer: "A."},
	}
	_, err := c.Classify(context.Background(), chunks)
	require.NoError(t, err)

	assert.Equal(t, "account", chunks[0].Category)
	assert.Equal(t, "password_reset", chunks[0].Intent)
	assert.Empty(t, provider.ChatCalls)
}

func TestClassifyNamesNewClustersWithModel(t *testing.T) {
	provider := llm.NewFake(8)
	provider.EmbedFunc = topicEmbedder(map[string]int{"password": 0, "delivery": 1, "order": 1})
	provider.ReplyFunc = func(req llm.ChatRequest) string {
		if strings.Contains(req.Messages[0].Content, "password") {
			return `{"category": "Account Security", "intent": "Password Reset"}`
		}
		return `{"category": "shipping", "intent": "delivery_times"}`
	}
	c := NewClassifier(provider, &fakeSnapshots{snap: &intent.Snapshot{}}, testIngestConfig())

	chunks := []models.DraftChunk{
		{ChunkID: "c1", Question: "How do I reset my password", Answer: "A."},
		{ChunkID: "c2", Question: "I lost my password", Answer: "A."},
		{ChunkID: "c3", Question: "How long does delivery take", Answer: "A."},
		{ChunkID: "c4", Question: "Where is my order right now", Answer: "A."},
	}
	categories, err := c.Classify(context.Background(), chunks)
	require.NoError(t, err)

	assert.Equal(t, 2, categories)
	assert.Equal(t, "account_security", chunks[0].Category, "model labels are folded to snake_case")
	assert.Equal(t, "password_reset", chunks[0].Intent)
	assert.Equal(t, chunks[0].Category, chunks[1].Category)
	assert.Equal(t, "shipping", chunks[2].Category)
	assert.Equal(t, "delivery_times", chunks[2].Intent)
	assert.Equal(t, chunks[2].Category, chunks[3].Category)
	assert.Len(t, provider.ChatCalls, 4, "one category and one intent call per cluster")
}

func TestClassifyFallsBackToKeywordName(t *testing.T) {
	provider := llm.NewFake(8)
	provider.EmbedFunc = topicEmbedder(map[string]int{"password": 0})
	provider.FailChat(errors.New("quota exceeded"))
	cfg := testIngestConfig()
	cfg.NumCategories = 1
	c := NewClassifier(provider, &fakeSnapshots{snap: &intent.Snapshot{}}, cfg)

	chunks := []models.DraftChunk{
		{ChunkID: "c1", Question: "reset password please", Answer: "A."},
		{ChunkID: "c2", Question: "change password today", Answer: "A."},
	}
	_, err := c.Classify(context.Background(), chunks)
	require.NoError(t, err, "a failing provider must not abort staging")

	assert.Equal(t, "password", chunks[0].Category)
	assert.Equal(t, "password", chunks[0].Intent)
}

func TestClassifyKeepsPresetAssignments(t *testing.T) {
	provider := llm.NewFake(8)
	provider.EmbedFunc = topicEmbedder(map[string]int{"password": 0})
	provider.FailChat(errors.New("quota exceeded"))
	cfg := testIngestConfig()
	cfg.NumCategories = 1
	c := NewClassifier(provider, &fakeSnapshots{snap: &intent.Snapshot{}}, cfg)

	chunks := []models.DraftChunk{
		{ChunkID: "c1", Question: "password question", Answer: "A.", Category: "billing", Intent: "refund_policy"},
	}
	_, err := c.Classify(context.Background(), chunks)
	require.NoError(t, err)

	assert.Equal(t, "billing", chunks[0].Category)
	assert.Equal(t, "refund_policy", chunks[0].Intent)
	assert.Equal(t, 1.0, chunks[0].CategoryConfidence)
	assert.Equal(t, 1.0, chunks[0].IntentConfidence)
}

func TestClassifyEmptyInput(t *testing.T) {
	provider := llm.NewFake(8)
	c := NewClassifier(provider, &fakeSnapshots{snap: &intent.Snapshot{}}, testIngestConfig())

	categories, err := c.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, categories)
	assert.Empty(t, provider.EmbedCalls)
}
