package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/models"
)

func mkPair(id, question, answer, category, intent string) models.QAPair {
	return models.QAPair{
		ID:       id,
		Question: question,
		Answer:   answer,
		Category: category,
		Intent:   intent,
		Language: models.LanguageEnglish,
		Status:   models.PairStatusActive,
	}
}

func testCorpus() []models.QAPair {
	return []models.QAPair{
		mkPair("p1", "How do I reset my password?",
			"Use the forgot password link on the login page to reset your password.",
			"account", "password_reset"),
		mkPair("p2", "How do I change my email address?",
			"Open account settings and edit the email field.",
			"account", "email_change"),
		mkPair("p3", "What are your shipping times to Spain?",
			"Shipping to Spain takes 3-5 business days.",
			"shipping", "delivery_times"),
		mkPair("p4", "How do I track my order?",
			"Use the tracking link in your confirmation email to track the order.",
			"shipping", "order_tracking"),
	}
}

func TestLexicalRanking(t *testing.T) {
	idx := NewLexicalIndex()
	idx.Rebuild(testCorpus())
	require.Equal(t, 4, idx.Size())

	hits := idx.Search("reset my password", nil, 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "p1", hits[0].PairID, "the password pair must rank first")

	for _, h := range hits[1:] {
		assert.Less(t, h.Score, hits[0].Score)
	}
}

func TestLexicalRareTermsWeighMore(t *testing.T) {
	idx := NewLexicalIndex()
	idx.Rebuild(testCorpus())

	// "spain" appears in one document, "order" in one other; a query
	// containing only the rare shipping term must surface p3.
	hits := idx.Search("shipping to spain", nil, 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "p3", hits[0].PairID)
}

func TestLexicalCategoryFilter(t *testing.T) {
	idx := NewLexicalIndex()
	idx.Rebuild(testCorpus())

	hits := idx.Search("how do I track my password order", &models.SearchFilter{Category: "shipping"}, 10)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Contains(t, []string{"p3", "p4"}, h.PairID)
	}
}

func TestLexicalRebuildReplaces(t *testing.T) {
	idx := NewLexicalIndex()
	idx.Rebuild(testCorpus())
	idx.Rebuild(testCorpus()[:1])

	assert.Equal(t, 1, idx.Size())
	assert.Empty(t, idx.Search("track my order", nil, 10))
}

func TestLexicalEmptyQueryAndLimit(t *testing.T) {
	idx := NewLexicalIndex()
	idx.Rebuild(testCorpus())

	assert.Empty(t, idx.Search("", nil, 10))
	assert.Empty(t, idx.Search("reset password", nil, 0))

	hits := idx.Search("how do I reset change track", nil, 2)
	assert.Len(t, hits, 2)
}

func TestLexicalStableTieOrder(t *testing.T) {
	idx := NewLexicalIndex()
	// Two identical documents tie exactly; order must be by id.
	idx.Rebuild([]models.QAPair{
		mkPair("pb", "identical question text", "identical answer text", "c", "i"),
		mkPair("pa", "identical question text", "identical answer text", "c", "i"),
	})

	for range 5 {
		hits := idx.Search("identical question", nil, 10)
		require.Len(t, hits, 2)
		assert.Equal(t, "pa", hits[0].PairID)
		assert.Equal(t, "pb", hits[1].PairID)
	}
}

func TestLexicalScalesToCorpus(t *testing.T) {
	pairs := make([]models.QAPair, 0, 500)
	for i := range 500 {
		pairs = append(pairs, mkPair(
			fmt.Sprintf("p%03d", i),
			fmt.Sprintf("question about topic %d and feature %d", i, i%7),
			fmt.Sprintf("answer describing topic %d in detail", i),
			"general", "misc"))
	}
	idx := NewLexicalIndex()
	idx.Rebuild(pairs)

	hits := idx.Search("question about topic 42", nil, 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "p042", hits[0].PairID)
	assert.Len(t, hits, 5)
}
