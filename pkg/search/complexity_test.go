package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/replyworks/sage/pkg/config"
)

func TestNumHopsBands(t *testing.T) {
	cfg := config.DefaultConfig().Search

	tests := []struct {
		question string
		hops     int
	}{
		{"How do I reset my password?", 1},
		{"Do you ship to Spain?", 1},
		{"Why was I charged twice and how do I dispute the charge?", 2},
		{"If my order was cancelled after payment, how do I get a refund and when will it arrive?", 3},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.hops, NumHops(tc.question, cfg), "question: %s", tc.question)
	}
}

func TestNumHopsSpanish(t *testing.T) {
	cfg := config.DefaultConfig().Search

	assert.Equal(t, 1, NumHops("¿Cómo restablezco mi contraseña?", cfg))
	assert.Equal(t, 3, NumHops(
		"Si mi pedido fue cancelado después del pago, ¿cómo obtengo un reembolso y cuándo llegará?", cfg))
}

func TestNumHopsClampedToMax(t *testing.T) {
	cfg := config.DefaultConfig().Search
	cfg.MaxHops = 2

	hops := NumHops("If my order was cancelled after payment, how do I get a refund and when will it arrive?", cfg)
	assert.Equal(t, 2, hops)
}

func TestComplexityScoreMonotonicInStructure(t *testing.T) {
	simple := ComplexityScore("How do I reset my password?")
	compound := ComplexityScore("How do I reset my password and update my email?")
	clause := ComplexityScore("How do I reset my password and update my email, because my account was locked after the move?")

	assert.Less(t, simple, compound)
	assert.Less(t, compound, clause)
}
