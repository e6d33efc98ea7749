package ingest

import "github.com/replyworks/sage/pkg/similarity"

// handoffKeywords maps question tokens to handoff weights in both
// supported languages. Weights of the unique tokens in a question are
// summed and capped at 1; disputes, legal language, and explicit requests
// for a person weigh the most.
var handoffKeywords = map[string]float64{
	// English
	"refund":         0.4,
	"chargeback":     0.6,
	"dispute":        0.5,
	"cancel":         0.3,
	"cancellation":   0.3,
	"lawyer":         0.8,
	"attorney":       0.8,
	"lawsuit":        0.8,
	"sue":            0.7,
	"legal":          0.5,
	"fraud":          0.7,
	"fraudulent":     0.7,
	"scam":           0.6,
	"stolen":         0.5,
	"unauthorized":   0.5,
	"complaint":      0.5,
	"manager":        0.5,
	"supervisor":     0.6,
	"human":          0.6,
	"agent":          0.4,
	"representative": 0.5,
	"unacceptable":   0.5,
	"furious":        0.5,

	// Spanish
	"reembolso":     0.4,
	"devolución":    0.4,
	"devolucion":    0.4,
	"disputa":       0.5,
	"cancelar":      0.3,
	"cancelación":   0.3,
	"cancelacion":   0.3,
	"abogado":       0.8,
	"demanda":       0.7,
	"denuncia":      0.6,
	"fraude":        0.7,
	"estafa":        0.6,
	"robado":        0.5,
	"robo":          0.5,
	"queja":         0.5,
	"reclamo":       0.5,
	"reclamación":   0.5,
	"reclamacion":   0.5,
	"gerente":       0.5,
	"encargado":     0.5,
	"humano":        0.6,
	"agente":        0.4,
	"inaceptable":   0.5,
	"indignante":    0.5,
	"supervisora":   0.6,
	"representante": 0.5,
}

// keywordHandoffScore sums the handoff weights of the question's unique
// tokens, capped at 1.
func keywordHandoffScore(question string) float64 {
	score := 0.0
	seen := make(map[string]bool)
	for _, tok := range similarity.Tokenize(question) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		score += handoffKeywords[tok]
	}
	if score > 1 {
		return 1
	}
	return score
}
