package similarity

import "strings"

// spanishMarkers are high-signal Spanish function words and question
// words that rarely appear in English support text.
var spanishMarkers = map[string]bool{
	"como": true, "cuando": true, "donde": true, "cual": true, "cuanto": true,
	"para": true, "porque": true, "puedo": true, "quiero": true,
	"necesito": true, "ayuda": true, "cuenta": true, "contraseña": true,
	"factura": true, "el": true, "la": true, "los": true, "las": true,
	"una": true, "del": true, "que": true, "mi": true, "su": true,
	"es": true, "esta": true, "hay": true, "no": true, "si": true,
	"con": true, "por": true,
}

// englishMarkers mirror spanishMarkers for the other direction.
var englishMarkers = map[string]bool{
	"how": true, "when": true, "where": true, "which": true, "what": true,
	"why": true, "can": true, "the": true, "my": true, "your": true,
	"is": true, "are": true, "do": true, "does": true, "need": true,
	"want": true, "help": true, "account": true, "password": true,
	"i": true, "you": true, "to": true, "of": true, "with": true,
}

// DetectLanguage classifies text as Spanish or English with a cheap
// marker-count heuristic. Inverted punctuation or accented vowels decide
// immediately; otherwise the larger marker count wins, English on ties.
func DetectLanguage(s string) string {
	if strings.ContainsAny(s, "¿¡ñÑ") || strings.ContainsAny(s, "áéíóúÁÉÍÓÚ") {
		return "es"
	}
	var es, en int
	for _, tok := range Tokenize(s) {
		if spanishMarkers[tok] {
			es++
		}
		if englishMarkers[tok] {
			en++
		}
	}
	if es > en {
		return "es"
	}
	return "en"
}
