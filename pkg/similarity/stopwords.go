package similarity

// stopwords is the bilingual (English + Spanish) function-word set removed
// during query normalization and lexical indexing. It intentionally stays
// small: over-aggressive lists strip meaning from short support questions.
var stopwords = map[string]bool{
	// English
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "does": true,
	"did": true, "for": true, "from": true, "has": true, "have": true,
	"how": true, "i": true, "if": true, "in": true, "is": true, "it": true,
	"its": true, "me": true, "my": true, "of": true, "on": true, "or": true,
	"our": true, "so": true, "that": true, "the": true, "their": true,
	"them": true, "then": true, "there": true, "they": true, "this": true,
	"to": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "why": true,
	"will": true, "with": true, "would": true, "you": true, "your": true,

	// Spanish
	"al": true, "como": true, "con": true, "cual": true, "cuando": true,
	"de": true, "del": true, "donde": true, "el": true, "ella": true,
	"en": true, "es": true, "esta": true, "este": true, "esto": true,
	"fue": true, "hay": true, "la": true, "las": true, "le": true,
	"lo": true, "los": true, "mi": true, "mis": true, "para": true,
	"pero": true, "por": true, "porque": true, "puedo": true, "que": true,
	"se": true, "ser": true, "si": true, "son": true, "su": true,
	"sus": true, "tu": true, "un": true, "una": true, "uno": true,
	"y": true, "ya": true, "yo": true,
}
