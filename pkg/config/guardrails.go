package config

// GuardrailRule is one disallowed-content rule. Pattern is a Go regexp
// matched case-insensitively against the raw question or answer.
type GuardrailRule struct {
	Name     string  `yaml:"name"`
	Pattern  string  `yaml:"pattern"`
	Risk     float64 `yaml:"risk"`
	Category string  `yaml:"category,omitempty"`
}

// GuardrailsConfig tunes input screening and output post-processing.
type GuardrailsConfig struct {
	// Input length bounds in runes.
	MinQuestionChars int `yaml:"min_question_chars"`
	MaxQuestionChars int `yaml:"max_question_chars"`

	// BlockThreshold: cumulative rule risk at or above it blocks the input.
	BlockThreshold float64 `yaml:"block_threshold"`

	// Extra rules merged over the built-in disallowed-content and
	// injection-heuristic lists.
	Rules []GuardrailRule `yaml:"rules,omitempty"`

	// InjectionHeuristics toggles the SQL/prompt-injection pattern checks.
	InjectionHeuristics *bool `yaml:"injection_heuristics,omitempty"`

	// GroundednessFloor is the minimum token-overlap ratio between answer
	// and merged context before the answer is replaced with an escalation.
	GroundednessFloor float64 `yaml:"groundedness_floor"`

	// RedactPII toggles output PII redaction.
	RedactPII *bool `yaml:"redact_pii,omitempty"`
}

// Injection reports whether injection heuristics are on (default true).
func (g *GuardrailsConfig) Injection() bool {
	return g.InjectionHeuristics == nil || *g.InjectionHeuristics
}

// Redact reports whether PII redaction is on (default true).
func (g *GuardrailsConfig) Redact() bool {
	return g.RedactPII == nil || *g.RedactPII
}
