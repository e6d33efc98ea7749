package guardrails

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/similarity"
)

// redactionPattern is one PII redaction rule. Patterns are applied in
// declaration order so that structured formats (IBAN, card) win over the
// looser phone pattern.
type redactionPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

var redactionPatterns = []redactionPattern{
	{
		Name:        "email",
		Regex:       regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		Replacement: "[REDACTED_EMAIL]",
	},
	{
		Name:        "iban",
		Regex:       regexp.MustCompile(`\b[A-Z]{2}\d{2}(?:\s?[A-Z0-9]{4}){3,7}(?:\s?[A-Z0-9]{1,3})?\b`),
		Replacement: "[REDACTED_IBAN]",
	},
	{
		Name:        "card",
		Regex:       regexp.MustCompile(`\b(?:\d{4}[ -]){3}\d{3,4}\b|\b\d{15,16}\b`),
		Replacement: "[REDACTED_CARD]",
	},
	{
		Name:        "national_id",
		Regex:       regexp.MustCompile(`\b(?:\d{8}|[XYZxyz]\d{7})[ -]?[A-Za-z]\b`),
		Replacement: "[REDACTED_ID]",
	},
	{
		Name:        "phone",
		Regex:       regexp.MustCompile(`(?:\+|00)\d(?:[ .\-()]?\d){7,13}|\b\d{3}[ .\-]\d{3}[ .\-]\d{3,4}\b`),
		Replacement: "[REDACTED_PHONE]",
	},
}

// OutputResult is the outcome of post-processing one generated answer.
type OutputResult struct {
	// Answer is the post-redaction text. Callers must use it instead of
	// the generated original.
	Answer string
	// Redacted lists the PII pattern names that fired, in apply order.
	Redacted []string
	// Grounded reports whether the answer is sufficiently supported by
	// the merged context.
	Grounded bool
	// Blocked is set when the answer matched a disallowed-content rule
	// and must not be served.
	Blocked bool
	Reason  string
}

// OutputScreen post-processes generated answers: PII redaction,
// disallowed-content screening, and a groundedness check against the
// merged retrieval context.
type OutputScreen struct {
	cfg   *config.GuardrailsConfig
	rules []*CompiledRule
}

// NewOutputScreen compiles the disallowed-content rules. Injection
// heuristics are input-only and not applied here.
func NewOutputScreen(cfg *config.GuardrailsConfig) *OutputScreen {
	return &OutputScreen{
		cfg:   cfg,
		rules: compileRules(mergeRules(builtinRules, cfg.Rules)),
	}
}

// Process redacts PII from the answer, screens it for disallowed
// content, and checks groundedness against the merged context. A blocked
// or ungrounded result means the caller must substitute the escalation
// message and flip the route to escalate.
func (s *OutputScreen) Process(answer, mergedContext string) OutputResult {
	res := OutputResult{Answer: answer, Grounded: true}

	if s.cfg.Redact() {
		for _, p := range redactionPatterns {
			if !p.Regex.MatchString(res.Answer) {
				continue
			}
			res.Answer = p.Regex.ReplaceAllString(res.Answer, p.Replacement)
			res.Redacted = append(res.Redacted, p.Name)
		}
	}

	for _, r := range s.rules {
		if r.Regex.MatchString(res.Answer) {
			res.Blocked = true
			res.Reason = fmt.Sprintf("disallowed content in answer: %s (%s)", r.Name, r.Category)
			return res
		}
	}

	if s.cfg.GroundednessFloor > 0 && mergedContext != "" {
		res.Grounded = s.grounded(res.Answer, mergedContext)
		if !res.Grounded {
			res.Reason = "answer not grounded in retrieved context"
		}
	}
	return res
}

// grounded accepts an answer when its overall content-token overlap with
// the context reaches the floor, or when every sentence individually has
// at least one supporting context sentence above the floor.
func (s *OutputScreen) grounded(answer, context string) bool {
	ansTokens := similarity.ContentTokens(answer)
	if len(ansTokens) == 0 {
		return true
	}
	ctxTokens := similarity.ContentTokens(context)
	if similarity.OverlapRatio(ansTokens, ctxTokens) >= s.cfg.GroundednessFloor {
		return true
	}

	ctxSentences := splitSentences(context)
	ctxSentenceTokens := make([][]string, len(ctxSentences))
	for i, sent := range ctxSentences {
		ctxSentenceTokens[i] = similarity.ContentTokens(sent)
	}
	for _, sent := range splitSentences(answer) {
		tokens := similarity.ContentTokens(sent)
		if len(tokens) == 0 {
			continue
		}
		supported := false
		for _, ct := range ctxSentenceTokens {
			if similarity.OverlapRatio(tokens, ct) >= s.cfg.GroundednessFloor {
				supported = true
				break
			}
		}
		if !supported {
			return false
		}
	}
	return true
}

var sentenceSplit = regexp.MustCompile(`[.!?¡¿\n]+`)

func splitSentences(s string) []string {
	parts := sentenceSplit.Split(s, -1)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
