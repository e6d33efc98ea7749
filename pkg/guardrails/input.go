package guardrails

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/replyworks/sage/pkg/config"
)

// InputResult is the outcome of screening one question.
type InputResult struct {
	Blocked   bool
	RiskScore float64
	Reason    string
	// Matched lists the names of rules that fired, highest risk first.
	Matched []string
}

// InputScreen screens raw questions before they reach the cache or the
// retrieval stack.
type InputScreen struct {
	cfg   *config.GuardrailsConfig
	rules []*CompiledRule
}

// NewInputScreen compiles the built-in rule set, merges the configured
// extras, and appends the injection heuristics when enabled.
func NewInputScreen(cfg *config.GuardrailsConfig) *InputScreen {
	rules := mergeRules(builtinRules, cfg.Rules)
	if cfg.Injection() {
		rules = mergeRules(rules, injectionRules)
	}
	return &InputScreen{cfg: cfg, rules: compileRules(rules)}
}

// Check evaluates one question. Length violations block immediately with
// risk 1.0. Content rules accumulate risk; the question is blocked when
// the cumulative score reaches the configured threshold.
func (s *InputScreen) Check(question string) InputResult {
	n := utf8.RuneCountInString(strings.TrimSpace(question))
	if n < s.cfg.MinQuestionChars {
		return InputResult{
			Blocked:   true,
			RiskScore: 1.0,
			Reason:    fmt.Sprintf("question too short: %d chars (min %d)", n, s.cfg.MinQuestionChars),
		}
	}
	if n > s.cfg.MaxQuestionChars {
		return InputResult{
			Blocked:   true,
			RiskScore: 1.0,
			Reason:    fmt.Sprintf("question too long: %d chars (max %d)", n, s.cfg.MaxQuestionChars),
		}
	}

	var (
		risk    float64
		matched []string
		top     *CompiledRule
	)
	for _, r := range s.rules {
		if !r.Regex.MatchString(question) {
			continue
		}
		risk += r.Risk
		matched = append(matched, r.Name)
		if top == nil || r.Risk > top.Risk {
			top = r
		}
	}

	res := InputResult{RiskScore: risk, Matched: matched}
	if risk >= s.cfg.BlockThreshold && top != nil {
		res.Blocked = true
		res.Reason = fmt.Sprintf("disallowed content: %s (%s)", top.Name, top.Category)
	}
	return res
}
