// Package guardrails screens inbound questions and post-processes
// generated answers. Input screening runs before anything touches the
// cache or the retrieval stack; output screening runs after generation
// and before the answer leaves the service.
package guardrails

import (
	"log/slog"
	"regexp"

	"github.com/replyworks/sage/pkg/config"
)

// CompiledRule holds a pre-compiled disallowed-content rule.
type CompiledRule struct {
	Name     string
	Regex    *regexp.Regexp
	Risk     float64
	Category string
}

// builtinRules are the disallowed-content rules every deployment gets.
// Config rules are merged on top and may shadow a built-in by name.
var builtinRules = []config.GuardrailRule{
	{Name: "violence", Pattern: `(?i)\b(kill|murder|hurt|attack|weapon|bomb)\b.*\b(someone|people|person|him|her|them)\b`, Risk: 1.0, Category: "violence"},
	{Name: "self_harm", Pattern: `(?i)\b(suicide|self[- ]harm|hurt myself|end my life)\b`, Risk: 1.0, Category: "self_harm"},
	{Name: "illegal_goods", Pattern: `(?i)\b(buy|sell|acquire)\b.*\b(drugs|narcotics|stolen|counterfeit)\b`, Risk: 0.8, Category: "illegal"},
	{Name: "credential_phish", Pattern: `(?i)\b(give|send|tell)\s+me\s+(the\s+)?(password|credentials|api[- ]?key)s?\b`, Risk: 0.8, Category: "security"},
}

// injectionRules guard against SQL and prompt-injection payloads riding
// in the question text. They are heuristic by nature: each match adds
// its risk to the cumulative score rather than blocking outright.
var injectionRules = []config.GuardrailRule{
	{Name: "sql_union", Pattern: `(?i)\bunion\s+(all\s+)?select\b`, Risk: 0.6, Category: "injection"},
	{Name: "sql_meta", Pattern: `(?i)(;\s*(drop|delete|truncate|alter)\s+(table|database)\b|--\s*$)`, Risk: 0.6, Category: "injection"},
	{Name: "sql_tautology", Pattern: `(?i)('\s*or\s+'?1'?\s*=\s*'?1|"\s*or\s+"?1"?\s*=\s*"?1)`, Risk: 0.6, Category: "injection"},
	{Name: "prompt_override", Pattern: `(?i)\b(ignore|disregard|forget)\b.{0,30}\b(previous|prior|above|all)\b.{0,30}\b(instructions?|prompts?|rules?)\b`, Risk: 0.7, Category: "injection"},
	{Name: "prompt_exfil", Pattern: `(?i)\b(reveal|show|print|repeat)\b.{0,30}\b(system\s+prompt|hidden\s+instructions?)\b`, Risk: 0.7, Category: "injection"},
	{Name: "role_hijack", Pattern: `(?i)\byou\s+are\s+(now|no\s+longer)\b.{0,40}\b(assistant|ai|model|dan)\b`, Risk: 0.5, Category: "injection"},
}

// compileRules compiles a rule list, logging and skipping entries whose
// pattern does not compile.
func compileRules(rules []config.GuardrailRule) []*CompiledRule {
	out := make([]*CompiledRule, 0, len(rules))
	for _, r := range rules {
		compiled, err := regexp.Compile(r.Pattern)
		if err != nil {
			slog.Error("Failed to compile guardrail rule, skipping",
				"rule", r.Name, "error", err)
			continue
		}
		out = append(out, &CompiledRule{
			Name:     r.Name,
			Regex:    compiled,
			Risk:     r.Risk,
			Category: r.Category,
		})
	}
	return out
}

// mergeRules overlays custom rules on the base set. A custom rule with
// the same name replaces the base rule; otherwise it is appended.
func mergeRules(base, custom []config.GuardrailRule) []config.GuardrailRule {
	byName := make(map[string]int, len(base))
	merged := make([]config.GuardrailRule, len(base))
	copy(merged, base)
	for i, r := range merged {
		byName[r.Name] = i
	}
	for _, r := range custom {
		if i, ok := byName[r.Name]; ok {
			merged[i] = r
			continue
		}
		byName[r.Name] = len(merged)
		merged = append(merged, r)
	}
	return merged
}
