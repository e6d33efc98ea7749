package nodes

import (
	"context"
	"log/slog"
	"strings"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/guardrails"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
	"github.com/replyworks/sage/pkg/similarity"
)

// inputGuardrails screens the raw question before anything else touches it.
// A block jumps straight to refusal: blocked content is never normalized,
// never read from or written to the cache, and never sent to the provider.
type inputGuardrails struct {
	screen *guardrails.InputScreen
}

func newInputGuardrails(deps Deps, _ *config.Config) pipeline.Node {
	return &inputGuardrails{screen: deps.Input}
}

func (n *inputGuardrails) Name() string { return "input_guardrails" }

func (n *inputGuardrails) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs:     []string{pipeline.FieldQuestion},
		GuaranteedOutputs:  []string{pipeline.FieldBlocked, pipeline.FieldRiskScore},
		ConditionalOutputs: []string{pipeline.FieldBlockReason},
	}
}

func (n *inputGuardrails) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	res := n.screen.Check(st.Question)
	patch := pipeline.Patch{
		pipeline.FieldBlocked:   res.Blocked,
		pipeline.FieldRiskScore: res.RiskScore,
	}
	if res.Blocked {
		patch[pipeline.FieldBlockReason] = res.Reason
	}
	return patch, nil
}

func (n *inputGuardrails) Branch(st *pipeline.State) (string, bool) {
	return "refusal", st.Blocked
}

// outputGuardrails post-processes generated answers: PII redaction always
// applies; disallowed content and groundedness gate only answers that would
// otherwise auto-reply, flipping them to an escalation.
type outputGuardrails struct {
	screen *guardrails.OutputScreen
	logger *slog.Logger
}

func newOutputGuardrails(deps Deps, _ *config.Config) pipeline.Node {
	return &outputGuardrails{
		screen: deps.Output,
		logger: slog.With("component", "node", "node", "output_guardrails"),
	}
}

func (n *outputGuardrails) Name() string { return "output_guardrails" }

func (n *outputGuardrails) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs:     []string{pipeline.FieldAnswer, pipeline.FieldMergedContext, pipeline.FieldRouteAction},
		OptionalInputs:     []string{pipeline.FieldLanguage},
		GuaranteedOutputs:  []string{pipeline.FieldAnswer},
		ConditionalOutputs: []string{pipeline.FieldRouteAction, pipeline.FieldEscalationReason},
	}
}

func (n *outputGuardrails) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	res := n.screen.Process(st.Answer, st.MergedContext)
	if len(res.Redacted) > 0 {
		n.logger.Info("redacted answer PII", "patterns", res.Redacted)
	}

	patch := pipeline.Patch{pipeline.FieldAnswer: res.Answer}
	if st.RouteAction != models.ActionAutoReply {
		return patch, nil
	}

	switch {
	case res.Blocked:
		n.logger.Warn("generated answer blocked", "reason", res.Reason)
		patch[pipeline.FieldAnswer] = llm.EscalationMessage(st.Language)
		patch[pipeline.FieldRouteAction] = models.ActionEscalate
		patch[pipeline.FieldEscalationReason] = models.EscalationGuardrailBlock
	case !res.Grounded:
		n.logger.Warn("generated answer not grounded in context")
		patch[pipeline.FieldAnswer] = llm.EscalationMessage(st.Language)
		patch[pipeline.FieldRouteAction] = models.ActionEscalate
		patch[pipeline.FieldEscalationReason] = models.EscalationLowConfidence
	}
	return patch, nil
}

// refusal composes the customer-facing reply for every escalated query. For
// blocked questions the reply is canned and the provider is never called with
// the blocked content; for other escalations one short handoff message is
// generated, falling back to the canned text.
type refusal struct {
	provider llm.Provider
	logger   *slog.Logger
}

func newRefusal(deps Deps, _ *config.Config) pipeline.Node {
	return &refusal{
		provider: deps.Provider,
		logger:   slog.With("component", "node", "node", "refusal"),
	}
}

func (n *refusal) Name() string { return "refusal" }

func (n *refusal) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{pipeline.FieldQuestion},
		OptionalInputs: []string{
			pipeline.FieldLanguage,
			pipeline.FieldBlocked,
			pipeline.FieldBlockReason,
			pipeline.FieldRouteAction,
			pipeline.FieldEscalationReason,
		},
		GuaranteedOutputs: []string{
			pipeline.FieldAnswer,
			pipeline.FieldRouteAction,
			pipeline.FieldEscalationReason,
		},
	}
}

func (n *refusal) Applies(st *pipeline.State) bool {
	return st.Blocked || st.RouteAction == models.ActionEscalate
}

func (n *refusal) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	lang := st.Language
	if lang == "" {
		// The blocked path jumps over language detection.
		lang = similarity.DetectLanguage(st.Question)
	}
	reason := st.EscalationReason
	if reason == "" && st.Blocked {
		reason = models.EscalationGuardrailBlock
	}
	if reason == "" {
		reason = models.EscalationLowConfidence
	}

	patch := pipeline.Patch{
		pipeline.FieldRouteAction:      models.ActionEscalate,
		pipeline.FieldEscalationReason: reason,
	}
	if st.Blocked {
		// The blocked question must not reach the provider.
		patch[pipeline.FieldAnswer] = llm.RefusalMessage(lang)
		return patch, nil
	}

	reply, err := n.provider.Chat(ctx, llm.ChatRequest{
		System:   llm.SystemPrompt(lang, llm.ModeEscalation),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: st.Question}},
	})
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		if err != nil {
			n.logger.Warn("handoff message generation failed, using canned reply", "error", err)
		}
		patch[pipeline.FieldAnswer] = llm.EscalationMessage(lang)
		return patch, nil
	}
	patch[pipeline.FieldAnswer] = reply
	return patch, nil
}
