package nodes

import (
	"context"
	"log/slog"
	"strings"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
)

// route decides whether the query earns an automatic reply. Escalations jump
// straight to the refusal node; generation never runs for them.
type route struct {
	cfg *config.DialogConfig
}

func newRoute(_ Deps, cfg *config.Config) pipeline.Node {
	return &route{cfg: cfg.Dialog}
}

func (n *route) Name() string { return "route" }

func (n *route) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{pipeline.FieldDialogState},
		OptionalInputs: []string{
			pipeline.FieldConfidence,
			pipeline.FieldEscalationReason,
		},
		GuaranteedOutputs:  []string{pipeline.FieldRouteAction},
		ConditionalOutputs: []string{pipeline.FieldEscalationReason},
	}
}

func (n *route) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	autoReply := st.DialogState == models.DialogStateAnswered &&
		st.EscalationReason == "" &&
		st.Confidence >= n.cfg.AutoReplyThreshold

	if autoReply {
		return pipeline.Patch{pipeline.FieldRouteAction: models.ActionAutoReply}, nil
	}
	reason := st.EscalationReason
	if reason == "" {
		reason = models.EscalationLowConfidence
	}
	return pipeline.Patch{
		pipeline.FieldRouteAction:      models.ActionEscalate,
		pipeline.FieldEscalationReason: reason,
	}, nil
}

func (n *route) Branch(st *pipeline.State) (string, bool) {
	return "refusal", st.RouteAction == models.ActionEscalate
}

// generate composes the grounded answer for auto-replied queries. The model
// is held to the supplied context; its refusal token, an empty reply, or a
// provider failure all downgrade the query to an escalation.
type generate struct {
	provider llm.Provider
	llmCfg   *config.LLMConfig
	sessCfg  *config.SessionConfig
	logger   *slog.Logger
}

func newGenerate(deps Deps, cfg *config.Config) pipeline.Node {
	return &generate{
		provider: deps.Provider,
		llmCfg:   cfg.LLM,
		sessCfg:  cfg.Session,
		logger:   slog.With("component", "node", "node", "generate"),
	}
}

func (n *generate) Name() string { return "generate" }

func (n *generate) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{
			pipeline.FieldQuestion,
			pipeline.FieldMergedContext,
			pipeline.FieldLanguage,
		},
		OptionalInputs: []string{
			pipeline.FieldHistory,
			pipeline.FieldOptions,
			pipeline.FieldRouteAction,
		},
		GuaranteedOutputs: []string{pipeline.FieldAnswer},
		ConditionalOutputs: []string{
			pipeline.FieldRouteAction,
			pipeline.FieldEscalationReason,
		},
	}
}

func (n *generate) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	history := st.History
	if max := n.sessCfg.MaxContextTurns; max > 0 && len(history) > max {
		history = history[len(history)-max:]
	}

	req := llm.ChatRequest{
		System:   llm.SystemPrompt(st.Language, llm.ModeAnswer),
		Messages: llm.BuildAnswerMessages(st.Question, st.MergedContext, history),
	}
	n.applyOptions(&req, st.Options)

	reply, err := n.provider.Chat(ctx, req)
	if err != nil {
		return nil, &pipeline.NodeError{Kind: pipeline.ErrKindUpstream, Retryable: true, Err: err}
	}

	reply = strings.TrimSpace(reply)
	if reply == "" || strings.Contains(reply, llm.RefusalToken) {
		n.logger.Info("model declined to answer from context", "language", st.Language)
		return n.escalationPatch(st), nil
	}
	return pipeline.Patch{pipeline.FieldAnswer: reply}, nil
}

// Recover hands the customer off instead of leaving the query answerless
// when the provider is down.
func (n *generate) Recover(st *pipeline.State) pipeline.Patch {
	return n.escalationPatch(st)
}

func (n *generate) escalationPatch(st *pipeline.State) pipeline.Patch {
	return pipeline.Patch{
		pipeline.FieldAnswer:           llm.EscalationMessage(st.Language),
		pipeline.FieldRouteAction:      models.ActionEscalate,
		pipeline.FieldEscalationReason: models.EscalationLowConfidence,
	}
}

func (n *generate) applyOptions(req *llm.ChatRequest, opts *models.QueryOptions) {
	if opts == nil {
		return
	}
	if opts.Temperature != nil {
		t := *opts.Temperature
		if t < 0 {
			t = 0
		}
		if t > n.llmCfg.MaxTemperature {
			t = n.llmCfg.MaxTemperature
		}
		req.Temperature = &t
	}
	if opts.MaxTokens != nil {
		m := *opts.MaxTokens
		if m < 1 {
			m = 1
		}
		if n.llmCfg.MaxOutputTokens > 0 && m > n.llmCfg.MaxOutputTokens {
			m = n.llmCfg.MaxOutputTokens
		}
		req.MaxTokens = &m
	}
}
