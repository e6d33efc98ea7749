package nodes

import (
	"context"
	"log/slog"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
	"github.com/replyworks/sage/pkg/session"
)

// sessionLoad fetches or creates the conversation for session-scoped
// queries. Stateless queries (no session id) produce nothing.
type sessionLoad struct {
	sessions *session.Manager
	cfg      *config.SessionConfig
}

func newSessionLoad(deps Deps, cfg *config.Config) pipeline.Node {
	return &sessionLoad{sessions: deps.Sessions, cfg: cfg.Session}
}

func (n *sessionLoad) Name() string { return "session_load" }

func (n *sessionLoad) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{pipeline.FieldUserID},
		OptionalInputs: []string{pipeline.FieldSessionID},
		ConditionalOutputs: []string{
			pipeline.FieldSession,
			pipeline.FieldHistory,
			pipeline.FieldDialogState,
		},
	}
}

func (n *sessionLoad) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	if st.SessionID == "" {
		return pipeline.Patch{}, nil
	}
	sess, err := n.sessions.LoadOrCreate(ctx, st.UserID, st.SessionID)
	if err != nil {
		return nil, &pipeline.NodeError{Kind: pipeline.ErrKindUpstream, Retryable: true, Err: err}
	}
	return pipeline.Patch{
		pipeline.FieldSession:     sess,
		pipeline.FieldHistory:     sess.LastTurns(n.cfg.MaxContextTurns),
		pipeline.FieldDialogState: sess.State,
	}, nil
}

// dialogState advances the per-session state machine from this turn's
// retrieval signals. Loop detection runs against the embeddings of earlier
// turns; session_store pushes the current one afterwards. The session object
// is mutated in place and persisted downstream.
type dialogState struct {
	cfg *config.DialogConfig
}

func newDialogState(_ Deps, cfg *config.Config) pipeline.Node {
	return &dialogState{cfg: cfg.Dialog}
}

func (n *dialogState) Name() string { return "dialog_state" }

func (n *dialogState) Contract() pipeline.Contract {
	return pipeline.Contract{
		OptionalInputs: []string{
			pipeline.FieldSession,
			pipeline.FieldQueryEmbedding,
			pipeline.FieldConfidence,
			pipeline.FieldRerankedDocs,
			pipeline.FieldBlocked,
		},
		GuaranteedOutputs:  []string{pipeline.FieldDialogState, pipeline.FieldLoopDetected},
		ConditionalOutputs: []string{pipeline.FieldEscalationReason},
	}
}

func (n *dialogState) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	sess := st.Session
	if sess == nil {
		// Stateless query: a transient session gives the machine its zero
		// state and is discarded with the turn.
		sess = &models.Session{State: models.DialogStateOpen}
	}

	loop := false
	if len(st.QueryEmbedding) > 0 {
		loop = session.DetectLoop(sess, st.QueryEmbedding, n.cfg)
	}

	handoff := len(st.RerankedDocs) > 0 && st.RerankedDocs[0].Pair.RequiresHandoff
	out := session.Advance(sess, session.Signals{
		Confidence:       st.Confidence,
		HasResults:       len(st.RerankedDocs) > 0,
		RequiresHandoff:  handoff,
		LoopDetected:     loop,
		GuardrailBlocked: st.Blocked,
	}, n.cfg)

	patch := pipeline.Patch{
		pipeline.FieldDialogState:  out.State,
		pipeline.FieldLoopDetected: loop,
	}
	if out.Reason != "" {
		patch[pipeline.FieldEscalationReason] = out.Reason
	}
	return patch, nil
}

// sessionStore appends this turn to the conversation: the user question with
// its embedding for loop detection, then the assistant reply linked to the
// query record. Failures degrade to a warning; the reply still goes out.
type sessionStore struct {
	sessions *session.Manager
	logger   *slog.Logger
}

func newSessionStore(deps Deps, _ *config.Config) pipeline.Node {
	return &sessionStore{
		sessions: deps.Sessions,
		logger:   slog.With("component", "node", "node", "session_store"),
	}
}

func (n *sessionStore) Name() string { return "session_store" }

func (n *sessionStore) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{pipeline.FieldQuestion, pipeline.FieldQueryID},
		OptionalInputs: []string{
			pipeline.FieldSession,
			pipeline.FieldAnswer,
			pipeline.FieldQueryEmbedding,
		},
	}
}

func (n *sessionStore) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	if st.Session == nil {
		return pipeline.Patch{}, nil
	}
	if err := n.sessions.AppendUser(ctx, st.Session, st.Question, st.QueryEmbedding); err != nil {
		n.logger.Warn("session user turn append failed",
			"session_id", st.Session.SessionID, "error", err)
		return pipeline.Patch{}, nil
	}
	if st.Has(pipeline.FieldAnswer) {
		if err := n.sessions.AppendAssistant(ctx, st.Session, st.Answer, st.QueryID); err != nil {
			n.logger.Warn("session assistant turn append failed",
				"session_id", st.Session.SessionID, "error", err)
		}
	}
	return pipeline.Patch{}, nil
}
