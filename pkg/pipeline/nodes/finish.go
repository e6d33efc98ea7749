package nodes

import (
	"context"
	"log/slog"
	"time"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/events"
	"github.com/replyworks/sage/pkg/metrics"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
)

// emitEvents publishes the query outcome to webhook subscribers. Publishing
// is best effort: a failed delivery is the subscriber's problem, never the
// customer's.
type emitEvents struct {
	events EventSink
	logger *slog.Logger
}

func newEmitEvents(deps Deps, _ *config.Config) pipeline.Node {
	return &emitEvents{
		events: deps.Events,
		logger: slog.With("component", "node", "node", "emit_events"),
	}
}

func (n *emitEvents) Name() string { return "emit_events" }

// Applies gates cached turns out: the original computation already emitted
// its query.completed, a replay from the cache must not emit a second one.
func (n *emitEvents) Applies(st *pipeline.State) bool {
	return !st.CacheHit
}

func (n *emitEvents) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{
			pipeline.FieldQueryID,
			pipeline.FieldQuestion,
			pipeline.FieldUserID,
			pipeline.FieldRouteAction,
		},
		OptionalInputs: []string{
			pipeline.FieldSessionID,
			pipeline.FieldAnswer,
			pipeline.FieldConfidence,
			pipeline.FieldSources,
			pipeline.FieldEscalationReason,
			pipeline.FieldDialogState,
			pipeline.FieldSession,
			pipeline.FieldCacheHit,
		},
	}
}

func (n *emitEvents) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	latency := time.Since(st.StartedAt).Milliseconds()

	if st.RouteAction == models.ActionAutoReply {
		sources := make([]string, len(st.Sources))
		for i, src := range st.Sources {
			sources[i] = src.PairID
		}
		_, err := n.events.PublishQueryCompleted(ctx, events.QueryCompletedPayload{
			QueryID:    st.QueryID,
			UserID:     st.UserID,
			SessionID:  st.SessionID,
			Question:   st.Question,
			Answer:     st.Answer,
			Confidence: st.Confidence,
			Sources:    sources,
			CacheHit:   st.CacheHit,
			LatencyMs:  latency,
			Timestamp:  now,
		})
		if err != nil {
			n.logger.Warn("query.completed publish failed", "query_id", st.QueryID, "error", err)
		}
	} else {
		_, err := n.events.PublishQueryEscalated(ctx, events.QueryEscalatedPayload{
			QueryID:    st.QueryID,
			UserID:     st.UserID,
			SessionID:  st.SessionID,
			Question:   st.Question,
			Reason:     st.EscalationReason,
			Confidence: st.Confidence,
			Timestamp:  now,
		})
		if err != nil {
			n.logger.Warn("query.escalated publish failed", "query_id", st.QueryID, "error", err)
		}
	}

	if st.DialogState == models.DialogStateEscalated && st.Session != nil {
		_, err := n.events.PublishSessionEscalated(ctx, events.SessionEscalatedPayload{
			UserID:    st.UserID,
			SessionID: st.SessionID,
			Reason:    st.EscalationReason,
			Turns:     len(st.Session.Turns),
			Timestamp: now,
		})
		if err != nil {
			n.logger.Warn("session.escalated publish failed", "session_id", st.SessionID, "error", err)
		}
	}
	return pipeline.Patch{}, nil
}

// archive persists the immutable query record. This is the one terminal node
// that must succeed: a query that cannot be recorded is a failed query.
type archive struct {
	records RecordInserter
	logger  *slog.Logger
}

func newArchive(deps Deps, _ *config.Config) pipeline.Node {
	return &archive{
		records: deps.Records,
		logger:  slog.With("component", "node", "node", "archive"),
	}
}

func (n *archive) Name() string { return "archive" }

func (n *archive) Contract() pipeline.Contract {
	return pipeline.Contract{
		RequiredInputs: []string{
			pipeline.FieldQueryID,
			pipeline.FieldQuestion,
			pipeline.FieldUserID,
			pipeline.FieldRouteAction,
		},
		OptionalInputs: []string{
			pipeline.FieldSessionID,
			pipeline.FieldNormalizedKey,
			pipeline.FieldAnswer,
			pipeline.FieldConfidence,
			pipeline.FieldSources,
			pipeline.FieldEscalationReason,
			pipeline.FieldCacheHit,
			pipeline.FieldHopsUsed,
		},
		GuaranteedOutputs: []string{pipeline.FieldRecord},
	}
}

func (n *archive) Run(ctx context.Context, st *pipeline.State) (pipeline.Patch, error) {
	tele := *st.Telemetry
	tele.CacheHit = st.CacheHit
	tele.HopsUsed = n.hopsUsed(st)
	tele.TotalDurationMs = time.Since(st.StartedAt).Milliseconds()

	var answer *string
	if st.Has(pipeline.FieldAnswer) {
		a := st.Answer
		answer = &a
	}

	rec := &models.QueryRecord{
		ID:               st.QueryID,
		Question:         st.Question,
		NormalizedKey:    st.NormalizedKey,
		Answer:           answer,
		Confidence:       st.Confidence,
		Sources:          st.Sources,
		Action:           st.RouteAction,
		EscalationReason: st.EscalationReason,
		Telemetry:        tele,
		UserID:           st.UserID,
		SessionID:        st.SessionID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := n.records.Insert(ctx, rec); err != nil {
		return nil, &pipeline.NodeError{Kind: pipeline.ErrKindUpstream, Retryable: true, Err: err}
	}

	metrics.QueriesTotal.WithLabelValues(st.RouteAction).Inc()
	n.logger.Info("query archived",
		"query_id", st.QueryID,
		"action", st.RouteAction,
		"cache_hit", st.CacheHit,
		"confidence", st.Confidence,
	)
	return pipeline.Patch{pipeline.FieldRecord: rec}, nil
}

// hopsUsed reconstructs the hop count when multi_hop never ran: a query with
// sources spent exactly the initial retrieval, a blocked or cached one none.
func (n *archive) hopsUsed(st *pipeline.State) int {
	if st.Has(pipeline.FieldHopsUsed) {
		return st.HopsUsed
	}
	if len(st.Sources) > 0 && !st.CacheHit {
		return 1
	}
	return 0
}
