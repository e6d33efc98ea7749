package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
)

func TestEmitEventsPublishesCompletion(t *testing.T) {
	fx := newFixture(t)
	node := buildNode(t, fx, "emit_events")

	st := queryState("How do I reset my password?")
	seed(t, st, map[string]any{
		pipeline.FieldRouteAction: models.ActionAutoReply,
		pipeline.FieldAnswer:      "Use the forgot password link.",
		pipeline.FieldConfidence:  0.9,
		pipeline.FieldSources:     []models.Source{{PairID: "p1", Relevance: 0.93}},
	})
	_, err := node.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, fx.events.completed, 1)
	require.Empty(t, fx.events.escalated)
	evt := fx.events.completed[0]
	assert.Equal(t, st.QueryID, evt.QueryID)
	assert.Equal(t, "Use the forgot password link.", evt.Answer)
	assert.Equal(t, []string{"p1"}, evt.Sources)
	assert.GreaterOrEqual(t, evt.LatencyMs, int64(0))
	assert.NotEmpty(t, evt.Timestamp)
}

func TestEmitEventsPublishesEscalation(t *testing.T) {
	fx := newFixture(t)
	node := buildNode(t, fx, "emit_events")

	st := queryState("How do I dispute a charge?")
	seed(t, st, map[string]any{
		pipeline.FieldRouteAction:      models.ActionEscalate,
		pipeline.FieldEscalationReason: models.EscalationRequiresHandoff,
		pipeline.FieldConfidence:       0.95,
	})
	_, err := node.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, fx.events.escalated, 1)
	require.Empty(t, fx.events.completed)
	assert.Equal(t, models.EscalationRequiresHandoff, fx.events.escalated[0].Reason)
}

func TestEmitEventsPublishesSessionEscalation(t *testing.T) {
	fx := newFixture(t)
	node := buildNode(t, fx, "emit_events")

	sess := &models.Session{
		UserID:    "user-1",
		SessionID: "sess-1",
		State:     models.DialogStateEscalated,
		Turns:     []models.Turn{{Role: models.RoleUser, Content: "hi"}, {Role: models.RoleAssistant, Content: "hello"}},
	}
	st := sessionState("Why was I charged twice?", "sess-1")
	seed(t, st, map[string]any{
		pipeline.FieldRouteAction:      models.ActionEscalate,
		pipeline.FieldEscalationReason: models.EscalationLoopDetected,
		pipeline.FieldDialogState:      models.DialogStateEscalated,
		pipeline.FieldSession:          sess,
	})
	_, err := node.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, fx.events.sessions, 1)
	evt := fx.events.sessions[0]
	assert.Equal(t, "sess-1", evt.SessionID)
	assert.Equal(t, models.EscalationLoopDetected, evt.Reason)
	assert.Equal(t, 2, evt.Turns)
}

func TestEmitEventsPublishFailureIsNotFatal(t *testing.T) {
	fx := newFixture(t)
	fx.events.err = errors.New("webhook endpoint down")
	node := buildNode(t, fx, "emit_events")

	st := queryState("How do I reset my password?")
	seed(t, st, map[string]any{
		pipeline.FieldRouteAction: models.ActionAutoReply,
		pipeline.FieldAnswer:      "Use the forgot password link.",
	})
	_, err := node.Run(context.Background(), st)
	assert.NoError(t, err)
}

func TestArchivePersistsRecord(t *testing.T) {
	fx := newFixture(t)
	node := buildNode(t, fx, "archive")

	st := queryState("How do I reset my password?")
	seed(t, st, map[string]any{
		pipeline.FieldNormalizedKey: "how do i reset my password",
		pipeline.FieldRouteAction:   models.ActionAutoReply,
		pipeline.FieldAnswer:        "Use the forgot password link.",
		pipeline.FieldConfidence:    0.9,
		pipeline.FieldSources:       []models.Source{{PairID: "p1", Relevance: 0.93}},
	})
	patch, err := node.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, fx.records.records, 1)
	rec := fx.records.records[0]
	assert.Same(t, rec, patch[pipeline.FieldRecord])

	assert.Equal(t, st.QueryID, rec.ID)
	assert.Equal(t, models.ActionAutoReply, rec.Action)
	require.NotNil(t, rec.Answer)
	assert.Equal(t, "Use the forgot password link.", *rec.Answer)
	assert.Equal(t, "how do i reset my password", rec.NormalizedKey)
	assert.False(t, rec.Telemetry.CacheHit)
	assert.Equal(t, 1, rec.Telemetry.HopsUsed, "sources without multi_hop mean one retrieval pass")
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestArchiveKeepsExplicitHopCount(t *testing.T) {
	fx := newFixture(t)
	node := buildNode(t, fx, "archive")

	st := queryState("How do I get a refund for a cancelled order?")
	seed(t, st, map[string]any{
		pipeline.FieldRouteAction: models.ActionAutoReply,
		pipeline.FieldAnswer:      "Request the refund from the order page.",
		pipeline.FieldSources:     []models.Source{{PairID: "b1", Relevance: 0.9}},
		pipeline.FieldHopsUsed:    2,
	})
	_, err := node.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, fx.records.records, 1)
	assert.Equal(t, 2, fx.records.records[0].Telemetry.HopsUsed)
}

func TestArchiveCacheHitSpendsNoHops(t *testing.T) {
	fx := newFixture(t)
	node := buildNode(t, fx, "archive")

	st := queryState("How do I reset my password?")
	seed(t, st, map[string]any{
		pipeline.FieldRouteAction: models.ActionAutoReply,
		pipeline.FieldAnswer:      "Use the forgot password link.",
		pipeline.FieldCacheHit:    true,
		pipeline.FieldSources:     []models.Source{{PairID: "p1", Relevance: 0.9}},
	})
	_, err := node.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, fx.records.records, 1)
	rec := fx.records.records[0]
	assert.True(t, rec.Telemetry.CacheHit)
	assert.Equal(t, 0, rec.Telemetry.HopsUsed)
}

func TestArchiveEscalationWithoutAnswer(t *testing.T) {
	fx := newFixture(t)
	node := buildNode(t, fx, "archive")

	st := queryState("Can you write me a poem about dolphins?")
	seed(t, st, map[string]any{
		pipeline.FieldRouteAction:      models.ActionEscalate,
		pipeline.FieldEscalationReason: models.EscalationNoRelevantContext,
	})
	_, err := node.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, fx.records.records, 1)
	rec := fx.records.records[0]
	assert.Nil(t, rec.Answer)
	assert.Equal(t, models.EscalationNoRelevantContext, rec.EscalationReason)
	assert.Equal(t, 0, rec.Telemetry.HopsUsed)
}

func TestArchiveInsertFailureIsFatal(t *testing.T) {
	fx := newFixture(t)
	fx.records.err = errors.New("database gone")
	node := buildNode(t, fx, "archive")

	st := queryState("How do I reset my password?")
	seed(t, st, map[string]any{pipeline.FieldRouteAction: models.ActionAutoReply})

	_, err := node.Run(context.Background(), st)
	var nerr *pipeline.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, pipeline.ErrKindUpstream, nerr.Kind)
	assert.True(t, nerr.Retryable)
}
