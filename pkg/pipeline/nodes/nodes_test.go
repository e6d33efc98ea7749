package nodes

import (
	"context"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/cache"
	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/events"
	"github.com/replyworks/sage/pkg/guardrails"
	"github.com/replyworks/sage/pkg/intent"
	"github.com/replyworks/sage/pkg/kv"
	"github.com/replyworks/sage/pkg/llm"
	"github.com/replyworks/sage/pkg/models"
	"github.com/replyworks/sage/pkg/pipeline"
	"github.com/replyworks/sage/pkg/search"
	"github.com/replyworks/sage/pkg/session"
	"github.com/replyworks/sage/pkg/store"
)

func mkPair(id, question, answer, category, intentName string) models.QAPair {
	return models.QAPair{
		ID:       id,
		Question: question,
		Answer:   answer,
		Category: category,
		Intent:   intentName,
		Language: models.LanguageEnglish,
		Status:   models.PairStatusActive,
	}
}

// testCorpus is a small bilingual-support corpus: account and shipping pairs
// for retrieval tests plus a billing cluster wired with see_also links for
// multi-hop tests.
func testCorpus() []models.QAPair {
	refund := mkPair("b1", "How do I get a refund for a cancelled order?",
		"Request the refund from the order page; cancelled order refunds arrive in 5 days.",
		"billing", "refunds")
	refund.SeeAlso = []string{"b2"}

	return []models.QAPair{
		mkPair("p1", "How do I reset my password?",
			"Use the forgot password link on the login page to reset your password.",
			"account", "password_reset"),
		mkPair("p2", "How do I change my email address?",
			"Open account settings and edit the email field.",
			"account", "email_change"),
		mkPair("p4", "How do I track my order?",
			"Use the tracking link in your confirmation email to track the order.",
			"shipping", "order_tracking"),
		refund,
		mkPair("b2", "How do I cancel my order?",
			"Cancel the order from your order history before it ships; the refund follows.",
			"billing", "cancellations"),
		mkPair("b3", "When does a refund for a cancelled order arrive?",
			"A refund for a cancelled order arrives within 5 business days.",
			"billing", "refunds"),
	}
}

// fakeVectors serves scripted hits and records the filters and depths the
// hybrid layer asked for.
type fakeVectors struct {
	corpus  map[string]models.QAPair
	hits    []store.VectorHit
	filters []*models.SearchFilter
	topKs   []int
}

func (f *fakeVectors) Search(_ context.Context, _ []float32, topK int, filter *models.SearchFilter) ([]store.VectorHit, error) {
	f.filters = append(f.filters, filter)
	f.topKs = append(f.topKs, topK)
	out := make([]store.VectorHit, 0, len(f.hits))
	for _, h := range f.hits {
		p := f.corpus[h.PairID]
		if filter != nil && filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if len(out) == topK {
			break
		}
		out = append(out, h)
	}
	return out, nil
}

// fakePairs hydrates candidates and serves the hop fetcher.
type fakePairs struct {
	corpus  map[string]models.QAPair
	byTopic map[string][]string
}

func (f *fakePairs) GetMany(_ context.Context, ids []string) ([]models.QAPair, error) {
	out := make([]models.QAPair, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.corpus[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePairs) ListByCategoryIntent(_ context.Context, category, intentName string, limit int) ([]models.QAPair, error) {
	out := make([]models.QAPair, 0)
	for _, id := range f.byTopic[category+"/"+intentName] {
		if len(out) == limit {
			break
		}
		out = append(out, f.corpus[id])
	}
	return out, nil
}

type fakeInserter struct {
	records []*models.QueryRecord
	err     error
}

func (f *fakeInserter) Insert(_ context.Context, rec *models.QueryRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

type fakeSink struct {
	completed []events.QueryCompletedPayload
	escalated []events.QueryEscalatedPayload
	sessions  []events.SessionEscalatedPayload
	err       error
}

func (f *fakeSink) PublishQueryCompleted(_ context.Context, p events.QueryCompletedPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.completed = append(f.completed, p)
	return "evt_completed", nil
}

func (f *fakeSink) PublishQueryEscalated(_ context.Context, p events.QueryEscalatedPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.escalated = append(f.escalated, p)
	return "evt_escalated", nil
}

func (f *fakeSink) PublishSessionEscalated(_ context.Context, p events.SessionEscalatedPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sessions = append(f.sessions, p)
	return "evt_session", nil
}

type fakeMatcher struct {
	snap *intent.Snapshot
}

func (f *fakeMatcher) Current() *intent.Snapshot {
	if f.snap != nil {
		return f.snap
	}
	return &intent.Snapshot{}
}

// fixture wires the full dependency set on miniredis and the fake provider.
type fixture struct {
	deps     Deps
	cfg      *config.Config
	provider *llm.Fake
	vectors  *fakeVectors
	records  *fakeInserter
	events   *fakeSink
	matcher  *fakeMatcher
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, config.DefaultConfig())
}

func newFixtureWithConfig(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	kvStore := kv.NewWithClient(client, "sage")

	provider := llm.NewFake(32)

	corpus := map[string]models.QAPair{}
	for _, p := range testCorpus() {
		corpus[p.ID] = p
	}
	vectors := &fakeVectors{
		corpus: corpus,
		hits: []store.VectorHit{
			{PairID: "p1", Score: 0.93},
			{PairID: "p2", Score: 0.71},
			{PairID: "p4", Score: 0.40},
		},
	}
	pairs := &fakePairs{
		corpus: corpus,
		byTopic: map[string][]string{
			"billing/refunds":       {"b1", "b3"},
			"billing/cancellations": {"b2"},
		},
	}
	lexical := search.NewLexicalIndex()
	lexical.Rebuild(testCorpus())

	answers, err := cache.New(kvStore, cfg.Cache)
	require.NoError(t, err)

	fx := &fixture{
		cfg:      cfg,
		provider: provider,
		vectors:  vectors,
		records:  &fakeInserter{},
		events:   &fakeSink{},
		matcher:  &fakeMatcher{},
		redis:    mr,
	}
	fx.deps = Deps{
		Provider: provider,
		Cache:    answers,
		Sessions: session.NewManager(kvStore, cfg.Session),
		Hybrid:   search.NewHybrid(vectors, pairs, lexical, provider, cfg.Search),
		Reranker: search.NewReranker(provider, cfg.Search),
		Expander: search.NewExpander(pairs, cfg.Search),
		Registry: fx.matcher,
		Input:    guardrails.NewInputScreen(cfg.Guardrails),
		Output:   guardrails.NewOutputScreen(cfg.Guardrails),
		Records:  fx.records,
		Events:   fx.events,
	}
	return fx
}

func buildNode(t *testing.T, fx *fixture, name string) pipeline.Node {
	t.Helper()
	n, err := Build(name, fx.deps, fx.cfg)
	require.NoError(t, err)
	return n
}

func queryState(question string) *pipeline.State {
	return pipeline.NewState(models.QueryRequest{Question: question, UserID: "user-1"})
}

func seed(t *testing.T, st *pipeline.State, fields map[string]any) {
	t.Helper()
	for f, v := range fields {
		require.NoError(t, st.Set(f, v))
	}
}

func boolPtr(b bool) *bool        { return &b }
func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }

func TestBuildConstructsEveryConfiguredNode(t *testing.T) {
	fx := newFixture(t)

	for _, name := range config.DefaultNodeOrder {
		n, err := Build(name, fx.deps, fx.cfg)
		require.NoError(t, err, name)
		assert.Equal(t, name, n.Name())
	}

	_, err := Build("no_such_node", fx.deps, fx.cfg)
	assert.ErrorContains(t, err, "unknown pipeline node")
}

func TestKnownCoversTheDefaultOrder(t *testing.T) {
	want := append([]string(nil), config.DefaultNodeOrder...)
	sort.Strings(want)
	assert.Equal(t, want, Known())
}

// TestDefaultGraphAssembles is the contract conformance check: the engine
// rejects any node whose contract names an unknown state field, so a full
// assembly proves every declared field exists in the field table.
func TestDefaultGraphAssembles(t *testing.T) {
	fx := newFixture(t)

	built := make([]pipeline.Node, 0, len(config.DefaultNodeOrder))
	for _, name := range config.DefaultNodeOrder {
		n, err := Build(name, fx.deps, fx.cfg)
		require.NoError(t, err)
		built = append(built, n)
	}
	_, err := pipeline.NewEngine(built, fx.cfg.Pipeline)
	require.NoError(t, err)
}

func TestQueryListKeepsQuestionFirst(t *testing.T) {
	queries := queryList("reset password", []string{"reset password", "restablecer contraseña"})
	assert.Equal(t, []string{"reset password", "restablecer contraseña"}, queries)

	assert.Equal(t, []string{"reset password"}, queryList("reset password", nil))
}
