package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/models"
)

type stubNode struct {
	name     string
	contract Contract
	run      func(ctx context.Context, st *State) (Patch, error)
}

func (n *stubNode) Name() string       { return n.name }
func (n *stubNode) Contract() Contract { return n.contract }

func (n *stubNode) Run(ctx context.Context, st *State) (Patch, error) {
	if n.run == nil {
		return Patch{}, nil
	}
	return n.run(ctx, st)
}

type branchStub struct {
	stubNode
	branch func(st *State) (string, bool)
}

func (n *branchStub) Branch(st *State) (string, bool) { return n.branch(st) }

type gateStub struct {
	stubNode
	applies func(st *State) bool
}

func (n *gateStub) Applies(st *State) bool { return n.applies(st) }

type recoverStub struct {
	stubNode
	patch Patch
}

func (n *recoverStub) Recover(st *State) Patch { return n.patch }

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{NodeTimeout: time.Second}
}

func laxPipelineConfig() *config.PipelineConfig {
	strict := false
	cfg := testPipelineConfig()
	cfg.StrictContracts = &strict
	return cfg
}

func newQueryState() *State {
	return NewState(models.QueryRequest{Question: "How do I reset my password?", UserID: "usr_1"})
}

func traceStatuses(st *State) []string {
	out := make([]string, 0, len(st.Telemetry.Nodes))
	for _, tr := range st.Telemetry.Nodes {
		out = append(out, tr.Node+":"+tr.Status)
	}
	return out
}

func TestEngineRunsNodesInOrder(t *testing.T) {
	detect := &stubNode{
		name:     "detect",
		contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldLanguage}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return Patch{FieldLanguage: "en"}, nil
		},
	}
	classify := &stubNode{
		name:     "classify",
		contract: Contract{RequiredInputs: []string{FieldQuestion, FieldLanguage}, GuaranteedOutputs: []string{FieldCategory}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			require.Equal(t, "en", st.Language)
			return Patch{FieldCategory: "account"}, nil
		},
	}

	eng, err := NewEngine([]Node{detect, classify}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))

	assert.Equal(t, "en", st.Language)
	assert.Equal(t, "account", st.Category)
	assert.Equal(t, []string{"detect:ok", "classify:ok"}, traceStatuses(st))
	assert.GreaterOrEqual(t, st.Telemetry.TotalDurationMs, int64(0))
}

func TestEngineSuccessfulNodeTraceHasNoError(t *testing.T) {
	ok := &stubNode{
		name:     "detect",
		contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldLanguage}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return Patch{FieldLanguage: "en"}, nil
		},
	}

	eng, err := NewEngine([]Node{ok}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))

	require.Len(t, st.Telemetry.Nodes, 1)
	assert.Equal(t, StatusOK, st.Telemetry.Nodes[0].Status)
	assert.Empty(t, st.Telemetry.Nodes[0].Error, "a clean run must not record an error string")
}

func TestEngineProjectsDeclaredInputsOnly(t *testing.T) {
	var sawQuestion, sawLanguage bool
	probe := &stubNode{
		name:     "probe",
		contract: Contract{RequiredInputs: []string{FieldLanguage}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			sawQuestion = st.Has(FieldQuestion)
			sawLanguage = st.Has(FieldLanguage)
			return nil, nil
		},
	}

	eng, err := NewEngine([]Node{probe}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, st.Set(FieldLanguage, "es"))
	require.NoError(t, eng.Run(context.Background(), st))

	assert.True(t, sawLanguage)
	assert.False(t, sawQuestion, "undeclared input must not be visible to the node")
}

func TestEngineStrictMissingRequiredInput(t *testing.T) {
	needy := &stubNode{
		name:     "needy",
		contract: Contract{RequiredInputs: []string{FieldCategory}},
	}

	eng, err := NewEngine([]Node{needy}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	err = eng.Run(context.Background(), st)

	var cv *ContractViolation
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, "needy", cv.Node)
	assert.Equal(t, FieldCategory, cv.Field)
	assert.Equal(t, DirectionInput, cv.Direction)
	assert.Equal(t, []string{"needy:failed"}, traceStatuses(st))
}

func TestEngineLaxMissingInputSkipsNode(t *testing.T) {
	ran := false
	needy := &stubNode{
		name:     "needy",
		contract: Contract{RequiredInputs: []string{FieldCategory}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			ran = true
			return nil, nil
		},
	}
	after := &stubNode{name: "after", contract: Contract{RequiredInputs: []string{FieldQuestion}}}

	eng, err := NewEngine([]Node{needy, after}, laxPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))

	assert.False(t, ran)
	assert.Equal(t, []string{"needy:skipped", "after:ok"}, traceStatuses(st))
}

func TestEngineStrictRejectsUndeclaredOutput(t *testing.T) {
	sneaky := &stubNode{
		name:     "sneaky",
		contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldLanguage}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return Patch{FieldLanguage: "en", FieldAnswer: "surprise"}, nil
		},
	}

	eng, err := NewEngine([]Node{sneaky}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	err = eng.Run(context.Background(), st)

	var cv *ContractViolation
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, FieldAnswer, cv.Field)
	assert.Equal(t, DirectionOutput, cv.Direction)
}

func TestEngineLaxPrunesUndeclaredOutput(t *testing.T) {
	sneaky := &stubNode{
		name:     "sneaky",
		contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldLanguage}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return Patch{FieldLanguage: "en", FieldAnswer: "surprise"}, nil
		},
	}

	eng, err := NewEngine([]Node{sneaky}, laxPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))

	assert.Equal(t, "en", st.Language)
	assert.False(t, st.Has(FieldAnswer), "undeclared write must be pruned")
	assert.Equal(t, []string{"sneaky:ok"}, traceStatuses(st))
}

func TestEngineStrictRequiresGuaranteedOutputs(t *testing.T) {
	flaky := &stubNode{
		name:     "flaky",
		contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldLanguage}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return Patch{}, nil
		},
	}

	eng, err := NewEngine([]Node{flaky}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	err = eng.Run(context.Background(), st)

	var cv *ContractViolation
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, FieldLanguage, cv.Field)
	assert.Equal(t, DirectionOutput, cv.Direction)
	assert.Equal(t, "guaranteed output missing", cv.Detail)
}

func TestEngineLaxDropsPatchOnMissingGuaranteedOutput(t *testing.T) {
	flaky := &stubNode{
		name: "flaky",
		contract: Contract{
			RequiredInputs:    []string{FieldQuestion},
			GuaranteedOutputs: []string{FieldLanguage, FieldNormalizedKey},
		},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return Patch{FieldLanguage: "en"}, nil
		},
	}

	eng, err := NewEngine([]Node{flaky}, laxPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))

	assert.False(t, st.Has(FieldLanguage), "partial patch must be dropped whole")
	assert.Equal(t, []string{"flaky:ok"}, traceStatuses(st))
}

func TestEngineFatalPolicyStopsPipeline(t *testing.T) {
	boom := &stubNode{
		name:     "boom",
		contract: Contract{RequiredInputs: []string{FieldQuestion}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return nil, errors.New("provider exploded")
		},
	}
	after := &stubNode{name: "after", contract: Contract{RequiredInputs: []string{FieldQuestion}}}

	eng, err := NewEngine([]Node{boom, after}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	err = eng.Run(context.Background(), st)

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "boom", nerr.Node)
	assert.Equal(t, ErrKindInternal, nerr.Kind)
	assert.Equal(t, []string{"boom:failed"}, traceStatuses(st))
}

func TestEngineBypassPolicyContinues(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Nodes = map[string]config.NodeConfig{
		"boom": {OnError: config.FailureBypass},
	}
	boom := &stubNode{
		name:     "boom",
		contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldLanguage}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return nil, errors.New("provider exploded")
		},
	}
	after := &stubNode{name: "after", contract: Contract{RequiredInputs: []string{FieldQuestion}}}

	eng, err := NewEngine([]Node{boom, after}, cfg)
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))

	assert.False(t, st.Has(FieldLanguage), "bypassed node must leave state untouched")
	assert.Equal(t, []string{"boom:bypassed", "after:ok"}, traceStatuses(st))
	assert.Contains(t, st.Telemetry.Nodes[0].Error, "provider exploded")
}

func TestEngineRecoverPolicyAppliesDefaultPatch(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Nodes = map[string]config.NodeConfig{
		"expand": {OnError: config.FailureRecover},
	}
	expand := &recoverStub{
		stubNode: stubNode{
			name:     "expand",
			contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldExpandedQueries}},
			run: func(ctx context.Context, st *State) (Patch, error) {
				return nil, errors.New("llm unavailable")
			},
		},
		patch: Patch{FieldExpandedQueries: []string{"How do I reset my password?"}},
	}

	eng, err := NewEngine([]Node{expand}, cfg)
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))

	assert.Equal(t, []string{"How do I reset my password?"}, st.ExpandedQueries)
	assert.Equal(t, []string{"expand:recovered"}, traceStatuses(st))
	assert.Contains(t, st.Telemetry.Nodes[0].Error, "llm unavailable")
}

func TestEngineRecoverWithoutRecovererBypasses(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Nodes = map[string]config.NodeConfig{
		"plain": {OnError: config.FailureRecover},
	}
	plain := &stubNode{
		name:     "plain",
		contract: Contract{RequiredInputs: []string{FieldQuestion}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return nil, errors.New("nope")
		},
	}

	eng, err := NewEngine([]Node{plain}, cfg)
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))
	assert.Equal(t, []string{"plain:bypassed"}, traceStatuses(st))
}

func TestEngineClassifiesNodeTimeout(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Nodes = map[string]config.NodeConfig{
		"slow": {Timeout: 20 * time.Millisecond},
	}
	slow := &stubNode{
		name:     "slow",
		contract: Contract{RequiredInputs: []string{FieldQuestion}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return Patch{}, nil
			}
		},
	}

	eng, err := NewEngine([]Node{slow}, cfg)
	require.NoError(t, err)

	st := newQueryState()
	err = eng.Run(context.Background(), st)

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, ErrKindTimeout, nerr.Kind)
	assert.True(t, nerr.Retryable)
}

func TestEngineKeepsNodeErrorClassification(t *testing.T) {
	boom := &stubNode{
		name:     "boom",
		contract: Contract{RequiredInputs: []string{FieldQuestion}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return nil, &NodeError{Kind: ErrKindUpstream, Retryable: true, Err: errors.New("502 from provider")}
		},
	}

	eng, err := NewEngine([]Node{boom}, testPipelineConfig())
	require.NoError(t, err)

	err = eng.Run(context.Background(), newQueryState())

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "boom", nerr.Node, "engine must fill the node name")
	assert.Equal(t, ErrKindUpstream, nerr.Kind)
}

func TestEngineBranchJumpSkipsIntermediates(t *testing.T) {
	screen := &branchStub{
		stubNode: stubNode{
			name:     "screen",
			contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldBlocked}},
			run: func(ctx context.Context, st *State) (Patch, error) {
				return Patch{FieldBlocked: true}, nil
			},
		},
		branch: func(st *State) (string, bool) {
			return "refuse", st.Blocked
		},
	}
	var middleRan bool
	middle := &stubNode{
		name:     "middle",
		contract: Contract{RequiredInputs: []string{FieldQuestion}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			middleRan = true
			return nil, nil
		},
	}
	refuse := &stubNode{
		name:     "refuse",
		contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldAnswer}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return Patch{FieldAnswer: "cannot help with that"}, nil
		},
	}

	eng, err := NewEngine([]Node{screen, middle, refuse}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))

	assert.False(t, middleRan)
	assert.Equal(t, "cannot help with that", st.Answer)
	assert.Equal(t, []string{"screen:ok", "middle:skipped", "refuse:ok"}, traceStatuses(st))
	assert.Zero(t, st.Telemetry.Nodes[1].DurationMs)
}

func TestEngineBranchNotTakenStaysLinear(t *testing.T) {
	screen := &branchStub{
		stubNode: stubNode{
			name:     "screen",
			contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldBlocked}},
			run: func(ctx context.Context, st *State) (Patch, error) {
				return Patch{FieldBlocked: false}, nil
			},
		},
		branch: func(st *State) (string, bool) {
			return "refuse", st.Blocked
		},
	}
	middle := &stubNode{name: "middle", contract: Contract{RequiredInputs: []string{FieldQuestion}}}
	refuse := &stubNode{name: "refuse", contract: Contract{RequiredInputs: []string{FieldQuestion}}}

	eng, err := NewEngine([]Node{screen, middle, refuse}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))
	assert.Equal(t, []string{"screen:ok", "middle:ok", "refuse:ok"}, traceStatuses(st))
}

func TestEngineStrictRejectsBackwardBranch(t *testing.T) {
	early := &stubNode{name: "early", contract: Contract{RequiredInputs: []string{FieldQuestion}}}
	jumper := &branchStub{
		stubNode: stubNode{name: "jumper", contract: Contract{RequiredInputs: []string{FieldQuestion}}},
		branch:   func(st *State) (string, bool) { return "early", true },
	}

	eng, err := NewEngine([]Node{early, jumper}, testPipelineConfig())
	require.NoError(t, err)

	err = eng.Run(context.Background(), newQueryState())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ahead in the order")
}

func TestEngineLaxIgnoresBadBranchTarget(t *testing.T) {
	jumper := &branchStub{
		stubNode: stubNode{name: "jumper", contract: Contract{RequiredInputs: []string{FieldQuestion}}},
		branch:   func(st *State) (string, bool) { return "nowhere", true },
	}
	after := &stubNode{name: "after", contract: Contract{RequiredInputs: []string{FieldQuestion}}}

	eng, err := NewEngine([]Node{jumper, after}, laxPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))
	assert.Equal(t, []string{"jumper:ok", "after:ok"}, traceStatuses(st))
}

func TestEngineGateSkipsNode(t *testing.T) {
	var ran bool
	hop := &gateStub{
		stubNode: stubNode{
			name:     "hop",
			contract: Contract{RequiredInputs: []string{FieldQuestion}},
			run: func(ctx context.Context, st *State) (Patch, error) {
				ran = true
				return nil, nil
			},
		},
		applies: func(st *State) bool { return st.NumHops > 1 },
	}

	eng, err := NewEngine([]Node{hop}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, st.Set(FieldNumHops, 1))
	require.NoError(t, eng.Run(context.Background(), st))

	assert.False(t, ran)
	assert.Equal(t, []string{"hop:skipped"}, traceStatuses(st))
}

func TestEngineLaterNodeWinsKeepLatestField(t *testing.T) {
	first := &stubNode{
		name:     "first",
		contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldAnswer}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return Patch{FieldAnswer: "draft"}, nil
		},
	}
	second := &stubNode{
		name:     "second",
		contract: Contract{RequiredInputs: []string{FieldQuestion}, GuaranteedOutputs: []string{FieldAnswer}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			return Patch{FieldAnswer: "final"}, nil
		},
	}

	eng, err := NewEngine([]Node{first, second}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	require.NoError(t, eng.Run(context.Background(), st))
	assert.Equal(t, "final", st.Answer)
}

func TestEngineAbortsBetweenNodesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubNode{
		name:     "first",
		contract: Contract{RequiredInputs: []string{FieldQuestion}},
		run: func(ctx context.Context, st *State) (Patch, error) {
			cancel()
			return Patch{}, nil
		},
	}
	second := &stubNode{name: "second", contract: Contract{RequiredInputs: []string{FieldQuestion}}}

	eng, err := NewEngine([]Node{first, second}, testPipelineConfig())
	require.NoError(t, err)

	st := newQueryState()
	err = eng.Run(ctx, st)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"first:ok"}, traceStatuses(st))
}

func TestNewEngineRejectsDuplicateNames(t *testing.T) {
	a := &stubNode{name: "dup", contract: Contract{}}
	b := &stubNode{name: "dup", contract: Contract{}}

	_, err := NewEngine([]Node{a, b}, testPipelineConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node")
}

func TestNewEngineRejectsUnknownContractField(t *testing.T) {
	bad := &stubNode{name: "bad", contract: Contract{GuaranteedOutputs: []string{"seventh_sense"}}}

	_, err := NewEngine([]Node{bad}, testPipelineConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}
