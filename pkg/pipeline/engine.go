package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/replyworks/sage/pkg/config"
	"github.com/replyworks/sage/pkg/metrics"
	"github.com/replyworks/sage/pkg/models"
)

// Trace statuses recorded per node in telemetry and on the node metric.
const (
	StatusOK        = "ok"
	StatusSkipped   = "skipped"
	StatusRecovered = "recovered"
	StatusBypassed  = "bypassed"
	StatusFailed    = "failed"
)

// Engine executes a fixed linear node order with node-contributed
// conditional jumps. One engine serves every query; per-query data lives in
// the State handed to Run, so Run is safe for concurrent use.
type Engine struct {
	nodes  []Node
	index  map[string]int
	cfg    *config.PipelineConfig
	logger *slog.Logger
}

// NewEngine wires the executable graph. The caller assembles the node slice
// from the configured order with disabled nodes already dropped; NewEngine
// rejects duplicate names and contracts that mention unknown state fields so
// wiring mistakes fail at startup instead of mid-query.
func NewEngine(nodes []Node, cfg *config.PipelineConfig) (*Engine, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		name := n.Name()
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate node %s", name)
		}
		index[name] = i
		c := n.Contract()
		for _, group := range [][]string{c.RequiredInputs, c.OptionalInputs, c.GuaranteedOutputs, c.ConditionalOutputs} {
			for _, f := range group {
				if _, ok := stateFields[f]; !ok {
					return nil, fmt.Errorf("node %s declares unknown field %s", name, f)
				}
			}
		}
	}
	return &Engine{
		nodes:  nodes,
		index:  index,
		cfg:    cfg,
		logger: slog.With("component", "pipeline"),
	}, nil
}

// Run drives st through the graph. Every node position leaves a telemetry
// trace, including gated, jumped-over, and failed nodes. The returned error
// is a *NodeError or *ContractViolation for node-level failures, or the
// context error when the query deadline fired between nodes.
func (e *Engine) Run(ctx context.Context, st *State) error {
	strict := e.cfg.Strict()
	defer func() {
		st.Telemetry.TotalDurationMs = time.Since(st.StartedAt).Milliseconds()
	}()

	for i := 0; i < len(e.nodes); i++ {
		node := e.nodes[i]
		name := node.Name()

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline aborted before %s: %w", name, err)
		}

		if g, ok := node.(Gate); ok && !g.Applies(st) {
			e.trace(st, name, StatusSkipped, 0, nil)
			continue
		}

		contract := node.Contract()
		if missing := firstMissingInput(st, contract); missing != "" {
			cv := &ContractViolation{Node: name, Field: missing, Direction: DirectionInput, Detail: "required input absent"}
			if strict {
				e.trace(st, name, StatusFailed, 0, cv)
				return cv
			}
			e.logger.Warn("skipping node, required input absent", "node", name, "field", missing)
			e.trace(st, name, StatusSkipped, 0, nil)
			continue
		}

		view := st.project(contract.inputs()...)
		nodeCtx := ctx
		cancel := context.CancelFunc(func() {})
		if d := e.cfg.NodeTimeoutFor(name); d > 0 {
			nodeCtx, cancel = context.WithTimeout(ctx, d)
		}
		start := time.Now()
		patch, err := node.Run(nodeCtx, view)
		cancel()
		elapsed := time.Since(start)

		status := StatusOK
		var runErr *NodeError
		if err != nil {
			runErr = classify(name, err)
			switch e.cfg.NodeOnError(name) {
			case config.FailureRecover:
				r, ok := node.(Recoverer)
				if !ok {
					e.logger.Warn("node failed with no recovery patch, bypassing",
						"node", name, "kind", runErr.Kind, "error", err)
					e.trace(st, name, StatusBypassed, elapsed, runErr)
					continue
				}
				e.logger.Warn("node failed, applying recovery patch",
					"node", name, "kind", runErr.Kind, "error", err)
				patch = r.Recover(st)
				status = StatusRecovered
			case config.FailureBypass:
				e.logger.Warn("node failed, bypassed",
					"node", name, "kind", runErr.Kind, "error", err)
				e.trace(st, name, StatusBypassed, elapsed, runErr)
				continue
			default:
				e.trace(st, name, StatusFailed, elapsed, runErr)
				return runErr
			}
		}

		if verr := e.applyPatch(st, name, contract, patch, start.Add(elapsed), strict); verr != nil {
			e.trace(st, name, StatusFailed, elapsed, verr)
			return verr
		}
		// A typed-nil *NodeError must not reach the error interface: only
		// recovered nodes carry one here.
		var traceErr error
		if runErr != nil {
			traceErr = runErr
		}
		e.trace(st, name, status, elapsed, traceErr)

		if b, ok := node.(Brancher); ok {
			if target, jump := b.Branch(st); jump {
				j, found := e.index[target]
				if !found || j <= i {
					err := fmt.Errorf("node %s: branch target %s is not ahead in the order", name, target)
					if strict {
						return err
					}
					e.logger.Warn("ignoring branch", "node", name, "target", target, "error", err)
					continue
				}
				for k := i + 1; k < j; k++ {
					e.trace(st, e.nodes[k].Name(), StatusSkipped, 0, nil)
				}
				i = j - 1
			}
		}
	}
	return nil
}

// applyPatch validates a node's output against its contract and merges it
// into st. Strict mode turns any violation into the returned error; lax mode
// drops the patch on a missing guaranteed output and prunes undeclared or
// mistyped fields.
func (e *Engine) applyPatch(st *State, name string, c Contract, patch Patch, finished time.Time, strict bool) error {
	for _, f := range c.GuaranteedOutputs {
		if _, ok := patch[f]; !ok {
			cv := &ContractViolation{Node: name, Field: f, Direction: DirectionOutput, Detail: "guaranteed output missing"}
			if strict {
				return cv
			}
			e.logger.Warn("dropping patch, guaranteed output missing", "node", name, "field", f)
			return nil
		}
	}

	fields := make([]string, 0, len(patch))
	for f := range patch {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		if !c.allowedOutput(f) {
			cv := &ContractViolation{Node: name, Field: f, Direction: DirectionOutput, Detail: "undeclared output"}
			if strict {
				return cv
			}
			e.logger.Warn("pruning undeclared output", "node", name, "field", f)
			continue
		}
		if err := st.apply(f, patch[f], finished); err != nil {
			var cv *ContractViolation
			if !errors.As(err, &cv) {
				cv = &ContractViolation{Node: name, Field: f, Direction: DirectionOutput, Detail: err.Error()}
			} else if cv.Node == "" {
				cv.Node = name
			}
			if strict {
				return cv
			}
			e.logger.Warn("pruning invalid output", "node", name, "field", f, "error", err)
		}
	}
	return nil
}

func (e *Engine) trace(st *State, name, status string, elapsed time.Duration, err error) {
	tr := models.NodeTrace{Node: name, Status: status, DurationMs: elapsed.Milliseconds()}
	if err != nil {
		tr.Error = err.Error()
	}
	st.Telemetry.Nodes = append(st.Telemetry.Nodes, tr)
	metrics.NodeDuration.WithLabelValues(name, status).Observe(elapsed.Seconds())
}

func firstMissingInput(st *State, c Contract) string {
	for _, f := range c.RequiredInputs {
		if !st.Has(f) {
			return f
		}
	}
	return ""
}

// classify maps a node's error to a NodeError. Nodes returning *NodeError
// keep their own classification; a blown node deadline becomes a timeout and
// anything else is internal.
func classify(name string, err error) *NodeError {
	var nerr *NodeError
	if errors.As(err, &nerr) {
		if nerr.Node == "" {
			nerr.Node = name
		}
		return nerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &NodeError{Node: name, Kind: ErrKindTimeout, Retryable: true, Err: err}
	}
	return &NodeError{Node: name, Kind: ErrKindInternal, Err: err}
}
