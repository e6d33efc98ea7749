package pipeline

import "fmt"

// ErrorKind classifies a node failure for policy and telemetry purposes.
type ErrorKind string

const (
	// ErrKindValidation marks bad or missing state the node cannot work with.
	ErrKindValidation ErrorKind = "validation"
	// ErrKindTimeout marks a node that exceeded its per-node deadline.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindUpstream marks a dependency failure (LLM, store, cache).
	ErrKindUpstream ErrorKind = "upstream"
	// ErrKindInternal marks everything else.
	ErrKindInternal ErrorKind = "internal"
)

// NodeError carries the failing node's name and a failure classification so
// the engine can apply the configured policy and the trace stays explicable.
type NodeError struct {
	Node      string
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *NodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("node %s: %s", e.Node, e.Kind)
	}
	return fmt.Sprintf("node %s: %s: %v", e.Node, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Direction of a contract violation.
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// ContractViolation reports a node reading or writing outside its declared
// contract, or a guaranteed output it failed to produce. In strict mode the
// engine surfaces it as a fatal pipeline error.
type ContractViolation struct {
	Node      string
	Field     string
	Direction string
	Detail    string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("contract violation: node %s, %s field %s: %s", e.Node, e.Direction, e.Field, e.Detail)
}
