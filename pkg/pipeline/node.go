package pipeline

import "context"

// Patch is the set of field writes a node proposes. Keys are canonical field
// names; the engine validates each against the node's contract before
// applying it through the field's reducer.
type Patch map[string]any

// Node is a single pipeline stage. Run receives a projected copy of the
// state containing only the node's declared inputs and returns a patch; it
// must not mutate shared structures reachable from other nodes' fields.
type Node interface {
	Name() string
	Contract() Contract
	Run(ctx context.Context, st *State) (Patch, error)
}

// Brancher lets a node redirect the flow after it runs. When ok is true the
// engine jumps forward to the named node, recording every node in between as
// skipped. Jumps only move forward; a target behind the cursor is a
// configuration error.
type Brancher interface {
	Branch(st *State) (target string, ok bool)
}

// Gate lets a node opt out of running based on the current state. A node
// whose Applies returns false is recorded as skipped.
type Gate interface {
	Applies(st *State) bool
}

// Recoverer supplies a fallback patch for nodes configured with the recover
// failure policy. The engine applies the returned patch in place of the
// failed run's output.
type Recoverer interface {
	Recover(st *State) Patch
}
