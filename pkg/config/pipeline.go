package config

import "time"

// Node failure modes. They decide what the engine does when a node fails:
// fatal terminates the query, recover applies the node's documented default
// patch, bypass leaves state untouched and moves on.
const (
	FailureFatal   = "fatal"
	FailureRecover = "recover"
	FailureBypass  = "bypass"
)

// NodeConfig is the per-node tuning block.
type NodeConfig struct {
	// Enabled defaults to true for nodes present in the order. Optional
	// nodes are dropped from the graph when disabled.
	Enabled *bool `yaml:"enabled,omitempty"`

	// OnError is one of fatal|recover|bypass.
	OnError string `yaml:"on_error,omitempty"`

	// Timeout overrides pipeline.node_timeout for this node.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// PipelineConfig declares the query graph: a linear order of node names plus
// per-node settings. Conditional edges are contributed by the nodes
// themselves and are not configurable.
type PipelineConfig struct {
	// NodeOrder is the linear execution order of enabled nodes. Validation
	// enforces that input_guardrails precedes cache_lookup and that every
	// branch target exists later in the order.
	NodeOrder []string `yaml:"node_order"`

	// StrictContracts rejects undeclared node outputs and fails queries on
	// missing guaranteed fields. When off, violations log and the node's
	// patch is skipped.
	StrictContracts *bool `yaml:"strict_contracts,omitempty"`

	// NodeTimeout is the default per-node deadline.
	NodeTimeout time.Duration `yaml:"node_timeout"`

	// Nodes holds per-node overrides keyed by node name.
	Nodes map[string]NodeConfig `yaml:"nodes,omitempty"`
}

// Strict reports whether strict contract mode is on (default true).
func (p *PipelineConfig) Strict() bool {
	return p.StrictContracts == nil || *p.StrictContracts
}

// NodeEnabled reports whether the named node is enabled.
func (p *PipelineConfig) NodeEnabled(name string) bool {
	nc, ok := p.Nodes[name]
	if !ok || nc.Enabled == nil {
		return true
	}
	return *nc.Enabled
}

// NodeOnError returns the failure mode for the named node, defaulting to
// fatal, which is the conservative choice for unlisted nodes.
func (p *PipelineConfig) NodeOnError(name string) string {
	if nc, ok := p.Nodes[name]; ok && nc.OnError != "" {
		return nc.OnError
	}
	return FailureFatal
}

// NodeTimeoutFor returns the effective timeout for the named node.
func (p *PipelineConfig) NodeTimeoutFor(name string) time.Duration {
	if nc, ok := p.Nodes[name]; ok && nc.Timeout > 0 {
		return nc.Timeout
	}
	return p.NodeTimeout
}
