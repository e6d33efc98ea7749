package pipeline

// Contract declares what a node reads and writes. The engine projects the
// node's input view from RequiredInputs plus OptionalInputs, refuses to run
// the node when a required input is absent, and checks the returned patch
// against the declared outputs.
type Contract struct {
	// RequiredInputs must all be present before the node runs.
	RequiredInputs []string
	// OptionalInputs are projected when present but never block execution.
	OptionalInputs []string
	// GuaranteedOutputs must appear in every successful patch.
	GuaranteedOutputs []string
	// ConditionalOutputs may appear depending on what the node observed.
	ConditionalOutputs []string
}

// inputs returns the union of required and optional input fields.
func (c Contract) inputs() []string {
	out := make([]string, 0, len(c.RequiredInputs)+len(c.OptionalInputs))
	out = append(out, c.RequiredInputs...)
	out = append(out, c.OptionalInputs...)
	return out
}

// allowedOutput reports whether the contract declares field as an output.
func (c Contract) allowedOutput(field string) bool {
	for _, f := range c.GuaranteedOutputs {
		if f == field {
			return true
		}
	}
	for _, f := range c.ConditionalOutputs {
		if f == field {
			return true
		}
	}
	return false
}
