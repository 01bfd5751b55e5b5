package preprocess

import (
	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/policy"
)

// EarlyTermination removes the bias time limits introduce into value
// estimates. A step that was truncated rather than terminated has the
// discounted value of the state it reached added to its reward, so
// that treating it as done still credits the return beyond the cutoff.
type EarlyTermination struct {
	value *policy.ValueFunction
	gamma float64
}

// NewEarlyTermination returns an EarlyTermination bootstrapping with
// value
func NewEarlyTermination(value *policy.ValueFunction,
	gamma float64) *EarlyTermination {
	return &EarlyTermination{value: value, gamma: gamma}
}

// Process implements the Preprocessor interface
func (e *EarlyTermination) Process(_ *policy.Behaviour,
	buffers []*buffer.StateBuffer) error {
	for _, s := range buffers {
		if s == nil {
			continue
		}
		i := last(s)
		if !s.Truncated[i] {
			continue
		}
		bootstrap := e.gamma * e.value.Value(s.NextStates[i])
		s.Rewards[i] += float32(bootstrap)
	}
	return nil
}
