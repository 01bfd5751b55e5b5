package environment

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
)

// TimeLimit wraps an Environment to truncate episodes after a fixed
// number of steps and to reject steps taken after an episode has ended.
// A step that both reaches the limit and terminates naturally is
// reported as terminated only.
type TimeLimit struct {
	Environment
	maxSteps int
	steps    int
	done     bool
	started  bool
}

// NewTimeLimit returns env truncated at maxSteps steps per episode.
// A non-positive maxSteps disables truncation but keeps the reset
// bookkeeping.
func NewTimeLimit(env Environment, maxSteps int) *TimeLimit {
	return &TimeLimit{Environment: env, maxSteps: maxSteps}
}

// Reset implements the Environment interface
func (t *TimeLimit) Reset(seed uint64) (backend.ValueBuffer, error) {
	state, err := t.Environment.Reset(seed)
	if err != nil {
		return backend.ValueBuffer{}, err
	}
	t.steps = 0
	t.done = false
	t.started = true
	return state, nil
}

// Step implements the Environment interface
func (t *TimeLimit) Step(action backend.ValueBuffer) (Snapshot, error) {
	if !t.started || t.done {
		return Snapshot{}, fmt.Errorf("step: %w", ErrNeedsReset)
	}

	snap, err := t.Environment.Step(action)
	if err != nil {
		return Snapshot{}, err
	}
	t.steps++

	if !snap.Terminated && t.maxSteps > 0 && t.steps >= t.maxSteps {
		snap.Truncated = true
	}
	t.done = snap.Done()
	return snap, nil
}

// Steps returns the number of steps taken in the current episode
func (t *TimeLimit) Steps() int {
	return t.steps
}
