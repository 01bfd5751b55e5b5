package buffer

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
	"gonum.org/v1/gonum/mat"
)

// Rollout is a contiguous sequence of steps taken in one environment
// under a fixed policy, stored as parallel sequences. Terminal is the
// state reached by the last step; its value bootstraps the advantage
// estimate of an unfinished trajectory.
type Rollout struct {
	States   []backend.ValueBuffer
	Actions  []backend.ValueBuffer
	Rewards  []float32
	Dones    []bool
	Terminal backend.ValueBuffer

	// EpisodeReturns holds the raw returns of the episodes that ended
	// during collection
	EpisodeReturns []float64
}

// Len returns the number of steps in the rollout
func (r Rollout) Len() int {
	return len(r.States)
}

// Validate checks that the parallel sequences have equal length
func (r Rollout) Validate() error {
	n := len(r.States)
	if len(r.Actions) != n || len(r.Rewards) != n || len(r.Dones) != n {
		return fmt.Errorf("validate: parallel sequences have unequal "+
			"length (%v, %v, %v, %v)", n, len(r.Actions), len(r.Rewards),
			len(r.Dones))
	}
	if n == 0 {
		return fmt.Errorf("validate: %w", ErrEmpty)
	}
	return nil
}

// StateMatrix returns the states followed by the terminal state as the
// rows of a [Len()+1, features] matrix, the batch over which the values
// of a rollout are computed
func (r Rollout) StateMatrix() (*mat.Dense, error) {
	states := make([]backend.ValueBuffer, 0, len(r.States)+1)
	states = append(states, r.States...)
	states = append(states, r.Terminal)
	m, err := backend.StackMat(states)
	if err != nil {
		return nil, fmt.Errorf("stateMatrix: %w", err)
	}
	return m, nil
}

// TotalReward returns the sum of rewards in the rollout
func (r Rollout) TotalReward() float64 {
	var total float64
	for _, reward := range r.Rewards {
		total += float64(reward)
	}
	return total
}

// TotalSteps returns the number of steps over all rollouts
func TotalSteps(rollouts []Rollout) int {
	var n int
	for _, r := range rollouts {
		n += r.Len()
	}
	return n
}

// EpisodeReturns returns the returns of all episodes completed over
// all rollouts, in rollout order
func EpisodeReturns(rollouts []Rollout) []float64 {
	var returns []float64
	for _, r := range rollouts {
		returns = append(returns, r.EpisodeReturns...)
	}
	return returns
}
