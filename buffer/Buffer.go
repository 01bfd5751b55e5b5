// Package buffer implements the per-environment trajectory buffers an
// environment pool writes into while sampling.
//
// Every buffer wraps a StateBuffer: parallel arrays of states, next
// states, actions, rewards and episode-end flags in the temporal order
// of stepping. The StateBuffer can be moved out of its buffer with Take,
// mutated (for example by preprocessors), and moved back with Put.
// While taken, the buffer holds a nil sentinel and every other
// operation fails with ErrTaken.
package buffer

import (
	"errors"
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
)

var (
	// ErrTaken is returned when a buffer is used while its StateBuffer
	// is taken
	ErrTaken = errors.New("state buffer taken")

	// ErrFull is returned when pushing into a full fixed-size buffer
	ErrFull = errors.New("buffer full")

	// ErrEmpty is returned when a buffer holds no steps
	ErrEmpty = errors.New("buffer empty")
)

// Buffer stores the steps taken in a single environment
type Buffer interface {
	// Push appends a step. Resume is the state the environment continues
	// from: snap.State if the step did not end the episode, otherwise
	// the state the environment was reset to.
	Push(state, action backend.ValueBuffer, snap env.Snapshot,
		resume backend.ValueBuffer) error

	// Take moves the StateBuffer out of the buffer
	Take() (*StateBuffer, error)

	// Put moves a taken StateBuffer back into the buffer
	Put(*StateBuffer) error

	// Len returns the number of stored steps
	Len() int

	// LastState returns the state the environment continues from
	LastState() (backend.ValueBuffer, error)

	// LastTerminates returns whether the most recent step ended its
	// episode
	LastTerminates() (bool, error)

	// Rollout returns the stored steps as a Rollout
	Rollout() (Rollout, error)

	// Clear removes all stored steps, keeping the state to resume from
	Clear() error
}

// StateBuffer holds the steps of one environment in parallel arrays.
// All arrays have equal length.
type StateBuffer struct {
	States     []backend.ValueBuffer
	NextStates []backend.ValueBuffer
	Actions    []backend.ValueBuffer
	Rewards    []float32
	Terminated []bool
	Truncated  []bool

	// Resume is the state the environment continues stepping from
	Resume backend.ValueBuffer
}

// NewStateBuffer returns an empty StateBuffer with room for capacity
// steps that resumes from start
func NewStateBuffer(capacity int, start backend.ValueBuffer) *StateBuffer {
	return &StateBuffer{
		States:     make([]backend.ValueBuffer, 0, capacity),
		NextStates: make([]backend.ValueBuffer, 0, capacity),
		Actions:    make([]backend.ValueBuffer, 0, capacity),
		Rewards:    make([]float32, 0, capacity),
		Terminated: make([]bool, 0, capacity),
		Truncated:  make([]bool, 0, capacity),
		Resume:     start,
	}
}

// Push appends a step
func (s *StateBuffer) Push(state, action backend.ValueBuffer,
	snap env.Snapshot, resume backend.ValueBuffer) {
	s.States = append(s.States, state)
	s.NextStates = append(s.NextStates, snap.State)
	s.Actions = append(s.Actions, action)
	s.Rewards = append(s.Rewards, snap.Reward)
	s.Terminated = append(s.Terminated, snap.Terminated)
	s.Truncated = append(s.Truncated, snap.Truncated)
	s.Resume = resume
}

// Len returns the number of stored steps
func (s *StateBuffer) Len() int {
	return len(s.States)
}

// Last returns the index of the most recent step, or -1 if empty
func (s *StateBuffer) Last() int {
	return len(s.States) - 1
}

// LastTerminates returns whether the most recent step ended its
// episode
func (s *StateBuffer) LastTerminates() bool {
	last := s.Last()
	if last < 0 {
		return false
	}
	return s.Terminated[last] || s.Truncated[last]
}

// Validate checks that the parallel arrays have equal length
func (s *StateBuffer) Validate() error {
	n := len(s.States)
	if len(s.NextStates) != n || len(s.Actions) != n ||
		len(s.Rewards) != n || len(s.Terminated) != n ||
		len(s.Truncated) != n {
		return fmt.Errorf("validate: parallel arrays have unequal length "+
			"(%v, %v, %v, %v, %v, %v)", n, len(s.NextStates),
			len(s.Actions), len(s.Rewards), len(s.Terminated),
			len(s.Truncated))
	}
	return nil
}

// Rollout returns the steps as a Rollout. The Rollout shares storage
// with the StateBuffer until the StateBuffer is cleared.
func (s *StateBuffer) Rollout() (Rollout, error) {
	if err := s.Validate(); err != nil {
		return Rollout{}, fmt.Errorf("rollout: %v", err)
	}
	n := s.Len()
	if n == 0 {
		return Rollout{}, fmt.Errorf("rollout: %w", ErrEmpty)
	}

	dones := make([]bool, n)
	for i := range dones {
		dones[i] = s.Terminated[i] || s.Truncated[i]
	}
	return Rollout{
		States:   s.States,
		Actions:  s.Actions,
		Rewards:  s.Rewards,
		Dones:    dones,
		Terminal: s.NextStates[n-1],
	}, nil
}

// Clear removes all steps, keeping Resume. Rollouts returned before
// the call remain valid.
func (s *StateBuffer) Clear() {
	capacity := cap(s.States)
	resume := s.Resume
	*s = *NewStateBuffer(capacity, resume)
}
