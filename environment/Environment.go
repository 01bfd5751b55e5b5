// Package environment outlines the contract between the framework and
// the simulators it trains on, together with the small set of shared
// helpers concrete environments are built from.
//
// An environment is driven through three operations. Reset places the
// environment in a seed-determined start state, Step advances it by one
// tick and reports the result as a Snapshot, and Describe returns the
// immutable observation and action spaces. After a Snapshot with
// Terminated or Truncated set, the next call must be Reset; stepping a
// finished episode is a programmer error reported as ErrNeedsReset.
package environment

import (
	"errors"
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
)

var (
	// ErrNeedsReset is returned by Step when the previous Snapshot ended
	// the episode and Reset has not been called since.
	ErrNeedsReset = errors.New("environment must be reset")

	// ErrAction is returned by Step when an action does not belong to
	// the environment's action space.
	ErrAction = errors.New("illegal action")

	// ErrUnknown is returned when an environment is requested by a name
	// that no constructor is registered for.
	ErrUnknown = errors.New("unknown environment")
)

// Environment is a simulator the framework can train on
type Environment interface {
	// Reset sets the environment to the start state determined by seed
	// and returns that state. Calling Reset twice with the same seed
	// yields the same state.
	Reset(seed uint64) (backend.ValueBuffer, error)

	// Step advances the environment by one tick
	Step(action backend.ValueBuffer) (Snapshot, error)

	// Describe returns the observation and action spaces
	Describe() Description
}

// Snapshot records one environment step. Terminated and Truncated are
// never both true: Terminated marks a natural end of the episode and
// Truncated an artificial cutoff such as a time limit.
type Snapshot struct {
	State      backend.ValueBuffer
	Reward     float32
	Terminated bool
	Truncated  bool
}

// Done reports whether the Snapshot ends its episode
func (s Snapshot) Done() bool {
	return s.Terminated || s.Truncated
}

func (s Snapshot) String() string {
	return fmt.Sprintf("Snapshot | Reward: %.3f | Terminated: %v | "+
		"Truncated: %v | State: %v", s.Reward, s.Terminated, s.Truncated,
		s.State.Data)
}
