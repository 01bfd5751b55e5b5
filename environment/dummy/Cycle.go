// Package dummy implements synthetic environments with known dynamics
// for testing the sampling and learning machinery.
package dummy

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
)

// NumActions is the number of (ignored) actions Cycle accepts
const NumActions int = 2

// Cycle is an environment whose rewards cycle through a fixed sequence
// regardless of the actions taken. The observation is the one-hot
// position within the cycle of the next reward. Cycle never ends an
// episode; wrap it in an environment.TimeLimit to bound episodes.
type Cycle struct {
	rewards []float32
	phase   int
	started bool
}

// NewCycle returns a Cycle over rewards. If rewards is empty, the
// sequence 0, 1, 2, 3 is used.
func NewCycle(rewards ...float32) *Cycle {
	if len(rewards) == 0 {
		rewards = []float32{0, 1, 2, 3}
	}
	return &Cycle{rewards: append([]float32(nil), rewards...)}
}

// Reset implements the environment.Environment interface. Every
// episode starts at the beginning of the cycle.
func (c *Cycle) Reset(seed uint64) (backend.ValueBuffer, error) {
	c.phase = 0
	c.started = true
	return c.observation(), nil
}

// Step implements the environment.Environment interface
func (c *Cycle) Step(action backend.ValueBuffer) (env.Snapshot, error) {
	if !c.started {
		return env.Snapshot{}, fmt.Errorf("step: %w", env.ErrNeedsReset)
	}
	if _, err := env.DiscreteAction(action, NumActions); err != nil {
		return env.Snapshot{}, fmt.Errorf("step: %w", err)
	}

	reward := c.rewards[c.phase]
	c.phase = (c.phase + 1) % len(c.rewards)
	return env.Snapshot{State: c.observation(), Reward: reward}, nil
}

// Describe implements the environment.Environment interface
func (c *Cycle) Describe() env.Description {
	n := len(c.rewards)
	low := make([]float32, n)
	high := make([]float32, n)
	for i := range high {
		high[i] = 1
	}
	return env.Description{
		Observation: env.NewContinuous(n, low, high),
		Action:      env.NewDiscrete(NumActions),
	}
}

func (c *Cycle) observation() backend.ValueBuffer {
	return env.OneHot(c.phase, len(c.rewards))
}

// Rewards returns the cycled reward sequence
func (c *Cycle) Rewards() []float32 {
	return append([]float32(nil), c.rewards...)
}
