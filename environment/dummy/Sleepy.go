package dummy

import (
	"time"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
)

// Sleepy wraps an environment so that every Step blocks for a fixed
// duration before stepping, simulating an expensive simulator.
type Sleepy struct {
	env.Environment
	delay time.Duration
}

// NewSleepy returns inner with delay added to every Step
func NewSleepy(inner env.Environment, delay time.Duration) *Sleepy {
	return &Sleepy{Environment: inner, delay: delay}
}

// Step implements the environment.Environment interface
func (s *Sleepy) Step(action backend.ValueBuffer) (env.Snapshot, error) {
	time.Sleep(s.delay)
	return s.Environment.Step(action)
}
