// Package preprocess implements per-step hooks that observe and mutate
// freshly collected steps before they are returned to an environment
// pool.
//
// A pool stepping under preprocessing advances every environment by a
// single step, takes the StateBuffer of each, and hands the batch to a
// Preprocessor. The most recent step of each StateBuffer is the one to
// process. Preprocessors run on the stepping goroutine; their state
// lives as long as the pool and persists across rollouts.
package preprocess

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/policy"
)

// Preprocessor mutates the most recent step of each buffer in place.
// Buffers are indexed by environment; a nil entry denotes an
// environment that did not step. The behaviour policy that took the
// steps is passed for reference and must not be modified.
type Preprocessor interface {
	Process(b *policy.Behaviour, buffers []*buffer.StateBuffer) error
}

// Initializer is implemented by preprocessors that need to see the
// states environments start from before the first step is taken
type Initializer interface {
	Init(buffers []*buffer.StateBuffer) error
}

// Chain runs preprocessors in order
type Chain []Preprocessor

// Process implements the Preprocessor interface
func (c Chain) Process(b *policy.Behaviour,
	buffers []*buffer.StateBuffer) error {
	for i, p := range c {
		if err := p.Process(b, buffers); err != nil {
			return fmt.Errorf("process: preprocessor %d (%T): %w", i, p, err)
		}
	}
	return nil
}

// Init implements the Initializer interface, initializing every
// preprocessor of the chain that is an Initializer
func (c Chain) Init(buffers []*buffer.StateBuffer) error {
	for i, p := range c {
		initializer, ok := p.(Initializer)
		if !ok {
			continue
		}
		if err := initializer.Init(buffers); err != nil {
			return fmt.Errorf("init: preprocessor %d (%T): %w", i, p, err)
		}
	}
	return nil
}

// last returns the index of the most recent step of s, panicking if s
// holds none
func last(s *buffer.StateBuffer) int {
	i := s.Last()
	if i < 0 {
		panic("preprocess: state buffer holds no steps")
	}
	return i
}

// Config describes the preprocessors wrapped around a pool, applied in
// the order observation normalisation, reward normalisation, early
// termination
type Config struct {
	NormalizeObservations bool `yaml:"normalize_observations"`
	NormalizeRewards      bool `yaml:"normalize_rewards"`
	EarlyTermination      bool `yaml:"early_termination"`

	// Epsilon, ClipObs and ClipReward parameterise the normalisers;
	// zero values select 1e-8, 10 and 10
	Epsilon    float64 `yaml:"epsilon"`
	ClipObs    float64 `yaml:"clip_obs"`
	ClipReward float64 `yaml:"clip_reward"`
}

// Empty returns whether the Config enables no preprocessor
func (c Config) Empty() bool {
	return !c.NormalizeObservations && !c.NormalizeRewards &&
		!c.EarlyTermination
}

// Validate checks the normaliser parameters
func (c Config) Validate() error {
	if c.Epsilon < 0 || c.ClipObs < 0 || c.ClipReward < 0 {
		return fmt.Errorf("validate: normaliser parameters must be "+
			"non-negative, have(epsilon=%v, clip_obs=%v, clip_reward=%v)",
			c.Epsilon, c.ClipObs, c.ClipReward)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Epsilon == 0 {
		c.Epsilon = 1e-8
	}
	if c.ClipObs == 0 {
		c.ClipObs = 10
	}
	if c.ClipReward == 0 {
		c.ClipReward = 10
	}
	return c
}

// Build returns the Chain described by c for numEnvs environments with
// observations of the given size. Gamma is the discount of the agent,
// and value is the value function that bootstraps truncated episodes.
func (c Config) Build(features, numEnvs int, gamma float64,
	value *policy.ValueFunction) (Chain, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("build: %v", err)
	}
	c = c.withDefaults()

	var chain Chain
	if c.NormalizeObservations {
		chain = append(chain, NewObservationNormalizer(features, c.Epsilon,
			c.ClipObs))
	}
	if c.NormalizeRewards {
		chain = append(chain, NewRewardNormalizer(numEnvs, gamma,
			c.Epsilon, c.ClipReward))
	}
	if c.EarlyTermination {
		if value == nil {
			return nil, fmt.Errorf("build: early termination needs a " +
				"value function")
		}
		chain = append(chain, NewEarlyTermination(value, gamma))
	}
	return chain, nil
}
