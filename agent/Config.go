package agent

import (
	"fmt"
	"log/slog"

	"github.com/samuelfneumann/onpolicy/buffer/gae"
	"github.com/samuelfneumann/onpolicy/learning"
	"github.com/samuelfneumann/onpolicy/policy"
	"github.com/samuelfneumann/onpolicy/solver"
)

// Config describes an agent. Zero values of Epochs, ClipEpsilon,
// ValueCoef and ValueSteps select their defaults.
type Config struct {
	Kind Kind `yaml:"kind"`

	Policy   policy.Config   `yaml:"policy"`
	Value    policy.Config   `yaml:"value"`
	Learning learning.Config `yaml:"learning"`

	// GAE holds the discount ℽ and trace decay λ. VPG ignores λ and
	// uses Monte-Carlo advantages, λ = 1.
	GAE gae.Config `yaml:"gae"`

	// Epochs is the number of passes PPO makes over the data of each
	// call to Learn, 10 by default. A2C and VPG make one pass.
	Epochs int `yaml:"epochs"`

	// MinibatchSize is the number of steps per gradient step; zero
	// uses all steps of the call to Learn as a single batch
	MinibatchSize int `yaml:"minibatch_size"`

	// ClipEpsilon is the PPO clip range ε, 0.2 by default
	ClipEpsilon float64 `yaml:"clip_epsilon"`

	// ValueCoef weights the value loss in a Parallel learning module,
	// 0.5 by default
	ValueCoef float64 `yaml:"value_coef"`

	// EntropyCoef weights the entropy bonus of the policy loss
	EntropyCoef float64 `yaml:"entropy_coef"`

	// ValueSteps is the number of value-only gradient steps VPG takes
	// after each policy update, 25 by default
	ValueSteps int `yaml:"value_steps"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the configuration of an agent with default
// networks, an Adam solver with the given step size, ℽ = 0.99 and
// λ = 0.95
func DefaultConfig(kind Kind, stepSize float64) Config {
	return Config{
		Kind:   kind,
		Policy: policy.DefaultConfig(),
		Value:  policy.DefaultConfig(),
		Learning: learning.Config{
			Kind:   learning.Parallel,
			Policy: solver.NewDefaultAdam(stepSize),
		},
		GAE:           gae.Config{Gamma: 0.99, Lambda: 0.95},
		Epochs:        10,
		MinibatchSize: 64,
		ClipEpsilon:   0.2,
		ValueCoef:     0.5,
		ValueSteps:    25,
	}
}

func (c Config) withDefaults() Config {
	if c.Epochs == 0 {
		c.Epochs = 10
	}
	if c.ClipEpsilon == 0 {
		c.ClipEpsilon = 0.2
	}
	if c.ValueCoef == 0 {
		c.ValueCoef = 0.5
	}
	if c.ValueSteps == 0 {
		c.ValueSteps = 25
	}
	switch c.Kind {
	case A2C:
		c.Epochs = 1
	case VPG:
		c.Epochs = 1
		c.GAE.Lambda = 1.0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks whether the Config describes a legal agent
func (c Config) Validate() error {
	switch c.Kind {
	case PPO, A2C, VPG:
	default:
		return fmt.Errorf("validate: unknown agent %v", c.Kind)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("validate: policy: %v", err)
	}
	if err := c.Value.Validate(); err != nil {
		return fmt.Errorf("validate: value function: %v", err)
	}
	if err := c.Learning.Validate(); err != nil {
		return fmt.Errorf("validate: learning module: %v", err)
	}
	if err := c.GAE.Validate(); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	if c.Epochs < 0 {
		return fmt.Errorf("validate: epochs must be non-negative, have(%v)",
			c.Epochs)
	}
	if c.MinibatchSize < 0 {
		return fmt.Errorf("validate: minibatch size must be non-negative, "+
			"have(%v)", c.MinibatchSize)
	}
	if c.ClipEpsilon < 0 || c.ClipEpsilon >= 1 {
		return fmt.Errorf("validate: clip epsilon must be in [0, 1), "+
			"have(%v)", c.ClipEpsilon)
	}
	if c.ValueCoef < 0 || c.EntropyCoef < 0 {
		return fmt.Errorf("validate: loss coefficients must be "+
			"non-negative, have(value=%v, entropy=%v)", c.ValueCoef,
			c.EntropyCoef)
	}
	if c.ValueSteps < 0 {
		return fmt.Errorf("validate: value steps must be non-negative, "+
			"have(%v)", c.ValueSteps)
	}
	return nil
}
