// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be serialized into configuration files.
package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

// Config describes a Gorgonia Solver. Only the fields used by Type are
// read:
//
//	Type		Fields
//	Adam		StepSize, Epsilon, Beta1, Beta2
//	Vanilla		StepSize
//	RMSProp		StepSize, Epsilon, Rho
//
// Gradients are averaged inside the losses, so solvers always use a
// batch size of 1.
type Config struct {
	Type     Type    `yaml:"type"`
	StepSize float64 `yaml:"step_size"`
	Epsilon  float64 `yaml:"epsilon,omitempty"`
	Beta1    float64 `yaml:"beta1,omitempty"`
	Beta2    float64 `yaml:"beta2,omitempty"`
	Rho      float64 `yaml:"rho,omitempty"`
}

// NewDefaultAdam returns the configuration of an Adam Solver with
// default hyperparameters
func NewDefaultAdam(stepSize float64) Config {
	return NewAdam(stepSize, 1e-8, 0.9, 0.999)
}

// NewAdam returns the configuration of an Adam Solver
func NewAdam(stepSize, epsilon, beta1, beta2 float64) Config {
	return Config{
		Type:     Adam,
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    beta1,
		Beta2:    beta2,
	}
}

// NewVanilla returns the configuration of a vanilla gradient descent
// Solver
func NewVanilla(stepSize float64) Config {
	return Config{Type: Vanilla, StepSize: stepSize}
}

// NewDefaultRMSProp returns the configuration of an RMSProp Solver
// with default hyperparameters
func NewDefaultRMSProp(stepSize float64) Config {
	return Config{Type: RMSProp, StepSize: stepSize, Epsilon: 1e-8,
		Rho: 0.999}
}

// withDefaults fills in unset hyperparameters
func (c Config) withDefaults() Config {
	switch c.Type {
	case Adam:
		if c.Epsilon == 0 {
			c.Epsilon = 1e-8
		}
		if c.Beta1 == 0 {
			c.Beta1 = 0.9
		}
		if c.Beta2 == 0 {
			c.Beta2 = 0.999
		}
	case RMSProp:
		if c.Epsilon == 0 {
			c.Epsilon = 1e-8
		}
		if c.Rho == 0 {
			c.Rho = 0.999
		}
	}
	return c
}

// Validate checks whether the Config describes a legal Solver
func (c Config) Validate() error {
	if c.StepSize <= 0 {
		return fmt.Errorf("validate: step size must be positive, have(%v)",
			c.StepSize)
	}
	c = c.withDefaults()

	switch c.Type {
	case Adam:
		if c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1 {
			return fmt.Errorf("validate: adam betas must be in [0, 1), "+
				"have(%v, %v)", c.Beta1, c.Beta2)
		}
	case RMSProp:
		if c.Rho <= 0 || c.Rho >= 1 {
			return fmt.Errorf("validate: rmsprop rho must be in (0, 1), "+
				"have(%v)", c.Rho)
		}
	case Vanilla:
	default:
		return fmt.Errorf("validate: unknown solver type %q", c.Type)
	}
	return nil
}

// Solver wraps a Gorgonia Solver together with the Config that
// describes it.
type Solver struct {
	G.Solver
	Config
}

// Create returns a new Solver as described by the Config
func (c Config) Create() (*Solver, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("create: %v", err)
	}
	c = c.withDefaults()

	var solver G.Solver
	switch c.Type {
	case Adam:
		solver = G.NewAdamSolver(
			G.WithLearnRate(c.StepSize),
			G.WithEps(c.Epsilon),
			G.WithBeta1(c.Beta1),
			G.WithBeta2(c.Beta2),
			G.WithBatchSize(1),
		)

	case Vanilla:
		solver = G.NewVanillaSolver(
			G.WithLearnRate(c.StepSize),
			G.WithBatchSize(1),
		)

	case RMSProp:
		solver = G.NewRMSPropSolver(
			G.WithLearnRate(c.StepSize),
			G.WithEps(c.Epsilon),
			G.WithRho(c.Rho),
			G.WithBatchSize(1),
		)
	}
	return &Solver{Solver: solver, Config: c}, nil
}

// String implements the fmt.Stringer interface
func (s *Solver) String() string {
	return fmt.Sprintf("{%v Solver: %+v}", s.Type, s.Config)
}
