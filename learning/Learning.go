// Package learning couples the learnable parameters of an actor-critic
// to the solvers that update them.
//
// A Module steps solvers on gradients that were already computed by
// running a computational graph bound with gorgonia's BindDualValues.
// Two kinds of Module exist. A Parallel module updates the policy and
// value function with a single solver on the combined loss
//
//	policy + ValueCoef·value - EntropyCoef·entropy
//
// while a Decoupled module updates each with its own solver and
// learning rate on
//
//	policy - EntropyCoef·entropy	and		value
//
// Both optionally clip the total L2 norm of the gradients they step on.
package learning

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/onpolicy/solver"
	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
)

// Kind is the kind of a learning module
type Kind int

const (
	Parallel Kind = iota
	Decoupled
)

func (k Kind) String() string {
	switch k {
	case Parallel:
		return "Parallel"
	case Decoupled:
		return "Decoupled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Parallel", "parallel":
		*k = Parallel
	case "Decoupled", "decoupled":
		*k = Decoupled
	default:
		return fmt.Errorf("unmarshalText: unknown learning module %q", text)
	}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Config describes a learning module
type Config struct {
	Kind Kind `yaml:"kind"`

	// Policy configures the only solver of a Parallel module and the
	// policy solver of a Decoupled module
	Policy solver.Config `yaml:"policy"`

	// Value configures the value solver of a Decoupled module
	Value solver.Config `yaml:"value"`

	// MaxGradNorm is the maximum total L2 norm of the gradients of one
	// step; non-positive values disable clipping
	MaxGradNorm float64 `yaml:"max_grad_norm"`
}

// Validate checks whether the Config describes a legal module
func (c Config) Validate() error {
	switch c.Kind {
	case Parallel:
		return c.Policy.Validate()
	case Decoupled:
		if err := c.Policy.Validate(); err != nil {
			return fmt.Errorf("validate: policy solver: %v", err)
		}
		if err := c.Value.Validate(); err != nil {
			return fmt.Errorf("validate: value solver: %v", err)
		}
		return nil
	default:
		return fmt.Errorf("validate: unknown learning module %v", c.Kind)
	}
}

// Module steps the solvers of an actor-critic
type Module struct {
	kind        Kind
	maxGradNorm float64

	// solver updates all parameters of a Parallel module and the policy
	// parameters of a Decoupled module
	solver *solver.Solver

	// valueSolver updates the value parameters of a Decoupled module
	// and serves value-only steps of a Parallel module
	valueSolver *solver.Solver
}

// New returns the Module described by c
func New(c Config) (*Module, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	s, err := c.Policy.Create()
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	valueConfig := c.Value
	if c.Kind == Parallel {
		valueConfig = c.Policy
	}
	v, err := valueConfig.Create()
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return &Module{
		kind:        c.Kind,
		maxGradNorm: c.MaxGradNorm,
		solver:      s,
		valueSolver: v,
	}, nil
}

// Kind returns the kind of the module
func (m *Module) Kind() Kind {
	return m.kind
}

// ValueCoef returns the coefficient of the value loss in the combined
// loss whose gradients the module steps on
func (m *Module) ValueCoef(valueCoef float64) float64 {
	if m.kind == Decoupled {
		return 1.0
	}
	return valueCoef
}

// Step updates policy and value parameters using the gradients of the
// most recent run of their graph, returning the norm of the gradients
// before clipping
func (m *Module) Step(policy, value G.Nodes) (float64, error) {
	switch m.kind {
	case Parallel:
		all := append(append(G.Nodes(nil), policy...), value...)
		norm, err := ClipGradNorm(all, m.maxGradNorm)
		if err != nil {
			return 0, fmt.Errorf("step: %v", err)
		}
		if err := m.solver.Step(model(all)); err != nil {
			return 0, fmt.Errorf("step: %v", err)
		}
		return norm, nil

	case Decoupled:
		policyNorm, err := ClipGradNorm(policy, m.maxGradNorm)
		if err != nil {
			return 0, fmt.Errorf("step: %v", err)
		}
		valueNorm, err := ClipGradNorm(value, m.maxGradNorm)
		if err != nil {
			return 0, fmt.Errorf("step: %v", err)
		}
		if err := m.solver.Step(model(policy)); err != nil {
			return 0, fmt.Errorf("step: policy: %v", err)
		}
		if err := m.valueSolver.Step(model(value)); err != nil {
			return 0, fmt.Errorf("step: value: %v", err)
		}
		return math.Hypot(policyNorm, valueNorm), nil

	default:
		panic(fmt.Sprintf("step: unknown learning module %v", m.kind))
	}
}

// StepValue updates only the value parameters using the gradients of
// the most recent run of their graph
func (m *Module) StepValue(value G.Nodes) (float64, error) {
	norm, err := ClipGradNorm(value, m.maxGradNorm)
	if err != nil {
		return 0, fmt.Errorf("stepValue: %v", err)
	}
	if err := m.valueSolver.Step(model(value)); err != nil {
		return 0, fmt.Errorf("stepValue: %v", err)
	}
	return norm, nil
}

func model(nodes G.Nodes) []G.ValueGrad {
	m := make([]G.ValueGrad, len(nodes))
	for i := range nodes {
		m[i] = nodes[i]
	}
	return m
}

// ClipGradNorm computes the total L2 norm of the gradients of nodes. If
// maxNorm is positive and the norm exceeds it, every gradient is scaled
// in place by maxNorm / (norm + 1e-6). The norm before clipping is
// returned.
func ClipGradNorm(nodes G.Nodes, maxNorm float64) (float64, error) {
	grads := make([][]float64, len(nodes))
	var sumSq float64
	for i, n := range nodes {
		grad, err := n.Grad()
		if err != nil {
			return 0, fmt.Errorf("clipGradNorm: node %v has no gradient: %v",
				n.Name(), err)
		}
		data, ok := grad.Data().([]float64)
		if !ok {
			return 0, fmt.Errorf("clipGradNorm: node %v does not hold "+
				"float64 gradients", n.Name())
		}
		grads[i] = data
		norm := floats.Norm(data, 2)
		sumSq += norm * norm
	}
	total := math.Sqrt(sumSq)

	if maxNorm > 0 && total > maxNorm {
		scale := maxNorm / (total + 1e-6)
		for _, g := range grads {
			floats.Scale(scale, g)
		}
	}
	return total, nil
}
