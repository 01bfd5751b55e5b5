// Package policy implements the stochastic policies and state value
// functions learned by on-policy agents.
//
// A Policy is the learner's copy of the policy parameters. It computes
// log-probabilities and entropies of batches, both directly and as
// nodes of a computational graph for differentiation. Actions are never
// sampled from a Policy itself: samplers receive a Behaviour, an
// immutable clone of the policy with its own RNG.
package policy

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/initwfn"
	"github.com/samuelfneumann/onpolicy/network"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Kind is the kind of action distribution of a policy
type Kind int

const (
	// Categorical policies map states to the logits of a softmax
	// distribution over discrete actions. Actions are one-hot vectors.
	Categorical Kind = iota

	// DiagonalGaussian policies map states to the mean of a gaussian
	// with a learned, state-independent diagonal log standard
	// deviation.
	DiagonalGaussian
)

func (k Kind) String() string {
	switch k {
	case Categorical:
		return "Categorical"
	case DiagonalGaussian:
		return "DiagonalGaussian"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindFor returns the policy kind that can act in an action space
func KindFor(action env.Space) (Kind, error) {
	switch action.Cardinality {
	case env.Discrete:
		return Categorical, nil
	case env.Continuous:
		return DiagonalGaussian, nil
	default:
		return 0, fmt.Errorf("kindFor: unknown action cardinality %v",
			action.Cardinality)
	}
}

var log2Pi = math.Log(2 * math.Pi)

// Config describes the network of a policy
type Config struct {
	Hidden     []int          `yaml:"hidden"`
	Activation string         `yaml:"activation"`
	Init       initwfn.Config `yaml:"init"`

	// LogStdInit is the initial log standard deviation of
	// DiagonalGaussian policies
	LogStdInit float64 `yaml:"log_std_init"`
}

// DefaultConfig returns a policy with two hidden layers of 64 tanh
// units
func DefaultConfig() Config {
	return Config{
		Hidden:     []int{64, 64},
		Activation: "tanh",
		Init:       initwfn.NewGlorotU(1.0),
	}
}

// Validate checks whether the Config describes a legal network
func (c Config) Validate() error {
	if _, err := network.ParseActivation(c.Activation); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("validate: hidden layer %v has size %v", i, h)
		}
	}
	if err := c.Init.Validate(); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	return nil
}

// newNetwork returns the MLP described by hidden and activation
func newNetwork(inputs, outputs int, hidden []int, activation string,
	init initwfn.Config, seed uint64) (*network.MLP, error) {
	act, err := network.ParseActivation(activation)
	if err != nil {
		return nil, err
	}
	acts := make([]*network.Activation, len(hidden))
	for i := range acts {
		acts[i] = act
	}
	weights, err := init.Create(seed)
	if err != nil {
		return nil, err
	}
	return network.NewMLP(inputs, outputs, hidden, acts, weights)
}

// Policy is the learnable parameter store of a stochastic policy
type Policy struct {
	kind       Kind
	net        *network.MLP
	logStd     []float64
	features   int
	actionDims int
}

// New returns a new Policy for an environment with the given
// description. The kind of policy is determined by the action space.
func New(desc env.Description, c Config, seed uint64) (*Policy, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	kind, err := KindFor(desc.Action)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	features := desc.Observation.Dims()
	actionDims := desc.Action.Dims()
	if features <= 0 || actionDims <= 0 {
		return nil, fmt.Errorf("new: empty observation or action space")
	}

	net, err := newNetwork(features, actionDims, c.Hidden, c.Activation,
		c.Init, seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy network: %v",
			err)
	}

	var logStd []float64
	if kind == DiagonalGaussian {
		logStd = make([]float64, actionDims)
		for i := range logStd {
			logStd[i] = c.LogStdInit
		}
	}

	return &Policy{
		kind:       kind,
		net:        net,
		logStd:     logStd,
		features:   features,
		actionDims: actionDims,
	}, nil
}

// Kind returns the kind of the policy
func (p *Policy) Kind() Kind {
	return p.kind
}

// Features returns the length of observations
func (p *Policy) Features() int {
	return p.features
}

// ActionDims returns the length of actions
func (p *Policy) ActionDims() int {
	return p.actionDims
}

// Network returns the network computing logits or means
func (p *Policy) Network() *network.MLP {
	return p.net
}

// Std returns the standard deviation of a DiagonalGaussian policy and
// nil for a Categorical policy
func (p *Policy) Std() []float64 {
	return std(p.logStd)
}

func std(logStd []float64) []float64 {
	if logStd == nil {
		return nil
	}
	s := make([]float64, len(logStd))
	for i := range s {
		s[i] = math.Exp(logStd[i])
	}
	return s
}

// LogProbs returns the log-probability of each row of actions under
// the distribution at the corresponding row of states
func (p *Policy) LogProbs(states, actions *mat.Dense) []float64 {
	r, c := actions.Dims()
	if c != p.actionDims {
		panic(fmt.Sprintf("logProbs: invalid action dimension\n\twant(%v)"+
			"\n\thave(%v)", p.actionDims, c))
	}
	out := p.net.Forward(states)
	logProbs := make([]float64, r)

	switch p.kind {
	case Categorical:
		for i := range logProbs {
			logits := out.RawRowView(i)
			logProbs[i] = floats.Dot(actions.RawRowView(i), logits) -
				floats.LogSumExp(logits)
		}

	case DiagonalGaussian:
		constant := floats.Sum(p.logStd) + 0.5*float64(c)*log2Pi
		for i := range logProbs {
			mean := out.RawRowView(i)
			action := actions.RawRowView(i)
			var sq float64
			for j := range mean {
				z := (action[j] - mean[j]) * math.Exp(-p.logStd[j])
				sq += z * z
			}
			logProbs[i] = -0.5*sq - constant
		}

	default:
		panic(fmt.Sprintf("logProbs: unknown policy kind %v", p.kind))
	}
	return logProbs
}

// Entropy returns the mean entropy of the distributions at states
func (p *Policy) Entropy(states *mat.Dense) float64 {
	switch p.kind {
	case Categorical:
		logits := p.net.Forward(states)
		r, c := logits.Dims()
		logProbs := make([]float64, c)
		var total float64
		for i := 0; i < r; i++ {
			row := logits.RawRowView(i)
			lse := floats.LogSumExp(row)
			for j := range row {
				logProbs[j] = row[j] - lse
				total -= math.Exp(logProbs[j]) * logProbs[j]
			}
		}
		return total / float64(r)

	case DiagonalGaussian:
		return floats.Sum(p.logStd) +
			0.5*float64(p.actionDims)*(1+log2Pi)

	default:
		panic(fmt.Sprintf("entropy: unknown policy kind %v", p.kind))
	}
}

// Params returns a copy of the policy parameters: the network
// parameters, followed by the log standard deviation for
// DiagonalGaussian policies
func (p *Policy) Params() []backend.ValueBuffer {
	params := p.net.Params()
	if p.kind == DiagonalGaussian {
		logStd, _ := backend.FromFloat64(p.logStd)
		params = append(params, logStd)
	}
	return params
}

// SetParams sets the policy parameters. The parameters must be ordered
// and shaped as returned by Params.
func (p *Policy) SetParams(params []backend.ValueBuffer) error {
	if p.kind == DiagonalGaussian {
		if len(params) == 0 {
			return fmt.Errorf("setParams: missing log standard deviation: %w",
				backend.ErrShape)
		}
		last := params[len(params)-1]
		if len(last.Data) != p.actionDims {
			return fmt.Errorf("setParams: log standard deviation"+
				"\n\twant(%v)\n\thave(%v): %w", p.actionDims, len(last.Data),
				backend.ErrShape)
		}
		if err := p.net.SetParams(params[:len(params)-1]); err != nil {
			return fmt.Errorf("setParams: %w", err)
		}
		copy(p.logStd, last.Float64())
		return nil
	}
	if err := p.net.SetParams(params); err != nil {
		return fmt.Errorf("setParams: %w", err)
	}
	return nil
}

// Behaviour returns an immutable clone of the policy for sampling
// actions, with its own RNG seeded by seed
func (p *Policy) Behaviour(seed uint64) *Behaviour {
	var logStd []float64
	if p.logStd != nil {
		logStd = append([]float64(nil), p.logStd...)
	}
	return newBehaviour(p.kind, p.net.Clone(), logStd, seed)
}

// Snapshot returns the architecture and parameters of the policy, for
// shipping the policy to workers in other processes
func (p *Policy) Snapshot() Snapshot {
	acts := p.net.Activations()
	names := make([]string, len(acts))
	for i := range acts {
		names[i] = acts[i].String()
	}
	return Snapshot{
		Kind:        p.kind,
		Features:    p.features,
		ActionDims:  p.actionDims,
		HiddenSizes: p.net.HiddenSizes(),
		Activations: names,
		Params:      p.Params(),
	}
}
