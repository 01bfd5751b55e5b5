package policy

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/initwfn"
	"github.com/samuelfneumann/onpolicy/network"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Behaviour samples actions from a fixed copy of a policy. The
// parameters of a Behaviour never change; only its RNG and, for
// DiagonalGaussian policies, its cached noise do. A Behaviour must not
// be used by more than one goroutine at a time; use Fork to obtain an
// independent sampler that shares the parameters.
type Behaviour struct {
	kind   Kind
	net    *network.MLP
	logStd []float64
	src    rand.Source
	rng    *rand.Rand

	// noise is the standard normal noise of the next gaussian action
	noise []float64
}

func newBehaviour(kind Kind, net *network.MLP, logStd []float64,
	seed uint64) *Behaviour {
	src := rand.NewSource(seed)
	b := &Behaviour{
		kind:   kind,
		net:    net,
		logStd: logStd,
		src:    src,
		rng:    rand.New(src),
	}
	if kind == DiagonalGaussian {
		b.noise = make([]float64, net.Outputs())
		b.ResampleNoise()
	}
	return b
}

// Fork returns a Behaviour sharing the parameters of b with its own RNG
// seeded by seed
func (b *Behaviour) Fork(seed uint64) *Behaviour {
	return newBehaviour(b.kind, b.net, b.logStd, seed)
}

// Kind returns the kind of the policy
func (b *Behaviour) Kind() Kind {
	return b.kind
}

// Act samples an action for a single observation
func (b *Behaviour) Act(obs backend.ValueBuffer) (backend.ValueBuffer, error) {
	if len(obs.Data) != b.net.Inputs() {
		return backend.ValueBuffer{}, fmt.Errorf("act: invalid observation "+
			"length\n\twant(%v)\n\thave(%v): %w", b.net.Inputs(),
			len(obs.Data), backend.ErrShape)
	}
	out := b.net.Predict(obs.Float64())

	switch b.kind {
	case Categorical:
		lse := floats.LogSumExp(out)
		probs := make([]float64, len(out))
		for i := range out {
			probs[i] = math.Exp(out[i] - lse)
		}
		index := int(distuv.NewCategorical(probs, b.src).Rand())
		return env.OneHot(index, len(out)), nil

	case DiagonalGaussian:
		for i := range out {
			out[i] += math.Exp(b.logStd[i]) * b.noise[i]
		}
		b.ResampleNoise()
		return backend.FromFloat64(out)

	default:
		panic(fmt.Sprintf("act: unknown policy kind %v", b.kind))
	}
}

// Mode returns the most likely action for a single observation: the
// highest-logit action of a Categorical policy, or the mean of a
// DiagonalGaussian policy.
func (b *Behaviour) Mode(obs backend.ValueBuffer) (backend.ValueBuffer, error) {
	if len(obs.Data) != b.net.Inputs() {
		return backend.ValueBuffer{}, fmt.Errorf("mode: invalid observation "+
			"length\n\twant(%v)\n\thave(%v): %w", b.net.Inputs(),
			len(obs.Data), backend.ErrShape)
	}
	out := b.net.Predict(obs.Float64())
	if b.kind == Categorical {
		return env.OneHot(floats.MaxIdx(out), len(out)), nil
	}
	return backend.FromFloat64(out)
}

// ResampleNoise draws fresh noise for the next action of a
// DiagonalGaussian policy. It does nothing for Categorical policies.
func (b *Behaviour) ResampleNoise() {
	for i := range b.noise {
		b.noise[i] = b.rng.NormFloat64()
	}
}

// Std returns the standard deviation of a DiagonalGaussian policy and
// nil for a Categorical policy
func (b *Behaviour) Std() []float64 {
	return std(b.logStd)
}

// Snapshot returns the architecture and parameters the Behaviour
// samples with
func (b *Behaviour) Snapshot() Snapshot {
	acts := b.net.Activations()
	names := make([]string, len(acts))
	for i := range acts {
		names[i] = acts[i].String()
	}
	params := b.net.Params()
	if b.kind == DiagonalGaussian {
		logStd, _ := backend.FromFloat64(b.logStd)
		params = append(params, logStd)
	}
	return Snapshot{
		Kind:        b.kind,
		Features:    b.net.Inputs(),
		ActionDims:  b.net.Outputs(),
		HiddenSizes: b.net.HiddenSizes(),
		Activations: names,
		Params:      params,
	}
}

// Snapshot is the architecture and parameters of a policy. Snapshots
// carry no computational graph and can be serialized.
type Snapshot struct {
	Kind        Kind
	Features    int
	ActionDims  int
	HiddenSizes []int
	Activations []string
	Params      []backend.ValueBuffer
}

// Behaviour rebuilds a Behaviour from the Snapshot
func (s Snapshot) Behaviour(seed uint64) (*Behaviour, error) {
	if len(s.HiddenSizes) != len(s.Activations) {
		return nil, fmt.Errorf("behaviour: %v hidden layers with %v "+
			"activations", len(s.HiddenSizes), len(s.Activations))
	}
	acts := make([]*network.Activation, len(s.Activations))
	for i, name := range s.Activations {
		act, err := network.ParseActivation(name)
		if err != nil {
			return nil, fmt.Errorf("behaviour: %v", err)
		}
		acts[i] = act
	}

	zeroes, err := initwfn.Config{Type: initwfn.Zeroes}.Create(0)
	if err != nil {
		return nil, fmt.Errorf("behaviour: %v", err)
	}
	net, err := network.NewMLP(s.Features, s.ActionDims, s.HiddenSizes,
		acts, zeroes)
	if err != nil {
		return nil, fmt.Errorf("behaviour: %v", err)
	}

	params := s.Params
	var logStd []float64
	switch s.Kind {
	case Categorical:
	case DiagonalGaussian:
		if len(params) == 0 {
			return nil, fmt.Errorf("behaviour: missing log standard "+
				"deviation: %w", backend.ErrShape)
		}
		logStd = params[len(params)-1].Float64()
		if len(logStd) != s.ActionDims {
			return nil, fmt.Errorf("behaviour: log standard deviation"+
				"\n\twant(%v)\n\thave(%v): %w", s.ActionDims, len(logStd),
				backend.ErrShape)
		}
		params = params[:len(params)-1]
	default:
		return nil, fmt.Errorf("behaviour: unknown policy kind %v", s.Kind)
	}

	if err := net.SetParams(params); err != nil {
		return nil, fmt.Errorf("behaviour: %w", err)
	}
	return newBehaviour(s.Kind, net, logStd, seed), nil
}
