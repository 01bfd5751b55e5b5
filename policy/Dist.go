package policy

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/network"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Dist is a policy bound into a computational graph. It computes the
// differentiable log-probability of a batch of actions and the mean
// entropy of the batch of distributions.
type Dist struct {
	policy  *Policy
	binding *network.Binding
	logStd  *G.Node // [1, actionDims], DiagonalGaussian only

	logProb *G.Node // [batch]
	entropy *G.Node // scalar
}

// Bind adds the policy to the graph of states. States must be a
// [batch, Features()] matrix node and actions a [batch, ActionDims()]
// matrix node in the same graph.
func (p *Policy) Bind(states, actions *G.Node, prefix string) (*Dist, error) {
	if states.Graph() != actions.Graph() {
		return nil, fmt.Errorf("bind: states and actions are in different " +
			"graphs")
	}
	if !actions.IsMatrix() || actions.Shape()[1] != p.actionDims {
		return nil, fmt.Errorf("bind: invalid shape for actions"+
			"\n\twant([batch %v])\n\thave(%v)", p.actionDims, actions.Shape())
	}

	binding, err := p.net.Bind(states, prefix)
	if err != nil {
		return nil, fmt.Errorf("bind: could not bind policy network: %v",
			err)
	}
	d := &Dist{policy: p, binding: binding}

	switch p.kind {
	case Categorical:
		d.bindCategorical(actions)
	case DiagonalGaussian:
		d.bindGaussian(states.Graph(), actions, prefix)
	default:
		return nil, fmt.Errorf("bind: unknown policy kind %v", p.kind)
	}
	return d, nil
}

func (d *Dist) bindCategorical(actions *G.Node) {
	logits := d.binding.Output()

	// Actions are one-hot, so the selected logit of each row is the
	// sum of the row of the elementwise product
	selected := G.Must(G.HadamardProd(actions, logits))
	selected = G.Must(G.Sum(selected, 1))
	lse := LogSumExp(logits, 1)
	d.logProb = G.Must(G.Sub(selected, lse))

	// Entropy: -Σ π log π, averaged over the batch
	logProbs := G.Must(G.BroadcastSub(logits, lse, nil, []byte{1}))
	probs := G.Must(G.Exp(logProbs))
	entropy := G.Must(G.HadamardProd(probs, logProbs))
	entropy = G.Must(G.Sum(entropy, 1))
	d.entropy = G.Must(G.Neg(G.Must(G.Mean(entropy))))
}

func (d *Dist) bindGaussian(g *G.ExprGraph, actions *G.Node, prefix string) {
	p := d.policy
	dims := p.actionDims
	mean := d.binding.Output()

	d.logStd = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, dims),
		G.WithName(prefix+"LogStd"),
		G.WithValue(tensor.New(
			tensor.WithShape(1, dims),
			tensor.WithBacking(append([]float64(nil), p.logStd...)),
		)),
	)
	invStd := G.Must(G.Exp(G.Must(G.Neg(d.logStd))))
	sumLogStd := G.Must(G.Sum(d.logStd))

	// log N(a | μ, σ) = -½ Σ ((a - μ) / σ)² - Σ log σ - ½ D log 2π
	z := G.Must(G.Sub(actions, mean))
	z = G.Must(G.BroadcastHadamardProd(z, invStd, nil, []byte{0}))
	sq := G.Must(G.Sum(G.Must(G.Square(z)), 1))
	sq = G.Must(G.Mul(sq, G.NewConstant(-0.5)))

	normaliser := G.Must(G.Add(sumLogStd,
		G.NewConstant(0.5*float64(dims)*log2Pi)))
	d.logProb = G.Must(G.Sub(sq, normaliser))

	d.entropy = G.Must(G.Add(sumLogStd,
		G.NewConstant(0.5*float64(dims)*(1+log2Pi))))
}

// LogSumExp computes log Σ exp(logits) along an axis in a numerically
// stable way
func LogSumExp(logits *G.Node, along int) *G.Node {
	// Calculate the max logit per row
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	// Sum along rows
	sum := G.Must(G.Sum(exponent, along))

	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// LogProb returns the [batch] log-probability node
func (d *Dist) LogProb() *G.Node {
	return d.logProb
}

// Entropy returns the scalar mean entropy node
func (d *Dist) Entropy() *G.Node {
	return d.entropy
}

// Learnables returns the learnable nodes of the policy
func (d *Dist) Learnables() G.Nodes {
	learnables := append(G.Nodes(nil), d.binding.Learnables()...)
	if d.logStd != nil {
		learnables = append(learnables, d.logStd)
	}
	return learnables
}

// Load copies the policy parameters into the graph
func (d *Dist) Load() {
	d.binding.Load()
	if d.logStd != nil {
		copy(d.logStd.Value().Data().([]float64), d.policy.logStd)
	}
}

// Store copies the graph's parameter values into the policy
func (d *Dist) Store() {
	d.binding.Store()
	if d.logStd != nil {
		copy(d.policy.logStd, d.logStd.Value().Data().([]float64))
	}
}
