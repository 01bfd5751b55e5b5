package agent

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/policy"
	"github.com/samuelfneumann/onpolicy/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// lossGraph computes the losses of one minibatch size and their
// gradients with respect to the policy and value parameters
type lossGraph struct {
	graph *G.ExprGraph
	vm    G.VM
	size  int

	states     *G.Node // [size, features]
	actions    *G.Node // [size, actionDims]
	advantages *G.Node // [size]
	returns    *G.Node // [size]
	oldLogProb *G.Node // [size]

	dist  *policy.Dist
	value *policy.ValueNode

	policyLoss *G.Node
	valueLoss  *G.Node
	loss       *G.Node
}

// newLossGraph builds the graph of minibatches of the given size
func (a *Agent) newLossGraph(size int) (*lossGraph, error) {
	g := G.NewGraph()
	l := &lossGraph{graph: g, size: size}

	l.states = G.NewMatrix(g, tensor.Float64,
		G.WithShape(size, a.policy.Features()), G.WithName("States"))
	l.actions = G.NewMatrix(g, tensor.Float64,
		G.WithShape(size, a.policy.ActionDims()), G.WithName("Actions"))
	l.advantages = G.NewVector(g, tensor.Float64, G.WithShape(size),
		G.WithName("Advantages"))
	l.returns = G.NewVector(g, tensor.Float64, G.WithShape(size),
		G.WithName("Returns"))
	l.oldLogProb = G.NewVector(g, tensor.Float64, G.WithShape(size),
		G.WithName("OldLogProb"))

	var err error
	l.dist, err = a.policy.Bind(l.states, l.actions, "Policy")
	if err != nil {
		return nil, fmt.Errorf("newLossGraph: %v", err)
	}
	l.value, err = a.value.Bind(l.states, "Value")
	if err != nil {
		return nil, fmt.Errorf("newLossGraph: %v", err)
	}

	switch a.kind {
	case PPO:
		l.policyLoss, err = clippedSurrogate(l.dist.LogProb(), l.oldLogProb,
			l.advantages, a.config.ClipEpsilon)
		if err != nil {
			return nil, fmt.Errorf("newLossGraph: %v", err)
		}

	case A2C, VPG:
		surrogate := G.Must(G.HadamardProd(l.dist.LogProb(), l.advantages))
		l.policyLoss = G.Must(G.Neg(G.Must(G.Mean(surrogate))))

	default:
		panic(fmt.Sprintf("newLossGraph: unknown agent %v", a.kind))
	}
	l.valueLoss = squaredError(l.value.Values(), l.returns)

	// policy + vc·value - ec·entropy
	valueCoef := a.module.ValueCoef(a.config.ValueCoef)
	l.loss = G.Must(G.Add(l.policyLoss, G.Must(G.Mul(l.valueLoss,
		G.NewConstant(valueCoef)))))
	if a.config.EntropyCoef != 0 {
		bonus := G.Must(G.Mul(l.dist.Entropy(),
			G.NewConstant(a.config.EntropyCoef)))
		l.loss = G.Must(G.Sub(l.loss, bonus))
	}

	learnables := l.learnables()
	if _, err := G.Grad(l.loss, learnables...); err != nil {
		return nil, fmt.Errorf("newLossGraph: could not compute "+
			"gradient: %v", err)
	}
	l.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))
	return l, nil
}

func (l *lossGraph) learnables() G.Nodes {
	return append(append(G.Nodes(nil), l.dist.Learnables()...),
		l.value.Learnables()...)
}

// minibatch holds the inputs of one minibatch, row-major
type minibatch struct {
	states     []float64
	actions    []float64
	advantages []float64
	returns    []float64
	oldLogProb []float64
}

// run loads the current parameters, sets the inputs of b and computes
// the losses and gradients
func (l *lossGraph) run(b minibatch) error {
	features := l.states.Shape()[1]
	actionDims := l.actions.Shape()[1]
	G.Let(l.states, tensor.New(tensor.WithShape(l.size, features),
		tensor.WithBacking(b.states)))
	G.Let(l.actions, tensor.New(tensor.WithShape(l.size, actionDims),
		tensor.WithBacking(b.actions)))
	G.Let(l.advantages, tensor.New(tensor.WithShape(l.size),
		tensor.WithBacking(b.advantages)))
	G.Let(l.returns, tensor.New(tensor.WithShape(l.size),
		tensor.WithBacking(b.returns)))
	G.Let(l.oldLogProb, tensor.New(tensor.WithShape(l.size),
		tensor.WithBacking(b.oldLogProb)))

	l.dist.Load()
	l.value.Load()
	if err := l.vm.RunAll(); err != nil {
		return fmt.Errorf("run: %v", err)
	}
	return nil
}

// valueGraph computes the value loss of one batch size and its
// gradient with respect to the value parameters only
type valueGraph struct {
	graph   *G.ExprGraph
	vm      G.VM
	size    int
	states  *G.Node
	returns *G.Node
	value   *policy.ValueNode
	loss    *G.Node
}

func (a *Agent) newValueGraph(size int) (*valueGraph, error) {
	g := G.NewGraph()
	v := &valueGraph{graph: g, size: size}

	v.states = G.NewMatrix(g, tensor.Float64,
		G.WithShape(size, a.policy.Features()), G.WithName("States"))
	v.returns = G.NewVector(g, tensor.Float64, G.WithShape(size),
		G.WithName("Returns"))

	var err error
	v.value, err = a.value.Bind(v.states, "Value")
	if err != nil {
		return nil, fmt.Errorf("newValueGraph: %v", err)
	}
	v.loss = squaredError(v.value.Values(), v.returns)

	if _, err := G.Grad(v.loss, v.value.Learnables()...); err != nil {
		return nil, fmt.Errorf("newValueGraph: could not compute "+
			"gradient: %v", err)
	}
	v.vm = G.NewTapeMachine(g, G.BindDualValues(v.value.Learnables()...))
	return v, nil
}

func (v *valueGraph) run(states, returns []float64) error {
	features := v.states.Shape()[1]
	G.Let(v.states, tensor.New(tensor.WithShape(v.size, features),
		tensor.WithBacking(states)))
	G.Let(v.returns, tensor.New(tensor.WithShape(v.size),
		tensor.WithBacking(returns)))

	v.value.Load()
	if err := v.vm.RunAll(); err != nil {
		return fmt.Errorf("run: %v", err)
	}
	return nil
}

// clippedSurrogate returns the PPO policy loss
//
//	-mean(min(ρ·A, clip(ρ, 1-ε, 1+ε)·A)),	ρ = exp(logπ - logπ_old)
func clippedSurrogate(logProb, oldLogProb, advantages *G.Node,
	epsilon float64) (*G.Node, error) {
	ratio := G.Must(G.Exp(G.Must(G.Sub(logProb, oldLogProb))))
	unclipped := G.Must(G.HadamardProd(ratio, advantages))

	clippedRatio, err := op.Clip(ratio, 1-epsilon, 1+epsilon)
	if err != nil {
		return nil, fmt.Errorf("clippedSurrogate: %v", err)
	}
	clipped := G.Must(G.HadamardProd(clippedRatio, advantages))

	surrogate, err := op.Min(unclipped, clipped)
	if err != nil {
		return nil, fmt.Errorf("clippedSurrogate: %v", err)
	}
	return G.Neg(G.Must(G.Mean(surrogate)))
}

// squaredError returns mean((prediction - target)²)
func squaredError(prediction, target *G.Node) *G.Node {
	diff := G.Must(G.Sub(prediction, target))
	return G.Must(G.Mean(G.Must(G.Square(diff))))
}

// scalar returns the value of a scalar node after a run
func scalar(n *G.Node) float64 {
	switch v := n.Value().Data().(type) {
	case float64:
		return v
	case []float64:
		return v[0]
	default:
		panic(fmt.Sprintf("scalar: node %v holds %T", n.Name(), v))
	}
}
