package policy

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
	"github.com/samuelfneumann/onpolicy/network"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ValueFunction predicts the value of states
type ValueFunction struct {
	net *network.MLP
}

// NewValueFunction returns a new state value function over observations
// with the given number of features. The network is described by the
// same Config as policy networks; LogStdInit is ignored.
func NewValueFunction(features int, c Config, seed uint64) (*ValueFunction,
	error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newValueFunction: %v", err)
	}
	net, err := newNetwork(features, 1, c.Hidden, c.Activation, c.Init, seed)
	if err != nil {
		return nil, fmt.Errorf("newValueFunction: could not create value "+
			"network: %v", err)
	}
	return &ValueFunction{net: net}, nil
}

// Values returns the value of each row of states, with shape [N]
func (v *ValueFunction) Values(states *mat.Dense) []float64 {
	out := v.net.Forward(states)
	r, _ := out.Dims()
	values := make([]float64, r)
	for i := range values {
		values[i] = out.At(i, 0)
	}
	return values
}

// Value returns the value of a single state
func (v *ValueFunction) Value(state backend.ValueBuffer) float64 {
	return v.net.Predict(state.Float64())[0]
}

// Network returns the value network
func (v *ValueFunction) Network() *network.MLP {
	return v.net
}

// ValueNode is a value function bound into a computational graph
type ValueNode struct {
	binding *network.Binding
	values  *G.Node // [batch]
}

// Bind adds the value function to the graph of states, which must be a
// [batch, features] matrix node
func (v *ValueFunction) Bind(states *G.Node, prefix string) (*ValueNode,
	error) {
	binding, err := v.net.Bind(states, prefix)
	if err != nil {
		return nil, fmt.Errorf("bind: could not bind value network: %v", err)
	}
	batch := states.Shape()[0]
	values := G.Must(G.Reshape(binding.Output(), tensor.Shape{batch}))
	return &ValueNode{binding: binding, values: values}, nil
}

// Values returns the [batch] value node
func (n *ValueNode) Values() *G.Node {
	return n.values
}

// Learnables returns the learnable nodes of the value function
func (n *ValueNode) Learnables() G.Nodes {
	return n.binding.Learnables()
}

// Load copies the value function parameters into the graph
func (n *ValueNode) Load() {
	n.binding.Load()
}

// Store copies the graph's parameter values into the value function
func (n *ValueNode) Store() {
	n.binding.Store()
}
