package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Binding is an MLP bound into a computational graph. Each layer's
// weights become a [in, out] matrix node and each bias a [1, out]
// matrix node broadcast along the batch dimension.
type Binding struct {
	mlp        *MLP
	learnables G.Nodes
	output     *G.Node
}

// Bind adds the forward pass of the MLP on input to the graph of
// input, which must be a [batch, Inputs()] matrix node. Learnable node
// names are prefixed with prefix so that several networks can share a
// graph. The learnables are initialised to the current parameters.
func (m *MLP) Bind(input *G.Node, prefix string) (*Binding, error) {
	if !input.IsMatrix() {
		return nil, fmt.Errorf("bind: input must be a matrix node")
	}
	if features := input.Shape()[1]; features != m.inputs {
		return nil, fmt.Errorf("bind: invalid shape for input to neural "+
			"net:\n\twant(%v)\n\thave(%v)", m.inputs, features)
	}
	g := input.Graph()

	learnables := make(G.Nodes, 0, 2*len(m.layers))
	pred := input
	for i, l := range m.layers {
		in, out := l.weights.Dims()

		weights := G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(in, out),
			G.WithName(fmt.Sprintf("%sW%d", prefix, i)),
			G.WithValue(tensor.New(
				tensor.WithShape(in, out),
				tensor.WithBacking(append([]float64(nil),
					l.weights.RawMatrix().Data...)),
			)),
		)
		bias := G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(1, out),
			G.WithName(fmt.Sprintf("%sB%d", prefix, i)),
			G.WithValue(tensor.New(
				tensor.WithShape(1, out),
				tensor.WithBacking(append([]float64(nil),
					l.bias.RawVector().Data...)),
			)),
		)
		learnables = append(learnables, weights, bias)

		pred = G.Must(G.Mul(pred, weights))

		// Broadcast the bias weights to all samples along the batch
		// dimension
		pred = G.Must(G.BroadcastAdd(pred, bias, nil, []byte{0}))

		var err error
		if pred, err = l.act.fwd(pred); err != nil {
			msg := "bind: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	return &Binding{mlp: m, learnables: learnables, output: pred}, nil
}

// Output returns the [batch, Outputs()] prediction node
func (b *Binding) Output() *G.Node {
	return b.output
}

// Learnables returns the learnable nodes of the binding, ordered as
// MLP.Params
func (b *Binding) Learnables() G.Nodes {
	return b.learnables
}

// Model returns the learnables nodes with their gradients
func (b *Binding) Model() []G.ValueGrad {
	model := make([]G.ValueGrad, 0, len(b.learnables))
	for _, node := range b.learnables {
		model = append(model, node)
	}
	return model
}

// Load copies the parameters of the MLP into the learnable nodes
func (b *Binding) Load() {
	for i, l := range b.mlp.layers {
		copy(nodeData(b.learnables[2*i]), l.weights.RawMatrix().Data)
		copy(nodeData(b.learnables[2*i+1]), l.bias.RawVector().Data)
	}
}

// Store copies the values of the learnable nodes into the MLP
func (b *Binding) Store() {
	for i, l := range b.mlp.layers {
		copy(l.weights.RawMatrix().Data, nodeData(b.learnables[2*i]))
		copy(l.bias.RawVector().Data, nodeData(b.learnables[2*i+1]))
	}
}

// nodeData returns the backing data of a Float64 node's value
func nodeData(n *G.Node) []float64 {
	data, ok := n.Value().Data().([]float64)
	if !ok {
		panic(fmt.Sprintf("nodeData: node %v does not hold float64 data",
			n.Name()))
	}
	return data
}
