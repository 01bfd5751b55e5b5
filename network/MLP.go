// Package network implements the multi-layered perceptrons that back
// policies and value functions.
//
// An MLP is a parameter store: its weights live in gonum matrices and
// can be evaluated directly with Forward, which is how actions are
// sampled and values predicted. To compute gradients, an MLP is bound
// into a Gorgonia computational graph with Bind. The resulting Binding
// copies the stored parameters into the graph before a run and copies
// the solver's updated values back afterwards, so that any number of
// graphs (for example one per minibatch size) can share the same
// parameters.
package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
	"github.com/samuelfneumann/onpolicy/initwfn"
	"gonum.org/v1/gonum/mat"
)

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *mat.Dense    // [in, out]
	bias    *mat.VecDense // [out]
	act     *Activation
}

// forward computes act(x·W + b) for a batch x of shape [batch, in]
func (f *fcLayer) forward(x mat.Matrix) *mat.Dense {
	r, _ := x.Dims()
	_, c := f.weights.Dims()

	out := mat.NewDense(r, c, nil)
	out.Mul(x, f.weights)

	b := f.bias.RawVector().Data
	out.Apply(func(_, j int, v float64) float64 {
		return f.act.Apply(v + b[j])
	}, out)
	return out
}

func (f *fcLayer) clone() *fcLayer {
	return &fcLayer{
		weights: mat.DenseCopyOf(f.weights),
		bias:    mat.VecDenseCopyOf(f.bias),
		act:     f.act,
	}
}

// MLP implements a multi-layered perceptron. The MLP has
// len(hiddenSizes) + 1 layers; the final layer maps to the outputs with
// no activation.
type MLP struct {
	inputs      int
	outputs     int
	hiddenSizes []int
	activations []*Activation
	layers      []*fcLayer
}

// NewMLP returns a new MLP mapping inputs features to outputs values.
// For index i, hiddenSizes[i] is the number of units in hidden layer i
// and activations[i] is the activation of hidden layer i. Weights are
// drawn with init; biases start at zero.
func NewMLP(inputs, outputs int, hiddenSizes []int,
	activations []*Activation, init *initwfn.InitWFn) (*MLP, error) {
	if len(hiddenSizes) != len(activations) {
		msg := "newMLP: invalid number of activations\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}
	if inputs <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("newMLP: inputs and outputs must be positive,"+
			" have(%v, %v)", inputs, outputs)
	}
	for i, size := range hiddenSizes {
		if size <= 0 {
			return nil, fmt.Errorf("newMLP: hidden layer %v has size %v",
				i, size)
		}
	}

	sizes := append(append([]int{inputs}, hiddenSizes...), outputs)
	acts := append(append([]*Activation(nil), activations...), Identity())

	layers := make([]*fcLayer, len(sizes)-1)
	for i := range layers {
		in, out := sizes[i], sizes[i+1]
		layers[i] = &fcLayer{
			weights: mat.NewDense(in, out, init.Weights(in, out)),
			bias:    mat.NewVecDense(out, nil),
			act:     acts[i],
		}
	}

	return &MLP{
		inputs:      inputs,
		outputs:     outputs,
		hiddenSizes: append([]int(nil), hiddenSizes...),
		activations: append([]*Activation(nil), activations...),
		layers:      layers,
	}, nil
}

// Forward computes the output of the MLP on a batch of inputs of shape
// [batch, Inputs()], returning a [batch, Outputs()] matrix
func (m *MLP) Forward(x mat.Matrix) *mat.Dense {
	if _, c := x.Dims(); c != m.inputs {
		panic(fmt.Sprintf("forward: invalid number of input features"+
			"\n\twant(%v)\n\thave(%v)", m.inputs, c))
	}
	var out mat.Matrix = x
	for _, l := range m.layers {
		out = l.forward(out)
	}
	return out.(*mat.Dense)
}

// Predict computes the output of the MLP for a single input vector
func (m *MLP) Predict(x []float64) []float64 {
	out := m.Forward(mat.NewDense(1, len(x), x))
	return out.RawRowView(0)
}

// Inputs returns the number of input features
func (m *MLP) Inputs() int {
	return m.inputs
}

// Outputs returns the number of outputs
func (m *MLP) Outputs() int {
	return m.outputs
}

// HiddenSizes returns the number of units in each hidden layer
func (m *MLP) HiddenSizes() []int {
	return append([]int(nil), m.hiddenSizes...)
}

// Activations returns the activations of each hidden layer
func (m *MLP) Activations() []*Activation {
	return append([]*Activation(nil), m.activations...)
}

// Clone returns a deep copy of the MLP
func (m *MLP) Clone() *MLP {
	layers := make([]*fcLayer, len(m.layers))
	for i := range m.layers {
		layers[i] = m.layers[i].clone()
	}
	return &MLP{
		inputs:      m.inputs,
		outputs:     m.outputs,
		hiddenSizes: append([]int(nil), m.hiddenSizes...),
		activations: append([]*Activation(nil), m.activations...),
		layers:      layers,
	}
}

// Set sets the parameters of the MLP to those of source, which must
// have the same architecture
func (m *MLP) Set(source *MLP) error {
	return m.SetParams(source.Params())
}

// Params returns a copy of the parameters of the MLP: for each layer,
// its weights of shape [in, out] followed by its bias of shape [out]
func (m *MLP) Params() []backend.ValueBuffer {
	params := make([]backend.ValueBuffer, 0, 2*len(m.layers))
	for _, l := range m.layers {
		params = append(params, backend.FromMat(l.weights))
		params = append(params, backend.FromMat(l.bias))
	}
	return params
}

// NumParams returns the total number of scalar parameters
func (m *MLP) NumParams() int {
	n := 0
	for _, l := range m.layers {
		r, c := l.weights.Dims()
		n += r*c + l.bias.Len()
	}
	return n
}

// SetParams sets the parameters of the MLP. The parameters must be
// ordered and shaped as returned by Params.
func (m *MLP) SetParams(params []backend.ValueBuffer) error {
	if len(params) != 2*len(m.layers) {
		return fmt.Errorf("setParams: invalid number of parameters"+
			"\n\twant(%v)\n\thave(%v): %w", 2*len(m.layers), len(params),
			backend.ErrShape)
	}
	for i, l := range m.layers {
		w, b := params[2*i], params[2*i+1]

		r, c := l.weights.Dims()
		if len(w.Shape) != 2 || w.Shape[0] != r || w.Shape[1] != c {
			return fmt.Errorf("setParams: layer %v weights\n\twant([%v %v])"+
				"\n\thave(%v): %w", i, r, c, w.Shape, backend.ErrShape)
		}
		if len(b.Shape) != 1 || b.Shape[0] != c {
			return fmt.Errorf("setParams: layer %v bias\n\twant([%v])"+
				"\n\thave(%v): %w", i, c, b.Shape, backend.ErrShape)
		}
	}

	for i, l := range m.layers {
		copy(l.weights.RawMatrix().Data, params[2*i].Float64())
		copy(l.bias.RawVector().Data, params[2*i+1].Float64())
	}
	return nil
}

// GobEncode implements the gob.GobEncoder interface
func (m *MLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	err := enc.Encode(m.inputs)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of inputs")
	}

	err = enc.Encode(m.outputs)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of outputs")
	}

	err = enc.Encode(m.hiddenSizes)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode hidden sizes")
	}

	err = enc.Encode(m.activations)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode activations")
	}

	for i, l := range m.layers {
		if err := enc.Encode(l.weights.RawMatrix().Data); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode layer %v "+
				"weights: %v", i, err)
		}
		if err := enc.Encode(l.bias.RawVector().Data); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode layer %v "+
				"bias: %v", i, err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (m *MLP) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var inputs, outputs int
	if err := dec.Decode(&inputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of inputs")
	}
	if err := dec.Decode(&outputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of outputs")
	}

	var hiddenSizes []int
	if err := dec.Decode(&hiddenSizes); err != nil {
		return fmt.Errorf("gobdecode: could not decode hidden sizes")
	}

	var activations []*Activation
	if err := dec.Decode(&activations); err != nil {
		return fmt.Errorf("gobdecode: could not decode activations")
	}

	init, err := initwfn.Config{Type: initwfn.Zeroes}.Create(0)
	if err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}
	newMLP, err := NewMLP(inputs, outputs, hiddenSizes, activations, init)
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct new MLP: %v", err)
	}

	// Fill the new MLP's layers, equivalent to:
	// for i in 0, 1, 2, ... N:
	//     newMLP.layer[i].weights <- decoded weights
	//     newMLP.layer[i].bias <- decoded bias
	for i, l := range newMLP.layers {
		var weights, bias []float64
		if err := dec.Decode(&weights); err != nil {
			return fmt.Errorf("gobdecode: could not decode layer %v "+
				"weights: %v", i, err)
		}
		if err := dec.Decode(&bias); err != nil {
			return fmt.Errorf("gobdecode: could not decode layer %v "+
				"bias: %v", i, err)
		}
		if len(weights) != len(l.weights.RawMatrix().Data) ||
			len(bias) != l.bias.Len() {
			return fmt.Errorf("gobdecode: layer %v has inconsistent "+
				"size", i)
		}
		copy(l.weights.RawMatrix().Data, weights)
		copy(l.bias.RawVector().Data, bias)
	}

	*m = *newMLP
	return nil
}
