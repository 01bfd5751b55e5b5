package backend

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Tensor is the capability every backend tensor type provides so that
// algorithm code never needs backend-specific operations to move data
// in and out of a backend.
type Tensor interface {
	// ToVec returns a flat row-major copy of the tensor's elements
	ToVec() []float32

	// ToBuffer returns the tensor as a ValueBuffer
	ToBuffer() ValueBuffer
}

// Dense adapts a Gorgonia *tensor.Dense to the Tensor interface
type Dense struct {
	*tensor.Dense
}

// ToVec implements the Tensor interface
func (d Dense) ToVec() []float32 {
	v, err := FromDense(d.Dense)
	if err != nil {
		panic(fmt.Sprintf("tovec: %v", err))
	}
	return v.Data
}

// ToBuffer implements the Tensor interface
func (d Dense) ToBuffer() ValueBuffer {
	v, err := FromDense(d.Dense)
	if err != nil {
		panic(fmt.Sprintf("tobuffer: %v", err))
	}
	return v
}

// ToDense converts a ValueBuffer into a new Float64 *tensor.Dense of
// the same shape. Gorgonia graphs in this module compute in float64.
func ToDense(v ValueBuffer) (*tensor.Dense, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("todense: %w", err)
	}
	if len(v.Shape) == 0 {
		return tensor.New(tensor.FromScalar(float64(v.Data[0]))), nil
	}
	return tensor.New(
		tensor.WithShape(v.Shape...),
		tensor.WithBacking(v.Float64()),
	), nil
}

// FromDense converts a Float64 or Float32 *tensor.Dense into a
// ValueBuffer. The returned buffer never aliases the tensor's memory.
func FromDense(d *tensor.Dense) (ValueBuffer, error) {
	if d == nil {
		return ValueBuffer{}, fmt.Errorf("fromdense: nil tensor")
	}
	if d.IsMaterializable() {
		d = d.Materialize().(*tensor.Dense)
	}
	shape := append([]int(nil), d.Shape()...)
	if d.IsScalar() {
		shape = []int{}
	}

	var data []float32
	switch raw := d.Data().(type) {
	case []float64:
		data = make([]float32, len(raw))
		for i, x := range raw {
			data[i] = float32(x)
		}
	case []float32:
		data = make([]float32, len(raw))
		copy(data, raw)
	case float64:
		data = []float32{float32(raw)}
	case float32:
		data = []float32{raw}
	default:
		return ValueBuffer{}, fmt.Errorf("fromdense: unsupported dtype %v",
			d.Dtype())
	}
	return New(data, shape...)
}

// Mat adapts a Gonum matrix to the Tensor interface
type Mat struct {
	mat.Matrix
}

// ToVec implements the Tensor interface
func (m Mat) ToVec() []float32 {
	return FromMat(m.Matrix).Data
}

// ToBuffer implements the Tensor interface
func (m Mat) ToBuffer() ValueBuffer {
	return FromMat(m.Matrix)
}

// FromMat converts a Gonum matrix into a ValueBuffer. Vectors become
// buffers of shape [n], all other matrices buffers of shape [r, c].
func FromMat(m mat.Matrix) ValueBuffer {
	if vec, ok := m.(mat.Vector); ok {
		data := make([]float32, vec.Len())
		for i := range data {
			data[i] = float32(vec.AtVec(i))
		}
		return Vector(data)
	}

	r, c := m.Dims()
	data := make([]float32, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, float32(m.At(i, j)))
		}
	}
	return ValueBuffer{Data: data, Shape: []int{r, c}}
}

// ToMat converts a buffer of rank at most two into a *mat.Dense.
// Scalars and vectors of length n become 1×1 and 1×n matrices.
func ToMat(v ValueBuffer) (*mat.Dense, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("tomat: %w", err)
	}
	switch len(v.Shape) {
	case 0:
		return mat.NewDense(1, 1, v.Float64()), nil
	case 1:
		if v.Shape[0] == 0 {
			return nil, fmt.Errorf("tomat: empty vector: %w", ErrShape)
		}
		return mat.NewDense(1, v.Shape[0], v.Float64()), nil
	case 2:
		if v.Shape[0] == 0 || v.Shape[1] == 0 {
			return nil, fmt.Errorf("tomat: empty matrix: %w", ErrShape)
		}
		return mat.NewDense(v.Shape[0], v.Shape[1], v.Float64()), nil
	default:
		return nil, fmt.Errorf("tomat: rank %d buffers cannot become "+
			"matrices: %w", len(v.Shape), ErrShape)
	}
}

// ToVecDense converts a buffer into a *mat.VecDense over its flat data
func ToVecDense(v ValueBuffer) *mat.VecDense {
	return mat.NewVecDense(len(v.Data), v.Float64())
}

// StackMat stacks buffers of equal length into the rows of a
// [len(buffers), n] matrix, flattening each buffer
func StackMat(buffers []ValueBuffer) (*mat.Dense, error) {
	if len(buffers) == 0 {
		return nil, fmt.Errorf("stackMat: no buffers: %w", ErrShape)
	}
	n := len(buffers[0].Data)
	if n == 0 {
		return nil, fmt.Errorf("stackMat: empty buffers: %w", ErrShape)
	}
	data := make([]float64, 0, n*len(buffers))
	for i, b := range buffers {
		if len(b.Data) != n {
			return nil, fmt.Errorf("stackMat: buffer %d has length %d "+
				"!= %d: %w", i, len(b.Data), n, ErrShape)
		}
		for _, x := range b.Data {
			data = append(data, float64(x))
		}
	}
	return mat.NewDense(len(buffers), n, data), nil
}
