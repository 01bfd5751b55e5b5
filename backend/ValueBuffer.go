// Package backend implements the numeric interchange format shared by
// environments, environment pools, subprocess workers, and learners,
// together with adapters between that format and the tensor types of
// the numeric libraries used for learning (Gorgonia and Gonum).
//
// A ValueBuffer is the only numeric type that crosses a pool or worker
// boundary. Environment states and actions are stored as ValueBuffers
// and rehydrated into library tensors only on the learner side.
package backend

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape is returned when the shape of a buffer does not agree with
// its data or with the shape expected by the caller.
var ErrShape = errors.New("shape mismatch")

// ValueBuffer is a flat float32 payload with a row-major shape. The
// product of the shape always equals the length of the data. A buffer
// with an empty shape holds a single scalar.
type ValueBuffer struct {
	Data  []float32
	Shape []int
}

// New returns a new ValueBuffer backed by data with the given shape.
// If no shape is given, the buffer is a vector of length len(data).
func New(data []float32, shape ...int) (ValueBuffer, error) {
	if shape == nil {
		shape = []int{len(data)}
	}
	v := ValueBuffer{Data: data, Shape: append([]int(nil), shape...)}
	if err := v.Validate(); err != nil {
		return ValueBuffer{}, fmt.Errorf("new: %w", err)
	}
	return v, nil
}

// Vector returns a ValueBuffer of shape [len(data)] backed by data.
func Vector(data []float32) ValueBuffer {
	return ValueBuffer{Data: data, Shape: []int{len(data)}}
}

// Zeros returns a zero-valued ValueBuffer of the given shape
func Zeros(shape ...int) ValueBuffer {
	return ValueBuffer{
		Data:  make([]float32, product(shape)),
		Shape: append([]int(nil), shape...),
	}
}

// FromFloat64 converts data to float32 and returns it as a ValueBuffer
// of the given shape. If no shape is given, the buffer is a vector.
func FromFloat64(data []float64, shape ...int) (ValueBuffer, error) {
	out := make([]float32, len(data))
	for i, x := range data {
		out[i] = float32(x)
	}
	return New(out, shape...)
}

// Validate returns an error if the shape of the buffer disagrees with
// the length of its data.
func (v ValueBuffer) Validate() error {
	for _, dim := range v.Shape {
		if dim < 0 {
			return fmt.Errorf("validate: negative dimension in shape %v: %w",
				v.Shape, ErrShape)
		}
	}
	if n := product(v.Shape); n != len(v.Data) {
		return fmt.Errorf("validate: shape %v needs %d elements"+
			"\n\twant(%v)\n\thave(%v): %w", v.Shape, n, n, len(v.Data),
			ErrShape)
	}
	return nil
}

// Len returns the number of elements in the buffer
func (v ValueBuffer) Len() int {
	return len(v.Data)
}

// IsZero reports whether v is the zero ValueBuffer, which buffers use
// as a sentinel for a missing value.
func (v ValueBuffer) IsZero() bool {
	return v.Data == nil && v.Shape == nil
}

// Clone returns a deep copy of the buffer
func (v ValueBuffer) Clone() ValueBuffer {
	if v.IsZero() {
		return v
	}
	data := make([]float32, len(v.Data))
	copy(data, v.Data)
	return ValueBuffer{Data: data, Shape: append([]int(nil), v.Shape...)}
}

// Float64 returns a float64 copy of the data
func (v ValueBuffer) Float64() []float64 {
	out := make([]float64, len(v.Data))
	for i, x := range v.Data {
		out[i] = float64(x)
	}
	return out
}

// ToVec implements the Tensor interface
func (v ValueBuffer) ToVec() []float32 {
	out := make([]float32, len(v.Data))
	copy(out, v.Data)
	return out
}

// ToBuffer implements the Tensor interface
func (v ValueBuffer) ToBuffer() ValueBuffer {
	return v.Clone()
}

// IsFinite reports whether every element of the buffer is finite
func (v ValueBuffer) IsFinite() bool {
	for _, x := range v.Data {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// ApproxEqual reports whether v and other have the same shape and
// elements that differ by at most tol.
func (v ValueBuffer) ApproxEqual(other ValueBuffer, tol float64) bool {
	if !sameShape(v.Shape, other.Shape) || len(v.Data) != len(other.Data) {
		return false
	}
	for i := range v.Data {
		if math.Abs(float64(v.Data[i])-float64(other.Data[i])) > tol {
			return false
		}
	}
	return true
}

// Stack stacks equally shaped buffers along a new leading axis. The
// result of stacking N buffers of shape S has shape [N, S...].
func Stack(buffers []ValueBuffer) (ValueBuffer, error) {
	if len(buffers) == 0 {
		return ValueBuffer{}, fmt.Errorf("stack: no buffers to stack")
	}
	inner := buffers[0].Shape
	data := make([]float32, 0, len(buffers)*len(buffers[0].Data))
	for i, b := range buffers {
		if !sameShape(inner, b.Shape) {
			return ValueBuffer{}, fmt.Errorf("stack: buffer %d has shape"+
				"\n\twant(%v)\n\thave(%v): %w", i, inner, b.Shape, ErrShape)
		}
		data = append(data, b.Data...)
	}
	shape := append([]int{len(buffers)}, inner...)
	return ValueBuffer{Data: data, Shape: shape}, nil
}

// Unstack splits a buffer of shape [N, S...] into N buffers of shape
// S. The returned buffers own their data.
func Unstack(v ValueBuffer) ([]ValueBuffer, error) {
	if len(v.Shape) == 0 {
		return nil, fmt.Errorf("unstack: cannot unstack a scalar: %w",
			ErrShape)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("unstack: %w", err)
	}
	n := v.Shape[0]
	inner := v.Shape[1:]
	size := product(inner)
	out := make([]ValueBuffer, n)
	for i := 0; i < n; i++ {
		data := make([]float32, size)
		copy(data, v.Data[i*size:(i+1)*size])
		out[i] = ValueBuffer{Data: data, Shape: append([]int(nil), inner...)}
	}
	return out, nil
}

// Flatten concatenates the float64 values of buffers into a single
// row-major slice, as needed to feed a batch to a network.
func Flatten(buffers []ValueBuffer) []float64 {
	size := 0
	for _, b := range buffers {
		size += len(b.Data)
	}
	out := make([]float64, 0, size)
	for _, b := range buffers {
		for _, x := range b.Data {
			out = append(out, float64(x))
		}
	}
	return out
}

func product(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
