package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

func randomBuffer(rng *rand.Rand, shape ...int) ValueBuffer {
	v := Zeros(shape...)
	for i := range v.Data {
		v.Data[i] = float32(rng.Float64()*2 - 1)
	}
	return v
}

func TestNewValidatesShape(t *testing.T) {
	tests := []struct {
		name  string
		data  []float32
		shape []int
		ok    bool
	}{
		{"vector default shape", []float32{1, 2, 3}, nil, true},
		{"matrix", []float32{1, 2, 3, 4, 5, 6}, []int{2, 3}, true},
		{"scalar", []float32{7}, []int{}, true},
		{"too few", []float32{1, 2}, []int{3}, false},
		{"negative", []float32{}, []int{-1}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := New(test.data, test.shape...)
			if test.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrShape))
			}
		})
	}
}

func TestDenseRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	shapes := [][]int{{5}, {3, 4}, {2, 3, 4}, {1, 1}}

	for _, shape := range shapes {
		v := randomBuffer(rng, shape...)

		d, err := ToDense(v)
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape(shape), d.Shape())

		back, err := FromDense(d)
		require.NoError(t, err)
		assert.True(t, v.ApproxEqual(back, 1e-6), "shape %v", shape)
	}
}

func TestDenseFromFloat64Tensor(t *testing.T) {
	d := tensor.New(
		tensor.WithShape(2, 2),
		tensor.WithBacking([]float64{0.5, -0.25, 1, -1}),
	)

	v, err := FromDense(d)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, v.Shape)
	assert.Equal(t, []float32{0.5, -0.25, 1, -1}, v.Data)

	// The buffer must not alias the tensor
	v.Data[0] = 10
	assert.Equal(t, 0.5, d.Data().([]float64)[0])
}

func TestMatRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	v := randomBuffer(rng, 4, 3)

	m, err := ToMat(v)
	require.NoError(t, err)
	back := FromMat(m)
	assert.True(t, v.ApproxEqual(back, 1e-6))

	vec := mat.NewVecDense(3, []float64{0.1, 0.2, 0.3})
	assert.Equal(t, []int{3}, FromMat(vec).Shape)
}

func TestTensorCapability(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	v := randomBuffer(rng, 6)
	d, err := ToDense(v)
	require.NoError(t, err)
	m, err := ToMat(v)
	require.NoError(t, err)

	for _, tt := range []Tensor{v, Dense{d}, Mat{m}} {
		assert.InDeltaSlice(t, v.Data, tt.ToVec(), 1e-6)
	}
}

func TestStackUnstack(t *testing.T) {
	a := Vector([]float32{1, 2})
	b := Vector([]float32{3, 4})

	s, err := Stack([]ValueBuffer{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, s.Shape)
	assert.Equal(t, []float32{1, 2, 3, 4}, s.Data)

	parts, err := Unstack(s)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, a, parts[0])
	assert.Equal(t, b, parts[1])

	_, err = Stack([]ValueBuffer{a, Vector([]float32{1})})
	assert.True(t, errors.Is(err, ErrShape))
}

func TestCloneDoesNotAlias(t *testing.T) {
	v := Vector([]float32{1, 2, 3})
	c := v.Clone()
	c.Data[0] = 5
	assert.Equal(t, float32(1), v.Data[0])
	assert.True(t, ValueBuffer{}.IsZero())
	assert.False(t, v.IsZero())
}

func BenchmarkDenseRoundTrip(b *testing.B) {
	rng := rand.New(rand.NewSource(4))
	v := randomBuffer(rng, 64, 64)
	for i := 0; i < b.N; i++ {
		d, _ := ToDense(v)
		_, _ = FromDense(d)
	}
}
