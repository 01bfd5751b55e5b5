package environment

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
)

// Cardinality determines whether the values of a space are discrete or
// continuous
type Cardinality int

const (
	Discrete Cardinality = iota
	Continuous
)

func (c Cardinality) String() string {
	switch c {
	case Discrete:
		return "Discrete"
	case Continuous:
		return "Continuous"
	default:
		return fmt.Sprintf("Cardinality(%d)", int(c))
	}
}

// Space describes the observations or actions of an environment. A
// Discrete space holds N choices. A Continuous space holds vectors of
// Size elements, optionally bounded elementwise by Min and Max.
type Space struct {
	Cardinality
	N    int
	Size int
	Min  []float32
	Max  []float32
}

// NewDiscrete returns a discrete space of n choices
func NewDiscrete(n int) Space {
	return Space{Cardinality: Discrete, N: n}
}

// NewContinuous returns a continuous space of vectors of the given
// size. Either bound may be nil to denote an unbounded space.
func NewContinuous(size int, min, max []float32) Space {
	if min != nil && len(min) != size {
		panic(fmt.Sprintf("newContinuous: lower bound has length %v "+
			"!= %v", len(min), size))
	}
	if max != nil && len(max) != size {
		panic(fmt.Sprintf("newContinuous: upper bound has length %v "+
			"!= %v", len(max), size))
	}
	return Space{Cardinality: Continuous, Size: size, Min: min, Max: max}
}

// Dims returns the length of vectors in the space. Discrete values are
// represented as one-hot vectors of length N.
func (s Space) Dims() int {
	if s.Cardinality == Discrete {
		return s.N
	}
	return s.Size
}

// Description holds the spaces of an environment. It is immutable for
// the lifetime of an environment instance.
type Description struct {
	Observation Space
	Action      Space
}

// DiscreteAction decodes a discrete action from a buffer holding either
// a one-hot vector of length n or a single index.
func DiscreteAction(action backend.ValueBuffer, n int) (int, error) {
	switch len(action.Data) {
	case 1:
		index := int(action.Data[0])
		if float32(index) != action.Data[0] || index < 0 || index >= n {
			return 0, fmt.Errorf("discreteAction: %v ∉ [0, %v): %w",
				action.Data[0], n, ErrAction)
		}
		return index, nil

	case n:
		index := -1
		for i, x := range action.Data {
			switch x {
			case 0:
			case 1:
				if index >= 0 {
					return 0, fmt.Errorf("discreteAction: action %v is "+
						"not one-hot: %w", action.Data, ErrAction)
				}
				index = i
			default:
				return 0, fmt.Errorf("discreteAction: action %v is not "+
					"one-hot: %w", action.Data, ErrAction)
			}
		}
		if index < 0 {
			return 0, fmt.Errorf("discreteAction: action %v is not "+
				"one-hot: %w", action.Data, ErrAction)
		}
		return index, nil

	default:
		return 0, fmt.Errorf("discreteAction: illegal action length"+
			"\n\twant(%v)\n\thave(%v): %w", n, len(action.Data), ErrAction)
	}
}

// OneHot returns the one-hot encoding of index in a space of n choices
func OneHot(index, n int) backend.ValueBuffer {
	v := backend.Zeros(n)
	v.Data[index] = 1
	return v
}

// ContinuousAction validates the length of a continuous action
func ContinuousAction(action backend.ValueBuffer, size int) ([]float64, error) {
	if len(action.Data) != size {
		return nil, fmt.Errorf("continuousAction: illegal action length"+
			"\n\twant(%v)\n\thave(%v): %w", size, len(action.Data), ErrAction)
	}
	return action.Float64(), nil
}
