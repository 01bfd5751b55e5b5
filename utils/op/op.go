// Package op provides elementwise Gorgonia graph operations built from
// comparison masks.
//
// Comparison nodes are not differentiable, so gradients flow only
// through the selected operand of each element.
//
// Adapted from aunum/gold on GitHub
package op

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// scalar returns a constant scalar node in the graph and dtype of like
func scalar(like *G.Node, value float64, name string) (*G.Node, error) {
	switch like.Dtype() {
	case G.Float32:
		return G.NewScalar(like.Graph(), G.Float32,
			G.WithValue(float32(value)), G.WithName(name)), nil
	case G.Float64:
		return G.NewScalar(like.Graph(), G.Float64,
			G.WithValue(value), G.WithName(name)), nil
	default:
		return nil, fmt.Errorf("scalar: unsupported dtype %v", like.Dtype())
	}
}

// Clip clips each element of value to [min, max]. Elements equal to a
// bound keep their own value, so that their gradient is not masked.
func Clip(value *G.Node, min, max float64) (*G.Node, error) {
	if min > max {
		return nil, fmt.Errorf("clip: min > max (%v > %v)", min, max)
	}
	minNode, err := scalar(value, min, fmt.Sprintf("clip_min_%v", min))
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	maxNode, err := scalar(value, max, fmt.Sprintf("clip_max_%v", max))
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}

	// Below the interval
	below, err := G.Lt(value, minNode, true)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	belowVal, err := G.HadamardProd(minNode, below)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}

	// Inside the interval, bounds included
	aboveMin, err := G.Gte(value, minNode, true)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	belowMax, err := G.Lte(value, maxNode, true)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	inside, err := G.HadamardProd(aboveMin, belowMax)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	insideVal, err := G.HadamardProd(value, inside)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}

	// Above the interval
	above, err := G.Gt(value, maxNode, true)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}
	aboveVal, err := G.HadamardProd(maxNode, above)
	if err != nil {
		return nil, fmt.Errorf("clip: %v", err)
	}

	return G.ReduceAdd(G.Nodes{belowVal, insideVal, aboveVal})
}

// Min returns the elementwise minimum of a and b. Where the elements
// are equal, the element of a is selected.
func Min(a, b *G.Node) (*G.Node, error) {
	aMask, err := G.Lte(a, b, true)
	if err != nil {
		return nil, fmt.Errorf("min: %v", err)
	}
	bMask, err := G.Lt(b, a, true)
	if err != nil {
		return nil, fmt.Errorf("min: %v", err)
	}
	return selectMasked(a, aMask, b, bMask)
}

// Max returns the elementwise maximum of a and b. Where the elements
// are equal, the element of a is selected.
func Max(a, b *G.Node) (*G.Node, error) {
	aMask, err := G.Gte(a, b, true)
	if err != nil {
		return nil, fmt.Errorf("max: %v", err)
	}
	bMask, err := G.Gt(b, a, true)
	if err != nil {
		return nil, fmt.Errorf("max: %v", err)
	}
	return selectMasked(a, aMask, b, bMask)
}

// selectMasked computes a⊙aMask + b⊙bMask for disjoint masks
func selectMasked(a, aMask, b, bMask *G.Node) (*G.Node, error) {
	aVal, err := G.HadamardProd(a, aMask)
	if err != nil {
		return nil, err
	}
	bVal, err := G.HadamardProd(b, bMask)
	if err != nil {
		return nil, err
	}
	return G.Add(aVal, bVal)
}
