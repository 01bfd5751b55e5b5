package environment

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"
)

// Starter samples start states for environments
type Starter interface {
	// Start returns the start state determined by seed
	Start(seed uint64) []float64
}

// UniformStarter samples each feature of a start state uniformly from
// an interval.
type UniformStarter struct {
	bounds []r1.Interval
}

// NewUniformStarter returns a new UniformStarter over bounds
func NewUniformStarter(bounds []r1.Interval) UniformStarter {
	return UniformStarter{bounds: append([]r1.Interval(nil), bounds...)}
}

// Start implements the Starter interface
func (u UniformStarter) Start(seed uint64) []float64 {
	source := rand.NewSource(seed)
	uniform := distmv.NewUniform(u.bounds, source)
	return uniform.Rand(nil)
}
