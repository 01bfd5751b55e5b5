// Package gae implements generalized advantage estimation - GAE(λ) -
// following https://arxiv.org/abs/1506.02438, over trajectories that
// may hold several episodes and end in an unfinished one.
package gae

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Config holds the discount factor ℽ and the trace decay λ of the
// estimator
type Config struct {
	Gamma  float64 `yaml:"gamma"`
	Lambda float64 `yaml:"lambda"`
}

// Validate checks that ℽ and λ lie in [0, 1]
func (c Config) Validate() error {
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma must be in [0, 1], have(%v)",
			c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("validate: lambda must be in [0, 1], have(%v)",
			c.Lambda)
	}
	return nil
}

// Estimate computes advantages and returns for a trajectory of T steps.
// Values holds T+1 entries: the value of each state followed by the
// value of the state reached by the last step. A done step closes its
// episode, so nothing after it flows back into its advantage:
//
//	δ[i] = r[i] + ℽ·(1-done[i])·v[i+1] - v[i]
//	A[i] = δ[i] + ℽλ·(1-done[i])·A[i+1]
//	R[i] = A[i] + v[i]
func (c Config) Estimate(rewards []float32, values []float64,
	dones []bool) (advantages, returns []float64, err error) {
	n := len(rewards)
	if len(dones) != n {
		return nil, nil, fmt.Errorf("estimate: illegal number of done "+
			"flags \n\twant(%v)\n\thave(%v)", n, len(dones))
	}
	if len(values) != n+1 {
		return nil, nil, fmt.Errorf("estimate: illegal number of values "+
			"\n\twant(%v)\n\thave(%v)", n+1, len(values))
	}
	if n == 0 {
		return []float64{}, []float64{}, nil
	}

	nextNonTerminal := make([]float64, n)
	rews := make([]float64, n)
	for i := range rews {
		rews[i] = float64(rewards[i])
		if !dones[i] {
			nextNonTerminal[i] = 1
		}
	}

	// TD residuals
	stateVals := mat.NewVecDense(n, values[:n])
	nextStateVals := mat.NewVecDense(n, nil)
	nextStateVals.MulElemVec(mat.NewVecDense(n, values[1:]),
		mat.NewVecDense(n, nextNonTerminal))
	deltas := mat.NewVecDense(n, nil)
	deltas.AddScaledVec(mat.NewVecDense(n, rews), c.Gamma, nextStateVals)
	deltas.SubVec(deltas, stateVals)

	advantages = make([]float64, n)
	var gae float64
	for i := n - 1; i >= 0; i-- {
		gae = deltas.AtVec(i) + c.Gamma*c.Lambda*nextNonTerminal[i]*gae
		advantages[i] = gae
	}

	returns = make([]float64, n)
	floats.AddTo(returns, advantages, values[:n])
	return advantages, returns, nil
}

// Normalize standardizes advantages in place to mean 0 and population
// standard deviation 1
func Normalize(advantages []float64) {
	if len(advantages) == 0 {
		return
	}
	mean, std := stat.PopMeanStdDev(advantages, nil)
	floats.AddConst(-mean, advantages)
	floats.Scale(1/(std+1e-8), advantages)
}

// DiscountedSum returns the discounted cumulative sums of x: element i
// holds x[i] + ℽx[i+1] + ℽ²x[i+2] + ...
func DiscountedSum(x []float64, gamma float64) []float64 {
	sums := make([]float64, len(x))
	var running float64
	for i := len(x) - 1; i >= 0; i-- {
		running = x[i] + gamma*running
		sums[i] = running
	}
	return sums
}
