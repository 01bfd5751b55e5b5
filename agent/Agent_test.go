package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/samuelfneumann/onpolicy/backend"
	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/environment/envconfig"
	"github.com/samuelfneumann/onpolicy/learning"
	"github.com/samuelfneumann/onpolicy/pool"
	"github.com/samuelfneumann/onpolicy/sampler"
	"github.com/samuelfneumann/onpolicy/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func smallConfig(kind Kind) Config {
	c := DefaultConfig(kind, 1e-3)
	c.Policy.Hidden = []int{16}
	c.Value.Hidden = []int{16}
	c.MinibatchSize = 16
	c.Epochs = 3
	c.ValueSteps = 2
	return c
}

// collect returns rollouts of n steps from two environments of the
// named kind, sampled with the agent's behaviour policy
func collect(t *testing.T, a *Agent, e envconfig.Config,
	n int) []buffer.Rollout {
	p, err := pool.New(pool.Config{Mode: pool.Sequential, NumEnvs: 2, Env: e},
		7, nil)
	require.NoError(t, err)
	s, err := sampler.New(p, sampler.Rule{Kind: sampler.StepBound, N: n}, nil,
		nil)
	require.NoError(t, err)
	defer s.Close()

	rollouts, err := s.Collect(context.Background(), a.Behaviour())
	require.NoError(t, err)
	return rollouts
}

func newAgent(t *testing.T, c Config, e envconfig.Config) *Agent {
	env, err := e.Create()
	require.NoError(t, err)
	a, err := New(env.Describe(), c, 11)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func copyParams(params []backend.ValueBuffer) []backend.ValueBuffer {
	out := make([]backend.ValueBuffer, len(params))
	for i := range params {
		out[i] = params[i].Clone()
	}
	return out
}

func TestClippedSurrogate(t *testing.T) {
	const eps = 0.2
	ratios := []float64{0.5, 1, 1.5, 0.5, 1, 1.5}
	advantages := []float64{1, 1, 1, -1, -1, -1}
	logRatios := make([]float64, len(ratios))
	for i, r := range ratios {
		logRatios[i] = math.Log(r)
	}

	g := G.NewGraph()
	n := len(ratios)
	logProb := G.NewVector(g, tensor.Float64, G.WithShape(n),
		G.WithName("LogProb"),
		G.WithValue(tensor.New(tensor.WithShape(n),
			tensor.WithBacking(logRatios))))
	oldLogProb := G.NewVector(g, tensor.Float64, G.WithShape(n),
		G.WithName("OldLogProb"),
		G.WithValue(tensor.New(tensor.WithShape(n),
			tensor.WithBacking(make([]float64, n)))))
	adv := G.NewVector(g, tensor.Float64, G.WithShape(n),
		G.WithName("Advantages"),
		G.WithValue(tensor.New(tensor.WithShape(n),
			tensor.WithBacking(advantages))))

	loss, err := clippedSurrogate(logProb, oldLogProb, adv, eps)
	require.NoError(t, err)
	_, err = G.Grad(loss, logProb)
	require.NoError(t, err)

	vm := G.NewTapeMachine(g, G.BindDualValues(logProb))
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	// min(ρA, clip(ρ)A) = 0.5, 1, 1.2, -0.8, -1, -1.5
	assert.InDelta(t, 0.1, scalar(loss), 1e-9)

	// Once the clipped term is selected, the ratio gets no gradient:
	// above 1+ε for positive advantages and below 1-ε for negative ones
	grad, err := logProb.Grad()
	require.NoError(t, err)
	want := []float64{-0.5 / 6, -1.0 / 6, 0, 0, 1.0 / 6, 1.5 / 6}
	assert.InDeltaSlice(t, want, grad.Data().([]float64), 1e-9)
}

func TestClippedSurrogateMonotone(t *testing.T) {
	const eps = 0.2
	for _, advantage := range []float64{1, -1} {
		surrogate := func(ratio float64) float64 {
			g := G.NewGraph()
			logProb := G.NewVector(g, tensor.Float64, G.WithShape(2),
				G.WithName("LogProb"), G.WithValue(tensor.New(tensor.WithShape(2),
					tensor.WithBacking([]float64{math.Log(ratio), 0}))))
			old := G.NewVector(g, tensor.Float64, G.WithShape(2),
				G.WithName("OldLogProb"), G.WithValue(tensor.New(tensor.WithShape(2),
					tensor.WithBacking([]float64{0, 0}))))
			adv := G.NewVector(g, tensor.Float64, G.WithShape(2),
				G.WithName("Advantages"), G.WithValue(tensor.New(tensor.WithShape(2),
					tensor.WithBacking([]float64{advantage, 0}))))
			loss, err := clippedSurrogate(logProb, old, adv, eps)
			require.NoError(t, err)
			vm := G.NewTapeMachine(g)
			defer vm.Close()
			require.NoError(t, vm.RunAll())

			// Undo the negated mean over two elements
			return -2 * scalar(loss)
		}

		prev := math.Inf(-1)
		if advantage < 0 {
			prev = math.Inf(1)
		}
		for ratio := 0.1; ratio < 3; ratio += 0.05 {
			s := surrogate(ratio)
			if advantage > 0 {
				// Non-decreasing in the ratio and flat above 1+ε
				assert.GreaterOrEqual(t, s, prev-1e-12)
				if ratio > 1+eps {
					assert.InDelta(t, (1+eps)*advantage, s, 1e-9)
				}
			} else {
				// Non-increasing in the ratio and flat below 1-ε
				assert.LessOrEqual(t, s, prev+1e-12)
				if ratio < 1-eps {
					assert.InDelta(t, (1-eps)*advantage, s, 1e-9)
				}
			}
			prev = s
		}
	}
}

func TestLearn(t *testing.T) {
	cartpole := envconfig.Config{Name: envconfig.Cartpole}
	pendulum := envconfig.Config{Name: envconfig.Pendulum}

	tests := []struct {
		kind    Kind
		env     envconfig.Config
		batches int
	}{
		// 64 steps in minibatches of 16
		{PPO, cartpole, 3 * 4},
		{A2C, cartpole, 4},
		{VPG, cartpole, 4},
		{PPO, pendulum, 3 * 4},
		{A2C, pendulum, 4},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("%v/%v", test.kind, test.env.Name), func(t *testing.T) {
			a := newAgent(t, smallConfig(test.kind), test.env)
			rollouts := collect(t, a, test.env, 64)
			require.Equal(t, 64, buffer.TotalSteps(rollouts))

			policyBefore := copyParams(a.Policy().Params())
			valueBefore := copyParams(a.ValueFunction().Network().Params())

			var stats []BatchStats
			var epochs []int
			a.Hooks().AddBatch(func(s BatchStats) HookResult {
				stats = append(stats, s)
				return Continue
			})
			a.Hooks().AddEpoch(func(e int) HookResult {
				epochs = append(epochs, e)
				return Continue
			})

			require.NoError(t, a.Learn(rollouts))
			require.Len(t, stats, test.batches)
			assert.Equal(t, test.batches/4, len(epochs))

			// The first minibatch is evaluated under the sampling
			// policy
			assert.InDelta(t, 0, stats[0].ApproxKL, 1e-9)
			assert.Equal(t, 0.0, stats[0].ClipFraction)
			for _, s := range stats {
				assert.Equal(t, 16, s.Size)
				assert.False(t, math.IsNaN(s.PolicyLoss))
				assert.GreaterOrEqual(t, s.ValueLoss, 0.0)
				assert.Greater(t, s.GradNorm, 0.0)
			}

			assert.NotEqual(t, policyBefore, a.Policy().Params())
			assert.NotEqual(t, valueBefore,
				a.ValueFunction().Network().Params())
		})
	}
}

func TestLearnPartialMinibatch(t *testing.T) {
	c := smallConfig(PPO)
	c.MinibatchSize = 24
	c.Epochs = 1
	a := newAgent(t, c, envconfig.Config{Name: envconfig.Cartpole})

	var sizes []int
	a.Hooks().AddBatch(func(s BatchStats) HookResult {
		sizes = append(sizes, s.Size)
		return Continue
	})
	require.NoError(t, a.Learn(collect(t, a,
		envconfig.Config{Name: envconfig.Cartpole}, 64)))
	assert.Equal(t, []int{24, 24, 16}, sizes)
}

// Each minibatch reports the divergence of the policy it steps from,
// so with full-batch minibatches the statistic of one step must match
// a direct evaluation of the policy left by the previous step
func TestApproxKLTracksPolicy(t *testing.T) {
	cartpole := envconfig.Config{Name: envconfig.Cartpole}
	c := DefaultConfig(PPO, 0.05)
	c.Policy.Hidden = []int{16}
	c.Value.Hidden = []int{16}
	c.MinibatchSize = 64
	c.Epochs = 4
	a := newAgent(t, c, cartpole)
	rollouts := collect(t, a, cartpole, 64)

	b, err := a.prepare(rollouts)
	require.NoError(t, err)
	mean := func(x []float64) float64 {
		var s float64
		for _, v := range x {
			s += v
		}
		return s / float64(len(x))
	}
	klOf := func(logProb []float64) float64 {
		diff := make([]float64, len(logProb))
		for i := range logProb {
			diff[i] = b.oldLogProb[i] - logProb[i]
		}
		return mean(diff)
	}

	var reported, direct []float64
	a.Hooks().AddBatch(func(s BatchStats) HookResult {
		reported = append(reported, s.ApproxKL)
		direct = append(direct, klOf(a.Policy().LogProbs(b.states, b.actions)))
		return Continue
	})
	require.NoError(t, a.Learn(rollouts))
	require.Len(t, reported, 4)

	assert.InDelta(t, 0, reported[0], 1e-9)
	for i := 1; i < len(reported); i++ {
		assert.InDelta(t, direct[i-1], reported[i], 1e-6, "step %d", i)
	}
	assert.NotEqual(t, 0.0, direct[len(direct)-1], "the policy moved")
}

func TestKLEarlyStop(t *testing.T) {
	hook := KLEarlyStop(0.02)
	assert.Equal(t, Continue, hook(BatchStats{ApproxKL: 0.01}))
	assert.Equal(t, Continue, hook(BatchStats{ApproxKL: 0.02}))
	assert.Equal(t, Break, hook(BatchStats{ApproxKL: 0.03}))
}

func TestLearnStopsOnBreak(t *testing.T) {
	cartpole := envconfig.Config{Name: envconfig.Cartpole}
	c := smallConfig(PPO)
	c.Epochs = 10
	a := newAgent(t, c, cartpole)
	rollouts := collect(t, a, cartpole, 64)

	// The third minibatch reports a divergence above the target
	calls := 0
	var atBreak []backend.ValueBuffer
	stop := KLEarlyStop(0.02)
	a.Hooks().AddBatch(func(s BatchStats) HookResult {
		calls++
		if calls == 3 {
			s.ApproxKL = 0.05
		}
		result := stop(s)
		if result == Break {
			atBreak = copyParams(a.Policy().Params())
		}
		return result
	})

	require.NoError(t, a.Learn(rollouts))
	assert.Equal(t, 3, calls)
	require.NotNil(t, atBreak)
	assert.Equal(t, atBreak, a.Policy().Params(),
		"no update follows the break")
}

func TestBeforeLearningBreak(t *testing.T) {
	cartpole := envconfig.Config{Name: envconfig.Cartpole}
	a := newAgent(t, smallConfig(A2C), cartpole)
	rollouts := collect(t, a, cartpole, 32)

	before := copyParams(a.Policy().Params())
	var seen int
	a.Hooks().AddBeforeLearning(func(r []buffer.Rollout) HookResult {
		seen = buffer.TotalSteps(r)
		return Break
	})
	require.NoError(t, a.Learn(rollouts))
	assert.Equal(t, 32, seen)
	assert.Equal(t, before, a.Policy().Params())
}

func TestLearnNonFinite(t *testing.T) {
	cartpole := envconfig.Config{Name: envconfig.Cartpole}
	a := newAgent(t, smallConfig(PPO), cartpole)
	rollouts := collect(t, a, cartpole, 16)
	rollouts[0].Rewards[0] = float32(math.NaN())

	before := copyParams(a.Policy().Params())
	err := a.Learn(rollouts)
	assert.True(t, errors.Is(err, ErrNonFinite), "have(%v)", err)
	assert.Equal(t, before, a.Policy().Params())
}

func TestLearnRejectsEmpty(t *testing.T) {
	a := newAgent(t, smallConfig(PPO), envconfig.Config{Name: envconfig.Cartpole})
	assert.Error(t, a.Learn(nil))
	assert.True(t, errors.Is(a.Learn([]buffer.Rollout{{}}), buffer.ErrEmpty))
}

func TestDecoupled(t *testing.T) {
	cartpole := envconfig.Config{Name: envconfig.Cartpole}
	c := smallConfig(A2C)
	c.Learning = learning.Config{
		Kind:        learning.Decoupled,
		Policy:      solver.NewDefaultAdam(1e-3),
		Value:       solver.NewDefaultAdam(1e-2),
		MaxGradNorm: 0.5,
	}
	c.EntropyCoef = 0.01
	a := newAgent(t, c, cartpole)

	valueBefore := copyParams(a.ValueFunction().Network().Params())
	require.NoError(t, a.Learn(collect(t, a, cartpole, 32)))
	assert.NotEqual(t, valueBefore, a.ValueFunction().Network().Params())
}

func TestConfig(t *testing.T) {
	c := smallConfig(PPO)
	require.NoError(t, c.Validate())

	bad := c
	bad.Kind = Kind(9)
	assert.Error(t, bad.Validate())
	bad = c
	bad.ClipEpsilon = 1
	assert.Error(t, bad.Validate())
	bad = c
	bad.GAE.Lambda = 2
	assert.Error(t, bad.Validate())

	vpg := Config{Kind: VPG, GAE: c.GAE}.withDefaults()
	assert.Equal(t, 1.0, vpg.GAE.Lambda)
	assert.Equal(t, 1, vpg.Epochs)
	assert.Equal(t, 25, vpg.ValueSteps)
	assert.Equal(t, 0.5, vpg.ValueCoef)

	in := `
kind: a2c
gae: {gamma: 0.9, lambda: 0.8}
minibatch_size: 32
entropy_coef: 0.01
`
	var parsed Config
	require.NoError(t, yaml.Unmarshal([]byte(in), &parsed))
	assert.Equal(t, A2C, parsed.Kind)
	assert.Equal(t, 0.9, parsed.GAE.Gamma)
	assert.Equal(t, 32, parsed.MinibatchSize)
	assert.Equal(t, 0.01, parsed.EntropyCoef)
}

func TestCheckpoint(t *testing.T) {
	cartpole := envconfig.Config{Name: envconfig.Cartpole}
	trained := newAgent(t, smallConfig(A2C), cartpole)
	require.NoError(t, trained.Learn(collect(t, trained, cartpole, 32)))

	encoded, err := trained.GobEncode()
	require.NoError(t, err)

	c := smallConfig(A2C)
	e, err := cartpole.Create()
	require.NoError(t, err)
	fresh, err := New(e.Describe(), c, 99)
	require.NoError(t, err)
	defer fresh.Close()
	assert.NotEqual(t, trained.Policy().Params(), fresh.Policy().Params())

	require.NoError(t, fresh.GobDecode(encoded))
	assert.Equal(t, trained.Policy().Params(), fresh.Policy().Params())
	assert.Equal(t, trained.ValueFunction().Network().Params(),
		fresh.ValueFunction().Network().Params())

	ppo := newAgent(t, smallConfig(PPO), cartpole)
	assert.Error(t, ppo.GobDecode(encoded), "kinds must match")
}
