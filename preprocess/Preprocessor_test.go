package preprocess

import (
	"errors"
	"math"
	"testing"

	"github.com/samuelfneumann/onpolicy/backend"
	"github.com/samuelfneumann/onpolicy/buffer"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

// step pushes one step into s reaching next with reward r
func step(s *buffer.StateBuffer, next []float32, r float32, terminated,
	truncated bool, reset []float32) {
	resume := backend.Vector(next)
	if terminated || truncated {
		resume = backend.Vector(reset)
	}
	s.Push(s.Resume, env.OneHot(0, 2), env.Snapshot{
		State:      backend.Vector(next),
		Reward:     r,
		Terminated: terminated,
		Truncated:  truncated,
	}, resume)
}

func TestRunningMeanStd(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	rms := NewRunningMeanStd(2)

	var xs, ys []float64
	for b := 0; b < 20; b++ {
		batch := make([][]float64, 1+b%4)
		for i := range batch {
			x, y := 3+2*rng.NormFloat64(), -1+0.5*rng.NormFloat64()
			batch[i] = []float64{x, y}
			xs = append(xs, x)
			ys = append(ys, y)
		}
		require.NoError(t, rms.Update(batch))
	}

	mean, vari := rms.Mean(), rms.Var()
	assert.InDelta(t, stat.Mean(xs, nil), mean[0], 1e-3)
	assert.InDelta(t, stat.Mean(ys, nil), mean[1], 1e-3)
	assert.InDelta(t, stat.Moment(2, xs, nil), vari[0], 1e-3)
	assert.InDelta(t, stat.Moment(2, ys, nil), vari[1], 1e-3)
	assert.InDelta(t, float64(len(xs)), rms.Count(), 1e-3)

	assert.Error(t, rms.Update([][]float64{{1}}))
}

func TestRunningMeanStdPrior(t *testing.T) {
	rms := NewRunningMeanStd(1)
	assert.Equal(t, []float64{0}, rms.Mean())
	assert.Equal(t, []float64{1}, rms.Var())

	require.NoError(t, rms.Update(nil))
	assert.Equal(t, 1e-4, rms.Count())
}

func TestObservationNormalizer(t *testing.T) {
	o := NewObservationNormalizer(1, 1e-8, 10)
	buffers := []*buffer.StateBuffer{
		buffer.NewStateBuffer(0, backend.Vector([]float32{1})),
		buffer.NewStateBuffer(0, backend.Vector([]float32{3})),
	}
	require.NoError(t, o.Init(buffers))
	assert.InDelta(t, 2.0, o.Stats().Mean()[0], 1e-3)
	assert.InDelta(t, -1.0, float64(buffers[0].Resume.Data[0]), 1e-3)
	assert.InDelta(t, 1.0, float64(buffers[1].Resume.Data[0]), 1e-3)

	raw := backend.Vector([]float32{100})
	step(buffers[0], raw.Data, 0, false, false, nil)
	step(buffers[1], []float32{-100}, 0, true, false, []float32{2})
	require.NoError(t, o.Process(nil, buffers))

	assert.Equal(t, []float32{100}, raw.Data, "raw observations are copied")
	assert.Equal(t, buffers[0].NextStates[0].Data, buffers[0].Resume.Data,
		"an unfinished episode resumes from its normalised next state")
	assert.NotEqual(t, buffers[1].NextStates[0].Data, buffers[1].Resume.Data,
		"a finished episode resumes from its normalised reset state")
	for _, s := range buffers {
		x := math.Abs(float64(s.NextStates[0].Data[0]))
		assert.LessOrEqual(t, x, 10.0)
	}
	assert.Greater(t, buffers[0].NextStates[0].Data[0], float32(0))
	assert.Less(t, buffers[1].NextStates[0].Data[0], float32(0))
}

func TestObservationClipping(t *testing.T) {
	o := NewObservationNormalizer(1, 1e-8, 0.5)
	out := o.Normalize(backend.Vector([]float32{5}))
	assert.Equal(t, []float32{0.5}, out.Data)
}

func TestRewardNormalizerVariance(t *testing.T) {
	// With no discounting the returns are the rewards themselves
	rewards := []float32{0, 1, 2, 3}
	r := NewRewardNormalizer(2, 0, 1e-8, 10)
	buffers := []*buffer.StateBuffer{
		buffer.NewStateBuffer(0, backend.Vector([]float32{0})),
		buffer.NewStateBuffer(0, backend.Vector([]float32{0})),
	}

	for i := 0; i < 400; i++ {
		for k, s := range buffers {
			step(s, []float32{0}, rewards[(i+k)%4], false, false, nil)
		}
		require.NoError(t, r.Process(nil, buffers))
	}
	assert.InDelta(t, 1.25, r.Variance(), 0.05*1.25)

	// Rewards are rescaled by the running standard deviation
	last := buffers[0].Rewards[len(buffers[0].Rewards)-1]
	raw := rewards[399%4]
	assert.InDelta(t, float64(raw)/math.Sqrt(r.Variance()), float64(last),
		1e-2)
}

func TestRewardNormalizerResetsReturns(t *testing.T) {
	r := NewRewardNormalizer(1, 0.9, 1e-8, 10)
	s := []*buffer.StateBuffer{
		buffer.NewStateBuffer(0, backend.Vector([]float32{0})),
	}
	step(s[0], []float32{0}, 1, false, false, nil)
	require.NoError(t, r.Process(nil, s))
	assert.Equal(t, 1.0, r.returns[0])

	step(s[0], []float32{0}, 1, true, false, []float32{0})
	require.NoError(t, r.Process(nil, s))
	assert.Equal(t, 0.0, r.returns[0])

	assert.Error(t, r.Process(nil, append(s, s[0])))
}

func TestEarlyTermination(t *testing.T) {
	v, err := policy.NewValueFunction(1, policy.DefaultConfig(), 1)
	require.NoError(t, err)
	e := NewEarlyTermination(v, 0.5)

	buffers := []*buffer.StateBuffer{
		buffer.NewStateBuffer(0, backend.Vector([]float32{0})),
		buffer.NewStateBuffer(0, backend.Vector([]float32{0})),
		buffer.NewStateBuffer(0, backend.Vector([]float32{0})),
	}
	step(buffers[0], []float32{1}, 1, false, true, []float32{0})
	step(buffers[1], []float32{1}, 1, true, false, []float32{0})
	step(buffers[2], []float32{1}, 1, false, false, nil)
	require.NoError(t, e.Process(nil, buffers))

	want := 1 + 0.5*v.Value(backend.Vector([]float32{1}))
	assert.InDelta(t, want, float64(buffers[0].Rewards[0]), 1e-5)
	assert.Equal(t, float32(1), buffers[1].Rewards[0])
	assert.Equal(t, float32(1), buffers[2].Rewards[0])
}

type failing struct{}

var errFailing = errors.New("failing")

func (failing) Process(*policy.Behaviour, []*buffer.StateBuffer) error {
	return errFailing
}

func TestChain(t *testing.T) {
	c := Config{NormalizeObservations: true, NormalizeRewards: true}
	chain, err := c.Build(1, 1, 0.99, nil)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	buffers := []*buffer.StateBuffer{
		buffer.NewStateBuffer(0, backend.Vector([]float32{4})),
	}
	require.NoError(t, chain.Init(buffers))
	step(buffers[0], []float32{5}, 2, false, false, nil)
	require.NoError(t, chain.Process(nil, buffers))

	chain = append(chain, failing{})
	step(buffers[0], []float32{5}, 2, false, false, nil)
	assert.True(t, errors.Is(chain.Process(nil, buffers), errFailing))

	_, err = Config{EarlyTermination: true}.Build(1, 1, 0.99, nil)
	assert.Error(t, err, "early termination needs a value function")
	assert.True(t, Config{}.Empty())
}
