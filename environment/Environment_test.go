package environment_test

import (
	"errors"
	"testing"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/environment/dummy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r1"
)

func TestDiscreteAction(t *testing.T) {
	tests := []struct {
		name   string
		action []float32
		want   int
		ok     bool
	}{
		{"index", []float32{2}, 2, true},
		{"one-hot", []float32{0, 0, 1, 0}, 2, true},
		{"index out of range", []float32{4}, 0, false},
		{"fractional index", []float32{1.5}, 0, false},
		{"two hot", []float32{0, 1, 1, 0}, 0, false},
		{"all zero", []float32{0, 0, 0, 0}, 0, false},
		{"bad length", []float32{0, 1}, 0, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := env.DiscreteAction(backend.Vector(test.action), 4)
			if !test.ok {
				assert.True(t, errors.Is(err, env.ErrAction))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestOneHot(t *testing.T) {
	v := env.OneHot(1, 3)
	assert.Equal(t, []float32{0, 1, 0}, v.Data)
	assert.Equal(t, []int{3}, v.Shape)
}

func TestTimeLimitTruncates(t *testing.T) {
	e := env.NewTimeLimit(dummy.NewCycle(), 3)
	action := env.OneHot(0, dummy.NumActions)

	_, err := e.Step(action)
	require.True(t, errors.Is(err, env.ErrNeedsReset),
		"stepping before reset should fail")

	_, err = e.Reset(0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		snap, err := e.Step(action)
		require.NoError(t, err)
		assert.False(t, snap.Terminated)
		assert.Equal(t, i == 2, snap.Truncated, "step %d", i)
	}

	_, err = e.Step(action)
	assert.True(t, errors.Is(err, env.ErrNeedsReset))

	_, err = e.Reset(1)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Steps())
	_, err = e.Step(action)
	assert.NoError(t, err)
}

// terminating ends its episode naturally on its nth step
type terminating struct {
	*dummy.Cycle
	n, steps int
}

func (e *terminating) Step(a backend.ValueBuffer) (env.Snapshot, error) {
	snap, err := e.Cycle.Step(a)
	e.steps++
	snap.Terminated = e.steps == e.n
	return snap, err
}

func TestTimeLimitPrefersTermination(t *testing.T) {
	e := env.NewTimeLimit(&terminating{Cycle: dummy.NewCycle(), n: 2}, 2)
	_, err := e.Reset(0)
	require.NoError(t, err)

	action := env.OneHot(1, dummy.NumActions)
	_, err = e.Step(action)
	require.NoError(t, err)
	snap, err := e.Step(action)
	require.NoError(t, err)

	assert.True(t, snap.Terminated)
	assert.False(t, snap.Truncated,
		"terminated and truncated are mutually exclusive")
}

func TestUniformStarterDeterministic(t *testing.T) {
	s := env.NewUniformStarter([]r1.Interval{{Min: -1, Max: 1}, {Min: 5, Max: 6}})
	first := s.Start(3)
	assert.Equal(t, first, s.Start(3))
	assert.NotEqual(t, first, s.Start(4))

	require.Len(t, first, 2)
	assert.True(t, first[0] >= -1 && first[0] <= 1)
	assert.True(t, first[1] >= 5 && first[1] <= 6)
}
