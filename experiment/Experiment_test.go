package experiment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/onpolicy/agent"
	"github.com/samuelfneumann/onpolicy/algorithm"
	"github.com/samuelfneumann/onpolicy/backend"
	"github.com/samuelfneumann/onpolicy/environment/envconfig"
	"github.com/samuelfneumann/onpolicy/experiment/checkpointer"
	"github.com/samuelfneumann/onpolicy/experiment/tracker"
	"github.com/samuelfneumann/onpolicy/pool"
	"github.com/samuelfneumann/onpolicy/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// common holds every section of a config except the pool
const common = `
seed: 42
agent:
  kind: ppo
  policy:
    hidden: [8]
    activation: tanh
    init: {type: GlorotU, gain: 1}
  value:
    hidden: [8]
    activation: tanh
    init: {type: GlorotU, gain: 1}
  learning:
    kind: parallel
    policy: {type: Adam, step_size: 0.001}
  gae: {gamma: 0.99, lambda: 0.95}
  epochs: 2
  minibatch_size: 8
rule: {kind: episodes, n: 4}
schedule: {kind: rollouts, n: 2}
logging: {level: error}
`

const base = common + `
pool:
  mode: sequential
  num_envs: 2
  env: {name: Cycle, max_steps: 5}
`

const subprocess = common + `
pool:
  mode: subprocess
  num_envs: 1
  env: {name: Cycle}
  worker: [pgworker]
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(base))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), c.Seed)
	assert.Equal(t, agent.PPO, c.Agent.Kind)
	assert.Equal(t, []int{8}, c.Agent.Policy.Hidden)
	assert.Equal(t, pool.Sequential, c.Pool.Mode)
	assert.Equal(t, envconfig.Cycle, c.Pool.Env.Name)
	assert.Equal(t, sampler.Rule{Kind: sampler.EpisodeBound, N: 4}, c.Rule)
	assert.Equal(t, algorithm.RolloutBound, c.Schedule.Kind)
	assert.Nil(t, c.Eval)
	assert.Nil(t, c.StopReturn)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		target error
	}{
		{name: "unknown field", in: base + "learning_rate: 0.1\n"},
		{name: "negative kl target", in: base + "kl_target: -1\n"},
		{name: "bad eval", in: base + "eval: {episodes: 0, every: 1}\n"},
		{name: "empty pool", in: common + "pool: {mode: sequential}\n"},
		{
			name:   "preprocessing in subprocesses",
			in:     subprocess + "preprocess: {normalize_observations: true}\n",
			target: pool.ErrUnsupported,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.in))
			require.Error(t, err)
			if test.target != nil {
				assert.ErrorIs(t, err, test.target)
			}
		})
	}

	_, err := Parse([]byte(subprocess))
	assert.NoError(t, err, "subprocess pools without preprocessing")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(base), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Pool.NumEnvs)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	in := base + fmt.Sprintf(`
eval: {episodes: 2, every: 1}
checkpoint: {every: 1, dir: %q}
returns_file: %q
lengths_file: %q
`, filepath.Join(dir, "checkpoints"), filepath.Join(dir, "returns.bin"),
		filepath.Join(dir, "lengths.bin"))

	c, err := Parse([]byte(in))
	require.NoError(t, err)
	e, err := Build(c, nil)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 2, e.Schedule().Rollouts())

	var returns []float64
	require.NoError(t, tracker.LoadData(filepath.Join(dir, "returns.bin"),
		&returns))
	require.Len(t, returns, 8, "four episodes in each of two iterations")
	for _, r := range returns {
		assert.Equal(t, 6.0, r)
	}

	var lengths []int
	require.NoError(t, tracker.LoadData(filepath.Join(dir, "lengths.bin"),
		&lengths))
	require.Len(t, lengths, len(returns))
	for _, l := range lengths {
		assert.Equal(t, lengths[0], l)
		assert.Positive(t, l)
	}

	for i := 1; i <= 2; i++ {
		name := filepath.Join(dir, "checkpoints",
			fmt.Sprintf("agent%06d.bin", i))
		assert.FileExists(t, name)
	}

	// The last checkpoint holds the trained parameters
	env, err := c.Pool.Env.Create()
	require.NoError(t, err)
	restored, err := agent.New(env.Describe(), c.Agent, 1)
	require.NoError(t, err)
	defer restored.Close()
	require.NoError(t, checkpointer.Load(filepath.Join(dir, "checkpoints",
		"agent000002.bin"), restored))
	assert.Equal(t, e.Agent().Policy().Params(), restored.Policy().Params())
}

func TestRunStopReturn(t *testing.T) {
	c, err := Parse([]byte(base + "stop_return: 6\n"))
	require.NoError(t, err)
	c.Schedule.N = 5
	e, err := Build(c, nil)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 1, e.Schedule().Rollouts())
}

func TestSeeded(t *testing.T) {
	run := func() []backend.ValueBuffer {
		c, err := Parse([]byte(base))
		require.NoError(t, err)
		e, err := Build(c, nil)
		require.NoError(t, err)
		defer e.Close()
		require.NoError(t, e.Run(context.Background()))
		return e.Agent().Policy().Params()
	}
	assert.Equal(t, run(), run())
}
