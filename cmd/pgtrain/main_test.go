package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/onpolicy/experiment/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const config = `
seed: 1
agent:
  kind: a2c
  policy: {hidden: [8], activation: tanh, init: {type: GlorotU, gain: 1}}
  value: {hidden: [8], activation: tanh, init: {type: GlorotU, gain: 1}}
  learning: {kind: parallel, policy: {type: Adam, step_size: 0.001}}
  gae: {gamma: 0.99, lambda: 0.95}
pool: {mode: threaded, num_envs: 2, env: {name: Cycle, max_steps: 5}}
rule: {kind: steps, n: 10}
schedule: {kind: steps, n: 40}
logging: {level: error}
returns_file: %q
`

func TestTrain(t *testing.T) {
	dir := t.TempDir()
	returns := filepath.Join(dir, "returns.bin")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte(fmt.Sprintf(config, returns)), 0o644))

	rootCmd.SetArgs([]string{"train", "--config", path, "--seed", "3"})
	require.NoError(t, rootCmd.Execute())

	var saved []float64
	require.NoError(t, tracker.LoadData(returns, &saved))
	assert.NotEmpty(t, saved)
	for _, r := range saved {
		assert.Equal(t, 6.0, r)
	}
}

func TestTrainMissingConfig(t *testing.T) {
	rootCmd.SetArgs([]string{"train", "--config",
		filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, rootCmd.Execute())
}

func TestEnvs(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)
	rootCmd.SetArgs([]string{"envs"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "CartPole-v1")
	assert.Contains(t, out.String(), "Cycle")
}
