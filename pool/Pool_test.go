package pool

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/samuelfneumann/onpolicy/buffer"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/environment/envconfig"
	"github.com/samuelfneumann/onpolicy/ipc"
	"github.com/samuelfneumann/onpolicy/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

// workerEnv makes the test binary serve as a pool worker
const workerEnv = "ONPOLICY_POOL_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		os.Exit(serveWorker(os.Args[1:]))
	}
	os.Exit(m.Run())
}

// serveWorker runs Serve on stdin and stdout with the environment
// described by the WorkerArgs flags in args
func serveWorker(args []string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	name := fs.String("env", "", "environment name")
	seed := fs.Uint64("seed", 0, "reset seed")
	maxSteps := fs.Int("max-steps", 0, "episode horizon")
	delay := fs.Duration("step-delay", 0, "delay per step")
	if err := fs.Parse(args); err != nil {
		logger.Error("could not parse flags", slog.Any("error", err))
		return 2
	}

	e, err := envconfig.Config{
		Name:      envconfig.EnvName(*name),
		MaxSteps:  *maxSteps,
		StepDelay: *delay,
	}.Create()
	if err != nil {
		logger.Error("could not create environment", slog.Any("error", err))
		return 1
	}

	conn := ipc.NewConn(os.Stdin, os.Stdout)
	if err := Serve(context.Background(), e, *seed, conn, logger); err != nil {
		logger.Error("worker failed", slog.Any("error", err))
		return 1
	}
	return 0
}

func newEnvs(t testing.TB, c envconfig.Config, n int) []env.Environment {
	envs := make([]env.Environment, n)
	for i := range envs {
		e, err := c.Create()
		require.NoError(t, err)
		envs[i] = e
	}
	return envs
}

func newBehaviour(t testing.TB, desc env.Description,
	seed uint64) *policy.Behaviour {
	p, err := policy.New(desc, policy.DefaultConfig(), seed)
	require.NoError(t, err)
	return p.Behaviour(seed + 1)
}

var (
	cartpole = envconfig.Config{Name: envconfig.Cartpole}
	cycle    = envconfig.Config{Name: envconfig.Cycle, MaxSteps: 5}
)

func TestStepN(t *testing.T) {
	for _, mode := range []Mode{Sequential, Threaded} {
		t.Run(mode.String(), func(t *testing.T) {
			p, err := NewLocal(newEnvs(t, cartpole, 3), mode, 1, nil)
			require.NoError(t, err)
			b := newBehaviour(t, p.Describe(), 2)

			require.NoError(t, p.StepN(context.Background(), b, 50))
			assert.Equal(t, 150, p.Progress())

			rollouts, err := p.Rollouts()
			require.NoError(t, err)
			require.Len(t, rollouts, 3)
			for _, r := range rollouts {
				assert.Equal(t, 50, r.Len())
				assert.NoError(t, r.Validate())
			}
			assert.Equal(t, 0, p.Progress())

			// Environments continue from where they stopped
			require.NoError(t, p.StepN(context.Background(), b, 10))
			next, err := p.Rollouts()
			require.NoError(t, err)
			for i := range next {
				if rollouts[i].Dones[49] {
					continue
				}
				assert.Equal(t, rollouts[i].Terminal.Data,
					next[i].States[0].Data)
			}
		})
	}
}

func TestStepNResetsFinishedEpisodes(t *testing.T) {
	p, err := NewLocal(newEnvs(t, cycle, 2), Sequential, 1, nil)
	require.NoError(t, err)
	b := newBehaviour(t, p.Describe(), 2)

	require.NoError(t, p.StepN(context.Background(), b, 12))
	rollouts, err := p.Rollouts()
	require.NoError(t, err)

	for _, r := range rollouts {
		assert.Equal(t, []float32{0, 1, 2, 3, 0, 0, 1, 2, 3, 0, 0, 1},
			r.Rewards)
		assert.Equal(t, []bool{false, false, false, false, true, false,
			false, false, false, true, false, false}, r.Dones)
		assert.Equal(t, []float64{6, 6}, r.EpisodeReturns)

		// The state after a finished episode is the reset state
		assert.Equal(t, env.OneHot(0, 4).Data, r.States[5].Data)
	}
}

func TestStepEpisodes(t *testing.T) {
	for _, mode := range []Mode{Sequential, Threaded} {
		t.Run(mode.String(), func(t *testing.T) {
			p, err := NewLocal(newEnvs(t, cycle, 2), mode, 1, nil)
			require.NoError(t, err)
			b := newBehaviour(t, p.Describe(), 2)

			// Five episodes over two environments is three each
			require.NoError(t, p.StepEpisodes(context.Background(), b, 5))
			rollouts, err := p.Rollouts()
			require.NoError(t, err)
			for _, r := range rollouts {
				assert.Equal(t, 15, r.Len())
				assert.True(t, r.Dones[r.Len()-1])
				assert.Equal(t, []float64{6, 6, 6}, r.EpisodeReturns)
			}
		})
	}
}

func TestStepUntilEpisodes(t *testing.T) {
	for _, mode := range []Mode{Sequential, Threaded} {
		t.Run(mode.String(), func(t *testing.T) {
			p, err := NewLocal(newEnvs(t, cycle, 2), mode, 1, nil)
			require.NoError(t, err)
			b := newBehaviour(t, p.Describe(), 2)

			// Six steps per environment end within the second episode
			require.NoError(t, p.StepUntilEpisodes(context.Background(), b,
				12))
			rollouts, err := p.Rollouts()
			require.NoError(t, err)
			assert.Equal(t, 20, buffer.TotalSteps(rollouts))
			for _, r := range rollouts {
				assert.Equal(t, 10, r.Len())
				assert.True(t, r.Dones[r.Len()-1])
			}
		})
	}
}

func TestRejectsNonPositiveTargets(t *testing.T) {
	p, err := NewLocal(newEnvs(t, cycle, 1), Sequential, 1, nil)
	require.NoError(t, err)
	b := newBehaviour(t, p.Describe(), 2)
	ctx := context.Background()

	assert.Error(t, p.StepN(ctx, b, 0))
	assert.Error(t, p.StepEpisodes(ctx, b, -1))
	assert.Error(t, p.StepUntilEpisodes(ctx, b, 0))
}

func TestCancelled(t *testing.T) {
	for _, mode := range []Mode{Sequential, Threaded} {
		t.Run(mode.String(), func(t *testing.T) {
			p, err := NewLocal(newEnvs(t, cycle, 2), mode, 1, nil)
			require.NoError(t, err)
			b := newBehaviour(t, p.Describe(), 2)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err = p.StepN(ctx, b, 10)
			assert.True(t, errors.Is(err, context.Canceled))
		})
	}
}

func TestSequentialMatchesThreaded(t *testing.T) {
	seq, err := NewLocal(newEnvs(t, cartpole, 4), Sequential, 7, nil)
	require.NoError(t, err)
	thr, err := NewLocal(newEnvs(t, cartpole, 4), Threaded, 7, nil)
	require.NoError(t, err)
	b := newBehaviour(t, seq.Describe(), 8)

	for pass := 0; pass < 3; pass++ {
		require.NoError(t, seq.StepN(context.Background(), b, 100))
		require.NoError(t, thr.StepN(context.Background(), b, 100))

		want, err := seq.Rollouts()
		require.NoError(t, err)
		got, err := thr.Rollouts()
		require.NoError(t, err)
		assert.Equal(t, want, got, "pass %d", pass)
	}
}

// meanReturn returns the mean episode return of one collection pass of
// a pool of mode built from seed
func meanReturn(t *testing.T, mode Mode, seed uint64) float64 {
	p, err := NewLocal(newEnvs(t, cartpole, 2), mode, seed, nil)
	require.NoError(t, err)
	b := newBehaviour(t, p.Describe(), seed)

	require.NoError(t, p.StepUntilEpisodes(context.Background(), b, 100))
	rollouts, err := p.Rollouts()
	require.NoError(t, err)

	episodes := buffer.EpisodeReturns(rollouts)
	require.NotEmpty(t, episodes)
	return stat.Mean(episodes, nil)
}

func TestPoolEquivalenceOverSeeds(t *testing.T) {
	const k = 64
	seq := make([]float64, k)
	thr := make([]float64, k)
	for i := range seq {
		seq[i] = meanReturn(t, Sequential, uint64(i))
		thr[i] = meanReturn(t, Threaded, uint64(i))
	}

	seqMean, seqVar := stat.MeanVariance(seq, nil)
	thrMean, thrVar := stat.MeanVariance(thr, nil)
	sigma := math.Sqrt(seqVar/k + thrVar/k)
	assert.LessOrEqual(t, math.Abs(seqMean-thrMean), 3*sigma+1e-12)
}

func TestTakeAndPut(t *testing.T) {
	for _, mode := range []Mode{Sequential, Threaded} {
		t.Run(mode.String(), func(t *testing.T) {
			p, err := NewLocal(newEnvs(t, cycle, 2), mode, 1, nil)
			require.NoError(t, err)
			b := newBehaviour(t, p.Describe(), 2)
			ctx := context.Background()

			taken, err := p.StepSingleAndTake(ctx, b)
			require.NoError(t, err)
			require.Len(t, taken, 2)
			for _, s := range taken {
				assert.Equal(t, 1, s.Len())
			}

			// Nothing can step while the buffers are taken
			assert.True(t, errors.Is(p.StepN(ctx, b, 1), buffer.ErrTaken))

			taken[0].Rewards[0] = 10
			require.NoError(t, p.PutBuffers(taken))
			assert.Equal(t, 2, p.Progress())

			taken, err = p.StepSelectedAndTake(ctx, b, []bool{true, false})
			require.NoError(t, err)
			require.NotNil(t, taken[0])
			assert.Nil(t, taken[1])
			assert.Equal(t, 2, taken[0].Len())
			require.NoError(t, p.PutBuffers(taken))

			rollouts, err := p.Rollouts()
			require.NoError(t, err)
			assert.Equal(t, []float32{10, 1}, rollouts[0].Rewards)
			assert.Equal(t, []float32{0}, rollouts[1].Rewards)

			_, err = p.StepSelectedAndTake(ctx, b, []bool{true})
			assert.Error(t, err, "one flag per environment")
		})
	}
}

func TestDiscard(t *testing.T) {
	p, err := NewLocal(newEnvs(t, cycle, 2), Sequential, 1, nil)
	require.NoError(t, err)
	b := newBehaviour(t, p.Describe(), 2)
	ctx := context.Background()

	require.NoError(t, p.StepN(ctx, b, 3))
	require.NoError(t, p.discard())
	require.NoError(t, p.StepN(ctx, b, 2))
	rollouts, err := p.Rollouts()
	require.NoError(t, err)
	for _, r := range rollouts {
		assert.Len(t, r.Rewards, 2, "discarded steps are gone")
	}

	// Taken buffers cannot be cleared
	taken, err := p.StepSingleAndTake(ctx, b)
	require.NoError(t, err)
	assert.ErrorIs(t, p.discard(), buffer.ErrTaken)
	require.NoError(t, p.PutBuffers(taken))
	assert.NoError(t, p.discard())
}

func TestTakeAll(t *testing.T) {
	p, err := NewLocal(newEnvs(t, cycle, 3), Sequential, 1, nil)
	require.NoError(t, err)

	taken, err := p.Take()
	require.NoError(t, err)
	require.Len(t, taken, 3)
	for _, s := range taken {
		assert.Equal(t, 0, s.Len())
		assert.Equal(t, env.OneHot(0, 4).Data, s.Resume.Data)
	}
	assert.Error(t, p.PutBuffers(taken[:2]))
	require.NoError(t, p.PutBuffers(taken))
}

func TestModeText(t *testing.T) {
	for _, mode := range []Mode{Sequential, Threaded, Subprocess} {
		text, err := mode.MarshalText()
		require.NoError(t, err)

		var got Mode
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, mode, got)
	}
	var m Mode
	assert.Error(t, m.UnmarshalText([]byte("Distributed")))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		c     Config
		valid bool
	}{
		{"sequential", Config{Mode: Sequential, NumEnvs: 2, Env: cycle}, true},
		{"no envs", Config{Mode: Threaded, Env: cycle}, false},
		{"unknown env", Config{NumEnvs: 1,
			Env: envconfig.Config{Name: "Pong"}}, false},
		{"no worker", Config{Mode: Subprocess, NumEnvs: 1, Env: cycle}, false},
		{"subprocess", Config{Mode: Subprocess, NumEnvs: 1, Env: cycle,
			Worker: []string{"pgworker"}}, true},
		{"unknown mode", Config{Mode: Mode(9), NumEnvs: 1, Env: cycle}, false},
	}
	for _, test := range tests {
		err := test.c.Validate()
		if test.valid {
			assert.NoError(t, err, test.name)
		} else {
			assert.Error(t, err, test.name)
		}
	}
}

func TestWorkerArgs(t *testing.T) {
	c := envconfig.Config{Name: envconfig.Acrobot, MaxSteps: 100,
		StepDelay: 10 * time.Millisecond}
	assert.Equal(t, []string{"--env", "Acrobot-v1", "--seed", "42",
		"--max-steps", "100", "--step-delay", "10ms"}, WorkerArgs(c, 42))
}

// newSubprocess returns a Subprocess pool whose workers are the test
// binary itself
func newSubprocess(t *testing.T, c envconfig.Config, n int) *Pool {
	t.Setenv(workerEnv, "1")
	p, err := New(Config{
		Mode:    Subprocess,
		NumEnvs: n,
		Env:     c,
		Worker:  []string{os.Args[0]},
	}, 3, nil)
	require.NoError(t, err)
	return p
}

func TestSubprocess(t *testing.T) {
	p := newSubprocess(t, cycle, 2)
	assert.Equal(t, 2, p.NumEnvs())
	assert.Equal(t, Subprocess, p.Mode())
	b := newBehaviour(t, p.Describe(), 4)
	ctx := context.Background()

	_, err := p.Rollouts()
	assert.True(t, errors.Is(err, buffer.ErrEmpty))

	require.NoError(t, p.StepN(ctx, b, 10))
	assert.Equal(t, 20, p.Progress())
	assert.Error(t, p.StepN(ctx, b, 10), "rollouts were not taken")

	rollouts, err := p.Rollouts()
	require.NoError(t, err)
	require.Len(t, rollouts, 2)
	for _, r := range rollouts {
		assert.Equal(t, []float32{0, 1, 2, 3, 0, 0, 1, 2, 3, 0}, r.Rewards)
		assert.Equal(t, []float64{6, 6}, r.EpisodeReturns)
	}

	require.NoError(t, p.StepEpisodes(ctx, b, 4))
	rollouts, err = p.Rollouts()
	require.NoError(t, err)
	for _, r := range rollouts {
		assert.Equal(t, 10, r.Len())
		assert.Equal(t, []float64{6, 6}, r.EpisodeReturns)
	}

	require.NoError(t, p.StepUntilEpisodes(ctx, b, 12))
	rollouts, err = p.Rollouts()
	require.NoError(t, err)
	for _, r := range rollouts {
		assert.Equal(t, 10, r.Len())
	}

	require.NoError(t, p.Close())
}

func TestSubprocessFailure(t *testing.T) {
	p := newSubprocess(t, cycle, 2)
	defer p.Close()
	ctx := context.Background()

	// A policy for an environment with more features cannot act in the
	// workers' environment
	acrobot, err := envconfig.Make(envconfig.Acrobot)
	require.NoError(t, err)
	wrong := newBehaviour(t, acrobot.Describe(), 4)
	err = p.StepN(ctx, wrong, 10)
	assert.True(t, errors.Is(err, ipc.ErrRemote), "%v", err)

	// Workers survive failed requests
	b := newBehaviour(t, p.Describe(), 4)
	require.NoError(t, p.StepN(ctx, b, 5))
	rollouts, err := p.Rollouts()
	require.NoError(t, err)
	assert.Equal(t, 10, buffer.TotalSteps(rollouts))
}

func TestSubprocessUnsupported(t *testing.T) {
	p := newSubprocess(t, cycle, 1)
	defer p.Close()
	b := newBehaviour(t, p.Describe(), 4)

	_, err := p.StepSingleAndTake(context.Background(), b)
	assert.True(t, errors.Is(err, ErrUnsupported))
	_, err = p.Take()
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.True(t, errors.Is(p.PutBuffers(nil), ErrUnsupported))
}

func TestSubprocessSpeedup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}
	const (
		workers = 4
		steps   = 2048
		delay   = 10 * time.Millisecond
	)
	c := envconfig.Config{Name: envconfig.Cycle, StepDelay: delay}

	// A single environment taking one worker's share of the steps
	single, err := NewLocal(newEnvs(t, c, 1), Sequential, 1, nil)
	require.NoError(t, err)
	b := newBehaviour(t, single.Describe(), 2)
	start := time.Now()
	require.NoError(t, single.StepN(context.Background(), b, steps/workers))
	singleTime := time.Since(start)

	p := newSubprocess(t, c, workers)
	defer p.Close()
	start = time.Now()
	require.NoError(t, p.StepN(context.Background(), b, steps/workers))
	poolTime := time.Since(start)

	rollouts, err := p.Rollouts()
	require.NoError(t, err)
	assert.Equal(t, steps, buffer.TotalSteps(rollouts))
	assert.Less(t, poolTime, workers*singleTime,
		fmt.Sprintf("pool %v, single environment %v", poolTime, singleTime))
}
