// Package pool implements environment pools: a fixed set of
// environments, each with its own trajectory buffer, stepped together
// by a behaviour policy.
//
// A Pool runs in one of three modes. A Sequential pool steps its
// environments round-robin on the calling goroutine. A Threaded pool
// steps each environment on its own goroutine and joins them when the
// requested steps are taken. A Subprocess pool keeps each environment
// in a worker process (see Serve) and exchanges policies and rollouts
// with the workers over the ipc protocol.
//
// Every environment steps with its own fork of the behaviour policy and
// resets with seeds from its own RNG, so that Sequential and Threaded
// pools built from the same seed collect identical trajectories.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/samuelfneumann/onpolicy/buffer"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/environment/envconfig"
	"github.com/samuelfneumann/onpolicy/ipc"
	"github.com/samuelfneumann/onpolicy/policy"
	"golang.org/x/exp/rand"
)

var (
	// ErrUnsupported is returned when an operation is not available in
	// the mode of a pool
	ErrUnsupported = errors.New("unsupported by pool mode")

	// ErrWorkerExited is returned when a worker process stops answering
	ErrWorkerExited = errors.New("worker exited")
)

// Mode is the execution model of a pool
type Mode int

const (
	Sequential Mode = iota
	Threaded
	Subprocess
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "Sequential"
	case Threaded:
		return "Threaded"
	case Subprocess:
		return "Subprocess"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Sequential", "sequential":
		*m = Sequential
	case "Threaded", "threaded":
		*m = Threaded
	case "Subprocess", "subprocess":
		*m = Subprocess
	default:
		return fmt.Errorf("unmarshalText: unknown pool mode %q", text)
	}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Config describes a pool of identical environments
type Config struct {
	Mode    Mode             `yaml:"mode"`
	NumEnvs int              `yaml:"num_envs"`
	Env     envconfig.Config `yaml:"env"`

	// Worker is the command line that starts one worker process of a
	// Subprocess pool. The environment flags of WorkerArgs are appended.
	Worker []string `yaml:"worker"`
}

// Validate checks that the Config describes a legal pool
func (c Config) Validate() error {
	if c.NumEnvs <= 0 {
		return fmt.Errorf("validate: number of environments must be "+
			"positive, have(%v)", c.NumEnvs)
	}
	if err := c.Env.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	switch c.Mode {
	case Sequential, Threaded:
	case Subprocess:
		if len(c.Worker) == 0 {
			return fmt.Errorf("validate: subprocess pool needs a worker " +
				"command")
		}
	default:
		return fmt.Errorf("validate: unknown pool mode %v", c.Mode)
	}
	return nil
}

// WorkerArgs returns the flags that make a worker binary build the
// environment described by c and seed its resets with seed
func WorkerArgs(c envconfig.Config, seed uint64) []string {
	return []string{
		"--env", string(c.Name),
		"--seed", strconv.FormatUint(seed, 10),
		"--max-steps", strconv.Itoa(c.MaxSteps),
		"--step-delay", c.StepDelay.String(),
	}
}

// progress counts what one environment did in one collection pass
type progress struct {
	steps    int
	episodes int
	done     bool // whether the last step ended an episode
}

func (p *progress) add(done bool) {
	p.steps++
	p.done = done
	if done {
		p.episodes++
	}
}

// stopFunc reports whether an environment has stepped enough
type stopFunc func(progress) bool

// Pool is a set of environments stepped together
type Pool struct {
	mode   Mode
	desc   env.Description
	logger *slog.Logger

	// rng seeds the per-environment forks of behaviour policies
	rng *rand.Rand

	// Sequential and Threaded pools
	envs     []env.Environment
	seeders  []*rand.Rand
	buffers  []*buffer.Shared
	running  []float64   // raw return of each current episode
	episodes [][]float64 // raw returns of episodes ended since Rollouts
	source   *policy.Behaviour
	actors   []*policy.Behaviour

	// Subprocess pools
	workers []*worker
	pending []buffer.Rollout
}

// New returns the pool described by c. Seed determines every reset
// and action taken in the pool.
func New(c Config, seed uint64, logger *slog.Logger) (*Pool, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	if c.Mode == Subprocess {
		probe, err := c.Env.Create()
		if err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
		seeds := rand.New(rand.NewSource(seed))
		cmds := make([]*exec.Cmd, c.NumEnvs)
		for i := range cmds {
			args := append(append([]string(nil), c.Worker[1:]...),
				WorkerArgs(c.Env, seeds.Uint64())...)
			cmds[i] = exec.Command(c.Worker[0], args...)
		}
		return NewSubprocess(cmds, probe.Describe(), seeds.Uint64(), logger)
	}

	envs := make([]env.Environment, c.NumEnvs)
	for i := range envs {
		e, err := c.Env.Create()
		if err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
		envs[i] = e
	}
	return NewLocal(envs, c.Mode, seed, logger)
}

// NewLocal returns a Sequential or Threaded pool over envs, which must
// share one description. Every environment is reset immediately.
func NewLocal(envs []env.Environment, mode Mode, seed uint64,
	logger *slog.Logger) (*Pool, error) {
	if mode != Sequential && mode != Threaded {
		return nil, fmt.Errorf("newLocal: %v: %w", mode, ErrUnsupported)
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("newLocal: no environments")
	}
	if logger == nil {
		logger = slog.Default()
	}

	root := rand.New(rand.NewSource(seed))
	p := &Pool{
		mode:     mode,
		desc:     envs[0].Describe(),
		logger:   logger,
		envs:     envs,
		seeders:  make([]*rand.Rand, len(envs)),
		buffers:  make([]*buffer.Shared, len(envs)),
		running:  make([]float64, len(envs)),
		episodes: make([][]float64, len(envs)),
	}
	for i, e := range envs {
		p.seeders[i] = rand.New(rand.NewSource(root.Uint64()))
		start, err := e.Reset(p.seeders[i].Uint64())
		if err != nil {
			return nil, fmt.Errorf("newLocal: reset env %d: %w", i, err)
		}
		p.buffers[i] = buffer.NewShared(buffer.NewVariableSize(0, start))
	}
	p.rng = rand.New(rand.NewSource(root.Uint64()))
	return p, nil
}

// Mode returns the execution model of the pool
func (p *Pool) Mode() Mode {
	return p.mode
}

// NumEnvs returns the number of environments in the pool
func (p *Pool) NumEnvs() int {
	if p.mode == Subprocess {
		return len(p.workers)
	}
	return len(p.envs)
}

// Describe returns the description shared by the pool's environments
func (p *Pool) Describe() env.Description {
	return p.desc
}

// Progress returns the number of steps buffered since the last call to
// Rollouts. It may be called while a Threaded pool is stepping, in
// which case it waits for the running pass to end.
func (p *Pool) Progress() int {
	if p.mode == Subprocess {
		return buffer.TotalSteps(p.pending)
	}
	var n int
	for _, b := range p.buffers {
		n += b.Len()
	}
	return n
}

// StepN advances every environment by exactly n steps into fixed-size
// buffers of capacity n. Environments whose episodes end are reset and
// continue from their reset state.
func (p *Pool) StepN(ctx context.Context, b *policy.Behaviour,
	n int) error {
	if n <= 0 {
		return fmt.Errorf("stepN: steps must be positive, have(%v)", n)
	}
	if p.mode == Subprocess {
		return p.dispatch(ctx, b, ipc.Rule{Kind: ipc.Steps, N: n})
	}
	return p.collect(ctx, b, n, func(prog progress) bool {
		return prog.steps >= n
	})
}

// StepUntilEpisodes runs complete episodes in every environment until
// the pool has taken at least target steps: each environment steps
// until it has taken ceil(target / NumEnvs()) steps and its last
// episode has ended.
func (p *Pool) StepUntilEpisodes(ctx context.Context, b *policy.Behaviour,
	target int) error {
	if target <= 0 {
		return fmt.Errorf("stepUntilEpisodes: target must be positive, "+
			"have(%v)", target)
	}
	perEnv := ceilDiv(target, p.NumEnvs())
	if p.mode == Subprocess {
		return p.dispatch(ctx, b, ipc.Rule{Kind: ipc.EpisodeSteps, N: perEnv})
	}
	return p.collect(ctx, b, 0, func(prog progress) bool {
		return prog.steps >= perEnv && prog.done
	})
}

// StepEpisodes runs ceil(target / NumEnvs()) complete episodes in every
// environment
func (p *Pool) StepEpisodes(ctx context.Context, b *policy.Behaviour,
	target int) error {
	if target <= 0 {
		return fmt.Errorf("stepEpisodes: target must be positive, "+
			"have(%v)", target)
	}
	perEnv := ceilDiv(target, p.NumEnvs())
	if p.mode == Subprocess {
		return p.dispatch(ctx, b, ipc.Rule{Kind: ipc.Episodes, N: perEnv})
	}
	return p.collect(ctx, b, 0, func(prog progress) bool {
		return prog.episodes >= perEnv
	})
}

// Rollouts returns the steps buffered in each environment since the
// last call, in pool order, and empties the buffers. Environments
// continue from where they stopped.
func (p *Pool) Rollouts() ([]buffer.Rollout, error) {
	if p.mode == Subprocess {
		if p.pending == nil {
			return nil, fmt.Errorf("rollouts: nothing collected: %w",
				buffer.ErrEmpty)
		}
		rollouts := p.pending
		p.pending = nil
		return rollouts, nil
	}

	rollouts := make([]buffer.Rollout, len(p.buffers))
	for i, s := range p.buffers {
		err := s.Do(func(b buffer.Buffer) error {
			r, err := b.Rollout()
			if err != nil {
				return err
			}
			r.EpisodeReturns = p.episodes[i]
			rollouts[i] = r
			return b.Clear()
		})
		if err != nil {
			return nil, fmt.Errorf("rollouts: env %d: %w", i, err)
		}
		p.episodes[i] = nil
	}
	return rollouts, nil
}

// Close stops the pool's worker processes
func (p *Pool) Close() error {
	var errs []error
	for _, w := range p.workers {
		if err := w.halt(); err != nil {
			errs = append(errs, err)
		}
	}
	p.workers = nil
	return errors.Join(errs...)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
