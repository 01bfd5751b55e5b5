// Package sampler collects rollouts from an environment pool under a
// stopping rule.
//
// A Sampler binds a Rule to a pool.Pool and, optionally, a chain of
// preprocessors. Without preprocessors the pool steps in bulk. With
// preprocessors, every environment is stepped one step at a time so
// that each step can be processed before the next is taken.
package sampler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/policy"
	"github.com/samuelfneumann/onpolicy/pool"
	"github.com/samuelfneumann/onpolicy/preprocess"
)

// Kind is the kind of a stopping rule
type Kind int

const (
	// StepBound rules complete once the pool has taken at least N steps
	StepBound Kind = iota

	// EpisodeBound rules complete once the pool has completed at least
	// N episodes
	EpisodeBound
)

func (k Kind) String() string {
	switch k {
	case StepBound:
		return "StepBound"
	case EpisodeBound:
		return "EpisodeBound"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "StepBound", "step_bound", "steps":
		*k = StepBound
	case "EpisodeBound", "episode_bound", "episodes":
		*k = EpisodeBound
	default:
		return fmt.Errorf("unmarshalText: unknown stopping rule %q", text)
	}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Rule is the stopping rule of one collection pass
type Rule struct {
	Kind Kind `yaml:"kind"`
	N    int  `yaml:"n"`
}

// Validate checks that the rule can stop
func (r Rule) Validate() error {
	switch r.Kind {
	case StepBound, EpisodeBound:
	default:
		return fmt.Errorf("validate: unknown stopping rule %v", r.Kind)
	}
	if r.N <= 0 {
		return fmt.Errorf("validate: %v bound must be positive, have(%v)",
			r.Kind, r.N)
	}
	return nil
}

func (r Rule) String() string {
	return fmt.Sprintf("%v{%d}", r.Kind, r.N)
}

// Sampler collects rollouts from a pool
type Sampler struct {
	pool        *pool.Pool
	rule        Rule
	chain       preprocess.Chain
	initialized bool
	logger      *slog.Logger
}

// New returns a Sampler collecting from p under rule, running chain on
// every step. Preprocessors run on the stepping goroutine, which
// Subprocess pools do not expose, so a non-empty chain with a
// Subprocess pool is rejected with pool.ErrUnsupported.
func New(p *pool.Pool, rule Rule, chain preprocess.Chain,
	logger *slog.Logger) (*Sampler, error) {
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if len(chain) > 0 && p.Mode() == pool.Subprocess {
		return nil, fmt.Errorf("new: preprocessing in %v mode: %w",
			p.Mode(), pool.ErrUnsupported)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		pool:   p,
		rule:   rule,
		chain:  chain,
		logger: logger,
	}, nil
}

// Rule returns the stopping rule of the sampler
func (s *Sampler) Rule() Rule {
	return s.rule
}

// Pool returns the pool the sampler collects from
func (s *Sampler) Pool() *pool.Pool {
	return s.pool
}

// Chain returns the preprocessors run on every step
func (s *Sampler) Chain() preprocess.Chain {
	return s.chain
}

// Collect runs one collection pass with b and returns one rollout per
// environment, in pool order. Under StepBound{n} with E environments,
// every environment takes ceil(n/E) steps; under EpisodeBound{n},
// every environment completes ceil(n/E) episodes.
func (s *Sampler) Collect(ctx context.Context,
	b *policy.Behaviour) ([]buffer.Rollout, error) {
	var err error
	if len(s.chain) == 0 {
		err = s.collectBulk(ctx, b)
	} else {
		err = s.collectSingle(ctx, b)
	}
	if err != nil {
		return nil, fmt.Errorf("collect: %v: %w", s.rule, err)
	}

	rollouts, err := s.pool.Rollouts()
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	return rollouts, nil
}

func (s *Sampler) collectBulk(ctx context.Context, b *policy.Behaviour) error {
	switch s.rule.Kind {
	case StepBound:
		return s.pool.StepN(ctx, b, ceilDiv(s.rule.N, s.pool.NumEnvs()))
	case EpisodeBound:
		return s.pool.StepEpisodes(ctx, b, s.rule.N)
	default:
		panic(fmt.Sprintf("collectBulk: unknown stopping rule %v",
			s.rule.Kind))
	}
}

// initialize shows the preprocessors the states environments start from
func (s *Sampler) initialize() error {
	if s.initialized {
		return nil
	}
	taken, err := s.pool.Take()
	if err != nil {
		return err
	}
	initErr := s.chain.Init(taken)
	if err := s.pool.PutBuffers(taken); err != nil {
		return err
	}
	if initErr != nil {
		return initErr
	}
	s.initialized = true
	return nil
}

func (s *Sampler) collectSingle(ctx context.Context,
	b *policy.Behaviour) error {
	if err := s.initialize(); err != nil {
		return err
	}

	numEnvs := s.pool.NumEnvs()
	active := make([]bool, numEnvs)
	for i := range active {
		active[i] = true
	}
	perEnv := ceilDiv(s.rule.N, numEnvs)
	episodes := make([]int, numEnvs)
	remaining := numEnvs

	for round := 0; remaining > 0; round++ {
		taken, err := s.pool.StepSelectedAndTake(ctx, b, active)
		if err != nil {
			return err
		}
		processErr := s.chain.Process(b, taken)

		for i, t := range taken {
			if t == nil || !t.LastTerminates() {
				continue
			}
			episodes[i]++
			if s.rule.Kind == EpisodeBound && episodes[i] >= perEnv {
				active[i] = false
				remaining--
			}
		}
		if err := s.pool.PutBuffers(taken); err != nil {
			return err
		}
		if processErr != nil {
			return processErr
		}

		if s.rule.Kind == StepBound && round+1 >= perEnv {
			remaining = 0
		}
	}

	s.logger.Debug("preprocessed steps",
		slog.String("rule", s.rule.String()),
		slog.Int("steps", s.pool.Progress()),
		slog.Int("preprocessors", len(s.chain)),
	)
	return nil
}

// Close releases the pool
func (s *Sampler) Close() error {
	return s.pool.Close()
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
