package algorithm

import (
	"fmt"
	"log/slog"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/policy"
	"gonum.org/v1/gonum/stat"
)

// EvalConfig describes periodic evaluation
type EvalConfig struct {
	// Episodes is the number of episodes per evaluation
	Episodes int `yaml:"episodes"`

	// Every is the number of iterations between evaluations
	Every int `yaml:"every"`

	// Seed seeds the start state of evaluation episode i with Seed+i,
	// so that every evaluation starts from the same states
	Seed uint64 `yaml:"seed"`

	// MaxSteps bounds the length of an evaluation episode; zero uses
	// the environment's own limit
	MaxSteps int `yaml:"max_steps"`
}

// Validate checks that the evaluation can run
func (c EvalConfig) Validate() error {
	if c.Episodes <= 0 {
		return fmt.Errorf("validate: evaluation episodes must be positive, "+
			"have(%v)", c.Episodes)
	}
	if c.Every <= 0 {
		return fmt.Errorf("validate: evaluation interval must be positive, "+
			"have(%v)", c.Every)
	}
	return nil
}

// Evaluator runs a policy on a separate environment, acting with the
// mode of the policy's distribution
type Evaluator struct {
	config EvalConfig
	env    env.Environment

	// observe maps raw observations to the observations the policy was
	// trained on
	observe func(backend.ValueBuffer) backend.ValueBuffer

	logger *slog.Logger
}

// NewEvaluator returns an Evaluator on e. If observe is not nil, every
// observation is passed through it before the policy sees it.
func NewEvaluator(e env.Environment, c EvalConfig,
	observe func(backend.ValueBuffer) backend.ValueBuffer,
	logger *slog.Logger) (*Evaluator, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newEvaluator: %v", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{config: c, env: e, observe: observe, logger: logger}, nil
}

// Evaluate runs the configured number of episodes with b and returns
// their returns
func (e *Evaluator) Evaluate(b *policy.Behaviour) ([]float64, error) {
	returns := make([]float64, e.config.Episodes)
	for i := range returns {
		ret, err := e.episode(b, e.config.Seed+uint64(i))
		if err != nil {
			return nil, fmt.Errorf("evaluate: episode %d: %w", i, err)
		}
		returns[i] = ret
	}
	return returns, nil
}

func (e *Evaluator) episode(b *policy.Behaviour, seed uint64) (float64, error) {
	state, err := e.env.Reset(seed)
	if err != nil {
		return 0, err
	}
	var ret float64
	for steps := 0; e.config.MaxSteps <= 0 || steps < e.config.MaxSteps; steps++ {
		if e.observe != nil {
			state = e.observe(state)
		}
		action, err := b.Mode(state)
		if err != nil {
			return 0, err
		}
		snap, err := e.env.Step(action)
		if err != nil {
			return 0, err
		}
		ret += float64(snap.Reward)
		if snap.Done() {
			break
		}
		state = snap.State
	}
	return ret, nil
}

// Hook returns a post-learn hook evaluating the agent's policy every
// Every iterations and logging the mean and standard deviation of the
// returns
func (e *Evaluator) Hook() PostLearnHook {
	return func(r Report) error {
		if r.Iteration%e.config.Every != 0 {
			return nil
		}
		returns, err := e.Evaluate(r.Agent.Behaviour())
		if err != nil {
			return fmt.Errorf("evaluator: %w", err)
		}
		mean, std := stat.MeanStdDev(returns, nil)
		e.logger.Info("evaluation",
			slog.Int("iteration", r.Iteration),
			slog.Int("episodes", len(returns)),
			slog.Float64("mean_return", mean),
			slog.Float64("std_return", std),
		)
		return nil
	}
}
