package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/samuelfneumann/onpolicy/agent"
	"github.com/samuelfneumann/onpolicy/algorithm"
	"github.com/samuelfneumann/onpolicy/backend"
	"github.com/samuelfneumann/onpolicy/experiment/checkpointer"
	"github.com/samuelfneumann/onpolicy/experiment/tracker"
	"github.com/samuelfneumann/onpolicy/experiment/trackers"
	"github.com/samuelfneumann/onpolicy/logging"
	"github.com/samuelfneumann/onpolicy/pool"
	"github.com/samuelfneumann/onpolicy/preprocess"
	"github.com/samuelfneumann/onpolicy/sampler"
	"golang.org/x/exp/rand"
)

// Experiment is an on-policy driver together with the trackers whose
// data is saved once training ends
type Experiment struct {
	*algorithm.OnPolicy
	trackers []tracker.Tracker
	logger   *slog.Logger
}

// Build creates the Experiment described by c. If logger is nil, the
// logger described by c.Logging is used.
func Build(c Config, logger *slog.Logger) (*Experiment, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	if logger == nil {
		logger = logging.New(c.Logging)
	}

	// Every component draws its seed from the experiment seed
	rng := rand.New(rand.NewSource(c.Seed))
	poolSeed, agentSeed, evalSeed := rng.Uint64(), rng.Uint64(), rng.Uint64()

	p, err := pool.New(c.Pool, poolSeed, logger)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	desc := p.Describe()

	agentConfig := c.Agent
	agentConfig.Logger = logger
	a, err := agent.New(desc, agentConfig, agentSeed)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("build: %w", err)
	}

	chain, err := c.Preprocess.Build(desc.Observation.Dims(), p.NumEnvs(),
		a.Gamma(), a.ValueFunction())
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("build: %w", err)
	}
	s, err := sampler.New(p, c.Rule, chain, logger)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("build: %w", err)
	}

	o, err := algorithm.New(a, s, c.Schedule, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("build: %w", err)
	}
	e := &Experiment{OnPolicy: o, logger: logger}

	o.AddPostLearn(algorithm.LoggingHook(logger))
	if c.StopReturn != nil {
		o.AddPreLearn(algorithm.EarlyStop(*c.StopReturn))
	}
	if c.KLTarget > 0 {
		a.Hooks().AddBatch(agent.KLEarlyStop(c.KLTarget))
	}

	if c.Eval != nil {
		evalEnv, err := c.Pool.Env.Create()
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("build: evaluation environment: %w", err)
		}
		evalConfig := *c.Eval
		if evalConfig.Seed == 0 {
			evalConfig.Seed = evalSeed
		}
		evaluator, err := algorithm.NewEvaluator(evalEnv, evalConfig,
			observer(chain), logger)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("build: %w", err)
		}
		o.AddPostLearn(evaluator.Hook())
	}

	if c.Checkpoint.Every > 0 {
		if err := os.MkdirAll(c.Checkpoint.Dir, 0o755); err != nil {
			e.Close()
			return nil, fmt.Errorf("build: %w", err)
		}
		check, err := checkpointer.NewNStep(c.Checkpoint.Every, a,
			checkpointer.FilenameEnumerator(0, c.Checkpoint.Dir, "agent",
				".bin"))
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("build: %w", err)
		}
		o.AddPostLearn(check.Hook())
	}

	if c.ReturnsFile != "" {
		e.Register(trackers.NewReturn(c.ReturnsFile))
	}
	if c.LengthsFile != "" {
		e.Register(trackers.NewEpisodeLength(c.LengthsFile))
	}
	return e, nil
}

// observer returns the observation normaliser of chain, so that an
// evaluated policy sees observations as it saw them in training
func observer(chain preprocess.Chain) func(backend.ValueBuffer) backend.ValueBuffer {
	for _, p := range chain {
		if n, ok := p.(*preprocess.ObservationNormalizer); ok {
			return n.Normalize
		}
	}
	return nil
}

// Register adds a Tracker to the experiment. Its data is saved when Run
// returns.
func (e *Experiment) Register(t tracker.Tracker) {
	e.trackers = append(e.trackers, t)
	e.AddPostLearn(tracker.Hook(t))
}

// Run trains until the schedule ends and then saves the data of every
// tracker, even if training failed
func (e *Experiment) Run(ctx context.Context) error {
	trainErr := e.Train(ctx)
	if trainErr != nil {
		e.logger.Error("training failed", slog.Any("error", trainErr))
	}

	var saveErrs []error
	for _, t := range e.trackers {
		if err := t.Save(); err != nil {
			saveErrs = append(saveErrs, err)
		}
	}
	if err := errors.Join(append([]error{trainErr}, saveErrs...)...); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
