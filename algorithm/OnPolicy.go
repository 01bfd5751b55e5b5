// Package algorithm implements the outer loop of on-policy training.
//
// An OnPolicy driver alternates between collecting rollouts with a
// sampler and learning from them with an agent until its Schedule
// ends:
//
//	for !schedule.Done() {
//		rollouts := sampler.Collect(agent.Behaviour())
//		schedule.Advance(TotalSteps(rollouts))
//		pre-learn hooks, any of which may Break
//		agent.Learn(rollouts)
//		post-learn hooks
//	}
//
// Post-learn hooks implement logging, evaluation, metrics, progress
// display and checkpointing.
package algorithm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samuelfneumann/onpolicy/agent"
	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/sampler"
)

// HookResult tells the driver whether to go on
type HookResult = agent.HookResult

const (
	Continue = agent.Continue
	Break    = agent.Break
)

// Report describes one iteration of the driver to post-learn hooks
type Report struct {
	// Iteration is the number of completed iterations, starting at 1
	Iteration int

	// Steps is the number of steps collected in this iteration and
	// TotalSteps the number collected so far
	Steps      int
	TotalSteps int

	Rollouts []buffer.Rollout
	Agent    *agent.Agent
	Schedule *Schedule

	CollectTime time.Duration
	LearnTime   time.Duration
}

// PreLearnHook inspects rollouts before learning; a Break ends
// training without learning from them
type PreLearnHook func([]buffer.Rollout) HookResult

// PostLearnHook runs after every call to Learn. An error ends training.
type PostLearnHook func(Report) error

// OnPolicy drives on-policy training
type OnPolicy struct {
	agent    *agent.Agent
	sampler  *sampler.Sampler
	schedule Schedule

	preLearn  []PreLearnHook
	postLearn []PostLearnHook

	logger *slog.Logger
}

// New returns a driver training a with rollouts from s until schedule
// ends
func New(a *agent.Agent, s *sampler.Sampler, schedule Schedule,
	logger *slog.Logger) (*OnPolicy, error) {
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	schedule.Reset()
	return &OnPolicy{
		agent:    a,
		sampler:  s,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// AddPreLearn appends hooks run before every call to Learn
func (o *OnPolicy) AddPreLearn(hooks ...PreLearnHook) {
	o.preLearn = append(o.preLearn, hooks...)
}

// AddPostLearn appends hooks run after every call to Learn
func (o *OnPolicy) AddPostLearn(hooks ...PostLearnHook) {
	o.postLearn = append(o.postLearn, hooks...)
}

// Agent returns the agent being trained
func (o *OnPolicy) Agent() *agent.Agent {
	return o.agent
}

// Sampler returns the sampler rollouts are collected with
func (o *OnPolicy) Sampler() *sampler.Sampler {
	return o.sampler
}

// Schedule returns the schedule and its progress
func (o *OnPolicy) Schedule() *Schedule {
	return &o.schedule
}

// Train runs the driver until its schedule ends, a pre-learn hook
// returns Break or an error occurs
func (o *OnPolicy) Train(ctx context.Context) error {
	o.logger.Info("training",
		slog.String("agent", o.agent.Kind().String()),
		slog.String("rule", o.sampler.Rule().String()),
		slog.String("schedule", o.schedule.String()),
	)

	for iteration := 1; !o.schedule.Done(); iteration++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("train: %w", err)
		}

		start := time.Now()
		rollouts, err := o.sampler.Collect(ctx, o.agent.Behaviour())
		if err != nil {
			return fmt.Errorf("train: iteration %d: %w", iteration, err)
		}
		collectTime := time.Since(start)

		steps := buffer.TotalSteps(rollouts)
		o.schedule.Advance(steps)

		for _, hook := range o.preLearn {
			if hook(rollouts) == Break {
				o.logger.Info("pre-learn hook stopped training",
					slog.Int("iteration", iteration))
				return nil
			}
		}

		start = time.Now()
		if err := o.agent.Learn(rollouts); err != nil {
			return fmt.Errorf("train: iteration %d: %w", iteration, err)
		}

		report := Report{
			Iteration:   iteration,
			Steps:       steps,
			TotalSteps:  o.schedule.Steps(),
			Rollouts:    rollouts,
			Agent:       o.agent,
			Schedule:    &o.schedule,
			CollectTime: collectTime,
			LearnTime:   time.Since(start),
		}
		for _, hook := range o.postLearn {
			if err := hook(report); err != nil {
				return fmt.Errorf("train: iteration %d: %w", iteration, err)
			}
		}
	}
	return nil
}

// Close releases the sampler and the agent
func (o *OnPolicy) Close() error {
	agentErr := o.agent.Close()
	if err := o.sampler.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if agentErr != nil {
		return fmt.Errorf("close: %w", agentErr)
	}
	return nil
}
