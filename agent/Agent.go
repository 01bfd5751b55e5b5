package agent

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/samuelfneumann/onpolicy/backend"
	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/buffer/gae"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/learning"
	"github.com/samuelfneumann/onpolicy/policy"
	"github.com/samuelfneumann/onpolicy/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// maxGraphs bounds the number of cached minibatch graphs. Episode-bound
// sampling produces a different number of steps per call to Learn, and
// so a different size of the last minibatch.
const maxGraphs = 8

// Agent is an on-policy actor-critic agent
type Agent struct {
	kind   Kind
	config Config

	policy *policy.Policy
	value  *policy.ValueFunction
	module *learning.Module
	hooks  Hooks

	graphs      map[int]*lossGraph
	valueGraphs map[int]*valueGraph

	rng    *rand.Rand
	logger *slog.Logger
}

// New creates a new Agent for an environment with the given
// description
func New(desc env.Description, c Config, seed uint64) (*Agent, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	c = c.withDefaults()
	rng := rand.New(rand.NewSource(seed))

	p, err := policy.New(desc, c.Policy, rng.Uint64())
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	v, err := policy.NewValueFunction(desc.Observation.Dims(), c.Value,
		rng.Uint64())
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	m, err := learning.New(c.Learning)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	a := &Agent{
		kind:        c.Kind,
		config:      c,
		policy:      p,
		value:       v,
		module:      m,
		graphs:      make(map[int]*lossGraph),
		valueGraphs: make(map[int]*valueGraph),
		rng:         rng,
		logger:      c.Logger,
	}
	a.hooks.AddEpoch(func(epoch int) HookResult {
		if epoch >= a.config.Epochs {
			return Break
		}
		return Continue
	})
	return a, nil
}

// Kind returns the kind of the agent
func (a *Agent) Kind() Kind {
	return a.kind
}

// Config returns the configuration of the agent with defaults filled
// in
func (a *Agent) Config() Config {
	return a.config
}

// Gamma returns the discount factor of the agent
func (a *Agent) Gamma() float64 {
	return a.config.GAE.Gamma
}

// Policy returns the learner's policy
func (a *Agent) Policy() *policy.Policy {
	return a.policy
}

// ValueFunction returns the learner's value function
func (a *Agent) ValueFunction() *policy.ValueFunction {
	return a.value
}

// Behaviour returns an immutable clone of the current policy for
// sampling, seeded from the agent's RNG
func (a *Agent) Behaviour() *policy.Behaviour {
	return a.policy.Behaviour(a.rng.Uint64())
}

// Hooks returns the hooks of the agent for modification
func (a *Agent) Hooks() *Hooks {
	return &a.hooks
}

// batch is the flattened data of one call to Learn
type batch struct {
	n          int
	features   int
	actionDims int

	states     *mat.Dense
	actions    *mat.Dense
	advantages []float64
	returns    []float64
	oldLogProb []float64
}

// prepare flattens rollouts and computes the frozen quantities of one
// call to Learn: advantages, returns and log-probabilities under the
// sampling policy
func (a *Agent) prepare(rollouts []buffer.Rollout) (*batch, error) {
	var states, actions []backend.ValueBuffer
	var advantages, returns []float64
	for i, r := range rollouts {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("prepare: rollout %d: %w", i, err)
		}
		stateMatrix, err := r.StateMatrix()
		if err != nil {
			return nil, fmt.Errorf("prepare: rollout %d: %w", i, err)
		}
		values := a.value.Values(stateMatrix)
		adv, ret, err := a.config.GAE.Estimate(r.Rewards, values, r.Dones)
		if err != nil {
			return nil, fmt.Errorf("prepare: rollout %d: %v", i, err)
		}

		states = append(states, r.States...)
		actions = append(actions, r.Actions...)
		advantages = append(advantages, adv...)
		returns = append(returns, ret...)
	}

	stateMatrix, err := backend.StackMat(states)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	actionMatrix, err := backend.StackMat(actions)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	n, features := stateMatrix.Dims()
	if features != a.policy.Features() {
		return nil, fmt.Errorf("prepare: illegal number of features "+
			"\n\twant(%v)\n\thave(%v)", a.policy.Features(), features)
	}
	_, actionDims := actionMatrix.Dims()
	if actionDims != a.policy.ActionDims() {
		return nil, fmt.Errorf("prepare: illegal action dimensions "+
			"\n\twant(%v)\n\thave(%v)", a.policy.ActionDims(), actionDims)
	}

	gae.Normalize(advantages)
	b := &batch{
		n:          n,
		features:   features,
		actionDims: actionDims,
		states:     stateMatrix,
		actions:    actionMatrix,
		advantages: advantages,
		returns:    returns,
		oldLogProb: a.policy.LogProbs(stateMatrix, actionMatrix),
	}
	for _, xs := range [][]float64{b.advantages, b.returns, b.oldLogProb} {
		for _, x := range xs {
			if !floatutils.IsFinite(x) {
				return nil, fmt.Errorf("prepare: advantages, returns or "+
					"log-probabilities: %w", ErrNonFinite)
			}
		}
	}
	return b, nil
}

// gather returns the rows of the batch at indices
func (b *batch) gather(indices []int) minibatch {
	m := minibatch{
		states:     make([]float64, 0, len(indices)*b.features),
		actions:    make([]float64, 0, len(indices)*b.actionDims),
		advantages: make([]float64, len(indices)),
		returns:    make([]float64, len(indices)),
		oldLogProb: make([]float64, len(indices)),
	}
	for i, row := range indices {
		m.states = append(m.states, b.states.RawRowView(row)...)
		m.actions = append(m.actions, b.actions.RawRowView(row)...)
		m.advantages[i] = b.advantages[row]
		m.returns[i] = b.returns[row]
		m.oldLogProb[i] = b.oldLogProb[row]
	}
	return m
}

// Learn updates the policy and value function from the rollouts of
// one collection pass. It returns early, without error, when a hook
// returns Break.
func (a *Agent) Learn(rollouts []buffer.Rollout) error {
	if len(rollouts) == 0 {
		return fmt.Errorf("learn: no rollouts")
	}
	if a.hooks.beforeLearning(rollouts) == Break {
		return nil
	}
	start := time.Now()

	b, err := a.prepare(rollouts)
	if err != nil {
		return fmt.Errorf("learn: %w", err)
	}

	size := a.config.MinibatchSize
	if size <= 0 || size > b.n {
		size = b.n
	}

	updates := 0
	stopped := false
	for epoch := 0; !stopped; epoch++ {
		order := a.rng.Perm(b.n)
		for batchNum, lo := 0, 0; lo < b.n; batchNum, lo = batchNum+1, lo+size {
			hi := lo + size
			if hi > b.n {
				hi = b.n
			}

			stats, err := a.update(b.gather(order[lo:hi]))
			if err != nil {
				return fmt.Errorf("learn: epoch %d: batch %d: %w", epoch,
					batchNum, err)
			}
			updates++
			stats.Epoch = epoch
			stats.Batch = batchNum
			if a.hooks.batch(stats) == Break {
				stopped = true
				break
			}
		}
		if !stopped && a.hooks.epoch(epoch+1) == Break {
			break
		}
	}

	if a.kind == VPG && !stopped {
		if err := a.fitValue(b); err != nil {
			return fmt.Errorf("learn: %w", err)
		}
	}

	a.logger.Debug("learned",
		slog.String("agent", a.kind.String()),
		slog.Int("steps", b.n),
		slog.Int("updates", updates),
		slog.Bool("stopped_early", stopped),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// update takes one gradient step on a minibatch
func (a *Agent) update(m minibatch) (BatchStats, error) {
	l, err := a.lossGraph(len(m.advantages))
	if err != nil {
		return BatchStats{}, err
	}
	defer l.vm.Reset()

	// The tape machine reuses the memory of the log-probability node
	// for in-place ops, so the statistics use a forward pass of the
	// parameters the step is taken from.
	logProb := a.policy.LogProbs(
		mat.NewDense(l.size, a.policy.Features(), m.states),
		mat.NewDense(l.size, a.policy.ActionDims(), m.actions),
	)

	if err := l.run(m); err != nil {
		return BatchStats{}, fmt.Errorf("update: %v", err)
	}

	stats := BatchStats{
		Size:       l.size,
		PolicyLoss: scalar(l.policyLoss),
		ValueLoss:  scalar(l.valueLoss),
		Entropy:    scalar(l.dist.Entropy()),
	}
	if loss := scalar(l.loss); !floatutils.IsFinite(loss) {
		return BatchStats{}, fmt.Errorf("update: loss %v: %w", loss,
			ErrNonFinite)
	}

	var kl float64
	var clipped int
	for i, lp := range logProb {
		diff := m.oldLogProb[i] - lp
		kl += diff
		if a.kind == PPO &&
			math.Abs(math.Exp(-diff)-1) > a.config.ClipEpsilon {
			clipped++
		}
	}
	stats.ApproxKL = kl / float64(len(logProb))
	stats.ClipFraction = float64(clipped) / float64(len(logProb))

	stats.GradNorm, err = a.module.Step(l.dist.Learnables(),
		l.value.Learnables())
	if err != nil {
		return BatchStats{}, fmt.Errorf("update: %v", err)
	}
	l.dist.Store()
	l.value.Store()
	return stats, nil
}

// fitValue takes the value-only steps of VPG over the whole batch
func (a *Agent) fitValue(b *batch) error {
	v, err := a.valueGraph(b.n)
	if err != nil {
		return err
	}
	states := append([]float64(nil), b.states.RawMatrix().Data...)
	for i := 0; i < a.config.ValueSteps; i++ {
		if err := v.run(states, b.returns); err != nil {
			v.vm.Reset()
			return fmt.Errorf("fitValue: %v", err)
		}
		if loss := scalar(v.loss); !floatutils.IsFinite(loss) {
			v.vm.Reset()
			return fmt.Errorf("fitValue: loss %v: %w", loss, ErrNonFinite)
		}
		if _, err := a.module.StepValue(v.value.Learnables()); err != nil {
			v.vm.Reset()
			return fmt.Errorf("fitValue: %v", err)
		}
		v.value.Store()
		v.vm.Reset()
	}
	return nil
}

// lossGraph returns the cached graph for minibatches of size n
func (a *Agent) lossGraph(n int) (*lossGraph, error) {
	if l, ok := a.graphs[n]; ok {
		return l, nil
	}
	if len(a.graphs) >= maxGraphs {
		for size, l := range a.graphs {
			l.vm.Close()
			delete(a.graphs, size)
		}
	}
	l, err := a.newLossGraph(n)
	if err != nil {
		return nil, err
	}
	a.graphs[n] = l
	return l, nil
}

// valueGraph returns the cached value graph for batches of size n
func (a *Agent) valueGraph(n int) (*valueGraph, error) {
	if v, ok := a.valueGraphs[n]; ok {
		return v, nil
	}
	if len(a.valueGraphs) >= maxGraphs {
		for size, v := range a.valueGraphs {
			v.vm.Close()
			delete(a.valueGraphs, size)
		}
	}
	v, err := a.newValueGraph(n)
	if err != nil {
		return nil, err
	}
	a.valueGraphs[n] = v
	return v, nil
}

// Close releases the virtual machines of the agent's graphs
func (a *Agent) Close() error {
	for size, l := range a.graphs {
		l.vm.Close()
		delete(a.graphs, size)
	}
	for size, v := range a.valueGraphs {
		v.vm.Close()
		delete(a.valueGraphs, size)
	}
	return nil
}
