// Package agent implements on-policy actor-critic agents: PPO, A2C and
// VPG.
//
// All three share one trainer. Given the rollouts of a collection pass,
// an Agent computes GAE(λ) advantages and returns per rollout,
// normalises the advantages over all rollouts, captures the
// log-probabilities of the sampled actions under the policy that
// sampled them, and then runs epochs of minibatch gradient steps. The
// agents differ only in their policy loss and the number of epochs:
//
//	PPO	-mean(min(ρ·A, clip(ρ, 1-ε, 1+ε)·A)),	ρ = exp(logπ - logπ_old)
//	A2C	-mean(logπ·A), a single epoch
//	VPG	-mean(logπ·A), a single epoch with λ = 1 followed by
//		ValueSteps value-only steps
//
// The value loss of all agents is mean((V(s) - R)²). Hooks observe
// learning and may stop it early between minibatches.
package agent

import (
	"errors"
	"fmt"

	"github.com/samuelfneumann/onpolicy/buffer"
)

// ErrNonFinite is returned when a loss evaluates to NaN or ±Inf. No
// update is made with such a loss.
var ErrNonFinite = errors.New("non-finite loss")

// Kind is the kind of an agent
type Kind int

const (
	PPO Kind = iota
	A2C
	VPG
)

func (k Kind) String() string {
	switch k {
	case PPO:
		return "PPO"
	case A2C:
		return "A2C"
	case VPG:
		return "VPG"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "PPO", "ppo":
		*k = PPO
	case "A2C", "a2c":
		*k = A2C
	case "VPG", "vpg":
		*k = VPG
	default:
		return fmt.Errorf("unmarshalText: unknown agent %q", text)
	}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// HookResult tells the caller of a hook whether to go on
type HookResult int

const (
	Continue HookResult = iota
	Break
)

func (h HookResult) String() string {
	switch h {
	case Continue:
		return "Continue"
	case Break:
		return "Break"
	default:
		return fmt.Sprintf("HookResult(%d)", int(h))
	}
}

// BatchStats describes one minibatch update. Losses and the entropy are
// those of the forward pass the update was computed from.
type BatchStats struct {
	Epoch int
	Batch int
	Size  int

	PolicyLoss float64
	ValueLoss  float64
	Entropy    float64

	// ApproxKL estimates the KL divergence of the current policy from
	// the sampling policy as mean(logπ_old - logπ) over the minibatch
	ApproxKL float64

	// ClipFraction is the fraction of the minibatch whose probability
	// ratio lies outside [1-ε, 1+ε]. It is always 0 for A2C and VPG.
	ClipFraction float64

	// GradNorm is the total L2 norm of the gradients before clipping
	GradNorm float64
}

// Hooks observe a call to Learn. Each hook of a kind is called in
// order, and learning stops once any hook returns Break.
type Hooks struct {
	// BeforeLearning is called with the rollouts before anything is
	// computed. A Break skips learning on them.
	BeforeLearning []func([]buffer.Rollout) HookResult

	// Batch is called after every minibatch update
	Batch []func(BatchStats) HookResult

	// Epoch is called after every epoch with the number of completed
	// epochs. Learning always stops after Config.Epochs epochs.
	Epoch []func(int) HookResult
}

// AddBatch appends batch hooks
func (h *Hooks) AddBatch(hooks ...func(BatchStats) HookResult) {
	h.Batch = append(h.Batch, hooks...)
}

// AddEpoch appends epoch hooks
func (h *Hooks) AddEpoch(hooks ...func(int) HookResult) {
	h.Epoch = append(h.Epoch, hooks...)
}

// AddBeforeLearning appends hooks run before learning
func (h *Hooks) AddBeforeLearning(hooks ...func([]buffer.Rollout) HookResult) {
	h.BeforeLearning = append(h.BeforeLearning, hooks...)
}

func (h *Hooks) beforeLearning(rollouts []buffer.Rollout) HookResult {
	for _, hook := range h.BeforeLearning {
		if hook(rollouts) == Break {
			return Break
		}
	}
	return Continue
}

func (h *Hooks) batch(stats BatchStats) HookResult {
	result := Continue
	for _, hook := range h.Batch {
		// Every observer sees every batch, even after a Break
		if hook(stats) == Break {
			result = Break
		}
	}
	return result
}

func (h *Hooks) epoch(epoch int) HookResult {
	result := Continue
	for _, hook := range h.Epoch {
		if hook(epoch) == Break {
			result = Break
		}
	}
	return result
}

// KLEarlyStop returns a batch hook that stops learning once the
// approximate KL divergence of a minibatch exceeds target
func KLEarlyStop(target float64) func(BatchStats) HookResult {
	return func(s BatchStats) HookResult {
		if s.ApproxKL > target {
			return Break
		}
		return Continue
	}
}
