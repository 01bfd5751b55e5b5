package preprocess

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/onpolicy/backend"
	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/policy"
	"github.com/samuelfneumann/onpolicy/utils/floatutils"
)

// ObservationNormalizer rescales observations with the running mean and
// variance of all observations seen so far:
//
//	o <- clip((o - mean) / sqrt(var + ε), -clip, clip)
type ObservationNormalizer struct {
	rms     *RunningMeanStd
	epsilon float64
	clip    float64
}

// NewObservationNormalizer returns an ObservationNormalizer over
// observations of the given size
func NewObservationNormalizer(features int, epsilon,
	clip float64) *ObservationNormalizer {
	return &ObservationNormalizer{
		rms:     NewRunningMeanStd(features),
		epsilon: epsilon,
		clip:    clip,
	}
}

// Stats returns the running observation statistics
func (o *ObservationNormalizer) Stats() *RunningMeanStd {
	return o.rms
}

// Normalize returns a normalised copy of obs without updating the
// running statistics
func (o *ObservationNormalizer) Normalize(obs backend.ValueBuffer) backend.ValueBuffer {
	if obs.Len() != o.rms.Size() {
		panic(fmt.Sprintf("normalize: illegal observation length "+
			"\n\twant(%v)\n\thave(%v)", o.rms.Size(), obs.Len()))
	}
	out := obs.Clone()
	for i, x := range obs.Data {
		scaled := (float64(x) - o.rms.mean[i]) /
			math.Sqrt(o.rms.vari[i]+o.epsilon)
		out.Data[i] = float32(floatutils.Clip(scaled, -o.clip, o.clip))
	}
	return out
}

// Init implements the Initializer interface, normalising the states
// the environments start from
func (o *ObservationNormalizer) Init(buffers []*buffer.StateBuffer) error {
	batch := make([][]float64, 0, len(buffers))
	for _, s := range buffers {
		if s != nil {
			batch = append(batch, s.Resume.Float64())
		}
	}
	if err := o.rms.Update(batch); err != nil {
		return fmt.Errorf("init: %v", err)
	}
	for _, s := range buffers {
		if s != nil {
			s.Resume = o.Normalize(s.Resume)
		}
	}
	return nil
}

// Process implements the Preprocessor interface
func (o *ObservationNormalizer) Process(_ *policy.Behaviour,
	buffers []*buffer.StateBuffer) error {
	batch := make([][]float64, 0, len(buffers))
	for _, s := range buffers {
		if s == nil {
			continue
		}
		i := last(s)
		batch = append(batch, s.NextStates[i].Float64())
		if s.LastTerminates() {
			batch = append(batch, s.Resume.Float64())
		}
	}
	if err := o.rms.Update(batch); err != nil {
		return fmt.Errorf("process: %v", err)
	}

	for _, s := range buffers {
		if s == nil {
			continue
		}
		i := last(s)
		s.NextStates[i] = o.Normalize(s.NextStates[i])
		if s.LastTerminates() {
			s.Resume = o.Normalize(s.Resume)
		} else {
			s.Resume = s.NextStates[i]
		}
	}
	return nil
}

// RewardNormalizer rescales rewards by the running standard deviation
// of the discounted return of each environment:
//
//	r <- clip(r / sqrt(var(G) + ε), -clip, clip)
//
// The discounted return accumulator of an environment is zeroed when
// its episode ends.
type RewardNormalizer struct {
	rms     *RunningMeanStd
	returns []float64
	gamma   float64
	epsilon float64
	clip    float64
}

// NewRewardNormalizer returns a RewardNormalizer over numEnvs
// environments with discount gamma
func NewRewardNormalizer(numEnvs int, gamma, epsilon,
	clip float64) *RewardNormalizer {
	return &RewardNormalizer{
		rms:     NewRunningMeanStd(1),
		returns: make([]float64, numEnvs),
		gamma:   gamma,
		epsilon: epsilon,
		clip:    clip,
	}
}

// Variance returns the running variance of the discounted returns
func (r *RewardNormalizer) Variance() float64 {
	return r.rms.vari[0]
}

// Process implements the Preprocessor interface
func (r *RewardNormalizer) Process(_ *policy.Behaviour,
	buffers []*buffer.StateBuffer) error {
	if len(buffers) != len(r.returns) {
		return fmt.Errorf("process: illegal number of buffers "+
			"\n\twant(%v)\n\thave(%v)", len(r.returns), len(buffers))
	}

	batch := make([][]float64, 0, len(buffers))
	for k, s := range buffers {
		if s == nil {
			continue
		}
		i := last(s)
		r.returns[k] = r.returns[k]*r.gamma + float64(s.Rewards[i])
		batch = append(batch, []float64{r.returns[k]})
	}
	if err := r.rms.Update(batch); err != nil {
		return fmt.Errorf("process: %v", err)
	}

	scale := math.Sqrt(r.rms.vari[0] + r.epsilon)
	for k, s := range buffers {
		if s == nil {
			continue
		}
		i := last(s)
		scaled := float64(s.Rewards[i]) / scale
		s.Rewards[i] = float32(floatutils.Clip(scaled, -r.clip, r.clip))
		if s.LastTerminates() {
			r.returns[k] = 0
		}
	}
	return nil
}
