package algorithm

import (
	"fmt"
)

// ScheduleKind is the kind of a training schedule
type ScheduleKind int

const (
	// TotalStepBound schedules end once N environment steps were
	// collected in total
	TotalStepBound ScheduleKind = iota

	// RolloutBound schedules end after N collection passes
	RolloutBound
)

func (k ScheduleKind) String() string {
	switch k {
	case TotalStepBound:
		return "TotalStepBound"
	case RolloutBound:
		return "RolloutBound"
	default:
		return fmt.Sprintf("ScheduleKind(%d)", int(k))
	}
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
func (k *ScheduleKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "TotalStepBound", "total_step_bound", "steps":
		*k = TotalStepBound
	case "RolloutBound", "rollout_bound", "rollouts":
		*k = RolloutBound
	default:
		return fmt.Errorf("unmarshalText: unknown schedule %q", text)
	}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface
func (k ScheduleKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Schedule decides when training ends
type Schedule struct {
	Kind ScheduleKind `yaml:"kind"`
	N    int          `yaml:"n"`

	steps    int
	rollouts int
}

// Validate checks that the schedule can end
func (s *Schedule) Validate() error {
	switch s.Kind {
	case TotalStepBound, RolloutBound:
	default:
		return fmt.Errorf("validate: unknown schedule %v", s.Kind)
	}
	if s.N <= 0 {
		return fmt.Errorf("validate: %v bound must be positive, have(%v)",
			s.Kind, s.N)
	}
	return nil
}

// Advance records a collection pass of the given number of steps
func (s *Schedule) Advance(steps int) {
	s.steps += steps
	s.rollouts++
}

// Done returns whether training has ended
func (s *Schedule) Done() bool {
	return s.Progress() >= s.N
}

// Progress returns the progress of the schedule towards N, in the
// unit of its kind
func (s *Schedule) Progress() int {
	switch s.Kind {
	case TotalStepBound:
		return s.steps
	case RolloutBound:
		return s.rollouts
	default:
		panic(fmt.Sprintf("progress: unknown schedule %v", s.Kind))
	}
}

// Steps returns the total number of steps collected
func (s *Schedule) Steps() int {
	return s.steps
}

// Rollouts returns the number of collection passes made
func (s *Schedule) Rollouts() int {
	return s.rollouts
}

// Reset forgets all progress
func (s *Schedule) Reset() {
	s.steps = 0
	s.rollouts = 0
}

func (s *Schedule) String() string {
	return fmt.Sprintf("%v{%d}", s.Kind, s.N)
}
