package environment

import (
	"gonum.org/v1/gonum/spatial/r1"
)

// IntervalLimit reports when any watched feature of a state leaves its
// legal interval. Classic control tasks use it to detect failure.
type IntervalLimit struct {
	intervals []r1.Interval
	indices   []int
}

// NewIntervalLimit returns an IntervalLimit watching state[indices[i]]
// against intervals[i].
func NewIntervalLimit(intervals []r1.Interval, indices []int) IntervalLimit {
	if len(intervals) != len(indices) {
		panic("newIntervalLimit: intervals should have same length as " +
			"feature indices")
	}
	return IntervalLimit{intervals: intervals, indices: indices}
}

// Exceeded reports whether any watched feature lies outside its
// interval.
func (i IntervalLimit) Exceeded(state []float64) bool {
	for j, index := range i.indices {
		if state[index] > i.intervals[j].Max ||
			state[index] < i.intervals[j].Min {
			return true
		}
	}
	return false
}
