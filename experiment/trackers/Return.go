// Package trackers implements Trackers of episode statistics
package trackers

import (
	"github.com/samuelfneumann/onpolicy/algorithm"
	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/experiment/tracker"
)

// Return tracks and saves the episodic return in an experiment.
//
// Returns are the raw returns of the environments, accumulated by the
// pool before any preprocessing. A reward normaliser does not change
// what this Tracker records.
//
// Note: An episode must finish for this Tracker to save its data. If
// the last episode of an environment does not finish, its return is
// not saved.
type Return struct {
	episodeReturns []float64
	filename       string
}

// NewReturn creates and returns a new *Return Tracker
func NewReturn(filename string) *Return {
	return &Return{filename: filename}
}

// Track records the returns of the episodes completed in an iteration
func (r *Return) Track(report algorithm.Report) error {
	r.episodeReturns = append(r.episodeReturns,
		buffer.EpisodeReturns(report.Rollouts)...)
	return nil
}

// Returns returns the episodic returns tracked so far
func (r *Return) Returns() []float64 {
	return r.episodeReturns
}

// Save saves the data tracked by the Return Tracker to disk
func (r *Return) Save() error {
	return tracker.Save(r.filename, r.episodeReturns)
}
