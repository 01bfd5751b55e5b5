package trackers

import (
	"github.com/samuelfneumann/onpolicy/algorithm"
	"github.com/samuelfneumann/onpolicy/experiment/tracker"
)

// EpisodeLength tracks and saves the lengths of episodes in an
// experiment. Episodes continue across collection passes, so the
// length of the unfinished episode of each environment is carried over
// to the next iteration.
//
// Note that an episode must finish for this Tracker to save its data.
type EpisodeLength struct {
	running        []int
	episodeLengths []int
	filename       string
}

// NewEpisodeLength returns a new EpisodeLength Tracker which will save
// its data at the specified location filename
func NewEpisodeLength(filename string) *EpisodeLength {
	return &EpisodeLength{filename: filename}
}

// Track records the lengths of the episodes completed in an iteration
func (e *EpisodeLength) Track(report algorithm.Report) error {
	if e.running == nil {
		e.running = make([]int, len(report.Rollouts))
	}
	for i, r := range report.Rollouts {
		for _, done := range r.Dones {
			e.running[i]++
			if done {
				e.episodeLengths = append(e.episodeLengths, e.running[i])
				e.running[i] = 0
			}
		}
	}
	return nil
}

// Lengths returns the episode lengths tracked so far
func (e *EpisodeLength) Lengths() []int {
	return e.episodeLengths
}

// Save saves the data tracked by the EpisodeLength Tracker to disk
func (e *EpisodeLength) Save() error {
	return tracker.Save(e.filename, e.episodeLengths)
}
