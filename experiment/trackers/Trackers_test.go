package trackers

import (
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/onpolicy/algorithm"
	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/experiment/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(rollouts ...buffer.Rollout) algorithm.Report {
	return algorithm.Report{Rollouts: rollouts}
}

func TestReturn(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	r := NewReturn(filename)

	require.NoError(t, r.Track(report(
		buffer.Rollout{EpisodeReturns: []float64{1, 2}},
		buffer.Rollout{EpisodeReturns: []float64{3}},
	)))
	require.NoError(t, r.Track(report(
		buffer.Rollout{},
		buffer.Rollout{EpisodeReturns: []float64{4}},
	)))
	assert.Equal(t, []float64{1, 2, 3, 4}, r.Returns())

	require.NoError(t, r.Save())
	var saved []float64
	require.NoError(t, tracker.LoadData(filename, &saved))
	assert.Equal(t, r.Returns(), saved)
}

// An episode cut by the end of a collection pass continues in the next
func TestEpisodeLengthCarriesOver(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "lengths.bin")
	e := NewEpisodeLength(filename)

	require.NoError(t, e.Track(report(
		buffer.Rollout{Dones: []bool{false, true, false}},
		buffer.Rollout{Dones: []bool{false, false, false}},
	)))
	assert.Equal(t, []int{2}, e.Lengths())

	require.NoError(t, e.Track(report(
		buffer.Rollout{Dones: []bool{true, false, true}},
		buffer.Rollout{Dones: []bool{false, true, false}},
	)))
	assert.Equal(t, []int{2, 2, 2, 5}, e.Lengths())

	require.NoError(t, e.Save())
	var saved []int
	require.NoError(t, tracker.LoadData(filename, &saved))
	assert.Equal(t, e.Lengths(), saved)
}

func TestHook(t *testing.T) {
	r := NewReturn(filepath.Join(t.TempDir(), "returns.bin"))
	hook := tracker.Hook(r)
	require.NoError(t, hook(report(buffer.Rollout{EpisodeReturns: []float64{7}})))
	assert.Equal(t, []float64{7}, r.Returns())
}
