package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samuelfneumann/onpolicy/agent"
	"github.com/samuelfneumann/onpolicy/algorithm"
	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostLearn(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	report := algorithm.Report{
		Steps: 40,
		Rollouts: []buffer.Rollout{
			{EpisodeReturns: []float64{10, 20}},
			{EpisodeReturns: []float64{30}},
		},
		CollectTime: 50 * time.Millisecond,
	}
	require.NoError(t, m.PostLearn(report))
	require.NoError(t, m.PostLearn(algorithm.Report{Steps: 2}))

	assert.Equal(t, 42.0, testutil.ToFloat64(m.steps))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.episodes))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.avgReturn),
		"passes without episodes keep the last average")

	// One observation per pass, not one collected metric
	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() != "onpolicy_rollout_collection_seconds" {
			continue
		}
		found = true
		require.Len(t, f.GetMetric(), 1)
		h := f.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(2), h.GetSampleCount())
		assert.InDelta(t, 0.05, h.GetSampleSum(), 1e-12)
	}
	assert.True(t, found)
}

func TestBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	result := m.Batch(agent.BatchStats{
		PolicyLoss: -0.1,
		ValueLoss:  2,
		ApproxKL:   0.01,
		Entropy:    0.6,
	})
	assert.Equal(t, agent.Continue, result)
	assert.Equal(t, -0.1, testutil.ToFloat64(m.policyLoss))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.valueLoss))
	assert.Equal(t, 0.01, testutil.ToFloat64(m.approxKL))
	assert.Equal(t, 0.6, testutil.ToFloat64(m.entropy))

	expected := `
# HELP onpolicy_agent_value_loss Value loss of the last minibatch update
# TYPE onpolicy_agent_value_loss gauge
onpolicy_agent_value_loss 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg,
		strings.NewReader(expected), "onpolicy_agent_value_loss"))
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
