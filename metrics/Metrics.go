// Package metrics exports training progress as Prometheus collectors.
//
// A Metrics is registered on a caller-supplied prometheus.Registerer
// and updated through hooks: PostLearn after every iteration of the
// on-policy driver and Batch after every minibatch update of an agent.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samuelfneumann/onpolicy/agent"
	"github.com/samuelfneumann/onpolicy/algorithm"
	"github.com/samuelfneumann/onpolicy/buffer"
)

const namespace = "onpolicy"

// Metrics holds the collectors of one training run
type Metrics struct {
	steps    prometheus.Counter
	episodes prometheus.Counter

	avgReturn  prometheus.Gauge
	policyLoss prometheus.Gauge
	valueLoss  prometheus.Gauge
	approxKL   prometheus.Gauge
	entropy    prometheus.Gauge

	collectSeconds prometheus.Histogram
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "env_steps_total",
			Help:      "Total number of environment steps collected",
		}),
		episodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_total",
			Help:      "Total number of episodes completed during collection",
		}),
		avgReturn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "episode_return_avg",
			Help:      "Average raw return of the episodes completed in the last collection pass",
		}),
		policyLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "policy_loss",
			Help:      "Policy loss of the last minibatch update",
		}),
		valueLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "value_loss",
			Help:      "Value loss of the last minibatch update",
		}),
		approxKL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "approx_kl",
			Help:      "Approximate KL divergence from the sampling policy at the last minibatch update",
		}),
		entropy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "entropy",
			Help:      "Mean policy entropy of the last minibatch update",
		}),
		collectSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rollout_collection_seconds",
			Help:      "Wall time of one collection pass in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.steps, m.episodes, m.avgReturn, m.policyLoss, m.valueLoss,
		m.approxKL, m.entropy, m.collectSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
	}
	return m, nil
}

// PostLearn records one iteration of the driver
func (m *Metrics) PostLearn(r algorithm.Report) error {
	m.steps.Add(float64(r.Steps))
	m.episodes.Add(float64(len(buffer.EpisodeReturns(r.Rollouts))))
	if avg, ok := algorithm.AverageReturn(r.Rollouts); ok {
		m.avgReturn.Set(avg)
	}
	m.collectSeconds.Observe(r.CollectTime.Seconds())
	return nil
}

// Batch records one minibatch update. It never stops learning.
func (m *Metrics) Batch(s agent.BatchStats) agent.HookResult {
	m.policyLoss.Set(s.PolicyLoss)
	m.valueLoss.Set(s.ValueLoss)
	m.approxKL.Set(s.ApproxKL)
	m.entropy.Set(s.Entropy)
	return agent.Continue
}

// Attach registers the hooks of m with a driver and its agent
func (m *Metrics) Attach(o *algorithm.OnPolicy) {
	o.AddPostLearn(m.PostLearn)
	o.Agent().Hooks().AddBatch(m.Batch)
}
