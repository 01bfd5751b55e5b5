package algorithm

import (
	"io"
	"log/slog"

	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/utils/progressbar"
)

// LoggingHook returns a post-learn hook that logs, for every rollout,
// the number of episodes completed during collection, their total
// reward and their average reward
func LoggingHook(logger *slog.Logger) PostLearnHook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(r Report) error {
		for i, rollout := range r.Rollouts {
			episodes := len(rollout.EpisodeReturns)
			var total float64
			for _, ret := range rollout.EpisodeReturns {
				total += ret
			}
			var avg float64
			if episodes > 0 {
				avg = total / float64(episodes)
			}
			logger.Info("rollout",
				slog.Int("iteration", r.Iteration),
				slog.Int("env", i),
				slog.Int("episodes", episodes),
				slog.Float64("total_reward", total),
				slog.Float64("avg_reward", avg),
			)
		}
		logger.Debug("iteration",
			slog.Int("iteration", r.Iteration),
			slog.Int("steps", r.Steps),
			slog.Int("total_steps", r.TotalSteps),
			slog.Duration("collect", r.CollectTime),
			slog.Duration("learn", r.LearnTime),
		)
		return nil
	}
}

// AverageReturn returns the average raw return of the episodes
// completed in rollouts, and whether any episode was completed
func AverageReturn(rollouts []buffer.Rollout) (float64, bool) {
	returns := buffer.EpisodeReturns(rollouts)
	if len(returns) == 0 {
		return 0, false
	}
	var total float64
	for _, r := range returns {
		total += r
	}
	return total / float64(len(returns)), true
}

// EarlyStop returns a pre-learn hook that ends training once the
// average return of the episodes completed in a collection pass
// reaches target
func EarlyStop(target float64) PreLearnHook {
	return func(rollouts []buffer.Rollout) HookResult {
		if avg, ok := AverageReturn(rollouts); ok && avg >= target {
			return Break
		}
		return Continue
	}
}

// ProgressHook returns a post-learn hook that draws the progress of the
// schedule as a progress bar on out
func ProgressHook(out io.Writer, schedule *Schedule) PostLearnHook {
	bar := progressbar.NewManualProgressBar(out, 40, schedule.N)
	return func(r Report) error {
		bar.Set(r.Schedule.Progress())
		bar.Display()
		if r.Schedule.Done() {
			bar.Close()
		}
		return nil
	}
}
