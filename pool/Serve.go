package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/samuelfneumann/onpolicy/buffer"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/ipc"
)

// Serve runs the worker side of a Subprocess pool over conn: it answers
// rollout requests by stepping e until a Halt is received or the pool
// closes the connection. Failed requests are answered with a Failure
// and do not stop the worker.
func Serve(ctx context.Context, e env.Environment, seed uint64,
	conn *ipc.Conn, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := NewLocal([]env.Environment{e}, Sequential, seed, logger)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		m, err := conn.Recv()
		if err == io.EOF {
			logger.Debug("pool closed the connection")
			return nil
		}
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}

		var reply ipc.Message
		switch m.Tag {
		case ipc.Halt:
			if err := conn.Send(ipc.Message{Tag: ipc.Halting}); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			logger.Debug("halting")
			return nil

		case ipc.StartRollout:
			r, err := p.serveRollout(ctx, m)
			if err != nil {
				logger.Error("rollout failed", slog.Any("error", err))
				reply = ipc.Message{Tag: ipc.Failure, Err: err.Error()}

				// A worker that cannot drop the failed rollout would
				// leak its steps into the next one
				if err := p.discard(); err != nil {
					reply.Err = fmt.Sprintf("%v: %v", reply.Err, err)
					return errors.Join(fmt.Errorf("serve: %w", err),
						conn.Send(reply))
				}
			} else {
				reply = ipc.Message{Tag: ipc.RolloutResult, Rollout: r}
			}

		default:
			reply = ipc.Message{
				Tag: ipc.Failure,
				Err: fmt.Sprintf("unexpected request %v", m.Tag),
			}
		}

		if err := conn.Send(reply); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
}

// serveRollout collects the single-environment rollout requested by m
func (p *Pool) serveRollout(ctx context.Context,
	m ipc.Message) (buffer.Rollout, error) {
	if err := m.Rule.Validate(); err != nil {
		return buffer.Rollout{}, err
	}
	b, err := m.Policy.Behaviour(m.Seed)
	if err != nil {
		return buffer.Rollout{}, err
	}
	if got, want := m.Policy.Features, p.desc.Observation.Dims(); got != want {
		return buffer.Rollout{}, fmt.Errorf("policy expects %v features, "+
			"environment has %v", got, want)
	}

	switch m.Rule.Kind {
	case ipc.Steps:
		err = p.StepN(ctx, b, m.Rule.N)
	case ipc.EpisodeSteps:
		err = p.StepUntilEpisodes(ctx, b, m.Rule.N)
	case ipc.Episodes:
		err = p.StepEpisodes(ctx, b, m.Rule.N)
	default:
		err = fmt.Errorf("unknown rule kind %v", m.Rule.Kind)
	}
	if err != nil {
		return buffer.Rollout{}, err
	}

	rollouts, err := p.Rollouts()
	if err != nil {
		return buffer.Rollout{}, err
	}
	return rollouts[0], nil
}
