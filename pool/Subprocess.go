package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/samuelfneumann/onpolicy/buffer"
	env "github.com/samuelfneumann/onpolicy/environment"
	"github.com/samuelfneumann/onpolicy/ipc"
	"github.com/samuelfneumann/onpolicy/policy"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

// worker is one child process of a Subprocess pool, serving requests
// on its stdin and answering on its stdout
type worker struct {
	id     uuid.UUID
	cmd    *exec.Cmd
	conn   *ipc.Conn
	stdin  io.WriteCloser
	logger *slog.Logger
}

// start starts the worker process of cmd
func start(cmd *exec.Cmd, logger *slog.Logger) (*worker, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	w := &worker{
		id:    uuid.New(),
		cmd:   cmd,
		conn:  ipc.NewConn(stdout, stdin),
		stdin: stdin,
	}
	w.logger = logger.With(slog.String("worker", w.id.String()))
	w.logger.Debug("started worker",
		slog.String("command", cmd.Path),
		slog.Int("pid", cmd.Process.Pid),
	)
	return w, nil
}

// rollout asks the worker to collect one rollout
func (w *worker) rollout(snap policy.Snapshot, seed uint64,
	rule ipc.Rule) (buffer.Rollout, error) {
	reply, err := w.conn.Request(ipc.Message{
		Tag:    ipc.StartRollout,
		Seed:   seed,
		Rule:   rule,
		Policy: snap,
	})
	if errors.Is(err, ipc.ErrRemote) {
		return buffer.Rollout{}, fmt.Errorf("worker %v: %w", w.id, err)
	}
	if err != nil {
		return buffer.Rollout{}, fmt.Errorf("worker %v: %w: %v", w.id,
			ErrWorkerExited, err)
	}
	if reply.Tag != ipc.RolloutResult {
		return buffer.Rollout{}, fmt.Errorf("worker %v: unexpected reply %v "+
			"to %v", w.id, reply.Tag, ipc.StartRollout)
	}
	return reply.Rollout, nil
}

// halt asks the worker to exit and waits for it
func (w *worker) halt() error {
	reply, err := w.conn.Request(ipc.Message{Tag: ipc.Halt})
	if err == nil && reply.Tag != ipc.Halting {
		err = fmt.Errorf("unexpected reply %v to %v", reply.Tag, ipc.Halt)
	}
	w.stdin.Close()
	if err != nil {
		w.kill()
		w.cmd.Wait()
		return fmt.Errorf("halt: worker %v: %w", w.id, err)
	}
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("halt: worker %v: %w", w.id, err)
	}
	w.logger.Debug("halted worker")
	return nil
}

func (w *worker) kill() {
	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
}

// NewSubprocess returns a Subprocess pool with one worker process per
// command. Every command must start a process that serves the ipc
// protocol on its stdin and stdout, such as one running Serve, for an
// environment described by desc.
func NewSubprocess(cmds []*exec.Cmd, desc env.Description, seed uint64,
	logger *slog.Logger) (*Pool, error) {
	if len(cmds) == 0 {
		return nil, fmt.Errorf("newSubprocess: no worker commands")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		mode:   Subprocess,
		desc:   desc,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
	for i, cmd := range cmds {
		w, err := start(cmd, logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("newSubprocess: worker %d: %w", i, err)
		}
		p.workers = append(p.workers, w)
	}
	return p, nil
}

// dispatch sends b to every worker and waits for their rollouts under
// rule. Rollouts are kept in worker order until taken by Rollouts. If
// ctx is cancelled while waiting, the workers are killed.
func (p *Pool) dispatch(ctx context.Context, b *policy.Behaviour,
	rule ipc.Rule) error {
	if p.pending != nil {
		return fmt.Errorf("dispatch: rollouts of the previous pass were " +
			"not taken")
	}
	if len(p.workers) == 0 {
		return fmt.Errorf("dispatch: %w", ErrWorkerExited)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	snap := b.Snapshot()
	seeds := make([]uint64, len(p.workers))
	for i := range seeds {
		seeds[i] = p.rng.Uint64()
	}

	stop := context.AfterFunc(ctx, func() {
		for _, w := range p.workers {
			w.kill()
		}
	})
	defer stop()

	start := time.Now()
	results := make([]buffer.Rollout, len(p.workers))
	var g errgroup.Group
	for i, w := range p.workers {
		i, w := i, w
		g.Go(func() error {
			r, err := w.rollout(snap, seeds[i], rule)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("dispatch: %w", ctxErr)
		}
		return fmt.Errorf("dispatch: %w", err)
	}

	p.pending = results
	p.logger.Debug("collected rollouts",
		slog.String("mode", p.mode.String()),
		slog.String("rule", rule.Kind.String()),
		slog.Int("steps", buffer.TotalSteps(results)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
