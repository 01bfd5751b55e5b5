package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samuelfneumann/onpolicy/buffer"
	"github.com/samuelfneumann/onpolicy/policy"
	"golang.org/x/sync/errgroup"
)

// actorsFor returns one fork of b per environment. Forks are made once
// per behaviour, so that stepping a pool one step at a time draws the
// same actions as stepping it in bulk.
func (p *Pool) actorsFor(b *policy.Behaviour) []*policy.Behaviour {
	if b == p.source {
		return p.actors
	}
	p.source = b
	p.actors = make([]*policy.Behaviour, len(p.envs))
	for i := range p.actors {
		p.actors[i] = b.Fork(p.rng.Uint64())
	}
	return p.actors
}

// prepare replaces every empty buffer by a fixed-size buffer of
// capacity fixed, or by a variable-size buffer if fixed is zero
func (p *Pool) prepare(fixed int) error {
	for i, s := range p.buffers {
		err := s.Update(func(b buffer.Buffer) (buffer.Buffer, error) {
			if b.Len() != 0 {
				return b, nil
			}
			resume, err := b.LastState()
			if err != nil {
				return nil, err
			}
			if fixed > 0 {
				return buffer.NewFixedSize(fixed, resume), nil
			}
			return buffer.NewVariableSize(0, resume), nil
		})
		if err != nil {
			return fmt.Errorf("prepare: env %d: %w", i, err)
		}
	}
	return nil
}

// discard drops everything buffered since the last call to Rollouts.
// Environments continue from where they stopped.
func (p *Pool) discard() error {
	for i, s := range p.buffers {
		err := s.Do(func(b buffer.Buffer) error {
			return b.Clear()
		})
		if err != nil {
			return fmt.Errorf("discard: env %d: %w", i, err)
		}
		p.episodes[i] = nil
	}
	return nil
}

// step advances environment i by one step with actor, pushing the step
// into buf and resetting the environment if the step ended its episode
func (p *Pool) step(i int, actor *policy.Behaviour,
	buf buffer.Buffer) (bool, error) {
	state, err := buf.LastState()
	if err != nil {
		return false, fmt.Errorf("step: env %d: %w", i, err)
	}
	action, err := actor.Act(state)
	if err != nil {
		return false, fmt.Errorf("step: env %d: %w", i, err)
	}
	snap, err := p.envs[i].Step(action)
	if err != nil {
		return false, fmt.Errorf("step: env %d: %w", i, err)
	}

	p.running[i] += float64(snap.Reward)
	resume := snap.State
	if snap.Done() {
		p.episodes[i] = append(p.episodes[i], p.running[i])
		p.running[i] = 0
		resume, err = p.envs[i].Reset(p.seeders[i].Uint64())
		if err != nil {
			return false, fmt.Errorf("step: reset env %d: %w", i, err)
		}
	}

	if err := buf.Push(state, action, snap, resume); err != nil {
		return false, fmt.Errorf("step: env %d: %w", i, err)
	}
	return snap.Done(), nil
}

// collect steps every environment until stop reports it has stepped
// enough
func (p *Pool) collect(ctx context.Context, b *policy.Behaviour, fixed int,
	stop stopFunc) error {
	if err := p.prepare(fixed); err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	actors := p.actorsFor(b)
	start := time.Now()

	var err error
	switch p.mode {
	case Sequential:
		err = p.collectSequential(ctx, actors, stop)
	case Threaded:
		err = p.collectThreaded(ctx, actors, stop)
	default:
		panic(fmt.Sprintf("collect: cannot step locally in %v mode", p.mode))
	}
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	p.logger.Debug("collected steps",
		slog.String("mode", p.mode.String()),
		slog.Int("steps", p.Progress()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (p *Pool) collectSequential(ctx context.Context,
	actors []*policy.Behaviour, stop stopFunc) error {
	progresses := make([]progress, len(p.envs))
	finished := make([]bool, len(p.envs))
	remaining := len(p.envs)
	for i := range finished {
		if stop(progresses[i]) {
			finished[i] = true
			remaining--
		}
	}

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range p.envs {
			if finished[i] {
				continue
			}
			err := p.buffers[i].Do(func(buf buffer.Buffer) error {
				done, err := p.step(i, actors[i], buf)
				if err != nil {
					return err
				}
				progresses[i].add(done)
				return nil
			})
			if err != nil {
				return err
			}
			if stop(progresses[i]) {
				finished[i] = true
				remaining--
			}
		}
	}
	return nil
}

func (p *Pool) collectThreaded(ctx context.Context,
	actors []*policy.Behaviour, stop stopFunc) error {
	g, gCtx := errgroup.WithContext(ctx)
	for i := range p.envs {
		i := i
		g.Go(func() error {
			return p.buffers[i].Do(func(buf buffer.Buffer) error {
				var prog progress
				for !stop(prog) {
					if err := gCtx.Err(); err != nil {
						return err
					}
					done, err := p.step(i, actors[i], buf)
					if err != nil {
						return err
					}
					prog.add(done)
				}
				return nil
			})
		})
	}
	return g.Wait()
}

// StepSingleAndTake advances every environment by one step and takes
// their state buffers for preprocessing. The buffers must be returned
// with PutBuffers before the pool is used again.
func (p *Pool) StepSingleAndTake(ctx context.Context,
	b *policy.Behaviour) ([]*buffer.StateBuffer, error) {
	active := make([]bool, p.NumEnvs())
	for i := range active {
		active[i] = true
	}
	taken, err := p.StepSelectedAndTake(ctx, b, active)
	if err != nil {
		return nil, fmt.Errorf("stepSingleAndTake: %w", err)
	}
	return taken, nil
}

// StepSelectedAndTake advances each active environment by one step and
// takes its state buffer. The returned slice is indexed by environment
// and holds nil for inactive environments.
func (p *Pool) StepSelectedAndTake(ctx context.Context, b *policy.Behaviour,
	active []bool) ([]*buffer.StateBuffer, error) {
	if p.mode == Subprocess {
		return nil, fmt.Errorf("stepSelectedAndTake: %v: %w", p.mode,
			ErrUnsupported)
	}
	if len(active) != len(p.envs) {
		return nil, fmt.Errorf("stepSelectedAndTake: illegal number of "+
			"flags \n\twant(%v)\n\thave(%v)", len(p.envs), len(active))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("stepSelectedAndTake: %w", err)
	}
	if err := p.prepare(0); err != nil {
		return nil, fmt.Errorf("stepSelectedAndTake: %w", err)
	}
	actors := p.actorsFor(b)

	stepOne := func(i int) error {
		return p.buffers[i].Do(func(buf buffer.Buffer) error {
			_, err := p.step(i, actors[i], buf)
			return err
		})
	}
	switch p.mode {
	case Sequential:
		for i := range p.envs {
			if !active[i] {
				continue
			}
			if err := stepOne(i); err != nil {
				return nil, fmt.Errorf("stepSelectedAndTake: %w", err)
			}
		}
	case Threaded:
		var g errgroup.Group
		for i := range p.envs {
			i := i
			if active[i] {
				g.Go(func() error { return stepOne(i) })
			}
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("stepSelectedAndTake: %w", err)
		}
	}

	taken := make([]*buffer.StateBuffer, len(p.envs))
	for i := range p.envs {
		if !active[i] {
			continue
		}
		err := p.buffers[i].Do(func(buf buffer.Buffer) error {
			s, err := buf.Take()
			taken[i] = s
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("stepSelectedAndTake: env %d: %w", i, err)
		}
	}
	return taken, nil
}

// Take takes the state buffer of every environment without stepping,
// so that the states environments resume from can be preprocessed
func (p *Pool) Take() ([]*buffer.StateBuffer, error) {
	if p.mode == Subprocess {
		return nil, fmt.Errorf("take: %v: %w", p.mode, ErrUnsupported)
	}
	taken := make([]*buffer.StateBuffer, len(p.envs))
	for i := range p.envs {
		err := p.buffers[i].Do(func(buf buffer.Buffer) error {
			s, err := buf.Take()
			taken[i] = s
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("take: env %d: %w", i, err)
		}
	}
	return taken, nil
}

// PutBuffers returns taken state buffers to their environments. Nil
// entries are skipped.
func (p *Pool) PutBuffers(buffers []*buffer.StateBuffer) error {
	if p.mode == Subprocess {
		return fmt.Errorf("putBuffers: %v: %w", p.mode, ErrUnsupported)
	}
	if len(buffers) != len(p.envs) {
		return fmt.Errorf("putBuffers: illegal number of buffers "+
			"\n\twant(%v)\n\thave(%v)", len(p.envs), len(buffers))
	}
	for i, s := range buffers {
		if s == nil {
			continue
		}
		err := p.buffers[i].Do(func(buf buffer.Buffer) error {
			return buf.Put(s)
		})
		if err != nil {
			return fmt.Errorf("putBuffers: env %d: %w", i, err)
		}
	}
	return nil
}
