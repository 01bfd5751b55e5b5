package buffer

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
)

// VariableSize is a buffer that grows with the episodes stepped into it.
// Its limit is a step target used to size the initial storage; the pool
// is responsible for stopping, so pushes never fail for lack of room.
type VariableSize struct {
	limit   int
	storage *StateBuffer
}

// NewVariableSize returns a new VariableSize buffer targeting limit
// steps and resuming from start
func NewVariableSize(limit int, start backend.ValueBuffer) *VariableSize {
	if limit < 0 {
		limit = 0
	}
	return &VariableSize{
		limit:   limit,
		storage: NewStateBuffer(limit, start),
	}
}

// Limit returns the step target of the buffer
func (v *VariableSize) Limit() int {
	return v.limit
}

// Push implements the Buffer interface
func (v *VariableSize) Push(state, action backend.ValueBuffer,
	snap env.Snapshot, resume backend.ValueBuffer) error {
	if v.storage == nil {
		return fmt.Errorf("push: %w", ErrTaken)
	}
	v.storage.Push(state, action, snap, resume)
	return nil
}

// Take implements the Buffer interface
func (v *VariableSize) Take() (*StateBuffer, error) {
	if v.storage == nil {
		return nil, fmt.Errorf("take: %w", ErrTaken)
	}
	s := v.storage
	v.storage = nil
	return s, nil
}

// Put implements the Buffer interface
func (v *VariableSize) Put(s *StateBuffer) error {
	if v.storage != nil {
		return fmt.Errorf("put: buffer already holds its state buffer")
	}
	if s == nil {
		return fmt.Errorf("put: nil state buffer")
	}
	v.storage = s
	return nil
}

// Len implements the Buffer interface
func (v *VariableSize) Len() int {
	if v.storage == nil {
		return 0
	}
	return v.storage.Len()
}

// LastState implements the Buffer interface
func (v *VariableSize) LastState() (backend.ValueBuffer, error) {
	if v.storage == nil {
		return backend.ValueBuffer{}, fmt.Errorf("lastState: %w", ErrTaken)
	}
	return v.storage.Resume, nil
}

// LastTerminates implements the Buffer interface
func (v *VariableSize) LastTerminates() (bool, error) {
	if v.storage == nil {
		return false, fmt.Errorf("lastTerminates: %w", ErrTaken)
	}
	return v.storage.LastTerminates(), nil
}

// Rollout implements the Buffer interface
func (v *VariableSize) Rollout() (Rollout, error) {
	if v.storage == nil {
		return Rollout{}, fmt.Errorf("rollout: %w", ErrTaken)
	}
	return v.storage.Rollout()
}

// Clear implements the Buffer interface
func (v *VariableSize) Clear() error {
	if v.storage == nil {
		return fmt.Errorf("clear: %w", ErrTaken)
	}
	v.storage.Clear()
	return nil
}
