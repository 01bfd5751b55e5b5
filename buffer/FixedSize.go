package buffer

import (
	"fmt"

	"github.com/samuelfneumann/onpolicy/backend"
	env "github.com/samuelfneumann/onpolicy/environment"
)

// FixedSize is a buffer over exactly Capacity() steps. Storage is
// allocated once; pushes beyond the capacity fail with ErrFull until the
// buffer is cleared.
type FixedSize struct {
	capacity int
	storage  *StateBuffer
}

// NewFixedSize returns a new FixedSize buffer over capacity steps
// resuming from start
func NewFixedSize(capacity int, start backend.ValueBuffer) *FixedSize {
	if capacity <= 0 {
		panic(fmt.Sprintf("newFixedSize: capacity must be positive, have(%v)",
			capacity))
	}
	return &FixedSize{
		capacity: capacity,
		storage:  NewStateBuffer(capacity, start),
	}
}

// Capacity returns the number of steps the buffer holds
func (f *FixedSize) Capacity() int {
	return f.capacity
}

// Full returns whether the buffer holds Capacity() steps
func (f *FixedSize) Full() bool {
	return f.storage != nil && f.storage.Len() == f.capacity
}

// Push implements the Buffer interface
func (f *FixedSize) Push(state, action backend.ValueBuffer, snap env.Snapshot,
	resume backend.ValueBuffer) error {
	if f.storage == nil {
		return fmt.Errorf("push: %w", ErrTaken)
	}
	if f.storage.Len() >= f.capacity {
		return fmt.Errorf("push: capacity %v: %w", f.capacity, ErrFull)
	}
	f.storage.Push(state, action, snap, resume)
	return nil
}

// Take implements the Buffer interface
func (f *FixedSize) Take() (*StateBuffer, error) {
	if f.storage == nil {
		return nil, fmt.Errorf("take: %w", ErrTaken)
	}
	s := f.storage
	f.storage = nil
	return s, nil
}

// Put implements the Buffer interface
func (f *FixedSize) Put(s *StateBuffer) error {
	if f.storage != nil {
		return fmt.Errorf("put: buffer already holds its state buffer")
	}
	if s == nil {
		return fmt.Errorf("put: nil state buffer")
	}
	if s.Len() > f.capacity {
		return fmt.Errorf("put: state buffer of length %v exceeds capacity "+
			"%v: %w", s.Len(), f.capacity, ErrFull)
	}
	f.storage = s
	return nil
}

// Len implements the Buffer interface
func (f *FixedSize) Len() int {
	if f.storage == nil {
		return 0
	}
	return f.storage.Len()
}

// LastState implements the Buffer interface
func (f *FixedSize) LastState() (backend.ValueBuffer, error) {
	if f.storage == nil {
		return backend.ValueBuffer{}, fmt.Errorf("lastState: %w", ErrTaken)
	}
	return f.storage.Resume, nil
}

// LastTerminates implements the Buffer interface
func (f *FixedSize) LastTerminates() (bool, error) {
	if f.storage == nil {
		return false, fmt.Errorf("lastTerminates: %w", ErrTaken)
	}
	return f.storage.LastTerminates(), nil
}

// Rollout implements the Buffer interface
func (f *FixedSize) Rollout() (Rollout, error) {
	if f.storage == nil {
		return Rollout{}, fmt.Errorf("rollout: %w", ErrTaken)
	}
	return f.storage.Rollout()
}

// Clear implements the Buffer interface
func (f *FixedSize) Clear() error {
	if f.storage == nil {
		return fmt.Errorf("clear: %w", ErrTaken)
	}
	f.storage.Clear()
	return nil
}
