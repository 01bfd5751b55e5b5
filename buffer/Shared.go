package buffer

import "sync"

// Shared guards a Buffer with a mutex so that it may be inspected from
// goroutines other than the one stepping into it
type Shared struct {
	mu     sync.Mutex
	buffer Buffer
}

// NewShared wraps b
func NewShared(b Buffer) *Shared {
	return &Shared{buffer: b}
}

// Do calls f with exclusive access to the buffer
func (s *Shared) Do(f func(Buffer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s.buffer)
}

// Update replaces the buffer with the one returned by f. If f returns
// an error, the buffer is kept.
func (s *Shared) Update(f func(Buffer) (Buffer, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := f(s.buffer)
	if err != nil {
		return err
	}
	s.buffer = b
	return nil
}

// Len returns the number of steps in the buffer
func (s *Shared) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Len()
}
