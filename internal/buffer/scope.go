package buffer

import (
	"context"
	"errors"
	"sync"
)

// Scope tracks the buffers one computation has checked out, so every exit
// path, including failures and panics unwound by the caller, can give them
// back with a single Close.
type Scope struct {
	mu     sync.Mutex
	held   []*Handle
	closed bool
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{}
}

// Lock checks out a buffer and registers it with the scope.
func (s *Scope) Lock(ctx context.Context, d Descriptor) (*Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, newBufferError(ErrCodeReleased, "lock through a closed buffer scope", d.key)
	}
	s.mu.Unlock()

	h, err := d.Lock(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Closed concurrently: hand the buffer straight back.
		_ = h.Release()
		return nil, newBufferError(ErrCodeReleased, "lock through a closed buffer scope", d.key)
	}
	s.held = append(s.held, h)
	return h, nil
}

// Held returns the number of handles of the scope not yet released.
func (s *Scope) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.held {
		if !h.Released() {
			n++
		}
	}
	return n
}

// Close releases every handle still held. Handles the computation already
// released are skipped. Returns how many handles had to be cleaned up and any
// provider error encountered.
func (s *Scope) Close() (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, nil
	}
	s.closed = true
	held := s.held
	s.held = nil
	s.mu.Unlock()

	var errs []error
	cleaned := 0
	for _, h := range held {
		if h.Released() {
			continue
		}
		if err := h.buffer.provider.EmergencyCleanup(h); err != nil {
			if HasCode(err, ErrCodeDoubleRelease) {
				continue // released concurrently
			}
			errs = append(errs, err)
			continue
		}
		cleaned++
	}
	return cleaned, errors.Join(errs...)
}
