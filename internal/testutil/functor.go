package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/job"
)

// ScriptedFunctor is a job functor with configurable behaviour. It records
// every invocation and failure signal.
//
// Thread-safety: safe for concurrent invocations.
type ScriptedFunctor struct {
	JobKind job.Kind

	// Buffers lists the sizes of buffers locked per invocation.
	Buffers []int

	// ReleaseBuffers releases buffers explicitly instead of leaving them to
	// the invocation scope.
	ReleaseBuffers bool

	// Emit marks the first buffer as emitted.
	Emit bool

	// Delay blocks each invocation, honouring ctx.
	Delay time.Duration

	// Fail, if set, is returned after the buffers were locked.
	Fail error

	// Hook runs inside every invocation after the buffers were locked.
	Hook func(ctx context.Context, inv *job.Invocation) error

	mu       sync.Mutex
	invoked  []int64
	failures []Failure
}

// Failure is one recorded SignalFailure call.
type Failure struct {
	Parameter job.Parameter
	Reason    error
}

// Kind implements job.Functor.
func (f *ScriptedFunctor) Kind() job.Kind {
	return f.JobKind
}

// Invoke implements job.Functor.
func (f *ScriptedFunctor) Invoke(ctx context.Context, inv *job.Invocation) (err error) {
	f.mu.Lock()
	f.invoked = append(f.invoked, inv.Coord.FrameNumber)
	f.mu.Unlock()

	var held []*buffer.Handle
	defer func() {
		if !f.ReleaseBuffers {
			return
		}
		for _, h := range held {
			err = errors.Join(err, h.Release())
		}
	}()

	for i, size := range f.Buffers {
		h, err := inv.LockSize(ctx, size)
		if err != nil {
			return err
		}
		held = append(held, h)
		if f.Emit && i == 0 {
			if err := h.Emit(); err != nil {
				return err
			}
		}
	}
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.Hook != nil {
		if err := f.Hook(ctx, inv); err != nil {
			return err
		}
	}
	return f.Fail
}

// SignalFailure implements job.Functor.
func (f *ScriptedFunctor) SignalFailure(p job.Parameter, reason error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, Failure{Parameter: p, Reason: reason})
}

// Invoked returns the invoked frame numbers in ascending order.
func (f *ScriptedFunctor) Invoked() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.invoked))
	copy(out, f.invoked)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Failures returns the recorded failure signals.
func (f *ScriptedFunctor) Failures() []Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Failure, len(f.failures))
	copy(out, f.failures)
	return out
}
