package timeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/roach88/framejobs/internal/job"
)

// Synthetic is the functor behind defined tickets. Each invocation locks the
// declared buffers, emits the first one if asked to, then waits out the cost.
type Synthetic struct {
	JobKind job.Kind
	Buffers []int
	Emit    bool
	Cost    time.Duration
	Fail    error

	invocations atomic.Int64
	failures    atomic.Int64
}

func (s *Synthetic) Kind() job.Kind {
	return s.JobKind
}

func (s *Synthetic) Invoke(ctx context.Context, inv *job.Invocation) error {
	s.invocations.Add(1)
	for i, size := range s.Buffers {
		h, err := inv.LockSize(ctx, size)
		if err != nil {
			return err
		}
		if s.Emit && i == 0 {
			if err := h.Emit(); err != nil {
				return err
			}
		}
	}
	if s.Cost > 0 {
		t := time.NewTimer(s.Cost)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.Fail
}

func (s *Synthetic) SignalFailure(job.Parameter, error) {
	s.failures.Add(1)
}

// Invocations returns how often the functor ran.
func (s *Synthetic) Invocations() int64 {
	return s.invocations.Load()
}

// Failures returns how many failures were signalled.
func (s *Synthetic) Failures() int64 {
	return s.failures.Load()
}

func newSynthetic(td TicketDef) (*Synthetic, error) {
	kind, err := job.ParseKind(td.Kind)
	if err != nil {
		return nil, err
	}
	s := &Synthetic{JobKind: kind, Buffers: td.Buffers, Emit: td.Emit, Cost: td.Cost}
	if td.Fail != "" {
		s.Fail = errors.New(td.Fail)
	}
	return s, nil
}
