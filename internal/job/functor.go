package job

import (
	"context"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/frame"
)

// Functor is the computation behind a ticket. The same functor serves every
// job of the ticket, concurrently, so implementations must be safe for
// concurrent use.
type Functor interface {
	Kind() Kind

	// Invoke computes one frame. Buffers must be obtained through inv so they
	// are reclaimed on every exit path.
	Invoke(ctx context.Context, inv *Invocation) error

	// SignalFailure is told when an invocation failed or its result became
	// invalid. Never called concurrently with Invoke for the same parameter.
	SignalFailure(p Parameter, reason error)
}

// Invocation is the per-call context handed to a Functor.
type Invocation struct {
	Parameter Parameter
	Coord     frame.Coord

	ticket *Ticket
	scope  *buffer.Scope
}

// Provider returns the buffer provider of the ticket. May be nil when the
// ticket does not compute frame data.
func (inv *Invocation) Provider() buffer.Provider {
	return inv.ticket.provider
}

// Lock checks out a buffer for the duration of the invocation. Buffers not
// released by the functor are reclaimed when the invocation ends.
func (inv *Invocation) Lock(ctx context.Context, d buffer.Descriptor) (*buffer.Handle, error) {
	return inv.scope.Lock(ctx, d)
}

// LockSize checks out a plain buffer of the given size from the ticket's
// provider.
func (inv *Invocation) LockSize(ctx context.Context, size int) (*buffer.Handle, error) {
	p := inv.ticket.provider
	if p == nil {
		return nil, newJobError(ErrCodeInvalidTicket, inv.ticket, inv.Parameter.Key.FrameNumber,
			"ticket has no buffer provider")
	}
	return inv.scope.Lock(ctx, p.DescriptorFor(size))
}

// StillValid re-checks the plan mid-computation, so long-running functors
// can bail out early.
func (inv *Invocation) StillValid() bool {
	return inv.ticket.Verify(inv.Parameter.NominalTime, inv.Parameter.Key)
}

// Func adapts plain functions to the Functor interface.
type Func struct {
	JobKind   Kind
	Run       func(ctx context.Context, inv *Invocation) error
	OnFailure func(p Parameter, reason error)
}

func (f Func) Kind() Kind { return f.JobKind }

func (f Func) Invoke(ctx context.Context, inv *Invocation) error {
	if f.Run == nil {
		return nil
	}
	return f.Run(ctx, inv)
}

func (f Func) SignalFailure(p Parameter, reason error) {
	if f.OnFailure != nil {
		f.OnFailure(p, reason)
	}
}

// nopFunctor backs the NOP ticket.
type nopFunctor struct{}

func (nopFunctor) Kind() Kind { return DummyJob }

func (nopFunctor) Invoke(context.Context, *Invocation) error { return nil }

func (nopFunctor) SignalFailure(Parameter, error) {}
