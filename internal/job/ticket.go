package job

import (
	"time"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/canon"
	"github.com/roach88/framejobs/internal/frame"
)

// Span is the stretch of timeline a ticket is valid for. Implemented by the
// fixture's segments.
type Span interface {
	// Covers reports whether the nominal time lies within the span.
	Covers(t time.Duration) bool

	// Obsolete reports whether the span was replaced by a timeline rebuild.
	Obsolete() bool

	// Key identifies the span within its segmentation.
	Key() string
}

// TicketSpec describes a ticket as delivered by the builder.
type TicketSpec struct {
	// PipelineID names the processing pipeline (node entry point) the
	// ticket computes.
	PipelineID string

	Functor  Functor
	Provider buffer.Provider

	// ExpectedRuntime is the estimated computation time of one job. Used to
	// back-propagate deadlines to prerequisites.
	ExpectedRuntime time.Duration

	// Prerequisites must be computed before jobs of this ticket can run.
	Prerequisites []TicketSpec
}

// Ticket manufactures jobs for one pipeline within one span. Tickets are
// immutable and safe for concurrent use.
type Ticket struct {
	pipelineID      string
	seed            uint64
	functor         Functor
	provider        buffer.Provider
	expectedRuntime time.Duration
	prerequisites   []*Ticket
	span            Span
}

// NOP is the empty ticket. It covers any time and manufactures jobs that do
// nothing. Stands for "no output" outside the timeline.
var NOP = &Ticket{functor: nopFunctor{}}

// NewTicket builds the ticket for spec within span. Prerequisite tickets
// share the span.
func NewTicket(spec TicketSpec, span Span) (*Ticket, error) {
	if spec.PipelineID == "" {
		return nil, newJobError(ErrCodeInvalidTicket, nil, 0, "ticket needs a pipeline ID")
	}
	if spec.Functor == nil {
		return nil, &JobError{Code: ErrCodeInvalidTicket, Message: "ticket needs a functor", Pipeline: spec.PipelineID}
	}
	if span == nil {
		return nil, &JobError{Code: ErrCodeInvalidTicket, Message: "ticket needs a span", Pipeline: spec.PipelineID}
	}
	if spec.ExpectedRuntime < 0 {
		return nil, &JobError{Code: ErrCodeInvalidTicket, Message: "expected runtime must not be negative", Pipeline: spec.PipelineID}
	}

	seed, err := canon.Seed(canon.DomainTicket, canon.Object{
		"pipeline": spec.PipelineID,
		"span":     span.Key(),
		"kind":     spec.Functor.Kind().String(),
	})
	if err != nil {
		return nil, &JobError{Code: ErrCodeInvalidTicket, Message: "derive ticket seed", Pipeline: spec.PipelineID, Err: err}
	}

	t := &Ticket{
		pipelineID:      spec.PipelineID,
		seed:            seed,
		functor:         spec.Functor,
		provider:        spec.Provider,
		expectedRuntime: spec.ExpectedRuntime,
		span:            span,
	}
	for _, ps := range spec.Prerequisites {
		pre, err := NewTicket(ps, span)
		if err != nil {
			return nil, err
		}
		t.prerequisites = append(t.prerequisites, pre)
	}
	return t, nil
}

// PipelineID returns the pipeline the ticket computes.
func (t *Ticket) PipelineID() string { return t.pipelineID }

// Seed is the invocation seed shared by all jobs of the ticket.
func (t *Ticket) Seed() uint64 { return t.seed }

// Kind returns the kind of jobs the ticket produces.
func (t *Ticket) Kind() Kind { return t.functor.Kind() }

// ExpectedRuntime is the estimated duration of one job.
func (t *Ticket) ExpectedRuntime() time.Duration { return t.expectedRuntime }

// Provider returns the buffer provider jobs allocate from.
func (t *Ticket) Provider() buffer.Provider { return t.provider }

// Span returns the span the ticket is valid for. Nil for NOP.
func (t *Ticket) Span() Span { return t.span }

// Prerequisites returns the tickets whose jobs must run first.
func (t *Ticket) Prerequisites() []*Ticket {
	return t.prerequisites
}

// Empty reports whether this is the NOP ticket.
func (t *Ticket) Empty() bool {
	return t.span == nil
}

// IsValid reports whether the ticket may still be used for planning.
func (t *Ticket) IsValid() bool {
	return !t.Empty() && !t.span.Obsolete()
}

// Covers reports whether the ticket's span includes nominal time tm.
func (t *Ticket) Covers(tm time.Duration) bool {
	return t.span == nil || t.span.Covers(tm)
}

// KeyFor builds the invocation key for the given coordinate.
func (t *Ticket) KeyFor(coord frame.Coord) InvocationKey {
	return InvocationKey{Seed: t.seed, FrameNumber: coord.FrameNumber, Channel: coord.Channel}
}

// JobOption adjusts a job as it is created.
type JobOption func(*Job)

// StartBy sets the job's start deadline.
func StartBy(deadline time.Time) JobOption {
	return func(j *Job) { j.startBy = deadline }
}

// CreateJobFor manufactures the job computing coord. The coordinate must be
// defined and covered by the ticket's span.
func (t *Ticket) CreateJobFor(coord frame.Coord, opts ...JobOption) (*Job, error) {
	if !coord.IsDefined() {
		return nil, newJobError(ErrCodeTicketMismatch, t, 0, "job requested for an undefined frame coordinate")
	}
	if !t.Covers(coord.NominalTime) {
		return nil, newJobError(ErrCodeTicketMismatch, t, coord.FrameNumber,
			"frame "+coord.NominalTime.String()+" lies outside the ticket's segment")
	}
	if t.span != nil && t.span.Obsolete() {
		return nil, newJobError(ErrCodeStalePlan, t, coord.FrameNumber, "ticket belongs to a replaced segment")
	}
	key := t.KeyFor(coord)
	j := &Job{
		ticket: t,
		coord:  coord,
		param:  Parameter{NominalTime: coord.NominalTime, Key: key},
		hash:   t.HashOfInstance(key),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Verify confirms at invocation time that the plan still holds for the
// nominal time and key: the span was not replaced, still covers the time, and
// the key was issued by this ticket.
func (t *Ticket) Verify(nominal time.Duration, key InvocationKey) bool {
	if key.Seed != t.seed {
		return false
	}
	if t.span == nil {
		return true
	}
	return !t.span.Obsolete() && t.span.Covers(nominal)
}

// HashOfInstance is the identity of the (ticket, invocation) pairing, used to
// de-duplicate and cache computed results. Pure: equal inputs always give
// equal hashes.
func (t *Ticket) HashOfInstance(key InvocationKey) string {
	return canon.HashWithDomain(canon.DomainInstance, canon.MustMarshal(canon.Object{
		"ticket":  t.seed,
		"seed":    key.Seed,
		"frame":   key.FrameNumber,
		"channel": key.Channel,
	}))
}
