package job

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/frame"
)

// Job is one disposable unit of computation bound to a frame coordinate.
// A job is invoked at most once; retries are new jobs.
type Job struct {
	ticket  *Ticket
	coord   frame.Coord
	param   Parameter
	hash    string
	startBy time.Time

	invoked atomic.Bool
}

// Kind returns the job kind for the scheduler.
func (j *Job) Kind() Kind { return j.ticket.Kind() }

// Ticket returns the ticket that produced the job.
func (j *Job) Ticket() *Ticket { return j.ticket }

// Coord returns the frame the job computes.
func (j *Job) Coord() frame.Coord { return j.coord }

// Deadline is the wall-clock time by which the job should have finished.
func (j *Job) Deadline() time.Time { return j.coord.RealDeadline }

// StartDeadline is the latest wall-clock time the job may start and still
// finish by Deadline. Without a planned start it equals Deadline.
func (j *Job) StartDeadline() time.Time {
	if j.startBy.IsZero() {
		return j.coord.RealDeadline
	}
	return j.startBy
}

// Parameter returns the invocation parameter.
func (j *Job) Parameter() Parameter { return j.param }

// InstanceHash identifies the computed result for caching.
func (j *Job) InstanceHash() string { return j.hash }

// Invoked reports whether Invoke was called.
func (j *Job) Invoked() bool { return j.invoked.Load() }

func (j *Job) String() string {
	return fmt.Sprintf("job(%s %s %s)", j.Kind(), j.ticket.pipelineID, j.coord)
}

// Invoke runs the computation.
//
// The plan is verified before and after the functor runs. Buffers the functor
// checked out through its Invocation are reclaimed on every exit path. Any
// failure, including a stale plan or a panic, is reported to the functor's
// SignalFailure and returned; nothing panics across this call.
func (j *Job) Invoke(ctx context.Context) (err error) {
	if !j.invoked.CompareAndSwap(false, true) {
		return newJobError(ErrCodeAlreadyInvoked, j.ticket, j.coord.FrameNumber, "job is disposable and was already invoked")
	}
	if !j.verify() {
		return j.fail(j.stale("plan no longer valid before invocation"))
	}
	if err := ctx.Err(); err != nil {
		jerr := newJobError(ErrCodeFunctorFailed, j.ticket, j.coord.FrameNumber, "invocation cancelled")
		jerr.Err = err
		return j.fail(jerr)
	}

	scope := buffer.NewScope()
	inv := &Invocation{Parameter: j.param, Coord: j.coord, ticket: j.ticket, scope: scope}

	runErr := j.run(ctx, inv)
	_, closeErr := scope.Close()

	switch {
	case runErr != nil:
		return j.fail(errors.Join(runErr, closeErr))
	case !j.verify():
		return j.fail(errors.Join(j.stale("plan invalidated during invocation"), closeErr))
	case closeErr != nil:
		return j.fail(closeErr)
	}
	return nil
}

func (j *Job) run(ctx context.Context, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			jerr := newJobError(ErrCodeFunctorPanic, j.ticket, j.coord.FrameNumber, "functor panicked")
			jerr.Err = fmt.Errorf("%v", r)
			err = jerr
		}
	}()
	if err := j.ticket.functor.Invoke(ctx, inv); err != nil {
		jerr := newJobError(ErrCodeFunctorFailed, j.ticket, j.coord.FrameNumber, "functor failed")
		jerr.Err = err
		return jerr
	}
	return nil
}

func (j *Job) verify() bool {
	return j.ticket.Verify(j.param.NominalTime, j.param.Key)
}

func (j *Job) stale(msg string) error {
	return newJobError(ErrCodeStalePlan, j.ticket, j.coord.FrameNumber, msg)
}

func (j *Job) fail(err error) error {
	j.SignalFailure(err)
	return err
}

// SignalFailure tells the functor that this job's result is not to be
// used. Schedulers call it for jobs they drop without invoking.
func (j *Job) SignalFailure(reason error) {
	j.ticket.functor.SignalFailure(j.param, reason)
}
