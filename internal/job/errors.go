package job

import (
	"errors"
	"fmt"
)

// JobError reports a failure in ticket or job handling.
type JobError struct {
	// Code identifies the error category.
	Code JobErrorCode

	// Message is a human-readable description.
	Message string

	// Pipeline identifies the ticket's pipeline, if known.
	Pipeline string

	// Frame is the affected frame number, if any.
	Frame int64

	// Err is the underlying cause, e.g. the functor's error.
	Err error
}

// JobErrorCode categorizes job errors.
type JobErrorCode string

const (
	// ErrCodeTicketMismatch indicates a job requested for a frame the ticket
	// does not cover. This is a contract violation of the planner.
	ErrCodeTicketMismatch JobErrorCode = "TICKET_MISMATCH"

	// ErrCodeInvalidTicket indicates an incomplete ticket specification.
	ErrCodeInvalidTicket JobErrorCode = "INVALID_TICKET"

	// ErrCodeStalePlan indicates the timeline changed after planning.
	// Recoverable: the job result must be discarded.
	ErrCodeStalePlan JobErrorCode = "STALE_PLAN"

	// ErrCodeAlreadyInvoked indicates a second invocation of a disposable job.
	ErrCodeAlreadyInvoked JobErrorCode = "ALREADY_INVOKED"

	// ErrCodeFunctorFailed indicates the computation returned an error.
	ErrCodeFunctorFailed JobErrorCode = "FUNCTOR_FAILED"

	// ErrCodeFunctorPanic indicates the computation panicked.
	ErrCodeFunctorPanic JobErrorCode = "FUNCTOR_PANIC"
)

// Error implements the error interface.
func (e *JobError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Pipeline != "" {
		msg = fmt.Sprintf("%s (pipeline=%s, frame=%d)", msg, e.Pipeline, e.Frame)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func newJobError(code JobErrorCode, t *Ticket, frame int64, msg string) *JobError {
	e := &JobError{Code: code, Message: msg, Frame: frame}
	if t != nil {
		e.Pipeline = t.pipelineID
	}
	return e
}

// HasCode reports whether err is a JobError with the given code.
func HasCode(err error, code JobErrorCode) bool {
	var je *JobError
	return errors.As(err, &je) && je.Code == code
}

// IsStalePlan returns true if the job was invalidated by a timeline change.
func IsStalePlan(err error) bool {
	return HasCode(err, ErrCodeStalePlan)
}

// IsTicketMismatch returns true if a job was requested outside its ticket.
func IsTicketMismatch(err error) bool {
	return HasCode(err, ErrCodeTicketMismatch)
}
