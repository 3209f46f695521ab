package engine

import (
	"errors"
	"fmt"
)

// RuntimeError reports a failure of the calculation service itself, as
// opposed to planning errors (dispatch) or job failures (job).
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// StreamID identifies the affected stream, if any.
	StreamID string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStreamStopped indicates an operation on a stopped stream.
	ErrCodeStreamStopped RuntimeErrorCode = "STREAM_STOPPED"

	// ErrCodeSchedulerRejected indicates the scheduler refused a job.
	ErrCodeSchedulerRejected RuntimeErrorCode = "SCHEDULER_REJECTED"

	// ErrCodeInvalidTimings indicates timings unfit to drive a stream.
	ErrCodeInvalidTimings RuntimeErrorCode = "INVALID_TIMINGS"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.StreamID != "" {
		msg += fmt.Sprintf(" (stream=%s)", e.StreamID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func newRuntimeError(code RuntimeErrorCode, streamID, msg string, cause error) *RuntimeError {
	return &RuntimeError{Code: code, Message: msg, StreamID: streamID, Err: cause}
}

// HasCode reports whether err wraps a RuntimeError with the given code.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsStreamStopped reports whether err stems from a stopped stream.
func IsStreamStopped(err error) bool {
	return HasCode(err, ErrCodeStreamStopped)
}

// IsSchedulerRejected reports whether the scheduler refused a job.
func IsSchedulerRejected(err error) bool {
	return HasCode(err, ErrCodeSchedulerRejected)
}
