package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/framejobs/internal/port"
)

// PlanningError is raised synchronously by the planning call that
// discovered the problem, before any job is scheduled.
type PlanningError struct {
	// Code identifies the error category.
	Code PlanningErrorCode

	// Message is a human-readable description.
	Message string

	// Port is the model port being planned.
	Port port.ModelPort

	// Time is the nominal time involved, if any.
	Time time.Duration

	// Beyond marks a time after the end of the port's timeline.
	Beyond bool

	// Err is the underlying cause.
	Err error
}

// PlanningErrorCode categorizes planning errors.
type PlanningErrorCode string

const (
	// ErrCodeUnknownPort indicates a port not (or no longer) registered.
	ErrCodeUnknownPort PlanningErrorCode = "UNKNOWN_PORT"

	// ErrCodeNoSuchFrame indicates an undefined coordinate or a frame the
	// port produces no output for.
	ErrCodeNoSuchFrame PlanningErrorCode = "NO_SUCH_FRAME"

	// ErrCodeOutsideTimeline indicates a time outside the defined timeline.
	ErrCodeOutsideTimeline PlanningErrorCode = "OUTSIDE_TIMELINE"
)

// Error implements the error interface.
func (e *PlanningError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if !e.Port.IsNil() {
		msg = fmt.Sprintf("%s (port=%s, t=%s)", msg, e.Port, e.Time)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is a PlanningError with the given code.
func HasCode(err error, code PlanningErrorCode) bool {
	var pe *PlanningError
	return errors.As(err, &pe) && pe.Code == code
}

// IsUnknownPort returns true if planning failed on an unregistered port.
func IsUnknownPort(err error) bool {
	return HasCode(err, ErrCodeUnknownPort)
}

// IsOutsideTimeline returns true for times outside the defined timeline.
func IsOutsideTimeline(err error) bool {
	return HasCode(err, ErrCodeOutsideTimeline)
}

// IsEndOfTimeline returns true if planning ran past the timeline's end.
func IsEndOfTimeline(err error) bool {
	var pe *PlanningError
	return errors.As(err, &pe) && pe.Code == ErrCodeOutsideTimeline && pe.Beyond
}
