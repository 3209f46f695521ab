package buffer

import (
	"errors"
	"fmt"
)

// BufferError reports a failure of the buffer protocol.
//
// Exhaustion is throttling pressure: callers back off, wait or drop the
// frame. All other codes are contract violations by the caller and are fatal
// to the offending job, never to the provider.
type BufferError struct {
	Code    BufferErrorCode
	Message string
	Key     Key
	Err     error
}

// BufferErrorCode categorizes buffer errors.
type BufferErrorCode string

const (
	// ErrCodeExhausted indicates no buffer could be provided in time.
	ErrCodeExhausted BufferErrorCode = "EXHAUSTED"

	// ErrCodeDoubleRelease indicates a handle released twice.
	ErrCodeDoubleRelease BufferErrorCode = "DOUBLE_RELEASE"

	// ErrCodeReleased indicates access through a released handle.
	ErrCodeReleased BufferErrorCode = "RELEASED"

	// ErrCodeForeignDescriptor indicates a descriptor or handle of another provider.
	ErrCodeForeignDescriptor BufferErrorCode = "FOREIGN_DESCRIPTOR"

	// ErrCodeInvalidTransition indicates an illegal buffer state change.
	ErrCodeInvalidTransition BufferErrorCode = "INVALID_TRANSITION"

	// ErrCodeUnknownEntry indicates a key unknown to the metadata.
	ErrCodeUnknownEntry BufferErrorCode = "UNKNOWN_ENTRY"
)

func (e *BufferError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != 0 {
		msg = fmt.Sprintf("%s (buffer=%x)", msg, uint64(e.Key))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BufferError) Unwrap() error {
	return e.Err
}

func newBufferError(code BufferErrorCode, msg string, k Key) *BufferError {
	return &BufferError{Code: code, Message: msg, Key: k}
}

// IsExhausted returns true if the provider ran out of buffers.
func IsExhausted(err error) bool {
	var be *BufferError
	if errors.As(err, &be) {
		return be.Code == ErrCodeExhausted
	}
	return false
}

// IsContractViolation returns true for misuse of the buffer protocol.
func IsContractViolation(err error) bool {
	var be *BufferError
	if errors.As(err, &be) {
		return be.Code != ErrCodeExhausted
	}
	return false
}

// HasCode reports whether err is a BufferError with the given code.
func HasCode(err error, code BufferErrorCode) bool {
	var be *BufferError
	return errors.As(err, &be) && be.Code == code
}
