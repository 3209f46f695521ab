package port

import (
	"errors"
	"fmt"
)

// PortError reports a failure resolving or registering a model port.
type PortError struct {
	Code    PortErrorCode
	Message string
	Port    ModelPort
}

// PortErrorCode categorizes port errors.
type PortErrorCode string

const (
	// ErrCodeUnknownPort indicates a port that was never committed.
	ErrCodeUnknownPort PortErrorCode = "UNKNOWN_PORT"

	// ErrCodeDisconnected indicates the NIL port.
	ErrCodeDisconnected PortErrorCode = "DISCONNECTED_PORT"

	// ErrCodeDuplicatePipe indicates a pipe defined twice in one transaction.
	ErrCodeDuplicatePipe PortErrorCode = "DUPLICATE_PIPE"

	// ErrCodeInvalidPipe indicates an unusable pipe ID.
	ErrCodeInvalidPipe PortErrorCode = "INVALID_PIPE"

	// ErrCodeTransactionOpen indicates a second concurrent transaction.
	ErrCodeTransactionOpen PortErrorCode = "TRANSACTION_OPEN"

	// ErrCodeTransactionClosed indicates use of a committed or rolled back transaction.
	ErrCodeTransactionClosed PortErrorCode = "TRANSACTION_CLOSED"
)

func (e *PortError) Error() string {
	if !e.Port.IsNil() {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Port)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newPortError(code PortErrorCode, msg string, p ModelPort) *PortError {
	return &PortError{Code: code, Message: msg, Port: p}
}

// IsUnknownPort returns true for unknown or disconnected ports.
func IsUnknownPort(err error) bool {
	var pe *PortError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeUnknownPort || pe.Code == ErrCodeDisconnected
	}
	return false
}
