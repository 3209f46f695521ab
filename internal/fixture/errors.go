package fixture

import (
	"errors"
	"fmt"
)

// FixtureError reports a rejected segmentation change.
type FixtureError struct {
	Code    FixtureErrorCode
	Message string
	Err     error
}

// FixtureErrorCode categorizes fixture errors.
type FixtureErrorCode string

const (
	// ErrCodeInvalidRange indicates an empty or inverted segment range.
	ErrCodeInvalidRange FixtureErrorCode = "INVALID_RANGE"

	// ErrCodeDuplicatePort indicates two tickets for one port in a segment.
	ErrCodeDuplicatePort FixtureErrorCode = "DUPLICATE_PORT"

	// ErrCodeInvalidTicket indicates a ticket could not be built.
	ErrCodeInvalidTicket FixtureErrorCode = "INVALID_TICKET"
)

func (e *FixtureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FixtureError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is a FixtureError with the given code.
func HasCode(err error, code FixtureErrorCode) bool {
	var fe *FixtureError
	return errors.As(err, &fe) && fe.Code == code
}
