package timeline

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error codes reported by the loader.
const (
	ErrCodeNotFound    = "T001" // file or directory missing
	ErrCodeLoadFailed  = "T002" // CUE load failed
	ErrCodeSchema      = "T003" // definition violates the schema
	ErrCodeInvalid     = "T004" // semantic error (unknown pipe, bad range)
	ErrCodeBuildFailed = "T005" // registry or segmentation rejected the definition
)

// DefinitionError is a loader error with an optional source position.
type DefinitionError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
	Err     error
}

func (e *DefinitionError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// fromCUE converts a CUE evaluation error, keeping the first position.
func fromCUE(code string, err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &DefinitionError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	de := &DefinitionError{Code: code, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		de.Pos = positions[0]
	}
	return de
}
