package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Process exit statuses of framejobs commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a scenario failed, a timeline is invalid, a stream is unknown
	ExitCommandError = 2 // bad flags, unreadable files or journal
)

// ExitError carries the exit status a command wants the process to end with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

// NewExitError fails a command with code.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError fails a command with code, keeping err as the cause.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// GetExitCode maps a command's error to its exit status. Errors that carry
// no status count as ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// CLIResponse is the envelope of every JSON document a command prints.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failure inside a CLIResponse. Codes are the
// validation codes (T001...) or E_* command codes.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// OutputFormatter writes command results either as text or as CLIResponse
// JSON. Results go to Writer; diagnostics go to ErrWriter so that a JSON
// document on Writer stays parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func (f *OutputFormatter) jsonMode() bool {
	return strings.EqualFold(f.Format, "json")
}

func (f *OutputFormatter) encode(resp CLIResponse, indent bool) error {
	enc := json.NewEncoder(f.Writer)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}

// Success prints data: wrapped in an ok response in JSON mode, with its
// default formatting otherwise.
func (f *OutputFormatter) Success(data any) error {
	if f.jsonMode() {
		return f.encode(CLIResponse{Status: statusOK, Data: data}, false)
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// JSON prints v as an indented ok response regardless of Format. Commands
// call it once they decided on JSON output themselves.
func (f *OutputFormatter) JSON(v any) error {
	return f.encode(CLIResponse{Status: statusOK, Data: v}, true)
}

// Error reports a failure. Text mode prints details only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.jsonMode() {
		return f.encode(CLIResponse{
			Status: statusError,
			Error:  &CLIError{Code: code, Message: message, Details: details},
		}, false)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Error [%s]: %s\n", code, message)
	if details != nil && f.Verbose {
		fmt.Fprintf(&b, "Details: %+v\n", details)
	}
	_, err := io.WriteString(f.Writer, b.String())
	return err
}

// GetErrWriter returns where diagnostics go: ErrWriter, or Writer when unset.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter == nil {
		return f.Writer
	}
	return f.ErrWriter
}

// VerboseLog prints one diagnostic line when verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
	}
}
