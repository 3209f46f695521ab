package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/timeline"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Name     string            `json:"name,omitempty"`
	Rate     string            `json:"frame_rate,omitempty"`
	Pipes    []string          `json:"pipes,omitempty"`
	Segments int               `json:"segments"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one problem found in a timeline definition.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <timeline>",
		Short: "Validate a timeline definition",
		Long: `Validate a CUE timeline definition against the timeline schema and build it.

The argument is a .cue file or a directory holding one CUE package. Building
checks what the schema cannot: known pipes, segment ranges and ticket kinds.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	formatter.VerboseLog("Loading timeline %s", path)
	def, err := timeline.Load(path)
	if err != nil {
		return outputValidationErrors(formatter, err)
	}
	formatter.VerboseLog("Loaded %q: %d port(s), %d segment(s)", def.Name, len(def.Ports), len(def.Segments))

	tl, err := timeline.Build(def, buffer.NewTrackingProvider())
	if err != nil {
		return outputValidationErrors(formatter, err)
	}

	result := ValidationResult{
		Valid:    true,
		Name:     tl.Name,
		Rate:     tl.Rate.String(),
		Pipes:    tl.Pipes(),
		Segments: len(def.Segments),
	}
	if formatter.jsonMode() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Timeline %q valid: %d pipe(s), %d segment(s) at %s\n",
		result.Name, len(result.Pipes), result.Segments, result.Rate)
	return nil
}

func toValidationError(err error) ValidationError {
	var de *timeline.DefinitionError
	if !errors.As(err, &de) {
		return ValidationError{Code: timeline.ErrCodeInvalid, Message: err.Error()}
	}
	ve := ValidationError{Code: de.Code, Field: de.Field, Message: de.Message}
	if de.Err != nil {
		ve.Message = fmt.Sprintf("%s: %v", de.Message, de.Err)
	}
	if de.Pos.IsValid() {
		ve.File = de.Pos.Filename()
		ve.Line = de.Pos.Line()
	}
	return ve
}

// outputValidationErrors reports a failed validation. A timeline that cannot
// be read exits with 2, an invalid one with 1.
func outputValidationErrors(formatter *OutputFormatter, err error) error {
	ve := toValidationError(err)
	code := ExitFailure
	if ve.Code == timeline.ErrCodeNotFound || ve.Code == timeline.ErrCodeLoadFailed {
		code = ExitCommandError
	}

	if formatter.jsonMode() {
		if encErr := formatter.Error(ve.Code, ve.Message, ValidationResult{Errors: []ValidationError{ve}}); encErr != nil {
			return encErr
		}
		return NewExitError(code, "validation failed")
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	if ve.Line > 0 {
		fmt.Fprintf(formatter.Writer, "%s:%d\n", ve.File, ve.Line)
	}
	if ve.Field != "" {
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", ve.Code, ve.Field, ve.Message)
	} else {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", ve.Code, ve.Message)
	}
	return WrapExitError(code, "validation failed", err)
}
