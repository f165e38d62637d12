package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/response"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The command ran and failed (error payload, failed scenarios)
	ExitCommandError = 2 // Usage or IO error (bad flags, root cannot be opened)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError are usage errors reported by cobra itself.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// Result prints a command outcome. JSON output is the canonical response
// envelope; text output is the data, or the error kind and message. A
// failed command yields an ExitFailure error.
func (f *OutputFormatter) Result(data ir.IRObject, err error) error {
	if f.Format == "json" {
		fmt.Fprintf(f.Writer, "%s\n", response.Encode(data, err))
	} else if err != nil {
		env := response.Envelope(nil, err)
		e, _ := env["error"].(ir.IRObject)
		fmt.Fprintf(f.Writer, "Error [%s]: %s\n", str(e["kind"]), str(e["message"]))
		if mod := str(e["module"]); f.Verbose && mod != "" {
			fmt.Fprintf(f.Writer, "Module: %s\n", mod)
		}
	} else if err := f.text(data); err != nil {
		return WrapExitError(ExitCommandError, "write output", err)
	}

	if err != nil {
		return WrapExitError(ExitFailure, "command failed", err)
	}
	return nil
}

// text prints query results as a table and everything else as JSON.
func (f *OutputFormatter) text(data ir.IRObject) error {
	cols, ok := data["columns"].(ir.IRArray)
	if !ok {
		b, err := ir.MarshalCanonical(data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(f.Writer, "%s\n", b)
		return err
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, str(c))
	}
	fmt.Fprintln(tw)

	rows, _ := data["rows"].(ir.IRArray)
	for _, r := range rows {
		row, _ := r.(ir.IRObject)
		for i, c := range cols {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, cell(row[str(c)]))
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	f.VerboseLog("(%d rows)", len(rows))
	return nil
}

func str(v ir.IRValue) string {
	s, _ := v.(ir.IRString)
	return string(s)
}

func cell(v ir.IRValue) string {
	switch x := v.(type) {
	case nil, ir.IRNull:
		return "NULL"
	case ir.IRString:
		return string(x)
	default:
		b, err := ir.MarshalCanonical(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
