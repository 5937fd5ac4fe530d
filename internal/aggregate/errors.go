package aggregate

import (
	"fmt"
	"strings"

	"github.com/torosent/crankbench/internal/telemetry"
)

// FormatErrorKind classifies why a telemetry log could not be aggregated.
type FormatErrorKind int

const (
	// Truncated logs end before the top-level element is closed.
	Truncated FormatErrorKind = iota
	// WrongShape logs are well formed but are not bench logs.
	WrongShape
	// InvalidContent logs contain malformed markup or undecodable bytes.
	InvalidContent
)

func (k FormatErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case WrongShape:
		return "wrong shape"
	case InvalidContent:
		return "invalid content"
	}
	return "unknown"
}

// LogFormatError reports a telemetry log that cannot be aggregated. Root is
// the top-level element of the log, or the expected one when none was read.
type LogFormatError struct {
	Path  string
	Kind  FormatErrorKind
	Root  string
	Line  int
	Stack []string
	Err   error
}

func (e *LogFormatError) Error() string {
	var b strings.Builder
	if e.Path != "" {
		fmt.Fprintf(&b, "%s: ", e.Path)
	}
	switch e.Kind {
	case Truncated:
		root := e.Root
		if root == "" {
			root = telemetry.ElemRoot
		}
		fmt.Fprintf(&b, "missing </%s> closing element, the bench may still be running or was interrupted", root)
	case WrongShape:
		b.WriteString("not a bench result log")
		if e.Err != nil {
			fmt.Fprintf(&b, " (%v)", e.Err)
		}
		b.WriteString("; reports can only be built from logs written by the bench command")
	case InvalidContent:
		fmt.Fprintf(&b, "invalid bench result log at line %d: %v", e.Line, e.Err)
		b.WriteString("; error pages captured during the bench may contain non UTF-8 bytes, recode the file to UTF-8")
	}
	if len(e.Stack) > 0 {
		fmt.Fprintf(&b, " [element stack: %s]", strings.Join(e.Stack, " > "))
	}
	return b.String()
}

func (e *LogFormatError) Unwrap() error { return e.Err }
