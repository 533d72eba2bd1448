package parser

import (
	"errors"
	"fmt"
)

// ParseError represents a grammar violation in the input text. Parse errors
// are unrecoverable: structural rewriting over malformed input is unsafe, so
// the whole pass aborts with the diagnostic and emits no partial output.
type ParseError struct {
	// Line is the 1-based line number of the offending input line.
	Line int

	// Reason is a human-readable description of the violation.
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
