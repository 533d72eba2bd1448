package transformer

import (
	"errors"
	"fmt"
)

// PassError represents a structural failure during protection. These are
// invariant violations (a block with no terminator, an insertion point that
// vanished), not input errors: the parser has already accepted the module.
type PassError struct {
	// Code identifies the error category.
	Code PassErrorCode

	// Message is a human-readable description.
	Message string

	// Function names the function being transformed.
	Function string

	// InstrID identifies the comparison being protected, when known.
	InstrID int
}

// PassErrorCode categorizes transformation errors.
type PassErrorCode string

const (
	// ErrCodeNoTerminator indicates the comparison's block has no
	// terminator to gate.
	ErrCodeNoTerminator PassErrorCode = "NO_TERMINATOR"

	// ErrCodeInsert indicates an insertion or rewiring step failed.
	ErrCodeInsert PassErrorCode = "INSERT_FAILED"
)

// Error implements the error interface.
func (e *PassError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("%s: %s (function=%s, instr=%d)", e.Code, e.Message, e.Function, e.InstrID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsPassError reports whether err is (or wraps) a PassError.
func IsPassError(err error) bool {
	var pe *PassError
	return errors.As(err, &pe)
}
