package parser

import (
	"fmt"

	"github.com/c360/thermstream/errors"
)

// ErrEmptyData is returned for empty input.
var ErrEmptyData = fmt.Errorf("%w: empty data", errors.ErrParsingFailed)

// ParseError describes why an input could not be turned into a Reading.
// It matches errors.ErrParsingFailed and is classified Invalid: the input is
// dropped, never retried.
type ParseError struct {
	Format string // "line" or "json"
	Field  string // field that failed, empty for structural errors
	Input  string // offending input, truncated for logging
	Err    error
}

const maxInputEcho = 160

func newParseError(format, field, input string, err error) *ParseError {
	if len(input) > maxInputEcho {
		input = input[:maxInputEcho] + "..."
	}
	return &ParseError{Format: format, Field: field, Input: input, Err: err}
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse %s: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("parse %s: field %s: %v", e.Format, e.Field, e.Err)
}

// Unwrap exposes both the parsing sentinel and the underlying cause.
func (e *ParseError) Unwrap() []error {
	return []error{errors.ErrParsingFailed, e.Err}
}
