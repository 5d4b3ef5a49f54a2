package governance

import (
	"errors"
	"fmt"
)

var (
	// ErrProposalNotFound is returned when a vote references a proposal that is not stored yet.
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrEntityNotFound is returned when a governance entity lookup finds no record.
	ErrEntityNotFound = errors.New("governance entity not found")
)

// DecodeError reports a malformed log or record from a source.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s record: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError wraps err as a decode failure of source.
func NewDecodeError(source string, err error) error {
	return &DecodeError{Source: source, Err: err}
}

// IsDecodeError reports whether err is or wraps a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
