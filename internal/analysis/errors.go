package analysis

import (
	"errors"
	"fmt"
)

// ErrAlignment is wrapped by every AlignmentError.
var ErrAlignment = errors.New("alignment error")

// AlignmentError reports input that cannot be compared.
type AlignmentError struct {
	Op     string
	Reason string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrAlignment, e.Op, e.Reason)
}

func (e *AlignmentError) Unwrap() error { return ErrAlignment }

func alignErr(op, format string, args ...interface{}) error {
	return &AlignmentError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
