package tablet

import (
	"errors"
	"fmt"
)

var (
	// ErrTrialNotFound is returned when the tablet has no document for a trial.
	ErrTrialNotFound = errors.New("trial document not found on tablet")
	// ErrQueueFull is returned by Dispatcher.Send when the command was dropped.
	ErrQueueFull = errors.New("tablet command queue full")
	// ErrClosed is returned by Dispatcher.Send after Close.
	ErrClosed = errors.New("tablet dispatcher closed")
)

// TransportError wraps a failure talking to the tablet.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("tablet %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
