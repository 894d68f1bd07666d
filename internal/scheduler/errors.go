package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every ConfigurationError.
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
	// ErrNotStandby is returned by Start when the session already ran.
	ErrNotStandby = errors.New("session is not in standby")
	// ErrNoTrials is returned by Start when the run order is empty.
	ErrNoTrials = errors.New("no trials to run")
	// ErrRunnerStopped is returned by control requests after the loop exited.
	ErrRunnerStopped = errors.New("runner stopped")
)

// ConfigurationError reports a scheduler configuration that cannot run.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid scheduler configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfig }
