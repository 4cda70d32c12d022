package remote

import (
	"errors"
	"fmt"
	"time"
)

// RemoteInferenceError wraps any failure of a remote inference call,
// including backend timeouts.
type RemoteInferenceError struct {
	Model string
	Err   error
}

func (e *RemoteInferenceError) Error() string {
	return fmt.Sprintf("remote inference %s: %v", e.Model, e.Err)
}

func (e *RemoteInferenceError) Unwrap() error { return e.Err }

// CircuitOpenError is returned without contacting the backend while the
// breaker is open. It is distinct from RemoteInferenceError so callers can
// back off for RetryAfter.
type CircuitOpenError struct {
	Model      string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("remote inference %s: circuit open, retry after %s", e.Model, e.RetryAfter.Round(time.Millisecond))
}

// IsRemoteInference reports whether err is a RemoteInferenceError.
func IsRemoteInference(err error) bool {
	var e *RemoteInferenceError
	return errors.As(err, &e)
}

// IsCircuitOpen reports whether err is a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var e *CircuitOpenError
	return errors.As(err, &e)
}

// BackendError is a non-2xx response from the remote backend.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
}
