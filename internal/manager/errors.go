package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mlserve/internal/remote"
)

// ErrManagerClosed is returned for loads requested after Cleanup started.
var ErrManagerClosed = errors.New("model manager is closed")

// UnknownModelError is returned for names absent from the registry.
type UnknownModelError struct{ Name string }

func (e *UnknownModelError) Error() string { return "model not found: " + e.Name }

// ModelDisabledError is returned when a disabled model is requested.
type ModelDisabledError struct{ Name string }

func (e *ModelDisabledError) Error() string { return "model disabled: " + e.Name }

// InsufficientMemoryError signals that admission rejected a load.
type InsufficientMemoryError struct {
	Name      string
	Device    string
	Required  uint64
	Available uint64
}

func (e *InsufficientMemoryError) Error() string {
	return fmt.Sprintf("insufficient memory for %s on %s: required %d bytes, available %d bytes",
		e.Name, e.Device, e.Required, e.Available)
}

// ModelLoadError wraps any loader failure: missing weights, bad device,
// process start failure, or the recorded error of a model in ERROR.
type ModelLoadError struct {
	Name string
	Err  error
}

func (e *ModelLoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Name, e.Err) }

func (e *ModelLoadError) Unwrap() error { return e.Err }

// ModelLoadTimeoutError is recorded when a load exceeds its timeout.
type ModelLoadTimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *ModelLoadTimeoutError) Error() string {
	return fmt.Sprintf("load %s: timed out after %s", e.Name, e.Timeout)
}

// InferenceError wraps a failed Handle.Predict. The model stays READY.
type InferenceError struct {
	Name string
	Err  error
}

func (e *InferenceError) Error() string { return fmt.Sprintf("inference %s: %v", e.Name, e.Err) }

func (e *InferenceError) Unwrap() error { return e.Err }

// IsUnknownModel reports whether err is an UnknownModelError.
func IsUnknownModel(err error) bool {
	var e *UnknownModelError
	return errors.As(err, &e)
}

// IsModelDisabled reports whether err is a ModelDisabledError.
func IsModelDisabled(err error) bool {
	var e *ModelDisabledError
	return errors.As(err, &e)
}

// IsInsufficientMemory reports whether err is an InsufficientMemoryError.
func IsInsufficientMemory(err error) bool {
	var e *InsufficientMemoryError
	return errors.As(err, &e)
}

// IsModelLoad reports whether err is a ModelLoadError.
func IsModelLoad(err error) bool {
	var e *ModelLoadError
	return errors.As(err, &e)
}

// IsLoadTimeout reports whether err is a ModelLoadTimeoutError.
func IsLoadTimeout(err error) bool {
	var e *ModelLoadTimeoutError
	return errors.As(err, &e)
}

// IsInference reports whether err is an InferenceError.
func IsInference(err error) bool {
	var e *InferenceError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a runtime compiled out of this binary
// (e.g., whisper.cpp without the build tag) so the HTTP layer can return
// 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// ErrorKind is a stable, machine-readable error class.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindUnknownModel          ErrorKind = "unknown_model"
	KindModelDisabled         ErrorKind = "model_disabled"
	KindInsufficientMemory    ErrorKind = "insufficient_memory"
	KindLoadTimeout           ErrorKind = "load_timeout"
	KindDependencyUnavailable ErrorKind = "dependency_unavailable"
	KindLoadError             ErrorKind = "load_error"
	KindInference             ErrorKind = "inference_error"
	KindCircuitOpen           ErrorKind = "circuit_open"
	KindRemoteInference       ErrorKind = "remote_inference"
	KindClosed                ErrorKind = "manager_closed"
	KindCanceled              ErrorKind = "canceled"
	KindInternal              ErrorKind = "internal"
)

// KindOf returns the most specific kind in err's chain. A load that failed
// admission is insufficient_memory even when wrapped in a ModelLoadError.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case IsUnknownModel(err):
		return KindUnknownModel
	case IsModelDisabled(err):
		return KindModelDisabled
	case errors.Is(err, ErrManagerClosed):
		return KindClosed
	case remote.IsCircuitOpen(err):
		return KindCircuitOpen
	case IsInsufficientMemory(err):
		return KindInsufficientMemory
	case IsLoadTimeout(err):
		return KindLoadTimeout
	case IsDependencyUnavailable(err):
		return KindDependencyUnavailable
	case IsModelLoad(err):
		return KindLoadError
	case remote.IsRemoteInference(err):
		return KindRemoteInference
	case IsInference(err):
		return KindInference
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// asLoadError returns err when it already names a load failure, otherwise
// wraps it in a ModelLoadError for name.
func asLoadError(name string, err error) error {
	switch err.(type) {
	case *ModelLoadError, *ModelLoadTimeoutError, *InsufficientMemoryError:
		return err
	}
	return &ModelLoadError{Name: name, Err: err}
}
