// Package errors provides the error classification shared by thermstream packages.
// Errors are Transient (retry), Invalid (drop the input) or Fatal (stop the process).
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Lifecycle
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Transport
	ErrConnectionLost = errors.New("connection lost")
	ErrNoReader       = errors.New("no reader attached to transport")
	ErrEndpointCreate = errors.New("transport endpoint could not be created")

	// Frame and line data
	ErrInvalidData    = errors.New("invalid data format")
	ErrChecksumFailed = errors.New("checksum validation failed")
	ErrParsingFailed  = errors.New("parsing failed")

	// Delivery
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError carries the class of a failure and where it happened.
// Error and Unwrap are those of the wrapped error.
type ClassifiedError struct {
	Class     ErrorClass
	Component string
	Operation string
	Err       error
}

func (ce *ClassifiedError) Error() string { return ce.Err.Error() }

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

// transientCauses are failures the pipeline recovers from by reopening,
// reconnecting or retrying delivery.
var transientCauses = []error{
	ErrConnectionLost,
	ErrNoReader,
	ErrDeliveryFailed,
	context.DeadlineExceeded,
	context.Canceled,
	os.ErrDeadlineExceeded,
	io.ErrUnexpectedEOF,
	syscall.EPIPE,
	syscall.ENXIO,
	syscall.EAGAIN,
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
}

// classOf reports the class recorded by the outermost ClassifiedError.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsTransient reports whether err is worth retrying: an explicitly
// transient error, a transport or delivery sentinel, a pipe or socket errno,
// or anything reporting Timeout().
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	for _, cause := range transientCauses {
		if errors.Is(err, cause) {
			return true
		}
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}

// IsFatal reports whether err should stop the process.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrEndpointCreate)
}

// IsInvalid reports whether err is bad input to be logged and dropped.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrChecksumFailed)
}

// Classify returns the class of err. Unrecognised errors are transient so
// the caller retries rather than drops.
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

func classify(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Component: component,
		Operation: method,
		Err:       Wrap(err, component, method, action),
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps err as Transient.
func WrapTransient(err error, component, method, action string) error {
	return classify(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err as Fatal.
func WrapFatal(err error, component, method, action string) error {
	return classify(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err as Invalid.
func WrapInvalid(err error, component, method, action string) error {
	return classify(ErrorInvalid, err, component, method, action)
}
