// Package errors provides standardized error handling for udprelay components.
// It includes error classification, the relay error taxonomy, and helper functions
// for consistent error wrapping across the engine, listeners, stores and admin surface.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop the current operation
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

// Relay error taxonomy. Match with errors.Is.
var (
	// ErrValidation marks malformed port or destination input.
	ErrValidation = errors.New("validation error")
	// ErrBind marks a socket bind failure (port in use, permission denied).
	ErrBind = errors.New("bind error")
	// ErrConflict marks two inputs of one table requesting the same port.
	ErrConflict = errors.New("port conflict")
	// ErrSend marks a per-destination forward failure.
	ErrSend = errors.New("send error")
	// ErrTruncation marks a datagram larger than the configured maximum.
	ErrTruncation = errors.New("datagram truncated")
)

// Configuration errors
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// Socket errors a relay keeps running through. ICMP feedback from an earlier
// send surfaces on the next read as one of these.
var transientErrnos = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.ENOBUFS,
	syscall.EAGAIN,
	syscall.EINTR,
}

// Socket errors no retry will fix.
var fatalErrnos = []syscall.Errno{
	syscall.EADDRINUSE,
	syscall.EADDRNOTAVAIL,
	syscall.EACCES,
	syscall.EPERM,
	syscall.EBADF,
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient reports whether err may clear up on its own. An explicit
// classification wins; otherwise the relay sentinels, context errors, network
// timeouts and a fixed errno set are consulted.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}

	switch {
	case errors.Is(err, ErrSend), errors.Is(err, ErrTruncation):
		return true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return matchErrno(err, transientErrnos)
}

// IsFatal reports whether err ends the operation that produced it.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}

	if errors.Is(err, ErrBind) || errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig) {
		return true
	}
	return matchErrno(err, fatalErrnos)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict)
}

// Classify returns the error class for an error. Unrecognized errors are
// treated as transient.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsInvalid(err):
		return ErrorInvalid
	case IsFatal(err):
		return ErrorFatal
	default:
		return ErrorTransient
	}
}

func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

func matchErrno(err error, set []syscall.Errno) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	for _, e := range set {
		if errno == e {
			return true
		}
	}
	return false
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Validationf builds an ErrValidation error with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf builds an ErrConflict error with a formatted detail.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Bind marks err as a bind failure for the given address, keeping both in the chain.
func Bind(addr string, err error) error {
	return fmt.Errorf("%w on %s: %w", ErrBind, addr, err)
}

// Send marks err as a forward failure to dest.
func Send(dest string, err error) error {
	return fmt.Errorf("%w to %s: %w", ErrSend, dest, err)
}

// Truncation reports a datagram of size bytes exceeding limit.
func Truncation(size, limit int) error {
	return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTruncation, size, limit)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return errors.Join(errs...) }

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }
