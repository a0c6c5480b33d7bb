// Package errors provides standardized error handling patterns for udprelay.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, may be retried), Invalid
// (bad input, do not retry) and Fatal (the current operation cannot complete).
//
// # Relay Taxonomy
//
// The relay reports five kinds of failure, each a sentinel matched with errors.Is:
//
//	ErrValidation  malformed port or destination input, rejected before the engine
//	ErrConflict    two inputs of one table request the same port
//	ErrBind        socket bind failure; the previous generation stays live
//	ErrSend        per-destination forward failure; logged, never leaves the listener
//	ErrTruncation  oversized datagram; logged and dropped, never leaves the listener
//
// Constructors keep the sentinel and the cause in the chain:
//
//	err := errors.Bind("0.0.0.0:5001", sysErr)
//	errors.Is(err, errors.ErrBind)   // true
//	errors.IsFatal(err)              // true
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// WrapTransient, WrapInvalid and WrapFatal attach a class; Wrap keeps the class of
// the wrapped error.
package errors
