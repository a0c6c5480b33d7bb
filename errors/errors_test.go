package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"refused errno", &net.OpError{Op: "read", Net: "udp", Err: syscall.ECONNREFUSED}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"send error", Send("10.0.0.1:9000", syscall.ENETUNREACH), true},
		{"truncation", Truncation(70000, 65535), true},
		{"context canceled", context.Canceled, true},
		{"validation", Validationf("bad line"), false},
		{"message alone is not enough", fmt.Errorf("operation timeout occurred"), false},
		{"bind errno", syscall.EADDRINUSE, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"bind", Bind("0.0.0.0:5001", syscall.EADDRINUSE), true},
		{"invalid config", ErrInvalidConfig, true},
		{"in use errno", &net.OpError{Op: "listen", Net: "udp", Err: syscall.EADDRINUSE}, true},
		{"permission errno", fmt.Errorf("listen: %w", syscall.EACCES), true},
		{"refused errno", syscall.ECONNREFUSED, false},
		{"send", Send("x:1", fmt.Errorf("boom")), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsFatal(test.err))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"validation", Validationf("input %q: bad destination", "a"), ErrorInvalid},
		{"conflict", Conflictf("port 5005 used twice"), ErrorInvalid},
		{"validation mentioning connection", Validationf("connection string %q", "x"), ErrorInvalid},
		{"bind", Bind(":5001", syscall.EACCES), ErrorFatal},
		{"send", Send("h:1", syscall.ECONNREFUSED), ErrorTransient},
		{"unknown defaults to transient", errors.New("something"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Classify(test.err))
		})
	}
}

func TestTaxonomy_KeepsCause(t *testing.T) {
	err := Bind("0.0.0.0:5001", syscall.EADDRINUSE)
	assert.True(t, errors.Is(err, ErrBind))
	assert.True(t, errors.Is(err, syscall.EADDRINUSE))
	assert.Contains(t, err.Error(), "0.0.0.0:5001")

	err = Send("192.0.2.1:9", syscall.ENETUNREACH)
	assert.True(t, Is(err, ErrSend))
	assert.True(t, Is(err, syscall.ENETUNREACH))

	err = Truncation(70000, 65535)
	assert.True(t, Is(err, ErrTruncation))
	assert.Contains(t, err.Error(), "70000")
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "C", "M", "a"))

	base := errors.New("base error")
	wrapped := Wrap(base, "Engine", "Reconfigure", "start listener")
	assert.Equal(t, "Engine.Reconfigure: start listener failed: base error", wrapped.Error())
	assert.True(t, errors.Is(wrapped, base))
}

func TestWrapClassified(t *testing.T) {
	base := Conflictf("port 5005")

	invalid := WrapInvalid(base, "Engine", "Reconfigure", "validate table")
	require.Error(t, invalid)
	assert.True(t, IsInvalid(invalid))
	assert.True(t, errors.Is(invalid, ErrConflict))

	var ce *ClassifiedError
	require.True(t, errors.As(invalid, &ce))
	assert.Equal(t, "Engine", ce.Component)
	assert.Equal(t, "Reconfigure", ce.Operation)

	assert.True(t, IsTransient(WrapTransient(base, "C", "M", "a")))
	assert.True(t, IsFatal(WrapFatal(base, "C", "M", "a")))
	assert.Nil(t, WrapFatal(nil, "C", "M", "a"))
}

func TestClassifiedError_NoMessage(t *testing.T) {
	ce := &ClassifiedError{Class: ErrorFatal, Err: errors.New("inner")}
	assert.Equal(t, "inner", ce.Error())
	assert.Equal(t, "inner", ce.Unwrap().Error())
}
