// Package errors provides structured error handling for framepool.
//
// Only one condition is ever returned to callers of the hot acquire path:
// capacity exhaustion. Everything else (misuse, unavailable telemetry, failing
// cleanup callbacks) is recovered locally and logged, but still described
// with the same Error type so log fields stay uniform.
//
// Exhaustion errors are raised per dropped frame under load, so they carry
// no stack trace.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"

	"go.uber.org/zap"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal inconsistencies
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid arguments or pool configuration
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeExhausted represents a pool that reached its in-use ceiling
	ErrorTypeExhausted ErrorType = "exhausted"
	// ErrorTypeMisuse represents foreign or double releases and use after dispose
	ErrorTypeMisuse ErrorType = "misuse"
	// ErrorTypeConfig represents configuration loading errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTelemetry represents unavailable host telemetry
	ErrorTypeTelemetry ErrorType = "telemetry"
	// ErrorTypeCleanup represents a failing cleanup callback
	ErrorTypeCleanup ErrorType = "cleanup"
)

const maxStackFrames = 16

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Fields renders the error as zap fields: the error itself, its type and
// every detail in key order.
func (e *Error) Fields() []zap.Field {
	fields := make([]zap.Field, 0, len(e.Details)+2)
	fields = append(fields, zap.Error(e), zap.String("error_type", string(e.Type)))

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, e.Details[k]))
	}
	return fields
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   stackFor(errType, 3),
	}
}

// Exhausted reports a pool that cannot hand out another record.
func Exhausted(pool string, maxSize int) *Error {
	return &Error{
		Type:    ErrorTypeExhausted,
		Message: "pool exhausted",
		Details: map[string]interface{}{"pool": pool, "max_size": maxSize},
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	wrapped := &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}

	// Keep the innermost stack
	var existing *Error
	if errors.As(err, &existing) {
		wrapped.Stack = existing.Stack
	} else {
		wrapped.Stack = stackFor(errType, 3)
	}
	return wrapped
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsExhausted reports whether err signals a pool at capacity.
func IsExhausted(err error) bool {
	return IsType(err, ErrorTypeExhausted)
}

// Fields returns zap fields for any error, expanding *Error details.
func Fields(err error) []zap.Field {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields()
	}
	return []zap.Field{zap.Error(err)}
}

func stackFor(errType ErrorType, skip int) []StackFrame {
	if errType == ErrorTypeExhausted {
		return nil
	}
	return captureStack(skip)
}

func captureStack(skip int) []StackFrame {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]StackFrame, 0, n)
	for {
		f, more := frames.Next()
		stack = append(stack, StackFrame{
			Function: f.Function,
			File:     f.File,
			Line:     f.Line,
		})
		if !more {
			break
		}
	}
	return stack
}
