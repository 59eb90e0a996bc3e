// Package errs provides structured error types and helpers for object pools.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a pool error category.
type Code string

const (
	// CodeConfiguration indicates an invalid capacity relationship or a repeated configure.
	CodeConfiguration Code = "configuration"
	// CodeNotInitialized indicates the pool was used before it was configured.
	CodeNotInitialized Code = "not_initialized"
	// CodeCreationFailure indicates the create callback failed or produced an empty instance.
	CodeCreationFailure Code = "creation_failure"
	// CodeDoubleRelease indicates a release of an instance that is not tracked as active.
	CodeDoubleRelease Code = "double_release"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates the pool is shut down and cannot service requests.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced by pool components.
type E struct {
	Pool     string
	Code     Code
	Message  string
	Instance string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the pool and error code.
func New(pool string, code Code, opts ...Option) *E {
	e := &E{
		Pool:     strings.TrimSpace(pool),
		Code:     code,
		Message:  "",
		Instance: "",
		cause:    nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithInstance records a printable description of the instance involved.
func WithInstance(desc string) Option {
	trimmed := strings.TrimSpace(desc)
	return func(e *E) {
		e.Instance = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	pool := strings.TrimSpace(e.Pool)
	if pool == "" {
		pool = "unknown"
	}
	parts = append(parts, "pool="+pool)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Instance != "" {
		parts = append(parts, "instance="+strconv.Quote(e.Instance))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsCode reports whether any error in err's tree is an envelope with the given code.
func IsCode(err error, code Code) bool {
	switch x := err.(type) {
	case nil:
		return false
	case *E:
		if x == nil {
			return false
		}
		if x.Code == code {
			return true
		}
		return IsCode(x.cause, code)
	case interface{ Unwrap() []error }:
		for _, inner := range x.Unwrap() {
			if IsCode(inner, code) {
				return true
			}
		}
		return false
	default:
		return IsCode(errors.Unwrap(err), code)
	}
}

// NotInitialized returns a standardized error for use before configuration.
func NotInitialized(pool string) *E {
	return New(pool, CodeNotInitialized, WithMessage("pool must be configured before use"))
}
