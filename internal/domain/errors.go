package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Every failure surfaced to a tool caller wraps exactly one
// of these, directly or through DomainError / APIError.
var (
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrTransport    = fmt.Errorf("transport failure")
	ErrApplication  = fmt.Errorf("upstream reported failure")
	ErrTaskTimeout  = fmt.Errorf("task did not become ready in time")
	ErrTaskFailed   = fmt.Errorf("task failed")
)

// Sentinel errors for the domain layer.
var (
	ErrToolNotFound      = fmt.Errorf("tool not found")
	ErrDuplicate         = fmt.Errorf("duplicate")
	ErrInternal          = fmt.Errorf("internal error")
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrCircuitOpen       = fmt.Errorf("upstream circuit open: %w", ErrTransport)
	ErrInvalidTransition = fmt.Errorf("invalid task state transition")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Register")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// APIError is an application-level failure: the upstream answered with a
// well-formed envelope whose status code is not StatusOK.
type APIError struct {
	Op            string
	Path          string
	StatusCode    int
	StatusMessage string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.Path, e.StatusCode, e.StatusMessage)
}

// Unwrap makes errors.Is(err, ErrApplication) hold for every APIError.
func (e *APIError) Unwrap() error { return ErrApplication }

// Server reports whether the status code is in the upstream's 5xxxx range,
// i.e. an internal upstream problem rather than a problem with the request.
func (e *APIError) Server() bool {
	return e.StatusCode >= 50000 && e.StatusCode < 60000
}

// StatusCodeOf returns the upstream status code carried by err, or 0.
func StatusCodeOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// ErrorCode is a machine-parseable error category for monitoring and results.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeTransport         ErrorCode = "TRANSPORT_ERROR"
	CodeApplication       ErrorCode = "APPLICATION_ERROR"
	CodeTaskTimeout       ErrorCode = "TASK_TIMEOUT"
	CodeTaskFailed        ErrorCode = "TASK_FAILED"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeDuplicate         ErrorCode = "DUPLICATE"
	CodeInternal          ErrorCode = "INTERNAL"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// errorCodeOrder lists sentinels from most to least specific. ErrCircuitOpen
// wraps ErrTransport and ErrTaskFailed frequently wraps an APIError, so the
// order decides which code wins.
var errorCodeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrTaskTimeout, CodeTaskTimeout},
	{ErrTaskFailed, CodeTaskFailed},
	{ErrTransport, CodeTransport},
	{ErrApplication, CodeApplication},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrDuplicate, CodeDuplicate},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrInternal, CodeInternal},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, e := range errorCodeOrder {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}

// FailureCategory is the coarse class of a failed invocation. It is the only
// part of an error that callers are meant to branch on.
type FailureCategory string

const (
	CategoryNone       FailureCategory = ""
	CategoryValidation FailureCategory = "validation"
	CategoryUpstream   FailureCategory = "upstream"
	CategoryTimeout    FailureCategory = "timeout"
	CategoryInternal   FailureCategory = "internal"
)

// CategoryOf maps err onto a FailureCategory.
func CategoryOf(err error) FailureCategory {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrToolNotFound):
		return CategoryValidation
	case errors.Is(err, ErrTaskTimeout):
		return CategoryTimeout
	case errors.Is(err, ErrTransport), errors.Is(err, ErrApplication), errors.Is(err, ErrTaskFailed):
		return CategoryUpstream
	default:
		return CategoryInternal
	}
}

// IsRetryableError reports whether err is a transient error that may succeed
// if the caller invokes the tool again.
func IsRetryableError(err error) bool {
	if errors.Is(err, ErrTaskTimeout) || errors.Is(err, ErrTransport) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Server()
	}
	return false
}
