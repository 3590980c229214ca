package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatPlanning   ErrorCategory = "planning"   // Plan could not be produced
	ErrCatProvider   ErrorCategory = "provider"   // Completion/search call failed
	ErrCatContract   ErrorCategory = "contract"   // Caller or provider broke the contract
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatRateLimit  ErrorCategory = "rate_limit" // API rate limited
	ErrCatState      ErrorCategory = "state"      // Thread in the wrong state
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError with the same category and code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{Category: ErrCatValidation, Code: code, Message: message}
}

// ErrPlanning creates a planning error. The planner never retries these itself.
func ErrPlanning(code, message string) *DomainError {
	return &DomainError{Category: ErrCatPlanning, Code: code, Message: message}
}

// ErrProvider creates a provider error. Transport failures are retryable by default.
func ErrProvider(code, message string, retryable bool) *DomainError {
	return &DomainError{Category: ErrCatProvider, Code: code, Message: message, Retryable: retryable}
}

// ErrContractViolation creates an error for a malformed decision or provider payload.
func ErrContractViolation(code, message string) *DomainError {
	return &DomainError{Category: ErrCatContract, Code: code, Message: message}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{Category: ErrCatTimeout, Code: CodeTimeout, Message: message, Retryable: true}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{Category: ErrCatRateLimit, Code: CodeRateLimited, Message: message, Retryable: true}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{Category: ErrCatState, Code: code, Message: message}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrConflict creates a conflict error.
func ErrConflict(code, message string) *DomainError {
	return &DomainError{Category: ErrCatConflict, Code: code, Message: message}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeNotFound    = "NOT_FOUND"
	CodeTimeout     = "TIMEOUT"
	CodeRateLimited = "RATE_LIMITED"

	// Validation
	CodeEmptyBackground  = "EMPTY_BACKGROUND"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeInvalidThreadID  = "INVALID_THREAD_ID"
	CodeBackgroundTooBig = "BACKGROUND_TOO_LONG"
	CodeInvalidInput     = "INVALID_INPUT"

	// Planning
	CodeEmptyPlan         = "EMPTY_PLAN"
	CodeNoSearchCategory  = "NO_SEARCH_CATEGORY"
	CodeDuplicateCategory = "DUPLICATE_CATEGORY"
	CodePlannerFailed     = "PLANNER_FAILED"

	// Provider
	CodeCompletionFailed = "COMPLETION_FAILED"
	CodeSearchFailed     = "SEARCH_FAILED"
	CodeBadResponse      = "BAD_RESPONSE"

	// Contract
	CodeInvalidDecision = "INVALID_DECISION"
	CodeDuplicateJoin   = "DUPLICATE_JOIN"
	CodeUnknownCategory = "UNKNOWN_CATEGORY"

	// State
	CodeThreadStopped     = "THREAD_STOPPED"
	CodeThreadTerminal    = "THREAD_TERMINAL"
	CodeNotAwaiting       = "NOT_AWAITING_APPROVAL"
	CodeAlreadyRunning    = "ALREADY_RUNNING"
	CodeStateCorrupted    = "STATE_CORRUPTED"
	CodeInvalidState      = "INVALID_STATE"
	CodeLockAcquireFailed = "LOCK_ACQUIRE_FAILED"
)

// MaxBackgroundLength is the maximum accepted case background size.
const MaxBackgroundLength = 200000
