package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := ErrPlanning(CodePlannerFailed, "planner failed").WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}
	if !errors.Is(err, &DomainError{Category: ErrCatPlanning, Code: CodePlannerFailed}) {
		t.Fatalf("expected errors.Is to match category and code")
	}
	if errors.Is(err, &DomainError{Category: ErrCatProvider, Code: CodePlannerFailed}) {
		t.Fatalf("category mismatch should not match")
	}
}

func TestDomainError_Message(t *testing.T) {
	err := ErrContractViolation(CodeInvalidDecision, "bad decision")
	want := "[contract] INVALID_DECISION: bad decision"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := ErrValidation("X", "msg")
	err.WithDetail("k", "v")
	if err.Details == nil || err.Details["k"] != "v" {
		t.Fatalf("expected details to be set")
	}
}

func TestErrorFactories_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  *DomainError
		want bool
	}{
		{"validation", ErrValidation("C", "m"), false},
		{"planning", ErrPlanning("C", "m"), false},
		{"provider retryable", ErrProvider("C", "m", true), true},
		{"provider fatal", ErrProvider("C", "m", false), false},
		{"contract", ErrContractViolation("C", "m"), false},
		{"timeout", ErrTimeout("m"), true},
		{"rate limit", ErrRateLimit("m"), true},
		{"state", ErrState("C", "m"), false},
		{"not found", ErrNotFound("thread", "x"), false},
		{"conflict", ErrConflict("C", "m"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCategory(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrRateLimit("m"))
	if GetCategory(wrapped) != ErrCatRateLimit {
		t.Fatalf("expected rate_limit category through wrapping")
	}
	if GetCategory(errors.New("plain")) != ErrCatInternal {
		t.Fatalf("expected internal category for non-domain error")
	}
	if !IsCategory(ErrNotFound("thread", "t1"), ErrCatNotFound) {
		t.Fatalf("expected category match")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are not retryable")
	}
}
