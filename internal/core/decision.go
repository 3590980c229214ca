package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecisionKind is the outcome chosen at the approval gate.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionRevise  DecisionKind = "revise"
)

// Decision is a validated gate decision.
type Decision struct {
	Kind     DecisionKind
	Feedback string
}

// Approve returns an approve decision.
func Approve() Decision { return Decision{Kind: DecisionApprove} }

// Revise returns a revise decision carrying feedback.
func Revise(feedback string) Decision { return Decision{Kind: DecisionRevise, Feedback: feedback} }

// ParseDecision validates a raw resume value. Boolean true approves and a
// non-empty string revises. Every other value is a contract violation.
func ParseDecision(raw any) (Decision, error) {
	switch v := raw.(type) {
	case bool:
		if v {
			return Approve(), nil
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return Revise(s), nil
		}
		return Decision{}, ErrContractViolation(CodeInvalidDecision, "revision feedback must not be empty")
	case Decision:
		return v, v.Validate()
	}
	return Decision{}, ErrContractViolation(CodeInvalidDecision,
		fmt.Sprintf("decision must be true or a feedback string, got %T(%v)", raw, raw))
}

// DecodeDecision parses a JSON resume value.
func DecodeDecision(data []byte) (Decision, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Decision{}, ErrContractViolation(CodeInvalidDecision, "decision is not valid JSON").WithCause(err)
	}
	return ParseDecision(raw)
}

// Validate checks an already-typed decision.
func (d Decision) Validate() error {
	switch d.Kind {
	case DecisionApprove:
		return nil
	case DecisionRevise:
		if strings.TrimSpace(d.Feedback) == "" {
			return ErrContractViolation(CodeInvalidDecision, "revision feedback must not be empty")
		}
		return nil
	}
	return ErrContractViolation(CodeInvalidDecision, fmt.Sprintf("unknown decision kind %q", d.Kind))
}
