package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

func TestScriptedCompletion_DispatchesByStage(t *testing.T) {
	s := NewScriptedCompletion().
		OnText("analyze", "analysis").
		OnObject("grade", Grade("pass"))

	res, err := s.Complete(context.Background(), core.CompletionRequest{Stage: "analyze", Category: "Liability"})
	AssertNoError(t, err)
	AssertEqual(t, res.Text, "analysis")

	res, err = s.Complete(context.Background(), core.CompletionRequest{Stage: "grade", Category: "Liability"})
	AssertNoError(t, err)
	AssertEqual(t, res.Structured["grade"], interface{}("pass"))

	AssertEqual(t, s.CallCount("analyze"), 1)
	AssertEqual(t, s.CallsFor("grade", "Liability"), 1)
	AssertEqual(t, s.CallsFor("grade", "Damages"), 0)
}

func TestScriptedCompletion_UnscriptedStageFails(t *testing.T) {
	s := NewScriptedCompletion()
	_, err := s.Complete(context.Background(), core.CompletionRequest{Stage: "plan"})
	AssertError(t, err)

	s.Otherwise(func(context.Context, core.CompletionRequest) (*core.CompletionResult, error) {
		return Text("fallback"), nil
	})
	res, err := s.Complete(context.Background(), core.CompletionRequest{Stage: "plan"})
	AssertNoError(t, err)
	AssertEqual(t, res.Text, "fallback")
}

func TestScriptedCompletion_HonorsCancellation(t *testing.T) {
	s := NewScriptedCompletion().On("analyze", BlockUntilCancelled)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Complete(ctx, core.CompletionRequest{Stage: "analyze"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestStubSearch(t *testing.T) {
	s := NewStubSearch("Document 1: memo")

	got, err := s.Search(context.Background(), []string{"supply contract", "delivery"}, 10, 0.7)
	AssertNoError(t, err)
	AssertEqual(t, got, "Document 1: memo")

	s.WithFunc(func(context.Context, []string) (string, error) { return "", ErrTest })
	_, err = s.Search(context.Background(), []string{"invoice"}, 10, 0.7)
	AssertError(t, err)

	AssertEqual(t, s.CallCount(), 2)
	AssertEqual(t, s.CallsMatching("contract"), 1)
	AssertLen(t, s.Calls()[1], 1)
}

func TestPlanObject(t *testing.T) {
	obj := Plan(LiabilityDamagesStrategy()...)
	items, ok := obj["categories"].([]interface{})
	if !ok || len(items) != 3 {
		t.Fatalf("categories = %#v", obj["categories"])
	}
	first := items[0].(map[string]interface{})
	AssertEqual(t, first["name"], interface{}("Liability"))
	AssertEqual(t, first["requires_search"], interface{}(true))
}
