package analysis

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/testutil"
)

func TestJoinSink_RejectsDuplicatesAndStrangers(t *testing.T) {
	plan := testutil.LiabilityDamagesStrategy()
	sink := NewJoinSink(plan[:2], nil)

	require.NoError(t, sink.Add(core.CategoryTask{Category: plan[0]}))
	requireCode(t, sink.Add(core.CategoryTask{Category: plan[0]}), core.CodeDuplicateJoin)
	requireCode(t, sink.Add(core.CategoryTask{Category: plan[2]}), core.CodeUnknownCategory)

	assert.Len(t, sink.Completed(), 1)
	assert.Equal(t, []string{"Damages"}, sink.Missing())
}

func TestJoinSink_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		plan := make([]core.AnalysisCategory, n)
		for i := range plan {
			plan[i] = core.AnalysisCategory{Name: fmt.Sprintf("cat-%d", i), RequiresSearch: true}
		}

		// Every category arrives at least once, some of them twice, in any order.
		arrivals := append([]core.AnalysisCategory(nil), plan...)
		for _, c := range plan {
			if rapid.Bool().Draw(t, "dup-"+c.Name) {
				arrivals = append(arrivals, c)
			}
		}
		arrivals = rapid.Permutation(arrivals).Draw(t, "arrivals")

		var mu sync.Mutex
		counts := make([]int, 0, n)
		sink := NewJoinSink(plan, func(_ core.CategoryTask, joined int) {
			mu.Lock()
			counts = append(counts, joined)
			mu.Unlock()
		})

		rejected := 0
		for _, c := range arrivals {
			if err := sink.Add(core.CategoryTask{Category: c}); err != nil {
				rejected++
			}
		}

		if got := len(sink.Completed()); got != n {
			t.Fatalf("completed %d categories, want %d", got, n)
		}
		if rejected != len(arrivals)-n {
			t.Fatalf("rejected %d arrivals, want %d", rejected, len(arrivals)-n)
		}
		if len(sink.Missing()) != 0 {
			t.Fatalf("missing %v", sink.Missing())
		}
		for i, c := range counts {
			if c != i+1 {
				t.Fatalf("join counts %v are not 1..n", counts)
			}
		}
	})
}

func TestOrderByPlan_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 10).Draw(t, "n")
		plan := make([]core.AnalysisCategory, n)
		for i := range plan {
			plan[i] = core.AnalysisCategory{Name: fmt.Sprintf("cat-%d", i)}
		}
		var completed []core.AnalysisCategory
		for _, c := range plan {
			if rapid.Bool().Draw(t, "done-"+c.Name) {
				c.Content = "content of " + c.Name
				completed = append(completed, c)
			}
		}
		completed = rapid.Permutation(completed).Draw(t, "completed")

		ordered := OrderByPlan(plan, completed)
		if len(ordered) != len(completed) {
			t.Fatalf("ordered %d, want %d", len(ordered), len(completed))
		}
		last := -1
		for _, c := range ordered {
			var idx int
			if _, err := fmt.Sscanf(c.Name, "cat-%d", &idx); err != nil {
				t.Fatalf("bad name %q", c.Name)
			}
			if idx <= last {
				t.Fatalf("order %v is not plan order", names(ordered))
			}
			if c.Content != "content of "+c.Name {
				t.Fatalf("content lost for %s", c.Name)
			}
			last = idx
		}
	})
}

func TestOrderByPlan_DropsUnplannedCategories(t *testing.T) {
	plan := testutil.LiabilityDamagesStrategy()
	completed := []core.AnalysisCategory{{Name: "Strategy"}, {Name: "Rogue"}, {Name: "Liability"}}
	assert.Equal(t, []string{"Liability", "Strategy"}, names(OrderByPlan(plan, completed)))
}

func TestCoordinator_Gather_DegradedSiblingDoesNotAbort(t *testing.T) {
	completion := happyScript().On(StageAnalyze, func(_ context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
		if req.Category == "Damages" {
			return nil, testutil.ErrTest
		}
		return testutil.Text(req.Category + " analysis"), nil
	})
	caller := newTestCaller(completion, testutil.NewStubSearch("evidence"))
	c := NewCoordinator(caller, newPrompts(t), 0, nil)
	w := NewWorker(caller, newPrompts(t), testBackground, testOptions(), nil)

	var mu sync.Mutex
	var joined []string
	gathered, err := c.Gather(context.Background(), w, testutil.LiabilityDamagesStrategy(), func(task core.CategoryTask, _ int) {
		mu.Lock()
		joined = append(joined, task.Category.Name)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Len(t, gathered, 2)
	byName := map[string]core.AnalysisCategory{}
	for _, g := range gathered {
		byName[g.Name] = g
	}
	assert.False(t, byName["Liability"].Degraded)
	assert.Equal(t, "Liability analysis", byName["Liability"].Content)
	assert.True(t, byName["Damages"].Degraded)
	assert.ElementsMatch(t, []string{"Liability", "Damages"}, joined)
	assert.Zero(t, completion.CallsFor(StageAnalyze, "Strategy"), "non-search categories are not gathered")
}

func TestCoordinator_Gather_RespectsParallelLimit(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	completion := happyScript().On(StageAnalyze, func(_ context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
		return testutil.Text("analysis"), nil
	})
	plan := make([]core.AnalysisCategory, 6)
	for i := range plan {
		plan[i] = core.AnalysisCategory{Name: fmt.Sprintf("Issue %d", i), RequiresSearch: true}
	}
	caller := newTestCaller(completion, testutil.NewStubSearch("evidence"))
	c := NewCoordinator(caller, newPrompts(t), 2, nil)

	gathered, err := c.Gather(context.Background(), NewWorker(caller, newPrompts(t), testBackground, testOptions(), nil), plan, nil)
	require.NoError(t, err)
	assert.Len(t, gathered, 6)
	assert.LessOrEqual(t, peak, 2)
}

func TestCoordinator_Gather_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	completion := happyScript().On(StageAnalyze, func(ctx context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
		if req.Category == "Damages" {
			cancel()
		}
		return testutil.BlockUntilCancelled(ctx, req)
	})
	caller := newTestCaller(completion, testutil.NewStubSearch("evidence"))
	c := NewCoordinator(caller, newPrompts(t), 0, nil)

	_, err := c.Gather(ctx, NewWorker(caller, newPrompts(t), testBackground, testOptions(), nil), testutil.LiabilityDamagesStrategy(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCoordinator_SynthesizeRemaining(t *testing.T) {
	completion := happyScript()
	caller := newTestCaller(completion, testutil.NewStubSearch(""))
	c := NewCoordinator(caller, newPrompts(t), 0, nil)

	plan := testutil.LiabilityDamagesStrategy()
	gathered := []core.AnalysisCategory{
		{Name: "Damages", RequiresSearch: true, Content: "Lost profits of 2M."},
		{Name: "Liability", RequiresSearch: true, Content: "Widget breached the warranty."},
	}
	out, err := c.SynthesizeRemaining(context.Background(), testBackground, plan, gathered, nil)
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "Strategy", out[0].Name)
	assert.Equal(t, "Strategy synthesis", out[0].Content)

	calls := completion.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].UserPrompt,
		"### Liability\n\nWidget breached the warranty.\n\n### Damages\n\nLost profits of 2M.\n")
}

func TestCoordinator_SynthesizeRemaining_Degrades(t *testing.T) {
	completion := happyScript().OnError(StageSynthesize, testutil.ErrTest)
	c := NewCoordinator(newTestCaller(completion, testutil.NewStubSearch("")), newPrompts(t), 0, nil)

	out, err := c.SynthesizeRemaining(context.Background(), testBackground, testutil.LiabilityDamagesStrategy(), nil, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Degraded)
	assert.Equal(t, "_Analysis unavailable: test error._", out[0].Content)
}

func TestCoordinator_SynthesizeRemaining_NothingToDo(t *testing.T) {
	completion := happyScript()
	c := NewCoordinator(newTestCaller(completion, testutil.NewStubSearch("")), newPrompts(t), 0, nil)

	plan := testutil.LiabilityDamagesStrategy()[:2]
	out, err := c.SynthesizeRemaining(context.Background(), testBackground, plan, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, completion.Calls())
}
