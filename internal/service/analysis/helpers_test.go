package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/casework/internal/adapters/checkpoint"
	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/events"
	"github.com/hugo-lorenzo-mato/casework/internal/service"
	"github.com/hugo-lorenzo-mato/casework/internal/telemetry"
	"github.com/hugo-lorenzo-mato/casework/internal/testutil"
)

// testTimeout bounds waits on background runs.
const testTimeout = 5 * time.Second

const testBackground = "Acme Corp sued Widget Ltd after a shipment of defective valves caused a plant shutdown in March."

func fastRetry() *service.RetryPolicy {
	return service.NewRetryPolicy(
		service.WithMaxAttempts(2),
		service.WithBaseDelay(time.Millisecond),
		service.WithMaxDelay(time.Millisecond),
		service.WithJitter(0),
	)
}

func newTestCaller(completion core.CompletionProvider, search core.SearchProvider) *Caller {
	return NewCaller(completion, search, CallerConfig{Model: "test-model", PlannerModel: "test-planner"},
		WithRetryPolicy(fastRetry()))
}

func newPrompts(t *testing.T) *service.PromptRenderer {
	t.Helper()
	r, err := service.NewPromptRenderer()
	require.NoError(t, err)
	return r
}

func testOptions() core.AnalysisOptions {
	opts := core.DefaultAnalysisOptions()
	opts.MaxWitnesses = 2
	return opts
}

// happyScript answers every stage with a well formed response: the grader
// passes on the first iteration.
func happyScript() *testutil.ScriptedCompletion {
	return testutil.NewScriptedCompletion().
		OnObject(StagePlanQueries, testutil.Queries("valve defect", "plant shutdown")).
		OnObject(StagePlan, testutil.Plan(testutil.LiabilityDamagesStrategy()...)).
		OnObject(StageCategoryQueries, testutil.Queries("inspection records", "purchase order")).
		On(StageAnalyze, func(_ context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
			return testutil.Text(req.Category + " analysis"), nil
		}).
		OnObject(StageGrade, testutil.Grade("pass")).
		On(StageSynthesize, func(_ context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
			return testutil.Text(req.Category + " synthesis"), nil
		}).
		OnObject(StageDeposition, map[string]interface{}{
			"witness_questions": []interface{}{
				map[string]interface{}{
					"witness_name": "Jane Doe",
					"witness_role": "Plant manager",
					"questions": []interface{}{
						map[string]interface{}{
							"question":       "When did the valves fail?",
							"purpose":        "Fix the timeline",
							"expected_areas": []interface{}{"timeline", "maintenance"},
						},
					},
				},
			},
		})
}

type engineFixture struct {
	engine     *Engine
	completion *testutil.ScriptedCompletion
	search     *testutil.StubSearch
	store      *checkpoint.MemoryStore
	keeper     *service.CheckpointKeeper
	bus        *events.EventBus
	metrics    *telemetry.Metrics
}

func newEngineFixture(t *testing.T, completion *testutil.ScriptedCompletion) *engineFixture {
	t.Helper()
	search := testutil.NewStubSearch("Document 1: inspection report dated 3 March.")
	store := checkpoint.NewMemoryStore()
	keeper := service.NewCheckpointKeeper(store, nil, nil)
	bus := events.New(64)
	metrics := telemetry.NewMetrics()

	e, err := NewEngine(Config{Defaults: testOptions()}, Deps{
		Caller:  newTestCaller(completion, search),
		Prompts: newPrompts(t),
		Keeper:  keeper,
		Bus:     bus,
		Metrics: metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = e.Shutdown(ctx)
		bus.Close()
	})
	return &engineFixture{
		engine:     e,
		completion: completion,
		search:     search,
		store:      store,
		keeper:     keeper,
		bus:        bus,
		metrics:    metrics,
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var de *core.DomainError
	require.True(t, errors.As(err, &de), "expected a DomainError, got %T: %v", err, err)
	require.Equal(t, code, de.Code, "error: %v", err)
}
