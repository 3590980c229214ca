package analysis

import (
	"context"
	"strings"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
	"github.com/hugo-lorenzo-mato/casework/internal/service"
)

// PromptRenderer renders the prompts used by the pipeline.
type PromptRenderer interface {
	RenderPlanQueries(p service.PlanQueriesParams) (string, error)
	RenderPlanCategories(p service.PlanCategoriesParams) (string, error)
	RenderCategoryQueries(p service.CategoryQueriesParams) (string, error)
	RenderCategoryAnalyze(p service.CategoryAnalyzeParams) (string, error)
	RenderCategoryGrade(p service.CategoryGradeParams) (string, error)
	RenderCategorySynthesize(p service.CategorySynthesizeParams) (string, error)
	RenderDeposition(p service.DepositionParams) (string, error)
}

var _ PromptRenderer = (*service.PromptRenderer)(nil)

// FeedbackSeparator joins revision feedback in the planning prompt.
const FeedbackSeparator = " /// "

// Planner turns a case background into an ordered category plan.
type Planner struct {
	caller  *Caller
	prompts PromptRenderer
	logger  *logging.Logger
}

// NewPlanner creates a planner.
func NewPlanner(caller *Caller, prompts PromptRenderer, logger *logging.Logger) *Planner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Planner{caller: caller, prompts: prompts, logger: logger}
}

// Plan generates planning queries, searches with them, and asks for the
// category list. The result is a pure function of its inputs, so it is safe
// to call again with a longer feedback history. Provider failures are not
// retried here; they surface as planning errors.
func (p *Planner) Plan(ctx context.Context, background string, opts core.AnalysisOptions, feedback []string) ([]core.AnalysisCategory, error) {
	if strings.TrimSpace(background) == "" {
		return nil, core.ErrValidation(core.CodeEmptyBackground, "background must not be empty")
	}
	structure := opts.AnalysisStructure
	if structure == "" {
		structure = core.DefaultAnalysisStructure
	}

	prompt, err := p.prompts.RenderPlanQueries(service.PlanQueriesParams{
		Background:        background,
		AnalysisStructure: structure,
		NumberOfQueries:   opts.NumberOfQueries,
	})
	if err != nil {
		return nil, err
	}
	var qs queriesOutput
	if err := p.caller.CompleteInto(ctx, core.CompletionRequest{
		Stage:      StagePlanQueries,
		UserPrompt: prompt,
		Schema:     queriesSchema,
	}, &qs); err != nil {
		return nil, planningFailure(ctx, "generating planning queries", err)
	}

	queries := cleanQueries(qs.Queries, opts.NumberOfQueries)
	var evidence string
	if len(queries) > 0 {
		evidence, err = p.caller.Search(ctx, "", queries, opts.SearchLimit, opts.SearchThreshold)
		if err != nil {
			return nil, planningFailure(ctx, "searching planning context", err)
		}
	}
	p.logger.Debug("planning context gathered",
		"queries", len(queries),
		"evidence_bytes", len(evidence),
		"feedback_rounds", len(feedback),
	)

	prompt, err = p.prompts.RenderPlanCategories(service.PlanCategoriesParams{
		Background:        background,
		AnalysisStructure: structure,
		Context:           evidence,
		Feedback:          strings.Join(feedback, FeedbackSeparator),
	})
	if err != nil {
		return nil, err
	}
	var out planOutput
	if err := p.caller.CompleteInto(ctx, core.CompletionRequest{
		Stage:      StagePlan,
		UserPrompt: prompt,
		Schema:     planSchema,
	}, &out); err != nil {
		return nil, planningFailure(ctx, "generating plan", err)
	}

	plan := out.categories()
	for i := range plan {
		plan[i].Content = ""
	}
	if err := core.ValidatePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func planningFailure(ctx context.Context, what string, err error) error {
	if isCancellation(ctx, err) {
		return err
	}
	return core.ErrPlanning(core.CodePlannerFailed, what+": "+err.Error()).WithCause(err)
}
