package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
	"github.com/hugo-lorenzo-mato/casework/internal/service"
)

type workerState int

const (
	stateGenerateQueries workerState = iota
	stateSearch
	stateAnalyze
	stateGrade
	stateComplete
)

func (s workerState) String() string {
	switch s {
	case stateGenerateQueries:
		return "generate_queries"
	case stateSearch:
		return "search"
	case stateAnalyze:
		return "analyze"
	case stateGrade:
		return "grade"
	case stateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Worker gathers and grades evidence for one category at a time. A worker
// holds no per-category state between runs, so one value serves every
// category of a thread concurrently.
type Worker struct {
	caller     *Caller
	prompts    PromptRenderer
	background string
	opts       core.AnalysisOptions
	logger     *logging.Logger
}

// NewWorker creates a worker for one thread.
func NewWorker(caller *Caller, prompts PromptRenderer, background string, opts core.AnalysisOptions, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		caller:     caller,
		prompts:    prompts,
		background: background,
		opts:       opts,
		logger:     logger,
	}
}

// Run drives one category to completion. The loop runs at most
// MaxSearchDepth searches: it ends when the grader passes the analysis or
// the iteration budget is spent. A provider failure that outlasts retries
// completes the category as degraded; only cancellation is returned as an
// error.
func (w *Worker) Run(ctx context.Context, category core.AnalysisCategory) (core.CategoryTask, error) {
	task := core.CategoryTask{Category: category}
	logger := w.logger.WithCategory(category.Name)
	state := stateGenerateQueries

	for {
		if err := ctx.Err(); err != nil {
			return task, err
		}
		logger.Debug("category worker step", "state", state.String(), "iteration", task.SearchIterations)

		switch state {
		case stateGenerateQueries:
			queries, err := w.generateQueries(ctx, task.Category)
			if err != nil {
				return w.degrade(ctx, task, state, err)
			}
			task.PendingQueries = queries
			state = stateSearch

		case stateSearch:
			evidence, err := w.caller.Search(ctx, task.Category.Name, task.PendingQueries, w.opts.SearchLimit, w.opts.SearchThreshold)
			if err != nil {
				return w.degrade(ctx, task, state, err)
			}
			// Evidence is replaced, not accumulated; prior findings live on
			// in the analysis content.
			task.EvidenceText = evidence
			task.SearchIterations++
			state = stateAnalyze

		case stateAnalyze:
			content, err := w.analyze(ctx, task)
			if err != nil {
				return w.degrade(ctx, task, state, err)
			}
			task.Category.Content = content
			state = stateGrade

		case stateGrade:
			grade, err := w.grade(ctx, task.Category)
			if err != nil {
				return w.degrade(ctx, task, state, err)
			}
			if grade.passed() || task.SearchIterations >= w.opts.MaxSearchDepth {
				state = stateComplete
				continue
			}
			// Keep searching with the previous queries if the grader offered none.
			if follow := cleanQueries(grade.FollowUpQueries, w.opts.NumberOfQueries); len(follow) > 0 {
				task.PendingQueries = follow
			}
			state = stateSearch

		case stateComplete:
			logger.Info("category complete", "iterations", task.SearchIterations)
			return task, nil
		}
	}
}

func (w *Worker) generateQueries(ctx context.Context, category core.AnalysisCategory) ([]string, error) {
	prompt, err := w.prompts.RenderCategoryQueries(service.CategoryQueriesParams{
		Background:      w.background,
		Category:        category,
		NumberOfQueries: w.opts.NumberOfQueries,
	})
	if err != nil {
		return nil, err
	}
	var out queriesOutput
	if err := w.caller.CompleteInto(ctx, core.CompletionRequest{
		Stage:      StageCategoryQueries,
		Category:   category.Name,
		UserPrompt: prompt,
		Schema:     queriesSchema,
	}, &out); err != nil {
		return nil, err
	}
	queries := cleanQueries(out.Queries, w.opts.NumberOfQueries)
	if len(queries) == 0 {
		queries = []string{strings.TrimSpace(category.Name + " " + category.Description)}
	}
	return queries, nil
}

func (w *Worker) analyze(ctx context.Context, task core.CategoryTask) (string, error) {
	prompt, err := w.prompts.RenderCategoryAnalyze(service.CategoryAnalyzeParams{
		Background: w.background,
		Category:   task.Category,
		Evidence:   task.EvidenceText,
	})
	if err != nil {
		return "", err
	}
	text, err := w.caller.Complete(ctx, core.CompletionRequest{
		Stage:      StageAnalyze,
		Category:   task.Category.Name,
		UserPrompt: prompt,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (w *Worker) grade(ctx context.Context, category core.AnalysisCategory) (gradeOutput, error) {
	prompt, err := w.prompts.RenderCategoryGrade(service.CategoryGradeParams{
		Background:      w.background,
		Category:        category,
		NumberOfQueries: w.opts.NumberOfQueries,
	})
	if err != nil {
		return gradeOutput{}, err
	}
	var out gradeOutput
	err = w.caller.CompleteInto(ctx, core.CompletionRequest{
		Stage:      StageGrade,
		Category:   category.Name,
		UserPrompt: prompt,
		Schema:     gradeSchema,
	}, &out)
	return out, err
}

func (w *Worker) degrade(ctx context.Context, task core.CategoryTask, at workerState, err error) (core.CategoryTask, error) {
	if isCancellation(ctx, err) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return task, ctxErr
		}
		return task, err
	}
	w.logger.WithCategory(task.Category.Name).Warn("category degraded",
		"state", at.String(),
		"iteration", task.SearchIterations,
		"error", err,
	)
	task.Category.Content = DegradedContent(task.Category.Content, err)
	task.Category.Degraded = true
	return task, nil
}

// DegradedContent marks content as incomplete after a provider failure.
func DegradedContent(existing string, cause error) string {
	notice := fmt.Sprintf("_Analysis unavailable: %s._", reason(cause))
	if strings.TrimSpace(existing) == "" {
		return notice
	}
	return existing + "\n\n" + notice
}

func reason(err error) string {
	var msg string
	if de := asDomainError(err); de != nil {
		msg = de.Message
	} else {
		msg = err.Error()
	}
	return strings.TrimSuffix(strings.TrimSpace(msg), ".")
}
