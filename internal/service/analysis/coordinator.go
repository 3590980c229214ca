package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
	"github.com/hugo-lorenzo-mato/casework/internal/service"
)

// JoinSink collects finished categories. It is the only writer of the
// completed list and rejects names it was not told to expect, and names it
// has already seen.
type JoinSink struct {
	mu        sync.Mutex
	expected  map[string]bool
	seen      map[string]bool
	completed []core.AnalysisCategory
	onJoin    JoinFunc
}

// JoinFunc observes each accepted category with the running count.
type JoinFunc func(task core.CategoryTask, joined int)

// NewJoinSink creates a sink expecting exactly the given categories.
func NewJoinSink(expected []core.AnalysisCategory, onJoin JoinFunc) *JoinSink {
	s := &JoinSink{
		expected: make(map[string]bool, len(expected)),
		seen:     make(map[string]bool, len(expected)),
		onJoin:   onJoin,
	}
	for _, c := range expected {
		s.expected[c.Name] = true
	}
	return s
}

// Add records a finished category.
func (s *JoinSink) Add(task core.CategoryTask) error {
	name := task.Category.Name

	s.mu.Lock()
	if !s.expected[name] {
		s.mu.Unlock()
		return core.ErrContractViolation(core.CodeUnknownCategory,
			fmt.Sprintf("category %q is not part of this join", name))
	}
	if s.seen[name] {
		s.mu.Unlock()
		return core.ErrContractViolation(core.CodeDuplicateJoin,
			fmt.Sprintf("category %q already joined", name))
	}
	s.seen[name] = true
	s.completed = append(s.completed, task.Category)
	joined := len(s.completed)
	s.mu.Unlock()

	if s.onJoin != nil {
		s.onJoin(task, joined)
	}
	return nil
}

// Completed returns the joined categories in arrival order.
func (s *JoinSink) Completed() []core.AnalysisCategory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AnalysisCategory(nil), s.completed...)
}

// Missing returns the expected names that have not joined, sorted.
func (s *JoinSink) Missing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.expected {
		if !s.seen[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Coordinator fans categories out to workers and joins them back.
type Coordinator struct {
	caller      *Caller
	prompts     PromptRenderer
	maxParallel int
	logger      *logging.Logger
}

// NewCoordinator creates a coordinator. maxParallel <= 0 means one worker
// per category.
func NewCoordinator(caller *Caller, prompts PromptRenderer, maxParallel int, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{caller: caller, prompts: prompts, maxParallel: maxParallel, logger: logger}
}

// Gather runs one worker per search category and waits for all of them.
// A degraded category never stops its siblings. The returned error is
// either the context error or a join contract violation.
func (c *Coordinator) Gather(ctx context.Context, w *Worker, plan []core.AnalysisCategory, onJoin JoinFunc) ([]core.AnalysisCategory, error) {
	var targets []core.AnalysisCategory
	for _, cat := range plan {
		if cat.RequiresSearch {
			targets = append(targets, cat)
		}
	}
	sink := NewJoinSink(targets, onJoin)

	g, gctx := errgroup.WithContext(ctx)
	if c.maxParallel > 0 {
		g.SetLimit(c.maxParallel)
	}
	for _, cat := range targets {
		g.Go(func() error {
			task, err := w.Run(gctx, cat)
			if err != nil {
				return err
			}
			return sink.Add(task)
		})
	}
	if err := g.Wait(); err != nil {
		return sink.Completed(), joinError(ctx, err)
	}

	if missing := sink.Missing(); len(missing) > 0 {
		return sink.Completed(), core.ErrContractViolation(core.CodeUnknownCategory,
			"categories never joined: "+strings.Join(missing, ", "))
	}
	return sink.Completed(), nil
}

// SynthesizeRemaining writes the categories that need no search, using the
// gathered categories as shared read-only context. Failures degrade the
// affected category.
func (c *Coordinator) SynthesizeRemaining(ctx context.Context, background string, plan, gathered []core.AnalysisCategory, onJoin JoinFunc) ([]core.AnalysisCategory, error) {
	var targets []core.AnalysisCategory
	for _, cat := range plan {
		if !cat.RequiresSearch {
			targets = append(targets, cat)
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	sharedContext := FormatCategories(OrderByPlan(plan, gathered))
	sink := NewJoinSink(targets, onJoin)

	g, gctx := errgroup.WithContext(ctx)
	if c.maxParallel > 0 {
		g.SetLimit(c.maxParallel)
	}
	for _, cat := range targets {
		g.Go(func() error {
			task, err := c.synthesizeOne(gctx, background, cat, sharedContext)
			if err != nil {
				return err
			}
			return sink.Add(task)
		})
	}
	if err := g.Wait(); err != nil {
		return sink.Completed(), joinError(ctx, err)
	}
	return sink.Completed(), nil
}

func (c *Coordinator) synthesizeOne(ctx context.Context, background string, cat core.AnalysisCategory, sharedContext string) (core.CategoryTask, error) {
	task := core.CategoryTask{Category: cat}

	prompt, err := c.prompts.RenderCategorySynthesize(service.CategorySynthesizeParams{
		Background: background,
		Category:   cat,
		Context:    sharedContext,
	})
	if err != nil {
		return task, err
	}
	text, err := c.caller.Complete(ctx, core.CompletionRequest{
		Stage:      StageSynthesize,
		Category:   cat.Name,
		UserPrompt: prompt,
	})
	if err != nil {
		if isCancellation(ctx, err) {
			return task, err
		}
		c.logger.WithCategory(cat.Name).Warn("synthesized category degraded", "error", err)
		task.Category.Content = DegradedContent("", err)
		task.Category.Degraded = true
		return task, nil
	}
	task.Category.Content = strings.TrimSpace(text)
	return task, nil
}

// joinError prefers the caller's context error over whatever a worker saw
// when the group context was cancelled.
func joinError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
