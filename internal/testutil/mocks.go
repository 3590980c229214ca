package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// CompletionFunc answers one completion request.
type CompletionFunc func(ctx context.Context, req core.CompletionRequest) (*core.CompletionResult, error)

// ScriptedCompletion is a CompletionProvider whose answers are scripted per
// stage. Unscripted stages fail.
type ScriptedCompletion struct {
	mu       sync.Mutex
	handlers map[string]CompletionFunc
	fallback CompletionFunc
	calls    []core.CompletionRequest
}

// NewScriptedCompletion creates an empty script.
func NewScriptedCompletion() *ScriptedCompletion {
	return &ScriptedCompletion{handlers: make(map[string]CompletionFunc)}
}

// Name returns the provider name.
func (s *ScriptedCompletion) Name() string { return "scripted" }

// On scripts a stage.
func (s *ScriptedCompletion) On(stage string, fn CompletionFunc) *ScriptedCompletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[stage] = fn
	return s
}

// OnText scripts a stage to return fixed text.
func (s *ScriptedCompletion) OnText(stage, text string) *ScriptedCompletion {
	return s.On(stage, func(context.Context, core.CompletionRequest) (*core.CompletionResult, error) {
		return Text(text), nil
	})
}

// OnObject scripts a stage to return a fixed structured object.
func (s *ScriptedCompletion) OnObject(stage string, obj map[string]interface{}) *ScriptedCompletion {
	return s.On(stage, func(context.Context, core.CompletionRequest) (*core.CompletionResult, error) {
		return Object(obj), nil
	})
}

// OnError scripts a stage to fail.
func (s *ScriptedCompletion) OnError(stage string, err error) *ScriptedCompletion {
	return s.On(stage, func(context.Context, core.CompletionRequest) (*core.CompletionResult, error) {
		return nil, err
	})
}

// Otherwise answers every unscripted stage.
func (s *ScriptedCompletion) Otherwise(fn CompletionFunc) *ScriptedCompletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = fn
	return s
}

// Complete records the request and dispatches it to the stage script.
func (s *ScriptedCompletion) Complete(ctx context.Context, req core.CompletionRequest) (*core.CompletionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	fn, ok := s.handlers[req.Stage]
	if !ok {
		fn = s.fallback
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("no script for stage %q", req.Stage)
	}
	return fn(ctx, req)
}

// Calls returns recorded requests.
func (s *ScriptedCompletion) Calls() []core.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.CompletionRequest(nil), s.calls...)
}

// CallCount returns the number of calls for a stage.
func (s *ScriptedCompletion) CallCount(stage string) int {
	return s.CallsFor(stage, "")
}

// CallsFor counts calls for a stage, limited to one category when
// category is not empty.
func (s *ScriptedCompletion) CallsFor(stage, category string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Stage == stage && (category == "" || c.Category == category) {
			n++
		}
	}
	return n
}

// Text builds a text result.
func Text(text string) *core.CompletionResult {
	return &core.CompletionResult{
		Text:      text,
		TokensIn:  100,
		TokensOut: len(text) / 4,
		Duration:  time.Millisecond,
	}
}

// Object builds a structured result.
func Object(obj map[string]interface{}) *core.CompletionResult {
	return &core.CompletionResult{
		Structured: obj,
		TokensIn:   100,
		TokensOut:  50,
		Duration:   time.Millisecond,
	}
}

// Queries builds a {"queries": [...]} object.
func Queries(qs ...string) map[string]interface{} {
	items := make([]interface{}, len(qs))
	for i, q := range qs {
		items[i] = q
	}
	return map[string]interface{}{"queries": items}
}

// Grade builds a grader object.
func Grade(grade string, followUps ...string) map[string]interface{} {
	items := make([]interface{}, len(followUps))
	for i, q := range followUps {
		items[i] = q
	}
	return map[string]interface{}{"grade": grade, "follow_up_queries": items}
}

// Plan builds a planner object from categories.
func Plan(categories ...core.AnalysisCategory) map[string]interface{} {
	items := make([]interface{}, len(categories))
	for i, c := range categories {
		items[i] = map[string]interface{}{
			"name":            c.Name,
			"description":     c.Description,
			"requires_search": c.RequiresSearch,
			"content":         "",
		}
	}
	return map[string]interface{}{"categories": items}
}

// BlockUntilCancelled is a CompletionFunc that only returns once ctx ends.
func BlockUntilCancelled(ctx context.Context, _ core.CompletionRequest) (*core.CompletionResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// SearchFunc answers one search call.
type SearchFunc func(ctx context.Context, queries []string) (string, error)

// StubSearch is a SearchProvider returning scripted evidence.
type StubSearch struct {
	mu    sync.Mutex
	fn    SearchFunc
	calls [][]string
}

// NewStubSearch returns evidence for every call.
func NewStubSearch(evidence string) *StubSearch {
	return &StubSearch{fn: func(context.Context, []string) (string, error) {
		return evidence, nil
	}}
}

// WithFunc replaces the answer function.
func (s *StubSearch) WithFunc(fn SearchFunc) *StubSearch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	return s
}

// Search records the queries and answers them.
func (s *StubSearch) Search(ctx context.Context, queries []string, _ int, _ float64) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), queries...))
	fn := s.fn
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fn(ctx, queries)
}

// Calls returns the recorded query lists.
func (s *StubSearch) Calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.calls...)
}

// CallCount returns the number of search calls.
func (s *StubSearch) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// CallsMatching counts calls with a query containing substr.
func (s *StubSearch) CallsMatching(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, qs := range s.calls {
		for _, q := range qs {
			if strings.Contains(q, substr) {
				n++
				break
			}
		}
	}
	return n
}

var (
	_ core.CompletionProvider = (*ScriptedCompletion)(nil)
	_ core.SearchProvider     = (*StubSearch)(nil)
)
