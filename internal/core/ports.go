package core

import (
	"context"
	"time"
)

// =============================================================================
// Completion Port
// =============================================================================

// OutputSchema requests structured output. Properties is a JSON Schema
// object describing the expected payload.
type OutputSchema struct {
	Name       string
	Properties map[string]interface{}
}

// CompletionRequest is a single model invocation.
type CompletionRequest struct {
	// Stage names the pipeline step issuing the call. Category is set for
	// calls made on behalf of one analysis category.
	Stage        string
	Category     string
	SystemPrompt string
	UserPrompt   string
	Model        string
	Schema       *OutputSchema
	Temperature  float64
}

// CompletionResult is the model output. Structured is set when a schema
// was requested and the provider returned a JSON object.
type CompletionResult struct {
	Text       string
	Structured map[string]interface{}
	TokensIn   int
	TokensOut  int
	Model      string
	Duration   time.Duration
}

// CompletionProvider produces text or structured output from a prompt.
// Implementations must honor ctx cancellation.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// =============================================================================
// Search Port
// =============================================================================

// SearchProvider runs queries against the case document store and returns
// formatted evidence text. An empty string means nothing relevant was found.
type SearchProvider interface {
	Search(ctx context.Context, queries []string, limit int, threshold float64) (string, error)
}

// =============================================================================
// Checkpoint Port
// =============================================================================

// CheckpointStore persists one checkpoint per thread.
type CheckpointStore interface {
	// Save replaces the thread's checkpoint atomically.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load returns the thread's checkpoint, or a not-found DomainError.
	Load(ctx context.Context, id ThreadID) (*Checkpoint, error)

	// Delete removes the thread's checkpoint. Deleting a missing thread is not an error.
	Delete(ctx context.Context, id ThreadID) error

	// List returns summaries ordered by most recent update first.
	List(ctx context.Context) ([]ThreadSummary, error)

	Close() error
}

// ThreadLocker serializes checkpoint writes for one thread across processes.
type ThreadLocker interface {
	Lock(ctx context.Context, id ThreadID) (unlock func(), err error)
}
