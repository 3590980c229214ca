package analysis

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
	"github.com/hugo-lorenzo-mato/casework/internal/service"
	"github.com/hugo-lorenzo-mato/casework/internal/telemetry"
)

// Call stages, used for model selection, metrics and spans.
const (
	StagePlanQueries     = "plan_queries"
	StagePlan            = "plan"
	StageCategoryQueries = "category_queries"
	StageAnalyze         = "analyze"
	StageGrade           = "grade"
	StageSynthesize      = "synthesize"
	StageDeposition      = "deposition"
)

// CallerConfig configures provider calls.
type CallerConfig struct {
	Model        string
	PlannerModel string
	Temperature  float64
	// CallTimeout bounds a single attempt. Zero disables the bound.
	CallTimeout time.Duration
}

// Caller wraps the completion and search providers with rate limiting,
// bounded retries, per-call timeouts, spans and metrics. Every stage of the
// pipeline talks to the providers through it.
type Caller struct {
	completion core.CompletionProvider
	search     core.SearchProvider
	retry      *service.RetryPolicy
	limiter    *service.RateLimiter
	cfg        CallerConfig
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	logger     *logging.Logger
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p *service.RetryPolicy) CallerOption {
	return func(c *Caller) { c.retry = p }
}

// WithRateLimiter throttles completion calls.
func WithRateLimiter(l *service.RateLimiter) CallerOption {
	return func(c *Caller) { c.limiter = l }
}

// WithMetrics records call outcomes.
func WithMetrics(m *telemetry.Metrics) CallerOption {
	return func(c *Caller) { c.metrics = m }
}

// WithCallerLogger sets the logger.
func WithCallerLogger(l *logging.Logger) CallerOption {
	return func(c *Caller) { c.logger = l }
}

// NewCaller creates a Caller.
func NewCaller(completion core.CompletionProvider, search core.SearchProvider, cfg CallerConfig, opts ...CallerOption) *Caller {
	c := &Caller{
		completion: completion,
		search:     search,
		retry:      service.DefaultRetryPolicy(),
		cfg:        cfg,
		tracer:     telemetry.Tracer(),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Caller) modelFor(stage string) string {
	switch stage {
	case StagePlanQueries, StagePlan, StageGrade:
		if c.cfg.PlannerModel != "" {
			return c.cfg.PlannerModel
		}
	}
	return c.cfg.Model
}

// Complete runs a text completion.
func (c *Caller) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	res, err := c.complete(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// CompleteInto runs a structured completion and decodes the object into out.
// A response that does not decode is retried like a transport failure.
func (c *Caller) CompleteInto(ctx context.Context, req core.CompletionRequest, out interface{}) error {
	_, err := c.complete(ctx, req, func(res *core.CompletionResult) error {
		return decodeStructured(res.Structured, out)
	})
	return err
}

func (c *Caller) complete(ctx context.Context, req core.CompletionRequest, decode func(*core.CompletionResult) error) (*core.CompletionResult, error) {
	if req.Model == "" {
		req.Model = c.modelFor(req.Stage)
	}
	if req.Temperature == 0 {
		req.Temperature = c.cfg.Temperature
	}

	ctx, span := c.tracer.Start(ctx, "completion."+req.Stage, trace.WithAttributes(
		attribute.String("casework.stage", req.Stage),
		attribute.String("casework.category", req.Category),
		attribute.String("casework.model", req.Model),
	))
	defer span.End()

	logger := c.logger.With("stage", req.Stage)
	if req.Category != "" {
		logger = logger.WithCategory(req.Category)
	}

	var result *core.CompletionResult
	err := c.retry.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return err
			}
		}

		callCtx, cancel := c.withCallTimeout(ctx)
		defer cancel()

		start := time.Now()
		res, err := c.completion.Complete(callCtx, req)
		err = c.classify(ctx, callCtx, err, core.CodeCompletionFailed)
		if err == nil && decode != nil {
			err = decode(res)
		}

		var in, out int
		if res != nil {
			in, out = res.TokensIn, res.TokensOut
		}
		c.metrics.ObserveCompletion(req.Stage, time.Since(start), in, out, err)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		logger.Warn("provider call failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, unwrapExhausted(err)
	}

	span.SetAttributes(
		attribute.Int("casework.tokens_in", result.TokensIn),
		attribute.Int("casework.tokens_out", result.TokensOut),
	)
	return result, nil
}

// Search runs queries against the search provider with the same retry and
// timeout treatment as completions.
func (c *Caller) Search(ctx context.Context, category string, queries []string, limit int, threshold float64) (string, error) {
	ctx, span := c.tracer.Start(ctx, "search", trace.WithAttributes(
		attribute.String("casework.category", category),
		attribute.Int("casework.queries", len(queries)),
	))
	defer span.End()

	var evidence string
	err := c.retry.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		callCtx, cancel := c.withCallTimeout(ctx)
		defer cancel()

		text, err := c.search.Search(callCtx, queries, limit, threshold)
		err = c.classify(ctx, callCtx, err, core.CodeSearchFailed)
		c.metrics.ObserveSearch(err)
		if err != nil {
			return err
		}
		evidence = text
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("search failed, retrying",
			"category", category,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", unwrapExhausted(err)
	}
	span.SetAttributes(attribute.Bool("casework.evidence_found", evidence != ""))
	return evidence, nil
}

func (c *Caller) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// classify turns an expired per-call deadline into a retryable timeout while
// leaving cancellation of the outer context untouched.
func (c *Caller) classify(outer, call context.Context, err error, code string) error {
	if err == nil {
		return nil
	}
	if outer.Err() != nil {
		return outer.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return core.ErrTimeout("provider call exceeded " + c.cfg.CallTimeout.String())
	}
	if core.GetCategory(err) == core.ErrCatInternal && !errors.Is(err, context.Canceled) {
		return core.ErrProvider(code, err.Error(), true).WithCause(err)
	}
	return err
}

// unwrapExhausted reports the last provider error rather than the retry wrapper.
func unwrapExhausted(err error) error {
	var exhausted *service.RetryExhaustedError
	if errors.As(err, &exhausted) && exhausted.LastErr != nil {
		return exhausted.LastErr
	}
	return err
}

// isCancellation reports whether err comes from the run being cancelled.
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func asDomainError(err error) *core.DomainError {
	var de *core.DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}
