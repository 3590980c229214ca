package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/hugo-lorenzo-mato/casework/internal/adapters/checkpoint"
	"github.com/hugo-lorenzo-mato/casework/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/casework/internal/adapters/search"
	"github.com/hugo-lorenzo-mato/casework/internal/config"
	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/events"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
	"github.com/hugo-lorenzo-mato/casework/internal/service"
	"github.com/hugo-lorenzo-mato/casework/internal/service/analysis"
	"github.com/hugo-lorenzo-mato/casework/internal/telemetry"
)

// app holds every long-lived collaborator a command needs.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *telemetry.Metrics
	bus     *events.EventBus
	store   core.CheckpointStore
	index   *search.Index
	engine  *analysis.Engine

	closers []func(context.Context) error
}

// newApp wires the engine from configuration. The caller must Close it.
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	logOut := io.Writer(os.Stderr)
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o750); err != nil {
			return a, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return a, fmt.Errorf("opening log file: %w", err)
		}
		logOut = f
		a.closers = append(a.closers, func(context.Context) error { return f.Close() })
	}
	a.logger = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: logOut,
	})

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	}, os.Stderr)
	if err != nil {
		return a, fmt.Errorf("setting up tracing: %w", err)
	}
	a.closers = append(a.closers, func(ctx context.Context) error { return shutdownTracing(ctx) })

	a.metrics = telemetry.NewMetrics()
	a.bus = events.New(100)
	a.closers = append(a.closers, func(context.Context) error { a.bus.Close(); return nil })

	store, locker, err := checkpoint.Open(checkpoint.Options{
		Backend:       cfg.Checkpoint.Backend,
		Path:          cfg.Checkpoint.Path,
		LockTTL:       cfg.Checkpoint.LockTTL,
		RedisAddr:     cfg.Checkpoint.Redis.Addr,
		RedisPassword: cfg.Checkpoint.Redis.Password,
		RedisDB:       cfg.Checkpoint.Redis.DB,
		RedisPrefix:   cfg.Checkpoint.Redis.Prefix,
	})
	if err != nil {
		return a, fmt.Errorf("opening checkpoint store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	index, err := search.OpenIndex(cfg.Search.IndexPath, a.logger)
	if err != nil {
		return a, fmt.Errorf("opening document index: %w", err)
	}
	a.index = index
	a.closers = append(a.closers, func(context.Context) error { return index.Close() })

	completion, err := llm.New(llm.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
	}, a.logger)
	if err != nil {
		return a, err
	}

	var searcher core.SearchProvider = index
	if cfg.Search.CacheTTL > 0 {
		searcher = search.NewCachedProvider(index, cfg.Search.CacheTTL)
	}

	opts := []analysis.CallerOption{
		analysis.WithRetryPolicy(service.NewRetryPolicy(service.WithMaxAttempts(cfg.Provider.MaxRetries + 1))),
		analysis.WithMetrics(a.metrics),
		analysis.WithCallerLogger(a.logger),
	}
	if cfg.Provider.RequestsPerMinute > 0 {
		opts = append(opts, analysis.WithRateLimiter(service.NewRateLimiter(service.PerMinute(cfg.Provider.RequestsPerMinute))))
	}
	caller := analysis.NewCaller(completion, searcher, analysis.CallerConfig{
		Model:        cfg.Provider.Model,
		PlannerModel: cfg.Provider.PlannerModel,
		Temperature:  cfg.Provider.Temperature,
		CallTimeout:  cfg.Provider.CallTimeout,
	}, opts...)

	prompts, err := service.NewPromptRenderer()
	if err != nil {
		return a, fmt.Errorf("loading prompts: %w", err)
	}

	a.engine, err = analysis.NewEngine(analysis.Config{
		Defaults:              cfg.Analysis.Options(),
		MaxParallelCategories: cfg.Analysis.MaxParallelCategories,
	}, analysis.Deps{
		Caller:  caller,
		Prompts: prompts,
		Keeper:  service.NewCheckpointKeeper(store, locker, a.logger),
		Bus:     a.bus,
		Metrics: a.metrics,
		Logger:  a.logger,
	})
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.engine.Shutdown)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withApp loads configuration, builds the app and runs fn against it.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	return fn(ctx, a)
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 0
	}
	if w > 120 {
		w = 120
	}
	return w - 4
}
