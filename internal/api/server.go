// Package api exposes the analysis control surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/events"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
	"github.com/hugo-lorenzo-mato/casework/internal/service/analysis"
	"github.com/hugo-lorenzo-mato/casework/internal/telemetry"
)

// maxBodyBytes leaves room for a maximal background plus JSON framing.
const maxBodyBytes = core.MaxBackgroundLength + 64*1024

// ThreadService is the part of the analysis engine the server drives.
type ThreadService interface {
	DefaultOptions() core.AnalysisOptions
	Start(ctx context.Context, background string, opts core.AnalysisOptions) (*core.ApprovalRequest, error)
	Resume(ctx context.Context, id core.ThreadID, decision any) (*analysis.ResumeResult, error)
	Stop(ctx context.Context, id core.ThreadID) error
	Status(ctx context.Context, id core.ThreadID) (*core.ThreadStatus, error)
	Approval(ctx context.Context, id core.ThreadID) (*core.ApprovalRequest, error)
	Report(ctx context.Context, id core.ThreadID) (string, error)
	List(ctx context.Context) ([]core.ThreadSummary, error)
}

// Server provides the REST and SSE endpoints.
type Server struct {
	router         chi.Router
	threads        ThreadService
	eventBus       *events.EventBus
	metrics        *telemetry.Metrics
	logger         *logging.Logger
	corsOrigins    []string
	requestTimeout time.Duration
	keepAlive      time.Duration
	healthDetail   func() any
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics serves the registry at /metrics.
func WithMetrics(m *telemetry.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithCORSOrigins restricts cross-origin access. Empty allows any origin.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithRequestTimeout bounds non-streaming requests.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithKeepAlive sets the SSE heartbeat interval.
func WithKeepAlive(d time.Duration) ServerOption {
	return func(s *Server) {
		s.keepAlive = d
	}
}

// WithHealthDetail adds the value returned by fn to /health responses.
func WithHealthDetail(fn func() any) ServerOption {
	return func(s *Server) {
		s.healthDetail = fn
	}
}

// NewServer creates a new API server. eventBus may be nil, in which case the
// event stream is unavailable.
func NewServer(threads ThreadService, eventBus *events.EventBus, opts ...ServerOption) *Server {
	s := &Server{
		threads:        threads,
		eventBus:       eventBus,
		logger:         logging.NewNop(),
		requestTimeout: 2 * time.Minute,
		keepAlive:      15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}).Handler)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout))
			r.Route("/threads", func(r chi.Router) {
				r.Get("/", s.handleListThreads)
				r.Post("/", s.handleStartThread)

				r.Route("/{threadID}", func(r chi.Router) {
					r.Get("/", s.handleGetThread)
					r.Get("/approval", s.handleGetApproval)
					r.Get("/report", s.handleGetReport)
					r.Post("/resume", s.handleResumeThread)
					r.Post("/stop", s.handleStopThread)
				})
			})
		})

		r.Get("/events", s.handleSSE)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Category string `json:"category,omitempty"`
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message})
}

// respondErr maps a service error onto an HTTP status.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		status = http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.respondError(w, status, "internal error")
		return
	}

	var de *core.DomainError
	errors.As(err, &de)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", r.URL.Path, "code", de.Code, "error", err)
	}
	s.respondJSON(w, status, errorResponse{
		Error:    de.Message,
		Code:     de.Code,
		Category: string(de.Category),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.healthDetail != nil {
		body["resources"] = s.healthDetail()
	}
	s.respondJSON(w, http.StatusOK, body)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}
