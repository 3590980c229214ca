// Package analysis runs the legal analysis pipeline: plan, approval,
// per-category evidence gathering, synthesis and report compilation.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hugo-lorenzo-mato/casework/internal/control"
	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/events"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
	"github.com/hugo-lorenzo-mato/casework/internal/service"
	"github.com/hugo-lorenzo-mato/casework/internal/telemetry"
)

// finishTimeout bounds the terminal checkpoint write of a run.
const finishTimeout = 30 * time.Second

// Config holds engine-wide settings.
type Config struct {
	// Defaults are used when Start receives zero options.
	Defaults core.AnalysisOptions
	// MaxParallelCategories bounds concurrent workers. Zero is unbounded.
	MaxParallelCategories int
}

// Deps are the collaborators of an Engine. Sessions, Bus and Metrics are
// optional.
type Deps struct {
	Caller   *Caller
	Prompts  PromptRenderer
	Keeper   *service.CheckpointKeeper
	Sessions *control.Registry
	Bus      *events.EventBus
	Metrics  *telemetry.Metrics
	Logger   *logging.Logger
}

// ResumeResult is the outcome of a resume. Exactly one of Approval (the plan
// was revised and awaits approval again) or Status (the run started) is set.
type ResumeResult struct {
	ThreadID core.ThreadID         `json:"thread_id"`
	Approval *core.ApprovalRequest `json:"approval,omitempty"`
	Status   *core.ThreadStatus    `json:"status,omitempty"`
}

// Engine is the control surface of the pipeline.
type Engine struct {
	cfg         Config
	caller      *Caller
	prompts     PromptRenderer
	planner     *Planner
	gate        *Gate
	coordinator *Coordinator
	synthesizer *Synthesizer
	keeper      *service.CheckpointKeeper
	sessions    *control.Registry
	bus         *events.EventBus
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	logger      *logging.Logger
	newID       func() core.ThreadID
}

// NewEngine wires an engine.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Caller == nil || deps.Prompts == nil || deps.Keeper == nil {
		return nil, errors.New("analysis engine requires a caller, prompts and a checkpoint keeper")
	}
	if cfg.Defaults == (core.AnalysisOptions{}) {
		cfg.Defaults = core.DefaultAnalysisOptions()
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = control.NewRegistry()
	}

	return &Engine{
		cfg:         cfg,
		caller:      deps.Caller,
		prompts:     deps.Prompts,
		planner:     NewPlanner(deps.Caller, deps.Prompts, logger),
		gate:        NewGate(deps.Keeper, deps.Bus, deps.Metrics, logger),
		coordinator: NewCoordinator(deps.Caller, deps.Prompts, cfg.MaxParallelCategories, logger),
		synthesizer: NewSynthesizer(deps.Caller, deps.Prompts, logger),
		keeper:      deps.Keeper,
		sessions:    sessions,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		tracer:      telemetry.Tracer(),
		logger:      logger,
		newID:       func() core.ThreadID { return core.ThreadID(uuid.NewString()) },
	}, nil
}

// DefaultOptions returns the options used when Start gets none.
func (e *Engine) DefaultOptions() core.AnalysisOptions {
	return e.cfg.Defaults
}

// Sessions exposes the registry of live runs.
func (e *Engine) Sessions() *control.Registry {
	return e.sessions
}

// Start plans a new thread and suspends it at the approval gate. Planning
// runs on the caller's goroutine; a planning failure leaves no thread behind.
func (e *Engine) Start(ctx context.Context, background string, opts core.AnalysisOptions) (*core.ApprovalRequest, error) {
	if strings.TrimSpace(background) == "" {
		return nil, core.ErrValidation(core.CodeEmptyBackground, "background must not be empty")
	}
	if len(background) > core.MaxBackgroundLength {
		return nil, core.ErrValidation(core.CodeBackgroundTooBig,
			fmt.Sprintf("background exceeds %d bytes", core.MaxBackgroundLength))
	}
	if opts == (core.AnalysisOptions{}) {
		opts = e.cfg.Defaults
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	id := e.newID()
	state := core.NewWorkflowState(id, background, opts)
	logger := e.logger.WithThread(string(id))

	ctx, span := e.tracer.Start(ctx, "thread.start", trace.WithAttributes(
		attribute.String("casework.thread_id", string(id)),
	))
	defer span.End()

	sess, err := e.sessions.Start(ctx, id, core.NodeGeneratePlan)
	if err != nil {
		return nil, err
	}
	defer e.release(sess)
	sess.SetStatus(core.StatusPlanning)

	runCtx, cancel := linkContext(ctx, sess.Context())
	defer cancel()

	logger.Info("planning analysis", "background_bytes", len(background))
	plan, err := e.planner.Plan(runCtx, background, opts, nil)
	if sess.Stopped() {
		e.finishStopped(ctx, state)
		return nil, stoppedError(id)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("planning failed", "error", err)
		return nil, err
	}

	state.Plan = plan
	return e.park(ctx, sess, state, nil)
}

// Resume answers the approval gate. decision is a core.Decision, the boolean
// true to approve, or a non-empty feedback string to revise. Any other value
// fails the thread.
func (e *Engine) Resume(ctx context.Context, id core.ThreadID, decision any) (*ResumeResult, error) {
	if err := core.ValidateThreadID(id); err != nil {
		return nil, err
	}

	sess, err := e.sessions.Start(ctx, id, core.NodeApprovalGate)
	if err != nil {
		return nil, err
	}
	handedOff := false
	defer func() {
		if !handedOff {
			e.release(sess)
		}
	}()

	// Read under the thread lock so a stop of the parked thread is either
	// fully written or not yet begun.
	var state *core.WorkflowState
	err = e.keeper.Update(ctx, id, func(tx *service.CheckpointTxn) error {
		var lerr error
		state, lerr = tx.Load()
		return lerr
	})
	if err != nil {
		return nil, err
	}
	switch {
	case state.Status == core.StatusStopped:
		return nil, stoppedError(id)
	case state.Status.IsTerminal():
		return nil, core.ErrState(core.CodeThreadTerminal,
			fmt.Sprintf("thread %s already finished as %s", id, state.Status))
	case state.Node != core.NodeApprovalGate || state.Status != core.StatusAwaitingApproval:
		return nil, core.ErrState(core.CodeNotAwaiting,
			fmt.Sprintf("thread %s is not awaiting approval (node %s, status %s)", id, state.Node, state.Status))
	}

	d, err := core.ParseDecision(decision)
	if err != nil {
		e.finishFailed(ctx, state, err)
		return nil, err
	}

	logger := e.logger.WithThread(string(id))
	if d.Kind == core.DecisionRevise {
		logger.Info("revising plan", "revision", state.PlanRevision)
		return e.revise(ctx, sess, state, d.Feedback)
	}

	logger.Info("plan approved", "categories", len(state.Plan))
	state.CompletedCategories = nil
	state.DepositionQuestions = nil
	state.DepositionError = ""
	state.FinalReport = ""
	state.Touch(core.NodeGatherCategories, core.StatusRunning)

	sess.SetNode(core.NodeGatherCategories)
	sess.SetStatus(core.StatusRunning)
	sess.SetTotal(0, len(state.Plan))
	e.metrics.ThreadStarted()
	e.publish(events.NewThreadStartedEvent(string(id), len(state.Plan)))

	handedOff = true
	go e.run(sess, state)

	status := e.liveStatus(sess)
	return &ResumeResult{ThreadID: id, Status: &status}, nil
}

func (e *Engine) revise(ctx context.Context, sess *control.Session, state *core.WorkflowState, feedback string) (*ResumeResult, error) {
	runCtx, cancel := linkContext(ctx, sess.Context())
	defer cancel()

	sess.SetNode(core.NodeGeneratePlan)
	sess.SetStatus(core.StatusPlanning)

	history := append(append([]string(nil), state.FeedbackHistory...), feedback)
	plan, err := e.planner.Plan(runCtx, state.Background, state.Options, history)
	if sess.Stopped() {
		state.Node = core.NodeGeneratePlan
		e.finishStopped(ctx, state)
		return nil, stoppedError(state.ThreadID)
	}
	if err != nil {
		// The thread stays at the gate with its previous plan.
		return nil, err
	}

	previous := state.Plan
	state.FeedbackHistory = history
	state.Plan = plan
	req, err := e.park(ctx, sess, state, previous)
	if err != nil {
		return nil, err
	}
	return &ResumeResult{ThreadID: state.ThreadID, Approval: req}, nil
}

// park suspends a freshly planned thread at the gate. A stop that lands
// before the session closes is recorded instead: at the planning node when
// the approval checkpoint was never written, at the gate otherwise.
func (e *Engine) park(ctx context.Context, sess *control.Session, state *core.WorkflowState, previous []core.AnalysisCategory) (*core.ApprovalRequest, error) {
	req, err := e.gate.Suspend(ctx, state, previous, sess.Stopped)
	switch {
	case errors.Is(err, ErrSuspendStopped):
		state.Plan = previous
		state.Node = core.NodeGeneratePlan
		e.finishStopped(ctx, state)
		return nil, stoppedError(state.ThreadID)
	case err != nil:
		return nil, err
	}
	if !sess.Close() {
		e.finishStopped(ctx, state)
		return nil, stoppedError(state.ThreadID)
	}
	return req, nil
}

// run executes an approved plan on the session's goroutine.
func (e *Engine) run(sess *control.Session, state *core.WorkflowState) {
	defer e.release(sess)
	defer e.metrics.RunEnded()

	ctx, span := e.tracer.Start(sess.Context(), "thread.run", trace.WithAttributes(
		attribute.String("casework.thread_id", string(state.ThreadID)),
		attribute.Int("casework.categories", len(state.Plan)),
	))
	defer span.End()

	started := time.Now()
	err := e.execute(ctx, sess, state)
	finishCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		e.finishCompleted(finishCtx, state, time.Since(started))
	case sess.Stopped():
		e.finishStopped(finishCtx, state)
	case errors.Is(err, context.Canceled):
		// Shutdown, not a stop: the approval checkpoint is still the latest,
		// so the thread can be approved again after a restart.
		e.logger.WithThread(string(state.ThreadID)).Warn("run interrupted", "node", string(state.Node))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.finishFailed(finishCtx, state, err)
	}
}

func (e *Engine) execute(ctx context.Context, sess *control.Session, state *core.WorkflowState) error {
	id := string(state.ThreadID)
	opts := state.Options
	total := len(state.Plan)

	enter := func(node core.NodeName) {
		state.Node = node
		sess.SetNode(node)
		e.publish(events.NewNodeEnteredEvent(id, string(node)))
	}
	onJoin := func(task core.CategoryTask, _ int) {
		n := sess.IncCompleted()
		e.metrics.CategoryCompleted(task.SearchIterations, task.Category.Degraded)
		e.publish(events.NewCategoryCompletedEvent(id, task.Category.Name,
			task.SearchIterations, task.Category.Degraded, n, total))
	}

	enter(core.NodeGatherCategories)
	worker := NewWorker(e.caller, e.prompts, state.Background, opts, e.logger.WithThread(id))
	gathered, err := e.coordinator.Gather(ctx, worker, state.Plan, onJoin)
	if err != nil {
		return err
	}
	state.CompletedCategories = gathered

	enter(core.NodeSynthesizeCategories)
	synthesized, err := e.coordinator.SynthesizeRemaining(ctx, state.Background, state.Plan, gathered, onJoin)
	if err != nil {
		return err
	}
	state.CompletedCategories = append(state.CompletedCategories, synthesized...)

	ordered := OrderByPlan(state.Plan, state.CompletedCategories)
	if opts.IncludeDepositionQuestions {
		enter(core.NodeDepositionQuestions)
		questions, err := e.synthesizer.DepositionQuestions(ctx, state.Background, ordered, opts.MaxWitnesses)
		switch {
		case err == nil:
			state.DepositionQuestions = questions
		case isCancellation(ctx, err):
			return err
		default:
			e.logger.WithThread(id).Warn("deposition questions unavailable", "error", err)
			state.DepositionError = reason(err)
		}
	}

	enter(core.NodeCompileReport)
	state.FinalReport = Compile(ReportInput{
		Background:        state.Background,
		Categories:        ordered,
		IncludeDeposition: opts.IncludeDepositionQuestions,
		Deposition:        state.DepositionQuestions,
		DepositionError:   state.DepositionError,
	})
	return nil
}

// Stop cancels a live run and waits for it to record the stopped thread, or
// marks a parked thread as stopped. Stopping a finished thread is a no-op.
func (e *Engine) Stop(ctx context.Context, id core.ThreadID) error {
	if err := core.ValidateThreadID(id); err != nil {
		return err
	}
	for {
		if sess, ok := e.sessions.Get(id); ok {
			if handled, err := e.stopSession(ctx, sess); handled {
				return err
			}
		}

		live := false
		err := e.keeper.Update(ctx, id, func(tx *service.CheckpointTxn) error {
			if _, ok := e.sessions.Get(id); ok {
				live = true
				return nil
			}
			state, err := tx.Load()
			if err != nil {
				return err
			}
			if state.Status.IsTerminal() {
				return nil
			}
			state.Touch(state.Node, core.StatusStopped)
			if err := tx.Save(state); err != nil {
				return err
			}
			e.recordStopped(state)
			return nil
		})
		if err != nil || !live {
			return err
		}
	}
}

// stopSession stops a live run. It reports false when the session had
// already closed; the caller then stops whatever checkpoint it left.
func (e *Engine) stopSession(ctx context.Context, sess *control.Session) (bool, error) {
	if !sess.RequestStop() {
		if err := sess.Wait(ctx); err != nil {
			return true, err
		}
		return false, nil
	}
	e.logger.WithThread(string(sess.ThreadID)).Info("stopping thread", "node", string(sess.Snapshot().Node))
	return true, sess.Wait(ctx)
}

// Status reports a thread's progress. A live run reports from its session;
// otherwise the checkpoint is authoritative.
func (e *Engine) Status(ctx context.Context, id core.ThreadID) (*core.ThreadStatus, error) {
	if err := core.ValidateThreadID(id); err != nil {
		return nil, err
	}
	if sess, ok := e.sessions.Get(id); ok {
		status := e.liveStatus(sess)
		return &status, nil
	}
	state, err := e.keeper.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	status := StatusOf(state)
	return &status, nil
}

// StatusOf derives the status of a thread from its state.
func StatusOf(state *core.WorkflowState) core.ThreadStatus {
	return core.ThreadStatus{
		ThreadID:       state.ThreadID,
		Node:           state.Node,
		Status:         state.Status,
		Progress:       state.Progress(),
		CompletedCount: len(state.CompletedCategories),
		TotalCount:     len(state.Plan),
		Error:          state.Error,
		UpdatedAt:      state.UpdatedAt,
	}
}

func (e *Engine) liveStatus(sess *control.Session) core.ThreadStatus {
	snap := sess.Snapshot()
	return core.ThreadStatus{
		ThreadID:       snap.ThreadID,
		Node:           snap.Node,
		Status:         snap.Status,
		Progress:       snap.Progress(),
		CompletedCount: snap.Completed,
		TotalCount:     snap.Total,
		Live:           true,
		UpdatedAt:      time.Now().UTC(),
	}
}

// Wait blocks until the thread's live run exits or ctx ends, then returns
// its status.
func (e *Engine) Wait(ctx context.Context, id core.ThreadID) (*core.ThreadStatus, error) {
	if sess, ok := e.sessions.Get(id); ok {
		if err := sess.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return e.Status(ctx, id)
}

// Approval returns the pending approval request of a parked thread.
func (e *Engine) Approval(ctx context.Context, id core.ThreadID) (*core.ApprovalRequest, error) {
	state, err := e.keeper.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if state.Status != core.StatusAwaitingApproval {
		return nil, core.ErrState(core.CodeNotAwaiting,
			fmt.Sprintf("thread %s is not awaiting approval", id))
	}
	return ApprovalRequestFor(state), nil
}

// Report returns the final report of a completed thread.
func (e *Engine) Report(ctx context.Context, id core.ThreadID) (string, error) {
	state, err := e.keeper.Load(ctx, id)
	if err != nil {
		return "", err
	}
	switch state.Status {
	case core.StatusCompleted, core.StatusCompletedWithDegraded:
		return state.FinalReport, nil
	}
	return "", core.ErrState(core.CodeInvalidState,
		fmt.Sprintf("thread %s has no report (status %s)", id, state.Status))
}

// List returns every known thread, most recently updated first.
func (e *Engine) List(ctx context.Context) ([]core.ThreadSummary, error) {
	return e.keeper.List(ctx)
}

// Shutdown cancels live runs without stopping their threads and waits for
// them to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.sessions.Shutdown(ctx)
}

func (e *Engine) finishCompleted(ctx context.Context, state *core.WorkflowState, elapsed time.Duration) {
	status := core.StatusCompleted
	if state.HasDegraded() {
		status = core.StatusCompletedWithDegraded
	}
	state.Error = ""
	state.Touch(core.NodeDone, status)
	if !e.save(ctx, state) {
		return
	}
	e.metrics.ThreadFinished(string(status))
	e.publishPriority(events.NewThreadCompletedEvent(string(state.ThreadID), string(status), elapsed))
	e.logger.WithThread(string(state.ThreadID)).Info("analysis complete",
		"status", string(status),
		"categories", len(state.CompletedCategories),
		"elapsed", elapsed,
	)
}

func (e *Engine) finishFailed(ctx context.Context, state *core.WorkflowState, cause error) {
	state.Error = cause.Error()
	state.Touch(state.Node, core.StatusFailed)
	if !e.save(ctx, state) {
		return
	}
	e.metrics.ThreadFinished(string(core.StatusFailed))
	e.publishPriority(events.NewThreadFailedEvent(string(state.ThreadID), string(state.Node), cause))
	e.logger.WithThread(string(state.ThreadID)).Error("thread failed",
		"node", string(state.Node),
		"error", cause,
	)
}

func (e *Engine) finishStopped(ctx context.Context, state *core.WorkflowState) {
	state.Touch(state.Node, core.StatusStopped)
	if !e.save(context.WithoutCancel(ctx), state) {
		return
	}
	e.recordStopped(state)
}

func (e *Engine) recordStopped(state *core.WorkflowState) {
	e.metrics.CheckpointWritten(string(state.Node))
	e.metrics.ThreadFinished(string(core.StatusStopped))
	e.publishPriority(events.NewThreadStoppedEvent(string(state.ThreadID), string(state.Node)))
	e.logger.WithThread(string(state.ThreadID)).Info("thread stopped", "node", string(state.Node))
}

func (e *Engine) save(ctx context.Context, state *core.WorkflowState) bool {
	ctx, cancel := context.WithTimeout(ctx, finishTimeout)
	defer cancel()
	if err := e.keeper.Save(ctx, state); err != nil {
		e.logger.WithThread(string(state.ThreadID)).Error("saving terminal checkpoint failed",
			"status", string(state.Status),
			"error", err,
		)
		return false
	}
	if state.Status != core.StatusStopped {
		e.metrics.CheckpointWritten(string(state.Node))
	}
	return true
}

func (e *Engine) release(sess *control.Session) {
	sess.Close()
	e.sessions.Remove(sess)
	sess.MarkDone()
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) publishPriority(ev events.Event) {
	if e.bus != nil {
		e.bus.PublishPriority(ev)
	}
}

func stoppedError(id core.ThreadID) error {
	return core.ErrState(core.CodeThreadStopped, fmt.Sprintf("thread %s was stopped", id))
}

// linkContext derives a context from parent that is also cancelled when
// the session is.
func linkContext(parent, session context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(session, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
