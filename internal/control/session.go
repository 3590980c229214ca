// Package control tracks the analysis runs that are active in this process.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// Session is the registry entry for one active run. It owns the run's
// cancellation and counts categories as they reach the join.
type Session struct {
	ThreadID  core.ThreadID
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}

	stopMu sync.Mutex
	stop   bool
	closed bool

	mu        sync.RWMutex
	node      core.NodeName
	status    core.RunStatus
	completed int
	total     int
}

// Snapshot is a point-in-time copy of a session's progress.
type Snapshot struct {
	ThreadID  core.ThreadID
	Node      core.NodeName
	Status    core.RunStatus
	Completed int
	Total     int
	StartedAt time.Time
}

// Progress returns completed/total as a percentage.
func (s Snapshot) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// Context is cancelled when the session is stopped.
func (s *Session) Context() context.Context { return s.ctx }

// Cancel cancels the run's context.
func (s *Session) Cancel() { s.cancel() }

// RequestStop marks the session as stopped by the caller and cancels it.
// A run that sees Stopped after cancellation records a stopped thread; a
// run cancelled for any other reason leaves its checkpoint untouched.
// It reports false, and does nothing, once the session is closed.
func (s *Session) RequestStop() bool {
	s.stopMu.Lock()
	if s.closed {
		s.stopMu.Unlock()
		return false
	}
	s.stop = true
	s.stopMu.Unlock()
	s.cancel()
	return true
}

// Stopped reports whether RequestStop was honored.
func (s *Session) Stopped() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.stop
}

// Close ends the window in which RequestStop is honored. It reports false
// if a stop was already requested, in which case the run must still record
// the stopped thread.
func (s *Session) Close() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	s.closed = true
	return !s.stop
}

// Done is closed when the run goroutine exits.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// MarkDone signals that the run goroutine has exited. Safe to call twice.
func (s *Session) MarkDone() {
	select {
	case <-s.doneCh:
	default:
		close(s.doneCh)
	}
}

// Wait blocks until the run exits or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetNode records the node the run is executing.
func (s *Session) SetNode(node core.NodeName) {
	s.mu.Lock()
	s.node = node
	s.mu.Unlock()
}

// SetStatus records the run status.
func (s *Session) SetStatus(status core.RunStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// SetTotal sets the number of categories the run will produce and the
// number already completed.
func (s *Session) SetTotal(completed, total int) {
	s.mu.Lock()
	s.completed = completed
	s.total = total
	s.mu.Unlock()
}

// IncCompleted records one more completed category and returns the new count.
func (s *Session) IncCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
	return s.completed
}

// Snapshot returns the current progress.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ThreadID:  s.ThreadID,
		Node:      s.node,
		Status:    s.status,
		Completed: s.completed,
		Total:     s.total,
		StartedAt: s.StartedAt,
	}
}

// Registry maps thread ids to their active sessions. A thread has at most
// one session; entries are removed on completion, failure or stop.
type Registry struct {
	mu       sync.Mutex
	sessions map[core.ThreadID]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.ThreadID]*Session)}
}

// Start registers a session for id. The session context derives from parent
// without inheriting its cancellation, so a run outlives the request that
// started it.
func (r *Registry) Start(parent context.Context, id core.ThreadID, node core.NodeName) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, core.ErrState(core.CodeAlreadyRunning, "thread "+string(id)+" is already running")
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s := &Session{
		ThreadID:  id,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		doneCh:    make(chan struct{}),
		node:      node,
		status:    core.StatusRunning,
	}
	r.sessions[id] = s
	return s, nil
}

// Get returns the active session for id.
func (r *Registry) Get(id core.ThreadID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops s from the registry if it is still the session for its thread.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ThreadID]; ok && cur == s {
		delete(r.sessions, s.ThreadID)
		return true
	}
	return false
}

// Detach removes and returns the session for id.
func (r *Registry) Detach(id core.ThreadID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// Active returns a snapshot of every live session.
func (r *Registry) Active() []Snapshot {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, s := range list {
		out = append(out, s.Snapshot())
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown cancels every session and waits for them to exit or ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	for _, s := range list {
		s.Cancel()
	}
	for _, s := range list {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
