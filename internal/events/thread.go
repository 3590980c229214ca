package events

import "time"

// Event type constants for analysis threads.
const (
	TypePlanReady         = "plan_ready"
	TypeThreadStarted     = "thread_started"
	TypeCategoryCompleted = "category_completed"
	TypeNodeEntered       = "node_entered"
	TypeThreadCompleted   = "thread_completed"
	TypeThreadFailed      = "thread_failed"
	TypeThreadStopped     = "thread_stopped"
)

// PlanReadyEvent is emitted when a plan awaits approval.
type PlanReadyEvent struct {
	BaseEvent
	Revision   int `json:"revision"`
	Categories int `json:"categories"`
}

// NewPlanReadyEvent creates a plan ready event.
func NewPlanReadyEvent(threadID string, revision, categories int) PlanReadyEvent {
	return PlanReadyEvent{
		BaseEvent:  NewBaseEvent(TypePlanReady, threadID),
		Revision:   revision,
		Categories: categories,
	}
}

// ThreadStartedEvent is emitted when an approved plan starts fanning out.
type ThreadStartedEvent struct {
	BaseEvent
	Total int `json:"total"`
}

// NewThreadStartedEvent creates a thread started event.
func NewThreadStartedEvent(threadID string, total int) ThreadStartedEvent {
	return ThreadStartedEvent{
		BaseEvent: NewBaseEvent(TypeThreadStarted, threadID),
		Total:     total,
	}
}

// CategoryCompletedEvent is emitted once per category reaching the join.
type CategoryCompletedEvent struct {
	BaseEvent
	Category   string `json:"category"`
	Iterations int    `json:"iterations"`
	Degraded   bool   `json:"degraded"`
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
}

// NewCategoryCompletedEvent creates a category completed event.
func NewCategoryCompletedEvent(threadID, category string, iterations int, degraded bool, completed, total int) CategoryCompletedEvent {
	return CategoryCompletedEvent{
		BaseEvent:  NewBaseEvent(TypeCategoryCompleted, threadID),
		Category:   category,
		Iterations: iterations,
		Degraded:   degraded,
		Completed:  completed,
		Total:      total,
	}
}

// NodeEnteredEvent is emitted on every node transition after approval.
type NodeEnteredEvent struct {
	BaseEvent
	Node string `json:"node"`
}

// NewNodeEnteredEvent creates a node entered event.
func NewNodeEnteredEvent(threadID, node string) NodeEnteredEvent {
	return NodeEnteredEvent{
		BaseEvent: NewBaseEvent(TypeNodeEntered, threadID),
		Node:      node,
	}
}

// ThreadCompletedEvent is emitted once when the final report is written.
type ThreadCompletedEvent struct {
	BaseEvent
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
}

// NewThreadCompletedEvent creates a thread completed event.
func NewThreadCompletedEvent(threadID, status string, duration time.Duration) ThreadCompletedEvent {
	return ThreadCompletedEvent{
		BaseEvent: NewBaseEvent(TypeThreadCompleted, threadID),
		Status:    status,
		Duration:  duration,
	}
}

// ThreadFailedEvent is emitted when a thread fails.
type ThreadFailedEvent struct {
	BaseEvent
	Node  string `json:"node"`
	Error string `json:"error"`
}

// NewThreadFailedEvent creates a thread failed event.
func NewThreadFailedEvent(threadID, node string, err error) ThreadFailedEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ThreadFailedEvent{
		BaseEvent: NewBaseEvent(TypeThreadFailed, threadID),
		Node:      node,
		Error:     msg,
	}
}

// ThreadStoppedEvent is emitted when a thread is stopped.
type ThreadStoppedEvent struct {
	BaseEvent
	Node string `json:"node"`
}

// NewThreadStoppedEvent creates a thread stopped event.
func NewThreadStoppedEvent(threadID, node string) ThreadStoppedEvent {
	return ThreadStoppedEvent{
		BaseEvent: NewBaseEvent(TypeThreadStopped, threadID),
		Node:      node,
	}
}
