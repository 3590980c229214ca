package core

import "fmt"

// NodeName identifies a step of the analysis graph. Checkpoints record the
// node a thread is suspended at or finished on.
type NodeName string

const (
	// NodeGeneratePlan produces the ordered category list from the background.
	NodeGeneratePlan NodeName = "generate_plan"

	// NodeApprovalGate is the single suspension point. The thread waits here
	// for an approve or revise decision.
	NodeApprovalGate NodeName = "approval_gate"

	// NodeGatherCategories fans out one worker per search category and joins.
	NodeGatherCategories NodeName = "gather_categories"

	// NodeSynthesizeCategories fills non-search categories from joined content.
	NodeSynthesizeCategories NodeName = "synthesize_final_categories"

	// NodeDepositionQuestions produces witness questions from the final content.
	NodeDepositionQuestions NodeName = "generate_deposition_questions"

	// NodeCompileReport renders the final markdown report.
	NodeCompileReport NodeName = "compile_report"

	// NodeDone is the terminal marker. It is not executable.
	NodeDone NodeName = "done"
)

// AllNodes returns every executable node in graph order.
func AllNodes() []NodeName {
	return []NodeName{
		NodeGeneratePlan,
		NodeApprovalGate,
		NodeGatherCategories,
		NodeSynthesizeCategories,
		NodeDepositionQuestions,
		NodeCompileReport,
	}
}

// NodeOrder returns the 0-indexed position of a node, or -1 if unknown.
func NodeOrder(n NodeName) int {
	if n == NodeDone {
		return len(AllNodes())
	}
	for i, candidate := range AllNodes() {
		if candidate == n {
			return i
		}
	}
	return -1
}

// NextNode returns the node that follows n on the approve path.
// Returns empty string for the last node and for unknown input.
func NextNode(n NodeName) NodeName {
	nodes := AllNodes()
	idx := NodeOrder(n)
	if idx < 0 || idx >= len(nodes) {
		return ""
	}
	if idx == len(nodes)-1 {
		return NodeDone
	}
	return nodes[idx+1]
}

// ValidNode checks if a node name is known.
func ValidNode(n NodeName) bool {
	return NodeOrder(n) >= 0
}

// ParseNode converts a string to a NodeName with validation.
func ParseNode(s string) (NodeName, error) {
	n := NodeName(s)
	if !ValidNode(n) {
		return "", fmt.Errorf("invalid node: %s", s)
	}
	return n, nil
}

func (n NodeName) String() string {
	return string(n)
}

// Description returns a human-readable description of the node.
func (n NodeName) Description() string {
	switch n {
	case NodeGeneratePlan:
		return "Generate the analysis plan"
	case NodeApprovalGate:
		return "Wait for plan approval"
	case NodeGatherCategories:
		return "Gather and grade evidence per category"
	case NodeSynthesizeCategories:
		return "Synthesize categories that need no search"
	case NodeDepositionQuestions:
		return "Draft deposition questions"
	case NodeCompileReport:
		return "Compile the final report"
	case NodeDone:
		return "Analysis finished"
	default:
		return "Unknown node"
	}
}

// RunStatus is the lifecycle status of a thread.
type RunStatus string

const (
	StatusPlanning              RunStatus = "planning"
	StatusAwaitingApproval      RunStatus = "awaiting_approval"
	StatusRunning               RunStatus = "running"
	StatusCompleted             RunStatus = "completed"
	StatusCompletedWithDegraded RunStatus = "completed_with_degraded"
	StatusFailed                RunStatus = "failed"
	StatusStopped               RunStatus = "stopped"
)

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithDegraded, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// ParseRunStatus converts a string to a RunStatus with validation.
func ParseRunStatus(s string) (RunStatus, error) {
	switch st := RunStatus(s); st {
	case StatusPlanning, StatusAwaitingApproval, StatusRunning,
		StatusCompleted, StatusCompletedWithDegraded, StatusFailed, StatusStopped:
		return st, nil
	}
	return "", fmt.Errorf("invalid status: %s", s)
}
