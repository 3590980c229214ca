package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ThreadID uniquely identifies an analysis thread.
type ThreadID string

var threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateThreadID rejects ids that are empty, too long, or unsafe as file names.
func ValidateThreadID(id ThreadID) error {
	if !threadIDPattern.MatchString(string(id)) {
		return ErrValidation(CodeInvalidThreadID, fmt.Sprintf("invalid thread id %q", id))
	}
	return nil
}

// DefaultAnalysisStructure is the category outline suggested to the planner
// when the caller does not supply one.
const DefaultAnalysisStructure = "liability analysis, damages assessment, key witnesses, " +
	"timeline of events, document evidence, deposition strategy"

// AnalysisOptions are the per-thread knobs fixed at Start.
type AnalysisOptions struct {
	NumberOfQueries            int     `json:"number_of_queries"`
	MaxSearchDepth             int     `json:"max_search_depth"`
	AnalysisStructure          string  `json:"analysis_structure"`
	IncludeDepositionQuestions bool    `json:"include_deposition_questions"`
	MaxWitnesses               int     `json:"max_witnesses"`
	SearchLimit                int     `json:"search_limit"`
	SearchThreshold            float64 `json:"search_threshold"`
}

// DefaultAnalysisOptions returns the stock option set.
func DefaultAnalysisOptions() AnalysisOptions {
	return AnalysisOptions{
		NumberOfQueries:            2,
		MaxSearchDepth:             2,
		AnalysisStructure:          DefaultAnalysisStructure,
		IncludeDepositionQuestions: true,
		MaxWitnesses:               5,
		SearchLimit:                10,
		SearchThreshold:            0.7,
	}
}

// Validate checks option bounds.
func (o AnalysisOptions) Validate() error {
	switch {
	case o.NumberOfQueries < 1:
		return ErrValidation(CodeInvalidConfig, "number_of_queries must be at least 1")
	case o.MaxSearchDepth < 1:
		return ErrValidation(CodeInvalidConfig, "max_search_depth must be at least 1")
	case o.MaxWitnesses < 0:
		return ErrValidation(CodeInvalidConfig, "max_witnesses must not be negative")
	case o.SearchLimit < 1:
		return ErrValidation(CodeInvalidConfig, "search_limit must be at least 1")
	case o.SearchThreshold < 0 || o.SearchThreshold > 1:
		return ErrValidation(CodeInvalidConfig, "search_threshold must be between 0 and 1")
	}
	return nil
}

// AnalysisCategory is one topical section of the analysis.
// Identity is the name; the plan order is the report order.
type AnalysisCategory struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	RequiresSearch bool   `json:"requires_search"`
	Content        string `json:"content,omitempty"`
	Degraded       bool   `json:"degraded,omitempty"`
}

// CategoryTask is the private working state of one category worker.
type CategoryTask struct {
	Category         AnalysisCategory
	SearchIterations int
	PendingQueries   []string
	EvidenceText     string
}

// DepositionQuestion is a single question for a witness.
type DepositionQuestion struct {
	Question      string   `json:"question"`
	Purpose       string   `json:"purpose"`
	ExpectedAreas []string `json:"expected_areas"`
}

// WitnessQuestions groups questions for one witness.
type WitnessQuestions struct {
	WitnessName string               `json:"witness_name"`
	WitnessRole string               `json:"witness_role"`
	Questions   []DepositionQuestion `json:"questions"`
}

// DepositionQuestions is the structured output of the deposition step.
type DepositionQuestions struct {
	Witnesses []WitnessQuestions `json:"witness_questions"`
}

// WorkflowState is the durable state of one thread.
type WorkflowState struct {
	ThreadID            ThreadID             `json:"thread_id"`
	Background          string               `json:"background"`
	Options             AnalysisOptions      `json:"options"`
	Plan                []AnalysisCategory   `json:"plan"`
	PlanRevision        int                  `json:"plan_revision"`
	PlanDiff            string               `json:"plan_diff,omitempty"`
	FeedbackHistory     []string             `json:"feedback_history,omitempty"`
	CompletedCategories []AnalysisCategory   `json:"completed_categories,omitempty"`
	DepositionQuestions *DepositionQuestions `json:"deposition_questions,omitempty"`
	DepositionError     string               `json:"deposition_error,omitempty"`
	FinalReport         string               `json:"final_report,omitempty"`
	Node                NodeName             `json:"node"`
	Status              RunStatus            `json:"status"`
	Error               string               `json:"error,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// NewWorkflowState creates the initial state for a thread.
func NewWorkflowState(id ThreadID, background string, opts AnalysisOptions) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		ThreadID:   id,
		Background: background,
		Options:    opts,
		Node:       NodeGeneratePlan,
		Status:     StatusPlanning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SearchCategories returns the plan entries that need evidence gathering.
func (s *WorkflowState) SearchCategories() []AnalysisCategory {
	var out []AnalysisCategory
	for _, c := range s.Plan {
		if c.RequiresSearch {
			out = append(out, c)
		}
	}
	return out
}

// Progress returns completed/total as a percentage of the plan.
func (s *WorkflowState) Progress() float64 {
	if len(s.Plan) == 0 {
		return 0
	}
	return float64(len(s.CompletedCategories)) / float64(len(s.Plan)) * 100
}

// HasDegraded reports whether any completed category is degraded or the
// deposition step failed.
func (s *WorkflowState) HasDegraded() bool {
	if s.DepositionError != "" {
		return true
	}
	for _, c := range s.CompletedCategories {
		if c.Degraded {
			return true
		}
	}
	return false
}

// Touch records a transition.
func (s *WorkflowState) Touch(node NodeName, status RunStatus) {
	s.Node = node
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
}

// ValidatePlan checks the plan contract: non-empty, unique names, and at
// least one category that requires search.
func ValidatePlan(plan []AnalysisCategory) error {
	if len(plan) == 0 {
		return ErrPlanning(CodeEmptyPlan, "planner returned no categories")
	}
	seen := make(map[string]bool, len(plan))
	searchable := 0
	for _, c := range plan {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return ErrPlanning(CodeEmptyPlan, "planner returned a category without a name")
		}
		key := strings.ToLower(name)
		if seen[key] {
			return ErrPlanning(CodeDuplicateCategory, fmt.Sprintf("duplicate category %q", name))
		}
		seen[key] = true
		if c.RequiresSearch {
			searchable++
		}
	}
	if searchable == 0 {
		return ErrPlanning(CodeNoSearchCategory, "plan has no category that requires search")
	}
	return nil
}

// PlanOutline renders the plan one category per line. It is used for plan
// diffs and approval messages.
func PlanOutline(plan []AnalysisCategory) string {
	var b strings.Builder
	for i, c := range plan {
		marker := " "
		if c.RequiresSearch {
			marker = "*"
		}
		fmt.Fprintf(&b, "%d.%s %s: %s\n", i+1, marker, c.Name, c.Description)
	}
	return b.String()
}

// ApprovalRequest is returned to the caller when a thread suspends at the gate.
type ApprovalRequest struct {
	ThreadID     ThreadID           `json:"thread_id"`
	Plan         []AnalysisCategory `json:"plan"`
	PlanRevision int                `json:"plan_revision"`
	PlanDiff     string             `json:"plan_diff,omitempty"`
	Message      string             `json:"message"`
}

// ThreadStatus is the externally visible progress of a thread.
type ThreadStatus struct {
	ThreadID       ThreadID  `json:"thread_id" yaml:"thread_id"`
	Node           NodeName  `json:"node" yaml:"node"`
	Status         RunStatus `json:"status" yaml:"status"`
	Progress       float64   `json:"progress" yaml:"progress"`
	CompletedCount int       `json:"completed_count" yaml:"completed_count"`
	TotalCount     int       `json:"total_count" yaml:"total_count"`
	Live           bool      `json:"live" yaml:"live"`
	Error          string    `json:"error,omitempty" yaml:"error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
}

// ThreadSummary is a short listing entry.
type ThreadSummary struct {
	ThreadID  ThreadID  `json:"thread_id"`
	Node      NodeName  `json:"node"`
	Status    RunStatus `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
