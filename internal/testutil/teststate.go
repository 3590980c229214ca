package testutil

import (
	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

// LiabilityDamagesStrategy is a three category plan: two categories that
// need document search and one written from their results.
func LiabilityDamagesStrategy() []core.AnalysisCategory {
	return []core.AnalysisCategory{
		{Name: "Liability", Description: "Who breached which duty", RequiresSearch: true},
		{Name: "Damages", Description: "Quantum of loss", RequiresSearch: true},
		{Name: "Strategy", Description: "Litigation strategy", RequiresSearch: false},
	}
}

// NewTestState creates a WorkflowState parked at the approval gate with the
// three category plan. Use functional options to override fields.
func NewTestState(opts ...func(*core.WorkflowState)) *core.WorkflowState {
	s := core.NewWorkflowState("thread-test", "Acme v. Widget: breach of supply contract.", core.DefaultAnalysisOptions())
	s.Plan = LiabilityDamagesStrategy()
	s.PlanRevision = 1
	s.Touch(core.NodeApprovalGate, core.StatusAwaitingApproval)
	for _, opt := range opts {
		opt(s)
	}
	return s
}
