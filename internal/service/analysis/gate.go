package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/events"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
	"github.com/hugo-lorenzo-mato/casework/internal/service"
	"github.com/hugo-lorenzo-mato/casework/internal/telemetry"
)

// Gate is the approval suspend point. Entering it persists the thread and
// hands the plan back to the caller; nothing runs until a decision arrives.
type Gate struct {
	keeper  *service.CheckpointKeeper
	bus     *events.EventBus
	metrics *telemetry.Metrics
	logger  *logging.Logger
}

// NewGate creates a gate. bus and metrics may be nil.
func NewGate(keeper *service.CheckpointKeeper, bus *events.EventBus, metrics *telemetry.Metrics, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{keeper: keeper, bus: bus, metrics: metrics, logger: logger}
}

// ErrSuspendStopped is returned by Suspend when the thread was stopped before
// its approval checkpoint could be written. state is left unchanged.
var ErrSuspendStopped = errors.New("thread stopped before reaching the approval gate")

// Suspend records the plan as awaiting approval and returns the request the
// caller must answer. previous is the plan being revised, nil on first entry.
// stopped, if set, is checked under the thread lock before the write. The
// write itself ignores ctx cancellation.
func (g *Gate) Suspend(ctx context.Context, state *core.WorkflowState, previous []core.AnalysisCategory, stopped func() bool) (*core.ApprovalRequest, error) {
	err := g.keeper.Update(context.WithoutCancel(ctx), state.ThreadID, func(tx *service.CheckpointTxn) error {
		if stopped != nil && stopped() {
			return ErrSuspendStopped
		}
		state.PlanRevision++
		state.PlanDiff = ""
		if previous != nil {
			state.PlanDiff = PlanDiff(previous, state.Plan)
		}
		state.Touch(core.NodeApprovalGate, core.StatusAwaitingApproval)
		return tx.Save(state)
	})
	if errors.Is(err, ErrSuspendStopped) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("saving approval checkpoint: %w", err)
	}
	g.metrics.CheckpointWritten(string(core.NodeApprovalGate))
	if g.bus != nil {
		g.bus.Publish(events.NewPlanReadyEvent(string(state.ThreadID), state.PlanRevision, len(state.Plan)))
	}

	g.logger.Info("plan awaiting approval",
		"thread_id", string(state.ThreadID),
		"revision", state.PlanRevision,
		"categories", len(state.Plan),
	)
	return ApprovalRequestFor(state), nil
}

// ApprovalRequestFor builds the request for a thread parked at the gate.
func ApprovalRequestFor(state *core.WorkflowState) *core.ApprovalRequest {
	return &core.ApprovalRequest{
		ThreadID:     state.ThreadID,
		Plan:         append([]core.AnalysisCategory(nil), state.Plan...),
		PlanRevision: state.PlanRevision,
		PlanDiff:     state.PlanDiff,
		Message:      ApprovalMessage(state.Plan),
	}
}

// ApprovalMessage renders the plan for review.
func ApprovalMessage(plan []core.AnalysisCategory) string {
	blocks := make([]string, 0, len(plan))
	for _, c := range plan {
		search := "No"
		if c.RequiresSearch {
			search = "Yes"
		}
		blocks = append(blocks, fmt.Sprintf("Category: %s\nDescription: %s\nRequires document search: %s\n",
			c.Name, c.Description, search))
	}

	var b strings.Builder
	b.WriteString("Please provide feedback on the following legal analysis plan for the case.\n\n")
	b.WriteString(strings.Join(blocks, "\n"))
	b.WriteString("\nDoes the analysis plan meet your needs for this litigation?\n")
	b.WriteString("Pass 'true' to approve the analysis plan.\n")
	b.WriteString("Or, provide feedback to regenerate the analysis plan:")
	return b.String()
}

// PlanDiff renders a line diff between two plan outlines. Unchanged lines
// are prefixed with two spaces, removed lines with "- " and added with "+ ".
func PlanDiff(before, after []core.AnalysisCategory) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(core.PlanOutline(before), core.PlanOutline(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				out.WriteString("\n")
			}
		}
	}
	return out.String()
}
