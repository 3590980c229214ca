package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

var (
	resumeApprove  bool
	resumeFeedback string
	resumeDetach   bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <thread-id>",
	Short: "Approve or revise a plan waiting at the approval gate",
	Long: `Answer the approval gate of a thread.

--approve runs the plan: every category is researched in parallel, then the
report is compiled. The command waits for the run to finish unless --detach
is given. Interrupting the wait leaves the thread at the approval gate so it
can be approved again.

--feedback "..." asks for a revised plan and prints it.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeApprove, "approve", false, "approve the current plan")
	resumeCmd.Flags().StringVar(&resumeFeedback, "feedback", "", "revise the plan with this feedback")
	resumeCmd.Flags().BoolVar(&resumeDetach, "detach", false, "return once the run has started (only useful with a shared store)")
	resumeCmd.MarkFlagsMutuallyExclusive("approve", "feedback")
	resumeCmd.MarkFlagsOneRequired("approve", "feedback")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := core.ThreadID(args[0])
	decision, err := decisionFromFlags(resumeApprove, resumeFeedback)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	return withApp(ctx, func(ctx context.Context, a *app) error {
		if decision.Kind == core.DecisionApprove && resumeDetach {
			res, err := a.engine.Resume(ctx, id, decision)
			if err != nil {
				return err
			}
			return newRenderer(cmd).Status(res.Status)
		}
		return resumeAndWait(ctx, cmd, a, id, decision)
	})
}

// decisionFromFlags builds a gate decision from the resume flags.
func decisionFromFlags(approve bool, feedback string) (core.Decision, error) {
	if approve {
		return core.Approve(), nil
	}
	d := core.Revise(feedback)
	return d, d.Validate()
}

// resumeAndWait answers the gate and, for an approval, blocks until the run
// ends. A revision prints the new plan.
func resumeAndWait(ctx context.Context, cmd *cobra.Command, a *app, id core.ThreadID, decision core.Decision) error {
	r := newRenderer(cmd)
	res, err := a.engine.Resume(ctx, id, decision)
	if err != nil {
		return err
	}
	if res.Approval != nil {
		return r.Approval(res.Approval)
	}

	status, err := a.engine.Wait(ctx, id)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn("interrupted; the thread stays at the approval gate", "thread_id", string(id))
		}
		return err
	}
	if err := r.Status(status); err != nil {
		return err
	}

	switch status.Status {
	case core.StatusCompleted, core.StatusCompletedWithDegraded:
		report, err := a.engine.Report(ctx, id)
		if err != nil {
			return err
		}
		return r.Report(id, report)
	case core.StatusFailed:
		return core.ErrState(core.CodeInvalidState, fmt.Sprintf("thread %s failed: %s", id, status.Error))
	}
	return nil
}

// interruptContext cancels on SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
