package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/casework/internal/clip"
	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

var stopCmd = &cobra.Command{
	Use:   "stop <thread-id>",
	Short: "Stop a thread",
	Long: `Mark a thread as stopped so it can no longer be resumed.

A run owned by another process (such as "casework serve") is only marked in
the store; stop it through that process's API to cancel in-flight work.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := core.ThreadID(args[0])
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.engine.Stop(ctx, id); err != nil {
				return err
			}
			status, err := a.engine.Status(ctx, id)
			if err != nil {
				return err
			}
			return newRenderer(cmd).Status(status)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <thread-id>",
	Short: "Show a thread's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := core.ThreadID(args[0])
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			status, err := a.engine.Status(ctx, id)
			if err != nil {
				return err
			}
			r := newRenderer(cmd)
			if err := r.Status(status); err != nil {
				return err
			}
			if status.Status != core.StatusAwaitingApproval || !statusShowPlan {
				return nil
			}
			req, err := a.engine.Approval(ctx, id)
			if err != nil {
				return err
			}
			return r.Approval(req)
		})
	},
}

var statusShowPlan bool

var threadsStatus string

var threadsCmd = &cobra.Command{
	Use:     "threads [filter]",
	Aliases: []string{"ls"},
	Short:   "List known threads",
	Long: `List every thread in the checkpoint store, most recently updated first.

An optional filter fuzzy-matches thread ids.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			list, err := a.engine.List(ctx)
			if err != nil {
				return err
			}
			list = filterThreads(list, pattern, core.RunStatus(threadsStatus))
			return newRenderer(cmd).Threads(list)
		})
	},
}

// filterThreads keeps threads whose id fuzzy-matches pattern and whose status
// equals status. Empty arguments match everything. A fuzzy filter orders the
// result by match quality.
func filterThreads(list []core.ThreadSummary, pattern string, status core.RunStatus) []core.ThreadSummary {
	if status != "" {
		kept := make([]core.ThreadSummary, 0, len(list))
		for _, t := range list {
			if t.Status == status {
				kept = append(kept, t)
			}
		}
		list = kept
	}
	if pattern == "" {
		return list
	}

	ids := make([]string, len(list))
	for i, t := range list {
		ids[i] = string(t.ThreadID)
	}
	matches := fuzzy.Find(pattern, ids)
	out := make([]core.ThreadSummary, 0, len(matches))
	for _, m := range matches {
		out = append(out, list[m.Index])
	}
	return out
}

var (
	reportCopy bool
	reportOut  string
)

var reportCmd = &cobra.Command{
	Use:   "report <thread-id>",
	Short: "Print the final report of a completed thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := core.ThreadID(args[0])
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			report, err := a.engine.Report(ctx, id)
			if err != nil {
				return err
			}
			if reportOut != "" {
				if err := writeReport(reportOut, report); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", reportOut)
			}
			if reportCopy {
				res, err := clip.New().Copy(report)
				if err != nil {
					return fmt.Errorf("copying report: %w", err)
				}
				if res.Method == clip.MethodFile {
					fmt.Fprintf(cmd.ErrOrStderr(), "No clipboard available; report saved to %s\n", res.Path)
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "Report copied (%s)\n", res.Method)
				}
			}
			if reportOut != "" || reportCopy {
				return nil
			}
			return newRenderer(cmd).Report(id, report)
		})
	},
}

// writeReport replaces path atomically.
func writeReport(path, report string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	if err := renameio.WriteFile(path, []byte(report), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func init() {
	statusCmd.Flags().BoolVar(&statusShowPlan, "plan", true, "print the pending plan of a thread awaiting approval")
	threadsCmd.Flags().StringVar(&threadsStatus, "status", "", "only list threads with this status")
	reportCmd.Flags().BoolVarP(&reportCopy, "copy", "c", false, "copy the report to the clipboard")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "write the report to a file")

	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(threadsCmd)
	rootCmd.AddCommand(reportCmd)
}
