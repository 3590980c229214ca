package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/fsutil"
)

var (
	startFile         string
	startQueries      int
	startDepth        int
	startWitnesses    int
	startStructure    string
	startNoDeposition bool
	startYes          bool
)

var startCmd = &cobra.Command{
	Use:   "start [background]",
	Short: "Plan a new analysis thread",
	Long: `Start a new thread from a case background and print the proposed plan.

The background is taken from the argument, from --file, or from stdin when
the argument is "-". The thread then waits at the approval gate until it is
resumed with "casework resume".`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&startFile, "file", "f", "", "read the background from a file")
	startCmd.Flags().IntVar(&startQueries, "queries", 0, "search queries per round (default from config)")
	startCmd.Flags().IntVar(&startDepth, "depth", 0, "maximum search rounds per category (default from config)")
	startCmd.Flags().IntVar(&startWitnesses, "witnesses", -1, "maximum witnesses for deposition questions (default from config)")
	startCmd.Flags().StringVar(&startStructure, "structure", "", "comma separated analysis areas (default from config)")
	startCmd.Flags().BoolVar(&startNoDeposition, "no-deposition", false, "skip deposition questions")
	startCmd.Flags().BoolVarP(&startYes, "yes", "y", false, "approve the first plan and run to completion")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	background, err := readBackground(args, startFile, cmd.InOrStdin(), stdinIsPipe())
	if err != nil {
		return err
	}

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	return withApp(ctx, func(ctx context.Context, a *app) error {
		opts := applyStartFlags(cmd, a.engine.DefaultOptions())
		req, err := a.engine.Start(ctx, background, opts)
		if err != nil {
			return err
		}
		r := newRenderer(cmd)
		if !startYes {
			return r.Approval(req)
		}
		a.logger.Info("approving plan", "thread_id", string(req.ThreadID), "categories", len(req.Plan))
		return resumeAndWait(ctx, cmd, a, req.ThreadID, core.Approve())
	})
}

// readBackground resolves the case background from an argument, a file or
// stdin ("-", or no argument when stdin is piped).
func readBackground(args []string, file string, stdin io.Reader, piped bool) (string, error) {
	if len(args) == 0 && file == "" && piped {
		args = []string{"-"}
	}
	var text string
	switch {
	case file != "" && len(args) > 0:
		return "", core.ErrValidation(core.CodeInvalidInput, "pass the background as an argument or with --file, not both")
	case file != "":
		abs, err := filepath.Abs(file)
		if err != nil {
			return "", err
		}
		data, err := fsutil.ReadFileScoped(abs)
		if err != nil {
			return "", fmt.Errorf("reading background: %w", err)
		}
		text = string(data)
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(io.LimitReader(stdin, core.MaxBackgroundLength+1))
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	case len(args) == 1:
		text = args[0]
	default:
		return "", core.ErrValidation(core.CodeEmptyBackground, "a case background is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", core.ErrValidation(core.CodeEmptyBackground, "background must not be empty")
	}
	return text, nil
}

// applyStartFlags overlays the flags the user set onto opts.
func applyStartFlags(cmd *cobra.Command, opts core.AnalysisOptions) core.AnalysisOptions {
	flags := cmd.Flags()
	if flags.Changed("queries") {
		opts.NumberOfQueries = startQueries
	}
	if flags.Changed("depth") {
		opts.MaxSearchDepth = startDepth
	}
	if flags.Changed("witnesses") {
		opts.MaxWitnesses = startWitnesses
	}
	if flags.Changed("structure") {
		opts.AnalysisStructure = startStructure
	}
	if startNoDeposition {
		opts.IncludeDepositionQuestions = false
	}
	return opts
}

func stdinIsPipe() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice == 0
}
