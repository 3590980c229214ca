package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/casework/internal/config"
	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/tui"
)

var (
	cfgFile    string
	logLevel   string
	logFormat  string
	outputMode string
	noColor    bool

	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "casework",
	Short: "Resumable legal case analysis",
	Long: `casework turns a case background into a structured legal analysis.

It proposes an analysis plan, waits for a human to approve or revise it,
then researches every category against the indexed case documents in
parallel and compiles a markdown report with optional deposition questions.

Every thread is checkpointed at the approval gate, so a plan can be
reviewed hours later, from another shell or over the HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints any error.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// ExitCode maps an error to a process exit status. Caller mistakes exit 2.
func ExitCode(err error) int {
	var de *core.DomainError
	if errors.As(err, &de) {
		switch de.Category {
		case core.ErrCatValidation, core.ErrCatContract, core.ErrCatNotFound, core.ErrCatState:
			return 2
		}
	}
	return 1
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./.casework.yaml, then ~/.config/casework/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", "auto",
		"output format (auto, pretty, plain, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig reads and validates configuration using the global viper so
// flag bindings apply.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func newRenderer(cmd *cobra.Command) *tui.Renderer {
	detector := tui.NewDetector().NoColor(noColor)
	if mode, ok := tui.ParseOutputMode(outputMode); ok {
		detector.ForceMode(mode)
	}
	return tui.NewRenderer(cmd.OutOrStdout(), detector.Detect(), terminalWidth())
}
