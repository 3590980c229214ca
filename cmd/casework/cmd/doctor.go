package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/casework/internal/adapters/checkpoint"
	"github.com/hugo-lorenzo-mato/casework/internal/adapters/search"
	"github.com/hugo-lorenzo-mato/casework/internal/config"
	"github.com/hugo-lorenzo-mato/casework/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
)

var doctorTimeout time.Duration

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, storage and the host",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 5*time.Second, "timeout for each check")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	r := newRenderer(cmd)

	cfg, cfgErr := loadConfig()
	if cfgErr != nil {
		results := []diagnostics.Result{{Name: "config", Status: diagnostics.StatusFail, Detail: cfgErr.Error()}}
		if err := r.Doctor(results, diagnostics.CollectSystem(ctx, "")); err != nil {
			return err
		}
		return cfgErr
	}

	results := diagnostics.RunChecks(ctx, doctorTimeout, doctorProbes(cfg)...)
	sys := diagnostics.CollectSystem(ctx, filepath.Dir(cfg.Checkpoint.Path))
	if err := r.Doctor(results, sys); err != nil {
		return err
	}
	if !diagnostics.Healthy(results) {
		return errors.New("one or more checks failed")
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func doctorProbes(cfg *config.Config) []diagnostics.Probe {
	return []diagnostics.Probe{
		{
			Name: "config",
			Run: func(context.Context) (string, error) {
				if f := viper.GetViper().ConfigFileUsed(); f != "" {
					return f, nil
				}
				return "no config file, using defaults", nil
			},
		},
		{
			Name: "checkpoint store",
			Run: func(ctx context.Context) (string, error) {
				store, _, err := checkpoint.Open(checkpoint.Options{
					Backend:       cfg.Checkpoint.Backend,
					Path:          cfg.Checkpoint.Path,
					LockTTL:       cfg.Checkpoint.LockTTL,
					RedisAddr:     cfg.Checkpoint.Redis.Addr,
					RedisPassword: cfg.Checkpoint.Redis.Password,
					RedisDB:       cfg.Checkpoint.Redis.DB,
					RedisPrefix:   cfg.Checkpoint.Redis.Prefix,
				})
				if err != nil {
					return "", err
				}
				defer store.Close()
				if p, ok := store.(pinger); ok {
					if err := p.Ping(ctx); err != nil {
						return "", fmt.Errorf("%s unreachable: %w", cfg.Checkpoint.Redis.Addr, err)
					}
				}
				threads, err := store.List(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s backend, %d threads", cfg.Checkpoint.Backend, len(threads)), nil
			},
		},
		{
			Name: "document index",
			Run: func(ctx context.Context) (string, error) {
				idx, err := search.OpenIndex(cfg.Search.IndexPath, logging.NewNop())
				if err != nil {
					return "", err
				}
				defer idx.Close()
				n, err := idx.Count(ctx)
				if err != nil {
					return "", err
				}
				if n == 0 {
					return "", errors.New("index is empty; run `casework index <dir>`")
				}
				return fmt.Sprintf("%d documents", n), nil
			},
			Optional: true,
		},
		{
			Name:     "provider credentials",
			Optional: true,
			Run: func(context.Context) (string, error) {
				if cfg.Provider.APIKey == "" {
					return "", errors.New("provider.api_key is not set (CASEWORK_PROVIDER_API_KEY)")
				}
				return fmt.Sprintf("%s at %s", cfg.Provider.Model, cfg.Provider.BaseURL), nil
			},
		},
	}
}
