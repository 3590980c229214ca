package cmd

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/casework/internal/api"
	"github.com/hugo-lorenzo-mato/casework/internal/diagnostics"
)

var (
	serveAddr            string
	serveMonitorInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API",
	Long: `Serve the thread control API and the live event stream.

Runs started through the API belong to this process. On SIGINT or SIGTERM
live runs are cancelled without being stopped, so their threads stay at the
approval gate and can be approved again after a restart.

Changes to log.level in the config file apply without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().DurationVar(&serveMonitorInterval, "monitor-interval", 30*time.Second, "resource sampling interval")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	return withApp(ctx, func(ctx context.Context, a *app) error {
		watchLogLevel(a)

		monitor := diagnostics.NewResourceMonitor(
			serveMonitorInterval,
			diagnostics.DefaultThresholds(),
			120,
			a.engine.Sessions().Len,
			a.logger,
		)
		monitor.Start(ctx)
		defer monitor.Stop()

		srv := api.NewServer(a.engine, a.bus,
			api.WithLogger(a.logger),
			api.WithMetrics(a.metrics),
			api.WithCORSOrigins(a.cfg.Server.CORSOrigins),
			api.WithHealthDetail(func() any {
				snap, _ := monitor.Latest()
				return map[string]any{
					"snapshot": snap,
					"warnings": monitor.CheckHealth(),
					"uptime":   monitor.Uptime().Round(time.Second).String(),
				}
			}),
		)
		err := srv.ListenAndServe(ctx, a.cfg.Server.Addr)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if serr := a.engine.Shutdown(shutdownCtx); serr != nil {
			a.logger.Warn("live runs did not exit in time", "error", serr)
		}
		return err
	})
}

// watchLogLevel applies log level edits from the config file.
func watchLogLevel(a *app) {
	v := viper.GetViper()
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		level := v.GetString("log.level")
		a.logger.SetLevel(level)
		a.logger.Info("config reloaded", "file", e.Name, "log_level", level)
	})
	v.WatchConfig()
}
