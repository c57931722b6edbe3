package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/fruitsalade/hubwatch/internal/config"
	"github.com/fruitsalade/hubwatch/internal/logging"
	"github.com/fruitsalade/hubwatch/internal/metrics"
)

var (
	exit    = os.Exit
	cfgFile string
	cfg     *config.Config

	metricsServer *http.Server
)

// flagKeys maps flag names to config keys. A bound flag only wins over the
// environment and config file when it is set on the command line.
var flagKeys = map[string]string{
	"hub":            "hub_url",
	"token":          "hub_token",
	"log-level":      "log_level",
	"log-format":     "log_format",
	"metrics-addr":   "metrics_addr",
	"expand-all":     "expand_all",
	"case-sensitive": "case_sensitive",
	"sink":           "snapshot_sink",
	"out":            "snapshot_path",
}

var rootCmd = &cobra.Command{
	Use:   "hubwatch",
	Short: "Inspect a pub/sub hub: terminals, namespace and connections",
	Long: `hubwatch opens a session against a hub gateway and exposes the hub's
terminal directory, its namespace tree and its transport connections.

Settings come from flags, HUBWATCH_* environment variables and an optional
config file, in that order of precedence.`,
	SilenceErrors:      true,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.String("hub", "", "hub gateway URL")
	pf.String("token", "", "bearer token for the hub gateway")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: json, console, auto")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address")
}

func setup(cmd *cobra.Command, args []string) error {
	v, err := config.New(cfgFile)
	if err != nil {
		return err
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg, err = config.FromViper(v)
	if err != nil {
		return err
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if metricsServer != nil {
		metricsServer.Close()
		metricsServer = nil
	}
	logging.Sync()
	return nil
}
