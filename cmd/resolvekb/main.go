package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/resolvekb/internal/cli"
	"github.com/cloo-solutions/resolvekb/internal/cli/kb"
	"github.com/cloo-solutions/resolvekb/internal/config"
	"github.com/cloo-solutions/resolvekb/internal/logging"
	"github.com/cloo-solutions/resolvekb/internal/metrics"
	"github.com/cloo-solutions/resolvekb/internal/telemetry"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfg      *config.Config
		logger   = zap.NewNop()
		shutdown = func() {}
	)

	open := func(ctx context.Context) (*kb.App, error) {
		return kb.Open(ctx, cfg, logger)
	}

	rootCmd := kb.NewRootCmd(open, version)
	cli.AddHelpJSONFlag(rootCmd)

	// Configuration is only read by commands that run, so --help and
	// --help-json work without a valid environment.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		if logger, err = logging.New(logging.Config{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
			Output: cfg.LogOutput,
		}); err != nil {
			return err
		}

		flush, err := telemetry.Init(telemetry.Config{
			DSN:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
			Debug:       cfg.Debug,
		}, logger)
		if err != nil {
			logger.Warn("sentry disabled", zap.Error(err))
			return nil
		}
		shutdown = flush
		return nil
	}

	if handled, err := cli.CheckHelpJSON(rootCmd, os.Args[1:], os.Stdout); handled {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	shutdown()

	if cfg != nil && cfg.MetricsTextfile != "" {
		if werr := metrics.WriteTextfile(cfg.MetricsTextfile); werr != nil {
			logger.Warn("failed to write metrics", zap.String("path", cfg.MetricsTextfile), zap.Error(werr))
		}
	}
	_ = logger.Sync()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
