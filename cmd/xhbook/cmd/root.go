package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"xhbook/lib/configutil"
	"xhbook/lib/telemetry"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	current *app
	tracing *telemetry.Telemetry
)

var rootCmd = &cobra.Command{
	Use:           "xhbook",
	Short:         "xhbook orders textbooks from the Xinhua campus bookstore.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initSlog(verbose)

		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		traced := setupTracing(cmd.Context())

		current, err = newApp(cfg, traced)
		if err != nil {
			return err
		}
		current.checkForUpdates()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current == nil || current.updateShown {
			return
		}
		check, ok := current.pendingUpdate()
		if ok {
			fmt.Fprintf(cmd.ErrOrStderr(), "\nA new version is available: %s\n", check.LatestVersionUrl)
			if check.ReleaseNote != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), check.ReleaseNote)
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "xhbook.json5", "Path of the configuration file.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
}

func initSlog(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
}

// setupTracing exports spans when a telemetry.json5 is found above the
// working directory and reports whether requests should be traced.
func setupTracing(ctx context.Context) bool {
	cfg, err := configutil.ReadRecursively[telemetry.Config]("telemetry.json5")
	if err != nil {
		slog.Debug("telemetry disabled", "err", err)
		return false
	}
	t, err := telemetry.Setup(ctx, "xhbook", cfg)
	if err != nil {
		slog.Warn("setup telemetry", "err", err)
		return false
	}
	tracing = &t
	traces := cfg.Otlp.Traces
	return traces.GrpcEndpoint != "" || traces.HttpEndpoint != ""
}

func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if current != nil {
		current.close()
		current = nil
	}
	if tracing != nil {
		tracing.Shutdown(context.Background())
		tracing = nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
