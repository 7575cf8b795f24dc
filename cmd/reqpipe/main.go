// Command reqpipe runs request pipelines defined in YAML files and keeps a
// history of past runs.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dcshock/reqpipe/config"
	"github.com/dcshock/reqpipe/telemetry"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, a := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	// Runs after failed commands too, so their spans are still exported.
	if cerr := a.close(context.Background()); cerr != nil {
		fmt.Fprintln(os.Stderr, "reqpipe: shutdown tracing:", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// app holds state shared by the subcommands once settings are loaded.
type app struct {
	settingsFile string
	settings     *config.Settings
	logger       *slog.Logger
	traceOut     io.Writer
	shutdown     func(context.Context) error
}

// newRootCmd returns the root command and the app it shares with its
// subcommands. Callers close the app once the command returns.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{traceOut: os.Stderr}
	rootCmd := &cobra.Command{
		Use:   "reqpipe",
		Short: "Run sequences of dependent requests defined in YAML",
		Long: `reqpipe runs pipelines of HTTP requests where each request may be computed
from the previous response. Pipelines are defined in a YAML file; settings come
from --config and REQPIPE_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.settingsFile, "config", "reqpipe.yaml", "path to settings file")

	rootCmd.AddCommand(a.runCmd())
	rootCmd.AddCommand(a.validateCmd())
	rootCmd.AddCommand(a.historyCmd())
	return rootCmd, a
}

func (a *app) init() error {
	settings, err := config.LoadSettings(a.settingsFile)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	a.settings = settings
	a.logger = settings.Log.NewLogger()
	slog.SetDefault(a.logger)

	if settings.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(settings.Tracing.Service, a.traceOut, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.shutdown = shutdown
	}
	return nil
}

// close flushes and stops the tracer provider, if one was started.
func (a *app) close(ctx context.Context) error {
	if a.shutdown == nil {
		return nil
	}
	shutdown := a.shutdown
	a.shutdown = nil
	return shutdown(ctx)
}
