// Semindexd is the semindex daemon: it serves the index over HTTP and,
// when enabled, consumes index commands from NATS JetStream.
//
// Configuration is loaded from ~/.config/semindex/config.yaml and
// SEMINDEX_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon
//	semindexd serve
//
//	# Create or verify vector collections, then exit
//	semindexd ensure
//
//	# Configure via environment
//	SEMINDEX_SERVER_HTTP_PORT=9090 SEMINDEX_VECTORSTORE_PROVIDER=chromem semindexd serve
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semindex/internal/config"
	"github.com/fyrsmithlabs/semindex/internal/logging"
	"github.com/fyrsmithlabs/semindex/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath overrides the default config file location.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "semindexd",
	Short:        "Multi-tenant semantic index daemon",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/semindex/config.yaml)")
	rootCmd.AddCommand(serveCmd, ensureCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "semindexd by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

// runtime holds the process-wide logger and telemetry.
type runtime struct {
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
}

// newRuntime initializes telemetry first so the logger can bridge into it.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	obs := cfg.Observability
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = obs.EnableTelemetry
	tcfg.Endpoint = obs.OTLPEndpoint
	tcfg.Protocol = obs.OTLPProtocol
	tcfg.Insecure = obs.OTLPInsecure
	tcfg.ServiceName = obs.ServiceName
	tcfg.ServiceVersion = version
	tcfg.SamplingRate = obs.SamplingRate

	tel, err := telemetry.New(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	lcfg, err := logging.ConfigFrom(obs.LogLevel, obs.LogFormat, obs.ServiceName, obs.EnableTelemetry)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.New(lcfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if degraded, reason := tel.Degraded(); degraded {
		logger.Warn("telemetry degraded, continuing without export", zap.Error(reason))
	}
	return &runtime{logger: logger, telemetry: tel}, nil
}

func (r *runtime) close(ctx context.Context) {
	if err := r.telemetry.Shutdown(ctx); err != nil {
		r.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = logging.Sync(r.logger)
}
