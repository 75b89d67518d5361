// Package main provides the legacylens binary entry point.
// legacylens queues COBOL, JCL and assembler sources for analysis and
// serves the results over JSON-RPC and MCP.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/legacylens/internal/config"
	"github.com/dusk-indust/legacylens/internal/rpc"
	"github.com/dusk-indust/legacylens/internal/telemetry"
)

// version is set at build time.
var version = "dev"

const appName = "legacylens"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd(newCLI(os.Stdout, os.Stderr)).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the global flags and the state loaded from them.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string
	serverURL  string

	cfg    *config.Config
	logger *slog.Logger
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{stdout: stdout, stderr: stderr}
}

func rootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Analyze legacy mainframe sources through a prioritized task pipeline",
		Long: `legacylens queues COBOL, JCL and assembler sources as analysis tasks.
Each task runs AST parsing, metrics, security, benchmark and enhancement
stages under a bounded worker pool with retry and timeout handling, and
its results are aggregated into multi-source summaries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	cmd.SetOut(c.stdout)
	cmd.SetErr(c.stderr)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "config file (default: legacylens.yaml in the work directory or a parent)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&c.logFormat, "log-format", "", "log format: text, json")
	flags.StringVar(&c.serverURL, "server", "", "URL of a running legacylens server")

	cmd.AddCommand(
		serveCmd(c),
		analyzeCmd(c),
		submitCmd(c),
		statusCmd(c),
		summaryCmd(c),
		impactCmd(c),
		watchCmd(c),
		mcpCmd(c),
		exportCmd(c),
		initCmd(c),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			PersistentPreRunE: func(*cobra.Command, []string) error {
				return nil
			},
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s/%s)\n", appName, version, runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return cmd
}

// load reads the layered configuration and applies flag overrides.
func (c *cli) load() error {
	bootstrap := config.LogConfig{Level: "warn"}.NewLogger(c.stderr)
	cfg, err := config.NewLoader(bootstrap).Load(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}
	if c.serverURL != "" {
		cfg.Server.URL = c.serverURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = cfg.Log.NewLogger(c.stderr)
	slog.SetDefault(c.logger)
	return nil
}

// client returns a JSON-RPC client for the configured server.
func (c *cli) client() *rpc.HTTPClient {
	return rpc.NewHTTPClient(c.cfg.Server.URL)
}

// tracing installs the tracer provider. Spans go to stderr so they never
// mix with command output.
func (c *cli) tracing(ctx context.Context) (telemetry.ShutdownFunc, error) {
	return telemetry.Setup(ctx, telemetry.Config{
		Tracing:     c.cfg.Telemetry.Tracing,
		ServiceName: c.cfg.Telemetry.ServiceName,
		Writer:      c.stderr,
	})
}

// shutdownTracing flushes spans with a fresh context.
func (c *cli) shutdownTracing(shutdown telemetry.ShutdownFunc) {
	if err := shutdown(context.Background()); err != nil {
		c.logger.Warn("tracer shutdown failed", "error", err)
	}
}
