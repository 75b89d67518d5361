package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/legacylens/internal/app"
	"github.com/dusk-indust/legacylens/internal/mcptools"
	"github.com/dusk-indust/legacylens/internal/notify"
	"github.com/dusk-indust/legacylens/internal/rpc"
	"github.com/dusk-indust/legacylens/internal/watch"
)

func serveCmd(c *cli) *cobra.Command {
	var (
		addr    string
		mcpAddr string
		natsURL string
		dirs    []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task manager with the JSON-RPC and MCP servers",
		Long: `serve runs the task manager and exposes it over JSON-RPC at POST /rpc,
task event streams at GET /tasks/{id}/events, Prometheus metrics at
/metrics and MCP over streamable HTTP at /mcp. With --mcp-addr MCP gets
its own listener. Task events are published to NATS when a URL is
configured, and configured directories are watched for changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if mcpAddr != "" {
				cfg.Server.MCPAddr = mcpAddr
			}
			if natsURL != "" {
				cfg.NATS.URL = natsURL
			}
			if len(dirs) > 0 {
				cfg.Watch.Dirs = dirs
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := c.tracing(ctx)
			if err != nil {
				return err
			}
			defer c.shutdownTracing(shutdown)

			a, err := app.New(ctx, cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					c.logger.Error("close failed", "error", err)
				}
			}()
			return serve(ctx, c, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	cmd.Flags().StringVar(&mcpAddr, "mcp-addr", "", "separate MCP listen address (overrides server.mcpAddr)")
	cmd.Flags().StringVar(&natsURL, "nats", "", "NATS URL for task events (overrides nats.url)")
	cmd.Flags().StringSliceVar(&dirs, "watch", nil, "directories to watch for changed sources")
	return cmd
}

// serve runs every configured surface of a until ctx is cancelled or one
// of them fails.
func serve(ctx context.Context, c *cli, a *app.App) error {
	cfg := a.Config

	var notifier *notify.Notifier
	if cfg.NATS.URL != "" {
		nc, err := notify.Connect(cfg.NATS.URL, c.logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		notifier = notify.New(nc, cfg.NATS.SubjectPrefix, c.logger)
	}

	var watcher *watch.Watcher
	if len(cfg.Watch.Dirs) > 0 {
		w, err := watch.New(a.Service, watch.Options{
			Root:       cfg.Sources.Root,
			Dirs:       cfg.Watch.Dirs,
			Extensions: cfg.Watch.Extensions,
			Debounce:   cfg.Watch.Debounce,
			Logger:     c.logger,
		})
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		watcher = w
	}

	opts := []rpc.ServerOption{
		rpc.WithGatherer(a.Registry),
		rpc.WithServerLogger(c.logger),
	}
	if cfg.Server.MCPAddr == "" {
		opts = append(opts, rpc.WithRoute("/mcp", mcptools.NewHTTPHandler(a.Service)))
	}
	server := rpc.NewServer(a.Service, a.Manager, opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(ctx) })
	g.Go(func() error { return server.ListenAndServe(ctx, cfg.Server.Addr) })
	if cfg.Server.MCPAddr != "" {
		g.Go(func() error {
			c.logger.Info("mcp server listening", "addr", cfg.Server.MCPAddr)
			return mcptools.ListenAndServe(ctx, a.Service, cfg.Server.MCPAddr)
		})
	}
	if notifier != nil {
		g.Go(func() error { return notifier.Run(ctx, a.Reporter) })
	}
	if watcher != nil {
		g.Go(func() error { return watcher.Run(ctx) })
	}
	return g.Wait()
}
