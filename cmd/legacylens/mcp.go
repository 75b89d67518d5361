package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/legacylens/internal/app"
	"github.com/dusk-indust/legacylens/internal/mcptools"
)

func mcpCmd(c *cli) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the task tools over MCP on stdin/stdout",
		Long: `mcp serves submit_task, get_task_status, list_tasks, request_summary and
assess_impact to an MCP client over stdio. Tasks run in-process unless
--remote forwards every call to the server at --server or server.url.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if remote {
				return mcptools.RunStdio(ctx, c.client())
			}

			a, err := app.New(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var wg sync.WaitGroup
			defer wg.Wait()
			defer stop()
			wg.Go(func() {
				if err := a.Run(ctx); err != nil {
					c.logger.Error("task manager stopped", "error", err)
				}
			})
			return mcptools.RunStdio(ctx, a.Service)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "forward tool calls to a running server")
	return cmd
}
