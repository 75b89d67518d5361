package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/legacylens/internal/export"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/rpc"
	"github.com/dusk-indust/legacylens/internal/status"
)

func submitCmd(c *cli) *cobra.Command {
	var (
		req     rpc.SubmitTaskRequest
		inline  bool
		follow  bool
		timeout time.Duration
		retries int
	)
	cmd := &cobra.Command{
		Use:   "submit <source>",
		Short: "Submit a source for analysis to a running server",
		Long: `submit queues one analysis task on the server named by --server or
server.url. The source is resolved against the server's source root
unless --inline sends the local file's content with the task.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req.SourceID = args[0]
			if inline {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				req.SourceID = sourceID(args[0])
				req.Content = string(data)
			}
			if timeout > 0 {
				req.TimeoutSeconds = int(timeout.Round(time.Second) / time.Second)
			}
			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &retries
			}

			client := c.client()
			resp, err := client.SubmitTask(ctx, req)
			if err != nil {
				return err
			}
			if !follow {
				fmt.Fprintln(c.stdout, resp.TaskID)
				return nil
			}

			printer := status.NewPrinter(c.stdout)
			events, err := client.Subscribe(ctx, resp.TaskID)
			if err != nil {
				return err
			}
			for se := range events {
				if se.Err != nil {
					return se.Err
				}
				printer.Event(se.Event)
			}
			view, err := client.GetTask(ctx, rpc.GetTaskRequest{TaskID: resp.TaskID, IncludeResult: true})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout)
			printer.Task(view.Task, view.Result)
			if view.Task.Status != orchestrator.StatusCompleted {
				return fmt.Errorf("task %s ended %s", resp.TaskID, view.Task.Status)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&inline, "inline", false, "send the local file's content with the task")
	flags.BoolVarP(&follow, "follow", "f", false, "stream task events until the task finishes")
	flags.StringVarP(&req.Priority, "priority", "p", "", "task priority: high, medium, low")
	flags.StringVarP(&req.Benchmark, "benchmark", "b", "", "benchmark profile")
	flags.StringVarP(&req.Language, "language", "l", "", "language override: cobol, copybook, jcl, assembler")
	flags.StringVar(&req.TaskID, "id", "", "task id to use instead of a generated one")
	flags.DurationVar(&timeout, "timeout", 0, "per-attempt timeout")
	flags.IntVar(&retries, "max-retries", 0, "retries after a recoverable failure")
	return cmd
}

func statusCmd(c *cli) *cobra.Command {
	var (
		filter  rpc.ListTasksRequest
		state   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show one task or list the tasks on a running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := c.client()
			printer := status.NewPrinter(c.stdout)

			if len(args) == 1 {
				view, err := client.GetTask(ctx, rpc.GetTaskRequest{TaskID: args[0], IncludeResult: true})
				if err != nil {
					return err
				}
				if jsonOut {
					return export.WriteJSON(c.stdout, view)
				}
				printer.Task(view.Task, view.Result)
				return nil
			}

			if state != "" {
				st, err := orchestrator.ParseStatus(state)
				if err != nil {
					return err
				}
				filter.Status = st
			}
			page, err := client.ListTasks(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOut {
				return export.WriteJSON(c.stdout, page)
			}
			printer.Tasks(page.Tasks)
			if page.NextPageToken != "" {
				fmt.Fprintf(c.stdout, "\n%d tasks, more with --page-token %s\n", page.TotalSize, page.NextPageToken)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&state, "status", "s", "", "only tasks with this status")
	flags.StringVar(&filter.SourceID, "source", "", "only tasks for this source id")
	flags.IntVar(&filter.PageSize, "page-size", 0, "tasks per page")
	flags.StringVar(&filter.PageToken, "page-token", "", "continue a previous listing")
	flags.BoolVar(&jsonOut, "json", false, "write JSON instead of tables")
	return cmd
}

func summaryCmd(c *cli) *cobra.Command {
	var (
		priority string
		noWait   bool
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "summary <task-id>...",
		Short: "Request a multi-source summary from a running server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.client().RequestSummary(cmd.Context(), rpc.SummaryRequest{
				TaskIDs:  args,
				Priority: priority,
				Wait:     !noWait,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return export.WriteJSON(c.stdout, resp)
			}
			if resp.Summary == nil {
				fmt.Fprintf(c.stdout, "%s %s %s\n", status.Icon(resp.Status), resp.TaskID, resp.Status)
				if noWait {
					return nil
				}
				return fmt.Errorf("summary task %s ended %s", resp.TaskID, resp.Status)
			}
			status.NewPrinter(c.stdout).Summary(resp.Summary)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&priority, "priority", "p", "", "summary task priority")
	flags.BoolVar(&noWait, "no-wait", false, "print the summary task id without waiting")
	flags.BoolVar(&jsonOut, "json", false, "write JSON instead of tables")
	return cmd
}

func impactCmd(c *cli) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "impact <program>...",
		Short: "List the programs affected by changing the given programs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client().AssessImpact(cmd.Context(), rpc.ImpactRequest{Programs: args})
			if err != nil {
				return err
			}
			if jsonOut {
				return export.WriteJSON(c.stdout, res)
			}
			fmt.Fprintf(c.stdout, "changed:               %v\n", res.Changed)
			fmt.Fprintf(c.stdout, "directly affected:     %v\n", res.DirectlyAffected)
			fmt.Fprintf(c.stdout, "transitively affected: %v\n", res.TransitivelyAffected)
			fmt.Fprintf(c.stdout, "risk score:            %.2f\n", res.RiskScore)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "write JSON")
	return cmd
}
