package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/legacylens/internal/app"
	"github.com/dusk-indust/legacylens/internal/export"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/results"
	"github.com/dusk-indust/legacylens/internal/rpc"
)

func exportCmd(c *cli) *cobra.Command {
	var from []string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored results as JSON or the program graph as Mermaid",
		Long: `export reads the configured result store and program graph. With the
memory backends nothing survives between runs, so --from analyzes the
given files or directories first and exports what they produced.`,
	}
	cmd.PersistentFlags().StringSliceVar(&from, "from", nil, "analyze these files or directories before exporting")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "summary [task-id]...",
			Short: "Write finalized results and their aggregate as JSON",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withExportApp(cmd.Context(), c, from, func(ctx context.Context, a *app.App, analyzed []string) error {
					ids := args
					if len(ids) == 0 {
						ids = analyzed
					}
					report, err := export.BuildReport(ctx, a.Results, ids)
					if err != nil {
						return err
					}
					return export.WriteJSON(c.stdout, report)
				})
			},
		},
		&cobra.Command{
			Use:   "graph",
			Short: "Write the program call graph as a Mermaid flowchart",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withExportApp(cmd.Context(), c, from, func(ctx context.Context, a *app.App, _ []string) error {
					out, err := export.GenerateCallGraph(ctx, a.Graph)
					if err != nil {
						return err
					}
					_, err = fmt.Fprint(c.stdout, out)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "flow <program>",
			Short: "Write the PERFORM flow of one program as a Mermaid flowchart",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withExportApp(cmd.Context(), c, from, func(ctx context.Context, a *app.App, _ []string) error {
					out, err := export.GenerateParagraphFlow(ctx, a.Graph, args[0])
					if err != nil {
						return err
					}
					_, err = fmt.Fprint(c.stdout, out)
					return err
				})
			},
		},
	)
	return cmd
}

// withExportApp opens the configured stores, analyzes from when it is not
// empty, and calls fn with the ids of the tasks that completed.
func withExportApp(ctx context.Context, c *cli, from []string, fn func(context.Context, *app.App, []string) error) error {
	if len(from) == 0 && c.cfg.Store.Backend == results.BackendMemory {
		return errors.New("the memory result store is empty at startup; configure store.backend or pass --from")
	}
	a, err := app.New(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var analyzed []string
	if len(from) > 0 {
		if analyzed, err = analyzeLocal(ctx, a, from); err != nil {
			return err
		}
	}
	return fn(ctx, a, analyzed)
}

// analyzeLocal runs the task manager of a until every source below paths
// is terminal, and returns the ids of the completed tasks.
func analyzeLocal(ctx context.Context, a *app.App, paths []string) ([]string, error) {
	files, err := collectSources(paths, a.Config.Watch.Extensions)
	if err != nil {
		return nil, err
	}
	contents, err := readSources(ctx, files)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() {
		if err := a.Run(runCtx); err != nil {
			a.Logger.Error("task manager stopped", "error", err)
		}
	})
	defer func() {
		cancel()
		wg.Wait()
	}()

	ids := make([]string, 0, len(files))
	for i, path := range files {
		resp, err := a.Service.SubmitTask(ctx, rpc.SubmitTaskRequest{
			SourceID: sourceID(path),
			Content:  string(contents[i]),
		})
		if err != nil {
			return nil, fmt.Errorf("submit %s: %w", path, err)
		}
		ids = append(ids, resp.TaskID)
	}
	recs, err := a.Manager.Await(ctx, ids...)
	if err != nil {
		return nil, err
	}
	var completed []string
	for _, rec := range recs {
		if rec.Status == orchestrator.StatusCompleted {
			completed = append(completed, rec.ID())
		}
	}
	return completed, nil
}
