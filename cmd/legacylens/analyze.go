package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/legacylens/internal/app"
	"github.com/dusk-indust/legacylens/internal/export"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/rpc"
	"github.com/dusk-indust/legacylens/internal/status"
)

// maxParallelReads bounds concurrent source reads in analyze.
const maxParallelReads = 8

type analyzeFlags struct {
	priority    string
	benchmark   string
	language    string
	concurrency int
	progress    bool
	details     bool
	noSummary   bool
	jsonOut     bool
}

func analyzeCmd(c *cli) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <file|dir>...",
		Short: "Analyze sources in-process and print the results",
		Long: `analyze runs a local task manager, submits one task per source file and
waits for all of them. Directories are searched recursively for files
with the configured watch extensions. When more than one task completes,
a summary over all of them is requested as well.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAnalyze(ctx, c, args, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.priority, "priority", "p", "", "task priority: high, medium, low")
	flags.StringVarP(&f.benchmark, "benchmark", "b", "", "benchmark profile")
	flags.StringVarP(&f.language, "language", "l", "", "language override: cobol, copybook, jcl, assembler")
	flags.IntVarP(&f.concurrency, "concurrency", "j", 0, "maximum concurrent tasks (overrides manager.maxConcurrent)")
	flags.BoolVar(&f.progress, "progress", false, "print task events as they happen")
	flags.BoolVar(&f.details, "details", false, "print the result of every completed task")
	flags.BoolVar(&f.noSummary, "no-summary", false, "skip the multi-source summary")
	flags.BoolVar(&f.jsonOut, "json", false, "write a JSON report instead of tables")
	return cmd
}

func runAnalyze(ctx context.Context, c *cli, args []string, f analyzeFlags) error {
	cfg := c.cfg
	if f.concurrency > 0 {
		cfg.Manager.MaxConcurrent = f.concurrency
	}

	paths, err := collectSources(args, cfg.Watch.Extensions)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no source files found in %s", strings.Join(args, ", "))
	}
	contents, err := readSources(ctx, paths)
	if err != nil {
		return err
	}

	shutdown, err := c.tracing(ctx)
	if err != nil {
		return err
	}
	defer c.shutdownTracing(shutdown)

	a, err := app.New(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	printer := status.NewPrinter(c.stdout)
	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() {
		if err := a.Run(runCtx); err != nil {
			c.logger.Error("task manager stopped", "error", err)
		}
	})
	defer func() {
		cancel()
		wg.Wait()
	}()

	if f.progress && !f.jsonOut {
		events, unsubscribe := a.Reporter.Subscribe(256)
		defer unsubscribe()
		wg.Go(func() {
			for {
				select {
				case <-runCtx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					printer.Event(ev)
				}
			}
		})
	}

	ids := make([]string, 0, len(paths))
	for i, path := range paths {
		resp, err := a.Service.SubmitTask(ctx, rpc.SubmitTaskRequest{
			SourceID:  sourceID(path),
			Content:   string(contents[i]),
			Language:  f.language,
			Benchmark: f.benchmark,
			Priority:  f.priority,
		})
		if err != nil {
			return fmt.Errorf("submit %s: %w", path, err)
		}
		ids = append(ids, resp.TaskID)
	}

	recs, err := a.Manager.Await(ctx, ids...)
	if err != nil {
		return err
	}

	var completed []string
	for _, rec := range recs {
		if rec.Status == orchestrator.StatusCompleted {
			completed = append(completed, rec.ID())
		}
	}

	if f.jsonOut {
		report, err := export.BuildReport(ctx, a.Results, completed)
		if err != nil {
			return err
		}
		if err := export.WriteJSON(c.stdout, report); err != nil {
			return err
		}
	} else {
		printer.Tasks(recs)
		if f.details {
			for _, id := range completed {
				final, err := a.Results.FinalResult(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.stdout)
				printer.Result(final)
			}
		}
		if len(completed) > 1 && !f.noSummary {
			resp, err := a.Service.RequestSummary(ctx, rpc.SummaryRequest{TaskIDs: completed, Wait: true})
			if err != nil {
				return err
			}
			if resp.Summary != nil {
				fmt.Fprintln(c.stdout)
				printer.Summary(resp.Summary)
			}
		}
	}

	if failed := len(recs) - len(completed); failed > 0 {
		return fmt.Errorf("%d of %d tasks did not complete", failed, len(recs))
	}
	return nil
}

// collectSources expands directories in args into the files below them
// whose extension is in exts. Files named explicitly are always kept.
func collectSources(args, exts []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if hasExtension(path, exts) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func hasExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return slices.ContainsFunc(exts, func(e string) bool {
		return strings.ToLower(e) == ext
	})
}

// readSources reads paths in parallel. contents[i] belongs to paths[i].
func readSources(ctx context.Context, paths []string) ([][]byte, error) {
	contents := make([][]byte, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return fmt.Errorf("%s: empty file", path)
			}
			contents[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return contents, nil
}

// sourceID names a local file the way the watcher names members: a
// slash-separated path, relative to the work directory when possible.
func sourceID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		if wd, err := os.Getwd(); err == nil {
			if rel, err := filepath.Rel(wd, abs); err == nil && !strings.HasPrefix(rel, "..") {
				path = rel
			}
		}
	}
	return filepath.ToSlash(filepath.Clean(path))
}
