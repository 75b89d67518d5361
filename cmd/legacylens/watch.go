package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/legacylens/internal/app"
	"github.com/dusk-indust/legacylens/internal/status"
	"github.com/dusk-indust/legacylens/internal/watch"
)

func watchCmd(c *cli) *cobra.Command {
	var (
		root   string
		events bool
	)
	cmd := &cobra.Command{
		Use:   "watch [dir]...",
		Short: "Re-analyze sources in-process whenever they change",
		Long: `watch runs a local task manager and submits a task for every source
file that changes below the given directories (default: watch.dirs, or
the source root). Source ids are relative to --root.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if root != "" {
				cfg.Sources.Root = root
			}
			dirs := args
			if len(dirs) == 0 {
				dirs = cfg.Watch.Dirs
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			printer := status.NewPrinter(c.stdout)
			w, err := watch.New(a.Service, watch.Options{
				Root:       cfg.Sources.Root,
				Dirs:       dirs,
				Extensions: cfg.Watch.Extensions,
				Debounce:   cfg.Watch.Debounce,
				Logger:     c.logger,
				OnSubmit: func(sourceID, taskID string) {
					fmt.Fprintf(c.stdout, "queued %s as %s\n", sourceID, status.ShortID(taskID))
				},
			})
			if err != nil {
				return err
			}

			var wg sync.WaitGroup
			defer wg.Wait()
			defer stop()
			wg.Go(func() {
				if err := a.Run(ctx); err != nil {
					c.logger.Error("task manager stopped", "error", err)
				}
			})
			if events {
				ch, unsubscribe := a.Reporter.Subscribe(256)
				defer unsubscribe()
				wg.Go(func() {
					for {
						select {
						case <-ctx.Done():
							return
						case ev, ok := <-ch:
							if !ok {
								return
							}
							printer.Event(ev)
						}
					}
				})
			}
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "source root (overrides sources.root)")
	cmd.Flags().BoolVar(&events, "events", true, "print task events")
	return cmd
}
