// Package watch re-submits source members for analysis when they change
// on disk.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dusk-indust/legacylens/internal/rpc"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 500 * time.Millisecond

// Submitter queues analysis tasks. rpc.Handler satisfies it.
type Submitter interface {
	SubmitTask(ctx context.Context, req rpc.SubmitTaskRequest) (*rpc.SubmitTaskResponse, error)
}

// Options configures a Watcher.
type Options struct {
	// Root is the source root; submitted source ids are relative to it.
	Root string
	// Dirs are watched recursively. Defaults to Root.
	Dirs []string
	// Extensions filters files by suffix, case-insensitively. Empty
	// accepts every file.
	Extensions []string
	// Debounce is how long a file must stay quiet before it is submitted.
	Debounce time.Duration
	// Ignore lists directory and file base names to skip.
	Ignore []string
	Logger *slog.Logger
	// OnSubmit is called after each submission.
	OnSubmit func(sourceID, taskID string)
}

// Watcher submits one task per changed file once writes to it settle.
type Watcher struct {
	sub  Submitter
	opts Options
	root string
}

// New creates a Watcher. Nothing is watched until Run.
func New(sub Submitter, opts Options) (*Watcher, error) {
	if opts.Root == "" {
		opts.Root = "."
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve root: %w", err)
	}
	if len(opts.Dirs) == 0 {
		opts.Dirs = []string{root}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Ignore == nil {
		opts.Ignore = []string{".git", ".legacylens"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{sub: sub, opts: opts, root: root}, nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()

	for _, dir := range w.opts.Dirs {
		if err := w.addRecursive(fw, dir); err != nil {
			return err
		}
	}
	w.opts.Logger.Info("watching sources", "dirs", w.opts.Dirs, "debounce", w.opts.Debounce)

	pending := make(map[string]time.Time)
	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(fw, ev.Name); err != nil {
						w.opts.Logger.Warn("cannot watch new directory", "dir", ev.Name, "error", err)
					}
					continue
				}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.accepts(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now()
			timer.Reset(w.opts.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.opts.Logger.Warn("watch error", "error", err)

		case <-timer.C:
			now := time.Now()
			var next time.Duration
			for path, at := range pending {
				if quiet := now.Sub(at); quiet < w.opts.Debounce {
					if wait := w.opts.Debounce - quiet; next == 0 || wait < next {
						next = wait
					}
					continue
				}
				delete(pending, path)
				w.submit(ctx, path)
			}
			if next > 0 {
				timer.Reset(next)
			}
		}
	}
}

func (w *Watcher) submit(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	sourceID, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(sourceID, "..") {
		w.opts.Logger.Warn("changed file is outside the source root", "path", path, "root", w.root)
		return
	}
	sourceID = filepath.ToSlash(sourceID)
	resp, err := w.sub.SubmitTask(ctx, rpc.SubmitTaskRequest{SourceID: sourceID})
	if err != nil {
		w.opts.Logger.Error("submit changed source", "source_id", sourceID, "error", err)
		return
	}
	w.opts.Logger.Info("source changed, task submitted", "source_id", sourceID, "task_id", resp.TaskID)
	if w.opts.OnSubmit != nil {
		w.opts.OnSubmit(sourceID, resp.TaskID)
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	return slices.Contains(w.opts.Ignore, base) || strings.HasPrefix(base, ".#") || strings.HasSuffix(base, "~")
}

func (w *Watcher) accepts(path string) bool {
	if len(w.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return slices.ContainsFunc(w.opts.Extensions, func(e string) bool { return strings.ToLower(e) == ext })
}
