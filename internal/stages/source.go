package stages

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// DefaultMaxSourceBytes bounds the size of a loaded member.
const DefaultMaxSourceBytes = 8 << 20

// SourceLoader supplies the initial pipeline data of an attempt: the
// source text and its name. Content registered with Put belongs to one task
// and takes precedence over files; file paths are resolved against Root.
type SourceLoader struct {
	Root     string
	MaxBytes int64

	mu     sync.RWMutex
	inline map[string][]byte
}

// NewSourceLoader creates a loader reading files under root.
func NewSourceLoader(root string) *SourceLoader {
	return &SourceLoader{Root: root, MaxBytes: DefaultMaxSourceBytes, inline: make(map[string][]byte)}
}

// Put registers inline content for the task taskID. It reports false, and
// stores nothing, when content is already registered for that task.
func (l *SourceLoader) Put(taskID string, content []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inline == nil {
		l.inline = make(map[string][]byte)
	}
	if _, ok := l.inline[taskID]; ok {
		return false
	}
	l.inline[taskID] = content
	return true
}

// Forget drops the inline content of taskID.
func (l *SourceLoader) Forget(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inline, taskID)
}

// Release forgets the inline content of a task that reached a terminal
// status. It is installed as the manager's finish hook.
func (l *SourceLoader) Release(rec orchestrator.TaskRecord) {
	l.Forget(rec.Context.TaskID)
}

// Load implements orchestrator.LoadFunc. Summary tasks have no source and
// load empty data. A missing or oversized file is a permanent failure.
func (l *SourceLoader) Load(ctx context.Context, tc orchestrator.TaskContext) (orchestrator.Data, error) {
	if tc.SourceID == "" {
		return orchestrator.Data{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	content, ok := l.inline[tc.TaskID]
	l.mu.RUnlock()
	if !ok {
		var err error
		if content, err = l.readFile(tc.SourceID); err != nil {
			return nil, err
		}
	}
	return orchestrator.Data{
		orchestrator.KeySource:     string(content),
		orchestrator.KeySourceName: tc.SourceID,
	}, nil
}

func (l *SourceLoader) readFile(sourceID string) ([]byte, error) {
	path := sourceID
	if !filepath.IsAbs(path) && l.Root != "" {
		path = filepath.Join(l.Root, path)
	}
	if l.Root != "" {
		rel, err := filepath.Rel(l.Root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, &orchestrator.ValidationError{Field: "sourceId", Reason: "path escapes the source root"}
		}
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, orchestrator.Permanent(fmt.Errorf("stages: source %s: %w", sourceID, err))
	}
	if err != nil {
		return nil, fmt.Errorf("stages: stat %s: %w", sourceID, err)
	}
	if info.IsDir() {
		return nil, &orchestrator.ValidationError{Field: "sourceId", Reason: "is a directory"}
	}
	if limit := l.MaxBytes; limit > 0 && info.Size() > limit {
		return nil, &orchestrator.ValidationError{Field: "sourceId", Reason: fmt.Sprintf("source is %d bytes, limit %d", info.Size(), limit)}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stages: read %s: %w", sourceID, err)
	}
	return content, nil
}
