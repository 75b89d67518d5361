// Package results persists stage outputs and final task records and
// aggregates finalized results into summaries.
package results

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Store.Get for absent keys.
	ErrNotFound = errors.New("results: not found")

	// ErrExists is returned by Store.Insert when the key is already present.
	ErrExists = errors.New("results: key already exists")
)

// Record is one key/value pair returned by Query.
type Record struct {
	Key   string
	Value []byte
}

// Filter selects records for Query.
type Filter struct {
	// Prefix restricts results to keys starting with it.
	Prefix string

	// Limit caps the number of records; <= 0 means no limit.
	Limit int
}

// Store is the key/value backend behind the result Manager. Keys sort
// lexically and Query returns records in key order. Implementations must
// make Upsert and Insert atomic per key.
type Store interface {
	io.Closer

	// Upsert creates or replaces the value at key.
	Upsert(ctx context.Context, key string, value []byte) error

	// Insert stores value only if key is absent, else returns ErrExists.
	Insert(ctx context.Context, key string, value []byte) error

	// Get returns the value at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Query returns records matching the filter in key order.
	Query(ctx context.Context, filter Filter) ([]Record, error)
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend string

	// Path is the badger directory or sqlite file. An empty path keeps the
	// data in memory for both backends.
	Path string

	// SyncWrites makes badger fsync every commit.
	SyncWrites bool

	Logger *slog.Logger
}

// Open creates the Store described by opts.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		return OpenBadgerStore(BadgerConfig{
			Path:       opts.Path,
			InMemory:   opts.Path == "",
			SyncWrites: opts.SyncWrites,
			Logger:     opts.Logger,
		})
	case BackendSQLite:
		path := opts.Path
		if path == "" {
			path = ":memory:"
		}
		return OpenSQLiteStore(path)
	default:
		return nil, fmt.Errorf("results: unknown store backend %q", opts.Backend)
	}
}

// key layout:
//
//	stage/<task>/<attempt>/<stage>
//	final/<task>
const (
	stagePrefix = "stage/"
	finalPrefix = "final/"
)

func stageKey(taskID string, attempt int, stage string) string {
	return fmt.Sprintf("%s%s/%04d/%s", stagePrefix, taskID, attempt, stage)
}

func finalKey(taskID string) string {
	return finalPrefix + taskID
}

func nowUTC() time.Time { return time.Now().UTC() }
