package graph

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendKuzu   = "kuzu"
)

// Open creates the Store named by backend and initializes its schema. An
// empty path keeps a Kuzu database in memory.
func Open(ctx context.Context, backend, path string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(backend) {
	case "", BackendMemory:
		s = NewMemStore()
	case BackendKuzu:
		if s, err = openKuzuBackend(path); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("graph: unknown backend %q", backend)
	}
	if err := s.InitSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
