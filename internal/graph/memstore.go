package graph

import (
	"context"
	"slices"
	"strings"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex.
type MemStore struct {
	mu       sync.RWMutex
	programs map[string]ProgramNode
	symbols  map[string]SymbolNode // key: SymbolID
	edges    []Edge
	edgeSet  map[Edge]bool
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{
		programs: make(map[string]ProgramNode),
		symbols:  make(map[string]SymbolNode),
		edgeSet:  make(map[Edge]bool),
	}
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

func (m *MemStore) AddProgram(_ context.Context, node ProgramNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.programs[node.Name]; ok && node.Path == "" {
		return nil
	}
	m.programs[node.Name] = node
	return nil
}

func (m *MemStore) AddSymbol(_ context.Context, node SymbolNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols[node.ID()] = node
	return nil
}

func (m *MemStore) AddEdge(_ context.Context, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edgeSet[edge] {
		return nil
	}
	m.edgeSet[edge] = true
	m.edges = append(m.edges, edge)
	return nil
}

func (m *MemStore) ResetProgram(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := map[string]bool{name: true}
	for id, sym := range m.symbols {
		if sym.Program == name {
			owned[id] = true
			delete(m.symbols, id)
		}
	}
	kept := m.edges[:0]
	for _, e := range m.edges {
		// Edges into a removed symbol go too; edges into the program stay.
		if owned[e.SourceID] || (e.TargetID != name && owned[e.TargetID]) {
			delete(m.edgeSet, e)
			continue
		}
		kept = append(kept, e)
	}
	m.edges = kept
	return nil
}

// GetProgram returns the program node with the given name, or nil if not found.
func (m *MemStore) GetProgram(_ context.Context, name string) (*ProgramNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.programs[name]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemStore) GetSymbol(_ context.Context, program, name string) (*SymbolNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symbols[SymbolID(program, name)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// QuerySymbols returns symbols whose name contains query (case-insensitive)
// ordered by ID, up to limit results. A limit <= 0 returns all matches.
func (m *MemStore) QuerySymbols(_ context.Context, query string, limit int) ([]SymbolNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lowerQuery := strings.ToLower(query)
	var results []SymbolNode
	for _, sym := range m.symbols {
		if strings.Contains(strings.ToLower(sym.Name), lowerQuery) {
			results = append(results, sym)
		}
	}
	slices.SortFunc(results, func(a, b SymbolNode) int { return strings.Compare(a.ID(), b.ID()) })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetDependencies performs a BFS on edges from nodeID in the given direction,
// up to maxDepth hops. It returns one DependencyChain per reachable node.
func (m *MemStore) GetDependencies(_ context.Context, nodeID string, kind EdgeKind, direction Direction, maxDepth int) ([]DependencyChain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if maxDepth <= 0 {
		return nil, nil
	}

	// Each entry tracks the path from nodeID to the current node.
	type bfsEntry struct {
		id   string
		path []string
	}

	visited := map[string]bool{nodeID: true}
	queue := []bfsEntry{{id: nodeID, path: []string{nodeID}}}
	var chains []DependencyChain

	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		var nextQueue []bfsEntry
		for _, entry := range queue {
			for _, nb := range m.neighbors(entry.id, kind, direction) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				newPath := make([]string, len(entry.path), len(entry.path)+1)
				copy(newPath, entry.path)
				newPath = append(newPath, nb)
				chains = append(chains, DependencyChain{
					Nodes: newPath,
					Depth: len(newPath) - 1,
				})
				nextQueue = append(nextQueue, bfsEntry{id: nb, path: newPath})
			}
		}
		queue = nextQueue
	}

	return chains, nil
}

// neighbors returns IDs reachable from id in one hop, in insertion order.
func (m *MemStore) neighbors(id string, kind EdgeKind, direction Direction) []string {
	var result []string
	for _, e := range m.edges {
		if kind != "" && e.Kind != kind {
			continue
		}
		switch direction {
		case DirectionOutgoing:
			if e.SourceID == id {
				result = append(result, e.TargetID)
			}
		case DirectionIncoming:
			if e.TargetID == id {
				result = append(result, e.SourceID)
			}
		}
	}
	return result
}

// AssessImpact computes the blast radius of changing the given programs.
func (m *MemStore) AssessImpact(ctx context.Context, changed []string) (*ImpactResult, error) {
	return assessImpact(ctx, m, changed)
}

// AllEdges returns a copy of all edges in insertion order.
func (m *MemStore) AllEdges(_ context.Context) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.edges), nil
}

func (m *MemStore) Stats(_ context.Context) (*GraphStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &GraphStats{
		ProgramCount: len(m.programs),
		SymbolCount:  len(m.symbols),
		EdgeCount:    len(m.edges),
	}, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
