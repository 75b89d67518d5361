package graph

import (
	"context"
	"io"
)

// Store is the program graph backend.
// Implementations: MemStore (default), KuzuStore (cgo builds).
type Store interface {
	io.Closer

	// InitSchema is called once before any data is inserted.
	InitSchema(ctx context.Context) error

	// AddProgram creates or replaces a program node. A node without a
	// Path is a stub and never replaces an existing node.
	AddProgram(ctx context.Context, node ProgramNode) error
	// AddSymbol creates or replaces a symbol node.
	AddSymbol(ctx context.Context, node SymbolNode) error
	// AddEdge adds an edge; adding the same edge twice keeps one.
	AddEdge(ctx context.Context, edge Edge) error
	// ResetProgram removes the symbols a program defines and every edge
	// leaving the program or its symbols, so it can be indexed again.
	ResetProgram(ctx context.Context, name string) error

	// GetProgram and GetSymbol return nil, nil when the node is absent.
	GetProgram(ctx context.Context, name string) (*ProgramNode, error)
	GetSymbol(ctx context.Context, program, name string) (*SymbolNode, error)
	QuerySymbols(ctx context.Context, query string, limit int) ([]SymbolNode, error)

	// GetDependencies walks edges of kind (all kinds when empty) from
	// nodeID and returns one chain per reachable node, breadth first.
	GetDependencies(ctx context.Context, nodeID string, kind EdgeKind, direction Direction, maxDepth int) ([]DependencyChain, error)
	AssessImpact(ctx context.Context, changed []string) (*ImpactResult, error)

	AllEdges(ctx context.Context) ([]Edge, error)
	Stats(ctx context.Context) (*GraphStats, error)
}

// Direction controls dependency traversal direction.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing" // what this node calls, performs or includes
	DirectionIncoming Direction = "incoming" // what calls, performs or includes this node
)
