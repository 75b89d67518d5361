package graph

// SymbolKind classifies symbols within a program.
type SymbolKind string

const (
	SymbolKindSection   SymbolKind = "section"
	SymbolKindParagraph SymbolKind = "paragraph"
	SymbolKindData      SymbolKind = "data"
	SymbolKindStep      SymbolKind = "step"
	SymbolKindCSect     SymbolKind = "csect"
	SymbolKindLabel     SymbolKind = "label"
)

// EdgeKind classifies relationships between nodes.
type EdgeKind string

const (
	// EdgeKindDefines links a program to a symbol it declares.
	EdgeKindDefines EdgeKind = "DEFINES"
	// EdgeKindPerforms links a paragraph or section to one it PERFORMs.
	EdgeKindPerforms EdgeKind = "PERFORMS"
	// EdgeKindCalls links a program to a program it CALLs or LINKs to.
	EdgeKindCalls EdgeKind = "CALLS"
	// EdgeKindCopies links a program to a copybook it includes.
	EdgeKindCopies EdgeKind = "COPIES"
	// EdgeKindExecutes links a JCL job step to the program it runs.
	EdgeKindExecutes EdgeKind = "EXECUTES"
)

// EdgeKinds lists every edge kind in a stable order.
var EdgeKinds = []EdgeKind{EdgeKindDefines, EdgeKindPerforms, EdgeKindCalls, EdgeKindCopies, EdgeKindExecutes}

// Language of a program node. Mirrors analyzer.Language; stub nodes created
// for unresolved CALL targets use LangUnknown.
type Language string

const (
	LangCOBOL     Language = "cobol"
	LangJCL       Language = "jcl"
	LangAssembler Language = "assembler"
	LangCopybook  Language = "copybook"
	LangUnknown   Language = "unknown"
)

// ProgramNode is a source member: a COBOL program, JCL job, assembler
// module or copybook. Its node ID is Name.
type ProgramNode struct {
	Name     string   `json:"name"`
	Path     string   `json:"path,omitempty"`
	Language Language `json:"language"`
	LOC      int      `json:"loc"`
}

// SymbolNode is a named element inside a program. Its node ID is
// SymbolID(Program, Name).
type SymbolNode struct {
	Name      string     `json:"name"`
	Kind      SymbolKind `json:"kind"`
	Program   string     `json:"program"`
	StartLine int        `json:"startLine"`
	EndLine   int        `json:"endLine"`
}

// ID returns the node ID of the symbol.
func (s SymbolNode) ID() string { return SymbolID(s.Program, s.Name) }

// SymbolID builds the node ID of a symbol: "PROGRAM:NAME".
func SymbolID(program, name string) string {
	return program + ":" + name
}

// Edge represents a relationship between two nodes.
type Edge struct {
	SourceID string   `json:"sourceId"`
	TargetID string   `json:"targetId"`
	Kind     EdgeKind `json:"kind"`
}

// GraphStats summarizes a program graph.
type GraphStats struct {
	ProgramCount int `json:"programCount"`
	SymbolCount  int `json:"symbolCount"`
	EdgeCount    int `json:"edgeCount"`
}

// DependencyChain is an ordered sequence of nodes forming a dependency path.
type DependencyChain struct {
	Nodes []string `json:"nodes"` // node IDs in order
	Depth int      `json:"depth"`
}

// ImpactResult describes the blast radius of changing a set of programs.
type ImpactResult struct {
	Changed              []string `json:"changed"`
	DirectlyAffected     []string `json:"directlyAffected"`     // callers, includers and jobs running a changed program
	TransitivelyAffected []string `json:"transitivelyAffected"` // full closure of the above
	RiskScore            float64  `json:"riskScore"`            // 0.0-1.0, affected share of all programs
}
