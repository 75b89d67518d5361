package analyzer

import (
	"context"
	"fmt"

	"github.com/dusk-indust/legacylens/internal/graph"
)

// maxPerformDepth bounds PERFORM chain traversal.
const maxPerformDepth = 64

// IndexProgram writes p into the program graph, replacing anything indexed
// for it before. Static call targets, copybooks and programs executed by
// job steps get stub nodes so the edges resolve.
func IndexProgram(ctx context.Context, store graph.Store, p *Program) error {
	if err := store.ResetProgram(ctx, p.Name); err != nil {
		return fmt.Errorf("analyzer: reset %s: %w", p.Name, err)
	}
	if err := store.AddProgram(ctx, graph.ProgramNode{
		Name:     p.Name,
		Path:     p.Path,
		Language: graph.Language(p.Language),
		LOC:      p.Lines.Total,
	}); err != nil {
		return fmt.Errorf("analyzer: index %s: %w", p.Name, err)
	}

	ix := &indexer{ctx: ctx, store: store, prog: p.Name, symbols: make(map[string]bool)}
	for _, sec := range p.Sections {
		ix.symbol(sec.Name, graph.SymbolKindSection, sec.StartLine, sec.EndLine)
	}
	for _, cs := range p.CSects {
		if cs.Name != "" {
			ix.symbol(cs.Name, graph.SymbolKindCSect, cs.StartLine, cs.EndLine)
		}
	}
	for _, para := range p.Paragraphs {
		ix.symbol(para.Name, unitKind(para.Kind), para.StartLine, para.EndLine)
	}
	for _, item := range p.DataItems {
		if item.Level == 1 || item.Level == 77 {
			ix.symbol(item.Name, graph.SymbolKindData, item.Line, item.Line)
		}
	}

	for _, para := range p.Paragraphs {
		from := graph.SymbolID(p.Name, para.Name)
		for _, ref := range para.Performs {
			for _, target := range []string{ref.Target, ref.Thru} {
				if target != "" && ix.symbols[target] {
					ix.edge(from, graph.SymbolID(p.Name, target), graph.EdgeKindPerforms)
				}
			}
		}
	}
	for _, target := range p.StaticCalls() {
		ix.ensureProgram(target, graph.LangUnknown)
		ix.edge(p.Name, target, graph.EdgeKindCalls)
	}
	for _, member := range p.Copies {
		ix.ensureProgram(member, graph.LangCopybook)
		ix.edge(p.Name, member, graph.EdgeKindCopies)
	}
	for _, step := range p.Steps {
		if step.Program == "" {
			continue
		}
		ix.ensureProgram(step.Program, graph.LangUnknown)
		ix.edge(graph.SymbolID(p.Name, step.Name), step.Program, graph.EdgeKindExecutes)
	}
	if ix.err != nil {
		return fmt.Errorf("analyzer: index %s: %w", p.Name, ix.err)
	}
	return nil
}

// indexer accumulates the first write error so IndexProgram reads linearly.
type indexer struct {
	ctx     context.Context
	store   graph.Store
	prog    string
	symbols map[string]bool
	err     error
}

func (ix *indexer) symbol(name string, kind graph.SymbolKind, start, end int) {
	if ix.err != nil || ix.symbols[name] {
		return
	}
	ix.symbols[name] = true
	node := graph.SymbolNode{Name: name, Kind: kind, Program: ix.prog, StartLine: start, EndLine: end}
	if ix.err = ix.store.AddSymbol(ix.ctx, node); ix.err != nil {
		return
	}
	ix.edge(ix.prog, node.ID(), graph.EdgeKindDefines)
}

func (ix *indexer) edge(src, dst string, kind graph.EdgeKind) {
	if ix.err != nil {
		return
	}
	ix.err = ix.store.AddEdge(ix.ctx, graph.Edge{SourceID: src, TargetID: dst, Kind: kind})
}

// ensureProgram adds a stub node; stubs never replace indexed programs.
func (ix *indexer) ensureProgram(name string, lang graph.Language) {
	if ix.err != nil || name == ix.prog {
		return
	}
	ix.err = ix.store.AddProgram(ix.ctx, graph.ProgramNode{Name: name, Language: lang})
}

func unitKind(kind string) graph.SymbolKind {
	switch kind {
	case UnitLabel:
		return graph.SymbolKindLabel
	case UnitStep:
		return graph.SymbolKindStep
	default:
		return graph.SymbolKindParagraph
	}
}

// PerformDepth returns the depth of the deepest paragraph reachable from
// the entry paragraph through PERFORM edges in the graph.
func PerformDepth(ctx context.Context, store graph.Store, p *Program) (int, error) {
	entry := p.EntryParagraph()
	if entry == "" || p.Language != LangCOBOL {
		return 0, nil
	}
	chains, err := store.GetDependencies(ctx, graph.SymbolID(p.Name, entry), graph.EdgeKindPerforms, graph.DirectionOutgoing, maxPerformDepth)
	if err != nil {
		return 0, fmt.Errorf("analyzer: perform depth of %s: %w", p.Name, err)
	}
	depth := 0
	for _, c := range chains {
		depth = max(depth, c.Depth)
	}
	return depth, nil
}
