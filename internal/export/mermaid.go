package export

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dusk-indust/legacylens/internal/graph"
)

// GenerateCallGraph produces a Mermaid flowchart of the program graph.
// Programs are grouped by language; CALLS, COPIES and EXECUTES edges
// become arrows. Job steps are drawn as their job.
func GenerateCallGraph(ctx context.Context, store graph.Store) (string, error) {
	edges, err := store.AllEdges(ctx)
	if err != nil {
		return "", fmt.Errorf("get edges: %w", err)
	}

	type link struct {
		from, to string
		kind     graph.EdgeKind
	}
	var links []link
	seen := make(map[link]bool)
	programs := make(map[string]bool)
	for _, e := range edges {
		switch e.Kind {
		case graph.EdgeKindCalls, graph.EdgeKindCopies, graph.EdgeKindExecutes:
		default:
			continue
		}
		l := link{from: programOf(e.SourceID), to: programOf(e.TargetID), kind: e.Kind}
		if seen[l] {
			continue
		}
		seen[l] = true
		links = append(links, l)
		programs[l.from] = true
		programs[l.to] = true
	}

	byLang := make(map[graph.Language][]string)
	for name := range programs {
		lang := graph.LangUnknown
		node, err := store.GetProgram(ctx, name)
		if err != nil {
			return "", fmt.Errorf("get program %s: %w", name, err)
		}
		if node != nil && node.Language != "" {
			lang = node.Language
		}
		byLang[lang] = append(byLang[lang], name)
	}

	ids := newNodeIDs()
	var sb strings.Builder
	sb.WriteString("graph LR\n")
	langs := make([]graph.Language, 0, len(byLang))
	for l := range byLang {
		langs = append(langs, l)
	}
	slices.Sort(langs)
	for _, lang := range langs {
		names := byLang[lang]
		slices.Sort(names)
		sb.WriteString(fmt.Sprintf("  subgraph %s[\"%s\"]\n", ids.get("lang:"+string(lang)), lang))
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", ids.get(name), name))
		}
		sb.WriteString("  end\n")
	}

	slices.SortFunc(links, func(a, b link) int {
		return cmp.Or(cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to), cmp.Compare(a.kind, b.kind))
	})
	for _, l := range links {
		sb.WriteString(fmt.Sprintf("  %s %s %s\n", ids.get(l.from), arrow(l.kind), ids.get(l.to)))
	}
	return sb.String(), nil
}

// GenerateParagraphFlow produces a Mermaid flowchart of the PERFORM
// structure inside one program.
func GenerateParagraphFlow(ctx context.Context, store graph.Store, program string) (string, error) {
	node, err := store.GetProgram(ctx, program)
	if err != nil {
		return "", fmt.Errorf("get program: %w", err)
	}
	if node == nil {
		return "", fmt.Errorf("program %s is not in the graph", program)
	}
	edges, err := store.AllEdges(ctx)
	if err != nil {
		return "", fmt.Errorf("get edges: %w", err)
	}

	prefix := program + ":"
	ids := newNodeIDs()
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for _, e := range edges {
		if e.Kind != graph.EdgeKindPerforms || !strings.HasPrefix(e.SourceID, prefix) {
			continue
		}
		from := strings.TrimPrefix(e.SourceID, prefix)
		to := strings.TrimPrefix(e.TargetID, prefix)
		sb.WriteString(fmt.Sprintf("  %s[\"%s\"] --> %s[\"%s\"]\n", ids.get(from), from, ids.get(to), to))
	}
	return sb.String(), nil
}

func arrow(kind graph.EdgeKind) string {
	switch kind {
	case graph.EdgeKindCopies:
		return "-.->|copies|"
	case graph.EdgeKindExecutes:
		return "==>|runs|"
	default:
		return "-->|calls|"
	}
}

// programOf maps a node ID to its program: symbols are "PROGRAM:NAME".
func programOf(nodeID string) string {
	if i := strings.IndexByte(nodeID, ':'); i >= 0 {
		return nodeID[:i]
	}
	return nodeID
}

// nodeIDs assigns Mermaid-safe identifiers (alphanumeric only).
type nodeIDs struct {
	ids  map[string]string
	next int
}

func newNodeIDs() *nodeIDs { return &nodeIDs{ids: make(map[string]string)} }

func (n *nodeIDs) get(key string) string {
	if id, ok := n.ids[key]; ok {
		return id
	}
	id := fmt.Sprintf("N%d", n.next)
	n.next++
	n.ids[key] = id
	return id
}
