//go:build cgo

package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements Store on KuzuDB. It requires cgo because go-kuzu
// wraps KuzuDB's C library.
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore persisted at dbPath. KuzuDB creates
// the leaf directory itself.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	db, err := kuzu.OpenDatabase(path, kuzu.DefaultSystemConfig())
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

// ddlStatements is executed by InitSchema; node tables precede rel tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Program(
		name STRING,
		path STRING,
		language STRING,
		loc INT64,
		PRIMARY KEY(name)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Symbol(
		id STRING,
		name STRING,
		kind STRING,
		program STRING,
		start_line INT64,
		end_line INT64,
		PRIMARY KEY(id)
	)`,
	`CREATE REL TABLE IF NOT EXISTS DEFINES(FROM Program TO Symbol)`,
	`CREATE REL TABLE IF NOT EXISTS PERFORMS(FROM Symbol TO Symbol)`,
	`CREATE REL TABLE IF NOT EXISTS CALLS(FROM Program TO Program)`,
	`CREATE REL TABLE IF NOT EXISTS COPIES(FROM Program TO Program)`,
	`CREATE REL TABLE IF NOT EXISTS EXECUTES(FROM Symbol TO Program)`,
}

// relEndpoint names the node table and key column on one side of a rel table.
type relEndpoint struct {
	table string
	key   string
}

var (
	programEnd = relEndpoint{table: "Program", key: "name"}
	symbolEnd  = relEndpoint{table: "Symbol", key: "id"}
)

// relTables maps each edge kind to its endpoints.
var relTables = map[EdgeKind][2]relEndpoint{
	EdgeKindDefines:  {programEnd, symbolEnd},
	EdgeKindPerforms: {symbolEnd, symbolEnd},
	EdgeKindCalls:    {programEnd, programEnd},
	EdgeKindCopies:   {programEnd, programEnd},
	EdgeKindExecutes: {symbolEnd, programEnd},
}

// InitSchema creates all node and relationship tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// ---------- Write operations ----------

func (s *KuzuStore) AddProgram(_ context.Context, node ProgramNode) error {
	cypher := `MERGE (p:Program {name: $name})
		 SET p.path = $path, p.language = $lang, p.loc = $loc`
	if node.Path == "" {
		cypher = `MERGE (p:Program {name: $name})
		 ON CREATE SET p.path = $path, p.language = $lang, p.loc = $loc`
	}
	return s.exec(
		cypher,
		map[string]any{
			"name": node.Name,
			"path": node.Path,
			"lang": string(node.Language),
			"loc":  int64(node.LOC),
		},
	)
}

func (s *KuzuStore) AddSymbol(_ context.Context, node SymbolNode) error {
	return s.exec(
		`MERGE (s:Symbol {id: $id})
		 SET s.name = $name, s.kind = $kind, s.program = $prog,
		     s.start_line = $sl, s.end_line = $el`,
		map[string]any{
			"id":   node.ID(),
			"name": node.Name,
			"kind": string(node.Kind),
			"prog": node.Program,
			"sl":   int64(node.StartLine),
			"el":   int64(node.EndLine),
		},
	)
}

// AddEdge merges a relationship between two existing nodes. Missing
// endpoints make it a no-op, matching MATCH semantics.
func (s *KuzuStore) AddEdge(_ context.Context, edge Edge) error {
	ends, ok := relTables[edge.Kind]
	if !ok {
		return fmt.Errorf("kuzu: unsupported edge kind: %s", edge.Kind)
	}
	cypher := fmt.Sprintf(
		"MATCH (a:%s {%s: $src}), (b:%s {%s: $dst}) MERGE (a)-[:%s]->(b)",
		ends[0].table, ends[0].key, ends[1].table, ends[1].key, edge.Kind,
	)
	return s.exec(cypher, map[string]any{
		"src": edge.SourceID,
		"dst": edge.TargetID,
	})
}

func (s *KuzuStore) ResetProgram(_ context.Context, name string) error {
	stmts := []string{
		"MATCH (p:Program {name: $name})-[r:CALLS]->() DELETE r",
		"MATCH (p:Program {name: $name})-[r:COPIES]->() DELETE r",
		"MATCH (s:Symbol {program: $name}) DETACH DELETE s",
	}
	for _, stmt := range stmts {
		if err := s.exec(stmt, map[string]any{"name": name}); err != nil {
			return err
		}
	}
	return nil
}

// ---------- Read operations ----------

// GetProgram retrieves a Program node by name, or nil if not found.
func (s *KuzuStore) GetProgram(_ context.Context, name string) (*ProgramNode, error) {
	rows, err := s.query(
		"MATCH (p:Program {name: $name}) RETURN p.name, p.path, p.language, p.loc",
		map[string]any{"name": name},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &ProgramNode{
		Name:     toString(r[0]),
		Path:     toString(r[1]),
		Language: Language(toString(r[2])),
		LOC:      toInt(r[3]),
	}, nil
}

func (s *KuzuStore) GetSymbol(_ context.Context, program, name string) (*SymbolNode, error) {
	rows, err := s.query(
		`MATCH (s:Symbol {id: $id})
		 RETURN s.name, s.kind, s.program, s.start_line, s.end_line`,
		map[string]any{"id": SymbolID(program, name)},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToSymbol(rows[0]), nil
}

// QuerySymbols returns symbols whose name contains the query string
// (case-insensitive) ordered by ID.
func (s *KuzuStore) QuerySymbols(_ context.Context, queryStr string, limit int) ([]SymbolNode, error) {
	if limit <= 0 {
		limit = 1 << 20
	}
	rows, err := s.query(
		`MATCH (s:Symbol) WHERE lower(s.name) CONTAINS lower($q)
		 RETURN s.name, s.kind, s.program, s.start_line, s.end_line
		 ORDER BY s.id
		 LIMIT $lim`,
		map[string]any{
			"q":   queryStr,
			"lim": int64(limit),
		},
	)
	if err != nil {
		return nil, err
	}
	out := make([]SymbolNode, 0, len(rows))
	for _, r := range rows {
		out = append(out, *rowToSymbol(r))
	}
	return out, nil
}

// ---------- Graph traversal ----------

// GetDependencies performs a BFS from nodeID, querying one hop at a time.
func (s *KuzuStore) GetDependencies(_ context.Context, nodeID string, kind EdgeKind, dir Direction, maxDepth int) ([]DependencyChain, error) {
	if maxDepth <= 0 {
		return nil, nil
	}
	kinds := EdgeKinds
	if kind != "" {
		kinds = []EdgeKind{kind}
	}

	type bfsEntry struct {
		path  []string
		depth int
	}
	visited := map[string]bool{nodeID: true}
	queue := []bfsEntry{{path: []string{nodeID}, depth: 0}}
	var chains []DependencyChain

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		tip := cur.path[len(cur.path)-1]
		for _, k := range kinds {
			neighbors, err := s.neighbors(tip, k, dir)
			if err != nil {
				return nil, err
			}
			for _, nb := range neighbors {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				newPath := make([]string, len(cur.path)+1)
				copy(newPath, cur.path)
				newPath[len(cur.path)] = nb
				chains = append(chains, DependencyChain{
					Nodes: newPath,
					Depth: cur.depth + 1,
				})
				queue = append(queue, bfsEntry{path: newPath, depth: cur.depth + 1})
			}
		}
	}
	return chains, nil
}

// neighbors returns the node IDs one hop away along edges of kind.
func (s *KuzuStore) neighbors(id string, kind EdgeKind, dir Direction) ([]string, error) {
	ends, ok := relTables[kind]
	if !ok {
		return nil, fmt.Errorf("kuzu: unsupported edge kind: %s", kind)
	}
	from, to := ends[0], ends[1]

	var cypher string
	switch dir {
	case DirectionOutgoing:
		cypher = fmt.Sprintf("MATCH (a:%s {%s: $id})-[:%s]->(b:%s) RETURN b.%s",
			from.table, from.key, kind, to.table, to.key)
	case DirectionIncoming:
		cypher = fmt.Sprintf("MATCH (a:%s)-[:%s]->(b:%s {%s: $id}) RETURN a.%s",
			from.table, kind, to.table, to.key, from.key)
	default:
		return nil, fmt.Errorf("kuzu: unknown direction: %s", dir)
	}
	rows, err := s.query(cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, toString(r[0]))
	}
	return out, nil
}

// AssessImpact computes the blast radius of changing the given programs.
func (s *KuzuStore) AssessImpact(ctx context.Context, changed []string) (*ImpactResult, error) {
	return assessImpact(ctx, s, changed)
}

// ---------- Edge enumeration ----------

// AllEdges returns all edges across all relationship tables, grouped by kind.
func (s *KuzuStore) AllEdges(_ context.Context) ([]Edge, error) {
	var edges []Edge
	for _, kind := range EdgeKinds {
		ends := relTables[kind]
		cypher := fmt.Sprintf("MATCH (a:%s)-[:%s]->(b:%s) RETURN a.%s, b.%s",
			ends[0].table, kind, ends[1].table, ends[0].key, ends[1].key)
		rows, err := s.query(cypher, nil)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			edges = append(edges, Edge{
				SourceID: toString(r[0]),
				TargetID: toString(r[1]),
				Kind:     kind,
			})
		}
	}
	return edges, nil
}

// ---------- Stats ----------

func (s *KuzuStore) Stats(_ context.Context) (*GraphStats, error) {
	programs, err := s.countTable("Program")
	if err != nil {
		return nil, err
	}
	symbols, err := s.countTable("Symbol")
	if err != nil {
		return nil, err
	}
	edges, err := s.countEdges()
	if err != nil {
		return nil, err
	}
	return &GraphStats{
		ProgramCount: programs,
		SymbolCount:  symbols,
		EdgeCount:    edges,
	}, nil
}

// ---------- Internal helpers ----------

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// countTable returns the number of rows in a node table.
func (s *KuzuStore) countTable(table string) (int, error) {
	rows, err := s.query(fmt.Sprintf("MATCH (n:%s) RETURN count(n)", table), nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return toInt(rows[0][0]), nil
}

// countEdges returns the total number of edges across all relationship tables.
func (s *KuzuStore) countEdges() (int, error) {
	total := 0
	for _, kind := range EdgeKinds {
		rows, err := s.query(fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r)", kind), nil)
		if err != nil {
			return 0, err
		}
		if len(rows) > 0 && len(rows[0]) > 0 {
			total += toInt(rows[0][0])
		}
	}
	return total, nil
}

// rowToSymbol converts a 5-column result row into a SymbolNode.
// Column order: name, kind, program, start_line, end_line.
func rowToSymbol(r []any) *SymbolNode {
	return &SymbolNode{
		Name:      toString(r[0]),
		Kind:      SymbolKind(toString(r[1])),
		Program:   toString(r[2]),
		StartLine: toInt(r[3]),
		EndLine:   toInt(r[4]),
	}
}

// KuzuDB returns typed Go values (int64, float64, bool, string).

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
