package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/sql"
)

// SQL statement kinds.
const (
	SQLSelect  = "select"
	SQLInsert  = "insert"
	SQLUpdate  = "update"
	SQLDelete  = "delete"
	SQLDeclare = "declare"
	SQLPrepare = "prepare"
	SQLExecute = "execute"
	SQLInclude = "include"
	SQLCursor  = "cursor" // OPEN, FETCH, CLOSE
	SQLOther   = "other"
)

// SQLStatement is the analysis of one embedded SQL block.
type SQLStatement struct {
	Kind          string   `json:"kind"`
	Tables        []string `json:"tables,omitempty"`
	HostVariables []string `json:"hostVariables,omitempty"`
	HasWhere      bool     `json:"hasWhere"`
	Dynamic       bool     `json:"dynamic,omitempty"`
	ParseFailed   bool     `json:"parseFailed,omitempty"`
}

var (
	hostVarRe   = regexp.MustCompile(`:([A-Za-z][A-Za-z0-9-]*)`)
	intoHostRe  = regexp.MustCompile(`(?i)\bINTO\s+:[A-Za-z0-9-]+(\s*,\s*:[A-Za-z0-9-]+)*`)
	currentOfRe = regexp.MustCompile(`(?i)\bWHERE\s+CURRENT\s+OF\s+[A-Za-z0-9-]+`)
	cursorForRe = regexp.MustCompile(`(?i)^DECLARE\s+[A-Za-z0-9-]+\s+CURSOR\s+(?:WITH\s+HOLD\s+)?FOR\s+(.*)$`)
	whereRe     = regexp.MustCompile(`(?i)\bWHERE\b`)
)

// sqlNodeObjectReference is the tree-sitter node naming a table or view.
const sqlNodeObjectReference = "object_reference"

// ScanSQL classifies an EXEC SQL body. Host variables are rewritten to
// literals before the text is handed to tree-sitter, and DB2 specific
// clauses the grammar does not know are removed. A syntax error in the
// remaining text sets ParseFailed rather than returning an error.
func ScanSQL(ctx context.Context, text string) (SQLStatement, error) {
	text = strings.TrimSpace(text)
	stmt := SQLStatement{Kind: SQLOther}
	if text == "" {
		return stmt, nil
	}
	for _, m := range hostVarRe.FindAllStringSubmatch(text, -1) {
		v := strings.ToUpper(m[1])
		if !slices.Contains(stmt.HostVariables, v) {
			stmt.HostVariables = append(stmt.HostVariables, v)
		}
	}

	body := text
	fields := strings.Fields(strings.ToUpper(text))
	switch fields[0] {
	case "SELECT":
		stmt.Kind = SQLSelect
	case "INSERT":
		stmt.Kind = SQLInsert
	case "UPDATE":
		stmt.Kind = SQLUpdate
	case "DELETE":
		stmt.Kind = SQLDelete
	case "DECLARE":
		stmt.Kind = SQLDeclare
		m := cursorForRe.FindStringSubmatch(text)
		if m == nil {
			return stmt, nil
		}
		body = m[1]
	case "PREPARE":
		stmt.Kind = SQLPrepare
		stmt.Dynamic = true
		return stmt, nil
	case "EXECUTE":
		stmt.Kind = SQLExecute
		stmt.Dynamic = true
		return stmt, nil
	case "INCLUDE":
		stmt.Kind = SQLInclude
		return stmt, nil
	case "OPEN", "FETCH", "CLOSE":
		stmt.Kind = SQLCursor
		return stmt, nil
	default:
		return stmt, nil
	}

	stmt.HasWhere = whereRe.MatchString(body)
	body = intoHostRe.ReplaceAllStringFunc(body, func(s string) string {
		if stmt.Kind == SQLInsert {
			return s
		}
		return ""
	})
	body = currentOfRe.ReplaceAllString(body, "WHERE 1 = 1")
	body = hostVarRe.ReplaceAllString(body, "0")

	tables, failed, err := parseSQL(ctx, body)
	if err != nil {
		return stmt, err
	}
	stmt.Tables = tables
	stmt.ParseFailed = failed
	return stmt, nil
}

// parseSQL runs tree-sitter over body and returns referenced objects.
func parseSQL(ctx context.Context, body string) ([]string, bool, error) {
	content := []byte(body)
	parser := sitter.NewParser()
	parser.SetLanguage(sql.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, false, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var tables []string
	walk(root, func(n *sitter.Node) bool {
		if n.Type() == sqlNodeObjectReference {
			name := strings.ToUpper(n.Content(content))
			if !slices.Contains(tables, name) {
				tables = append(tables, name)
			}
			return false
		}
		return true
	})
	slices.Sort(tables)
	return tables, root.HasError(), nil
}

// walk visits n and its descendants depth first. visit returns false to
// skip a node's children.
func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), visit)
	}
}
