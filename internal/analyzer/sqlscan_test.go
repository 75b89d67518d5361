package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanSQL(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		text     string
		kind     string
		table    string
		hostVars []string
		hasWhere bool
		dynamic  bool
	}{
		{
			name: "select into", text: "SELECT NAME INTO :WS-NAME FROM EMPLOYEE WHERE ID = :WS-ID",
			kind: SQLSelect, table: "EMPLOYEE", hostVars: []string{"WS-NAME", "WS-ID"}, hasWhere: true,
		},
		{
			name: "delete without where", text: "DELETE FROM AUDIT_LOG",
			kind: SQLDelete, table: "AUDIT_LOG",
		},
		{
			name: "update current of", text: "UPDATE ACCOUNT SET BAL = :WS-BAL WHERE CURRENT OF C1",
			kind: SQLUpdate, table: "ACCOUNT", hostVars: []string{"WS-BAL"}, hasWhere: true,
		},
		{
			name: "insert", text: "INSERT INTO HISTORY (ID, AMT) VALUES (:WS-ID, :WS-AMT)",
			kind: SQLInsert, table: "HISTORY", hostVars: []string{"WS-ID", "WS-AMT"},
		},
		{
			name: "cursor declaration", text: "DECLARE C1 CURSOR FOR SELECT ID FROM ORDERS WHERE STATUS = :WS-ST",
			kind: SQLDeclare, table: "ORDERS", hostVars: []string{"WS-ST"}, hasWhere: true,
		},
		{name: "prepare", text: "PREPARE S1 FROM :WS-SQL", kind: SQLPrepare, hostVars: []string{"WS-SQL"}, dynamic: true},
		{name: "execute immediate", text: "EXECUTE IMMEDIATE :WS-SQL", kind: SQLExecute, hostVars: []string{"WS-SQL"}, dynamic: true},
		{name: "include", text: "INCLUDE SQLCA", kind: SQLInclude},
		{name: "fetch", text: "FETCH C1 INTO :WS-ID", kind: SQLCursor, hostVars: []string{"WS-ID"}},
		{name: "other", text: "COMMIT", kind: SQLOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := ScanSQL(ctx, tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, stmt.Kind)
			assert.Equal(t, tt.hostVars, stmt.HostVariables)
			assert.Equal(t, tt.hasWhere, stmt.HasWhere)
			assert.Equal(t, tt.dynamic, stmt.Dynamic)
			if tt.table != "" {
				assert.Contains(t, stmt.Tables, tt.table)
			}
		})
	}
}

func TestScanSQL_Empty(t *testing.T) {
	stmt, err := ScanSQL(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, SQLStatement{Kind: SQLOther}, stmt)
}

func TestScanSQL_SyntaxErrorSetsParseFailed(t *testing.T) {
	stmt, err := ScanSQL(context.Background(), "SELECT FROM WHERE (((")
	require.NoError(t, err)
	assert.Equal(t, SQLSelect, stmt.Kind)
	assert.True(t, stmt.ParseFailed)
}

func TestParser_SkipSQL(t *testing.T) {
	src := "       IDENTIFICATION DIVISION.\n       PROCEDURE DIVISION.\n       P1.\n           EXEC SQL DELETE FROM T1 END-EXEC.\n"
	p, err := (&Parser{SkipSQL: true}).Parse(context.Background(), "SKIP.cbl", []byte(src), LangUnknown)
	require.NoError(t, err)
	require.Len(t, p.SQLBlocks, 1)
	assert.Equal(t, "DELETE FROM T1", p.SQLBlocks[0].Text)
	assert.Empty(t, p.SQLBlocks[0].Statement.Kind, "statement left unscanned")
}
