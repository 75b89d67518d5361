package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedPayroll builds a small batch system:
//
//	NIGHTLY (jcl) step STEP010 EXECUTES PAYROLL
//	PAYROLL CALLS DATEUTIL, COPIES EMPREC
//	CUSTUPD CALLS DATEUTIL
//	PAYROLL paragraphs: MAIN PERFORMS INIT, INIT PERFORMS READ-EMP
func seedPayroll(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InitSchema(ctx))

	for _, p := range []ProgramNode{
		{Name: "PAYROLL", Path: "src/PAYROLL.cbl", Language: LangCOBOL, LOC: 120},
		{Name: "CUSTUPD", Path: "src/CUSTUPD.cbl", Language: LangCOBOL, LOC: 80},
		{Name: "DATEUTIL", Path: "src/DATEUTIL.asm", Language: LangAssembler, LOC: 40},
		{Name: "EMPREC", Language: LangCopybook},
		{Name: "NIGHTLY", Path: "jcl/NIGHTLY.jcl", Language: LangJCL, LOC: 12},
	} {
		require.NoError(t, s.AddProgram(ctx, p))
	}
	for _, sym := range []SymbolNode{
		{Name: "MAIN", Kind: SymbolKindParagraph, Program: "PAYROLL", StartLine: 20, EndLine: 30},
		{Name: "INIT", Kind: SymbolKindParagraph, Program: "PAYROLL", StartLine: 31, EndLine: 40},
		{Name: "READ-EMP", Kind: SymbolKindParagraph, Program: "PAYROLL", StartLine: 41, EndLine: 60},
		{Name: "STEP010", Kind: SymbolKindStep, Program: "NIGHTLY", StartLine: 3, EndLine: 5},
	} {
		require.NoError(t, s.AddSymbol(ctx, sym))
		require.NoError(t, s.AddEdge(ctx, Edge{SourceID: sym.Program, TargetID: sym.ID(), Kind: EdgeKindDefines}))
	}
	for _, e := range []Edge{
		{SourceID: "PAYROLL:MAIN", TargetID: "PAYROLL:INIT", Kind: EdgeKindPerforms},
		{SourceID: "PAYROLL:INIT", TargetID: "PAYROLL:READ-EMP", Kind: EdgeKindPerforms},
		{SourceID: "PAYROLL", TargetID: "DATEUTIL", Kind: EdgeKindCalls},
		{SourceID: "PAYROLL", TargetID: "EMPREC", Kind: EdgeKindCopies},
		{SourceID: "CUSTUPD", TargetID: "DATEUTIL", Kind: EdgeKindCalls},
		{SourceID: "NIGHTLY:STEP010", TargetID: "PAYROLL", Kind: EdgeKindExecutes},
	} {
		require.NoError(t, s.AddEdge(ctx, e))
	}
}

// runStoreSuite exercises behavior every Store backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("ProgramRoundTrip", func(t *testing.T) {
		s := newStore(t)
		seedPayroll(t, s)

		got, err := s.GetProgram(ctx, "PAYROLL")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "src/PAYROLL.cbl", got.Path)
		assert.Equal(t, LangCOBOL, got.Language)
		assert.Equal(t, 120, got.LOC)

		missing, err := s.GetProgram(ctx, "NOPE")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("AddProgramReplacesStub", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InitSchema(ctx))
		require.NoError(t, s.AddProgram(ctx, ProgramNode{Name: "X", Language: LangUnknown}))
		require.NoError(t, s.AddProgram(ctx, ProgramNode{Name: "X", Path: "X.cbl", Language: LangCOBOL, LOC: 9}))
		require.NoError(t, s.AddProgram(ctx, ProgramNode{Name: "X", Language: LangUnknown}))

		got, err := s.GetProgram(ctx, "X")
		require.NoError(t, err)
		assert.Equal(t, LangCOBOL, got.Language, "a later stub does not downgrade the program")
		assert.Equal(t, 9, got.LOC)
		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.ProgramCount)
	})

	t.Run("SymbolLookupAndQuery", func(t *testing.T) {
		s := newStore(t)
		seedPayroll(t, s)

		sym, err := s.GetSymbol(ctx, "PAYROLL", "INIT")
		require.NoError(t, err)
		require.NotNil(t, sym)
		assert.Equal(t, SymbolKindParagraph, sym.Kind)
		assert.Equal(t, 31, sym.StartLine)

		found, err := s.QuerySymbols(ctx, "emp", 0)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "READ-EMP", found[0].Name)

		limited, err := s.QuerySymbols(ctx, "", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("EdgesAreDeduplicated", func(t *testing.T) {
		s := newStore(t)
		seedPayroll(t, s)
		require.NoError(t, s.AddEdge(ctx, Edge{SourceID: "PAYROLL", TargetID: "DATEUTIL", Kind: EdgeKindCalls}))

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, stats.ProgramCount)
		assert.Equal(t, 4, stats.SymbolCount)
		assert.Equal(t, 10, stats.EdgeCount)

		edges, err := s.AllEdges(ctx)
		require.NoError(t, err)
		assert.Len(t, edges, 10)
	})

	t.Run("PerformChain", func(t *testing.T) {
		s := newStore(t)
		seedPayroll(t, s)

		chains, err := s.GetDependencies(ctx, "PAYROLL:MAIN", EdgeKindPerforms, DirectionOutgoing, 10)
		require.NoError(t, err)
		require.Len(t, chains, 2)
		assert.Equal(t, []string{"PAYROLL:MAIN", "PAYROLL:INIT", "PAYROLL:READ-EMP"}, chains[1].Nodes)
		assert.Equal(t, 2, chains[1].Depth)

		shallow, err := s.GetDependencies(ctx, "PAYROLL:MAIN", EdgeKindPerforms, DirectionOutgoing, 1)
		require.NoError(t, err)
		assert.Len(t, shallow, 1)

		callers, err := s.GetDependencies(ctx, "DATEUTIL", EdgeKindCalls, DirectionIncoming, 1)
		require.NoError(t, err)
		var ids []string
		for _, c := range callers {
			ids = append(ids, c.Nodes[1])
		}
		assert.ElementsMatch(t, []string{"PAYROLL", "CUSTUPD"}, ids)
	})

	t.Run("AssessImpact", func(t *testing.T) {
		s := newStore(t)
		seedPayroll(t, s)

		res, err := s.AssessImpact(ctx, []string{"DATEUTIL"})
		require.NoError(t, err)
		assert.Equal(t, []string{"CUSTUPD", "PAYROLL"}, res.DirectlyAffected)
		assert.Equal(t, []string{"CUSTUPD", "NIGHTLY", "PAYROLL"}, res.TransitivelyAffected)
		assert.InDelta(t, 0.6, res.RiskScore, 1e-9)

		res, err = s.AssessImpact(ctx, []string{"EMPREC"})
		require.NoError(t, err)
		assert.Equal(t, []string{"PAYROLL"}, res.DirectlyAffected)
		assert.Equal(t, []string{"NIGHTLY", "PAYROLL"}, res.TransitivelyAffected)

		res, err = s.AssessImpact(ctx, []string{"NIGHTLY"})
		require.NoError(t, err)
		assert.Empty(t, res.TransitivelyAffected)
		assert.Zero(t, res.RiskScore)
	})

	t.Run("ResetProgram", func(t *testing.T) {
		s := newStore(t)
		seedPayroll(t, s)
		require.NoError(t, s.ResetProgram(ctx, "PAYROLL"))

		sym, err := s.GetSymbol(ctx, "PAYROLL", "MAIN")
		require.NoError(t, err)
		assert.Nil(t, sym)

		prog, err := s.GetProgram(ctx, "PAYROLL")
		require.NoError(t, err)
		assert.NotNil(t, prog, "the program node itself survives")

		res, err := s.AssessImpact(ctx, []string{"DATEUTIL"})
		require.NoError(t, err)
		assert.Equal(t, []string{"CUSTUPD"}, res.TransitivelyAffected)

		// The job still runs PAYROLL.
		res, err = s.AssessImpact(ctx, []string{"PAYROLL"})
		require.NoError(t, err)
		assert.Equal(t, []string{"NIGHTLY"}, res.DirectlyAffected)
	})
}
