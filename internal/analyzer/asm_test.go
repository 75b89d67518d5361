package analyzer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssembler_DateUtil(t *testing.T) {
	p := parseFixture(t, "DATEUTIL.asm")

	assert.Equal(t, "DATEUTIL", p.Name)
	assert.Equal(t, LangAssembler, p.Language)
	assert.Equal(t, LineCounts{Total: 17, Code: 16, Comment: 1}, p.Lines)
	assert.Equal(t, []Block{{Name: "DATEUTIL", StartLine: 2, EndLine: 17}}, p.CSects)

	assert.Equal(t, []string{"NODATE", "RETURN"}, paragraphNames(p))
	assert.Equal(t, UnitLabel, p.Paragraphs[0].Kind)
	assert.Equal(t, 12, p.Paragraphs[0].EndLine)

	assert.Equal(t, 11, p.Statements)
	assert.Equal(t, 1, p.Decisions, "BE is the only conditional branch")

	assert.Equal(t, []Reference{
		{Name: "MODESET KEY=ZERO,MODE=SUP", Line: 9},
		{Name: "SVC 99", Line: 10},
	}, p.SupervisorCalls)
	assert.Equal(t, []string{"MODESET"}, p.Macros)

	require.Len(t, p.DataItems, 2)
	assert.Equal(t, "SAVEAREA", p.DataItems[0].Name)
	assert.Equal(t, "DS 18F", p.DataItems[0].Picture)
	assert.Equal(t, "C'K3Y-123'", p.DataItems[1].Value)
}

func TestParseAssembler_CallsAndBranchMasks(t *testing.T) {
	src := strings.Join([]string{
		"MAINPGM  CSECT",
		"         CALL  DATEUTIL,(PARM1)",
		"         CALL  (15)",
		"         LINK  EP=PAYCALC",
		"         XCTL  EPLOC=NEXTPGM",
		"         BC    15,DONE",
		"         BC    8,DONE",
		"         BCT   3,LOOP",
		"         COPY  REGEQU",
		"DONE     BR    14",
		"         END",
		"IGNORED  BR    14",
	}, "\n")
	p, err := Parse(context.Background(), "MAINPGM.asm", []byte(src), LangUnknown)
	require.NoError(t, err)

	assert.Equal(t, []Call{
		{Target: "DATEUTIL", Line: 2},
		{Target: "(15)", Dynamic: true, Line: 3},
		{Target: "PAYCALC", Line: 4},
		{Target: "NEXTPGM", Dynamic: true, Line: 5},
	}, p.Calls)
	assert.Equal(t, 2, p.Decisions, "BC 15 is unconditional")
	assert.Equal(t, []string{"REGEQU"}, p.Copies)
	assert.Equal(t, []string{"CALL", "LINK", "XCTL"}, p.Macros)
	assert.Equal(t, []string{"DONE"}, paragraphNames(p), "statements after END are ignored")
}

func TestAsmFields(t *testing.T) {
	label, op, operands := asmFields("GREET    DC    C'HELLO WORLD'  remark")
	assert.Equal(t, "GREET", label)
	assert.Equal(t, "DC", op)
	assert.Equal(t, "C'HELLO WORLD'", operands)

	label, op, operands = asmFields("         BR    14")
	assert.Empty(t, label)
	assert.Equal(t, "BR", op)
	assert.Equal(t, "14", operands)
}
