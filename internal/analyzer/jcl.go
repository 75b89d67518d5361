package analyzer

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	jclStmtRe = regexp.MustCompile(`^//([A-Z0-9$#@]{0,8})\s+(JOB|EXEC|DD|PROC|PEND|IF|ELSE|ENDIF|SET|INCLUDE|JCLLIB|OUTPUT)\b\s*(.*)$`)
	jclContRe = regexp.MustCompile(`^//\s+(\S.*)$`)
	pgmRe     = regexp.MustCompile(`\bPGM=([A-Z0-9$#@]+)`)
	procRe    = regexp.MustCompile(`\bPROC=([A-Z0-9$#@]+)`)
	parmRe    = regexp.MustCompile(`\bPARM=(\('(?:[^']|'')*'\)|'(?:[^']|'')*'|\([^)]*\)|[^,\s]+)`)
	condRe    = regexp.MustCompile(`\bCOND=(\([^)]*(?:\([^)]*\)[^)]*)*\)|[^,\s]+)`)
	dsnRe     = regexp.MustCompile(`\bDSN(?:AME)?=([A-Z0-9$#@.()&+-]+)`)
	dispRe    = regexp.MustCompile(`\bDISP=(\([^)]*\)|[A-Z]+)`)
	memberRe  = regexp.MustCompile(`\bMEMBER=([A-Z0-9$#@]+)`)
)

type jclStatement struct {
	name     string
	op       string
	operands string
	line     int
	endLine  int
}

func parseJCL(prog *Program, src []byte) error {
	var stmts []*jclStatement
	for i, line := range splitLines(src) {
		num := i + 1
		prog.Lines.Total++
		upper := strings.ToUpper(strings.TrimRight(line, " \t"))
		switch {
		case strings.TrimSpace(upper) == "":
			prog.Lines.Blank++
			continue
		case strings.HasPrefix(upper, "//*"):
			prog.Lines.Comment++
			continue
		}
		prog.Lines.Code++

		if len(upper) > 71 {
			upper = strings.TrimRight(upper[:71], " ")
		}
		if m := jclStmtRe.FindStringSubmatch(upper); m != nil {
			stmts = append(stmts, &jclStatement{name: m[1], op: m[2], operands: stripJCLComment(m[3]), line: num, endLine: num})
			continue
		}
		if m := jclContRe.FindStringSubmatch(upper); m != nil && len(stmts) > 0 {
			last := stmts[len(stmts)-1]
			last.operands += stripJCLComment(m[1])
			last.endLine = num
		}
		// Anything else is a delimiter or in-stream data.
	}

	var (
		haveJob bool
		unit    *Paragraph
	)
	closeUnit := func() {
		if unit == nil {
			return
		}
		prog.Paragraphs = append(prog.Paragraphs, *unit)
		unit = nil
	}

	for _, st := range stmts {
		switch st.op {
		case "JOB":
			if !haveJob {
				haveJob = true
				if st.name != "" {
					prog.Name = st.name
				}
			}
		case "EXEC":
			closeUnit()
			step := JobStep{Name: st.name, Line: st.line}
			if step.Name == "" {
				step.Name = fmt.Sprintf("STEP%03d", len(prog.Steps)+1)
			}
			if m := pgmRe.FindStringSubmatch(st.operands); m != nil {
				step.Program = m[1]
			} else if m := procRe.FindStringSubmatch(st.operands); m != nil {
				step.Proc = m[1]
			} else if first, _, _ := strings.Cut(st.operands, ","); first != "" && !strings.Contains(first, "=") {
				step.Proc = first
			}
			if m := parmRe.FindStringSubmatch(st.operands); m != nil {
				step.Parm = unquoteParm(m[1])
			}
			if m := condRe.FindStringSubmatch(st.operands); m != nil {
				step.Cond = m[1]
			}
			prog.Steps = append(prog.Steps, step)
			prog.Statements++
			unit = &Paragraph{Name: step.Name, Kind: UnitStep, StartLine: st.line, Statements: 1}
			if step.Cond != "" {
				prog.Decisions++
				unit.Decisions++
			}
		case "DD":
			prog.Statements++
			if len(prog.Steps) == 0 {
				continue
			}
			dd := DDStatement{Name: st.name, Line: st.line}
			if m := dsnRe.FindStringSubmatch(st.operands); m != nil {
				dd.DSN = m[1]
			}
			if m := dispRe.FindStringSubmatch(st.operands); m != nil {
				dd.Disp = m[1]
			}
			cur := &prog.Steps[len(prog.Steps)-1]
			cur.DDs = append(cur.DDs, dd)
			if unit != nil {
				unit.Statements++
			}
		case "IF":
			prog.Statements++
			prog.Decisions++
			if unit != nil {
				unit.Decisions++
			}
		case "INCLUDE":
			if m := memberRe.FindStringSubmatch(st.operands); m != nil {
				prog.Copies = appendUnique(prog.Copies, m[1])
			}
		}
		if unit != nil {
			unit.EndLine = st.endLine
		}
	}
	closeUnit()

	if !haveJob {
		return &ParseError{Name: prog.Path, Line: 1, Reason: "missing JOB statement"}
	}
	return nil
}

// stripJCLComment drops the comment field that follows the operands.
func stripJCLComment(operands string) string {
	inQuote := false
	depth := 0
	for i, r := range operands {
		switch r {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		case ' ':
			if !inQuote && depth <= 0 {
				return operands[:i]
			}
		}
	}
	return operands
}

func unquoteParm(v string) string {
	v = strings.TrimPrefix(v, "(")
	v = strings.TrimSuffix(v, ")")
	v = strings.TrimPrefix(v, "'")
	v = strings.TrimSuffix(v, "'")
	return strings.ReplaceAll(v, "''", "'")
}
