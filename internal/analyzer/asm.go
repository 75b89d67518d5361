package analyzer

import (
	"slices"
	"strings"
)

// conditionalBranches are the extended mnemonics and branch-on-count
// instructions counted as decision points.
var conditionalBranches = map[string]bool{
	"BE": true, "BNE": true, "BH": true, "BNH": true, "BL": true, "BNL": true,
	"BZ": true, "BNZ": true, "BM": true, "BNM": true, "BP": true, "BNP": true,
	"BO": true, "BNO": true, "BCT": true, "BCTR": true, "BXH": true, "BXLE": true,
	"JE": true, "JNE": true, "JH": true, "JNH": true, "JL": true, "JNL": true,
	"JZ": true, "JNZ": true, "JM": true, "JNM": true, "JP": true, "JNP": true,
	"JO": true, "JNO": true, "BRCT": true, "JCT": true,
}

// asmDirectives define storage or control assembly rather than execute.
var asmDirectives = map[string]bool{
	"CSECT": true, "DSECT": true, "RSECT": true, "START": true, "END": true,
	"DS": true, "DC": true, "EQU": true, "USING": true, "DROP": true,
	"LTORG": true, "EJECT": true, "TITLE": true, "PRINT": true, "SPACE": true,
	"ORG": true, "CNOP": true, "COPY": true, "AMODE": true, "RMODE": true,
	"MACRO": true, "MEND": true, "ENTRY": true, "EXTRN": true, "PUSH": true, "POP": true,
}

// systemMacros are z/OS macros recorded in Program.Macros.
var systemMacros = map[string]bool{
	"SAVE": true, "RETURN": true, "GETMAIN": true, "FREEMAIN": true,
	"STORAGE": true, "OPEN": true, "CLOSE": true, "GET": true, "PUT": true,
	"WTO": true, "WTOR": true, "ABEND": true, "CALL": true, "LINK": true,
	"XCTL": true, "LOAD": true, "DELETE": true, "MODESET": true, "ESTAE": true,
	"TIME": true, "DCB": true, "READ": true, "WRITE": true, "CHECK": true,
}

func parseAssembler(prog *Program, src []byte) error {
	var (
		unit      *Paragraph
		csect     *Block
		lastCode  int
		ended     bool
		continued bool
	)
	closeUnit := func() {
		if unit == nil {
			return
		}
		unit.EndLine = max(unit.StartLine, lastCode)
		prog.Paragraphs = append(prog.Paragraphs, *unit)
		unit = nil
	}
	closeCSect := func() {
		if csect == nil {
			return
		}
		csect.EndLine = max(csect.StartLine, lastCode)
		prog.CSects = append(prog.CSects, *csect)
		csect = nil
	}
	nameSet := false

	for i, line := range splitLines(src) {
		num := i + 1
		prog.Lines.Total++
		switch {
		case strings.TrimSpace(line) == "":
			prog.Lines.Blank++
			continue
		case strings.HasPrefix(line, "*"), strings.HasPrefix(line, ".*"):
			prog.Lines.Comment++
			continue
		}
		prog.Lines.Code++
		if ended {
			continue
		}

		// Column 72 marks a continuation; the next line carries operands only.
		wasContinued := continued
		continued = len(line) >= 72 && line[71] != ' '
		if len(line) > 71 {
			line = line[:71]
		}
		if wasContinued {
			lastCode = num
			continue
		}

		label, op, operands := asmFields(strings.ToUpper(line))
		if op == "" {
			lastCode = num
			continue
		}

		switch op {
		case "CSECT", "START", "RSECT":
			closeUnit()
			closeCSect()
			csect = &Block{Name: label, StartLine: num}
			if label != "" && !nameSet {
				prog.Name = label
				nameSet = true
			}
		case "END":
			ended = true
		case "DS", "DC", "EQU":
			if label != "" {
				item := DataItem{Name: label, Picture: op + " " + operands, Line: num}
				if op == "DC" {
					item.Value = operands
				}
				prog.DataItems = append(prog.DataItems, item)
			}
		case "COPY":
			if operands != "" {
				prog.Copies = appendUnique(prog.Copies, operands)
			}
		default:
			if label != "" && !asmDirectives[op] {
				closeUnit()
				unit = &Paragraph{Name: label, Kind: UnitLabel, StartLine: num}
			}
		}

		if !asmDirectives[op] {
			decision := asmDecision(op, operands)
			prog.Statements++
			if decision {
				prog.Decisions++
			}
			if unit != nil {
				unit.Statements++
				if decision {
					unit.Decisions++
				}
			}
			asmReferences(prog, op, operands, num)
		}
		lastCode = num
	}
	closeUnit()
	closeCSect()

	if len(prog.CSects) == 0 {
		return &ParseError{Name: prog.Path, Reason: "missing CSECT or START"}
	}
	slices.Sort(prog.Macros)
	return nil
}

// asmFields splits a statement into label, operation and operands. The
// remarks field after the operands is dropped.
func asmFields(line string) (label, op, operands string) {
	hasLabel := line != "" && line[0] != ' ' && line[0] != '\t'
	fields := splitOperands(line)
	if hasLabel {
		if len(fields) > 0 {
			label = fields[0]
		}
		fields = fields[min(1, len(fields)):]
	}
	if len(fields) > 0 {
		op = fields[0]
	}
	if len(fields) > 1 {
		operands = fields[1]
	}
	return label, op, operands
}

// splitOperands splits on blanks outside quotes so C'A B' stays one field.
func splitOperands(line string) []string {
	var (
		fields  []string
		cur     strings.Builder
		inQuote bool
	)
	for _, r := range line {
		switch {
		case r == '\'':
			inQuote = !inQuote
			cur.WriteRune(r)
		case (r == ' ' || r == '\t') && !inQuote:
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

func asmDecision(op, operands string) bool {
	if conditionalBranches[op] {
		return true
	}
	if op == "BC" || op == "BCR" || op == "BRC" || op == "JC" {
		mask, _, _ := strings.Cut(operands, ",")
		return mask != "15" && mask != "0"
	}
	return false
}

func asmReferences(prog *Program, op, operands string, line int) {
	if systemMacros[op] {
		prog.Macros = appendUnique(prog.Macros, op)
	}
	switch op {
	case "SVC":
		prog.SupervisorCalls = append(prog.SupervisorCalls, Reference{Name: "SVC " + operands, Line: line})
	case "MODESET":
		prog.SupervisorCalls = append(prog.SupervisorCalls, Reference{Name: "MODESET " + operands, Line: line})
	case "CALL":
		target, _, _ := strings.Cut(operands, ",")
		if strings.HasPrefix(target, "(") {
			prog.Calls = append(prog.Calls, Call{Target: target, Dynamic: true, Line: line})
		} else if target != "" {
			prog.Calls = append(prog.Calls, Call{Target: target, Line: line})
		}
	case "LINK", "XCTL", "LOAD":
		for _, part := range strings.Split(operands, ",") {
			if ep, ok := strings.CutPrefix(part, "EP="); ok {
				prog.Calls = append(prog.Calls, Call{Target: ep, Line: line})
			} else if epl, ok := strings.CutPrefix(part, "EPLOC="); ok {
				prog.Calls = append(prog.Calls, Call{Target: epl, Dynamic: true, Line: line})
			}
		}
	}
}
