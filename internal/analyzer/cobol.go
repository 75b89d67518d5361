package analyzer

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

type lineKind int

const (
	lineCode lineKind = iota
	lineComment
	lineBlank
)

// cobolLine is one physical line reduced to its program text area.
type cobolLine struct {
	num   int
	raw   string // program text, original case
	text  string // program text, upper case
	kind  lineKind
	areaA bool // text begins in area A (columns 8-11, or column 1 in free form)
}

// splitCOBOL handles both fixed form (sequence area, indicator column,
// columns 73-80 ignored) and free form with "*>" comments.
func splitCOBOL(src []byte) []cobolLine {
	raw := splitLines(src)
	out := make([]cobolLine, 0, len(raw))
	for i, line := range raw {
		l := cobolLine{num: i + 1}
		var text string
		if isFixedForm(line) {
			switch line[6] {
			case '*', '/', 'D', 'd':
				l.kind = lineComment
			}
			end := min(len(line), 72)
			text = line[7:end]
			l.areaA = len(text)-len(strings.TrimLeft(text, " ")) < 4
		} else {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "*>") || strings.HasPrefix(line, "*") {
				l.kind = lineComment
			}
			text = line
			l.areaA = len(line) > 0 && line[0] != ' ' && line[0] != '\t'
		}
		if idx := strings.Index(text, "*>"); idx >= 0 && l.kind == lineCode {
			text = text[:idx]
		}
		if l.kind == lineCode && strings.TrimSpace(text) == "" {
			l.kind = lineBlank
		}
		if l.kind == lineCode {
			l.raw = strings.TrimSpace(text)
			l.text = strings.ToUpper(l.raw)
		}
		out = append(out, l)
	}
	return out
}

// isFixedForm reports whether line has a sequence area of digits or
// spaces followed by an indicator column.
func isFixedForm(line string) bool {
	if len(line) < 7 {
		return false
	}
	for _, c := range line[:6] {
		if c != ' ' && (c < '0' || c > '9') {
			return false
		}
	}
	switch line[6] {
	case ' ', '*', '/', '-', 'D', 'd':
		return true
	}
	return false
}

var (
	divisionRe   = regexp.MustCompile(`^(IDENTIFICATION|ID|ENVIRONMENT|DATA|PROCEDURE)\s+DIVISION\b`)
	programIDRe  = regexp.MustCompile(`PROGRAM-ID\.?\s+['"]?([A-Z0-9][A-Z0-9-]*)`)
	sectionRe    = regexp.MustCompile(`^([A-Z0-9][A-Z0-9-]*)\s+SECTION(\s+\d+)?\s*\.`)
	paragraphRe  = regexp.MustCompile(`^([A-Z0-9][A-Z0-9-]*)\s*\.(?:\s+(.*))?$`)
	dataItemRe   = regexp.MustCompile(`^(\d{1,2})\s+([A-Z0-9][A-Z0-9-]*)\b(.*)$`)
	pictureRe    = regexp.MustCompile(`\bPIC(?:TURE)?\s+(?:IS\s+)?(\S+)`)
	valueRe      = regexp.MustCompile(`(?i)\bVALUES?\s+(?:IS\s+|ARE\s+)?('[^']*'|"[^"]*"|[^\s.]+)`)
	copyRe       = regexp.MustCompile(`\bCOPY\s+['"]?([A-Z0-9$#@][A-Z0-9$#@-]*)`)
	staticCallRe = regexp.MustCompile(`\bCALL\s+['"]([^'"]+)['"]`)
	dynCallRe    = regexp.MustCompile(`\bCALL\s+([A-Z][A-Z0-9-]*)`)
	literalRe    = regexp.MustCompile(`'[^']*'|"[^"]*"`)
)

// cobolVerbs start a statement.
var cobolVerbs = map[string]bool{
	"ACCEPT": true, "ADD": true, "ALTER": true, "CALL": true, "CANCEL": true,
	"CLOSE": true, "COMPUTE": true, "CONTINUE": true, "DELETE": true,
	"DISPLAY": true, "DIVIDE": true, "EVALUATE": true, "EXEC": true,
	"EXIT": true, "GO": true, "GOBACK": true, "IF": true, "INITIALIZE": true,
	"INSPECT": true, "MERGE": true, "MOVE": true, "MULTIPLY": true,
	"OPEN": true, "PERFORM": true, "READ": true, "RELEASE": true,
	"RETURN": true, "REWRITE": true, "SEARCH": true, "SET": true,
	"SORT": true, "START": true, "STOP": true, "STRING": true,
	"SUBTRACT": true, "UNSTRING": true, "WRITE": true,
}

// performKeywords follow PERFORM without naming a target.
var performKeywords = map[string]bool{
	"UNTIL": true, "VARYING": true, "WITH": true, "TEST": true,
	"FOREVER": true, "TIMES": true,
}

// reservedSentences are single-word sentences that look like paragraph
// headers in free form source.
var reservedSentences = map[string]bool{
	"EXIT": true, "GOBACK": true, "CONTINUE": true, "ELSE": true,
	"END-IF": true, "END-PERFORM": true, "END-EVALUATE": true,
	"END-READ": true, "END-EXEC": true, "END-CALL": true, "END-SEARCH": true,
}

type cobolScanner struct {
	prog     *Program
	division string
	section  *Block
	para     *Paragraph
	lastCode int

	inSQL    bool
	sqlStart int
	sqlText  []string
}

func parseCOBOL(prog *Program, src []byte) error {
	s := &cobolScanner{prog: prog}
	if prog.Language == LangCopybook {
		s.division = "DATA"
	}

	for _, l := range splitCOBOL(src) {
		prog.Lines.Total++
		switch l.kind {
		case lineComment:
			prog.Lines.Comment++
			continue
		case lineBlank:
			prog.Lines.Blank++
			continue
		}
		prog.Lines.Code++
		s.line(l)
		s.lastCode = l.num
	}
	s.closeParagraph()
	s.closeSection()

	if s.inSQL {
		return &ParseError{Name: prog.Path, Line: s.sqlStart, Reason: "EXEC SQL without END-EXEC"}
	}
	if prog.Language == LangCopybook {
		return nil
	}
	if !slices.Contains(prog.Divisions, "IDENTIFICATION") {
		return &ParseError{Name: prog.Path, Line: 1, Reason: "missing IDENTIFICATION DIVISION"}
	}
	if !slices.Contains(prog.Divisions, "PROCEDURE") {
		return &ParseError{Name: prog.Path, Reason: "missing PROCEDURE DIVISION"}
	}
	return nil
}

func (s *cobolScanner) line(l cobolLine) {
	t := l.text

	if s.inSQL {
		s.appendSQL(l.num, l.raw)
		return
	}
	if idx := strings.Index(t, "EXEC SQL"); idx >= 0 && idx+len("EXEC SQL") <= len(l.raw) {
		if s.division == "PROCEDURE" {
			s.count(1, 0)
		}
		s.inSQL = true
		s.sqlStart = l.num
		s.sqlText = nil
		s.appendSQL(l.num, strings.TrimSpace(l.raw[idx+len("EXEC SQL"):]))
		return
	}

	if m := divisionRe.FindStringSubmatch(t); m != nil {
		div := m[1]
		if div == "ID" {
			div = "IDENTIFICATION"
		}
		s.closeParagraph()
		s.closeSection()
		s.division = div
		s.prog.Divisions = appendUnique(s.prog.Divisions, div)
		return
	}

	for _, m := range copyRe.FindAllStringSubmatch(t, -1) {
		s.prog.Copies = appendUnique(s.prog.Copies, m[1])
	}

	switch s.division {
	case "IDENTIFICATION":
		if m := programIDRe.FindStringSubmatch(t); m != nil {
			s.prog.Name = m[1]
		}
	case "DATA":
		s.dataItem(l)
	case "PROCEDURE":
		s.procedure(l)
	}
}

func (s *cobolScanner) dataItem(l cobolLine) {
	m := dataItemRe.FindStringSubmatch(l.text)
	if m == nil {
		return
	}
	level, _ := strconv.Atoi(m[1])
	item := DataItem{Level: level, Name: m[2], Line: l.num}
	if pm := pictureRe.FindStringSubmatch(m[3]); pm != nil {
		item.Picture = strings.TrimSuffix(pm[1], ".")
	}
	if vm := valueRe.FindStringSubmatch(l.raw); vm != nil {
		item.Value = strings.TrimSuffix(vm[1], ".")
	}
	s.prog.DataItems = append(s.prog.DataItems, item)
}

func (s *cobolScanner) procedure(l cobolLine) {
	t := l.text
	if l.areaA {
		if m := sectionRe.FindStringSubmatch(t); m != nil {
			s.closeParagraph()
			s.closeSection()
			s.section = &Block{Name: m[1], StartLine: l.num}
			return
		}
		if m := paragraphRe.FindStringSubmatch(t); m != nil && !reservedSentences[m[1]] && !cobolVerbs[m[1]] {
			s.closeParagraph()
			s.para = &Paragraph{Name: m[1], Kind: UnitParagraph, StartLine: l.num}
			if s.section != nil {
				s.para.Section = s.section.Name
			}
			if m[2] == "" {
				return
			}
			t = m[2]
		}
	}
	s.statements(l.num, t)
}

// statements scans one line of procedure text for verbs, decisions and
// control transfers.
func (s *cobolScanner) statements(line int, text string) {
	for _, m := range staticCallRe.FindAllStringSubmatch(text, -1) {
		s.prog.Calls = append(s.prog.Calls, Call{Target: strings.ToUpper(m[1]), Line: line})
	}
	stripped := literalRe.ReplaceAllString(text, " LIT ")
	for _, m := range dynCallRe.FindAllStringSubmatch(stripped, -1) {
		if m[1] == "LIT" {
			continue
		}
		s.prog.Calls = append(s.prog.Calls, Call{Target: m[1], Dynamic: true, Line: line})
	}

	tokens := strings.FieldsFunc(stripped, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-')
	})
	next := func(i int) string {
		if i < len(tokens) {
			return tokens[i]
		}
		return ""
	}

	var stmts, decisions int
	for i, tok := range tokens {
		if cobolVerbs[tok] {
			stmts++
		}
		switch tok {
		case "IF", "UNTIL", "AND", "OR":
			decisions++
		case "WHEN":
			if next(i+1) != "OTHER" {
				decisions++
			}
		case "GO":
			target := next(i + 1)
			if target == "TO" {
				target = next(i + 2)
			}
			if isIdentifier(target) {
				s.prog.GoTos++
				if s.para != nil {
					s.para.GoTos = appendUnique(s.para.GoTos, target)
				}
			}
		case "PERFORM":
			target := next(i + 1)
			if !isIdentifier(target) || performKeywords[target] || isNumber(target) {
				continue
			}
			ref := PerformRef{Target: target, Line: line}
			if kw := next(i + 2); kw == "THRU" || kw == "THROUGH" {
				ref.Thru = next(i + 3)
			}
			if s.para != nil {
				s.para.Performs = append(s.para.Performs, ref)
			}
		case "ACCEPT":
			acc := Accept{Target: next(i + 1), Line: line}
			if next(i+2) == "FROM" {
				acc.From = next(i + 3)
			}
			s.prog.Accepts = append(s.prog.Accepts, acc)
		}
	}
	s.count(stmts, decisions)
}

func (s *cobolScanner) count(stmts, decisions int) {
	s.prog.Statements += stmts
	s.prog.Decisions += decisions
	if s.para != nil {
		s.para.Statements += stmts
		s.para.Decisions += decisions
	}
}

func (s *cobolScanner) appendSQL(line int, text string) {
	upper := strings.ToUpper(text)
	if idx := strings.Index(upper, "END-EXEC"); idx >= 0 {
		s.sqlText = append(s.sqlText, strings.TrimSpace(text[:idx]))
		s.prog.SQLBlocks = append(s.prog.SQLBlocks, SQLBlock{
			Text:      strings.TrimSpace(strings.Join(s.sqlText, " ")),
			StartLine: s.sqlStart,
			EndLine:   line,
		})
		s.inSQL = false
		return
	}
	s.sqlText = append(s.sqlText, text)
}

func (s *cobolScanner) closeParagraph() {
	if s.para == nil {
		return
	}
	s.para.EndLine = max(s.para.StartLine, s.lastCode)
	s.prog.Paragraphs = append(s.prog.Paragraphs, *s.para)
	s.para = nil
}

func (s *cobolScanner) closeSection() {
	if s.section == nil {
		return
	}
	s.section.EndLine = max(s.section.StartLine, s.lastCode)
	s.prog.Sections = append(s.prog.Sections, *s.section)
	s.section = nil
}

func isIdentifier(tok string) bool {
	if tok == "" || tok == "LIT" {
		return false
	}
	c := tok[0]
	return c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isNumber(tok string) bool {
	_, err := strconv.Atoi(tok)
	return err == nil
}
