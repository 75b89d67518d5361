// Package analyzer scans COBOL, JCL and HLASM members into a Program model,
// computes source metrics and indexes programs into the program graph.
//
// The scanners are line oriented. They recognise the structure needed for
// metrics, dependency edges and security rules; they are not validating
// compilers.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Language of a source member.
type Language string

const (
	LangUnknown   Language = ""
	LangCOBOL     Language = "cobol"
	LangCopybook  Language = "copybook"
	LangJCL       Language = "jcl"
	LangAssembler Language = "assembler"
)

// ParseLanguage converts a user supplied name into a Language.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return LangUnknown, nil
	case "cobol", "cbl":
		return LangCOBOL, nil
	case "copybook", "cpy":
		return LangCopybook, nil
	case "jcl":
		return LangJCL, nil
	case "assembler", "asm", "hlasm":
		return LangAssembler, nil
	default:
		return LangUnknown, fmt.Errorf("analyzer: unknown language %q", s)
	}
}

var (
	jobCardRe   = regexp.MustCompile(`(?m)^//[A-Z0-9$#@]{1,8}\s+JOB\b`)
	cobolHeadRe = regexp.MustCompile(`\b(IDENTIFICATION|ID)\s+DIVISION\b`)
	csectRe     = regexp.MustCompile(`(?m)^[A-Z$#@][A-Z0-9$#@]*\s+(CSECT|START|RSECT)\b`)
)

// DetectLanguage guesses the language of a member from its file extension,
// falling back to its content.
func DetectLanguage(name string, src []byte) Language {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cbl", ".cob", ".cobol":
		return LangCOBOL
	case ".cpy", ".copy":
		return LangCopybook
	case ".jcl":
		return LangJCL
	case ".asm", ".mlc", ".s", ".hlasm":
		return LangAssembler
	}
	upper := bytes.ToUpper(src)
	switch {
	case jobCardRe.Match(upper):
		return LangJCL
	case cobolHeadRe.Match(upper):
		return LangCOBOL
	case csectRe.Match(upper):
		return LangAssembler
	}
	return LangUnknown
}

// ParseError reports a member that cannot be analyzed. It is permanent:
// retrying the same source fails the same way.
type ParseError struct {
	Name   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %s", e.Name, e.Line, e.Reason)
	}
	return fmt.Sprintf("parse %s: %s", e.Name, e.Reason)
}

// Recoverable reports false; see orchestrator.Classify.
func (e *ParseError) Recoverable() bool { return false }

// Parser turns source members into Programs.
type Parser struct {
	// SkipSQL disables tree-sitter analysis of EXEC SQL blocks.
	SkipSQL bool
}

// NewParser returns a Parser with SQL analysis enabled.
func NewParser() *Parser { return &Parser{} }

// Parse scans src. An empty lang is detected from name and content.
func (p *Parser) Parse(ctx context.Context, name string, src []byte, lang Language) (*Program, error) {
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, &ParseError{Name: name, Reason: "empty source"}
	}
	if lang == LangUnknown {
		lang = DetectLanguage(name, src)
	}

	prog := &Program{
		Name:     memberName(name),
		Path:     name,
		Language: lang,
	}
	var err error
	switch lang {
	case LangCOBOL, LangCopybook:
		err = parseCOBOL(prog, src)
	case LangJCL:
		err = parseJCL(prog, src)
	case LangAssembler:
		err = parseAssembler(prog, src)
	default:
		return nil, &ParseError{Name: name, Reason: "unknown language"}
	}
	if err != nil {
		return nil, err
	}

	if !p.SkipSQL {
		for i := range prog.SQLBlocks {
			stmt, err := ScanSQL(ctx, prog.SQLBlocks[i].Text)
			if err != nil {
				return nil, fmt.Errorf("analyzer: scan sql at %s:%d: %w", name, prog.SQLBlocks[i].StartLine, err)
			}
			prog.SQLBlocks[i].Statement = stmt
		}
	}
	return prog, nil
}

// Parse scans src with a default Parser.
func Parse(ctx context.Context, name string, src []byte, lang Language) (*Program, error) {
	return NewParser().Parse(ctx, name, src, lang)
}

// memberName derives a member name from a path: "src/payroll.cbl" -> "PAYROLL".
func memberName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ToUpper(base)
}

// splitLines splits src into lines without terminators. A trailing newline
// does not produce an extra empty line.
func splitLines(src []byte) []string {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
