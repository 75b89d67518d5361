package analyzer

import (
	"math"
	"slices"
)

// Metrics are the numeric measurements of one program. Every field is a
// number so the struct reads back from JSON as map[string]float64.
type Metrics struct {
	TotalLines             int     `json:"total_lines"`
	CodeLines              int     `json:"code_lines"`
	CommentLines           int     `json:"comment_lines"`
	BlankLines             int     `json:"blank_lines"`
	CommentRatio           float64 `json:"comment_ratio"`
	ParagraphCount         int     `json:"paragraph_count"`
	StatementCount         int     `json:"statement_count"`
	CyclomaticComplexity   int     `json:"cyclomatic_complexity"`
	MaxParagraphComplexity int     `json:"max_paragraph_complexity"`
	AvgParagraphSize       float64 `json:"avg_paragraph_size"`
	GoToCount              int     `json:"goto_count"`
	DeadParagraphs         int     `json:"dead_paragraphs"`
	CallCount              int     `json:"call_count"`
	CopyCount              int     `json:"copy_count"`
	SQLStatementCount      int     `json:"sql_statement_count"`
	DataItemCount          int     `json:"data_item_count"`
	PerformDepth           int     `json:"perform_depth"`
	MaintainabilityIndex   float64 `json:"maintainability_index"`
}

// ComputeMetrics measures p. PerformDepth needs the program graph and is
// left at zero; see PerformDepth.
func ComputeMetrics(p *Program) Metrics {
	m := Metrics{
		TotalLines:           p.Lines.Total,
		CodeLines:            p.Lines.Code,
		CommentLines:         p.Lines.Comment,
		BlankLines:           p.Lines.Blank,
		ParagraphCount:       len(p.Paragraphs),
		StatementCount:       p.Statements,
		CyclomaticComplexity: 1 + p.Decisions,
		GoToCount:            p.GoTos,
		DeadParagraphs:       len(DeadParagraphs(p)),
		CallCount:            len(p.Calls),
		CopyCount:            len(p.Copies),
		SQLStatementCount:    len(p.SQLBlocks),
		DataItemCount:        len(p.DataItems),
	}
	if nonBlank := p.Lines.Code + p.Lines.Comment; nonBlank > 0 {
		m.CommentRatio = round(float64(p.Lines.Comment)/float64(nonBlank), 4)
	}

	var size int
	for _, para := range p.Paragraphs {
		m.MaxParagraphComplexity = max(m.MaxParagraphComplexity, 1+para.Decisions)
		size += para.EndLine - para.StartLine + 1
	}
	if len(p.Paragraphs) > 0 {
		m.AvgParagraphSize = round(float64(size)/float64(len(p.Paragraphs)), 2)
	}
	m.MaintainabilityIndex = MaintainabilityIndex(m.CyclomaticComplexity, m.CodeLines)
	return m
}

// MaintainabilityIndex is the normalized 0-100 index
// max(0, (171 - 0.23*CC - 16.2*ln(LOC)) * 100 / 171).
func MaintainabilityIndex(cyclomatic, codeLines int) float64 {
	loc := math.Max(1, float64(codeLines))
	mi := (171 - 0.23*float64(cyclomatic) - 16.2*math.Log(loc)) * 100 / 171
	return round(math.Max(0, math.Min(100, mi)), 2)
}

// DeadParagraphs returns COBOL paragraphs that are never the target of a
// PERFORM or GO TO, directly, through a THRU range or through their
// section. The entry paragraph is never dead.
func DeadParagraphs(p *Program) []string {
	if p.Language != LangCOBOL || len(p.Paragraphs) < 2 {
		return nil
	}
	index := make(map[string]int, len(p.Paragraphs))
	for i, para := range p.Paragraphs {
		index[para.Name] = i
	}

	live := make([]bool, len(p.Paragraphs))
	live[0] = true
	liveSections := make(map[string]bool)
	mark := func(name string) {
		if i, ok := index[name]; ok {
			live[i] = true
			return
		}
		liveSections[name] = true
	}
	for _, para := range p.Paragraphs {
		for _, ref := range para.Performs {
			mark(ref.Target)
			from, okFrom := index[ref.Target]
			to, okTo := index[ref.Thru]
			if ref.Thru != "" && okFrom && okTo {
				for i := from; i <= to; i++ {
					live[i] = true
				}
			} else if ref.Thru != "" {
				mark(ref.Thru)
			}
		}
		for _, target := range para.GoTos {
			mark(target)
		}
	}

	var dead []string
	for i, para := range p.Paragraphs {
		if live[i] || (para.Section != "" && liveSections[para.Section]) {
			continue
		}
		dead = append(dead, para.Name)
	}
	slices.Sort(dead)
	return dead
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
