package analyzer

import "slices"

// Unit kinds carried by Paragraph.Kind.
const (
	UnitParagraph = "paragraph"
	UnitLabel     = "label"
	UnitStep      = "step"
)

// Program is the scanned form of one member. It is JSON-serializable so it
// can travel through pipeline data and the result store.
type Program struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Language Language   `json:"language"`
	Lines    LineCounts `json:"lines"`

	Divisions  []string    `json:"divisions,omitempty"`
	Sections   []Block     `json:"sections,omitempty"`
	Paragraphs []Paragraph `json:"paragraphs,omitempty"`
	DataItems  []DataItem  `json:"dataItems,omitempty"`
	Calls      []Call      `json:"calls,omitempty"`
	Copies     []string    `json:"copies,omitempty"`
	SQLBlocks  []SQLBlock  `json:"sqlBlocks,omitempty"`
	Accepts    []Accept    `json:"accepts,omitempty"`

	Steps []JobStep `json:"steps,omitempty"`

	CSects          []Block     `json:"csects,omitempty"`
	SupervisorCalls []Reference `json:"supervisorCalls,omitempty"`
	Macros          []string    `json:"macros,omitempty"`

	Statements int `json:"statements"`
	Decisions  int `json:"decisions"`
	GoTos      int `json:"gotos"`
}

// LineCounts classifies the physical lines of a member.
type LineCounts struct {
	Total   int `json:"total"`
	Code    int `json:"code"`
	Comment int `json:"comment"`
	Blank   int `json:"blank"`
}

// Block is a named line range.
type Block struct {
	Name      string `json:"name"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Paragraph is a unit of control flow: a COBOL paragraph, an assembler
// label or a JCL step.
type Paragraph struct {
	Name       string       `json:"name"`
	Kind       string       `json:"kind"`
	Section    string       `json:"section,omitempty"`
	StartLine  int          `json:"startLine"`
	EndLine    int          `json:"endLine"`
	Statements int          `json:"statements"`
	Decisions  int          `json:"decisions"`
	Performs   []PerformRef `json:"performs,omitempty"`
	GoTos      []string     `json:"gotos,omitempty"`
}

// PerformRef is one PERFORM target, optionally a THRU range.
type PerformRef struct {
	Target string `json:"target"`
	Thru   string `json:"thru,omitempty"`
	Line   int    `json:"line"`
}

// DataItem is a data description entry (or an assembler DS/DC).
type DataItem struct {
	Level   int    `json:"level"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	Value   string `json:"value,omitempty"`
	Line    int    `json:"line"`
}

// Call is a CALL, LINK or XCTL to another program. Dynamic calls name an
// identifier or register instead of a program.
type Call struct {
	Target  string `json:"target"`
	Dynamic bool   `json:"dynamic,omitempty"`
	Line    int    `json:"line"`
}

// SQLBlock is an EXEC SQL ... END-EXEC block.
type SQLBlock struct {
	Text      string       `json:"text"`
	StartLine int          `json:"startLine"`
	EndLine   int          `json:"endLine"`
	Statement SQLStatement `json:"statement"`
}

// Accept is an ACCEPT statement.
type Accept struct {
	Target string `json:"target"`
	From   string `json:"from,omitempty"`
	Line   int    `json:"line"`
}

// JobStep is a JCL EXEC statement with its DD statements.
type JobStep struct {
	Name    string        `json:"name"`
	Program string        `json:"program,omitempty"`
	Proc    string        `json:"proc,omitempty"`
	Parm    string        `json:"parm,omitempty"`
	Cond    string        `json:"cond,omitempty"`
	Line    int           `json:"line"`
	DDs     []DDStatement `json:"dds,omitempty"`
}

// DDStatement is a JCL data definition.
type DDStatement struct {
	Name string `json:"name"`
	DSN  string `json:"dsn,omitempty"`
	Disp string `json:"disp,omitempty"`
	Line int    `json:"line"`
}

// Reference is a named use of something at a line.
type Reference struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

// EntryParagraph returns the first paragraph, or "" when there is none.
func (p *Program) EntryParagraph() string {
	if len(p.Paragraphs) == 0 {
		return ""
	}
	return p.Paragraphs[0].Name
}

// StaticCalls returns the distinct statically named call targets in order
// of first appearance.
func (p *Program) StaticCalls() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range p.Calls {
		if c.Dynamic || seen[c.Target] {
			continue
		}
		seen[c.Target] = true
		out = append(out, c.Target)
	}
	return out
}

// HostVariables returns every host variable referenced from embedded SQL.
func (p *Program) HostVariables() map[string]bool {
	out := make(map[string]bool)
	for _, b := range p.SQLBlocks {
		for _, v := range b.Statement.HostVariables {
			out[v] = true
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
