package stages

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/dusk-indust/legacylens/internal/analyzer"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// Severity of a vulnerability.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RiskNone is the risk level of a program without findings.
const RiskNone = "none"

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Vulnerability is one security finding.
type Vulnerability struct {
	Rule           string   `json:"rule"`
	Severity       Severity `json:"severity"`
	Line           int      `json:"line"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

// SecurityReport is the output of SecurityStage.
type SecurityReport struct {
	Vulnerabilities    []Vulnerability `json:"vulnerabilities"`
	VulnerabilityCount int             `json:"vulnerability_count"`
	RiskLevel          string          `json:"risk_level"`
	Score              float64         `json:"score"`
}

// Rule inspects a program and reports findings.
type Rule struct {
	ID    string
	Check func(p *analyzer.Program) []Vulnerability
}

// SecurityStage applies rules to the parsed program.
type SecurityStage struct {
	named
	rules []Rule
}

func NewSecurityStage(rules []Rule) *SecurityStage {
	if rules == nil {
		rules = DefaultRules()
	}
	return &SecurityStage{named: orchestrator.StageSecurity, rules: rules}
}

func (s *SecurityStage) Process(ctx context.Context, _ orchestrator.TaskContext, data orchestrator.Data) (orchestrator.Data, error) {
	prog, err := program(data)
	if err != nil {
		return nil, err
	}
	var vulns []Vulnerability
	for _, r := range s.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, v := range r.Check(prog) {
			v.Rule = r.ID
			vulns = append(vulns, v)
		}
	}
	return orchestrator.Data{orchestrator.KeySecurity: Assess(vulns)}, nil
}

// Assess orders findings by line and derives the score and risk level:
// score = max(0, 100 - 10 per finding), risk = highest severity.
func Assess(vulns []Vulnerability) SecurityReport {
	vulns = slices.Clone(vulns)
	slices.SortStableFunc(vulns, func(a, b Vulnerability) int {
		if c := cmp.Compare(a.Line, b.Line); c != 0 {
			return c
		}
		return cmp.Compare(a.Rule, b.Rule)
	})
	report := SecurityReport{
		Vulnerabilities:    vulns,
		VulnerabilityCount: len(vulns),
		RiskLevel:          RiskNone,
		Score:              max(0, 100-10*float64(len(vulns))),
	}
	if report.Vulnerabilities == nil {
		report.Vulnerabilities = []Vulnerability{}
	}
	var worst Severity
	for _, v := range vulns {
		if v.Severity.rank() > worst.rank() {
			worst = v.Severity
		}
	}
	if worst != "" {
		report.RiskLevel = string(worst)
	}
	return report
}

// Rule identifiers.
const (
	RuleHardcodedCredential = "hardcoded-credential"
	RuleDynamicCall         = "dynamic-call"
	RuleDynamicSQL          = "dynamic-sql"
	RuleUnboundedSQL        = "unbounded-sql-modification"
	RuleSQLParseFailure     = "sql-parse-failure"
	RuleConsoleInputToSQL   = "console-input-to-sql"
	RuleSupervisorCall      = "supervisor-call"
)

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{ID: RuleHardcodedCredential, Check: checkCredentials},
		{ID: RuleDynamicCall, Check: checkDynamicCalls},
		{ID: RuleDynamicSQL, Check: checkDynamicSQL},
		{ID: RuleUnboundedSQL, Check: checkUnboundedSQL},
		{ID: RuleSQLParseFailure, Check: checkSQLParse},
		{ID: RuleConsoleInputToSQL, Check: checkConsoleInput},
		{ID: RuleSupervisorCall, Check: checkSupervisorCalls},
	}
}

var (
	credentialNameRe = regexp.MustCompile(`(?i)(PASSW(OR)?D|PWD|PASSCODE|SECRET|API-?KEY|TOKEN|CREDENTIAL)`)
	credentialParmRe = regexp.MustCompile(`(?i)\b(PASSWORD|PASSWD|PWD|PASS|APIKEY|TOKEN)=`)
	literalValueRe   = regexp.MustCompile(`^(?:[CX]?'[^']+'|"[^"]+")$`)
	figurativeValues = map[string]bool{"SPACE": true, "SPACES": true, "LOW-VALUE": true, "LOW-VALUES": true,
		"HIGH-VALUE": true, "HIGH-VALUES": true, "ZERO": true, "ZEROS": true, "ZEROES": true}
)

func checkCredentials(p *analyzer.Program) []Vulnerability {
	var out []Vulnerability
	for _, item := range p.DataItems {
		v := strings.TrimSpace(item.Value)
		if !credentialNameRe.MatchString(item.Name) || figurativeValues[strings.ToUpper(v)] || !literalValueRe.MatchString(v) {
			continue
		}
		out = append(out, Vulnerability{
			Severity:       SeverityHigh,
			Line:           item.Line,
			Message:        fmt.Sprintf("%s is initialised with a literal credential", item.Name),
			Recommendation: "Load credentials at run time from a secured dataset or RACF-protected resource",
		})
	}
	for _, step := range p.Steps {
		if credentialParmRe.MatchString(step.Parm) {
			out = append(out, Vulnerability{
				Severity:       SeverityCritical,
				Line:           step.Line,
				Message:        fmt.Sprintf("step %s passes a credential in PARM", step.Name),
				Recommendation: "Remove credentials from JCL; they are visible in job logs and SYSOUT",
			})
		}
	}
	return out
}

func checkDynamicCalls(p *analyzer.Program) []Vulnerability {
	var out []Vulnerability
	for _, c := range p.Calls {
		if !c.Dynamic {
			continue
		}
		out = append(out, Vulnerability{
			Severity:       SeverityMedium,
			Line:           c.Line,
			Message:        fmt.Sprintf("dynamic call through %s", c.Target),
			Recommendation: "Validate the called program name against an allow list",
		})
	}
	return out
}

func checkDynamicSQL(p *analyzer.Program) []Vulnerability {
	var out []Vulnerability
	for _, b := range p.SQLBlocks {
		if !b.Statement.Dynamic {
			continue
		}
		out = append(out, Vulnerability{
			Severity:       SeverityHigh,
			Line:           b.StartLine,
			Message:        "dynamic SQL statement",
			Recommendation: "Use static SQL or parameter markers; never build statements from input",
		})
	}
	return out
}

func checkUnboundedSQL(p *analyzer.Program) []Vulnerability {
	var out []Vulnerability
	for _, b := range p.SQLBlocks {
		k := b.Statement.Kind
		if (k != analyzer.SQLUpdate && k != analyzer.SQLDelete) || b.Statement.HasWhere {
			continue
		}
		out = append(out, Vulnerability{
			Severity:       SeverityHigh,
			Line:           b.StartLine,
			Message:        fmt.Sprintf("%s without WHERE affects every row of %s", strings.ToUpper(k), strings.Join(b.Statement.Tables, ", ")),
			Recommendation: "Add a WHERE clause or document the full-table operation",
		})
	}
	return out
}

func checkSQLParse(p *analyzer.Program) []Vulnerability {
	var out []Vulnerability
	for _, b := range p.SQLBlocks {
		if b.Statement.ParseFailed {
			out = append(out, Vulnerability{
				Severity:       SeverityLow,
				Line:           b.StartLine,
				Message:        "embedded SQL could not be analyzed",
				Recommendation: "Review the statement manually",
			})
		}
	}
	return out
}

// consoleSources are ACCEPT sources that carry operator or job input.
var consoleSources = map[string]bool{"": true, "CONSOLE": true, "SYSIN": true, "SYSIPT": true}

func checkConsoleInput(p *analyzer.Program) []Vulnerability {
	hostVars := p.HostVariables()
	var out []Vulnerability
	for _, a := range p.Accepts {
		if !consoleSources[a.From] || !hostVars[a.Target] {
			continue
		}
		out = append(out, Vulnerability{
			Severity:       SeverityHigh,
			Line:           a.Line,
			Message:        fmt.Sprintf("%s is read from the console and used in SQL", a.Target),
			Recommendation: "Validate console input before it reaches SQL host variables",
		})
	}
	return out
}

func checkSupervisorCalls(p *analyzer.Program) []Vulnerability {
	var out []Vulnerability
	for _, ref := range p.SupervisorCalls {
		v := Vulnerability{
			Severity:       SeverityMedium,
			Line:           ref.Line,
			Message:        fmt.Sprintf("supervisor call %s", ref.Name),
			Recommendation: "Confirm the program is APF authorized only where required",
		}
		if strings.HasPrefix(ref.Name, "MODESET") {
			v.Severity = SeverityHigh
			v.Message = fmt.Sprintf("switches to supervisor state or key zero: %s", ref.Name)
		}
		out = append(out, v)
	}
	return out
}
