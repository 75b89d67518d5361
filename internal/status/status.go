// Package status renders tasks, results and summaries for the terminal.
package status

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/results"
)

var (
	colorOK      = lipgloss.Color("#2CD7C7")
	colorActive  = lipgloss.Color("#20B9B4")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#5C7A84")
)

// Printer writes styled output to w. Colors are dropped when w is not a
// terminal.
type Printer struct {
	w       io.Writer
	title   lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	active  lipgloss.Style
	warning lipgloss.Style
	failed  lipgloss.Style
	cell    lipgloss.Style
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:       w,
		title:   r.NewStyle().Bold(true).Foreground(colorActive),
		muted:   r.NewStyle().Foreground(colorMuted),
		ok:      r.NewStyle().Foreground(colorOK),
		active:  r.NewStyle().Foreground(colorActive),
		warning: r.NewStyle().Foreground(colorWarning),
		failed:  r.NewStyle().Foreground(colorError),
		cell:    r.NewStyle(),
	}
}

// Icon returns the marker shown next to a status.
func Icon(st orchestrator.Status) string {
	switch st {
	case orchestrator.StatusPending:
		return "○"
	case orchestrator.StatusRunning:
		return "●"
	case orchestrator.StatusRetrying:
		return "↻"
	case orchestrator.StatusCompleted:
		return "✓"
	case orchestrator.StatusFailed:
		return "✗"
	case orchestrator.StatusTimedOut:
		return "⧖"
	default:
		return "?"
	}
}

func (p *Printer) statusStyle(st orchestrator.Status) lipgloss.Style {
	switch st {
	case orchestrator.StatusCompleted:
		return p.ok
	case orchestrator.StatusRunning:
		return p.active
	case orchestrator.StatusRetrying, orchestrator.StatusTimedOut:
		return p.warning
	case orchestrator.StatusFailed:
		return p.failed
	default:
		return p.muted
	}
}

// ShortID returns the first eight characters of a task id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Tasks prints one row per task.
func (p *Printer) Tasks(recs []orchestrator.TaskRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(p.w, p.muted.Render("No tasks."))
		return
	}
	header := []string{"TASK", "SOURCE", "STATUS", "STAGE", "ATTEMPT", "PRIORITY", "ELAPSED", "DETAIL"}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			ShortID(rec.ID()),
			sourceLabel(rec),
			Icon(rec.Status) + " " + string(rec.Status),
			rec.Stage,
			fmt.Sprint(rec.Context.Attempt()),
			rec.Context.Priority.String(),
			elapsed(rec),
			detail(rec),
		})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}

	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = p.title.Width(widths[i]).Render(h)
	}
	fmt.Fprintln(p.w, strings.TrimRight(strings.Join(cells, "  "), " "))
	for r, row := range rows {
		for i, c := range row {
			style := p.cell
			if i == 2 {
				style = p.statusStyle(recs[r].Status)
			}
			cells[i] = style.Width(widths[i]).Render(c)
		}
		fmt.Fprintln(p.w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

// Task prints one task in detail, with its result when final is set.
func (p *Printer) Task(rec orchestrator.TaskRecord, final *results.FinalResult) {
	st := p.statusStyle(rec.Status)
	fmt.Fprintf(p.w, "%s %s\n", p.title.Render("Task "+rec.ID()), st.Render(Icon(rec.Status)+" "+string(rec.Status)))
	p.field("Source", sourceLabel(rec))
	p.field("Priority", rec.Context.Priority.String())
	p.field("Attempt", fmt.Sprintf("%d of %d", rec.Context.Attempt(), rec.Context.MaxRetries+1))
	if rec.Stage != "" {
		p.field("Stage", rec.Stage)
	}
	p.field("Submitted", rec.SubmittedAt.Format(time.RFC3339))
	if e := elapsed(rec); e != "" {
		p.field("Elapsed", e)
	}
	if len(rec.Degraded) > 0 {
		p.field("Degraded", p.warning.Render(strings.Join(rec.Degraded, ", ")))
	}
	if rec.Failure != nil {
		p.field("Failure", p.failed.Render(failureText(*rec.Failure)))
	}
	if len(rec.Errors) > 0 {
		fmt.Fprintln(p.w, p.muted.Render("  Error history:"))
		for _, f := range rec.Errors {
			fmt.Fprintf(p.w, "    - %s\n", failureText(f))
		}
	}
	if final != nil {
		p.Result(final)
	}
}

// Result prints the headline figures of a finalized analysis.
func (p *Printer) Result(final *results.FinalResult) {
	fmt.Fprintln(p.w)
	if final.Language != "" {
		p.field("Language", final.Language)
	}
	if final.Grade != "" {
		p.field("Grade", p.gradeStyle(final.Grade).Render(final.Grade))
	}
	for _, name := range slices.Sorted(maps.Keys(final.Scores)) {
		p.field("Score "+name, fmt.Sprintf("%.1f", final.Scores[name]))
	}
	if sec := final.Security; sec != nil {
		p.field("Security", fmt.Sprintf("%s risk, %d findings", sec.RiskLevel, sec.VulnerabilityCount))
	}
	for _, name := range []string{"code_lines", "cyclomatic_complexity", "maintainability_index", "perform_depth"} {
		if v, ok := final.Metrics[name]; ok {
			p.field(name, fmt.Sprintf("%g", v))
		}
	}
	recs, err := orchestrator.Value[[]string](final.Data, orchestrator.KeyRecommendations)
	if err == nil && len(recs) > 0 {
		fmt.Fprintln(p.w, p.muted.Render("  Recommendations:"))
		for _, r := range recs {
			fmt.Fprintf(p.w, "    • %s\n", r)
		}
	}
}

// Summary prints an aggregate over several tasks.
func (p *Printer) Summary(sum *results.SummaryResult) {
	fmt.Fprintln(p.w, p.title.Render(fmt.Sprintf("Summary of %d tasks", sum.Included)))
	if len(sum.Missing) > 0 {
		p.field("Missing", p.warning.Render(strings.Join(sum.Missing, ", ")))
	}
	for _, name := range []string{"overall", "quality", "security"} {
		if s, ok := sum.Scores[name]; ok {
			p.field("Score "+name, fmt.Sprintf("mean %.1f  min %.1f  max %.1f", s.Mean, s.Min, s.Max))
		}
	}
	if s, ok := sum.Metrics["code_lines"]; ok {
		p.field("Code lines", fmt.Sprintf("total %.0f  mean %.1f  stddev %.1f", s.Sum, s.Mean, s.StdDev))
	}
	if s, ok := sum.Metrics["cyclomatic_complexity"]; ok {
		p.field("Complexity", fmt.Sprintf("mean %.1f  max %.0f", s.Mean, s.Max))
	}
	if len(sum.Grades) > 0 {
		p.field("Grades", countList(sum.Grades))
	}
	if len(sum.Languages) > 0 {
		p.field("Languages", countList(sum.Languages))
	}
	if len(sum.RiskLevels) > 0 {
		p.field("Risk levels", countList(sum.RiskLevels))
	}
	p.field("Findings", fmt.Sprint(sum.Vulnerabilities))
	if len(sum.Degraded) > 0 {
		p.field("Degraded", p.warning.Render(countList(sum.Degraded)))
	}
	if len(sum.Hotspots) > 0 {
		fmt.Fprintln(p.w, p.muted.Render("  Complexity hotspots:"))
		for _, h := range sum.Hotspots {
			label := h.SourceID
			if label == "" {
				label = ShortID(h.TaskID)
			}
			fmt.Fprintf(p.w, "    %s %s (%.0f)\n", p.warning.Render("▲"), label, h.Complexity)
		}
	}
}

// Event prints a task event as one line.
func (p *Printer) Event(ev orchestrator.TaskEvent) {
	line := orchestrator.FormatEvent(ev)
	switch {
	case ev.Kind == orchestrator.EventStageDegraded:
		line = p.warning.Render(line)
	case ev.Kind == orchestrator.EventStatus:
		line = p.statusStyle(ev.Status).Render(line)
	}
	fmt.Fprintln(p.w, line)
}

func (p *Printer) field(name, value string) {
	fmt.Fprintf(p.w, "  %s %s\n", p.muted.Render(fmt.Sprintf("%-22s", name+":")), value)
}

func (p *Printer) gradeStyle(grade string) lipgloss.Style {
	switch grade {
	case "A", "B":
		return p.ok
	case "C":
		return p.warning
	default:
		return p.failed
	}
}

func sourceLabel(rec orchestrator.TaskRecord) string {
	if rec.Context.SourceID != "" {
		return rec.Context.SourceID
	}
	return "(summary)"
}

func elapsed(rec orchestrator.TaskRecord) string {
	if rec.StartedAt.IsZero() {
		return ""
	}
	end := rec.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(rec.StartedAt).Round(time.Millisecond).String()
}

func detail(rec orchestrator.TaskRecord) string {
	switch {
	case rec.Failure != nil:
		return truncate(rec.Failure.Message, 60)
	case len(rec.Degraded) > 0:
		return "degraded: " + strings.Join(rec.Degraded, ",")
	default:
		return ""
	}
}

func failureText(f orchestrator.Failure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "attempt %d", f.Attempt)
	if f.Stage != "" {
		fmt.Fprintf(&b, " at %s", f.Stage)
	}
	fmt.Fprintf(&b, ": %s", f.Message)
	if !f.Recoverable {
		b.WriteString(" (permanent)")
	} else if f.RetriesExhausted {
		b.WriteString(" (retries exhausted)")
	}
	return b.String()
}

func countList(m map[string]int) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
