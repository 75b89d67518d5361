package status

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/results"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func TestPrinter_Tasks(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Tasks([]orchestrator.TaskRecord{
		{
			Context:    orchestrator.TaskContext{TaskID: "0123456789abcdef", SourceID: "PAYROLL.cbl", Priority: orchestrator.PriorityHigh},
			Status:     orchestrator.StatusCompleted,
			StartedAt:  t0,
			FinishedAt: t0.Add(1500 * time.Millisecond),
		},
		{
			Context: orchestrator.TaskContext{TaskID: "fedcba9876543210", SourceID: "BROKEN.cbl", Priority: orchestrator.PriorityLow, RetryCount: 0},
			Status:  orchestrator.StatusFailed,
			Stage:   orchestrator.StageASTParsing,
			Failure: &orchestrator.Failure{Stage: orchestrator.StageASTParsing, Message: "no PROCEDURE DIVISION"},
		},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "TASK"), lines[0])
	assert.Contains(t, lines[1], "01234567")
	assert.NotContains(t, lines[1], "89abcdef")
	assert.Contains(t, lines[1], "✓ COMPLETED")
	assert.Contains(t, lines[1], "1.5s")
	assert.Contains(t, lines[2], "✗ FAILED")
	assert.Contains(t, lines[2], "no PROCEDURE DIVISION")

	// Columns line up.
	assert.Equal(t, strings.Index(lines[0], "STATUS"), strings.Index(lines[1], "✓"))
}

func TestPrinter_TasksEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Tasks(nil)
	assert.Equal(t, "No tasks.\n", buf.String())
}

func TestPrinter_Task(t *testing.T) {
	var buf bytes.Buffer
	rec := orchestrator.TaskRecord{
		Context:     orchestrator.TaskContext{TaskID: "t-1", SourceID: "NIGHTLY.jcl", Priority: orchestrator.PriorityMedium, MaxRetries: 3, RetryCount: 1},
		Status:      orchestrator.StatusCompleted,
		SubmittedAt: t0,
		Errors:      []orchestrator.Failure{{Stage: orchestrator.StageEnhancement, Message: "timeout", Recoverable: true, Attempt: 1}},
		Degraded:    []string{orchestrator.StageEnhancement},
	}
	final := &results.FinalResult{
		Language: "jcl",
		Grade:    "B",
		Scores:   map[string]float64{"overall": 84},
		Security: &results.SecurityTotals{RiskLevel: "critical", VulnerabilityCount: 1},
		Metrics:  map[string]float64{"code_lines": 12},
		Data:     orchestrator.Data{orchestrator.KeyRecommendations: []string{"Move the password out of the PARM"}},
	}
	NewPrinter(&buf).Task(rec, final)

	out := buf.String()
	assert.Contains(t, out, "Task t-1 ✓ COMPLETED")
	assert.Contains(t, out, "2 of 4")
	assert.Contains(t, out, "attempt 1 at enhancement: timeout")
	assert.Contains(t, out, "Degraded:")
	assert.Contains(t, out, "84.0")
	assert.Contains(t, out, "critical risk, 1 findings")
	assert.Contains(t, out, "• Move the password out of the PARM")
}

func TestPrinter_Summary(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Summary(&results.SummaryResult{
		Included:        2,
		Missing:         []string{"gone"},
		Scores:          map[string]results.Stat{"overall": {Mean: 75, Min: 70, Max: 80}},
		Grades:          map[string]int{"C": 1, "B": 1},
		Vulnerabilities: 5,
		Hotspots:        []results.Hotspot{{TaskID: "abc", SourceID: "CUSTUPD.cbl", Complexity: 31}},
	})

	out := buf.String()
	assert.Contains(t, out, "Summary of 2 tasks")
	assert.Contains(t, out, "gone")
	assert.Contains(t, out, "mean 75.0  min 70.0  max 80.0")
	assert.Contains(t, out, "B=1 C=1")
	assert.Contains(t, out, "CUSTUPD.cbl (31)")
}

func TestFailureText(t *testing.T) {
	assert.Equal(t, "attempt 2: deadline exceeded (retries exhausted)",
		failureText(orchestrator.Failure{Attempt: 2, Message: "deadline exceeded", Recoverable: true, RetriesExhausted: true}))
	assert.Equal(t, "attempt 1 at ast_parsing: bad (permanent)",
		failureText(orchestrator.Failure{Attempt: 1, Stage: "ast_parsing", Message: "bad"}))
}
