package stages

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/analyzer"
	"github.com/dusk-indust/legacylens/internal/enhance"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

var fixtureRoot = filepath.Join("..", "..", "testdata", "fixtures", "legacy")

func fixtureTask(source string) orchestrator.TaskContext {
	return orchestrator.TaskContext{
		TaskID:     "6f1c2a0e-9a51-4c55-9a1e-0d3c1c2b7e11",
		SourceID:   source,
		Priority:   orchestrator.PriorityMedium,
		Timeout:    time.Minute,
		MaxRetries: 1,
	}
}

// analyze runs the stages up to and including upTo over a fixture and
// returns the accumulated data.
func analyze(t *testing.T, source string, upTo string) orchestrator.Data {
	t.Helper()
	ctx := context.Background()
	tc := fixtureTask(source)

	data, err := NewSourceLoader(fixtureRoot).Load(ctx, tc)
	require.NoError(t, err)

	for _, s := range []orchestrator.Stage{
		NewASTParsingStage(analyzer.NewParser(), nil, nil),
		NewMetricsStage(nil),
		NewSecurityStage(nil),
		NewBenchmarkStage(nil),
		NewEnhancementStage(enhance.NoopEnhancer{}, nil, nil),
	} {
		out, err := s.Process(ctx, tc, data)
		require.NoError(t, err, s.Name())
		data = data.Merge(out)
		if s.Name() == upTo {
			break
		}
	}
	return data
}

func securityReport(t *testing.T, data orchestrator.Data) SecurityReport {
	t.Helper()
	rep, err := orchestrator.Value[SecurityReport](data, orchestrator.KeySecurity)
	require.NoError(t, err)
	return rep
}

func rules(r SecurityReport) []string {
	out := make([]string, 0, len(r.Vulnerabilities))
	for _, v := range r.Vulnerabilities {
		out = append(out, v.Rule)
	}
	return out
}

// failingEnhancer always fails with a recoverable error.
type failingEnhancer struct{}

func (failingEnhancer) Enhance(context.Context, string, orchestrator.TaskContext) (*enhance.Enhanced, error) {
	return nil, &enhance.EnhancementError{Provider: "test", Message: "provider unavailable"}
}
