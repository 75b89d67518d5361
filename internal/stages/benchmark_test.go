package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

func TestCriterionScore(t *testing.T) {
	cc := Criterion{Metric: "cyclomatic_complexity", Min: 1, Max: 20, Target: 5, Weight: 1}
	tests := []struct {
		name  string
		c     Criterion
		value float64
		want  float64
	}{
		{"at target", cc, 5, 100},
		{"below target inside range", cc, 4, 90},
		{"at upper bound", cc, 20, 60},
		{"at lower bound", cc, 1, 60},
		{"above range", cc, 25, 44.21},
		{"below range", cc, 0.5, 58.42},
		{"far above range", cc, 100, 0},
		{"zero span", Criterion{Min: 0, Max: 5, Target: 0}, 0, 100},
		{"zero width range", Criterion{Min: 0, Max: 0, Target: 0}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, criterionScore(tt.c, tt.value), 0.001)
		})
	}
}

func TestEvaluate(t *testing.T) {
	profile := Profile{Name: "custom", Criteria: []Criterion{
		{Metric: "a", Min: 0, Max: 10, Target: 5, Weight: 1},
		{Metric: "b", Min: 0, Max: 10, Target: 0, Weight: 3},
		{Metric: "missing", Min: 0, Max: 10, Target: 0, Weight: 100},
	}}
	res := Evaluate(profile, map[string]float64{"a": 5, "b": 10}, 90)

	assert.Equal(t, "custom", res.Profile)
	require.Len(t, res.Criteria, 2, "criteria without a metric are skipped")
	assert.Equal(t, LevelExcellent, res.Criteria[0].Level)
	assert.Equal(t, LevelAcceptable, res.Criteria[1].Level)
	assert.Equal(t, 70.0, res.QualityScore)
	assert.Equal(t, 78.0, res.OverallScore)
	assert.Equal(t, "C", res.Grade)
	assert.Equal(t, map[string]float64{"quality": 70, "security": 90, "overall": 78}, res.Scores)
}

func TestEvaluate_NoMetrics(t *testing.T) {
	res := Evaluate(DefaultProfiles()["industry"], nil, 100)
	assert.Empty(t, res.Criteria)
	assert.Zero(t, res.QualityScore)
	assert.Equal(t, 40.0, res.OverallScore)
	assert.Equal(t, "E", res.Grade)
}

func TestGrade(t *testing.T) {
	for score, want := range map[float64]string{100: "A", 90: "A", 89.99: "B", 80: "B", 70: "C", 60: "D", 59.99: "E", 0: "E"} {
		assert.Equal(t, want, Grade(score), "score %g", score)
	}
}

func TestRecommend(t *testing.T) {
	profile := DefaultProfiles()["industry"]
	metrics := map[string]float64{
		"cyclomatic_complexity": 12,
		"maintainability_index": 30,
		"goto_count":            8,
		"comment_ratio":         0.2,
	}
	sec := Assess([]Vulnerability{{Line: 7, Recommendation: "Remove the literal"}})
	res := Evaluate(profile, metrics, sec.Score)

	assert.Equal(t, []string{
		"Reduce cyclomatic complexity (12) by splitting large paragraphs",
		"Maintainability index 30 is below 40; refactor before further change",
		"Improve goto_count: 8 against a target of 0",
		"Line 7: Remove the literal",
	}, Recommend(profile, res, metrics, sec))
}

func TestRecommend_NothingToDo(t *testing.T) {
	profile := DefaultProfiles()["industry"]
	metrics := map[string]float64{"cyclomatic_complexity": 5, "maintainability_index": 85}
	recs := Recommend(profile, Evaluate(profile, metrics, 100), metrics, Assess(nil))
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestProfileValidate(t *testing.T) {
	for name, p := range DefaultProfiles() {
		assert.NoError(t, p.Validate(), name)
	}

	tests := []struct {
		name string
		c    Criterion
		want string
	}{
		{"no metric", Criterion{Max: 1, Weight: 1}, "without metric"},
		{"inverted range", Criterion{Metric: "m", Min: 5, Max: 1, Target: 3, Weight: 1}, "min 5 > max 1"},
		{"target outside", Criterion{Metric: "m", Min: 0, Max: 1, Target: 3, Weight: 1}, "outside"},
		{"zero weight", Criterion{Metric: "m", Min: 0, Max: 1, Target: 1}, "weight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Profile{Name: "p", Criteria: []Criterion{tt.c}}.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.Error(t, Profile{Name: "empty"}.Validate())
}

func TestBenchmarkStage_Payroll(t *testing.T) {
	data := analyze(t, "PAYROLL.cbl", orchestrator.StageBenchmark)

	res, err := orchestrator.Value[BenchmarkResult](data, orchestrator.KeyBenchmark)
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, res.Profile)
	assert.Equal(t, 80.0, res.SecurityScore)
	assert.Equal(t, res.Grade, data[orchestrator.KeyGrade])
	assert.Contains(t, "ABCDE", res.Grade)

	recs, err := orchestrator.Value[[]string](data, orchestrator.KeyRecommendations)
	require.NoError(t, err)
	assert.Contains(t, recs, "Line 7: Load credentials at run time from a secured dataset or RACF-protected resource")
}

func TestBenchmarkStage_UnknownProfile(t *testing.T) {
	stage := NewBenchmarkStage(nil)
	tc := fixtureTask("PAYROLL.cbl")
	tc.Metadata = map[string]string{MetaBenchmark: "nope"}

	_, err := stage.Process(context.Background(), tc, orchestrator.Data{})
	var ve *orchestrator.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "metadata.benchmark", ve.Field)
	assert.Contains(t, ve.Reason, "industry")
}
