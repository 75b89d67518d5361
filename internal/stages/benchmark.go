package stages

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// DefaultProfile is the benchmark used when a task names none.
const DefaultProfile = "industry"

// Score weights of the overall quality score.
const (
	qualityWeight  = 0.6
	securityWeight = 0.4
)

// Levels assigned to criterion scores.
const (
	LevelCritical   = "critical"
	LevelWarning    = "warning"
	LevelAcceptable = "acceptable"
	LevelGood       = "good"
	LevelExcellent  = "excellent"
)

// Criterion is one metric expectation. Values inside [Min, Max] score at
// least 60, and 100 at Target.
type Criterion struct {
	Metric string  `json:"metric" yaml:"metric"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	Target float64 `json:"target" yaml:"target"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Profile is a named set of criteria.
type Profile struct {
	Name     string      `json:"name" yaml:"name"`
	Criteria []Criterion `json:"criteria" yaml:"criteria"`
}

// Validate checks that every criterion has a sane range and weight.
func (p Profile) Validate() error {
	if len(p.Criteria) == 0 {
		return fmt.Errorf("stages: profile %q has no criteria", p.Name)
	}
	for _, c := range p.Criteria {
		switch {
		case c.Metric == "":
			return fmt.Errorf("stages: profile %q: criterion without metric", p.Name)
		case c.Min > c.Max:
			return fmt.Errorf("stages: profile %q: %s min %g > max %g", p.Name, c.Metric, c.Min, c.Max)
		case c.Target < c.Min || c.Target > c.Max:
			return fmt.Errorf("stages: profile %q: %s target %g outside [%g, %g]", p.Name, c.Metric, c.Target, c.Min, c.Max)
		case c.Weight <= 0:
			return fmt.Errorf("stages: profile %q: %s weight must be positive", p.Name, c.Metric)
		}
	}
	return nil
}

// DefaultProfiles returns the built-in benchmark profiles.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"industry": {Name: "industry", Criteria: []Criterion{
			{Metric: "cyclomatic_complexity", Min: 1, Max: 20, Target: 5, Weight: 0.3},
			{Metric: "maintainability_index", Min: 40, Max: 100, Target: 85, Weight: 0.3},
			{Metric: "comment_ratio", Min: 0.05, Max: 0.5, Target: 0.2, Weight: 0.15},
			{Metric: "avg_paragraph_size", Min: 1, Max: 50, Target: 15, Weight: 0.1},
			{Metric: "goto_count", Min: 0, Max: 5, Target: 0, Weight: 0.1},
			{Metric: "dead_paragraphs", Min: 0, Max: 3, Target: 0, Weight: 0.05},
		}},
		"strict": {Name: "strict", Criteria: []Criterion{
			{Metric: "cyclomatic_complexity", Min: 1, Max: 10, Target: 3, Weight: 0.3},
			{Metric: "maintainability_index", Min: 65, Max: 100, Target: 90, Weight: 0.3},
			{Metric: "comment_ratio", Min: 0.15, Max: 0.5, Target: 0.3, Weight: 0.15},
			{Metric: "avg_paragraph_size", Min: 1, Max: 25, Target: 10, Weight: 0.1},
			{Metric: "goto_count", Min: 0, Max: 0, Target: 0, Weight: 0.1},
			{Metric: "dead_paragraphs", Min: 0, Max: 0, Target: 0, Weight: 0.05},
		}},
		"legacy": {Name: "legacy", Criteria: []Criterion{
			{Metric: "cyclomatic_complexity", Min: 1, Max: 50, Target: 10, Weight: 0.35},
			{Metric: "maintainability_index", Min: 20, Max: 100, Target: 70, Weight: 0.35},
			{Metric: "goto_count", Min: 0, Max: 20, Target: 0, Weight: 0.15},
			{Metric: "perform_depth", Min: 0, Max: 12, Target: 4, Weight: 0.15},
		}},
	}
}

// CriterionResult is the evaluation of one criterion.
type CriterionResult struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Target float64 `json:"target"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
	Level  string  `json:"level"`
}

// BenchmarkResult is the output of BenchmarkStage under KeyBenchmark.
type BenchmarkResult struct {
	Profile       string             `json:"profile"`
	Criteria      []CriterionResult  `json:"criteria"`
	QualityScore  float64            `json:"quality_score"`
	SecurityScore float64            `json:"security_score"`
	OverallScore  float64            `json:"overall_score"`
	Grade         string             `json:"grade"`
	Scores        map[string]float64 `json:"scores"`
}

// BenchmarkStage evaluates metrics and security against a profile.
type BenchmarkStage struct {
	named
	profiles map[string]Profile
}

func NewBenchmarkStage(profiles map[string]Profile) *BenchmarkStage {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &BenchmarkStage{named: orchestrator.StageBenchmark, profiles: profiles}
}

func (s *BenchmarkStage) Process(_ context.Context, tc orchestrator.TaskContext, data orchestrator.Data) (orchestrator.Data, error) {
	name := tc.Meta(MetaBenchmark, DefaultProfile)
	profile, ok := s.profiles[name]
	if !ok {
		return nil, &orchestrator.ValidationError{
			Field:  "metadata.benchmark",
			Reason: fmt.Sprintf("unknown profile %q (known: %v)", name, slices.Sorted(maps.Keys(s.profiles))),
		}
	}
	metrics, err := orchestrator.Value[map[string]float64](data, orchestrator.KeyMetrics)
	if err != nil {
		return nil, orchestrator.Permanent(fmt.Errorf("stages: %w", err))
	}
	security, err := orchestrator.Value[SecurityReport](data, orchestrator.KeySecurity)
	if err != nil {
		return nil, orchestrator.Permanent(fmt.Errorf("stages: %w", err))
	}

	result := Evaluate(profile, metrics, security.Score)
	return orchestrator.Data{
		orchestrator.KeyBenchmark:       result,
		orchestrator.KeyScores:          result.Scores,
		orchestrator.KeyGrade:           result.Grade,
		orchestrator.KeyRecommendations: Recommend(profile, result, metrics, security),
	}, nil
}

// Evaluate scores metrics against profile. Criteria whose metric is
// absent are skipped and the remaining weights renormalized.
func Evaluate(profile Profile, metrics map[string]float64, securityScore float64) BenchmarkResult {
	res := BenchmarkResult{Profile: profile.Name, SecurityScore: securityScore, Criteria: []CriterionResult{}}
	var weighted, weights float64
	for _, c := range profile.Criteria {
		v, ok := metrics[c.Metric]
		if !ok {
			continue
		}
		score := criterionScore(c, v)
		res.Criteria = append(res.Criteria, CriterionResult{
			Metric: c.Metric,
			Value:  v,
			Target: c.Target,
			Weight: c.Weight,
			Score:  score,
			Level:  level(score),
		})
		weighted += score * c.Weight
		weights += c.Weight
	}
	if weights > 0 {
		res.QualityScore = round2(weighted / weights)
	}
	res.OverallScore = round2(res.QualityScore*qualityWeight + securityScore*securityWeight)
	res.Grade = Grade(res.OverallScore)
	res.Scores = map[string]float64{
		"quality":  res.QualityScore,
		"security": securityScore,
		"overall":  res.OverallScore,
	}
	return res
}

// criterionScore is 100 at the target, falling linearly to 60 at the
// range bounds and to 0 one range width beyond them.
func criterionScore(c Criterion, v float64) float64 {
	if v == c.Target {
		return 100
	}
	if v >= c.Min && v <= c.Max {
		bound := c.Max
		if v < c.Target {
			bound = c.Min
		}
		span := math.Abs(bound - c.Target)
		if span == 0 {
			return 60
		}
		return round2(100 - 40*math.Abs(v-c.Target)/span)
	}
	dist := c.Min - v
	if v > c.Max {
		dist = v - c.Max
	}
	width := math.Max(c.Max-c.Min, 1)
	return round2(math.Max(0, 60-60*dist/width))
}

func level(score float64) string {
	switch {
	case score >= 90:
		return LevelExcellent
	case score >= 75:
		return LevelGood
	case score >= 60:
		return LevelAcceptable
	case score >= 40:
		return LevelWarning
	default:
		return LevelCritical
	}
}

// Grade maps an overall score to A (best) through E.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "E"
	}
}

// Recommend lists improvement actions, most important first.
func Recommend(profile Profile, res BenchmarkResult, metrics map[string]float64, sec SecurityReport) []string {
	out := []string{}
	if cc := metrics["cyclomatic_complexity"]; cc > 10 {
		out = append(out, fmt.Sprintf("Reduce cyclomatic complexity (%g) by splitting large paragraphs", cc))
	}
	for _, c := range profile.Criteria {
		if c.Metric == "maintainability_index" {
			if mi, ok := metrics[c.Metric]; ok && mi < c.Min {
				out = append(out, fmt.Sprintf("Maintainability index %g is below %g; refactor before further change", mi, c.Min))
			}
		}
	}
	for _, cr := range res.Criteria {
		if cr.Metric == "maintainability_index" || cr.Metric == "cyclomatic_complexity" {
			continue
		}
		if cr.Level == LevelCritical || cr.Level == LevelWarning {
			out = append(out, fmt.Sprintf("Improve %s: %g against a target of %g", cr.Metric, cr.Value, cr.Target))
		}
	}
	for _, v := range sec.Vulnerabilities {
		out = append(out, fmt.Sprintf("Line %d: %s", v.Line, v.Recommendation))
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
