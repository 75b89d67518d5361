package orchestrator

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Data is the bag of values that flows through a pipeline. Every value must
// be JSON-serializable so that stage results can be cached.
type Data map[string]any

// Clone returns a shallow copy of d. A nil Data clones to an empty map.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	maps.Copy(out, d)
	return out
}

// Merge returns a new Data containing d overlaid with other.
func (d Data) Merge(other Data) Data {
	out := make(Data, len(d)+len(other))
	maps.Copy(out, d)
	maps.Copy(out, other)
	return out
}

// Has reports whether key is present.
func (d Data) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Value extracts d[key] as T. Values already of type T (or *T) are returned
// directly; anything else, such as a map read back from the result store,
// is converted through its JSON form.
func Value[T any](d Data, key string) (T, error) {
	var zero T
	raw, ok := d[key]
	if !ok || raw == nil {
		return zero, fmt.Errorf("data: missing %q", key)
	}
	switch v := raw.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return zero, fmt.Errorf("data: missing %q", key)
		}
		return *v, nil
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return zero, fmt.Errorf("data: encode %q: %w", key, err)
	}
	var out T
	if err := json.Unmarshal(buf, &out); err != nil {
		return zero, fmt.Errorf("data: decode %q as %T: %w", key, out, err)
	}
	return out, nil
}

// Keys written and read by the standard analysis stages.
const (
	KeySource          = "source"
	KeySourceName      = "source_name"
	KeyLanguage        = "language"
	KeyAST             = "ast"
	KeyMetrics         = "metrics"
	KeySecurity        = "security"
	KeyBenchmark       = "benchmark"
	KeyScores          = "scores"
	KeyGrade           = "grade"
	KeyRecommendations = "recommendations"
	KeyEnhancement     = "enhancement"
	KeySummary         = "summary"
)
