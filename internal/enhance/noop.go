package enhance

import (
	"context"
	"fmt"
	"strings"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// NoopModel is the model name reported by NoopEnhancer.
const NoopModel = "outline"

// NoopEnhancer returns a deterministic outline of the prompt. It is used
// when no LLM provider is configured.
type NoopEnhancer struct{}

func (NoopEnhancer) Enhance(ctx context.Context, content string, tc orchestrator.TaskContext) (*Enhanced, error) {
	if err := ctx.Err(); err != nil {
		return nil, &EnhancementError{Provider: NoopModel, Message: "cancelled", Err: err}
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrNoContent
	}

	var b strings.Builder
	title := tc.SourceID
	if title == "" {
		title = tc.TaskID
	}
	fmt.Fprintf(&b, "# Analysis outline: %s\n\n", title)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			fmt.Fprintf(&b, "\n%s\n", line)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", strings.TrimPrefix(line, "- "))
	}
	return &Enhanced{Content: b.String(), Model: NoopModel}, nil
}
