// Package enhance generates narrative content for an analyzed program:
// modernization notes, documentation and remediation advice. An Enhancer
// turns a prompt into text; a Retriever supplies related documents that
// are folded into the prompt.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// Enhanced is the generated content for one task.
type Enhanced struct {
	Content    string   `json:"content"`
	Model      string   `json:"model"`
	References []string `json:"references,omitempty"`
}

// Enhancer produces content from a prompt.
type Enhancer interface {
	Enhance(ctx context.Context, content string, tc orchestrator.TaskContext) (*Enhanced, error)
}

// Document is a retrieved reference passage.
type Document struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score"`
}

// Retriever finds documents related to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Document, error)
}

// EnhancementError reports a failed generation or retrieval. Providers
// fail transiently far more often than not, so it is always recoverable.
type EnhancementError struct {
	Provider string
	Message  string
	Err      error
}

func (e *EnhancementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("enhance: %s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("enhance: %s: %s", e.Provider, e.Message)
}

func (e *EnhancementError) Unwrap() error { return e.Err }

// Recoverable reports true; see orchestrator.Classify.
func (e *EnhancementError) Recoverable() bool { return true }

// ErrNoContent is returned when there is nothing to enhance.
var ErrNoContent = errors.New("enhance: empty content")

// References formats documents as reference strings for Enhanced.
func References(docs []Document) []string {
	refs := make([]string, 0, len(docs))
	for _, d := range docs {
		switch {
		case d.Source != "":
			refs = append(refs, d.Source)
		case d.Title != "":
			refs = append(refs, d.Title)
		default:
			refs = append(refs, d.ID)
		}
	}
	return refs
}

// tokenize splits text into lower case words for lexical matching.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_')
	})
}
