package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", "legacy", name)
}

// parseFixture parses a member from testdata/fixtures/legacy.
func parseFixture(t *testing.T, name string) *Program {
	t.Helper()
	src, err := os.ReadFile(fixturePath(name))
	require.NoError(t, err)
	prog, err := Parse(context.Background(), name, src, LangUnknown)
	require.NoError(t, err)
	return prog
}

func paragraphNames(p *Program) []string {
	names := make([]string, 0, len(p.Paragraphs))
	for _, para := range p.Paragraphs {
		names = append(names, para.Name)
	}
	return names
}

func findParagraph(t *testing.T, p *Program, name string) Paragraph {
	t.Helper()
	for _, para := range p.Paragraphs {
		if para.Name == name {
			return para
		}
	}
	require.Failf(t, "paragraph not found", "%s has no paragraph %s", p.Name, name)
	return Paragraph{}
}
