// Package modeladapter gathers failure context, invokes a local shell model
// runner, and parses its output into a hint list or a candidate edit plan.
// Both adapters share this file's context gatherer and jsonextract.go's
// liberal JSON parsing, so one context builder feeds both tool calls.
package modeladapter

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/quick-gate/quickgate/internal/report"
)

const (
	maxSnippets      = 3
	maxSnippetLines  = 40
	maxAllowedFiles  = 12
	maxRawContextLen = 600
)

// FindingContext is a Finding reduced to the fields a model prompt needs.
type FindingContext struct {
	ID         string   `json:"id"`
	Gate       string   `json:"gate"`
	Summary    string   `json:"summary"`
	Files      []string `json:"files"`
	Metric     string   `json:"metric,omitempty"`
	Route      string   `json:"route,omitempty"`
	RawContext string   `json:"raw_context,omitempty"`
}

// FileSnippet is the first maxSnippetLines lines of one file, gathered for
// prompt context.
type FileSnippet struct {
	Path    string
	Content string
}

// Context is the per-invocation prompt context shared by both adapters.
type Context struct {
	Snippets     []FileSnippet
	Findings     []FindingContext
	AllowedFiles []string
}

// Gather builds a Context from the current findings and the merged
// changed-files/finding-files list, deduplicated and order-preserving.
func Gather(cwd string, changedFiles []string, findings []report.Finding) Context {
	merged := mergedFileList(changedFiles, findings)

	ctx := Context{}
	for _, f := range merged {
		if len(ctx.Snippets) >= maxSnippets {
			break
		}
		if content, ok := readSnippet(cwd, f); ok {
			ctx.Snippets = append(ctx.Snippets, FileSnippet{Path: f, Content: content})
		}
	}

	for _, f := range findings {
		ctx.Findings = append(ctx.Findings, FindingContext{
			ID:         f.ID,
			Gate:       string(f.Gate),
			Summary:    f.Summary,
			Files:      f.Files,
			Metric:     f.Metric,
			Route:      f.Route,
			RawContext: rawContextFor(f),
		})
	}

	if len(merged) > maxAllowedFiles {
		merged = merged[:maxAllowedFiles]
	}
	ctx.AllowedFiles = merged

	return ctx
}

func mergedFileList(changedFiles []string, findings []report.Finding) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range changedFiles {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, finding := range findings {
		for _, f := range finding.Files {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

func rawContextFor(f report.Finding) string {
	s := f.Raw.StderrExcerpt
	if s == "" {
		s = f.Raw.StdoutExcerpt
	}
	if len(s) > maxRawContextLen {
		s = s[:maxRawContextLen]
	}
	return s
}

func readSnippet(cwd, relPath string) (string, bool) {
	f, err := os.Open(filepath.Join(cwd, relPath))
	if err != nil {
		return "", false
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() && len(lines) < maxSnippetLines {
		lines = append(lines, scanner.Text())
	}
	return strings.Join(lines, "\n"), true
}
