package modeladapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quick-gate/quickgate/internal/editplan"
	"github.com/quick-gate/quickgate/internal/report"
)

func TestGather_BuildsSnippetsAndFindingContext(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.ts"), []byte("line1\nline2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	findings := []report.Finding{
		{
			ID:      "f1",
			Gate:    report.GateLint,
			Summary: "unused var",
			Files:   []string{"a.ts"},
			Raw:     report.RawTrace{StderrExcerpt: "a.ts:1: unused var x"},
		},
	}

	ctx := Gather(dir, []string{"a.ts"}, findings)

	if len(ctx.Snippets) != 1 || ctx.Snippets[0].Path != "a.ts" {
		t.Fatalf("expected one snippet for a.ts, got %+v", ctx.Snippets)
	}
	if ctx.Snippets[0].Content != "line1\nline2" {
		t.Fatalf("unexpected snippet content: %q", ctx.Snippets[0].Content)
	}
	if len(ctx.Findings) != 1 || ctx.Findings[0].RawContext != "a.ts:1: unused var x" {
		t.Fatalf("unexpected finding context: %+v", ctx.Findings)
	}
	if len(ctx.AllowedFiles) != 1 || ctx.AllowedFiles[0] != "a.ts" {
		t.Fatalf("unexpected allowed files: %+v", ctx.AllowedFiles)
	}
}

func TestParseLiberal_ExtractsFromProseWrapped(t *testing.T) {
	var out hintList
	text := "Sure, here you go:\n```json\n{\"hints\":[{\"finding_id\":\"f1\",\"hint\":\"do x\",\"confidence\":\"high\"}]}\n```\n"
	if err := parseLiberal(text, &out); err != nil {
		t.Fatalf("parseLiberal: %v", err)
	}
	if len(out.Hints) != 1 || out.Hints[0].FindingID != "f1" {
		t.Fatalf("unexpected parse result: %+v", out)
	}
}

func TestParseLiberal_RejectsNoObject(t *testing.T) {
	var out hintList
	if err := parseLiberal("no json here", &out); err == nil {
		t.Fatal("expected error for text with no JSON object")
	}
}

func TestRunHintAdapter_AcceptsAndCapsHints(t *testing.T) {
	output := `{"hints":[
		{"finding_id":"f1","hint":"a","confidence":"high"},
		{"finding_id":"f2","hint":"b","confidence":"low"},
		{"finding_id":"f3","hint":"c","confidence":"low"},
		{"finding_id":"f4","hint":"d","confidence":"low"},
		{"finding_id":"f5","hint":"e","confidence":"low"},
		{"finding_id":"f6","hint":"f","confidence":"low"},
		{"finding_id":"f7","hint":"g","confidence":"low"}
	]}`
	runner := MockRunner{Output: output}
	result := RunHintAdapter(context.Background(), runner, "mock-model", time.Second, Context{})

	if !result.Attempted || !result.Accepted {
		t.Fatalf("expected attempted+accepted result, got %+v", result)
	}
	if len(result.Hints) != maxHints {
		t.Fatalf("expected hints capped at %d, got %d", maxHints, len(result.Hints))
	}
}

func TestRunHintAdapter_MissingModel(t *testing.T) {
	runner := failingRunner{err: ErrMissingModel}
	result := RunHintAdapter(context.Background(), runner, "mock-model", time.Second, Context{})

	if result.Accepted || result.Reason != "missing_model" {
		t.Fatalf("expected missing_model rejection, got %+v", result)
	}
}

func TestRunHintAdapter_InvalidJSON(t *testing.T) {
	runner := MockRunner{Output: "not json"}
	result := RunHintAdapter(context.Background(), runner, "mock-model", time.Second, Context{})

	if result.Accepted || result.Reason != "invalid_edit_plan_json" {
		t.Fatalf("expected invalid_edit_plan_json rejection, got %+v", result)
	}
}

type failingRunner struct {
	err error
}

func (f failingRunner) Invoke(context.Context, string, string, time.Duration) (string, error) {
	return "", f.err
}

func TestRunPatchAdapter_DeniesHintOnlyModel(t *testing.T) {
	opts := PatchOptions{
		Runner:         MockRunner{Output: `{"summary":"x","edits":[]}`},
		Model:          "hint-only-model",
		Timeout:        time.Second,
		HintOnlyModels: []string{"hint-only-model"},
	}
	result := RunPatchAdapter(context.Background(), Context{}, opts)

	if result.Attempted || result.Reason != "patch_model_is_hint_only" {
		t.Fatalf("expected refusal before invocation, got %+v", result)
	}
}

func TestRunPatchAdapter_AcceptsValidPlan(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.ts"), []byte("line1\nline2\nline3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	plan := `{"summary":"fix lint","edits":[{"file":"a.ts","start_line":2,"end_line":2,"replacement":"fixed"}]}`
	opts := PatchOptions{
		Runner:  MockRunner{Output: plan},
		Model:   "patch-model",
		Timeout: time.Second,
		Cwd:     dir,
		Scope: editplan.ScopeContext{
			Cwd:           dir,
			AllowedFiles:  []string{"a.ts"},
			RelevanceSet:  []string{"a.ts"},
			MaxPatchLines: 50,
		},
	}
	result := RunPatchAdapter(context.Background(), Context{}, opts)

	if !result.Attempted || !result.Accepted {
		t.Fatalf("expected accepted patch result, got %+v", result)
	}
	if len(result.TouchedFiles) != 1 || result.TouchedFiles[0] != "a.ts" {
		t.Fatalf("unexpected touched files: %+v", result.TouchedFiles)
	}

	data, err := os.ReadFile(filepath.Join(dir, "a.ts"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line1\nfixed\nline3\n" {
		t.Fatalf("unexpected file contents after apply: %q", string(data))
	}
}

func TestRunPatchAdapter_RetriesOnceOnInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.ts"), []byte("line1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &sequenceRunner{
		outputs: []string{"not json at all", `{"summary":"fix","edits":[{"file":"a.ts","start_line":1,"end_line":1,"replacement":"line1fixed"}]}`},
	}
	opts := PatchOptions{
		Runner:  runner,
		Model:   "patch-model",
		Timeout: time.Second,
		Cwd:     dir,
		Scope: editplan.ScopeContext{
			Cwd:           dir,
			AllowedFiles:  []string{"a.ts"},
			RelevanceSet:  []string{"a.ts"},
			MaxPatchLines: 50,
		},
	}
	result := RunPatchAdapter(context.Background(), Context{}, opts)

	if !result.Accepted {
		t.Fatalf("expected retry to succeed, got %+v", result)
	}
	if runner.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", runner.calls)
	}
}

func TestRunPatchAdapter_GivesUpAfterOneRetry(t *testing.T) {
	runner := &sequenceRunner{outputs: []string{"garbage one", "garbage two"}}
	opts := PatchOptions{
		Runner:  runner,
		Model:   "patch-model",
		Timeout: time.Second,
		Scope:   editplan.ScopeContext{MaxPatchLines: 50},
	}
	result := RunPatchAdapter(context.Background(), Context{}, opts)

	if result.Accepted || result.Reason != "invalid_edit_plan_json" {
		t.Fatalf("expected invalid_edit_plan_json after exhausting retry, got %+v", result)
	}
	if runner.calls != 2 {
		t.Fatalf("expected exactly 2 calls (one retry), got %d", runner.calls)
	}
}

func TestRunPatchAdapter_RejectsOutOfScope(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.ts"), []byte("line1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	plan := `{"summary":"x","edits":[{"file":"b.ts","start_line":1,"end_line":1,"replacement":"y"}]}`
	opts := PatchOptions{
		Runner:  MockRunner{Output: plan},
		Model:   "patch-model",
		Timeout: time.Second,
		Cwd:     dir,
		Scope: editplan.ScopeContext{
			Cwd:           dir,
			AllowedFiles:  []string{"a.ts"},
			MaxPatchLines: 50,
		},
	}
	result := RunPatchAdapter(context.Background(), Context{}, opts)

	if result.Accepted || result.Reason != "file_out_of_scope" {
		t.Fatalf("expected file_out_of_scope rejection, got %+v", result)
	}
}

type sequenceRunner struct {
	outputs []string
	calls   int
}

func (s *sequenceRunner) Invoke(context.Context, string, string, time.Duration) (string, error) {
	out := s.outputs[s.calls]
	s.calls++
	return out, nil
}
