package prefix

import (
	"testing"

	"github.com/quick-gate/quickgate/internal/report"
)

func TestScopedFiles_Filters(t *testing.T) {
	changed := []string{
		"src/a.ts",
		"src/a.min.js",
		"node_modules/dep/index.js",
		"../escape.ts",
		"/abs/path.ts",
		"README.md",
	}
	out := ScopedFiles(changed, nil)
	if len(out) != 1 || out[0] != "src/a.ts" {
		t.Fatalf("unexpected scoped files: %v", out)
	}
}

func TestScopedFiles_CapsAtTwenty(t *testing.T) {
	var changed []string
	for i := 0; i < 30; i++ {
		changed = append(changed, "src/file"+string(rune('a'+i%26))+".ts")
	}
	out := ScopedFiles(changed, nil)
	if len(out) > maxScopedFiles {
		t.Fatalf("expected at most %d files, got %d", maxScopedFiles, len(out))
	}
}

func TestRun_LintFailureTriggersAutofix(t *testing.T) {
	findings := []report.Finding{{Gate: report.GateLint, Files: []string{"src/a.ts"}}}
	res := Run(Options{
		Cwd:            t.TempDir(),
		ChangedFiles:   []string{"src/a.ts"},
		Findings:       findings,
		LintFixCommand: "true",
	})
	if !res.Acted {
		t.Fatalf("expected pre-fixer to act, got %+v", res.Actions)
	}
	if len(res.Actions) != 1 || res.Actions[0].Strategy != "deterministic_prefix_rerun" {
		t.Fatalf("unexpected actions: %+v", res.Actions)
	}
}

func TestRun_NonLintFailurePlaceholder(t *testing.T) {
	findings := []report.Finding{{Gate: report.GateTypecheck, Files: []string{"src/a.ts"}}}
	res := Run(Options{Cwd: t.TempDir(), Findings: findings})
	if res.Acted {
		t.Fatalf("expected no action for typecheck-only failure")
	}
	if len(res.Actions) != 1 || res.Actions[0].Strategy != "requires_manual_or_model_patch" {
		t.Fatalf("unexpected actions: %+v", res.Actions)
	}
}
