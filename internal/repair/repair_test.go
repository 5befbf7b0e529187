package repair

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quick-gate/quickgate/internal/config"
	"github.com/quick-gate/quickgate/internal/report"
)

func writeInitialFailures(t *testing.T, path string, fr *report.FailuresReport) {
	t.Helper()
	fr.Normalize()
	data, err := json.Marshal(fr)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func setupProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"scripts":{}}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.ts"), []byte("const x = 1\n"), 0o644))
	return dir
}

func standardPaths(dir string) (failures, briefJSON, briefMD, backups string) {
	base := filepath.Join(dir, ".quick-gate")
	return filepath.Join(base, "failures.json"),
		filepath.Join(base, "agent-brief.json"),
		filepath.Join(base, "agent-brief.md"),
		filepath.Join(base, "backups")
}

func TestRun_LintAutofixShortCircuitsToPass(t *testing.T) {
	dir := setupProject(t)
	failuresPath, briefJSON, briefMD, backups := standardPaths(dir)

	initial := &report.FailuresReport{
		RunID:        "run1",
		Mode:         "canary",
		ChangedFiles: []string{"src/a.ts"},
		Findings: []report.Finding{
			{ID: "lint_exit_code", Gate: report.GateLint, Severity: report.SeverityHigh, Summary: "lint failed", Files: []string{"src/a.ts"}, Status: report.StatusFail},
		},
	}
	writeInitialFailures(t, failuresPath, initial)

	cfg := config.Default()
	cfg.Commands.Lint = "true"
	cfg.Commands.Typecheck = "true"
	cfg.Commands.Lighthouse = "true"

	result, escalation, err := Run(context.Background(), Options{
		Cwd:                dir,
		Mode:               "canary",
		ChangedFiles:       []string{"src/a.ts"},
		Config:             cfg,
		ModelPolicy:        config.ModelPolicy{HintModel: "qwen2.5:1.5b", PatchModel: "mistral:7b", ModelTimeoutMS: 5000},
		FailuresPath:       failuresPath,
		AgentBriefJSONPath: briefJSON,
		AgentBriefMDPath:   briefMD,
		BackupRoot:         backups,
	})
	require.NoError(t, err)
	require.Nil(t, escalation)
	require.NotNil(t, result)
	require.Equal(t, "pass", result.Status)
	require.Len(t, result.Attempts, 1)
	attempt := result.Attempts[0]
	require.True(t, attempt.Improved, "expected short-circuit pass attempt, got %+v", attempt)
	require.Equal(t, 0, attempt.AfterFindings)

	var sawAutofix bool
	for _, a := range attempt.Actions {
		if a.Strategy == "deterministic_prefix_rerun" {
			sawAutofix = true
		}
	}
	require.True(t, sawAutofix, "expected deterministic_prefix_rerun action, got %+v", attempt.Actions)
}

func TestRun_NoImprovementEscalates(t *testing.T) {
	dir := setupProject(t)
	failuresPath, briefJSON, briefMD, backups := standardPaths(dir)

	initial := &report.FailuresReport{
		RunID:        "run1",
		Mode:         "canary",
		ChangedFiles: []string{"src/a.ts"},
		Findings: []report.Finding{
			{ID: "lint_exit_code", Gate: report.GateLint, Severity: report.SeverityHigh, Summary: "lint failed", Files: []string{"src/a.ts"}, Status: report.StatusFail},
		},
	}
	writeInitialFailures(t, failuresPath, initial)

	cfg := config.Default()
	cfg.Commands.Lint = "exit 1"
	cfg.Commands.Typecheck = "true"
	cfg.Commands.Lighthouse = "true"
	cfg.Policy.AbortOnNoImprovement = 2
	cfg.Policy.MaxAttempts = 5

	result, escalation, err := Run(context.Background(), Options{
		Cwd:          dir,
		Mode:         "canary",
		ChangedFiles: []string{"src/a.ts"},
		Config:       cfg,
		ModelPolicy: config.ModelPolicy{
			HintModel:       "qwen2.5:1.5b",
			PatchModel:      "mistral:7b",
			ModelTimeoutMS:  5000,
			MockHintSet:     true,
			MockHintOutput:  `{"hints":[]}`,
			MockPatchSet:    true,
			MockPatchOutput: `{"summary":"x","edits":[{"file":"README.md","start_line":1,"end_line":1,"replacement":"y"}]}`,
		},
		FailuresPath:       failuresPath,
		AgentBriefJSONPath: briefJSON,
		AgentBriefMDPath:   briefMD,
		BackupRoot:         backups,
	})
	require.NoError(t, err)
	require.Nil(t, result)
	require.NotNil(t, escalation)
	require.Equal(t, ReasonNoImprovement, escalation.ReasonCode)
	require.Len(t, escalation.Attempts, 2)
	for _, a := range escalation.Attempts {
		require.False(t, a.Improved, "expected every attempt to be non-improved, got %+v", a)
	}

	var sawOutOfScope bool
	for _, action := range escalation.Attempts[0].Actions {
		if action.Strategy == "patch_adapter" && action.Reason == "file_out_of_scope" {
			sawOutOfScope = true
		}
	}
	require.True(t, sawOutOfScope, "expected patch_adapter action with file_out_of_scope reason, got %+v", escalation.Attempts[0].Actions)
}

type fakeClock struct {
	times []time.Time
	i     int
}

func (f *fakeClock) Now() time.Time {
	t := f.times[f.i]
	if f.i < len(f.times)-1 {
		f.i++
	}
	return t
}

func TestRun_TimeCapEscalatesImmediately(t *testing.T) {
	dir := setupProject(t)
	failuresPath, briefJSON, briefMD, backups := standardPaths(dir)

	initial := &report.FailuresReport{
		RunID:        "run1",
		Mode:         "canary",
		ChangedFiles: []string{"src/a.ts"},
		Findings: []report.Finding{
			{ID: "lint_exit_code", Gate: report.GateLint, Severity: report.SeverityHigh, Summary: "lint failed", Files: []string{"src/a.ts"}, Status: report.StatusFail},
		},
	}
	writeInitialFailures(t, failuresPath, initial)

	cfg := config.Default()
	cfg.Commands.Lint = "true"
	cfg.Commands.Typecheck = "true"
	cfg.Commands.Lighthouse = "true"
	cfg.Policy.TimeCapMS = 1

	base := time.Unix(0, 0)
	clock := &fakeClock{times: []time.Time{base, base.Add(time.Hour)}}

	result, escalation, err := Run(context.Background(), Options{
		Cwd:                dir,
		Mode:               "canary",
		ChangedFiles:       []string{"src/a.ts"},
		Config:             cfg,
		ModelPolicy:        config.ModelPolicy{HintModel: "qwen2.5:1.5b", PatchModel: "mistral:7b", ModelTimeoutMS: 5000},
		FailuresPath:       failuresPath,
		AgentBriefJSONPath: briefJSON,
		AgentBriefMDPath:   briefMD,
		BackupRoot:         backups,
		Clock:              clock,
	})
	require.NoError(t, err)
	require.Nil(t, result)
	require.NotNil(t, escalation)
	require.Equal(t, ReasonUnknownBlocker, escalation.ReasonCode)
	require.Empty(t, escalation.Attempts)
}

func TestRun_AlreadyPassingShortCircuits(t *testing.T) {
	dir := setupProject(t)
	failuresPath, briefJSON, briefMD, backups := standardPaths(dir)

	initial := &report.FailuresReport{RunID: "run1", Mode: "canary", ChangedFiles: []string{}}
	writeInitialFailures(t, failuresPath, initial)

	cfg := config.Default()
	result, escalation, err := Run(context.Background(), Options{
		Cwd:                dir,
		Mode:               "canary",
		Config:             cfg,
		ModelPolicy:        config.ModelPolicy{HintModel: "qwen2.5:1.5b", PatchModel: "mistral:7b", ModelTimeoutMS: 5000},
		FailuresPath:       failuresPath,
		AgentBriefJSONPath: briefJSON,
		AgentBriefMDPath:   briefMD,
		BackupRoot:         backups,
	})
	require.NoError(t, err)
	require.Nil(t, escalation)
	require.NotNil(t, result)
	require.Equal(t, "pass", result.Status)
	require.Empty(t, result.Attempts)
}
