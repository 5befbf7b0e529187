package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/quick-gate/quickgate/internal/apperrors"
	"github.com/quick-gate/quickgate/internal/gaterunner"
	"github.com/quick-gate/quickgate/internal/report"
	"github.com/quick-gate/quickgate/internal/schema"
)

var runLogger = log.New(os.Stderr, "[quick-gate-run] ", log.LstdFlags)

func cmdRun(args []string) int {
	var mode, changedFilesPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--mode":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "quickgate run: --mode requires a value")
				return 1
			}
			mode = args[i]
		case "--changed-files":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "quickgate run: --changed-files requires a value")
				return 1
			}
			changedFilesPath = args[i]
		case "--help", "-h":
			usage(os.Stdout)
			return 0
		default:
			fmt.Fprintf(os.Stderr, "quickgate run: unknown flag %q\n", args[i])
			return 1
		}
	}

	if mode != "canary" && mode != "full" {
		fmt.Fprintf(os.Stderr, "quickgate run: %v\n", apperrors.NewInvalidInputError("--mode must be canary or full"))
		return 1
	}
	if changedFilesPath == "" {
		fmt.Fprintf(os.Stderr, "quickgate run: %v\n", apperrors.NewInvalidInputError("--changed-files is required"))
		return 1
	}

	changedFiles, err := readChangedFiles(changedFilesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quickgate run: %v\n", err)
		return 1
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "quickgate run: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quickgate run: %v\n", err)
		return 1
	}

	ctx, cleanup := signalCancelContext(context.Background())
	defer cleanup()

	startedAt := time.Now()
	runLogger.Printf("mode=%s changed_files=%d starting", mode, len(changedFiles))
	outcome, err := gaterunner.Run(ctx, gaterunner.Options{
		Mode:         mode,
		Cwd:          cwd,
		Config:       cfg,
		ChangedFiles: changedFiles,
	})
	if err != nil {
		runLogger.Printf("mode=%s status=error error=%v", mode, err)
		fmt.Fprintf(os.Stderr, "quickgate run: %v\n", err)
		return 1
	}
	duration := time.Since(startedAt)
	runStatus := report.StatusPass
	if len(outcome.Findings) > 0 {
		runStatus = report.StatusFail
	}
	runLogger.Printf("mode=%s status=%s duration_ms=%d findings=%d", mode, runStatus, duration.Milliseconds(), len(outcome.Findings))

	repo, branch := repoMetadata(cwd)
	now := time.Now().UTC().Format(time.RFC3339)
	fr := report.NewFailuresReport(gaterunner.NewRunID(), mode, changedFiles, repo, branch, now, outcome.Gates, outcome.Findings)

	base := filepath.Join(cwd, ".quick-gate")
	if err := writeValidatedJSON(filepath.Join(base, "failures.json"), schema.KindFailuresReport, fr); err != nil {
		fmt.Fprintf(os.Stderr, "quickgate run: %v\n", err)
		return 1
	}

	meta := &report.RunMetadata{
		RunID:        fr.RunID,
		Mode:         mode,
		Repo:         repo,
		Branch:       branch,
		ChangedFiles: len(changedFiles),
		StartedAt:    startedAt.UTC().Format(time.RFC3339),
		DurationMS:   duration.Milliseconds(),
		Status:       fr.Status,
	}
	if err := writeJSON(filepath.Join(base, "run-metadata.json"), meta); err != nil {
		fmt.Fprintf(os.Stderr, "quickgate run: %v\n", err)
		return 1
	}

	brief := report.BuildAgentBrief(fr, now)
	if err := writeValidatedJSON(filepath.Join(base, "agent-brief.json"), schema.KindAgentBrief, brief); err != nil {
		fmt.Fprintf(os.Stderr, "quickgate run: %v\n", err)
		return 1
	}
	if err := os.WriteFile(filepath.Join(base, "agent-brief.md"), []byte(brief.Markdown()), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "quickgate run: write agent-brief.md: %v\n", err)
		return 1
	}

	fmt.Printf("run_id=%s\n", fr.RunID)
	fmt.Printf("mode=%s\n", mode)
	fmt.Printf("status=%s\n", fr.Status)
	fmt.Printf("findings=%d\n", len(fr.Findings))
	fmt.Printf("duration_ms=%d\n", duration.Milliseconds())

	if fr.Status != report.StatusPass {
		return 1
	}
	return 0
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return writeFileAt(path, data)
}

func writeValidatedJSON(path string, kind schema.Kind, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := schema.Validate(kind, data); err != nil {
		return apperrors.NewSchemaValidationError(path, err)
	}
	return writeFileAt(path, data)
}

func writeFileAt(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}
