package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/quick-gate/quickgate/internal/apperrors"
	"github.com/quick-gate/quickgate/internal/config"
	"github.com/quick-gate/quickgate/internal/repair"
	"github.com/quick-gate/quickgate/internal/report"
)

var repairLogger = log.New(os.Stderr, "[quick-gate-repair] ", log.LstdFlags)

func cmdRepair(args []string) int {
	var inputPath string
	var maxAttempts int
	var deterministicOnly bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--input":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "quickgate repair: --input requires a value")
				return 1
			}
			inputPath = args[i]
		case "--max-attempts":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "quickgate repair: --max-attempts requires a value")
				return 1
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				fmt.Fprintf(os.Stderr, "quickgate repair: --max-attempts must be a positive integer, got %q\n", args[i])
				return 1
			}
			maxAttempts = n
		case "--deterministic-only":
			deterministicOnly = true
		case "--help", "-h":
			usage(os.Stdout)
			return 0
		default:
			fmt.Fprintf(os.Stderr, "quickgate repair: unknown flag %q\n", args[i])
			return 1
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "quickgate repair: %v\n", apperrors.NewInvalidInputError("--input is required"))
		return 1
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "quickgate repair: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quickgate repair: %v\n", err)
		return 1
	}

	mode, changedFiles, err := readFailuresRunContext(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quickgate repair: %v\n", err)
		return 1
	}

	base := filepath.Join(cwd, ".quick-gate")
	opts := repair.Options{
		Cwd:                cwd,
		Mode:               mode,
		ChangedFiles:       changedFiles,
		Config:             cfg,
		ModelPolicy:        config.ModelPolicyFromEnv(nil),
		FailuresPath:       inputPath,
		AgentBriefJSONPath: filepath.Join(base, "agent-brief.json"),
		AgentBriefMDPath:   filepath.Join(base, "agent-brief.md"),
		BackupRoot:         filepath.Join(base, "backups"),
		MaxAttempts:        maxAttempts,
		DeterministicOnly:  deterministicOnly,
	}

	ctx, cleanup := signalCancelContext(context.Background())
	defer cleanup()

	repairLogger.Printf("mode=%s max_attempts=%d deterministic_only=%t starting", mode, maxAttempts, deterministicOnly)
	result, escalation, err := repair.Run(ctx, opts)
	if err != nil {
		repairLogger.Printf("mode=%s status=error error=%v", mode, err)
		fmt.Fprintf(os.Stderr, "quickgate repair: %v\n", err)
		return 1
	}
	if result != nil && escalation != nil {
		conflictErr := apperrors.NewArtifactConflictError("both repair-report.json and escalation.json were about to be written")
		repairLogger.Printf("mode=%s status=error error=%v", mode, conflictErr)
		fmt.Fprintf(os.Stderr, "quickgate repair: %v\n", conflictErr)
		return 1
	}

	if result != nil {
		repairLogger.Printf("mode=%s status=%s attempts=%d", mode, result.Status, len(result.Attempts))
		if err := writeJSON(filepath.Join(base, "repair-report.json"), result); err != nil {
			fmt.Fprintf(os.Stderr, "quickgate repair: %v\n", err)
			return 1
		}
		fmt.Printf("status=%s\n", result.Status)
		fmt.Printf("attempts=%d\n", len(result.Attempts))
		return 0
	}

	repairLogger.Printf("mode=%s status=%s reason_code=%s attempts=%d", mode, escalation.Status, escalation.ReasonCode, len(escalation.Attempts))
	if err := writeJSON(filepath.Join(base, "escalation.json"), escalation); err != nil {
		fmt.Fprintf(os.Stderr, "quickgate repair: %v\n", err)
		return 1
	}
	fmt.Printf("status=%s\n", escalation.Status)
	fmt.Printf("reason_code=%s\n", escalation.ReasonCode)
	fmt.Printf("attempts=%d\n", len(escalation.Attempts))
	return 2
}

// readFailuresRunContext reads the mode and changed_files back out of the
// failures report at path, so `repair` reruns the gates in the same mode
// and against the same change set the original run used, without requiring
// redundant flags.
func readFailuresRunContext(path string) (mode string, changedFiles []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}
	var fr report.FailuresReport
	if err := json.Unmarshal(data, &fr); err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if fr.Mode == "" {
		fr.Mode = "canary"
	}
	return fr.Mode, fr.ChangedFiles, nil
}
