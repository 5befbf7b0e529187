package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quick-gate/quickgate/internal/apperrors"
	"github.com/quick-gate/quickgate/internal/report"
	"github.com/quick-gate/quickgate/internal/schema"
)

func cmdSummarize(args []string) int {
	var inputPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--input":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "quickgate summarize: --input requires a value")
				return 1
			}
			inputPath = args[i]
		case "--help", "-h":
			usage(os.Stdout)
			return 0
		default:
			fmt.Fprintf(os.Stderr, "quickgate summarize: unknown flag %q\n", args[i])
			return 1
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "quickgate summarize: %v\n", apperrors.NewInvalidInputError("--input is required"))
		return 1
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quickgate summarize: %v\n", err)
		return 1
	}
	var fr report.FailuresReport
	if err := json.Unmarshal(data, &fr); err != nil {
		fmt.Fprintf(os.Stderr, "quickgate summarize: decode %s: %v\n", inputPath, err)
		return 1
	}
	fr.Normalize()

	base := filepath.Dir(inputPath)

	brief := report.BuildAgentBrief(&fr, time.Now().UTC().Format(time.RFC3339))
	if err := writeValidatedJSON(filepath.Join(base, "agent-brief.json"), schema.KindAgentBrief, brief); err != nil {
		fmt.Fprintf(os.Stderr, "quickgate summarize: %v\n", err)
		return 1
	}
	if err := writeFileAt(filepath.Join(base, "agent-brief.md"), []byte(brief.Markdown())); err != nil {
		fmt.Fprintf(os.Stderr, "quickgate summarize: write agent-brief.md: %v\n", err)
		return 1
	}

	fmt.Printf("run_id=%s\n", fr.RunID)
	fmt.Printf("status=%s\n", fr.Status)
	fmt.Printf("findings=%d\n", len(fr.Findings))
	return 0
}
