package repair

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

// writeFailuresReport validates fr against the failures schema and writes it
// to path. A schema-validation failure is fatal: the loop aborts before
// writing a malformed artifact, rather than overwriting the last-known-good
// failures.json with something a downstream reader can't parse.
func writeFailuresReport(path string, fr *report.FailuresReport) error {
	data, err := json.MarshalIndent(fr, "", "  ")
	if err != nil {
		return fmt.Errorf("repair: marshal failures report: %w", err)
	}
	if err := schema.Validate(schema.KindFailuresReport, data); err != nil {
		return apperrors.NewSchemaValidationError(path, err)
	}
	return writeFile(path, data)
}

// writeAgentBrief refreshes both the machine-readable and Markdown forms of
// the agent brief from fr.
func writeAgentBrief(jsonPath, mdPath string, fr *report.FailuresReport, now time.Time) error {
	brief := report.BuildAgentBrief(fr, now.UTC().Format(time.RFC3339))
	data, err := json.MarshalIndent(brief, "", "  ")
	if err != nil {
		return fmt.Errorf("repair: marshal agent brief: %w", err)
	}
	if err := schema.Validate(schema.KindAgentBrief, data); err != nil {
		return apperrors.NewSchemaValidationError(jsonPath, err)
	}
	if err := writeFile(jsonPath, data); err != nil {
		return err
	}
	return writeFile(mdPath, []byte(brief.Markdown()))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("repair: create %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readFailuresReport(path string) (*report.FailuresReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("repair: read failures report %s: %w", path, err)
	}
	var fr report.FailuresReport
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("repair: decode failures report %s: %w", path, err)
	}
	return &fr, nil
}
