// Package editplan validates and applies a candidate set of line-range
// replacements proposed by the patch model. Each validation stage is
// terminal on failure and reports a typed reason string the repair loop logs
// verbatim on the attempt's action record, rather than a generic error.
package editplan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// RawEdit is one edit as decoded from the patch model's JSON output, before
// normalization.
type RawEdit struct {
	File        string `json:"file"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	Replacement string `json:"replacement"`
}

// RawPlan is the patch model's raw JSON output shape.
type RawPlan struct {
	Summary string    `json:"summary"`
	Edits   []RawEdit `json:"edits"`
}

// ValidatedEdit is an edit that has passed every validation stage.
type ValidatedEdit struct {
	File           string
	StartLine      int
	EndLine        int
	Replacement    string
	PredictedLines int
}

// ValidatedPlan is a RawPlan that has passed all validation stages and is
// ready to be applied.
type ValidatedPlan struct {
	Summary      string
	Edits        []ValidatedEdit
	Score        float64
	PatchLines   int
	TouchedFiles []string
}

// RejectionError reports which validation stage rejected a plan and why, in
// the terminal reason vocabulary the repair loop records on action entries.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

func reject(reason string) error { return &RejectionError{Reason: reason} }

// ScopeContext carries the per-attempt boundaries a plan is validated against.
type ScopeContext struct {
	Cwd           string
	AllowedFiles  []string // allowed_files, capped to 12 entries by the caller
	RelevanceSet  []string // changed_files ∪ finding.files, used for overlap scoring
	MaxPatchLines int
}

var crlf = regexp.MustCompile(`\r\n|\r|\n`)

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return len(crlf.Split(s, -1))
}

// Validate runs every validation stage in order and returns either a
// ValidatedPlan ready for Apply, or a *RejectionError naming the stage that
// failed.
func Validate(raw RawPlan, ctx ScopeContext) (*ValidatedPlan, error) {
	normalized := normalize(raw.Edits)
	if len(normalized) == 0 {
		return nil, reject("invalid_edit_plan_json")
	}

	sanitized, err := sanitizePaths(normalized, ctx.Cwd)
	if err != nil {
		return nil, err
	}

	if err := checkScope(sanitized, ctx.AllowedFiles); err != nil {
		return nil, err
	}

	total := 0
	validated := make([]ValidatedEdit, 0, len(sanitized))
	for _, e := range sanitized {
		predicted := (e.EndLine - e.StartLine + 1) + countLines(e.Replacement)
		total += predicted
		validated = append(validated, ValidatedEdit{
			File:           e.File,
			StartLine:      e.StartLine,
			EndLine:        e.EndLine,
			Replacement:    e.Replacement,
			PredictedLines: predicted,
		})
	}
	if total > ctx.MaxPatchLines {
		return nil, reject("patch_budget_exceeded")
	}

	touched := touchedFiles(validated)
	score := relevanceScore(touched, ctx.RelevanceSet, total, ctx.MaxPatchLines)
	if score < 0.5 {
		return nil, reject("diff_score_too_low")
	}

	return &ValidatedPlan{
		Summary:      raw.Summary,
		Edits:        validated,
		Score:        score,
		PatchLines:   total,
		TouchedFiles: touched,
	}, nil
}

func normalize(raws []RawEdit) []RawEdit {
	out := make([]RawEdit, 0, len(raws))
	for _, e := range raws {
		if strings.TrimSpace(e.File) == "" {
			continue
		}
		if e.StartLine < 1 || e.EndLine < e.StartLine {
			continue
		}
		out = append(out, e)
	}
	return out
}

func sanitizePaths(edits []RawEdit, cwd string) ([]RawEdit, error) {
	out := make([]RawEdit, len(edits))
	for i, e := range edits {
		p := e.File
		if filepath.IsAbs(p) {
			rel, relErr := filepath.Rel(cwd, p)
			if relErr != nil || strings.HasPrefix(rel, "..") {
				return nil, reject("file_out_of_scope")
			}
			p = rel
		}
		e.File = filepath.ToSlash(filepath.Clean(p))
		out[i] = e
	}
	return out, nil
}

func checkScope(edits []RawEdit, allowed []string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		allowedSet[filepath.ToSlash(filepath.Clean(f))] = true
	}
	for _, e := range edits {
		if !allowedSet[e.File] {
			return reject("file_out_of_scope")
		}
	}
	return nil
}

func touchedFiles(edits []ValidatedEdit) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range edits {
		if !seen[e.File] {
			seen[e.File] = true
			out = append(out, e.File)
		}
	}
	return out
}

func relevanceScore(touched, relevanceSet []string, predictedTotal, maxPatchLines int) float64 {
	relevant := make(map[string]bool, len(relevanceSet))
	for _, f := range relevanceSet {
		relevant[filepath.ToSlash(filepath.Clean(f))] = true
	}
	overlap := 0
	for _, f := range touched {
		if relevant[f] {
			overlap++
		}
	}
	overlapRatio := 0.0
	if len(touched) > 0 {
		overlapRatio = float64(overlap) / float64(len(touched))
	}
	lineScore := 0.0
	if maxPatchLines <= 0 || predictedTotal <= maxPatchLines {
		lineScore = 1.0
	}
	return round2(0.7*overlapRatio + 0.3*lineScore)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

// ApplyResult summarizes a successful application.
type ApplyResult struct {
	TouchedFiles []string
}

// Apply applies every edit in plan to files under cwd. It is not
// transactional: if an edit partway through the list fails, earlier edits in
// the same call remain applied. Callers that need atomicity rely on the
// repair loop's workspace snapshot for rollback, matching spec's documented
// non-rollback behavior for partial applies.
func Apply(plan *ValidatedPlan, cwd string) (*ApplyResult, error) {
	for _, e := range plan.Edits {
		if err := applyOne(e, cwd); err != nil {
			return nil, err
		}
	}
	return &ApplyResult{TouchedFiles: plan.TouchedFiles}, nil
}

func applyOne(e ValidatedEdit, cwd string) error {
	path := filepath.Join(cwd, e.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return reject(fmt.Sprintf("apply_plan_failed: missing_file:%s", e.File))
	}

	lines := crlf.Split(string(data), -1)
	if e.StartLine < 1 || e.EndLine < e.StartLine || e.EndLine > len(lines) {
		return reject(fmt.Sprintf("apply_plan_failed: invalid_line_range:%s:%d-%d", e.File, e.StartLine, e.EndLine))
	}

	var replacementLines []string
	if e.Replacement != "" {
		replacementLines = crlf.Split(e.Replacement, -1)
	}

	newLines := make([]string, 0, len(lines)-(e.EndLine-e.StartLine+1)+len(replacementLines))
	newLines = append(newLines, lines[:e.StartLine-1]...)
	newLines = append(newLines, replacementLines...)
	newLines = append(newLines, lines[e.EndLine:]...)

	out := strings.Join(newLines, "\n")
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return reject(fmt.Sprintf("apply_plan_failed: missing_file:%s", e.File))
	}
	return nil
}
