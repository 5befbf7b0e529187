// Package report defines the data model shared across the gate runner, the
// Lighthouse extractor, the repair loop, and the CLI: Finding, GateResult,
// CommandTrace, and FailuresReport. These are plain structs with JSON
// tags; schema validation lives in the sibling internal/schema package so
// that this package stays a pure data model, separate from validation.
package report

// Gate identifies one of the four deterministic quality checks.
type Gate string

const (
	GateLint       Gate = "lint"
	GateTypecheck  Gate = "typecheck"
	GateBuild      Gate = "build"
	GateLighthouse Gate = "lighthouse"
)

// Severity is the severity of a Finding. The data model only ever produces
// high or critical; there is no "low"/"medium" tier.
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status is the pass/fail/skipped outcome of a gate, or pass/fail of a run.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
)

// Finding is a single structured gate failure.
type Finding struct {
	ID        string   `json:"id"`
	Gate      Gate     `json:"gate"`
	Severity  Severity `json:"severity"`
	Summary   string   `json:"summary"`
	Files     []string `json:"files"`
	Route     string   `json:"route,omitempty"`
	Metric    string   `json:"metric,omitempty"`
	Actual    string   `json:"actual,omitempty"`
	Threshold string   `json:"threshold,omitempty"`
	Status    Status   `json:"status"`
	Raw       RawTrace `json:"raw,omitempty"`
}

// RawTrace carries trace excerpts and threshold attribution for a Finding.
// ThresholdSource is only ever populated for lighthouse findings.
type RawTrace struct {
	StdoutExcerpt   string `json:"stdout_excerpt,omitempty"`
	StderrExcerpt   string `json:"stderr_excerpt,omitempty"`
	ThresholdSource string `json:"threshold_source,omitempty"`
	Command         string `json:"command,omitempty"`
	ExitCode        int    `json:"exit_code,omitempty"`
}

// GateResult is the pass/fail/skipped outcome for one planned gate in a run.
type GateResult struct {
	Name       Gate   `json:"name"`
	Status     Status `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// CommandTrace captures a single command invocation verbatim.
type CommandTrace struct {
	Command    string `json:"command"`
	Cwd        string `json:"cwd"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

// InferredHint is a placeholder slot for future hint-carrying data reported
// alongside findings; the schema accepts it but nothing populates it in v1.
type InferredHint struct {
	FindingID string `json:"finding_id"`
	Hint      string `json:"hint"`
}

// FailuresReport is the canonical, replaced-on-every-rerun artifact written
// to failures.json.
type FailuresReport struct {
	Version       int            `json:"version"`
	RunID         string         `json:"run_id"`
	Mode          string         `json:"mode"`
	Status        Status         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	Repo          string         `json:"repo,omitempty"`
	Branch        string         `json:"branch,omitempty"`
	ChangedFiles  []string       `json:"changed_files"`
	Gates         []GateResult   `json:"gates"`
	Findings      []Finding      `json:"findings"`
	InferredHints []InferredHint `json:"inferred_hints"`
}

// RunMetadata is the small sidecar artifact written alongside failures.json,
// recording the invocation's identity and timing independent of the
// findings themselves so tooling can correlate runs without reparsing the
// full failures report.
type RunMetadata struct {
	RunID        string `json:"run_id"`
	Mode         string `json:"mode"`
	Repo         string `json:"repo,omitempty"`
	Branch       string `json:"branch,omitempty"`
	ChangedFiles int    `json:"changed_files_count"`
	StartedAt    string `json:"started_at"`
	DurationMS   int64  `json:"duration_ms"`
	Status       Status `json:"status"`
}

// Normalize enforces the "status=pass iff findings is empty" invariant
// and guarantees slice fields are never nil so they serialize as `[]`
// instead of `null`.
func (r *FailuresReport) Normalize() {
	if r.Findings == nil {
		r.Findings = []Finding{}
	}
	if r.Gates == nil {
		r.Gates = []GateResult{}
	}
	if r.ChangedFiles == nil {
		r.ChangedFiles = []string{}
	}
	if r.InferredHints == nil {
		r.InferredHints = []InferredHint{}
	}
	if len(r.Findings) == 0 {
		r.Status = StatusPass
	} else {
		r.Status = StatusFail
	}
}

// CountsByGate returns the number of findings per gate, for the agent brief.
func (r *FailuresReport) CountsByGate() map[Gate]int {
	out := map[Gate]int{}
	for _, f := range r.Findings {
		out[f.Gate]++
	}
	return out
}

// CountsBySeverity returns the number of findings per severity, for the agent brief.
func (r *FailuresReport) CountsBySeverity() map[Severity]int {
	out := map[Severity]int{}
	for _, f := range r.Findings {
		out[f.Severity]++
	}
	return out
}

// NewFailuresReport assembles a FailuresReport from one gate-runner pass and
// normalizes it, so every caller (the initial run and every repair-loop
// rerun) produces the same shape with the same invariant enforced.
func NewFailuresReport(runID, mode string, changedFiles []string, repo, branch, timestamp string, gates []GateResult, findings []Finding) *FailuresReport {
	fr := &FailuresReport{
		Version:      1,
		RunID:        runID,
		Mode:         mode,
		Timestamp:    timestamp,
		Repo:         repo,
		Branch:       branch,
		ChangedFiles: changedFiles,
		Gates:        gates,
		Findings:     findings,
	}
	fr.Normalize()
	return fr
}
