// Package repair implements the bounded repair loop: the state machine that
// snapshots the workspace, runs a tiered sequence of fixers (deterministic
// pre-fix, hint model, patch model), reruns the gates, and decides whether
// to terminate with a passing report, roll back and retry, or escalate with
// a typed reason code. Each attempt snapshots first, the loop runs a bounded
// number of iterations, and exactly one terminal document is emitted.
package repair

import "github.com/quick-gate/quickgate/internal/report"

// ReasonCode is a terminal escalation's machine-readable cause.
type ReasonCode string

const (
	ReasonNoImprovement             ReasonCode = "NO_IMPROVEMENT"
	ReasonPatchBudgetExceeded       ReasonCode = "PATCH_BUDGET_EXCEEDED"
	ReasonUnknownBlocker            ReasonCode = "UNKNOWN_BLOCKER"
	ReasonArchitecturalChangeNeeded ReasonCode = "ARCHITECTURAL_CHANGE_REQUIRED"
	ReasonFlakyEvaluator            ReasonCode = "FLAKY_EVALUATOR"
)

// Action is one ordered step taken within an attempt: a pre-fixer rule, a
// hint-adapter call, or a patch-adapter call, each tagged with a strategy
// name and whatever reason/detail applies.
type Action struct {
	Strategy string `json:"strategy"`
	Command  string `json:"command,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// AttemptRecord is one loop iteration's full audit trail.
type AttemptRecord struct {
	Attempt          int      `json:"attempt"`
	PatchLines       int      `json:"patch_lines"`
	BeforeFindings   int      `json:"before_findings"`
	AfterFindings    int      `json:"after_findings"`
	Improved         bool     `json:"improved"`
	Worsened         bool     `json:"worsened"`
	Status           string   `json:"status"`
	SnapshotChecksum string   `json:"snapshot_checksum,omitempty"`
	Actions          []Action `json:"actions"`
}

// RepairReport is the sole success artifact: the loop terminated with a
// passing rerun.
type RepairReport struct {
	Status   string          `json:"status"`
	Attempts []AttemptRecord `json:"attempts"`
}

// Escalation is the sole failure artifact: the loop could not bring the
// workspace to a passing state within its budgets.
type Escalation struct {
	Status     string          `json:"status"`
	ReasonCode ReasonCode      `json:"reason_code"`
	Message    string          `json:"message"`
	Attempts   []AttemptRecord `json:"attempts,omitempty"`
	Evidence   map[string]any  `json:"evidence,omitempty"`
}

func newAttempt(n int) *AttemptRecord {
	return &AttemptRecord{Attempt: n, Actions: []Action{}}
}

func countFindings(f *report.FailuresReport) int {
	if f == nil {
		return 0
	}
	return len(f.Findings)
}
