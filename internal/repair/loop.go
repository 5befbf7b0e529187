package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/quick-gate/quickgate/internal/config"
	"github.com/quick-gate/quickgate/internal/editplan"
	"github.com/quick-gate/quickgate/internal/gaterunner"
	"github.com/quick-gate/quickgate/internal/gitutil"
	"github.com/quick-gate/quickgate/internal/modeladapter"
	"github.com/quick-gate/quickgate/internal/prefix"
	"github.com/quick-gate/quickgate/internal/report"
	"github.com/quick-gate/quickgate/internal/snapshot"
)

// Options configures one repair-loop invocation.
type Options struct {
	Cwd                string
	Mode               string
	ChangedFiles       []string
	Config             *config.Config
	ModelPolicy        config.ModelPolicy
	FailuresPath       string
	AgentBriefJSONPath string
	AgentBriefMDPath   string
	BackupRoot         string
	MaxAttempts        int // overrides Config.Policy.MaxAttempts when > 0
	DeterministicOnly  bool
	Runner             modeladapter.Runner // overrides the default ShellRunner when set; mock env hooks still take precedence
	Clock              Clock
}

// Run executes the bounded repair loop against the FailuresReport at
// opts.FailuresPath, returning exactly one of a RepairReport or an
// Escalation. A non-nil error means an infrastructure failure (missing
// manifest, unreadable failures report, schema-validation failure on an
// outbound artifact) aborted the loop before it could reach a terminal
// decision.
func Run(ctx context.Context, opts Options) (*RepairReport, *Escalation, error) {
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}

	failures, err := readFailuresReport(opts.FailuresPath)
	if err != nil {
		return nil, nil, err
	}

	previousCount := countFindings(failures)
	if previousCount == 0 {
		return &RepairReport{Status: "pass", Attempts: []AttemptRecord{}}, nil, nil
	}

	policy := opts.Config.Policy
	maxAttempts := policy.MaxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}
	timeCap := time.Duration(policy.TimeCapMS) * time.Millisecond

	isRepo := gitutil.IsRepo(opts.Cwd)
	var baseRef string
	if isRepo {
		baseRef, _ = gitutil.HeadSHA(opts.Cwd)
	}

	hintRunner := resolveRunner(opts.Runner, opts.ModelPolicy.MockHintSet, opts.ModelPolicy.MockHintOutput)
	patchRunner := resolveRunner(opts.Runner, opts.ModelPolicy.MockPatchSet, opts.ModelPolicy.MockPatchOutput)
	modelTimeout := time.Duration(opts.ModelPolicy.ModelTimeoutMS) * time.Millisecond

	startedAt := clock.Now()
	noImprovement := 0
	var attempts []AttemptRecord

	for attempt := 1; ; attempt++ {
		if clock.Now().Sub(startedAt) > timeCap {
			return nil, &Escalation{
				Status:     "escalated",
				ReasonCode: ReasonUnknownBlocker,
				Message:    fmt.Sprintf("time cap of %s exceeded before attempt %d", timeCap, attempt),
				Attempts:   attempts,
			}, nil
		}

		rec := newAttempt(attempt)
		rec.BeforeFindings = previousCount

		snap, err := snapshot.Take(opts.Cwd, opts.BackupRoot, attempt, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("repair: attempt %d: snapshot: %w", attempt, err)
		}
		rec.SnapshotChecksum, _ = snap.Checksum()

		var preDiff map[string]gitutil.LineDelta
		if isRepo {
			preDiff, _ = gitutil.DiffNumstat(opts.Cwd, baseRef)
		}

		manifest, err := gaterunner.LoadManifest(opts.Cwd)
		if err != nil {
			return nil, nil, err
		}
		lintCmd := gaterunner.ResolveCommand(report.GateLint, opts.Config, manifest)

		prefixResult := prefix.Run(prefix.Options{
			Cwd:            opts.Cwd,
			ChangedFiles:   opts.ChangedFiles,
			Findings:       failures.Findings,
			LintFixCommand: lintCmd,
		})
		rec.Actions = append(rec.Actions, convertPrefixActions(prefixResult.Actions)...)

		shortCircuit := false
		if prefixResult.Acted {
			var rerunErr error
			failures, rerunErr = rerunGates(ctx, opts, failures, clock.Now())
			if rerunErr != nil {
				return nil, nil, rerunErr
			}
			shortCircuit = countFindings(failures) == 0
		}

		if !shortCircuit {
			switch {
			case opts.DeterministicOnly:
				rec.Actions = append(rec.Actions, Action{Strategy: "deterministic_only_mode"})
			case !hasPatchableGate(failures.Findings):
				rec.Actions = append(rec.Actions, Action{Strategy: "skip_model_patch", Reason: "no_patchable_gate_in_findings"})
			default:
				findingCtx := modeladapter.Gather(opts.Cwd, opts.ChangedFiles, failures.Findings)

				hintResult := modeladapter.RunHintAdapter(ctx, hintRunner, opts.ModelPolicy.HintModel, modelTimeout, findingCtx)
				rec.Actions = append(rec.Actions, hintAction(hintResult))

				patchResult := modeladapter.RunPatchAdapter(ctx, findingCtx, modeladapter.PatchOptions{
					Runner:         patchRunner,
					Model:          opts.ModelPolicy.PatchModel,
					Timeout:        modelTimeout,
					AllowHintOnly:  opts.ModelPolicy.AllowHintOnlyPatch,
					HintOnlyModels: opts.ModelPolicy.PatchDenyList(),
					Cwd:            opts.Cwd,
					Scope: editplan.ScopeContext{
						Cwd:           opts.Cwd,
						AllowedFiles:  findingCtx.AllowedFiles,
						RelevanceSet:  mergedFiles(opts.ChangedFiles, failures.Findings),
						MaxPatchLines: policy.MaxPatchLines,
					},
				})
				rec.PatchLines = patchResult.PatchLines
				rec.Actions = append(rec.Actions, patchAction(patchResult))
			}
		}

		var postDiff map[string]gitutil.LineDelta
		if isRepo {
			postDiff, _ = gitutil.DiffNumstat(opts.Cwd, baseRef)
		}
		delta := sumAbsDelta(preDiff, postDiff)
		if delta > policy.MaxPatchLines {
			if err := snap.Restore(); err != nil {
				return nil, nil, fmt.Errorf("repair: attempt %d: restore after budget breach: %w", attempt, err)
			}
			rec.Status = "escalated"
			attempts = append(attempts, *rec)
			return nil, &Escalation{
				Status:     "escalated",
				ReasonCode: ReasonPatchBudgetExceeded,
				Message:    fmt.Sprintf("patch-line delta %d exceeds budget %d", delta, policy.MaxPatchLines),
				Attempts:   attempts,
				Evidence:   map[string]any{"attempt": attempt, "patch_lines_delta": delta},
			}, nil
		}

		if shortCircuit {
			rec.AfterFindings = 0
			rec.Improved = true
			rec.Status = "pass"
			attempts = append(attempts, *rec)
			return &RepairReport{Status: "pass", Attempts: attempts}, nil, nil
		}

		var rerunErr error
		failures, rerunErr = rerunGates(ctx, opts, failures, clock.Now())
		if rerunErr != nil {
			return nil, nil, rerunErr
		}

		currentCount := countFindings(failures)
		rec.AfterFindings = currentCount
		rec.Improved = currentCount < previousCount
		rec.Worsened = currentCount > previousCount
		rec.Status = string(failures.Status)
		attempts = append(attempts, *rec)

		if failures.Status == report.StatusPass {
			return &RepairReport{Status: "pass", Attempts: attempts}, nil, nil
		}

		if rec.Worsened {
			if err := snap.Restore(); err != nil {
				return nil, nil, fmt.Errorf("repair: attempt %d: rollback: %w", attempt, err)
			}
		}

		if rec.Improved {
			noImprovement = 0
		} else {
			noImprovement++
		}
		previousCount = currentCount

		if noImprovement >= policy.AbortOnNoImprovement {
			return nil, &Escalation{
				Status:     "escalated",
				ReasonCode: ReasonNoImprovement,
				Message:    fmt.Sprintf("%d consecutive attempts without improvement", noImprovement),
				Attempts:   attempts,
			}, nil
		}

		if attempt >= maxAttempts {
			return nil, &Escalation{
				Status:     "escalated",
				ReasonCode: ReasonUnknownBlocker,
				Message:    "attempts exhausted",
				Attempts:   attempts,
			}, nil
		}
	}
}

func resolveRunner(base modeladapter.Runner, mockSet bool, mockOutput string) modeladapter.Runner {
	if mockSet {
		return modeladapter.MockRunner{Output: mockOutput}
	}
	if base != nil {
		return base
	}
	return modeladapter.ShellRunner{}
}

// rerunGates invokes the gate runner in the original mode and changed-file
// list, rewrites failures.json, and refreshes the agent brief artifact.
func rerunGates(ctx context.Context, opts Options, prior *report.FailuresReport, now time.Time) (*report.FailuresReport, error) {
	outcome, err := gaterunner.Run(ctx, gaterunner.Options{
		Mode:         opts.Mode,
		Cwd:          opts.Cwd,
		Config:       opts.Config,
		ChangedFiles: opts.ChangedFiles,
	})
	if err != nil {
		return nil, err
	}

	fr := report.NewFailuresReport(
		prior.RunID,
		opts.Mode,
		opts.ChangedFiles,
		prior.Repo,
		prior.Branch,
		now.UTC().Format(time.RFC3339),
		outcome.Gates,
		outcome.Findings,
	)

	if err := writeFailuresReport(opts.FailuresPath, fr); err != nil {
		return nil, err
	}
	if err := writeAgentBrief(opts.AgentBriefJSONPath, opts.AgentBriefMDPath, fr, now); err != nil {
		return nil, err
	}
	return fr, nil
}

func hasPatchableGate(findings []report.Finding) bool {
	for _, f := range findings {
		if f.Gate == report.GateLint || f.Gate == report.GateTypecheck {
			return true
		}
	}
	return false
}

func mergedFiles(changedFiles []string, findings []report.Finding) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range changedFiles {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, finding := range findings {
		for _, f := range finding.Files {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// sumAbsDelta sums |after-before| added+removed line counts across the union
// of files touched in either sample. Binary files (reported as -1/-1 by git)
// are excluded from the additive total, matching git's own numstat
// convention of "-" meaning "not applicable" rather than zero.
func sumAbsDelta(before, after map[string]gitutil.LineDelta) int {
	files := map[string]bool{}
	for f := range before {
		files[f] = true
	}
	for f := range after {
		files[f] = true
	}
	total := 0
	for f := range files {
		b := before[f]
		a := after[f]
		if b.Added < 0 || b.Removed < 0 || a.Added < 0 || a.Removed < 0 {
			continue
		}
		total += abs((a.Added + a.Removed) - (b.Added + b.Removed))
	}
	return total
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func convertPrefixActions(actions []prefix.Action) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		out = append(out, Action{
			Strategy: a.Strategy,
			Command:  a.Command,
			ExitCode: a.ExitCode,
			Reason:   a.Reason,
		})
	}
	return out
}

func hintAction(r modeladapter.HintResult) Action {
	a := Action{Strategy: "hint_adapter", Reason: r.Reason}
	if r.Accepted {
		a.Detail = fmt.Sprintf("%d hints accepted", len(r.Hints))
	}
	return a
}

func patchAction(r modeladapter.PatchResult) Action {
	a := Action{Strategy: "patch_adapter", Reason: r.Reason}
	if r.Accepted {
		a.Detail = fmt.Sprintf("score=%.2f patch_lines=%d touched=%d", r.Score, r.PatchLines, len(r.TouchedFiles))
	}
	return a
}
