// Package gaterunner resolves the four quality gates (lint, typecheck,
// build, lighthouse) to concrete commands, executes them through
// internal/cmdrunner, and normalizes their output into the report package's
// Finding/GateResult model. Each gate resolves its command by trying a
// configured override before a well-known default, then runs it and
// classifies the outcome.
package gaterunner

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quick-gate/quickgate/internal/apperrors"
	"github.com/quick-gate/quickgate/internal/cmdrunner"
	"github.com/quick-gate/quickgate/internal/config"
	"github.com/quick-gate/quickgate/internal/lighthouse"
	"github.com/quick-gate/quickgate/internal/report"
)

const excerptLines = 30

var logger = log.New(os.Stderr, "[quick-gate-gate] ", log.LstdFlags)

// lighthouseArtifactPath is the fixed relative path the Lighthouse audit
// tool is expected to write its assertion-results artifact to.
const lighthouseArtifactPath = ".quick-gate/lighthouse-assertion-results.json"

var wellKnownFallbacks = map[report.Gate]string{
	report.GateTypecheck:  "npx tsc --noEmit",
	report.GateLighthouse: "npx lhci autorun --upload.target=filesystem --upload.outputDir=.quick-gate/lighthouse",
}

// Options configures one gate-runner invocation.
type Options struct {
	Mode         string // "canary" or "full"
	Cwd          string
	Config       *config.Config
	ChangedFiles []string
}

// Outcome is the normalized result of running the planned gates.
type Outcome struct {
	Gates    []report.GateResult
	Findings []report.Finding
	Traces   []report.CommandTrace
}

// Run executes the planned gates for opts.Mode and returns their normalized
// findings. It returns an error only when the project manifest cannot be
// found; every other failure is captured as a finding or a skipped gate.
func Run(ctx context.Context, opts Options) (*Outcome, error) {
	manifest, err := LoadManifest(opts.Cwd)
	if err != nil {
		return nil, err
	}

	plan := gatePlan(opts.Mode)
	out := &Outcome{}

	for _, gate := range plan.run {
		command := ResolveCommand(gate, opts.Config, manifest)
		if command == "" {
			logger.Printf("gate=%s status=fail reason=no_command_resolved", gate)
			out.Gates = append(out.Gates, report.GateResult{Name: gate, Status: report.StatusFail, DurationMS: 0})
			out.Findings = append(out.Findings, missingCommandFinding(gate))
			continue
		}

		logger.Printf("gate=%s command=%q starting", gate, command)
		res, runErr := cmdrunner.Run(ctx, cmdrunner.Options{Command: command, Dir: opts.Cwd})
		if runErr != nil {
			logger.Printf("gate=%s status=fail reason=invocation_error error=%v", gate, runErr)
			out.Gates = append(out.Gates, report.GateResult{Name: gate, Status: report.StatusFail, DurationMS: 0})
			out.Findings = append(out.Findings, missingCommandFinding(gate))
			continue
		}

		out.Traces = append(out.Traces, toTrace(res))

		if gate == report.GateLighthouse {
			findings, lhErr := lighthouse.ExtractFromFile(filepath.Join(opts.Cwd, lighthouseArtifactPath), opts.Config.Lighthouse.Thresholds)
			if lhErr == nil && len(findings) > 0 {
				logger.Printf("gate=%s status=fail duration_ms=%d findings=%d", gate, res.DurationMS, len(findings))
				out.Gates = append(out.Gates, report.GateResult{Name: gate, Status: report.StatusFail, DurationMS: res.DurationMS})
				out.Findings = append(out.Findings, findings...)
				continue
			}
			if res.ExitCode == 0 && !res.TimedOut {
				logger.Printf("gate=%s status=pass duration_ms=%d", gate, res.DurationMS)
				out.Gates = append(out.Gates, report.GateResult{Name: gate, Status: report.StatusPass, DurationMS: res.DurationMS})
				continue
			}
			logger.Printf("gate=%s status=fail duration_ms=%d exit_code=%d", gate, res.DurationMS, res.ExitCode)
			out.Gates = append(out.Gates, report.GateResult{Name: gate, Status: report.StatusFail, DurationMS: res.DurationMS})
			out.Findings = append(out.Findings, exitCodeFinding(gate, res))
			continue
		}

		if res.ExitCode == 0 && !res.TimedOut {
			logger.Printf("gate=%s status=pass duration_ms=%d", gate, res.DurationMS)
			out.Gates = append(out.Gates, report.GateResult{Name: gate, Status: report.StatusPass, DurationMS: res.DurationMS})
			continue
		}
		logger.Printf("gate=%s status=fail duration_ms=%d exit_code=%d", gate, res.DurationMS, res.ExitCode)
		out.Gates = append(out.Gates, report.GateResult{Name: gate, Status: report.StatusFail, DurationMS: res.DurationMS})
		out.Findings = append(out.Findings, exitCodeFinding(gate, res))
	}

	for _, gate := range plan.skip {
		out.Gates = append(out.Gates, report.GateResult{Name: gate, Status: report.StatusSkipped, DurationMS: 0})
	}

	return out, nil
}

type plannedGates struct {
	run  []report.Gate
	skip []report.Gate
}

func gatePlan(mode string) plannedGates {
	p := plannedGates{run: []report.Gate{report.GateLint, report.GateTypecheck, report.GateLighthouse}}
	if mode == "full" {
		p.run = append(p.run, report.GateBuild)
	} else {
		p.skip = append(p.skip, report.GateBuild)
	}
	return p
}

// ResolveCommand applies the gate command resolution order (config override,
// then declared project script, then well-known fallback) for one gate. It
// is exported so the repair loop's deterministic pre-fixer can resolve the
// same lint command the gate runner would use, without duplicating the
// resolution order.
func ResolveCommand(gate report.Gate, cfg *config.Config, manifest *Manifest) string {
	if override := configOverride(gate, cfg); override != "" {
		return override
	}
	if script, ok := manifest.Scripts[string(gate)]; ok && strings.TrimSpace(script) != "" {
		return "npm run " + string(gate)
	}
	return wellKnownFallbacks[gate]
}

func configOverride(gate report.Gate, cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	switch gate {
	case report.GateLint:
		return cfg.Commands.Lint
	case report.GateTypecheck:
		return cfg.Commands.Typecheck
	case report.GateBuild:
		return cfg.Commands.Build
	case report.GateLighthouse:
		return cfg.Commands.Lighthouse
	}
	return ""
}

func missingCommandFinding(gate report.Gate) report.Finding {
	err := apperrors.NewGateMissingCommandError(string(gate))
	return report.Finding{
		ID:       fmt.Sprintf("%s_missing_command", gate),
		Gate:     gate,
		Severity: report.SeverityHigh,
		Summary:  err.Error(),
		Files:    []string{},
		Status:   report.StatusFail,
	}
}

func exitCodeFinding(gate report.Gate, res *cmdrunner.Result) report.Finding {
	summary := fmt.Sprintf("%s exited %d", gate, res.ExitCode)
	if res.TimedOut {
		summary = fmt.Sprintf("%s timed out", gate)
	}
	return report.Finding{
		ID:       fmt.Sprintf("%s_exit_code", gate),
		Gate:     gate,
		Severity: report.SeverityHigh,
		Summary:  summary,
		Files:    []string{},
		Status:   report.StatusFail,
		Raw: report.RawTrace{
			StdoutExcerpt: excerpt(res.Stdout),
			StderrExcerpt: excerpt(res.Stderr),
			Command:       res.Command,
			ExitCode:      res.ExitCode,
		},
	}
}

func excerpt(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) > excerptLines {
		lines = lines[:excerptLines]
	}
	return strings.Join(lines, "\n")
}

func toTrace(res *cmdrunner.Result) report.CommandTrace {
	return report.CommandTrace{
		Command:    res.Command,
		Cwd:        res.Dir,
		StartedAt:  res.StartedAt.UTC().Format(time.RFC3339),
		DurationMS: res.DurationMS,
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	}
}

// NewRunID returns a fresh, sortable run identifier for a FailuresReport
// that wasn't given one explicitly.
func NewRunID() string {
	return ulid.Make().String()
}
