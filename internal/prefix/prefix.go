// Package prefix implements the deterministic pre-fixer: a small rule table
// keyed on which gates are currently failing. Its only real rule runs a lint
// autofix over a capped, filtered scope of touched files; every other
// failing gate records a placeholder action instead of attempting a fix.
// The scope is filtered by glob-excluded directories, an extension
// allowlist, and an entry cap, matched via doublestar.Match.
package prefix

import (
	"context"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/quick-gate/quickgate/internal/cmdrunner"
	"github.com/quick-gate/quickgate/internal/report"
)

const maxScopedFiles = 20

var excludeGlobs = []string{
	"**/node_modules/**",
	"**/dist/**",
	"**/build/**",
	"**/coverage/**",
	"**/.next/**",
	"**/out/**",
	"**/vendor/**",
}

var sourceExtensions = map[string]bool{
	".js":     true,
	".jsx":    true,
	".ts":     true,
	".tsx":    true,
	".vue":    true,
	".svelte": true,
	".mjs":    true,
	".cjs":    true,
}

// ScopedFiles computes the deterministic pre-fixer's file scope: the union
// of changedFiles and every finding's files, filtered to source-code
// extensions outside build/vendor/coverage directories, excluding minified
// artifacts, absolute paths, and parent-directory references, capped at
// maxScopedFiles entries. Order of first appearance is preserved.
func ScopedFiles(changedFiles []string, findings []report.Finding) []string {
	seen := map[string]bool{}
	var merged []string
	for _, f := range changedFiles {
		if !seen[f] {
			seen[f] = true
			merged = append(merged, f)
		}
	}
	for _, finding := range findings {
		for _, f := range finding.Files {
			if !seen[f] {
				seen[f] = true
				merged = append(merged, f)
			}
		}
	}

	var out []string
	for _, f := range merged {
		if !eligible(f) {
			continue
		}
		out = append(out, f)
		if len(out) >= maxScopedFiles {
			break
		}
	}
	return out
}

func eligible(p string) bool {
	if path.IsAbs(p) {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return false
		}
	}
	ext := path.Ext(p)
	if !sourceExtensions[ext] {
		return false
	}
	base := path.Base(p)
	if strings.Contains(base, ".min.") {
		return false
	}
	for _, g := range excludeGlobs {
		if ok, _ := doublestar.Match(g, p); ok {
			return false
		}
	}
	return true
}

// Action is one recorded pre-fixer action.
type Action struct {
	Strategy string `json:"strategy"`
	Command  string `json:"command,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Result is the outcome of one pre-fixer pass.
type Result struct {
	Acted   bool
	Actions []Action
}

// failingGates returns the set of gates with at least one finding, in a
// stable order (lint first, since its presence gates the only real rule).
func failingGates(findings []report.Finding) []report.Gate {
	present := map[report.Gate]bool{}
	for _, f := range findings {
		present[f.Gate] = true
	}
	var out []report.Gate
	for _, g := range []report.Gate{report.GateLint, report.GateTypecheck, report.GateBuild, report.GateLighthouse} {
		if present[g] {
			out = append(out, g)
		}
	}
	return out
}

// Options configures one pre-fixer invocation.
type Options struct {
	Cwd            string
	ChangedFiles   []string
	Findings       []report.Finding
	LintFixCommand string // the resolved lint command, re-invoked with an autofix flag
}

// Run applies the pre-fixer's rule table against opts.Findings. Lint
// failures trigger an autofix pass over the scoped file set; every other
// failing gate gets a requires_manual_or_model_patch placeholder.
func Run(opts Options) *Result {
	res := &Result{}
	gates := failingGates(opts.Findings)

	for _, g := range gates {
		if g == report.GateLint {
			scoped := ScopedFiles(opts.ChangedFiles, opts.Findings)
			action := runLintAutofix(opts.Cwd, opts.LintFixCommand, scoped)
			res.Actions = append(res.Actions, action)
			if action.Strategy == "deterministic_prefix_rerun" {
				res.Acted = true
			}
			continue
		}
		res.Actions = append(res.Actions, Action{
			Strategy: "requires_manual_or_model_patch",
			Reason:   string(g) + " has no deterministic rule in v1",
		})
	}

	return res
}

func runLintAutofix(cwd, lintCommand string, scoped []string) Action {
	if lintCommand == "" || len(scoped) == 0 {
		return Action{
			Strategy: "requires_manual_or_model_patch",
			Reason:   "no lint command or empty scoped file set",
		}
	}
	command := lintCommand + " --fix --fix-type=problem -- " + strings.Join(scoped, " ")
	res, err := cmdrunner.Run(context.Background(), cmdrunner.Options{Command: command, Dir: cwd})
	if err != nil {
		return Action{Strategy: "requires_manual_or_model_patch", Reason: "lint autofix invocation failed: " + err.Error()}
	}
	return Action{
		Strategy: "deterministic_prefix_rerun",
		Command:  command,
		ExitCode: res.ExitCode,
	}
}
