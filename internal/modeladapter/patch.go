package modeladapter

import (
	"context"
	"fmt"
	"time"

	"github.com/quick-gate/quickgate/internal/editplan"
)

// PatchResult is the outcome of one patch-adapter invocation.
type PatchResult struct {
	Attempted    bool
	Accepted     bool
	Reason       string
	Summary      string
	Score        float64
	PatchLines   int
	TouchedFiles []string
}

// PatchOptions configures one patch-adapter invocation.
type PatchOptions struct {
	Runner         Runner
	Model          string
	Timeout        time.Duration
	AllowHintOnly  bool
	HintOnlyModels []string
	Cwd            string
	Scope          editplan.ScopeContext
}

// RunPatchAdapter prompts the patch model for a candidate edit plan,
// validates it through internal/editplan, and applies it on success. A
// configured hint-only model is refused outright unless AllowHintOnly is set.
func RunPatchAdapter(ctx context.Context, findingCtx Context, opts PatchOptions) PatchResult {
	if !opts.AllowHintOnly && isHintOnly(opts.Model, opts.HintOnlyModels) {
		return PatchResult{Attempted: false, Reason: "patch_model_is_hint_only"}
	}

	prompt := buildPatchPrompt(findingCtx, "")
	output, err := opts.Runner.Invoke(ctx, opts.Model, prompt, opts.Timeout)
	if err != nil {
		return PatchResult{Attempted: true, Accepted: false, Reason: classifyRunnerError(err)}
	}

	raw, parseErr := decodePlan(output)
	if parseErr != nil {
		// One-shot repair retry with a stricter reminder prompt embedding the
		// allowed-files list and an excerpt of the prior output.
		retryPrompt := buildPatchPrompt(findingCtx, output)
		output2, err2 := opts.Runner.Invoke(ctx, opts.Model, retryPrompt, opts.Timeout)
		if err2 != nil {
			return PatchResult{Attempted: true, Accepted: false, Reason: classifyRunnerError(err2)}
		}
		raw, parseErr = decodePlan(output2)
		if parseErr != nil {
			return PatchResult{Attempted: true, Accepted: false, Reason: "invalid_edit_plan_json"}
		}
	}

	plan, err := editplan.Validate(raw, opts.Scope)
	if err != nil {
		if rej, ok := err.(*editplan.RejectionError); ok {
			return PatchResult{Attempted: true, Accepted: false, Reason: rej.Reason}
		}
		return PatchResult{Attempted: true, Accepted: false, Reason: err.Error()}
	}

	applyResult, err := editplan.Apply(plan, opts.Cwd)
	if err != nil {
		return PatchResult{Attempted: true, Accepted: false, Reason: err.Error()}
	}

	return PatchResult{
		Attempted:    true,
		Accepted:     true,
		Summary:      plan.Summary,
		Score:        plan.Score,
		PatchLines:   plan.PatchLines,
		TouchedFiles: applyResult.TouchedFiles,
	}
}

func decodePlan(output string) (editplan.RawPlan, error) {
	var raw editplan.RawPlan
	if err := parseLiberal(output, &raw); err != nil {
		return editplan.RawPlan{}, err
	}
	if len(raw.Edits) == 0 {
		return editplan.RawPlan{}, fmt.Errorf("modeladapter: no edits in patch output")
	}
	return raw, nil
}

func isHintOnly(model string, denyList []string) bool {
	for _, m := range denyList {
		if m == model {
			return true
		}
	}
	return false
}

func buildPatchPrompt(ctx Context, priorOutput string) string {
	if priorOutput == "" {
		return fmt.Sprintf(
			"Given these failing checks, respond with strict JSON of the form "+
				`{"summary":"...","edits":[{"file":"...","start_line":1,"end_line":1,"replacement":"..."}]}`+
				" and nothing else. Only files in allowed_files may be edited.\n\n"+
				"findings: %+v\n\nallowed_files: %+v\n",
			ctx.Findings, ctx.AllowedFiles,
		)
	}
	excerpt := priorOutput
	if len(excerpt) > 600 {
		excerpt = excerpt[:600]
	}
	return fmt.Sprintf(
		"Your previous response was not valid JSON. Respond again with ONLY strict JSON of the form "+
			`{"summary":"...","edits":[{"file":"...","start_line":1,"end_line":1,"replacement":"..."}]}`+
			". Only files in allowed_files may be edited.\n\n"+
			"allowed_files: %+v\n\nyour previous output began with:\n%s\n",
		ctx.AllowedFiles, excerpt,
	)
}
