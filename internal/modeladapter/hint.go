package modeladapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Hint is one model-suggested hint tied to a finding.
type Hint struct {
	FindingID  string `json:"finding_id"`
	Hint       string `json:"hint"`
	Confidence string `json:"confidence"`
}

type hintList struct {
	Hints []Hint `json:"hints"`
}

const maxHints = 6

// HintResult is the outcome of one hint-adapter invocation. It never fails
// the calling attempt; a rejected or errored call simply yields
// Accepted=false with Reason set.
type HintResult struct {
	Attempted bool
	Accepted  bool
	Hints     []Hint
	Reason    string
}

// RunHintAdapter prompts the hint model for a strict-JSON hint list and
// parses it liberally, accepting at most maxHints entries.
func RunHintAdapter(ctx context.Context, runner Runner, model string, timeout time.Duration, findingCtx Context) HintResult {
	prompt := buildHintPrompt(findingCtx)
	output, err := runner.Invoke(ctx, model, prompt, timeout)
	if err != nil {
		return HintResult{Attempted: true, Accepted: false, Reason: classifyRunnerError(err)}
	}

	var parsed hintList
	if err := parseLiberal(output, &parsed); err != nil {
		return HintResult{Attempted: true, Accepted: false, Reason: "invalid_edit_plan_json"}
	}

	hints := parsed.Hints
	if len(hints) > maxHints {
		hints = hints[:maxHints]
	}
	return HintResult{Attempted: true, Accepted: true, Hints: hints}
}

func classifyRunnerError(err error) string {
	switch {
	case errors.Is(err, ErrMissingModel):
		return "missing_model"
	case errors.Is(err, errModelTimeout):
		return "model_command_timeout"
	default:
		return "model_command_failed"
	}
}

func buildHintPrompt(ctx Context) string {
	return fmt.Sprintf(
		"Given these failing checks, respond with strict JSON of the form "+
			`{"hints":[{"finding_id":"...","hint":"...","confidence":"low|medium|high"}]}`+
			" and nothing else.\n\nfindings: %+v\n\nfiles: %+v\n",
		ctx.Findings, ctx.Snippets,
	)
}
