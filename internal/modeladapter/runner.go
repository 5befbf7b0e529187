package modeladapter

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/quick-gate/quickgate/internal/cmdrunner"
)

// ErrMissingModel is returned by a Runner when the local model binary itself
// cannot be found on PATH, distinct from the model rejecting the prompt.
var ErrMissingModel = errors.New("modeladapter: local model runner not found")

// Runner is the single-method interface both adapters dispatch through: swap
// in a mock for tests via the environment hooks in internal/config rather
// than branching on a provider type here.
type Runner interface {
	Invoke(ctx context.Context, model, prompt string, timeout time.Duration) (string, error)
}

// ShellRunner invokes a local "ollama"-style model runner via "ollama run
// <model>", piping the prompt on stdin and capturing stdout, the same
// process-group-kill-on-timeout shape internal/cmdrunner already provides.
type ShellRunner struct {
	Binary string // defaults to "ollama"
}

func (r ShellRunner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "ollama"
}

func (r ShellRunner) Invoke(ctx context.Context, model, prompt string, timeout time.Duration) (string, error) {
	bin := r.binary()
	if _, err := exec.LookPath(bin); err != nil {
		return "", ErrMissingModel
	}
	res, err := cmdrunner.Run(ctx, cmdrunner.Options{
		Command: bin + " run " + model,
		Timeout: timeout,
		Stdin:   prompt,
	})
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "", errModelTimeout
	}
	if res.ExitCode != 0 {
		return "", errModelCommandFailed
	}
	return res.Stdout, nil
}

var (
	errModelTimeout       = errors.New("model_command_timeout")
	errModelCommandFailed = errors.New("model_command_failed")
)

// MockRunner returns a fixed string regardless of model or prompt, used when
// QUICK_GATE_MOCK_OLLAMA_HINT/PATCH is set.
type MockRunner struct {
	Output string
}

func (r MockRunner) Invoke(context.Context, string, string, time.Duration) (string, error) {
	return r.Output, nil
}
