package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/quick-gate/quickgate/internal/config"
	"github.com/quick-gate/quickgate/internal/gitutil"
)

const configFileName = "quick-gate.config.json"

// readChangedFiles loads the --changed-files input: plain text (one path
// per line, blank lines stripped) or a JSON array of strings, distinguished
// by the first non-whitespace byte being '['.
func readChangedFiles(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read changed-files %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var out []string
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return nil, fmt.Errorf("decode changed-files %s as JSON array: %w", path, err)
		}
		return out, nil
	}

	var out []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// loadConfig resolves quick-gate.config.json (or a .yaml/.yml sibling) under
// cwd.
func loadConfig(cwd string) (*config.Config, error) {
	return config.LoadAuto(cwd)
}

func repoMetadata(cwd string) (repo, branch string) {
	if !gitutil.IsRepo(cwd) {
		return "", ""
	}
	repo = cwd
	branch, _ = gitutil.CurrentBranch(cwd)
	return repo, branch
}
