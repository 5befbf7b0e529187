package gaterunner

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/quick-gate/quickgate/internal/apperrors"
)

// Manifest is the subset of package.json the gate runner consults: the
// declared npm scripts used as the second step of command resolution.
type Manifest struct {
	Scripts map[string]string `json:"scripts"`
}

// LoadManifest reads package.json from cwd. A missing manifest is fatal,
// mirroring the gate runner's own exit semantics (it never throws on a
// non-zero gate exit, only when the project manifest cannot be found).
func LoadManifest(cwd string) (*Manifest, error) {
	path := filepath.Join(cwd, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewManifestMissingError(path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.NewManifestMissingError(path, err)
	}
	if m.Scripts == nil {
		m.Scripts = map[string]string{}
	}
	return &m, nil
}
