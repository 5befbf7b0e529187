// Package config loads quick-gate.config.json (or a YAML sibling) and the
// QUICK_GATE_* model environment variables into immutable structs: decode,
// apply defaults in one function, validate in another, and never read
// process environment from deep inside business logic — read it once at the
// top of an invocation and thread the result through.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyConfig is the repair loop's triple budget plus the no-improvement
// abort threshold.
type PolicyConfig struct {
	MaxAttempts          int `json:"maxAttempts,omitempty"`
	MaxPatchLines        int `json:"maxPatchLines,omitempty"`
	AbortOnNoImprovement int `json:"abortOnNoImprovement,omitempty"`
	TimeCapMS            int `json:"timeCapMs,omitempty"`
}

func defaultPolicy() PolicyConfig {
	return PolicyConfig{
		MaxAttempts:          3,
		MaxPatchLines:        150,
		AbortOnNoImprovement: 2,
		TimeCapMS:            20 * 60 * 1000,
	}
}

// CommandsConfig overrides the well-known-fallback gate command resolution.
type CommandsConfig struct {
	Lint       string `json:"lint,omitempty"`
	Typecheck  string `json:"typecheck,omitempty"`
	Build      string `json:"build,omitempty"`
	Lighthouse string `json:"lighthouse,omitempty"`
}

// LighthouseConfig holds the metric/category threshold map used by the
// Lighthouse extractor's threshold attribution.
type LighthouseConfig struct {
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
}

func defaultLighthouseThresholds() map[string]float64 {
	return map[string]float64{
		"performance":    0.8,
		"accessibility":  0.8,
		"best-practices": 0.8,
		"seo":            0.8,
	}
}

// Config is the decoded form of quick-gate.config.json. Unknown top-level
// keys are preserved in Extra and otherwise ignored, so quick-gate's own
// config stays forward-compatible with operator tooling that adds keys this
// binary doesn't understand yet.
type Config struct {
	Commands   CommandsConfig             `json:"commands,omitempty"`
	Policy     PolicyConfig               `json:"policy,omitempty"`
	Lighthouse LighthouseConfig           `json:"lighthouse,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

// Default returns a Config populated with all documented defaults, used when
// no config file is present.
func Default() *Config {
	return &Config{
		Policy:     defaultPolicy(),
		Lighthouse: LighthouseConfig{Thresholds: defaultLighthouseThresholds()},
	}
}

// Load reads and decodes quick-gate.config.json (or, for operators who
// prefer it, a .yaml/.yml sibling with the same shape) at path. A missing
// file is not an error; Load returns Default(). Values the file specifies
// are merged over the defaults; a policy value of zero counts as unset, and
// a negative one is rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	raw, err := decodeRaw(path, b)
	if err != nil {
		return nil, err
	}

	if v, ok := raw["commands"]; ok {
		if err := json.Unmarshal(v, &cfg.Commands); err != nil {
			return nil, fmt.Errorf("config %s: commands: %w", path, err)
		}
	}
	if v, ok := raw["policy"]; ok {
		var p PolicyConfig
		if err := json.Unmarshal(v, &p); err != nil {
			return nil, fmt.Errorf("config %s: policy: %w", path, err)
		}
		mergePolicy(&cfg.Policy, p)
	}
	if v, ok := raw["lighthouse"]; ok {
		var lh LighthouseConfig
		if err := json.Unmarshal(v, &lh); err != nil {
			return nil, fmt.Errorf("config %s: lighthouse: %w", path, err)
		}
		for k, thr := range lh.Thresholds {
			cfg.Lighthouse.Thresholds[k] = thr
		}
	}

	cfg.Extra = map[string]json.RawMessage{}
	for k, v := range raw {
		switch k {
		case "commands", "policy", "lighthouse":
		default:
			cfg.Extra[k] = v
		}
	}

	if err := validatePolicy(cfg.Policy); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// decodeRaw decodes b into the same map[string]json.RawMessage shape
// regardless of source format: YAML documents (by .yaml/.yml extension) are
// first decoded into a generic tree and re-marshaled to JSON, so the rest of
// Load only ever has to deal with one representation.
func decodeRaw(path string, b []byte) (map[string]json.RawMessage, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		return raw, nil
	}

	var tree map[string]any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	raw := map[string]json.RawMessage{}
	for k, v := range tree {
		jv, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("config %s: re-encode key %q: %w", path, k, err)
		}
		raw[k] = jv
	}
	return raw, nil
}

// LoadAuto resolves the config file the way a real project layout would:
// quick-gate.config.json first, falling back to a .yaml or .yml sibling of
// the same base name. Returns Default() if none exist.
func LoadAuto(cwd string) (*Config, error) {
	candidates := []string{
		filepath.Join(cwd, "quick-gate.config.json"),
		filepath.Join(cwd, "quick-gate.config.yaml"),
		filepath.Join(cwd, "quick-gate.config.yml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

func mergePolicy(dst *PolicyConfig, override PolicyConfig) {
	if override.MaxAttempts != 0 {
		dst.MaxAttempts = override.MaxAttempts
	}
	if override.MaxPatchLines != 0 {
		dst.MaxPatchLines = override.MaxPatchLines
	}
	if override.AbortOnNoImprovement != 0 {
		dst.AbortOnNoImprovement = override.AbortOnNoImprovement
	}
	if override.TimeCapMS != 0 {
		dst.TimeCapMS = override.TimeCapMS
	}
}

func validatePolicy(p PolicyConfig) error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("policy.maxAttempts must be > 0")
	}
	if p.MaxPatchLines <= 0 {
		return fmt.Errorf("policy.maxPatchLines must be > 0")
	}
	if p.AbortOnNoImprovement <= 0 {
		return fmt.Errorf("policy.abortOnNoImprovement must be > 0")
	}
	if p.TimeCapMS <= 0 {
		return fmt.Errorf("policy.timeCapMs must be > 0")
	}
	return nil
}

// ModelPolicy is the immutable, env-derived configuration for the hint and
// patch model adapters, read once into a struct at the start of a repair
// invocation rather than polled from deep inside the adapters.
type ModelPolicy struct {
	HintModel          string
	PatchModel         string
	AllowHintOnlyPatch bool
	ModelTimeoutMS     int
	MockHintOutput     string
	MockHintSet        bool
	MockPatchOutput    string
	MockPatchSet       bool
}

const (
	defaultHintModel  = "qwen2.5:1.5b"
	defaultPatchModel = "mistral:7b"
	defaultTimeoutMS  = 60000
)

// HintOnlyModelDenyList names model identifiers too small or unreliable to
// trust with structured edit plans; the patch adapter refuses any of these
// as a patch model unless QUICK_GATE_ALLOW_HINT_ONLY_PATCH is set.
var HintOnlyModelDenyList = []string{
	"qwen2.5:1.5b",
	"qwen2.5:0.5b",
	"phi3:mini",
	"gemma2:2b",
	"tinyllama",
}

// PatchDenyList returns the effective hint-only deny list for one
// invocation: the compiled-in list plus the resolved hint model, since a
// patch model configured to match the hint model is definitionally
// hint-only for this run.
func (mp ModelPolicy) PatchDenyList() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range append(append([]string{}, HintOnlyModelDenyList...), mp.HintModel) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// ModelPolicyFromEnv reads the QUICK_GATE_* environment variables once and
// returns an immutable snapshot. Call this at the top of a repair
// invocation and thread the result through; do not read os.LookupEnv from
// inside the adapters themselves. A nil lookupEnv defaults to os.LookupEnv.
func ModelPolicyFromEnv(lookupEnv func(string) (string, bool)) ModelPolicy {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	getenv := func(key string) string {
		v, _ := lookupEnv(key)
		return v
	}
	mp := ModelPolicy{
		HintModel:          firstNonEmpty(getenv("QUICK_GATE_HINT_MODEL"), defaultHintModel),
		PatchModel:         firstNonEmpty(getenv("QUICK_GATE_PATCH_MODEL"), defaultPatchModel),
		AllowHintOnlyPatch: getenv("QUICK_GATE_ALLOW_HINT_ONLY_PATCH") == "1",
		ModelTimeoutMS:     defaultTimeoutMS,
	}
	if v := strings.TrimSpace(getenv("QUICK_GATE_MODEL_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			mp.ModelTimeoutMS = n
		}
	}
	if v, ok := lookupEnv("QUICK_GATE_MOCK_OLLAMA_HINT"); ok {
		mp.MockHintOutput = v
		mp.MockHintSet = true
	}
	if v, ok := lookupEnv("QUICK_GATE_MOCK_OLLAMA_PATCH"); ok {
		mp.MockPatchOutput = v
		mp.MockPatchSet = true
	}
	return mp
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
