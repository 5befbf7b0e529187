package modeladapter

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseLiberal tries to unmarshal text as-is first, then falls back to the
// substring between the first '{' and the last '}' in text. Model output is
// often wrapped in prose or a markdown fence; this covers both without the
// full multi-strategy extraction a richer caller would need.
func parseLiberal(text string, target any) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), target); err == nil {
		return nil
	}

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("modeladapter: no JSON object found in output")
	}
	candidate := trimmed[start : end+1]
	if err := json.Unmarshal([]byte(candidate), target); err != nil {
		return fmt.Errorf("modeladapter: unmarshal extracted JSON: %w", err)
	}
	return nil
}
