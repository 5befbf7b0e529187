// Package lighthouse parses the assertion-results artifact produced by a
// Lighthouse-style runtime audit tool into per-route, per-metric findings,
// attributing each failure to the threshold that triggered it. Finding ids
// are a fixed slug of the (route, metric) pair, stable across reruns.
package lighthouse

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/quick-gate/quickgate/internal/report"
	"github.com/quick-gate/quickgate/internal/schema"
)

// AssertionResult is one row of the assertion-results artifact.
type AssertionResult struct {
	Passed        bool    `json:"passed"`
	URL           string  `json:"url"`
	Assertion     string  `json:"assertion"`
	NumericValue  *float64 `json:"numericValue,omitempty"`
	Expected      any     `json:"expected,omitempty"`
	Message       string  `json:"message,omitempty"`
	Level         string  `json:"level,omitempty"`
	AuditProperty string  `json:"auditProperty,omitempty"`
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnum.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "unknown"
	}
	return s
}

// routeOf extracts the path component of a URL, stripping any query string,
// and falls back to "/" when the URL has no parseable path.
func routeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

var categoryAssertion = regexp.MustCompile(`^categories:(.+)$`)

// attributeThreshold resolves threshold_source following the first-match-wins
// order: the assertion's own expected value, a category match in config
// thresholds, an exact metric key match, or unknown.
func attributeThreshold(a AssertionResult, thresholds map[string]float64) (source string, value string) {
	if a.Expected != nil {
		return "assertion_expected", fmt.Sprint(a.Expected)
	}
	if m := categoryAssertion.FindStringSubmatch(a.Assertion); m != nil {
		name := m[1]
		if thr, ok := thresholds[name]; ok {
			return "config_category:" + name, strconv.FormatFloat(thr, 'g', -1, 64)
		}
	}
	if thr, ok := thresholds[a.Assertion]; ok {
		return "config_metric:" + a.Assertion, strconv.FormatFloat(thr, 'g', -1, 64)
	}
	return "unknown", "n/a"
}

func actualValue(a AssertionResult) string {
	if a.NumericValue != nil {
		return strconv.FormatFloat(*a.NumericValue, 'g', -1, 64)
	}
	if a.Message != "" {
		return a.Message
	}
	return ""
}

// findingID builds the fixed lh_<slug(route)>_<slug(metric)> id. It need not
// be unique across all time but must stay stable for a fixed (route, metric)
// pair regardless of how that pair's threshold is attributed.
func findingID(route, metric string) string {
	return fmt.Sprintf("lh_%s_%s", slug(route), slug(metric))
}

// ExtractFromFile reads the assertion-results artifact at path and returns a
// finding per failing assertion. A missing artifact is reported as an error
// so the caller can fall back to an exit-code finding.
func ExtractFromFile(path string, thresholds map[string]float64) ([]report.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Extract(data, thresholds)
}

// Extract parses raw assertion-results JSON and returns a finding per failing
// assertion. The artifact is schema-validated before extraction since it is
// untrusted external output.
func Extract(data []byte, thresholds map[string]float64) ([]report.Finding, error) {
	if err := schema.Validate(schema.KindLighthouse, data); err != nil {
		return nil, fmt.Errorf("lighthouse: assertion-results failed schema validation: %w", err)
	}
	var results []AssertionResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("lighthouse: decode assertion-results: %w", err)
	}

	var findings []report.Finding
	for _, a := range results {
		if a.Passed {
			continue
		}
		route := routeOf(a.URL)
		metric := a.Assertion
		source, threshold := attributeThreshold(a, thresholds)
		findings = append(findings, report.Finding{
			ID:        findingID(route, metric),
			Gate:      report.GateLighthouse,
			Severity:  report.SeverityHigh,
			Summary:   summaryFor(a),
			Files:     []string{},
			Route:     route,
			Metric:    metric,
			Actual:    actualValue(a),
			Threshold: threshold,
			Status:    report.StatusFail,
			Raw: report.RawTrace{
				ThresholdSource: source,
			},
		})
	}
	return findings, nil
}

func summaryFor(a AssertionResult) string {
	if a.Message != "" {
		return a.Message
	}
	return fmt.Sprintf("lighthouse assertion failed: %s", a.Assertion)
}
