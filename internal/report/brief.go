package report

import (
	"fmt"
	"sort"
	"strings"
)

// AgentBrief is the machine-readable summary written by `summarize` as
// agent-brief.json, alongside a human Markdown rendering (agent-brief.md).
type AgentBrief struct {
	RunID         string         `json:"run_id"`
	Mode          string         `json:"mode"`
	Status        Status         `json:"status"`
	TotalFindings int            `json:"total_findings"`
	ByGate        map[string]int `json:"by_gate"`
	BySeverity    map[string]int `json:"by_severity"`
	TopFindings   []Finding      `json:"top_findings"`
	GeneratedAt   string         `json:"generated_at"`
}

// maxTopFindings bounds how many findings are surfaced in the brief's
// top_findings list, favoring critical severity and then gate order.
const maxTopFindings = 10

// BuildAgentBrief reduces a FailuresReport into its brief form.
func BuildAgentBrief(fr *FailuresReport, generatedAt string) *AgentBrief {
	byGate := map[string]int{}
	for g, n := range fr.CountsByGate() {
		byGate[string(g)] = n
	}
	bySeverity := map[string]int{}
	for s, n := range fr.CountsBySeverity() {
		bySeverity[string(s)] = n
	}

	top := make([]Finding, len(fr.Findings))
	copy(top, fr.Findings)
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Severity != top[j].Severity {
			return top[i].Severity == SeverityCritical
		}
		return top[i].Gate < top[j].Gate
	})
	if len(top) > maxTopFindings {
		top = top[:maxTopFindings]
	}

	return &AgentBrief{
		RunID:         fr.RunID,
		Mode:          fr.Mode,
		Status:        fr.Status,
		TotalFindings: len(fr.Findings),
		ByGate:        byGate,
		BySeverity:    bySeverity,
		TopFindings:   top,
		GeneratedAt:   generatedAt,
	}
}

// Markdown renders the brief as a human-readable Markdown document.
func (b *AgentBrief) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# quick-gate agent brief\n\n")
	fmt.Fprintf(&sb, "- run: `%s`\n", b.RunID)
	fmt.Fprintf(&sb, "- mode: `%s`\n", b.Mode)
	fmt.Fprintf(&sb, "- status: **%s**\n", b.Status)
	fmt.Fprintf(&sb, "- total findings: %d\n\n", b.TotalFindings)

	if len(b.ByGate) > 0 {
		sb.WriteString("## By gate\n\n")
		gates := make([]string, 0, len(b.ByGate))
		for g := range b.ByGate {
			gates = append(gates, g)
		}
		sort.Strings(gates)
		for _, g := range gates {
			fmt.Fprintf(&sb, "- %s: %d\n", g, b.ByGate[g])
		}
		sb.WriteString("\n")
	}

	if len(b.TopFindings) > 0 {
		sb.WriteString("## Top findings\n\n")
		sb.WriteString("| id | gate | severity | summary |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, f := range b.TopFindings {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", f.ID, f.Gate, f.Severity, escapeMarkdownCell(f.Summary))
		}
	}
	return sb.String()
}

func escapeMarkdownCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
