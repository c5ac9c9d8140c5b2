// Package monitor scores accumulated permission history for suspicious
// patterns. Detection reads a snapshot and never blocks the engine.
package monitor

import (
	"fmt"
	"sort"

	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/dagbolade/agency-guard/internal/ratelimit"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every level from most to least severe.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

const (
	TypeRepeatedViolations = "repeated_violations"
	TypeExcessiveUsage     = "excessive_tool_usage"
	TypeHighDenialRate     = "high_denial_rate"
	TypeToolTargeting      = "tool_targeting"

	// SystemAgent attributes findings that are not about a single agent.
	SystemAgent = "system"
)

// Detection thresholds.
const (
	violationsMedium   = 5
	violationsHigh     = 10
	violationsCritical = 20

	usageReport = 80.0
	usageMedium = 90.0
	usageHigh   = 95.0

	denialMinChecks = 10
	denialHigh      = 0.3
	denialCritical  = 0.5

	targetingMedium = 5
	targetingHigh   = 10
)

type Anomaly struct {
	Type           string         `json:"anomaly_type"`
	Severity       Severity       `json:"severity"`
	AgentID        string         `json:"agent_id"`
	Description    string         `json:"description"`
	Metrics        map[string]any `json:"metrics"`
	Recommendation string         `json:"recommendation"`
}

// Snapshot is the input to detection: metrics plus the current session state
// and the session caps of governed agents.
type Snapshot struct {
	Metrics audit.Metrics
	Usage   map[string]ratelimit.State
	Caps    map[string]int
}

// Detect runs every detector over s and returns the findings ordered by
// severity. Equal snapshots always yield equal output.
func Detect(s Snapshot) []Anomaly {
	var out []Anomaly
	out = append(out, repeatedViolations(s.Metrics)...)
	out = append(out, excessiveUsage(s.Usage, s.Caps)...)
	out = append(out, highDenialRate(s.Metrics)...)
	out = append(out, toolTargeting(s.Metrics)...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.rank() < out[j].Severity.rank()
	})
	return out
}

func repeatedViolations(m audit.Metrics) []Anomaly {
	var out []Anomaly
	for _, agent := range sortedKeys(m.ViolationsByAgent) {
		n := m.ViolationsByAgent[agent]
		var sev Severity
		switch {
		case n >= violationsCritical:
			sev = SeverityCritical
		case n >= violationsHigh:
			sev = SeverityHigh
		case n >= violationsMedium:
			sev = SeverityMedium
		default:
			continue
		}
		out = append(out, Anomaly{
			Type:           TypeRepeatedViolations,
			Severity:       sev,
			AgentID:        agent,
			Description:    fmt.Sprintf("agent %s has %d permission violations", agent, n),
			Metrics:        map[string]any{"violations": n},
			Recommendation: fmt.Sprintf("Review the behaviour and policy of agent %s; repeated denials suggest a misaligned or compromised agent", agent),
		})
	}
	return out
}

func excessiveUsage(usage map[string]ratelimit.State, caps map[string]int) []Anomaly {
	var out []Anomaly
	for _, agent := range sortedKeys(usage) {
		limit, ok := caps[agent]
		if !ok || limit <= 0 {
			continue
		}
		count := usage[agent].Count
		pct := usagePercent(count, limit)
		if pct < usageReport {
			continue
		}
		sev := SeverityLow
		switch {
		case pct >= usageHigh:
			sev = SeverityHigh
		case pct >= usageMedium:
			sev = SeverityMedium
		}
		out = append(out, Anomaly{
			Type:        TypeExcessiveUsage,
			Severity:    sev,
			AgentID:     agent,
			Description: fmt.Sprintf("agent %s has used %.1f%% of its session limit (%d/%d calls)", agent, pct, count, limit),
			Metrics: map[string]any{
				"tool_calls":    count,
				"max_calls":     limit,
				"usage_percent": pct,
			},
			Recommendation: fmt.Sprintf("Check agent %s for runaway loops before raising its session limit", agent),
		})
	}
	return out
}

func highDenialRate(m audit.Metrics) []Anomaly {
	if m.TotalChecks < denialMinChecks {
		return nil
	}
	rate := m.DenialRate()
	var sev Severity
	switch {
	case rate >= denialCritical:
		sev = SeverityCritical
	case rate >= denialHigh:
		sev = SeverityHigh
	default:
		return nil
	}
	return []Anomaly{{
		Type:        TypeHighDenialRate,
		Severity:    sev,
		AgentID:     SystemAgent,
		Description: fmt.Sprintf("%.1f%% of permission checks were denied (%d/%d)", rate*100, m.Denied, m.TotalChecks),
		Metrics: map[string]any{
			"denial_rate":  rate,
			"denied":       m.Denied,
			"total_checks": m.TotalChecks,
		},
		Recommendation: "Audit policies and agent prompts; a high system-wide denial rate indicates misconfiguration or an active attack",
	}}
}

func toolTargeting(m audit.Metrics) []Anomaly {
	var out []Anomaly
	for _, tool := range sortedKeys(m.ViolationsByTool) {
		n := m.ViolationsByTool[tool]
		var sev Severity
		switch {
		case n >= targetingHigh:
			sev = SeverityHigh
		case n >= targetingMedium:
			sev = SeverityMedium
		default:
			continue
		}
		out = append(out, Anomaly{
			Type:           TypeToolTargeting,
			Severity:       sev,
			AgentID:        SystemAgent,
			Description:    fmt.Sprintf("tool %s was denied %d times", tool, n),
			Metrics:        map[string]any{"tool": tool, "violations": n},
			Recommendation: fmt.Sprintf("Investigate which agents keep requesting %s and why", tool),
		})
	}
	return out
}

func usagePercent(count, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(count) / float64(limit) * 100
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
