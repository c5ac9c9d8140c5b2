package monitor

import (
	"time"

	"github.com/dagbolade/agency-guard/internal/audit"
)

type Report struct {
	GeneratedAt     time.Time                `json:"generated_at"`
	Summary         Summary                  `json:"summary"`
	Anomalies       []Anomaly                `json:"anomalies"`
	SeverityCounts  map[Severity]int         `json:"severity_counts"`
	Metrics         audit.Metrics            `json:"metrics"`
	Recommendations []string                 `json:"recommendations"`
	Effectiveness   Effectiveness            `json:"effectiveness"`
	AgentBehavior   map[string]AgentBehavior `json:"agent_behavior"`
}

type Summary struct {
	TotalChecks      int     `json:"total_checks"`
	Allowed          int     `json:"allowed"`
	Denied           int     `json:"denied"`
	DenialRate       float64 `json:"denial_rate"`
	ApprovalRequests int     `json:"approval_requests"`
	GovernedAgents   int     `json:"governed_agents"`
	AnomalyCount     int     `json:"anomaly_count"`
}

type Effectiveness struct {
	EnforcementActive bool    `json:"enforcement_active"`
	GovernedAgents    int     `json:"governed_agents"`
	TotalBlocked      int     `json:"total_blocked"`
	BlockRate         float64 `json:"block_rate"`
}

type Status string

const (
	StatusCompliant  Status = "compliant"
	StatusConcerning Status = "concerning"
)

type AgentBehavior struct {
	Status       Status   `json:"status"`
	RiskTier     Severity `json:"risk_tier"`
	Violations   int      `json:"violations"`
	ToolCalls    int      `json:"tool_calls"`
	UsagePercent float64  `json:"usage_percent"`
}

const (
	compliantBelow = 3

	// Generic guidance kicks in above this denial rate.
	guidanceDenialRate = 0.1

	recommendDenials   = "Review agent policies: more than 10% of permission checks are being denied"
	recommendApprovals = "Review tools that require approval and confirm each flagged call was expected"
)

// BuildReport composes a security report from s. It is a pure function of its
// arguments.
func BuildReport(s Snapshot, at time.Time) Report {
	anomalies := Detect(s)

	counts := make(map[Severity]int, 4)
	for _, sev := range Severities() {
		counts[sev] = 0
	}
	for _, a := range anomalies {
		counts[a.Severity]++
	}

	rate := s.Metrics.DenialRate()
	return Report{
		GeneratedAt: at.UTC(),
		Summary: Summary{
			TotalChecks:      s.Metrics.TotalChecks,
			Allowed:          s.Metrics.Allowed,
			Denied:           s.Metrics.Denied,
			DenialRate:       rate,
			ApprovalRequests: s.Metrics.ApprovalRequests,
			GovernedAgents:   len(s.Caps),
			AnomalyCount:     len(anomalies),
		},
		Anomalies:       anomalies,
		SeverityCounts:  counts,
		Metrics:         s.Metrics,
		Recommendations: recommendations(anomalies, s.Metrics),
		Effectiveness: Effectiveness{
			EnforcementActive: len(s.Caps) > 0,
			GovernedAgents:    len(s.Caps),
			TotalBlocked:      s.Metrics.Denied,
			BlockRate:         rate,
		},
		AgentBehavior: behavior(s),
	}
}

func recommendations(anomalies []Anomaly, m audit.Metrics) []string {
	out := []string{}
	seen := make(map[string]bool)
	add := func(r string) {
		if r == "" || seen[r] {
			return
		}
		seen[r] = true
		out = append(out, r)
	}

	for _, a := range anomalies {
		if a.Severity == SeverityHigh || a.Severity == SeverityCritical {
			add(a.Recommendation)
		}
	}
	if m.DenialRate() > guidanceDenialRate {
		add(recommendDenials)
	}
	if m.ApprovalRequests > 0 {
		add(recommendApprovals)
	}
	return out
}

func behavior(s Snapshot) map[string]AgentBehavior {
	agents := make(map[string]struct{})
	for id := range s.Caps {
		agents[id] = struct{}{}
	}
	for id := range s.Usage {
		agents[id] = struct{}{}
	}
	for id := range s.Metrics.ViolationsByAgent {
		agents[id] = struct{}{}
	}

	out := make(map[string]AgentBehavior, len(agents))
	for id := range agents {
		violations := s.Metrics.ViolationsByAgent[id]
		calls := s.Usage[id].Count
		pct := usagePercent(calls, s.Caps[id])

		status := StatusConcerning
		if violations < compliantBelow {
			status = StatusCompliant
		}
		out[id] = AgentBehavior{
			Status:       status,
			RiskTier:     riskTier(violations, pct),
			Violations:   violations,
			ToolCalls:    calls,
			UsagePercent: pct,
		}
	}
	return out
}

// riskTier takes the worse of the violation tier and the usage tier.
func riskTier(violations int, usagePct float64) Severity {
	switch {
	case violations >= 20 || usagePct >= 95:
		return SeverityCritical
	case violations >= 10 || usagePct >= 90:
		return SeverityHigh
	case violations >= 3 || usagePct >= 80:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
