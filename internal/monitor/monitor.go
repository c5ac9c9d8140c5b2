package monitor

import (
	"context"
	"time"

	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/dagbolade/agency-guard/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

// Source is the read side of the permission engine.
type Source interface {
	GetMetrics() audit.Metrics
	Usage() map[string]ratelimit.State
	PolicyCaps() map[string]int
}

type Monitor struct {
	source Source
	now    func() time.Time
}

func New(source Source) *Monitor {
	return &Monitor{source: source, now: time.Now}
}

// Snapshot captures the current state of the source.
func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{
		Metrics: m.source.GetMetrics(),
		Usage:   m.source.Usage(),
		Caps:    m.source.PolicyCaps(),
	}
}

func (m *Monitor) DetectAnomalies() []Anomaly {
	return Detect(m.Snapshot())
}

func (m *Monitor) GenerateSecurityReport() Report {
	return BuildReport(m.Snapshot(), m.now())
}

// Watch runs detection every interval until ctx is done and logs what it
// finds. High and critical findings are logged at warn level.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("anomaly monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("anomaly monitor stopped")
			return
		case <-ticker.C:
			m.scan()
		}
	}
}

func (m *Monitor) scan() {
	anomalies := m.DetectAnomalies()
	for _, a := range anomalies {
		ev := log.Info()
		if a.Severity == SeverityHigh || a.Severity == SeverityCritical {
			ev = log.Warn()
		}
		ev.Str("type", a.Type).
			Str("severity", string(a.Severity)).
			Str("agent", a.AgentID).
			Msg(a.Description)
	}
	log.Debug().Int("anomalies", len(anomalies)).Msg("anomaly scan complete")
}
