package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/dagbolade/agency-guard/internal/monitor"
	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/dagbolade/agency-guard/internal/ratelimit"
	"github.com/spf13/cobra"
)

func newReportCommand(opts *options) *cobra.Command {
	var (
		policyDir string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Rebuild the security report from the audit trail",
		Long: "Replays every stored decision into a fresh ledger and runs anomaly detection\n" +
			"over it. Usage is the number of allowed calls per agent in the trail.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := policy.NewStore(policy.DefaultPolicies()...)
			if err != nil {
				return err
			}
			if policyDir != "" {
				if _, err := policy.LoadInto(store, policyDir); err != nil {
					return err
				}
			}

			sink, err := openSink(opts.dbPath)
			if err != nil {
				return err
			}
			defer sink.Close()

			entries, err := sink.Query(cmd.Context(), audit.Filter{})
			if err != nil {
				return err
			}

			snap, err := replay(cmd, entries, store)
			if err != nil {
				return err
			}
			report := monitor.BuildReport(snap, time.Now().UTC())

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintf(out, "checks %d, allowed %d, denied %d (%.1f%% denied)\n",
				report.Summary.TotalChecks, report.Summary.Allowed, report.Summary.Denied, report.Summary.DenialRate*100)
			for _, a := range report.Anomalies {
				fmt.Fprintf(out, "[%s] %s %s: %s\n", a.Severity, a.Type, a.AgentID, a.Description)
			}
			for _, r := range report.Recommendations {
				fmt.Fprintf(out, "- %s\n", r)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyDir, "policies", "", "policy directory used for session caps")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

// replay feeds entries, newest first as the sink returns them, into an
// in-memory ledger and derives the monitor snapshot.
func replay(cmd *cobra.Command, entries []audit.Entry, store *policy.Store) (monitor.Snapshot, error) {
	ledger := audit.NewLedger()
	usage := make(map[string]ratelimit.State)

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if _, err := ledger.Append(cmd.Context(), e); err != nil {
			return monitor.Snapshot{}, fmt.Errorf("replay entry %d: %w", e.Seq, err)
		}
		if e.Result != audit.ResultAllowed {
			continue
		}
		st := usage[e.AgentID]
		if st.SessionStart.IsZero() {
			st.SessionStart = e.Timestamp
		}
		st.Count++
		st.LastCall = e.Timestamp
		usage[e.AgentID] = st
	}

	return monitor.Snapshot{
		Metrics: ledger.Snapshot(),
		Usage:   usage,
		Caps:    store.Caps(),
	}, nil
}
