package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/spf13/cobra"
)

func newAuditCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail operations",
	}
	cmd.AddCommand(newAuditVerifyCommand(opts), newAuditTailCommand(opts))
	return cmd
}

func newAuditVerifyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain of the audit trail",
		Long:  "Walks every stored entry from genesis and checks sequence numbers, prev_hash\nlinks and entry hashes. Exits non-zero when the chain is broken.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := openSink(opts.dbPath)
			if err != nil {
				return err
			}
			defer sink.Close()

			ctx := cmd.Context()
			if err := sink.Verify(ctx); err != nil {
				return fmt.Errorf("audit trail invalid: %w", err)
			}

			seq, hash, err := sink.Tail(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified, head %s\n", seq, hash)
			return nil
		},
	}
}

func newAuditTailCommand(opts *options) *cobra.Command {
	var (
		lines   int
		agentID string
		result  string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := audit.Filter{AgentID: agentID, Result: audit.Result(result), Limit: lines}
			if f.Result != "" && !f.Result.Valid() {
				return fmt.Errorf("result must be allowed or denied, got %q", result)
			}

			sink, err := openSink(opts.dbPath)
			if err != nil {
				return err
			}
			defer sink.Close()

			entries, err := sink.Query(cmd.Context(), f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			// Oldest first, like a log tail.
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				if asJSON {
					data, err := json.Marshal(e)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
					continue
				}
				fmt.Fprintf(out, "%6d %s %-7s %s %s/%s: %s\n",
					e.Seq, e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Result, e.AgentID, e.ToolName, e.Operation, e.Reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "number of entries to show (0 for all)")
	cmd.Flags().StringVar(&agentID, "agent", "", "only entries for this agent")
	cmd.Flags().StringVar(&result, "result", "", "only allowed or denied entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON lines")
	return cmd
}
