package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dagbolade/agency-guard/internal/policy"
	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Policy file operations",
	}
	cmd.AddCommand(newPolicyValidateCommand())
	return cmd
}

func newPolicyValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Parse and validate every policy file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := policy.LoadDir(args[0])
			if err != nil {
				return err
			}

			// Duplicates across files replace each other at load time.
			seen := make(map[string]bool, len(policies))
			for _, p := range policies {
				if seen[p.AgentID] {
					return fmt.Errorf("agent %s is defined more than once", p.AgentID)
				}
				seen[p.AgentID] = true
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT\tTOOLS\tOPERATIONS\tMAX CALLS\tINTERVAL")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					p.AgentID, strings.Join(p.SortedTools(), ","), joinOps(p.AllowedOperations), p.MaxToolCallsPerSession, p.RateLimit)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d policies valid\n", len(policies))
			return nil
		},
	}
}

func joinOps(ops []policy.Operation) string {
	s := make([]string, len(ops))
	for i, op := range ops {
		s[i] = string(op)
	}
	return strings.Join(s, ",")
}
