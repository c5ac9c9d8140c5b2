// Package cli implements guardctl, the offline companion to the sidecar: it
// inspects the durable audit trail and validates policy files without a
// running server.
package cli

import (
	"fmt"
	"os"

	"github.com/dagbolade/agency-guard/internal/audit"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type options struct {
	dbPath   string
	logLevel string
}

// NewRootCommand builds the guardctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "guardctl",
		Short:         "Inspect the agency guard audit trail and policies",
		Long:          "Offline tooling for the agency guard: verify and tail the SQLite audit trail,\nvalidate policy files and rebuild the security report from recorded decisions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.dbPath, "db", "./db/audit.db", "path to the SQLite audit database")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newAuditCommand(opts),
		newPolicyCommand(),
		newReportCommand(opts),
	)
	return root
}

// Execute runs guardctl with the process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

// openSink refuses to create a database that does not exist yet.
func openSink(path string) (*audit.SQLiteSink, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}
	return audit.NewSQLiteSink(path)
}
