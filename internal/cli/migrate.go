package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateResult is the migrate command payload.
type MigrateResult struct {
	Applied int `json:"applied"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply every embedded schema migration not yet recorded in schema_migrations.

Installs the roster tables, the set_roster_status and prepare_roster_day procedures and the
change notification trigger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			backend, err := rootOpts.open(cmd.Context())
			if err != nil {
				return out.Fail("open backend", err)
			}
			defer backend.Close() //nolint:errcheck

			applied, err := backend.Migrate(cmd.Context())
			if err != nil {
				return out.Fail("migrate", err)
			}
			return out.Success(fmt.Sprintf("applied %d migration(s)", applied), MigrateResult{Applied: applied})
		},
	}
}
