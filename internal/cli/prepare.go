package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/pickup-roster-api/internal/civil"
)

// PrepareOptions holds flags for the prepare command.
type PrepareOptions struct {
	Date  string
	Force bool
}

// NewPrepareCommand creates the prepare command.
func NewPrepareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PrepareOptions{}

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Apply the day's skipped defaults",
		Long: `Create skipped rows for the roster day unless this device already prepared it or any
row already exists for the day. --force forgets this device's marker first; existing rows
still prevent a second preparation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			backend, err := rootOpts.open(cmd.Context())
			if err != nil {
				return out.Fail("open backend", err)
			}
			defer backend.Close() //nolint:errcheck

			date := opts.Date
			if date == "" {
				date = backend.RosterDate()
			} else if _, err := civil.Parse("00:00", date); err != nil {
				return out.Fail("prepare", invalid(err))
			}

			if opts.Force {
				if err := backend.Preparer.Reset(cmd.Context(), date); err != nil {
					return out.Fail("reset prepare marker", err)
				}
			}
			result, err := backend.Preparer.Prepare(cmd.Context(), date)
			if err != nil {
				return out.Fail("prepare", err)
			}
			text := fmt.Sprintf("%s: %s", result.RosterDate, result.Outcome)
			if result.Created > 0 {
				text = fmt.Sprintf("%s (%d skipped)", text, result.Created)
			}
			return out.Success(text, result)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "roster date YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "forget this device's prepare marker first")

	return cmd
}
