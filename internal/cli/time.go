package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/pickup-roster-api/internal/civil"
	appErrors "github.com/noah-isme/pickup-roster-api/pkg/errors"
)

// TimeOptions holds flags shared by the time commands.
type TimeOptions struct {
	Zone string
	Date string
}

// TimeResult is the payload of both time conversions.
type TimeResult struct {
	Zone    string    `json:"zone"`
	Civil   string    `json:"civil"`
	Instant time.Time `json:"instant"`
}

// NewTimeCommand creates the time conversion command group. It needs no database.
func NewTimeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TimeOptions{}

	cmd := &cobra.Command{
		Use:   "time",
		Short: "Convert between roster wall-clock times and instants",
	}
	cmd.PersistentFlags().StringVar(&opts.Zone, "zone", civil.DefaultZone, "IANA zone of the wall clock")

	toInstant := &cobra.Command{
		Use:   "to-instant <civil-time>",
		Short: "Convert a wall-clock time to a UTC instant",
		Long: `Convert a wall-clock time to a UTC instant using the zone offset in force at that
moment. Accepts YYYY-MM-DDTHH:MM[:SS] or HH:MM[:SS]; a bare time is placed on --date.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			loc, err := civil.LoadZone(opts.Zone)
			if err != nil {
				return out.Fail("load zone", invalid(err))
			}
			date := opts.Date
			if date == "" {
				date = civil.RosterDate(time.Now(), loc)
			}
			dt, err := civil.Parse(args[0], date)
			if err != nil {
				return out.Fail("parse civil time", invalid(err))
			}
			instant := civil.ToInstant(dt, loc)
			result := TimeResult{Zone: loc.String(), Civil: dt.String(), Instant: instant}
			return out.Success(instant.Format(time.RFC3339), result)
		},
	}
	toInstant.Flags().StringVar(&opts.Date, "date", "", "date for a bare time of day (default today)")

	toLocal := &cobra.Command{
		Use:   "to-local <rfc3339-instant>",
		Short: "Render an instant as wall-clock time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			loc, err := civil.LoadZone(opts.Zone)
			if err != nil {
				return out.Fail("load zone", invalid(err))
			}
			instant, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return out.Fail("parse instant", invalid(err))
			}
			dt := civil.FromInstant(instant, loc)
			result := TimeResult{Zone: loc.String(), Civil: dt.String(), Instant: instant.UTC()}
			return out.Success(dt.String(), result)
		},
	}

	cmd.AddCommand(toInstant, toLocal)
	return cmd
}

func invalid(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
}
