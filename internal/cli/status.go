package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/noah-isme/pickup-roster-api/internal/civil"
	"github.com/noah-isme/pickup-roster-api/internal/models"
	"github.com/noah-isme/pickup-roster-api/internal/roster"
	"github.com/noah-isme/pickup-roster-api/internal/service"
	appErrors "github.com/noah-isme/pickup-roster-api/pkg/errors"
)

// StatusSetOptions holds flags for status set.
type StatusSetOptions struct {
	PickupPerson string
	Override     string
	PickupTime   string
	Source       string
}

// NewStatusCommand creates the status command group.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect and change today's roster",
	}
	cmd.AddCommand(newStatusSetCommand(rootOpts))
	cmd.AddCommand(newStatusListCommand(rootOpts))
	return cmd
}

func newStatusSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusSetOptions{}

	cmd := &cobra.Command{
		Use:   "set <student-id> <status>",
		Short: "Move a student to a new status",
		Long: `Apply one status transition through the same engine the API uses.

Status is one of not_picked, picked, arrived, checked or skipped. Checking out requires
--pickup-person. --pickup-time takes a wall-clock time in the roster zone, either HH:MM or
YYYY-MM-DDTHH:MM.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			backend, err := rootOpts.open(cmd.Context())
			if err != nil {
				return out.Fail("open backend", err)
			}
			defer backend.Close() //nolint:errcheck

			engine, _, err := loadDay(cmd.Context(), backend)
			if err != nil {
				return out.Fail("load roster", err)
			}
			change, err := engine.SetStatus(cmd.Context(), service.StatusRequest{
				StudentID:    args[0],
				Status:       models.Status(strings.ToLower(strings.TrimSpace(args[1]))),
				PickupPerson: opts.PickupPerson,
				Override:     opts.Override,
				PickupTime:   opts.PickupTime,
				Source:       opts.Source,
			})
			if err != nil {
				return out.Fail("set status", err)
			}
			local := civil.FromInstant(change.DisplayAt, backend.Location)
			text := fmt.Sprintf("%s: %s -> %s at %02d:%02d (%s)",
				change.StudentID, change.Previous, change.Status, local.Hour, local.Minute, change.WritePath)
			return out.Success(text, change)
		},
	}

	cmd.Flags().StringVar(&opts.PickupPerson, "pickup-person", "", "adult collecting the student (required for checked)")
	cmd.Flags().StringVar(&opts.Override, "override", "", "pickup person not on the approved list")
	cmd.Flags().StringVar(&opts.PickupTime, "pickup-time", "", "wall-clock pickup time in the roster zone")
	cmd.Flags().StringVar(&opts.Source, "source", "cli", "origin recorded in the log meta")

	return cmd
}

func newStatusListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show today's roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			backend, err := rootOpts.open(cmd.Context())
			if err != nil {
				return out.Fail("open backend", err)
			}
			defer backend.Close() //nolint:errcheck

			_, state, err := loadDay(cmd.Context(), backend)
			if err != nil {
				return out.Fail("load roster", err)
			}
			snapshot := state.Snapshot()
			return out.Success(renderSnapshot(snapshot, backend), snapshot)
		},
	}
}

// loadDay builds today's state from the store and an engine over it.
func loadDay(ctx context.Context, backend *Backend) (*service.RosterEngine, *roster.State, error) {
	date := backend.RosterDate()
	state := roster.New(date, nil)
	syncer := service.NewRosterSync(state, backend.Store.Students, backend.Store.Statuses, backend.Store.Logs, nil, nil, backend.Logger)
	if err := syncer.Resync(ctx, service.ResyncManual); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "roster could not be loaded")
	}
	engine := service.NewRosterEngine(state, backend.Store.Procedures, backend.Store.Statuses, backend.Store.Logs, backend.Policy, backend.Location, nil, backend.Logger)
	return engine, state, nil
}

func renderSnapshot(snapshot models.RosterSnapshot, backend *Backend) string {
	var b strings.Builder
	fmt.Fprintf(&b, "roster %s\n", snapshot.RosterDate)
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROOM\tSTATUS\tTIME")
	for _, row := range snapshot.Rows {
		at := "-"
		if row.DisplayAt != nil {
			local := civil.FromInstant(*row.DisplayAt, backend.Location)
			at = fmt.Sprintf("%02d:%02d", local.Hour, local.Minute)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.Student.ID, row.Student.FullName, row.Student.Room, row.Status, at)
	}
	_ = w.Flush()
	return strings.TrimRight(b.String(), "\n")
}
