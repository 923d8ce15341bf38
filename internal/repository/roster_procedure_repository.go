package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

// RosterProcedureRepository invokes the store-side roster functions.
type RosterProcedureRepository struct {
	db *sqlx.DB
}

// NewRosterProcedureRepository constructs the repository.
func NewRosterProcedureRepository(db *sqlx.DB) *RosterProcedureRepository {
	return &RosterProcedureRepository{db: db}
}

// SetStatus atomically upserts the status row and appends the log entry.
func (r *RosterProcedureRepository) SetStatus(ctx context.Context, rosterDate, studentID string, status models.Status, meta models.LogMeta) error {
	if _, err := r.db.ExecContext(ctx, `SELECT set_roster_status($1, $2, $3, $4)`, rosterDate, studentID, status, meta); err != nil {
		return fmt.Errorf("set_roster_status: %w", err)
	}
	return nil
}

// PrepareDay applies the day's skipped defaults and returns how many rows were created.
func (r *RosterProcedureRepository) PrepareDay(ctx context.Context, rosterDate string) (int, error) {
	var created int
	if err := r.db.GetContext(ctx, &created, `SELECT prepare_roster_day($1)`, rosterDate); err != nil {
		return 0, fmt.Errorf("prepare_roster_day: %w", err)
	}
	return created, nil
}
