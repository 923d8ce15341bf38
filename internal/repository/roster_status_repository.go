package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

// RosterStatusRepository persists the one-row-per-student-per-day current status.
type RosterStatusRepository struct {
	db *sqlx.DB
}

// NewRosterStatusRepository constructs the repository.
func NewRosterStatusRepository(db *sqlx.DB) *RosterStatusRepository {
	return &RosterStatusRepository{db: db}
}

// ListByDate returns every status row for the roster date.
func (r *RosterStatusRepository) ListByDate(ctx context.Context, rosterDate string) ([]models.RosterStatusEntry, error) {
	const query = `SELECT roster_date::text AS roster_date, student_id, current_status, last_update
FROM roster_status
WHERE roster_date = $1
ORDER BY student_id`
	var rows []models.RosterStatusEntry
	if err := r.db.SelectContext(ctx, &rows, query, rosterDate); err != nil {
		return nil, fmt.Errorf("list roster status: %w", err)
	}
	return rows, nil
}

// CountByDate counts status rows for the roster date.
func (r *RosterStatusRepository) CountByDate(ctx context.Context, rosterDate string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM roster_status WHERE roster_date = $1`, rosterDate); err != nil {
		return 0, fmt.Errorf("count roster status: %w", err)
	}
	return total, nil
}

// Upsert writes the status row keyed by (roster_date, student_id); the last write wins.
func (r *RosterStatusRepository) Upsert(ctx context.Context, entry *models.RosterStatusEntry) error {
	if entry.LastUpdate.IsZero() {
		entry.LastUpdate = time.Now().UTC()
	}
	const query = `INSERT INTO roster_status (roster_date, student_id, current_status, last_update)
VALUES ($1, $2, $3, $4)
ON CONFLICT (roster_date, student_id)
DO UPDATE SET current_status = EXCLUDED.current_status, last_update = EXCLUDED.last_update`
	if _, err := r.db.ExecContext(ctx, query, entry.RosterDate, entry.StudentID, entry.CurrentStatus, entry.LastUpdate); err != nil {
		return fmt.Errorf("upsert roster status: %w", err)
	}
	return nil
}
