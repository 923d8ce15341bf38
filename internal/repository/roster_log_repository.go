package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

// RosterLogRepository appends to and queries the transition audit log.
type RosterLogRepository struct {
	db *sqlx.DB
}

// NewRosterLogRepository constructs the repository.
func NewRosterLogRepository(db *sqlx.DB) *RosterLogRepository {
	return &RosterLogRepository{db: db}
}

// Append inserts a log entry and fills in its generated id.
func (r *RosterLogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	const query = `INSERT INTO roster_log (roster_date, student_id, action, at, meta)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, entry.RosterDate, entry.StudentID, entry.Action, entry.At, entry.Meta).Scan(&entry.ID); err != nil {
		return fmt.Errorf("append roster log: %w", err)
	}
	return nil
}

// EarliestAt returns when the student first reached action on the roster date, or nil if never.
func (r *RosterLogRepository) EarliestAt(ctx context.Context, rosterDate, studentID string, action models.Status) (*time.Time, error) {
	const query = `SELECT at FROM roster_log
WHERE roster_date = $1 AND student_id = $2 AND action = $3
ORDER BY at ASC
LIMIT 1`
	var at time.Time
	if err := r.db.GetContext(ctx, &at, query, rosterDate, studentID, action); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("earliest roster log: %w", err)
	}
	return &at, nil
}

// PickedSinceReset lists students whose latest picked entry comes after their latest not_picked entry.
func (r *RosterLogRepository) PickedSinceReset(ctx context.Context, rosterDate string) ([]string, error) {
	const query = `SELECT student_id FROM roster_log
WHERE roster_date = $1 AND action IN ($2, $3)
GROUP BY student_id
HAVING MAX(id) FILTER (WHERE action = $2) > COALESCE(MAX(id) FILTER (WHERE action = $3), 0)
ORDER BY student_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, rosterDate, models.StatusPicked, models.StatusNotPicked); err != nil {
		return nil, fmt.Errorf("picked since reset: %w", err)
	}
	return ids, nil
}

// ListForStudent returns a student's log for the day, oldest first.
func (r *RosterLogRepository) ListForStudent(ctx context.Context, rosterDate, studentID string) ([]models.LogEntry, error) {
	const query = `SELECT id, roster_date::text AS roster_date, student_id, action, at, meta
FROM roster_log
WHERE roster_date = $1 AND student_id = $2
ORDER BY at ASC, id ASC`
	var rows []models.LogEntry
	if err := r.db.SelectContext(ctx, &rows, query, rosterDate, studentID); err != nil {
		return nil, fmt.Errorf("list roster log: %w", err)
	}
	return rows, nil
}
