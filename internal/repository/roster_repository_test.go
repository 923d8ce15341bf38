package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

func TestRosterStatusRepositoryListByDate(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterStatusRepository(db)

	at := time.Date(2026, time.October, 19, 19, 10, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT roster_date::text AS roster_date, student_id, current_status, last_update\nFROM roster_status\nWHERE roster_date = $1")).
		WithArgs("2026-10-19").
		WillReturnRows(sqlmock.NewRows([]string{"roster_date", "student_id", "current_status", "last_update"}).
			AddRow("2026-10-19", "s-1", "checked", at).
			AddRow("2026-10-19", "s-2", "picked", at))

	rows, err := repo.ListByDate(context.Background(), "2026-10-19")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.StatusChecked, rows[0].CurrentStatus)
	assert.Equal(t, at, rows[1].LastUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterStatusRepositoryCountByDate(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterStatusRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM roster_status WHERE roster_date = $1")).
		WithArgs("2026-10-19").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	total, err := repo.CountByDate(context.Background(), "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterStatusRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterStatusRepository(db)

	mock.ExpectExec("INSERT INTO roster_status .* ON CONFLICT \\(roster_date, student_id\\)").
		WithArgs("2026-10-19", "s-1", models.StatusPicked, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &models.RosterStatusEntry{RosterDate: "2026-10-19", StudentID: "s-1", CurrentStatus: models.StatusPicked}
	require.NoError(t, repo.Upsert(context.Background(), entry))
	assert.False(t, entry.LastUpdate.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterStatusRepositoryUpsertError(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterStatusRepository(db)

	mock.ExpectExec("INSERT INTO roster_status").WillReturnError(errors.New("connection refused"))

	err := repo.Upsert(context.Background(), &models.RosterStatusEntry{RosterDate: "2026-10-19", StudentID: "s-1", CurrentStatus: models.StatusPicked})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert roster status")
}

func TestRosterLogRepositoryAppend(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterLogRepository(db)

	mock.ExpectQuery("INSERT INTO roster_log .* RETURNING id").
		WithArgs("2026-10-19", "s-1", models.StatusChecked, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	entry := &models.LogEntry{RosterDate: "2026-10-19", StudentID: "s-1", Action: models.StatusChecked, Meta: models.LogMeta{PickupPerson: "Mary"}}
	require.NoError(t, repo.Append(context.Background(), entry))
	assert.Equal(t, int64(42), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterLogRepositoryEarliestAt(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterLogRepository(db)

	first := time.Date(2026, time.October, 19, 11, 40, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT at FROM roster_log .* ORDER BY at ASC\\s+LIMIT 1").
		WithArgs("2026-10-19", "s-1", models.StatusArrived).
		WillReturnRows(sqlmock.NewRows([]string{"at"}).AddRow(first))

	at, err := repo.EarliestAt(context.Background(), "2026-10-19", "s-1", models.StatusArrived)
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, first, *at)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterLogRepositoryEarliestAtNone(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterLogRepository(db)

	mock.ExpectQuery("SELECT at FROM roster_log").
		WithArgs("2026-10-19", "s-1", models.StatusPicked).
		WillReturnError(sql.ErrNoRows)

	at, err := repo.EarliestAt(context.Background(), "2026-10-19", "s-1", models.StatusPicked)
	require.NoError(t, err)
	assert.Nil(t, at)
}

func TestRosterLogRepositoryPickedSinceReset(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterLogRepository(db)

	mock.ExpectQuery(`GROUP BY student_id\s+HAVING MAX\(id\) FILTER \(WHERE action = \$2\) > COALESCE\(MAX\(id\) FILTER \(WHERE action = \$3\), 0\)`).
		WithArgs("2026-10-19", models.StatusPicked, models.StatusNotPicked).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("s-1").AddRow("s-3"))

	ids, err := repo.PickedSinceReset(context.Background(), "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1", "s-3"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterLogRepositoryPickedSinceResetError(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterLogRepository(db)

	mock.ExpectQuery("FROM roster_log").WillReturnError(errors.New("conn reset"))

	_, err := repo.PickedSinceReset(context.Background(), "2026-10-19")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "picked since reset")
}

func TestRosterLogRepositoryListForStudent(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterLogRepository(db)

	at := time.Date(2026, time.October, 19, 11, 5, 0, 0, time.UTC)
	mock.ExpectQuery("FROM roster_log\\s+WHERE roster_date = \\$1 AND student_id = \\$2").
		WithArgs("2026-10-19", "s-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "roster_date", "student_id", "action", "at", "meta"}).
			AddRow(1, "2026-10-19", "s-1", "picked", at, []byte(`{"prev_status":"not_picked","source":"bus"}`)))

	entries, err := repo.ListForStudent(context.Background(), "2026-10-19", "s-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusNotPicked, entries[0].Meta.PrevStatus)
	assert.Equal(t, "bus", entries[0].Meta.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterProcedureRepositorySetStatus(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterProcedureRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("SELECT set_roster_status($1, $2, $3, $4)")).
		WithArgs("2026-10-19", "s-1", models.StatusChecked, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetStatus(context.Background(), "2026-10-19", "s-1", models.StatusChecked, models.LogMeta{PickupPerson: "Mary"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterProcedureRepositorySetStatusError(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterProcedureRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("SELECT set_roster_status($1, $2, $3, $4)")).
		WillReturnError(errors.New("function set_roster_status does not exist"))

	err := repo.SetStatus(context.Background(), "2026-10-19", "s-1", models.StatusPicked, models.LogMeta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set_roster_status")
}

func TestRosterProcedureRepositoryPrepareDay(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewRosterProcedureRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT prepare_roster_day($1)")).
		WithArgs("2026-10-19").
		WillReturnRows(sqlmock.NewRows([]string{"prepare_roster_day"}).AddRow(3))

	created, err := repo.PrepareDay(context.Background(), "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 3, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}
