package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStudentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var studentColumnNames = []string{"id", "full_name", "school", "room", "approved_pickups", "active", "program", "year", "created_at", "updated_at"}

func TestStudentRepositoryListActive(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows(studentColumnNames).
		AddRow("s-1", "Ada Lovelace", "Lincoln", "2B", "{\"Mary Lovelace\",\"Tom\"}", true, "afterschool", 2, time.Now(), time.Now()).
		AddRow("s-2", "Grace Hopper", "Adams", "3A", "{}", true, "afterschool", 3, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE active = TRUE ORDER BY full_name ASC, id ASC")).WillReturnRows(rows)

	students, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "Ada Lovelace", students[0].FullName)
	assert.Equal(t, []string{"Mary Lovelace", "Tom"}, []string(students[0].ApprovedPickups))
	assert.Empty(t, students[1].ApprovedPickups)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListActiveError(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("FROM students").WillReturnError(errors.New("relation \"students\" does not exist"))

	_, err := repo.ListActive(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list active students")
	assert.NoError(t, mock.ExpectationsWereMet())
}
