package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgehub/hubcore/pkg/codegen"
	"github.com/edgehub/hubcore/pkg/types"
)

var studentCols = []string{
	"id", "hub_id", "student_code", "first_name", "last_name", "parent_email", "age",
	"parental_consent_required", "parental_consent_given", "status", "last_activity_at",
	"created_at", "updated_at",
}

func TestPostgresStudentRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresStudentRepository(db)
	age := 10
	s := &types.Student{
		ID:                      "s1",
		HubID:                   "hub-1",
		StudentCode:             "ABC7",
		FirstName:               "v1:n:c",
		LastName:                "v1:n:d",
		Age:                     &age,
		ParentalConsentRequired: true,
		Status:                  types.StudentStatusActive,
	}

	mock.ExpectExec("INSERT INTO students").
		WithArgs("s1", "hub-1", "ABC7", "v1:n:c", "v1:n:d", nil, int64(10), true, false, "active",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), s))
	assert.False(t, s.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStudentRepository_CreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO students").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err = NewPostgresStudentRepository(db).Create(context.Background(), &types.Student{StudentCode: "ABC7"})
	assert.ErrorIs(t, err, codegen.ErrDuplicateCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStudentRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresStudentRepository(db)
	ts := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(studentCols).
			AddRow("s1", "hub-1", "ABC7", "v1:a:b", "v1:c:d", nil, 9, true, true, "active", ts, ts, ts))

	s, err := repo.GetByID(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, s.Age)
	assert.Equal(t, 9, *s.Age)
	assert.Empty(t, s.ParentEmail)
	assert.Equal(t, types.StudentStatusActive, s.Status)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStudentRepository_ListAndCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresStudentRepository(db)
	ts := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM students").
		WithArgs("hub-1", "", 50, 0).
		WillReturnRows(sqlmock.NewRows(studentCols).
			AddRow("s1", "hub-1", "ABC7", "t1", "t2", "t3", nil, false, false, "active", ts, ts, ts).
			AddRow("s2", "hub-1", "ABC8", "t1", "t2", nil, 14, false, false, "inactive", ts, ts, ts))

	students, err := repo.List(context.Background(), &types.StudentFilters{HubID: "hub-1", Limit: 50})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Nil(t, students[0].Age)
	assert.Equal(t, "t3", students[0].ParentEmail)

	mock.ExpectQuery("SELECT status, COUNT").
		WithArgs("hub-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("active", 3).AddRow("inactive", 1))

	counts, err := repo.CountByStatus(context.Background(), "hub-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"active": 3, "inactive": 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStudentRepository_DeleteMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM students").WithArgs("s9").WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPostgresStudentRepository(db).Delete(context.Background(), "s9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeviceRepository_FindByCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "hub_id", "device_code", "name", "device_type", "status", "secret_hash",
		"last_seen_at", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM devices WHERE device_code = $1")).
		WithArgs("K7M2P9").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("d1", "hub-1", "K7M2P9", "Tablet", "tablet", "active", "$argon2id$stub", ts, ts, ts))

	d, err := NewPostgresDeviceRepository(db).FindByCode(context.Background(), "K7M2P9")
	require.NoError(t, err)
	assert.Equal(t, types.DeviceStatusActive, d.Status)
	require.NotNil(t, d.LastSeenAt)
	assert.Equal(t, ts, *d.LastSeenAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeviceRepository_CodeExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("K7M2P9").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := NewPostgresDeviceRepository(db).CodeExists(context.Background(), "K7M2P9")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
