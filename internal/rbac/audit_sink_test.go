package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgehub/hubcore/pkg/rbac"
)

func TestPostgresAuditSink_Persist(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewPostgresAuditSink(db)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entry := rbac.AuditLogEntry{
		ID:              "a1",
		Timestamp:       ts,
		UserType:        rbac.UserTypeSystem,
		HubID:           "hub-1",
		Action:          rbac.ActionCreate,
		Resource:        rbac.ResourceStudent,
		ResourceID:      "s1",
		Details:         map[string]interface{}{"age": 10},
		Success:         true,
		ComplianceFlags: []string{rbac.ComplianceCOPPA, rbac.ComplianceGDPR},
		SensitiveData:   true,
	}

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("a1", ts, nil, rbac.UserTypeSystem, "hub-1", rbac.ActionCreate, rbac.ResourceStudent,
			"s1", []byte(`{"age":10}`), nil, nil, true, nil, sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.Persist(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditSink_PersistError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_log").WillReturnError(errors.New("connection reset"))

	err = NewPostgresAuditSink(db).Persist(context.Background(), rbac.AuditLogEntry{ID: "a1"})
	assert.ErrorContains(t, err, "failed to insert audit entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditSink_PruneOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM audit_log WHERE timestamp <").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := NewPostgresAuditSink(db).PruneOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
