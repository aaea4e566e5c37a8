package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/edgehub/hubcore/pkg/rbac"
)

// PostgresAuditSink persists audit entries to the audit_log table
type PostgresAuditSink struct {
	db *sql.DB
}

// NewPostgresAuditSink creates a sink writing through db
func NewPostgresAuditSink(db *sql.DB) *PostgresAuditSink {
	return &PostgresAuditSink{db: db}
}

// Persist inserts entry
func (s *PostgresAuditSink) Persist(ctx context.Context, entry rbac.AuditLogEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	query := `
		INSERT INTO audit_log (
			id, timestamp, user_id, user_type, hub_id, action, resource,
			resource_id, details, ip_address, user_agent, success,
			error_message, compliance_flags, sensitive_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		nullString(entry.UserID),
		entry.UserType,
		nullString(entry.HubID),
		entry.Action,
		entry.Resource,
		nullString(entry.ResourceID),
		details,
		nullString(entry.IPAddress),
		nullString(entry.UserAgent),
		entry.Success,
		nullString(entry.ErrorMessage),
		pq.Array(entry.ComplianceFlags),
		entry.SensitiveData,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// PruneOlderThan deletes persisted entries older than cutoff
func (s *PostgresAuditSink) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned row count: %w", err)
	}

	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
