//go:build integration

package integration

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testDB    *sql.DB
	testDBURL string
)

// TestMain starts one PostgreSQL container for the whole package
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := setupTestDatabase(ctx)
	if err != nil {
		log.Fatalf("Failed to setup test database: %v", err)
	}

	code := m.Run()

	testDB.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate postgres container: %v", err)
	}

	os.Exit(code)
}

// setupTestDatabase creates a PostgreSQL container and the hub schema
func setupTestDatabase(ctx context.Context) (testcontainers.Container, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "hub_test",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get postgres host: %w", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get postgres port: %w", err)
	}

	testDBURL = fmt.Sprintf("postgres://test:testpass@%s:%s/hub_test?sslmode=disable", host, port.Port())

	testDB, err = sql.Open("postgres", testDBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	for i := 0; i < 30; i++ {
		if err = testDB.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("database never became ready: %w", err)
	}

	if _, err := testDB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create test schema: %w", err)
	}

	return postgres, nil
}

// truncate empties every hub table between tests
func truncate(t *testing.T) {
	t.Helper()
	if _, err := testDB.Exec(`TRUNCATE students, devices, audit_log`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id TEXT PRIMARY KEY,
	hub_id TEXT NOT NULL,
	student_code TEXT NOT NULL UNIQUE,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	parent_email TEXT,
	age INTEGER,
	parental_consent_required BOOLEAN NOT NULL DEFAULT FALSE,
	parental_consent_given BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	last_activity_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
	id TEXT PRIMARY KEY,
	hub_id TEXT NOT NULL,
	device_code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	device_type TEXT,
	status TEXT NOT NULL,
	secret_hash TEXT,
	last_seen_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	user_id TEXT,
	user_type TEXT NOT NULL,
	hub_id TEXT,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	resource_id TEXT,
	details JSONB,
	ip_address TEXT,
	user_agent TEXT,
	success BOOLEAN NOT NULL,
	error_message TEXT,
	compliance_flags TEXT[],
	sensitive_data BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log (timestamp);
`
