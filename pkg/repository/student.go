package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edgehub/hubcore/pkg/types"
)

const studentColumns = `id, hub_id, student_code, first_name, last_name, parent_email, age,
	parental_consent_required, parental_consent_given, status, last_activity_at,
	created_at, updated_at`

// PostgresStudentRepository stores students in PostgreSQL. Name and email
// columns receive ciphertext tokens only.
type PostgresStudentRepository struct {
	db *sql.DB
}

// NewPostgresStudentRepository creates a new student repository
func NewPostgresStudentRepository(db *sql.DB) *PostgresStudentRepository {
	return &PostgresStudentRepository{db: db}
}

// Create inserts a student row. A taken student code yields ErrDuplicateCode.
func (r *PostgresStudentRepository) Create(ctx context.Context, student *types.Student) error {
	if student.ID == "" {
		student.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	if student.LastActivityAt.IsZero() {
		student.LastActivityAt = now
	}

	query := `
		INSERT INTO students (` + studentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		student.ID,
		student.HubID,
		student.StudentCode,
		student.FirstName,
		student.LastName,
		nullString(student.ParentEmail),
		nullInt(student.Age),
		student.ParentalConsentRequired,
		student.ParentalConsentGiven,
		string(student.Status),
		student.LastActivityAt,
		student.CreatedAt,
		student.UpdatedAt,
	)
	return translateError("create student", err)
}

// GetByID retrieves a student by ID
func (r *PostgresStudentRepository) GetByID(ctx context.Context, studentID string) (*types.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	s, err := scanStudent(r.db.QueryRowContext(ctx, query, studentID))
	if err != nil {
		return nil, translateError("get student", err)
	}
	return s, nil
}

// FindByCode retrieves a student by student code
func (r *PostgresStudentRepository) FindByCode(ctx context.Context, code string) (*types.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE student_code = $1`
	s, err := scanStudent(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		return nil, translateError("find student", err)
	}
	return s, nil
}

// CodeExists reports whether a student code is assigned
func (r *PostgresStudentRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM students WHERE student_code = $1)`, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check student code: %w", err)
	}
	return exists, nil
}

// List retrieves students matching filters ordered by creation time
func (r *PostgresStudentRepository) List(ctx context.Context, filters *types.StudentFilters) ([]*types.Student, error) {
	if filters == nil {
		filters = &types.StudentFilters{}
	}

	query := `
		SELECT ` + studentColumns + `
		FROM students
		WHERE ($1 = '' OR hub_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at, id
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query,
		filters.HubID, string(filters.Status), limitOrAll(filters.Limit), filters.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	return collectStudents(rows)
}

// ListInactiveSince retrieves students whose last activity precedes cutoff
func (r *PostgresStudentRepository) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]*types.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE last_activity_at < $1`
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list inactive students: %w", err)
	}
	defer rows.Close()

	return collectStudents(rows)
}

// Update writes the mutable student columns
func (r *PostgresStudentRepository) Update(ctx context.Context, student *types.Student) error {
	student.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE students
		SET first_name = $2, last_name = $3, parent_email = $4, age = $5,
		    parental_consent_required = $6, parental_consent_given = $7,
		    status = $8, last_activity_at = $9, updated_at = $10
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		student.ID,
		student.FirstName,
		student.LastName,
		nullString(student.ParentEmail),
		nullInt(student.Age),
		student.ParentalConsentRequired,
		student.ParentalConsentGiven,
		string(student.Status),
		student.LastActivityAt,
		student.UpdatedAt,
	)
	if err != nil {
		return translateError("update student", err)
	}
	return requireAffected(res, "update student")
}

// Delete removes a student row
func (r *PostgresStudentRepository) Delete(ctx context.Context, studentID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, studentID)
	if err != nil {
		return translateError("delete student", err)
	}
	return requireAffected(res, "delete student")
}

// CountByStatus counts students per status, optionally scoped to hubID
func (r *PostgresStudentRepository) CountByStatus(ctx context.Context, hubID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM students WHERE ($1 = '' OR hub_id = $1) GROUP BY status`, hubID)
	if err != nil {
		return nil, fmt.Errorf("failed to count students: %w", err)
	}
	defer rows.Close()

	return collectCounts(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStudent(row rowScanner) (*types.Student, error) {
	var (
		s           types.Student
		parentEmail sql.NullString
		age         sql.NullInt64
		status      string
	)

	err := row.Scan(
		&s.ID,
		&s.HubID,
		&s.StudentCode,
		&s.FirstName,
		&s.LastName,
		&parentEmail,
		&age,
		&s.ParentalConsentRequired,
		&s.ParentalConsentGiven,
		&status,
		&s.LastActivityAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ParentEmail = parentEmail.String
	s.Status = types.StudentStatus(status)
	if age.Valid {
		v := int(age.Int64)
		s.Age = &v
	}
	return &s, nil
}

func collectStudents(rows *sql.Rows) ([]*types.Student, error) {
	var students []*types.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate students: %w", err)
	}
	return students, nil
}

func collectCounts(rows *sql.Rows) (map[string]int, error) {
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
