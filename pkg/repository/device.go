package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edgehub/hubcore/pkg/types"
)

const deviceColumns = `id, hub_id, device_code, name, device_type, status, secret_hash,
	last_seen_at, created_at, updated_at`

// PostgresDeviceRepository stores devices in PostgreSQL
type PostgresDeviceRepository struct {
	db *sql.DB
}

// NewPostgresDeviceRepository creates a new device repository
func NewPostgresDeviceRepository(db *sql.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

// Create inserts a device row. A taken device code yields ErrDuplicateCode.
func (r *PostgresDeviceRepository) Create(ctx context.Context, device *types.Device) error {
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.HubID,
		device.DeviceCode,
		device.Name,
		nullString(device.DeviceType),
		string(device.Status),
		device.SecretHash,
		device.LastSeenAt,
		device.CreatedAt,
		device.UpdatedAt,
	)
	return translateError("create device", err)
}

// GetByID retrieves a device by ID
func (r *PostgresDeviceRepository) GetByID(ctx context.Context, deviceID string) (*types.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		return nil, translateError("get device", err)
	}
	return d, nil
}

// FindByCode retrieves a device by device code
func (r *PostgresDeviceRepository) FindByCode(ctx context.Context, code string) (*types.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_code = $1`
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		return nil, translateError("find device", err)
	}
	return d, nil
}

// CodeExists reports whether a device code is assigned
func (r *PostgresDeviceRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM devices WHERE device_code = $1)`, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check device code: %w", err)
	}
	return exists, nil
}

// List retrieves devices matching filters ordered by creation time
func (r *PostgresDeviceRepository) List(ctx context.Context, filters *types.DeviceFilters) ([]*types.Device, error) {
	if filters == nil {
		filters = &types.DeviceFilters{}
	}

	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE ($1 = '' OR hub_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at, id
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query,
		filters.HubID, string(filters.Status), limitOrAll(filters.Limit), filters.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*types.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return devices, nil
}

// Update writes the mutable device columns
func (r *PostgresDeviceRepository) Update(ctx context.Context, device *types.Device) error {
	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices
		SET name = $2, status = $3, secret_hash = $4, last_seen_at = $5, updated_at = $6
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		string(device.Status),
		device.SecretHash,
		device.LastSeenAt,
		device.UpdatedAt,
	)
	if err != nil {
		return translateError("update device", err)
	}
	return requireAffected(res, "update device")
}

// Delete removes a device row
func (r *PostgresDeviceRepository) Delete(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, deviceID)
	if err != nil {
		return translateError("delete device", err)
	}
	return requireAffected(res, "delete device")
}

// CountByStatus counts devices per status, optionally scoped to hubID
func (r *PostgresDeviceRepository) CountByStatus(ctx context.Context, hubID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM devices WHERE ($1 = '' OR hub_id = $1) GROUP BY status`, hubID)
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}
	defer rows.Close()

	return collectCounts(rows)
}

func scanDevice(row rowScanner) (*types.Device, error) {
	var (
		d          types.Device
		deviceType sql.NullString
		status     string
		lastSeen   sql.NullTime
	)

	err := row.Scan(
		&d.ID,
		&d.HubID,
		&d.DeviceCode,
		&d.Name,
		&deviceType,
		&status,
		&d.SecretHash,
		&lastSeen,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.DeviceType = deviceType.String
	d.Status = types.DeviceStatus(status)
	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeenAt = &t
	}
	return &d, nil
}
