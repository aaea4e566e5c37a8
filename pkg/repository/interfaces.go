package repository

import (
	"context"
	"errors"
	"time"

	"github.com/edgehub/hubcore/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// StudentRepository defines the storage operations for students. Create
// returns codegen.ErrDuplicateCode when the student code is taken.
type StudentRepository interface {
	Create(ctx context.Context, student *types.Student) error
	GetByID(ctx context.Context, studentID string) (*types.Student, error)
	FindByCode(ctx context.Context, code string) (*types.Student, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context, filters *types.StudentFilters) ([]*types.Student, error)
	ListInactiveSince(ctx context.Context, cutoff time.Time) ([]*types.Student, error)
	Update(ctx context.Context, student *types.Student) error
	Delete(ctx context.Context, studentID string) error
	CountByStatus(ctx context.Context, hubID string) (map[string]int, error)
}

// DeviceRepository defines the storage operations for devices. Create
// returns codegen.ErrDuplicateCode when the device code is taken.
type DeviceRepository interface {
	Create(ctx context.Context, device *types.Device) error
	GetByID(ctx context.Context, deviceID string) (*types.Device, error)
	FindByCode(ctx context.Context, code string) (*types.Device, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context, filters *types.DeviceFilters) ([]*types.Device, error)
	Update(ctx context.Context, device *types.Device) error
	Delete(ctx context.Context, deviceID string) error
	CountByStatus(ctx context.Context, hubID string) (map[string]int, error)
}
