package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgehub/hubcore/pkg/codegen"
	"github.com/edgehub/hubcore/pkg/types"
)

// MemoryStudentRepository is an in-process StudentRepository. Code
// uniqueness is enforced under the same lock as the insert.
type MemoryStudentRepository struct {
	mu       sync.RWMutex
	students map[string]*types.Student
	codes    map[string]string
}

// NewMemoryStudentRepository creates an empty in-memory student store
func NewMemoryStudentRepository() *MemoryStudentRepository {
	return &MemoryStudentRepository{
		students: make(map[string]*types.Student),
		codes:    make(map[string]string),
	}
}

// Create stores a copy of student
func (r *MemoryStudentRepository) Create(ctx context.Context, student *types.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.codes[student.StudentCode]; taken {
		return fmt.Errorf("student code %s: %w", student.StudentCode, codegen.ErrDuplicateCode)
	}

	stampNew(&student.ID, &student.CreatedAt, &student.UpdatedAt)
	if student.LastActivityAt.IsZero() {
		student.LastActivityAt = student.CreatedAt
	}

	r.students[student.ID] = student.Clone()
	r.codes[student.StudentCode] = student.ID
	return nil
}

// GetByID returns a copy of the student
func (r *MemoryStudentRepository) GetByID(ctx context.Context, studentID string) (*types.Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.students[studentID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// FindByCode returns the student holding code
func (r *MemoryStudentRepository) FindByCode(ctx context.Context, code string) (*types.Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return r.students[id].Clone(), nil
}

// CodeExists reports whether code is assigned
func (r *MemoryStudentRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.codes[code]
	return ok, nil
}

// List returns students ordered by creation time
func (r *MemoryStudentRepository) List(ctx context.Context, filters *types.StudentFilters) ([]*types.Student, error) {
	if filters == nil {
		filters = &types.StudentFilters{}
	}

	r.mu.RLock()
	out := make([]*types.Student, 0, len(r.students))
	for _, s := range r.students {
		if filters.HubID != "" && s.HubID != filters.HubID {
			continue
		}
		if filters.Status != "" && s.Status != filters.Status {
			continue
		}
		out = append(out, s.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return paginate(out, filters.Offset, filters.Limit), nil
}

// ListInactiveSince returns students whose last activity is before cutoff
func (r *MemoryStudentRepository) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]*types.Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Student
	for _, s := range r.students {
		if s.LastActivityAt.Before(cutoff) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// Update replaces the stored student. The student code cannot change.
func (r *MemoryStudentRepository) Update(ctx context.Context, student *types.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.students[student.ID]
	if !ok {
		return ErrNotFound
	}

	student.StudentCode = existing.StudentCode
	student.CreatedAt = existing.CreatedAt
	student.UpdatedAt = time.Now().UTC()
	r.students[student.ID] = student.Clone()
	return nil
}

// Delete removes the student and frees its code
func (r *MemoryStudentRepository) Delete(ctx context.Context, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.students[studentID]
	if !ok {
		return ErrNotFound
	}
	delete(r.codes, s.StudentCode)
	delete(r.students, studentID)
	return nil
}

// CountByStatus counts students per status, optionally scoped to hubID
func (r *MemoryStudentRepository) CountByStatus(ctx context.Context, hubID string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, s := range r.students {
		if hubID != "" && s.HubID != hubID {
			continue
		}
		counts[string(s.Status)]++
	}
	return counts, nil
}

// MemoryDeviceRepository is an in-process DeviceRepository
type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*types.Device
	codes   map[string]string
}

// NewMemoryDeviceRepository creates an empty in-memory device store
func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{
		devices: make(map[string]*types.Device),
		codes:   make(map[string]string),
	}
}

// Create stores a copy of device
func (r *MemoryDeviceRepository) Create(ctx context.Context, device *types.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.codes[device.DeviceCode]; taken {
		return fmt.Errorf("device code %s: %w", device.DeviceCode, codegen.ErrDuplicateCode)
	}

	stampNew(&device.ID, &device.CreatedAt, &device.UpdatedAt)

	r.devices[device.ID] = device.Clone()
	r.codes[device.DeviceCode] = device.ID
	return nil
}

// GetByID returns a copy of the device
func (r *MemoryDeviceRepository) GetByID(ctx context.Context, deviceID string) (*types.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

// FindByCode returns the device holding code
func (r *MemoryDeviceRepository) FindByCode(ctx context.Context, code string) (*types.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return r.devices[id].Clone(), nil
}

// CodeExists reports whether code is assigned
func (r *MemoryDeviceRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.codes[code]
	return ok, nil
}

// List returns devices ordered by creation time
func (r *MemoryDeviceRepository) List(ctx context.Context, filters *types.DeviceFilters) ([]*types.Device, error) {
	if filters == nil {
		filters = &types.DeviceFilters{}
	}

	r.mu.RLock()
	out := make([]*types.Device, 0, len(r.devices))
	for _, d := range r.devices {
		if filters.HubID != "" && d.HubID != filters.HubID {
			continue
		}
		if filters.Status != "" && d.Status != filters.Status {
			continue
		}
		out = append(out, d.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return paginate(out, filters.Offset, filters.Limit), nil
}

// Update replaces the stored device. The device code cannot change.
func (r *MemoryDeviceRepository) Update(ctx context.Context, device *types.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[device.ID]
	if !ok {
		return ErrNotFound
	}

	device.DeviceCode = existing.DeviceCode
	device.CreatedAt = existing.CreatedAt
	device.UpdatedAt = time.Now().UTC()
	r.devices[device.ID] = device.Clone()
	return nil
}

// Delete removes the device and frees its code
func (r *MemoryDeviceRepository) Delete(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	delete(r.codes, d.DeviceCode)
	delete(r.devices, deviceID)
	return nil
}

// CountByStatus counts devices per status, optionally scoped to hubID
func (r *MemoryDeviceRepository) CountByStatus(ctx context.Context, hubID string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, d := range r.devices {
		if hubID != "" && d.HubID != hubID {
			continue
		}
		counts[string(d.Status)]++
	}
	return counts, nil
}

func stampNew(id *string, createdAt, updatedAt *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	now := time.Now().UTC()
	*createdAt = now
	*updatedAt = now
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
