// Package hubs reports per-hub status counts for operators.
package hubs

import (
	"context"
	"time"

	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/rbac"
	"github.com/edgehub/hubcore/pkg/repository"
	"github.com/edgehub/hubcore/pkg/types"
)

// Service summarises hub contents
type Service struct {
	students repository.StudentRepository
	devices  repository.DeviceRepository
	access   rbac.AccessEnforcer
	audit    rbac.AuditRecorder
	logger   *logger.Logger
	now      func() time.Time
}

// NewService creates a hub status service
func NewService(
	students repository.StudentRepository,
	devices repository.DeviceRepository,
	access rbac.AccessEnforcer,
	audit rbac.AuditRecorder,
	log *logger.Logger,
) *Service {
	return &Service{
		students: students,
		devices:  devices,
		access:   access,
		audit:    audit,
		logger:   log,
		now:      time.Now,
	}
}

// Status counts the students and devices of hubID by status. An empty
// hubID means the caller's own hub; callers bound to a hub may only read
// their own.
func (s *Service) Status(ctx context.Context, ac *rbac.AccessContext, hubID string) (*types.HubStatus, error) {
	if hubID == "" && ac != nil {
		hubID = ac.HubID
	}
	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceHub, rbac.ActionView, hubID); err != nil {
		return nil, err
	}

	if hubID == "" {
		var verrs rbac.ValidationErrors
		verrs.Add("hub_id", "hub id is required")
		s.record(ctx, ac, hubID, false, verrs.Error(), nil)
		return nil, verrs
	}

	if !ac.ReachesHub(hubID) {
		err := rbac.NewAccessError(ac, rbac.ResourceHub, rbac.ActionView, hubID, &rbac.AccessDecision{
			Reason: rbac.ReasonHubMismatch,
		})
		s.record(ctx, ac, hubID, false, rbac.ReasonHubMismatch, nil)
		return nil, err
	}

	studentCounts, err := s.students.CountByStatus(ctx, hubID)
	if err != nil {
		err = types.NewInternalError(types.ErrCodeInternalError, "failed to count students", err)
		s.record(ctx, ac, hubID, false, "failed to count students", nil)
		return nil, err
	}

	deviceCounts, err := s.devices.CountByStatus(ctx, hubID)
	if err != nil {
		err = types.NewInternalError(types.ErrCodeInternalError, "failed to count devices", err)
		s.record(ctx, ac, hubID, false, "failed to count devices", nil)
		return nil, err
	}

	s.record(ctx, ac, hubID, true, "", map[string]interface{}{
		"student_total": total(studentCounts),
		"device_total":  total(deviceCounts),
	})
	s.logger.WithContext(ctx).WithField("hub_id", hubID).Debug("Hub status generated")

	return &types.HubStatus{
		HubID:       hubID,
		Students:    studentCounts,
		Devices:     deviceCounts,
		GeneratedAt: s.now().UTC(),
	}, nil
}

func (s *Service) record(ctx context.Context, ac *rbac.AccessContext, hubID string, success bool, reason string, details map[string]interface{}) {
	entry := rbac.AuditLogEntry{
		UserType:     rbac.UserTypeAnonymous,
		Action:       rbac.ActionView,
		Resource:     rbac.ResourceHub,
		ResourceID:   hubID,
		Success:      success,
		ErrorMessage: reason,
		Details:      details,
	}
	if ac != nil {
		entry.UserID = ac.UserID
		entry.UserType = ac.UserType
		entry.HubID = ac.HubID
		entry.IPAddress = ac.IPAddress
		entry.UserAgent = ac.UserAgent
	}
	s.audit.LogEvent(ctx, entry)
}

func total(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
