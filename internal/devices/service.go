package devices

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/edgehub/hubcore/pkg/codegen"
	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/monitoring"
	"github.com/edgehub/hubcore/pkg/rbac"
	"github.com/edgehub/hubcore/pkg/repository"
	"github.com/edgehub/hubcore/pkg/types"
)

const (
	component = "devices"

	// SecretLength is the length of the one-time device secret
	SecretLength = 32

	identifierType = "device_code"

	// reasonInvalidCredentials is shared by every authentication failure
	reasonInvalidCredentials = "invalid device credentials"
)

// Credentials issues and checks device secrets. *security.Service satisfies it.
type Credentials interface {
	GenerateSecureRandom(length int, charset string) (string, error)
	Hash(data string) (string, error)
	VerifyHash(data, encoded string) bool
}

// Service manages classroom devices
type Service struct {
	repo   repository.DeviceRepository
	access rbac.AccessEnforcer
	audit  rbac.AuditRecorder
	creds  Credentials
	codes  *codegen.Generator
	logger *logger.Logger
	now    func() time.Time

	// decoyOnce guards decoyHash, verified against on unknown codes
	decoyOnce sync.Once
	decoyHash string
}

// NewService creates a new device service
func NewService(
	repo repository.DeviceRepository,
	access rbac.AccessEnforcer,
	audit rbac.AuditRecorder,
	creds Credentials,
	codes *codegen.Generator,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:   repo,
		access: access,
		audit:  audit,
		creds:  creds,
		codes:  codes,
		logger: log,
		now:    time.Now,
	}
}

// RegisterDevice stores a pending device under a new device code. The
// returned secret is shown once; only its hash is kept.
func (s *Service) RegisterDevice(ctx context.Context, ac *rbac.AccessContext, req *types.RegisterDeviceRequest) (reg *types.DeviceRegistration, err error) {
	ctx, span := monitoring.StartGovernedSpan(ctx, component, rbac.ResourceDevice, rbac.ActionRegister, false)
	defer func() { monitoring.EndSpan(span, err) }()

	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceDevice, rbac.ActionRegister, ""); err != nil {
		return nil, err
	}

	hubID := ""
	if req != nil {
		hubID = req.HubID
	}
	if hubID == "" && ac != nil {
		hubID = ac.HubID
	}

	var verrs rbac.ValidationErrors
	if req == nil || strings.TrimSpace(req.Name) == "" {
		verrs.Add("name", "device name is required")
	}
	if hubID == "" {
		verrs.Add("hub_id", "hub id is required")
	}
	if verrs.HasErrors() {
		s.auditFailure(ctx, ac, rbac.ActionRegister, "", verrs)
		return nil, verrs
	}

	secret, err := s.creds.GenerateSecureRandom(SecretLength, "")
	if err != nil {
		err = types.NewInternalError(types.ErrCodeInternalError, "failed to generate device secret", err)
		s.auditFailure(ctx, ac, rbac.ActionRegister, "", err)
		return nil, err
	}
	hash, err := s.creds.Hash(secret)
	if err != nil {
		err = types.NewInternalError(types.ErrCodeInternalError, "failed to protect device secret", err)
		s.auditFailure(ctx, ac, rbac.ActionRegister, "", err)
		return nil, err
	}

	device := &types.Device{
		HubID:      hubID,
		Name:       strings.TrimSpace(req.Name),
		DeviceType: req.DeviceType,
		Status:     types.DeviceStatusPending,
		SecretHash: hash,
	}

	code, err := s.codes.Allocate(ctx, codegen.KindDevice, func(ctx context.Context, code string) error {
		device.DeviceCode = code
		return s.repo.Create(ctx, device)
	})
	if err != nil {
		err = mapAllocateError(err)
		s.auditFailure(ctx, ac, rbac.ActionRegister, "", err)
		return nil, err
	}

	s.audit.LogDeviceOperation(ctx, ac, rbac.ActionRegister, device.ID, true, map[string]interface{}{
		"device_code": code,
		"hub_id":      hubID,
		"device_type": device.DeviceType,
	})
	s.logger.WithContext(ctx).WithField("device_id", device.ID).Info("Device registered")

	return &types.DeviceRegistration{Device: device.Clone(), Secret: secret}, nil
}

// ValidateDevice checks that code names a usable device, activates pending
// devices and records the contact time.
func (s *Service) ValidateDevice(ctx context.Context, ac *rbac.AccessContext, code string) (device *types.Device, err error) {
	ctx, span := monitoring.StartGovernedSpan(ctx, component, rbac.ResourceDevice, rbac.ActionValidate, false)
	defer func() { monitoring.EndSpan(span, err) }()

	code = normaliseCode(code)
	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceDevice, rbac.ActionValidate, code); err != nil {
		return nil, err
	}

	if !codegen.ValidDeviceCode(code) {
		err := types.NewValidationError(types.ErrCodeInvalidCode, "invalid device code format", nil)
		s.auditFailure(ctx, ac, rbac.ActionValidate, "", err)
		return nil, err
	}

	device, err = s.repo.FindByCode(ctx, code)
	if err != nil {
		err = mapRepoError(err)
		s.auditFailure(ctx, ac, rbac.ActionValidate, "", err)
		return nil, err
	}

	if device.Status == types.DeviceStatusDisabled {
		err = types.NewValidationError(types.ErrCodeInvalidCode, "device is disabled", nil)
		s.auditFailure(ctx, ac, rbac.ActionValidate, device.ID, err)
		return nil, err
	}

	if err := s.touch(ctx, device, true); err != nil {
		s.auditFailure(ctx, ac, rbac.ActionValidate, device.ID, err)
		return nil, err
	}

	s.audit.LogDeviceOperation(ctx, ac, rbac.ActionValidate, device.ID, true, map[string]interface{}{
		"status": string(device.Status),
	})
	return device.Clone(), nil
}

// AuthenticateDevice verifies a device code and secret pair. Every failure
// reports the same reason so callers cannot tell valid codes apart.
func (s *Service) AuthenticateDevice(ctx context.Context, ac *rbac.AccessContext, code, secret string) (device *types.Device, err error) {
	ctx, span := monitoring.StartGovernedSpan(ctx, component, rbac.ResourceDevice, rbac.ActionAuthenticate, false)
	defer func() { monitoring.EndSpan(span, err) }()

	code = normaliseCode(code)
	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceDevice, rbac.ActionAuthenticate, ""); err != nil {
		return nil, err
	}

	fail := func() (*types.Device, error) {
		s.audit.LogAuthenticationAttempt(ctx, ac, code, identifierType, false, reasonInvalidCredentials)
		return nil, types.NewValidationError(types.ErrCodeInvalidCode, reasonInvalidCredentials, nil)
	}

	if !codegen.ValidDeviceCode(code) || secret == "" {
		return fail()
	}

	device, err = s.repo.FindByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.WithContext(ctx).WithError(err).Warn("Device lookup failed during authentication")
		}
		s.creds.VerifyHash(secret, s.decoy())
		return fail()
	}

	verified := s.creds.VerifyHash(secret, device.SecretHash)
	if device.Status == types.DeviceStatusDisabled || !verified {
		return fail()
	}

	if err := s.touch(ctx, device, false); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("device_id", device.ID).Warn("Failed to record device contact")
	}

	s.audit.LogAuthenticationAttempt(ctx, ac, code, identifierType, true, "")
	return device.Clone(), nil
}

// GetDevice returns the device with id
func (s *Service) GetDevice(ctx context.Context, ac *rbac.AccessContext, deviceID string) (*types.Device, error) {
	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceDevice, rbac.ActionView, deviceID); err != nil {
		return nil, err
	}

	device, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		err = mapRepoError(err)
		s.auditFailure(ctx, ac, rbac.ActionView, deviceID, err)
		return nil, err
	}

	s.audit.LogDeviceOperation(ctx, ac, rbac.ActionView, deviceID, true, nil)
	return device, nil
}

// ListDevices returns devices matching filters
func (s *Service) ListDevices(ctx context.Context, ac *rbac.AccessContext, filters *types.DeviceFilters) ([]*types.Device, error) {
	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceDevice, rbac.ActionView, ""); err != nil {
		return nil, err
	}

	devices, err := s.repo.List(ctx, filters)
	if err != nil {
		err = types.NewInternalError(types.ErrCodeInternalError, "failed to list devices", err)
		s.auditFailure(ctx, ac, rbac.ActionView, "", err)
		return nil, err
	}

	s.audit.LogDeviceOperation(ctx, ac, rbac.ActionView, "", true, map[string]interface{}{
		"record_count": len(devices),
	})
	return devices, nil
}

// UpdateDevice applies a partial update
func (s *Service) UpdateDevice(ctx context.Context, ac *rbac.AccessContext, deviceID string, updates *types.DeviceUpdates) (*types.Device, error) {
	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceDevice, rbac.ActionUpdate, deviceID); err != nil {
		return nil, err
	}

	device, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		err = mapRepoError(err)
		s.auditFailure(ctx, ac, rbac.ActionUpdate, deviceID, err)
		return nil, err
	}

	if updates != nil {
		if updates.Name != nil {
			if strings.TrimSpace(*updates.Name) == "" {
				err := types.NewValidationError(types.ErrCodeInvalidInput, "device name cannot be empty", nil)
				s.auditFailure(ctx, ac, rbac.ActionUpdate, deviceID, err)
				return nil, err
			}
			device.Name = strings.TrimSpace(*updates.Name)
		}
		if updates.Status != nil {
			if !validStatus(*updates.Status) {
				err := types.NewValidationError(types.ErrCodeInvalidInput, "unknown device status", nil)
				s.auditFailure(ctx, ac, rbac.ActionUpdate, deviceID, err)
				return nil, err
			}
			device.Status = *updates.Status
		}
	}

	if err := s.repo.Update(ctx, device); err != nil {
		err = mapRepoError(err)
		s.auditFailure(ctx, ac, rbac.ActionUpdate, deviceID, err)
		return nil, err
	}

	s.audit.LogDeviceOperation(ctx, ac, rbac.ActionUpdate, deviceID, true, map[string]interface{}{
		"status": string(device.Status),
	})
	return device, nil
}

// DeleteDevice removes a device
func (s *Service) DeleteDevice(ctx context.Context, ac *rbac.AccessContext, deviceID string) error {
	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceDevice, rbac.ActionDelete, deviceID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, deviceID); err != nil {
		err = mapRepoError(err)
		s.auditFailure(ctx, ac, rbac.ActionDelete, deviceID, err)
		return err
	}

	s.audit.LogDeviceOperation(ctx, ac, rbac.ActionDelete, deviceID, true, nil)
	return nil
}

// decoy returns a hash with the configured cost so lookups of unknown codes
// take as long as a real verification
func (s *Service) decoy() string {
	s.decoyOnce.Do(func() {
		hash, err := s.creds.Hash("unregistered-device")
		if err != nil {
			s.logger.WithError(err).Warn("Failed to prepare decoy device hash")
			return
		}
		s.decoyHash = hash
	})
	return s.decoyHash
}

func (s *Service) touch(ctx context.Context, device *types.Device, activate bool) error {
	seen := s.now().UTC()
	device.LastSeenAt = &seen
	if activate && device.Status == types.DeviceStatusPending {
		device.Status = types.DeviceStatusActive
	}
	if err := s.repo.Update(ctx, device); err != nil {
		return mapRepoError(err)
	}
	return nil
}

func (s *Service) auditFailure(ctx context.Context, ac *rbac.AccessContext, action, deviceID string, err error) {
	s.audit.LogDeviceOperation(ctx, ac, action, deviceID, false, map[string]interface{}{
		"error": publicMessage(err),
	})
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validStatus(status types.DeviceStatus) bool {
	switch status {
	case types.DeviceStatusPending, types.DeviceStatusActive, types.DeviceStatusDisabled:
		return true
	}
	return false
}

func mapAllocateError(err error) error {
	if errors.Is(err, codegen.ErrCodeGenerationExhausted) {
		return types.NewExhaustedError(types.ErrCodeCodeExhausted, codegen.ErrCodeGenerationExhausted.Error(), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.NewInternalError(types.ErrCodeInternalError, "failed to store device", err)
}

func mapRepoError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return types.NewNotFoundError(types.ErrCodeNotFound, "device not found")
	}
	return types.NewInternalError(types.ErrCodeInternalError, "failed to access device", err)
}

func publicMessage(err error) string {
	var hubErr *types.HubError
	if errors.As(err, &hubErr) {
		return hubErr.Message
	}
	return err.Error()
}
