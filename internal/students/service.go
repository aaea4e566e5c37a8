package students

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgehub/hubcore/pkg/codegen"
	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/monitoring"
	"github.com/edgehub/hubcore/pkg/rbac"
	"github.com/edgehub/hubcore/pkg/repository"
	"github.com/edgehub/hubcore/pkg/security"
	"github.com/edgehub/hubcore/pkg/types"
)

const component = "students"

// Cipher protects student PII at rest. *security.Service satisfies it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// CryptoObserver counts encryption and decryption failures. It is optional.
type CryptoObserver interface {
	RecordCryptoFailure(operation string)
}

// Service manages student records on behalf of governed callers
type Service struct {
	repo     repository.StudentRepository
	access   rbac.AccessEnforcer
	audit    rbac.AuditRecorder
	cipher   Cipher
	codes    *codegen.Generator
	logger   *logger.Logger
	observer CryptoObserver
}

// NewService creates a new student service
func NewService(
	repo repository.StudentRepository,
	access rbac.AccessEnforcer,
	audit rbac.AuditRecorder,
	cipher Cipher,
	codes *codegen.Generator,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:   repo,
		access: access,
		audit:  audit,
		cipher: cipher,
		codes:  codes,
		logger: log,
	}
}

// WithObserver attaches a crypto failure observer
func (s *Service) WithObserver(o CryptoObserver) *Service {
	s.observer = o
	return s
}

// CreateStudent validates, encrypts and stores a new student under a freshly
// allocated student code. A consent requirement is reported on the result
// and does not block creation.
func (s *Service) CreateStudent(ctx context.Context, ac *rbac.AccessContext, req *types.CreateStudentRequest) (result *types.StudentResult, err error) {
	ctx, span := monitoring.StartGovernedSpan(ctx, component, rbac.ResourceStudent, rbac.ActionCreate, true)
	defer func() { monitoring.EndSpan(span, err) }()

	flags, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceStudent, rbac.ActionCreate, "")
	if err != nil {
		return nil, err
	}

	if err := validateCreate(req); err != nil {
		s.auditFailure(ctx, ac, rbac.ActionCreate, "", err)
		return nil, err
	}

	age := rbac.ValidateStudentAge(req.Age)
	if !age.Compliant {
		err := types.NewValidationError(types.ErrCodeInvalidAge, age.Warnings[0], map[string]interface{}{
			"field": "age",
		})
		s.auditFailure(ctx, ac, rbac.ActionCreate, "", err)
		return nil, err
	}

	hubID := req.HubID
	if hubID == "" && ac != nil {
		hubID = ac.HubID
	}

	student := &types.Student{
		HubID:                   hubID,
		Age:                     req.Age,
		ParentalConsentRequired: age.RequiresParentalConsent,
		ParentalConsentGiven:    req.ParentalConsentGiven,
		Status:                  types.StudentStatusActive,
	}

	plain := piiFields{first: req.FirstName, last: req.LastName, email: req.ParentEmail}
	if err := s.seal(student, plain); err != nil {
		s.auditFailure(ctx, ac, rbac.ActionCreate, "", err)
		return nil, err
	}

	code, err := s.codes.Allocate(ctx, codegen.KindStudent, func(ctx context.Context, code string) error {
		student.StudentCode = code
		return s.repo.Create(ctx, student)
	})
	if err != nil {
		err = mapAllocateError(err)
		s.auditFailure(ctx, ac, rbac.ActionCreate, "", err)
		return nil, err
	}

	s.audit.LogStudentDataAccess(ctx, ac, rbac.ActionCreate, student.ID, true, map[string]interface{}{
		"student_code":              code,
		"hub_id":                    hubID,
		"parental_consent_required": student.ParentalConsentRequired,
		"parental_consent_given":    student.ParentalConsentGiven,
	})

	s.logger.WithContext(ctx).WithField("student_id", student.ID).Info("Student created")
	if student.ParentalConsentRequired && !student.ParentalConsentGiven {
		s.logger.Compliance("parental_consent_pending", ac.UserID, map[string]interface{}{
			"student_id": student.ID,
			"hub_id":     hubID,
			"regulation": rbac.ComplianceCOPPA,
		})
	}

	out := student.Clone()
	plain.apply(out)
	return &types.StudentResult{
		Student:         out,
		ComplianceFlags: flags,
		Warnings:        age.Warnings,
	}, nil
}

// GetStudent returns the decrypted student with id
func (s *Service) GetStudent(ctx context.Context, ac *rbac.AccessContext, studentID string) (*types.StudentResult, error) {
	return s.view(ctx, ac, studentID, func(ctx context.Context) (*types.Student, error) {
		return s.repo.GetByID(ctx, studentID)
	})
}

// GetStudentByCode returns the decrypted student holding code
func (s *Service) GetStudentByCode(ctx context.Context, ac *rbac.AccessContext, code string) (*types.StudentResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codegen.ValidStudentCode(code) {
		return nil, types.NewValidationError(types.ErrCodeInvalidCode, "invalid student code format", nil)
	}
	return s.view(ctx, ac, code, func(ctx context.Context) (*types.Student, error) {
		return s.repo.FindByCode(ctx, code)
	})
}

func (s *Service) view(ctx context.Context, ac *rbac.AccessContext, ref string, load func(context.Context) (*types.Student, error)) (result *types.StudentResult, err error) {
	ctx, span := monitoring.StartGovernedSpan(ctx, component, rbac.ResourceStudent, rbac.ActionView, true)
	defer func() { monitoring.EndSpan(span, err) }()

	flags, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceStudent, rbac.ActionView, ref)
	if err != nil {
		return nil, err
	}

	stored, err := load(ctx)
	if err != nil {
		err = mapRepoError(err, "student")
		s.auditFailure(ctx, ac, rbac.ActionView, ref, err)
		return nil, err
	}
	if err := s.scope(ctx, ac, rbac.ActionView, stored); err != nil {
		return nil, err
	}

	out, err := s.open(stored)
	if err != nil {
		s.auditFailure(ctx, ac, rbac.ActionView, stored.ID, err)
		return nil, err
	}

	s.audit.LogStudentDataAccess(ctx, ac, rbac.ActionView, stored.ID, true, nil)
	return &types.StudentResult{Student: out, ComplianceFlags: flags}, nil
}

// ListStudents returns decrypted students matching filters. Records whose
// ciphertext cannot be opened are returned with redacted names.
func (s *Service) ListStudents(ctx context.Context, ac *rbac.AccessContext, filters *types.StudentFilters) (list []*types.Student, err error) {
	ctx, span := monitoring.StartGovernedSpan(ctx, component, rbac.ResourceStudent, rbac.ActionView, true)
	defer func() { monitoring.EndSpan(span, err) }()

	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceStudent, rbac.ActionView, ""); err != nil {
		return nil, err
	}

	scoped := types.StudentFilters{}
	if filters != nil {
		scoped = *filters
	}
	filters = &scoped
	if ac != nil && ac.UserType != rbac.UserTypeSystem && ac.HubID != "" {
		filters.HubID = ac.HubID
	}

	stored, err := s.repo.List(ctx, filters)
	if err != nil {
		err = types.NewInternalError(types.ErrCodeInternalError, "failed to list students", err)
		s.auditFailure(ctx, ac, rbac.ActionView, "", err)
		return nil, err
	}

	out := make([]*types.Student, 0, len(stored))
	redacted := 0
	for _, st := range stored {
		opened, err := s.open(st)
		if err != nil {
			s.logger.WithContext(ctx).WithField("student_id", st.ID).Warn("Failed to decrypt student record")
			opened = st.Clone()
			opened.FirstName = security.Redacted
			opened.LastName = security.Redacted
			opened.ParentEmail = security.Redacted
			redacted++
		}
		out = append(out, opened)
	}

	s.audit.LogStudentDataAccess(ctx, ac, rbac.ActionView, "", true, map[string]interface{}{
		"record_count":    len(out),
		"redacted_count":  redacted,
		"hub_id":          filters.HubID,
		"status_filtered": filters.Status != "",
	})
	return out, nil
}

// UpdateStudent applies updates, re-encrypting any changed PII
func (s *Service) UpdateStudent(ctx context.Context, ac *rbac.AccessContext, studentID string, updates *types.StudentUpdates) (result *types.StudentResult, err error) {
	ctx, span := monitoring.StartGovernedSpan(ctx, component, rbac.ResourceStudent, rbac.ActionUpdate, true)
	defer func() { monitoring.EndSpan(span, err) }()

	flags, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceStudent, rbac.ActionUpdate, studentID)
	if err != nil {
		return nil, err
	}
	if updates == nil {
		updates = &types.StudentUpdates{}
	}

	stored, err := s.repo.GetByID(ctx, studentID)
	if err != nil {
		err = mapRepoError(err, "student")
		s.auditFailure(ctx, ac, rbac.ActionUpdate, studentID, err)
		return nil, err
	}
	if err := s.scope(ctx, ac, rbac.ActionUpdate, stored); err != nil {
		return nil, err
	}

	current, err := s.open(stored)
	if err != nil {
		s.auditFailure(ctx, ac, rbac.ActionUpdate, studentID, err)
		return nil, err
	}

	var warnings []string
	if updates.Age != nil {
		v := rbac.ValidateStudentAge(updates.Age)
		if !v.Compliant {
			err := types.NewValidationError(types.ErrCodeInvalidAge, v.Warnings[0], map[string]interface{}{"field": "age"})
			s.auditFailure(ctx, ac, rbac.ActionUpdate, studentID, err)
			return nil, err
		}
		age := *updates.Age
		stored.Age = &age
		stored.ParentalConsentRequired = v.RequiresParentalConsent
		warnings = v.Warnings
	}

	plain := piiFields{first: current.FirstName, last: current.LastName, email: current.ParentEmail}
	changed := []string{}
	if updates.FirstName != nil {
		plain.first = *updates.FirstName
		changed = append(changed, "first_name")
	}
	if updates.LastName != nil {
		plain.last = *updates.LastName
		changed = append(changed, "last_name")
	}
	if updates.ParentEmail != nil {
		plain.email = *updates.ParentEmail
		changed = append(changed, "parent_email")
	}
	if strings.TrimSpace(plain.first) == "" || strings.TrimSpace(plain.last) == "" {
		var verrs rbac.ValidationErrors
		verrs.Add("name", "first and last name are required")
		s.auditFailure(ctx, ac, rbac.ActionUpdate, studentID, verrs)
		return nil, verrs
	}
	if updates.ParentalConsentGiven != nil {
		stored.ParentalConsentGiven = *updates.ParentalConsentGiven
	}
	if updates.Status != nil {
		stored.Status = *updates.Status
	}

	if err := s.seal(stored, plain); err != nil {
		s.auditFailure(ctx, ac, rbac.ActionUpdate, studentID, err)
		return nil, err
	}
	stored.LastActivityAt = time.Now().UTC()

	if err := s.repo.Update(ctx, stored); err != nil {
		err = mapRepoError(err, "student")
		s.auditFailure(ctx, ac, rbac.ActionUpdate, studentID, err)
		return nil, err
	}

	s.audit.LogStudentDataAccess(ctx, ac, rbac.ActionUpdate, studentID, true, map[string]interface{}{
		"changed_fields": changed,
	})

	out := stored.Clone()
	plain.apply(out)
	return &types.StudentResult{Student: out, ComplianceFlags: flags, Warnings: warnings}, nil
}

// DeleteStudent erases a student record
func (s *Service) DeleteStudent(ctx context.Context, ac *rbac.AccessContext, studentID, reason string) (err error) {
	ctx, span := monitoring.StartGovernedSpan(ctx, component, rbac.ResourceStudent, rbac.ActionDelete, true)
	defer func() { monitoring.EndSpan(span, err) }()

	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceStudent, rbac.ActionDelete, studentID); err != nil {
		return err
	}
	if reason == "" {
		reason = "erasure request"
	}

	stored, err := s.repo.GetByID(ctx, studentID)
	if err == nil {
		err = s.scope(ctx, ac, rbac.ActionDelete, stored)
		if err != nil {
			return err
		}
		err = s.repo.Delete(ctx, studentID)
	}
	if err != nil {
		err = mapRepoError(err, "student")
		s.audit.LogDataDeletion(ctx, ac, rbac.DataTypeStudent, studentID, false, reason)
		return err
	}

	s.audit.LogDataDeletion(ctx, ac, rbac.DataTypeStudent, studentID, true, reason)
	s.logger.WithContext(ctx).WithField("student_id", studentID).Info("Student deleted")
	return nil
}

// ExportStudentData returns the portable form of one student's data
func (s *Service) ExportStudentData(ctx context.Context, ac *rbac.AccessContext, studentID string) (export *types.StudentExport, err error) {
	ctx, span := monitoring.StartGovernedSpan(ctx, component, rbac.ResourceStudent, rbac.ActionExport, true)
	defer func() { monitoring.EndSpan(span, err) }()

	if _, err := s.access.EnforceAccess(ctx, ac, rbac.ResourceStudent, rbac.ActionExport, studentID); err != nil {
		return nil, err
	}

	stored, err := s.repo.GetByID(ctx, studentID)
	if err != nil {
		s.audit.LogDataExport(ctx, ac, rbac.DataTypeStudent, 0, false)
		return nil, mapRepoError(err, "student")
	}
	if err := s.scope(ctx, ac, rbac.ActionExport, stored); err != nil {
		return nil, err
	}

	out, err := s.open(stored)
	if err != nil {
		s.audit.LogDataExport(ctx, ac, rbac.DataTypeStudent, 0, false)
		return nil, err
	}

	s.audit.LogDataExport(ctx, ac, rbac.DataTypeStudent, 1, true)
	return &types.StudentExport{Student: out, ExportedAt: time.Now().UTC()}, nil
}

// ApplyRetention deletes students whose retention period has lapsed as of
// now and returns how many were removed.
func (s *Service) ApplyRetention(ctx context.Context, now time.Time) (int, error) {
	policy := rbac.RetentionPolicies()[rbac.DataTypeStudent]
	candidates, err := s.repo.ListInactiveSince(ctx, now.AddDate(-policy.Years, 0, 0))
	if err != nil {
		return 0, fmt.Errorf("failed to list inactive students: %w", err)
	}

	ac := rbac.SystemContext("retention-sweeper")
	removed := 0
	for _, st := range candidates {
		decision := rbac.ShouldRetainDataAt(rbac.DataTypeStudent, st.LastActivityAt, st.Age, now)
		if decision.Retain || decision.Action != rbac.RetentionActionDelete {
			continue
		}

		if err := s.repo.Delete(ctx, st.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.audit.LogDataDeletion(ctx, ac, rbac.DataTypeStudent, st.ID, false, decision.Reason)
			s.logger.WithContext(ctx).WithError(err).WithField("student_id", st.ID).Warn("Retention delete failed")
			continue
		}

		s.audit.LogDataDeletion(ctx, ac, rbac.DataTypeStudent, st.ID, true, decision.Reason)
		removed++
	}
	return removed, nil
}

type piiFields struct {
	first string
	last  string
	email string
}

func (p piiFields) apply(st *types.Student) {
	st.FirstName = p.first
	st.LastName = p.last
	st.ParentEmail = p.email
}

// seal encrypts p into st
func (s *Service) seal(st *types.Student, p piiFields) error {
	var sealed piiFields
	for _, f := range []struct {
		in  string
		out *string
	}{
		{p.first, &sealed.first},
		{p.last, &sealed.last},
		{p.email, &sealed.email},
	} {
		token, err := s.cipher.Encrypt(f.in)
		if err != nil {
			s.recordCryptoFailure("encrypt")
			return types.NewCryptoError(types.ErrCodeEncryptionFailed, "failed to protect student data", err)
		}
		*f.out = token
	}
	sealed.apply(st)
	return nil
}

// open returns a decrypted copy of st
func (s *Service) open(st *types.Student) (*types.Student, error) {
	out := st.Clone()
	for _, field := range []*string{&out.FirstName, &out.LastName, &out.ParentEmail} {
		plain, err := s.cipher.Decrypt(*field)
		if err != nil {
			s.recordCryptoFailure("decrypt")
			return nil, types.NewCryptoError(types.ErrCodeDecryptionFailed, "failed to read student data", err)
		}
		*field = plain
	}
	return out, nil
}

func (s *Service) recordCryptoFailure(op string) {
	if s.observer != nil {
		s.observer.RecordCryptoFailure(op)
	}
}

// scope denies callers bound to a hub other than the one holding st
func (s *Service) scope(ctx context.Context, ac *rbac.AccessContext, action string, st *types.Student) error {
	if ac.ReachesHub(st.HubID) {
		return nil
	}
	err := rbac.NewAccessError(ac, rbac.ResourceStudent, action, st.ID, &rbac.AccessDecision{
		Reason: rbac.ReasonHubMismatch,
	})
	s.auditFailure(ctx, ac, action, st.ID, err)
	return err
}

func (s *Service) auditFailure(ctx context.Context, ac *rbac.AccessContext, action, studentID string, err error) {
	s.audit.LogStudentDataAccess(ctx, ac, action, studentID, false, map[string]interface{}{
		"error": publicMessage(err),
	})
}

func validateCreate(req *types.CreateStudentRequest) error {
	var verrs rbac.ValidationErrors
	if req == nil {
		verrs.Add("request", "request body is required")
		return verrs
	}
	if strings.TrimSpace(req.FirstName) == "" {
		verrs.Add("first_name", "first name is required")
	}
	if strings.TrimSpace(req.LastName) == "" {
		verrs.Add("last_name", "last name is required")
	}
	if verrs.HasErrors() {
		return verrs
	}
	return nil
}

func mapAllocateError(err error) error {
	if errors.Is(err, codegen.ErrCodeGenerationExhausted) {
		return types.NewExhaustedError(types.ErrCodeCodeExhausted, codegen.ErrCodeGenerationExhausted.Error(), err)
	}
	var hubErr *types.HubError
	if errors.As(err, &hubErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.NewInternalError(types.ErrCodeInternalError, "failed to store student", err)
}

func mapRepoError(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return types.NewNotFoundError(types.ErrCodeNotFound, what+" not found")
	}
	return types.NewInternalError(types.ErrCodeInternalError, "failed to access "+what, err)
}

// publicMessage returns an error message safe for the audit trail
func publicMessage(err error) string {
	var hubErr *types.HubError
	if errors.As(err, &hubErr) {
		return hubErr.Message
	}
	return err.Error()
}
