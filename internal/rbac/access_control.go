package rbac

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/edgehub/hubcore/pkg/logger"
	"github.com/edgehub/hubcore/pkg/rbac"
)

// DecisionObserver receives every access decision. It is optional.
type DecisionObserver interface {
	RecordAccessDecision(resource, action string, allowed bool)
}

// AccessControlService evaluates the static rule table
type AccessControlService struct {
	audit    rbac.AuditRecorder
	logger   *logger.Logger
	observer DecisionObserver
}

// NewAccessControlService creates an access control service. Denials raised
// by EnforceAccess are recorded on audit.
func NewAccessControlService(audit rbac.AuditRecorder, log *logger.Logger) *AccessControlService {
	return &AccessControlService{
		audit:  audit,
		logger: log,
	}
}

// WithObserver attaches a decision observer
func (s *AccessControlService) WithObserver(o DecisionObserver) *AccessControlService {
	s.observer = o
	return s
}

// CheckAccess decides whether ac may perform action on resource. It never
// returns nil. Unknown (resource, action) pairs are denied.
func (s *AccessControlService) CheckAccess(ctx context.Context, ac *rbac.AccessContext, resource, action, resourceID string) *rbac.AccessDecision {
	if ac == nil {
		ac = &rbac.AccessContext{UserType: rbac.UserTypeAnonymous}
	}

	rule, ok := rbac.LookupRule(resource, action)
	if !ok {
		decision := &rbac.AccessDecision{Allowed: false, Reason: rbac.ReasonNoRule}
		s.record(ctx, ac, resource, action, resourceID, false, decision)
		return decision
	}

	decision := evaluate(rule, ac)
	s.record(ctx, ac, resource, action, resourceID, rule.SensitiveData, decision)

	return decision
}

// EnforceAccess returns the compliance flags of the matched rule, or an
// *rbac.AccessError after recording the denial on the audit log.
func (s *AccessControlService) EnforceAccess(ctx context.Context, ac *rbac.AccessContext, resource, action, resourceID string) ([]string, error) {
	decision := s.CheckAccess(ctx, ac, resource, action, resourceID)
	if decision.Allowed {
		return decision.ComplianceFlags, nil
	}

	entry := rbac.AuditLogEntry{
		Action:          action,
		Resource:        resource,
		ResourceID:      resourceID,
		Success:         false,
		ErrorMessage:    decision.Reason,
		ComplianceFlags: decision.ComplianceFlags,
		Details: map[string]interface{}{
			"access_denied": true,
			"reason":        decision.Reason,
		},
	}
	if rule, ok := rbac.LookupRule(resource, action); ok {
		entry.SensitiveData = rule.SensitiveData
	}
	if ac != nil {
		entry.UserID = ac.UserID
		entry.UserType = ac.UserType
		entry.HubID = ac.HubID
		entry.IPAddress = ac.IPAddress
		entry.UserAgent = ac.UserAgent
	} else {
		entry.UserType = rbac.UserTypeAnonymous
	}

	if s.audit != nil {
		s.audit.LogEvent(ctx, entry)
	}

	return nil, rbac.NewAccessError(ac, resource, action, resourceID, decision)
}

func evaluate(rule rbac.AccessRule, ac *rbac.AccessContext) *rbac.AccessDecision {
	deny := func(reason string) *rbac.AccessDecision {
		return &rbac.AccessDecision{
			Allowed:         false,
			Reason:          reason,
			ComplianceFlags: rule.ComplianceFlags,
		}
	}

	if !rule.AllowsUserType(ac.UserType) {
		return deny(fmt.Sprintf("User type %s not allowed for %s:%s", ac.UserType, rule.Resource, rule.Action))
	}

	// a nil permission list leaves the decision to the user type check
	if ac.Permissions != nil {
		for _, p := range rule.RequiredPermissions {
			if !ac.HasPermission(p) {
				return deny(rbac.ReasonMissingPermissions)
			}
		}
	}

	if rule.RequiresHub && ac.HubID == "" {
		return deny(rbac.ReasonHubRequired)
	}

	return &rbac.AccessDecision{
		Allowed:         true,
		ComplianceFlags: rule.ComplianceFlags,
	}
}

func (s *AccessControlService) record(ctx context.Context, ac *rbac.AccessContext, resource, action, resourceID string, sensitive bool, decision *rbac.AccessDecision) {
	if s.observer != nil {
		s.observer.RecordAccessDecision(resource, action, decision.Allowed)
	}
	if s.logger == nil {
		return
	}

	details := map[string]interface{}{
		"user_type":   ac.UserType,
		"hub_id":      ac.HubID,
		"resource_id": resourceID,
	}
	if !decision.Allowed {
		details["reason"] = decision.Reason
	}

	if sensitive {
		s.logger.PIIAccess(ctx, ac.UserID, resource, action, decision.Allowed, details)
		return
	}

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"component": "access_control",
		"user_id":   ac.UserID,
		"resource":  resource,
		"action":    action,
		"allowed":   decision.Allowed,
		"details":   details,
	}).Debug("Access decision")
}
