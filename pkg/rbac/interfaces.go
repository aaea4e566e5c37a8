package rbac

import (
	"context"
)

// AccessEnforcer is the check that guards every state-changing operation
type AccessEnforcer interface {
	CheckAccess(ctx context.Context, ac *AccessContext, resource, action, resourceID string) *AccessDecision
	EnforceAccess(ctx context.Context, ac *AccessContext, resource, action, resourceID string) ([]string, error)
}

// AuditRecorder records governed operations. Implementations never fail
// the caller.
type AuditRecorder interface {
	LogEvent(ctx context.Context, entry AuditLogEntry)
	LogStudentDataAccess(ctx context.Context, ac *AccessContext, action, studentID string, success bool, details map[string]interface{})
	LogDeviceOperation(ctx context.Context, ac *AccessContext, action, deviceID string, success bool, details map[string]interface{})
	LogAnalyticsOperation(ctx context.Context, ac *AccessContext, action string, success bool, details map[string]interface{})
	LogAuthenticationAttempt(ctx context.Context, ac *AccessContext, identifier, identifierType string, success bool, reason string)
	LogDataExport(ctx context.Context, ac *AccessContext, dataType string, recordCount int, success bool)
	LogDataDeletion(ctx context.Context, ac *AccessContext, dataType, recordID string, success bool, reason string)
}

// AuditQuerier reads back the audit buffer
type AuditQuerier interface {
	GetAuditLogs(filter AuditFilter) AuditPage
	GetComplianceReport(hubID string) ComplianceReport
}

// AuditSink persists audit entries outside the process
type AuditSink interface {
	Persist(ctx context.Context, entry AuditLogEntry) error
}
