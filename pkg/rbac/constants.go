package rbac

// User types recognised by the access rule table
const (
	UserTypeAdmin     = "admin"
	UserTypeSystem    = "system"
	UserTypeAPI       = "api"
	UserTypeAnonymous = "anonymous"
)

// Resource types governed by the access rule table
const (
	ResourceStudent   = "student"
	ResourceDevice    = "device"
	ResourceAnalytics = "analytics"
	ResourceHub       = "hub"
	ResourceAudit     = "audit"
	ResourceAuth      = "auth"
)

// Actions
const (
	ActionView         = "view"
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionDelete       = "delete"
	ActionExport       = "export"
	ActionRegister     = "register"
	ActionValidate     = "validate"
	ActionCollect      = "collect"
	ActionManage       = "manage"
	ActionAuthenticate = "authenticate"
	ActionAccess       = "access"
	ActionAnonymize    = "anonymize"
)

// Permissions carried by authenticated callers
const (
	PermissionStudentRead     = "student:read"
	PermissionStudentWrite    = "student:write"
	PermissionStudentDelete   = "student:delete"
	PermissionStudentExport   = "student:export"
	PermissionDeviceRead      = "device:read"
	PermissionDeviceWrite     = "device:write"
	PermissionDeviceDelete    = "device:delete"
	PermissionAnalyticsRead   = "analytics:read"
	PermissionAnalyticsExport = "analytics:export"
	PermissionHubRead         = "hub:read"
	PermissionHubManage       = "hub:manage"
	PermissionAuditRead       = "audit:read"
	PermissionAuditExport     = "audit:export"
)

// Compliance flags attached to rules and audit entries
const (
	ComplianceCOPPA              = "COPPA"
	ComplianceGDPR               = "GDPR"
	ComplianceRightToBeForgotten = "RIGHT_TO_BE_FORGOTTEN"
	ComplianceDataPortability    = "DATA_PORTABILITY"
)

// Data types with a retention policy
const (
	DataTypeStudent   = "student"
	DataTypeAnalytics = "analytics"
	DataTypeAudit     = "audit"
)

// Retention actions
const (
	RetentionActionDelete    = "delete"
	RetentionActionAnonymize = "anonymize"
)

// Denial reasons returned in access decisions
const (
	ReasonNoRule             = "No access rule defined"
	ReasonMissingPermissions = "Missing required permissions"
	ReasonHubRequired        = "Hub access required"
	ReasonHubMismatch        = "Record belongs to another hub"
)

// COPPA age thresholds
const (
	MinimumStudentAge = 3
	COPPAConsentAge   = 13
)

// DefaultAuditCapacity is the default in-memory audit buffer size
const DefaultAuditCapacity = 10000

// DefaultAuditRetentionDays is the default ClearOldLogs cutoff
const DefaultAuditRetentionDays = 90
