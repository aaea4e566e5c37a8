package rbac

import (
	"time"
)

// AccessContext describes the caller of a governed operation
type AccessContext struct {
	UserID    string `json:"user_id,omitempty"`
	UserType  string `json:"user_type"`
	HubID     string `json:"hub_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Permissions is checked only when non-nil. A nil slice skips the
	// permission check and leaves the decision to the user type alone; an
	// empty non-nil slice grants nothing.
	Permissions []string `json:"permissions,omitempty"`
}

// HasPermission reports whether the context carries permission
func (ac *AccessContext) HasPermission(permission string) bool {
	for _, p := range ac.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// ReachesHub reports whether the caller may touch records held by hubID.
// System callers and callers bound to no hub reach every hub.
func (ac *AccessContext) ReachesHub(hubID string) bool {
	if ac == nil {
		return false
	}
	return ac.UserType == UserTypeSystem || ac.HubID == "" || ac.HubID == hubID
}

// SystemContext returns the context used by background maintenance jobs
func SystemContext(component string) *AccessContext {
	return &AccessContext{
		UserID:   component,
		UserType: UserTypeSystem,
	}
}

// AccessRule is one entry of the static rule table
type AccessRule struct {
	Resource            string   `json:"resource"`
	Action              string   `json:"action"`
	AllowedUserTypes    []string `json:"allowed_user_types"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	RequiresHub         bool     `json:"requires_hub"`
	SensitiveData       bool     `json:"sensitive_data"`
	ComplianceFlags     []string `json:"compliance_flags,omitempty"`
}

// AllowsUserType reports whether userType is in the rule's allowed set
func (r AccessRule) AllowsUserType(userType string) bool {
	for _, t := range r.AllowedUserTypes {
		if t == userType {
			return true
		}
	}
	return false
}

// AccessDecision represents the result of an access check
type AccessDecision struct {
	Allowed         bool     `json:"allowed"`
	Reason          string   `json:"reason,omitempty"`
	ComplianceFlags []string `json:"compliance_flags,omitempty"`
}

// AgeValidation is the outcome of a COPPA age check
type AgeValidation struct {
	Compliant               bool     `json:"compliant"`
	RequiresParentalConsent bool     `json:"requires_parental_consent"`
	Warnings                []string `json:"warnings,omitempty"`
}

// RetentionDecision is the outcome of a retention check
type RetentionDecision struct {
	Retain bool   `json:"retain"`
	Reason string `json:"reason"`
	Action string `json:"action,omitempty"`
}

// RetentionPolicy defines how long a data type is kept after last activity
type RetentionPolicy struct {
	DataType    string `json:"data_type"`
	Years       int    `json:"years"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// Requirement is a regulatory requirement description
type Requirement struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// AuditLogEntry represents an entry in the audit log
type AuditLogEntry struct {
	ID              string                 `json:"id"`
	Timestamp       time.Time              `json:"timestamp"`
	UserID          string                 `json:"user_id,omitempty"`
	UserType        string                 `json:"user_type"`
	HubID           string                 `json:"hub_id,omitempty"`
	Action          string                 `json:"action"`
	Resource        string                 `json:"resource"`
	ResourceID      string                 `json:"resource_id,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
	IPAddress       string                 `json:"ip_address,omitempty"`
	UserAgent       string                 `json:"user_agent,omitempty"`
	Success         bool                   `json:"success"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ComplianceFlags []string               `json:"compliance_flags,omitempty"`
	SensitiveData   bool                   `json:"sensitive_data"`
}

// AuditFilter represents filters for audit queries. Nil pointer fields and
// zero values are ignored.
type AuditFilter struct {
	UserID        string    `json:"user_id,omitempty"`
	Resource      string    `json:"resource,omitempty"`
	Action        string    `json:"action,omitempty"`
	HubID         string    `json:"hub_id,omitempty"`
	StartTime     time.Time `json:"start_time,omitempty"`
	EndTime       time.Time `json:"end_time,omitempty"`
	SensitiveData *bool     `json:"sensitive_data,omitempty"`
	Success       *bool     `json:"success,omitempty"`
	Limit         int       `json:"limit,omitempty"`
	Offset        int       `json:"offset,omitempty"`
}

// AuditPage is one page of audit entries plus the unpaginated match count
type AuditPage struct {
	Logs  []AuditLogEntry `json:"logs"`
	Total int             `json:"total"`
}

// ComplianceReport aggregates the audit buffer for compliance review
type ComplianceReport struct {
	HubID               string          `json:"hub_id,omitempty"`
	TotalEvents         int             `json:"total_events"`
	SensitiveDataEvents int             `json:"sensitive_data_events"`
	FailedEvents        int             `json:"failed_events"`
	ComplianceFlags     map[string]int  `json:"compliance_flags"`
	RecentEvents        []AuditLogEntry `json:"recent_events"`
	GeneratedAt         time.Time       `json:"generated_at"`
}
