package rbac

import (
	"errors"
	"fmt"
)

// ErrAccessDenied is the sentinel matched by every AccessError
var ErrAccessDenied = errors.New("access denied")

// AccessError represents a denied access decision with detailed context
type AccessError struct {
	UserID          string   `json:"user_id,omitempty"`
	UserType        string   `json:"user_type"`
	Resource        string   `json:"resource"`
	Action          string   `json:"action"`
	ResourceID      string   `json:"resource_id,omitempty"`
	Reason          string   `json:"reason"`
	ComplianceFlags []string `json:"compliance_flags,omitempty"`
}

// Error implements the error interface. Only the reason and the rule
// coordinates are included.
func (e *AccessError) Error() string {
	return fmt.Sprintf("access denied for %s:%s: %s", e.Resource, e.Action, e.Reason)
}

// Unwrap allows errors.Is(err, ErrAccessDenied)
func (e *AccessError) Unwrap() error {
	return ErrAccessDenied
}

// NewAccessError creates an access error for a denied decision
func NewAccessError(ac *AccessContext, resource, action, resourceID string, decision *AccessDecision) *AccessError {
	e := &AccessError{
		Resource:   resource,
		Action:     action,
		ResourceID: resourceID,
	}
	if ac != nil {
		e.UserID = ac.UserID
		e.UserType = ac.UserType
	}
	if decision != nil {
		e.Reason = decision.Reason
		e.ComplianceFlags = decision.ComplianceFlags
	}
	return e
}

// IsAccessError checks if an error is an access error
func IsAccessError(err error) bool {
	var accessErr *AccessError
	return errors.As(err, &accessErr)
}

// GetAccessError extracts an access error from a generic error
func GetAccessError(err error) (*AccessError, bool) {
	var accessErr *AccessError
	ok := errors.As(err, &accessErr)
	return accessErr, ok
}

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("multiple validation errors: %d errors found", len(e))
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
