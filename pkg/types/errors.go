package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeAuthorization ErrorType = "authorization"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeCompliance    ErrorType = "compliance"
	ErrorTypeCrypto        ErrorType = "crypto"
	ErrorTypeExhausted     ErrorType = "exhausted"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
)

// HubError represents a structured error surfaced by hub services
type HubError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *HubError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *HubError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *HubError {
	return &HubError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *HubError {
	return &HubError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *HubError {
	return &HubError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewComplianceError creates a new compliance error
func NewComplianceError(code, message string, details map[string]interface{}) *HubError {
	return &HubError{
		Type:    ErrorTypeCompliance,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewCryptoError wraps a cryptographic failure. The message is fixed by the
// caller and never echoes the cause.
func NewCryptoError(code, message string, cause error) *HubError {
	return &HubError{
		Type:    ErrorTypeCrypto,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewExhaustedError signals that a bounded retry budget ran out
func NewExhaustedError(code, message string, cause error) *HubError {
	return &HubError{
		Type:    ErrorTypeExhausted,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorTypeOf returns the type of the first HubError in err's chain
func ErrorTypeOf(err error) (ErrorType, bool) {
	var hubErr *HubError
	if errors.As(err, &hubErr) {
		return hubErr.Type, true
	}
	return "", false
}

// Common error codes
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInvalidAge          = "INVALID_AGE"
	ErrCodeInvalidCode         = "INVALID_CODE"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeEncryptionFailed    = "ENCRYPTION_FAILED"
	ErrCodeDecryptionFailed    = "DECRYPTION_FAILED"
	ErrCodeCodeExhausted       = "CODE_GENERATION_EXHAUSTED"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeComplianceViolation = "COMPLIANCE_VIOLATION"
)
