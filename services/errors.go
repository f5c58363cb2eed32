package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/utils"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound             ErrorType = "not_found"
	ErrorTypeValidation           ErrorType = "validation"
	ErrorTypeUnauthorized         ErrorType = "unauthorized"
	ErrorTypeForbidden            ErrorType = "forbidden"
	ErrorTypeRateLimit            ErrorType = "rate_limit"
	ErrorTypeInsufficientResource ErrorType = "insufficient_resource"
	ErrorTypePolicyBlocked        ErrorType = "policy_blocked"
	ErrorTypeConflict             ErrorType = "conflict"
	ErrorTypeInternal             ErrorType = "internal"
	// Never surfaced to callers; the rate limiter falls open instead.
	ErrorTypeBackendUnavailable ErrorType = "backend_unavailable"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. These are comparison targets for errors.Is;
// never call WithDetail on them.

var (
	// Not Found Errors
	ErrTenantNotFound = NewDomainError(ErrorTypeNotFound, "tenant not found", nil)
	ErrPolicyNotFound = NewDomainError(ErrorTypeNotFound, "policy not found", nil)
	ErrPoolNotFound   = NewDomainError(ErrorTypeNotFound, "resource pool not found", nil)

	// Validation Errors
	ErrInvalidInput        = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidPlan         = NewDomainError(ErrorTypeValidation, "invalid plan", nil)
	ErrInvalidPolicyConfig = NewDomainError(ErrorTypeValidation, "invalid policy configuration", nil)
	ErrInvalidTransition   = NewDomainError(ErrorTypeValidation, "invalid tenant status transition", nil)
	ErrUnknownPreset       = NewDomainError(ErrorTypeValidation, "unknown rate limit preset", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)

	// Permission Errors
	ErrForbidden               = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, "insufficient permissions", nil)

	// Limit Errors
	ErrRateLimitExceeded    = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)
	ErrInsufficientResource = NewDomainError(ErrorTypeInsufficientResource, "insufficient resources", nil)
	ErrPolicyBlocked        = NewDomainError(ErrorTypePolicyBlocked, "blocked by security policy", nil)

	// Conflict Errors
	ErrDuplicateDomain  = NewDomainError(ErrorTypeConflict, "tenant domain already exists", nil)
	ErrConcurrentUpdate = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)

	// Internal Errors
	ErrInternal           = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError      = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrBackendUnavailable = NewDomainError(ErrorTypeBackendUnavailable, "backend unavailable", nil)
)

// NewTenantNotFound returns a not-found error carrying the tenant ID
func NewTenantNotFound(tenantID string) error {
	return NewDomainError(ErrorTypeNotFound, "tenant not found", nil).
		WithDetail("tenant_id", tenantID)
}

// NewPolicyNotFound returns a not-found error carrying the policy ID
func NewPolicyNotFound(policyID string) error {
	return NewDomainError(ErrorTypeNotFound, "policy not found", nil).
		WithDetail("policy_id", policyID)
}

// NewValidationError returns a validation error with a field detail
func NewValidationError(field, message string) error {
	return NewDomainError(ErrorTypeValidation, message, nil).
		WithDetail("field", field)
}

// FromValidation converts a struct validation failure into a validation error
// carrying the per-field messages
func FromValidation(message string, err error) error {
	if err == nil {
		return nil
	}
	domainErr := NewDomainError(ErrorTypeValidation, message, err)
	if fields := utils.GetValidationFields(err); fields != nil {
		domainErr.WithDetail("fields", fields)
	}
	return domainErr
}

// NewInsufficientResource reports the first resource kind that did not fit
func NewInsufficientResource(kind models.ResourceKind, requested, available int64) error {
	return NewDomainError(ErrorTypeInsufficientResource,
		fmt.Sprintf("insufficient %s: requested %d, available %d", kind, requested, available), nil).
		WithDetail("kind", string(kind)).
		WithDetail("requested", requested).
		WithDetail("available", available)
}

// NewRateLimited returns a rate limit error carrying the window reset time
func NewRateLimited(resetAt time.Time) error {
	return NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil).
		WithDetail("reset_at", resetAt.UTC().Format(time.RFC3339))
}

// NewPolicyBlocked returns a policy-blocked error naming the blocking rule
func NewPolicyBlocked(reason, policyID, ruleID string) error {
	return NewDomainError(ErrorTypePolicyBlocked, reason, nil).
		WithDetail("policy_id", policyID).
		WithDetail("rule_id", ruleID)
}

// NewBackendUnavailable wraps a store failure
func NewBackendUnavailable(err error) error {
	return NewDomainError(ErrorTypeBackendUnavailable, "backend unavailable", err)
}

// Error type checking helper functions

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return isType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return isType(err, ErrorTypeForbidden)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return isType(err, ErrorTypeRateLimit)
}

// IsInsufficientResourceError checks if an error is a capacity error
func IsInsufficientResourceError(err error) bool {
	return isType(err, ErrorTypeInsufficientResource)
}

// IsPolicyBlockedError checks if an error is a policy block
func IsPolicyBlockedError(err error) bool {
	return isType(err, ErrorTypePolicyBlocked)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// IsBackendUnavailableError checks if an error is a backend failure
func IsBackendUnavailableError(err error) bool {
	return isType(err, ErrorTypeBackendUnavailable)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
