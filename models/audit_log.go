package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditResult is the outcome recorded for a governance decision
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
	AuditResultBlocked AuditResult = "blocked"
)

// Audit actions emitted by the governance core itself
const (
	AuditActionTenantProvisioned   = "tenant.provisioned"
	AuditActionTenantUpdated       = "tenant.updated"
	AuditActionTenantSuspended     = "tenant.suspended"
	AuditActionTenantActivated     = "tenant.activated"
	AuditActionTenantDeprovisioned = "tenant.deprovisioned"
	AuditActionPolicyCreated       = "policy.created"
	AuditActionPolicyUpdated       = "policy.updated"
	AuditActionPolicyDeleted       = "policy.deleted"
)

// AuditEntry is an append-only record of a governance decision.
// Entries are passed by value and never mutated once appended.
type AuditEntry struct {
	ID        uuid.UUID              `json:"id" db:"id"`
	RequestID string                 `json:"request_id" db:"request_id"`
	Action    string                 `json:"action" db:"action"`
	Resource  string                 `json:"resource" db:"resource"`
	UserID    string                 `json:"user_id,omitempty" db:"user_id"`
	TenantID  string                 `json:"tenant_id,omitempty" db:"tenant_id"`
	Result    AuditResult            `json:"result" db:"result"`
	Reason    string                 `json:"reason,omitempty" db:"reason"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}

// TableName returns the table name for the AuditEntry model
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// NewAuditEntry creates a new AuditEntry instance
func NewAuditEntry(action, resource string, result AuditResult) *AuditEntry {
	return &AuditEntry{
		ID:        uuid.New(),
		Action:    action,
		Resource:  resource,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
}

// WithContext copies principal and request identity from a security context
func (a *AuditEntry) WithContext(sc *SecurityContext) *AuditEntry {
	if sc == nil {
		return a
	}
	a.RequestID = sc.RequestID
	a.UserID = sc.UserID
	a.TenantID = sc.TenantID
	return a
}

// WithRequest sets the request ID
func (a *AuditEntry) WithRequest(requestID string) *AuditEntry {
	a.RequestID = requestID
	return a
}

// WithTenant sets the tenant ID
func (a *AuditEntry) WithTenant(tenantID string) *AuditEntry {
	a.TenantID = tenantID
	return a
}

// WithReason sets the reason
func (a *AuditEntry) WithReason(reason string) *AuditEntry {
	a.Reason = reason
	return a
}

// WithMetadata sets a metadata field
func (a *AuditEntry) WithMetadata(key string, value interface{}) *AuditEntry {
	if a.Metadata == nil {
		a.Metadata = make(map[string]interface{})
	}
	a.Metadata[key] = value
	return a
}
