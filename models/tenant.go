package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Plan represents a subscription tier
type Plan string

const (
	PlanBasic        Plan = "basic"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// Plans lists every plan tier in ascending order
var Plans = []Plan{PlanBasic, PlanProfessional, PlanEnterprise}

// ParsePlan converts a string into a Plan, rejecting unknown tiers
func ParsePlan(s string) (Plan, error) {
	switch Plan(s) {
	case PlanBasic, PlanProfessional, PlanEnterprise:
		return Plan(s), nil
	default:
		return "", fmt.Errorf("unknown plan %q", s)
	}
}

// TenantStatus represents the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusProvisioning TenantStatus = "provisioning"
	TenantStatusActive       TenantStatus = "active"
	TenantStatusSuspended    TenantStatus = "suspended"
	TenantStatusInactive     TenantStatus = "inactive"
)

// CanTransitionTo reports whether the state machine allows moving from s to next.
// inactive is terminal.
func (s TenantStatus) CanTransitionTo(next TenantStatus) bool {
	switch s {
	case TenantStatusProvisioning:
		return next == TenantStatusActive
	case TenantStatusActive:
		return next == TenantStatusSuspended || next == TenantStatusInactive
	case TenantStatusSuspended:
		return next == TenantStatusActive || next == TenantStatusInactive
	default:
		return false
	}
}

// DataIsolation describes how strongly a tenant's data is separated
type DataIsolation string

const (
	DataIsolationStrict  DataIsolation = "strict"
	DataIsolationLogical DataIsolation = "logical"
)

// TenantLimits are the plan-derived ceilings for a tenant
type TenantLimits struct {
	MaxUsers              int   `json:"max_users" yaml:"max_users"`
	MaxAgents             int   `json:"max_agents" yaml:"max_agents"`
	MaxRequestsPerMinute  int   `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	MaxStorageGB          int64 `json:"max_storage_gb" yaml:"max_storage_gb"`
	MaxConcurrentSessions int   `json:"max_concurrent_sessions" yaml:"max_concurrent_sessions"`
}

// TenantConfiguration is opaque to the governance core
type TenantConfiguration struct {
	FeatureFlags         map[string]bool `json:"feature_flags,omitempty"`
	SecurityPolicyIDs    []string        `json:"security_policy_ids,omitempty"`
	ComplianceFrameworks []string        `json:"compliance_frameworks,omitempty"`
}

// Clone returns a deep copy of the configuration
func (c TenantConfiguration) Clone() TenantConfiguration {
	out := TenantConfiguration{
		SecurityPolicyIDs:    append([]string(nil), c.SecurityPolicyIDs...),
		ComplianceFrameworks: append([]string(nil), c.ComplianceFrameworks...),
	}
	if c.FeatureFlags != nil {
		out.FeatureFlags = make(map[string]bool, len(c.FeatureFlags))
		for k, v := range c.FeatureFlags {
			out.FeatureFlags[k] = v
		}
	}
	return out
}

// IsolationConfig records how a tenant is isolated from its neighbours
type IsolationConfig struct {
	Namespace     string        `json:"namespace"`
	DataIsolation DataIsolation `json:"data_isolation"`
	EncryptionKey string        `json:"-"` // Never serialized
}

// Tenant represents an isolated customer organization
type Tenant struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Domain        string              `json:"domain"`
	Plan          Plan                `json:"plan"`
	Status        TenantStatus        `json:"status"`
	Limits        TenantLimits        `json:"limits"`
	Configuration TenantConfiguration `json:"configuration"`
	Isolation     IsolationConfig     `json:"isolation"`
	Quotas        []ResourceQuota     `json:"quotas"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// NewTenant creates a new Tenant in the provisioning state
func NewTenant(name, domain string, plan Plan) *Tenant {
	now := time.Now()
	return &Tenant{
		ID:        uuid.New().String(),
		Name:      name,
		Domain:    domain,
		Plan:      plan,
		Status:    TenantStatusProvisioning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsLive reports whether the tenant still exists from a caller's point of view
func (t *Tenant) IsLive() bool {
	return t.Status != TenantStatusInactive
}

// Clone returns a deep copy safe to hand out of the registry
func (t *Tenant) Clone() *Tenant {
	out := *t
	out.Configuration = t.Configuration.Clone()
	out.Quotas = append([]ResourceQuota(nil), t.Quotas...)
	return &out
}
