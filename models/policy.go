package models

import (
	"time"

	"github.com/google/uuid"
)

// Enforcement controls whether a policy may block requests
type Enforcement string

const (
	EnforcementStrict     Enforcement = "strict"
	EnforcementPermissive Enforcement = "permissive"
	EnforcementAuditOnly  Enforcement = "audit-only"
)

// RuleCategory selects how a rule is evaluated
type RuleCategory string

const (
	RuleCategoryAuthentication RuleCategory = "authentication"
	RuleCategoryAuthorization  RuleCategory = "authorization"
	RuleCategoryValidation     RuleCategory = "validation"
	RuleCategoryRateLimiting   RuleCategory = "rate-limiting"
	RuleCategoryAudit          RuleCategory = "audit"
)

// RuleAction is what a rule asks for when it fails
type RuleAction string

const (
	RuleActionAllow RuleAction = "allow"
	RuleActionDeny  RuleAction = "deny"
	RuleActionLog   RuleAction = "log"
	RuleActionAlert RuleAction = "alert"
)

// Severity ranks rule violations
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RateLimitScope selects which principal a rate-limiting rule counts against
type RateLimitScope string

const (
	ScopeUser   RateLimitScope = "user"
	ScopeIP     RateLimitScope = "ip"
	ScopeTenant RateLimitScope = "tenant"
)

// RuleCondition holds the typed predicate parameters of a rule.
// Which fields are read depends on the rule category.
type RuleCondition struct {
	Permission  string         `json:"permission,omitempty" yaml:"permission"`
	Roles       []string       `json:"roles,omitempty" yaml:"roles"`
	MaxRequests int            `json:"max_requests,omitempty" yaml:"max_requests"`
	WindowMs    int64          `json:"window_ms,omitempty" yaml:"window_ms"`
	Scope       RateLimitScope `json:"scope,omitempty" yaml:"scope"`
	Module      string         `json:"module,omitempty" yaml:"module"` // Rego source for validation rules
}

// SecurityRule is a single condition inside a policy
type SecurityRule struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Category  RuleCategory  `json:"category" yaml:"category" validate:"required,oneof=authentication authorization validation rate-limiting audit"`
	Condition RuleCondition `json:"condition" yaml:"condition"`
	Action    RuleAction    `json:"action" yaml:"action" validate:"required,oneof=allow deny log alert"`
	Severity  Severity      `json:"severity" yaml:"severity" validate:"omitempty,oneof=low medium high critical"`
	Enabled   bool          `json:"enabled" yaml:"enabled"`
}

// SecurityPolicy is a named, versioned, ordered set of rules
type SecurityPolicy struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name" validate:"required"`
	Version     int            `json:"version" yaml:"version"`
	Enforcement Enforcement    `json:"enforcement" yaml:"enforcement" validate:"required,oneof=strict permissive audit-only"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Rules       []SecurityRule `json:"rules" yaml:"rules" validate:"dive"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"-"`
}

// NewSecurityPolicy creates a new enabled policy at version 1
func NewSecurityPolicy(name string, enforcement Enforcement, rules []SecurityRule) *SecurityPolicy {
	now := time.Now()
	return &SecurityPolicy{
		ID:          uuid.New().String(),
		Name:        name,
		Version:     1,
		Enforcement: enforcement,
		Enabled:     true,
		Rules:       rules,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Blocks reports whether a failure of rule should block the request under this policy
func (p *SecurityPolicy) Blocks(rule SecurityRule) bool {
	return p.Enforcement == EnforcementStrict && rule.Action == RuleActionDeny
}

// Clone returns a deep copy of the policy
func (p *SecurityPolicy) Clone() *SecurityPolicy {
	out := *p
	out.Rules = make([]SecurityRule, len(p.Rules))
	for i, r := range p.Rules {
		r.Condition.Roles = append([]string(nil), r.Condition.Roles...)
		out.Rules[i] = r
	}
	return &out
}
