package policy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
	"github.com/upb/tenant-governance/services/audit"
	"github.com/upb/tenant-governance/utils"
)

// TenantLookup reports the lifecycle state of a live tenant.
// Unknown or inactive tenants return a not_found error.
type TenantLookup interface {
	Status(tenantID string) (models.TenantStatus, error)
}

// Violation is a failed rule
type Violation struct {
	PolicyID   string              `json:"policy_id"`
	PolicyName string              `json:"policy_name"`
	RuleID     string              `json:"rule_id"`
	RuleName   string              `json:"rule_name,omitempty"`
	Category   models.RuleCategory `json:"category"`
	Action     models.RuleAction   `json:"action"`
	Severity   models.Severity     `json:"severity,omitempty"`
	Reason     string              `json:"reason"`
	Blocking   bool                `json:"blocking"`
}

// Decision is the outcome of an evaluation
type Decision struct {
	Allowed           bool        `json:"allowed"`
	Reason            string      `json:"reason"`
	Violations        []Violation `json:"violations"`
	EvaluatedPolicies int         `json:"evaluated_policies"`
}

// Err returns a policy_blocked error for the first blocking violation, or nil
func (d *Decision) Err() error {
	if d == nil || d.Allowed {
		return nil
	}
	for _, v := range d.Violations {
		if v.Blocking {
			return services.NewPolicyBlocked(v.Reason, v.PolicyID, v.RuleID)
		}
	}
	return services.NewPolicyBlocked(d.Reason, "", "")
}

type compiledRule struct {
	rule      models.SecurityRule
	evaluator RuleEvaluator
}

type compiledPolicy struct {
	policy *models.SecurityPolicy
	rules  []compiledRule
}

// snapshot is an immutable view of the policy set, in creation order
type snapshot struct {
	policies []*compiledPolicy
}

func (s *snapshot) index(id string) int {
	for i, p := range s.policies {
		if p.policy.ID == id {
			return i
		}
	}
	return -1
}

// Options wire an Engine to its collaborators
type Options struct {
	// Tenants gates evaluation on tenant state. Nil skips the check.
	Tenants TenantLookup
	// Sink receives one entry per evaluation. Nil disables auditing.
	Sink      audit.Sink
	Decisions *prometheus.CounterVec
}

// Engine evaluates security policies. Reads go through an atomic snapshot;
// writes serialize on mu and publish a new snapshot.
type Engine struct {
	mu       sync.Mutex
	current  atomic.Pointer[snapshot]
	registry *Registry

	tenants   TenantLookup
	sink      audit.Sink
	decisions *prometheus.CounterVec
	now       func() time.Time
	logger    *zap.Logger
}

// NewEngine creates an engine with no policies
func NewEngine(registry *Registry, opts Options, logger *zap.Logger) *Engine {
	e := &Engine{
		registry:  registry,
		tenants:   opts.Tenants,
		sink:      opts.Sink,
		decisions: opts.Decisions,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	e.current.Store(&snapshot{})
	return e
}

// Evaluate runs every enabled rule of every enabled policy against sc.
// A failed rule is always a violation; it blocks only when its policy is
// strict and the rule action is deny. Within a strict policy the first
// blocking violation skips that policy's remaining rules.
//
// The only error returned is tenant-not-found for an unknown, inactive or
// suspended tenant. A blocked request is reported through Decision.Err.
// Exactly one audit entry is written per call, even if ctx is cancelled.
func (e *Engine) Evaluate(ctx context.Context, sc *models.SecurityContext, action, resource string) (*Decision, error) {
	if sc == nil {
		sc = &models.SecurityContext{}
	}

	if err := e.checkTenant(sc.TenantID); err != nil {
		entry := models.NewAuditEntry(action, resource, models.AuditResultFailure).
			WithContext(sc).
			WithReason("tenant not found or inactive")
		e.record(ctx, entry)
		return nil, err
	}

	snap := e.current.Load()
	decision := &Decision{Allowed: true, Violations: []Violation{}}
	var auditRules []string

	for _, cp := range snap.policies {
		if !cp.policy.Enabled {
			continue
		}
		decision.EvaluatedPolicies++

		for _, cr := range cp.rules {
			if !cr.rule.Enabled {
				continue
			}
			out := cr.evaluator.Evaluate(ctx, Input{
				Context:  sc,
				Action:   action,
				Resource: resource,
				PolicyID: cp.policy.ID,
				RuleID:   cr.rule.ID,
			})
			if id, ok := out.Metadata["audit_rule"].(string); ok {
				auditRules = append(auditRules, id)
			}
			if out.Passed {
				continue
			}

			v := Violation{
				PolicyID:   cp.policy.ID,
				PolicyName: cp.policy.Name,
				RuleID:     cr.rule.ID,
				RuleName:   cr.rule.Name,
				Category:   cr.rule.Category,
				Action:     cr.rule.Action,
				Severity:   cr.rule.Severity,
				Reason:     out.Reason,
				Blocking:   cp.policy.Blocks(cr.rule),
			}
			decision.Violations = append(decision.Violations, v)

			if v.Blocking {
				if decision.Allowed {
					decision.Allowed = false
					decision.Reason = v.Reason
				}
				break
			}
		}
	}

	result := models.AuditResultBlocked
	if decision.Allowed {
		result = models.AuditResultSuccess
		decision.Reason = "allowed"
	}

	entry := models.NewAuditEntry(action, resource, result).
		WithContext(sc).
		WithReason(decision.Reason).
		WithMetadata("evaluated_policies", decision.EvaluatedPolicies).
		WithMetadata("violations", len(decision.Violations))
	if len(decision.Violations) > 0 {
		rules := make([]string, len(decision.Violations))
		for i, v := range decision.Violations {
			rules[i] = v.PolicyID + "/" + v.RuleID
		}
		entry.WithMetadata("violated_rules", rules)
	}
	if len(auditRules) > 0 {
		entry.WithMetadata("audit_rules", auditRules)
	}
	if sc.SourceIP != "" {
		entry.WithMetadata("source_ip", sc.SourceIP)
	}
	e.record(ctx, entry)

	return decision, nil
}

func (e *Engine) checkTenant(tenantID string) error {
	if tenantID == "" || e.tenants == nil {
		return nil
	}
	status, err := e.tenants.Status(tenantID)
	if err != nil {
		return err
	}
	if status != models.TenantStatusActive {
		// Suspended tenants hold no allocation and get no service.
		return services.NewTenantNotFound(tenantID)
	}
	return nil
}

// record appends entry on a context detached from the caller. Failures are
// logged and never change the decision.
func (e *Engine) record(ctx context.Context, entry *models.AuditEntry) {
	if e.decisions != nil {
		e.decisions.WithLabelValues(string(entry.Result)).Inc()
	}
	if e.sink == nil {
		return
	}
	if err := e.sink.Append(context.WithoutCancel(ctx), *entry); err != nil {
		e.logger.Warn("failed to append audit entry",
			zap.String("request_id", entry.RequestID),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

// Create validates and compiles policy, assigns ids and version 1, and
// publishes it after the existing policies
func (e *Engine) Create(ctx context.Context, policy models.SecurityPolicy) (*models.SecurityPolicy, error) {
	p := policy.Clone()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := e.now()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	cp, err := e.compile(ctx, p)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.current.Load()
	if old.index(p.ID) >= 0 {
		return nil, services.NewDomainError(services.ErrorTypeConflict, "policy already exists", nil).
			WithDetail("policy_id", p.ID)
	}
	next := &snapshot{policies: make([]*compiledPolicy, 0, len(old.policies)+1)}
	next.policies = append(next.policies, old.policies...)
	next.policies = append(next.policies, cp)
	e.current.Store(next)

	e.logger.Info("policy created",
		zap.String("policy_id", p.ID),
		zap.String("name", p.Name),
		zap.String("enforcement", string(p.Enforcement)),
		zap.Int("rules", len(p.Rules)),
	)
	return p.Clone(), nil
}

// Update replaces the definition of an existing policy, keeping its id,
// creation time and position, and bumping its version
func (e *Engine) Update(ctx context.Context, id string, policy models.SecurityPolicy) (*models.SecurityPolicy, error) {
	p := policy.Clone()
	p.ID = id

	// Compile before taking the lock; Rego compilation is the slow part.
	cp, err := e.compile(ctx, p)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.current.Load()
	i := old.index(id)
	if i < 0 {
		return nil, services.NewPolicyNotFound(id)
	}
	prev := old.policies[i].policy
	p.CreatedAt = prev.CreatedAt
	p.Version = prev.Version + 1
	p.UpdatedAt = e.now()
	if !p.UpdatedAt.After(prev.UpdatedAt) {
		p.UpdatedAt = prev.UpdatedAt.Add(time.Nanosecond)
	}

	next := &snapshot{policies: append([]*compiledPolicy(nil), old.policies...)}
	next.policies[i] = cp
	e.current.Store(next)

	e.logger.Info("policy updated",
		zap.String("policy_id", id),
		zap.Int("version", p.Version),
	)
	return p.Clone(), nil
}

// Delete removes a policy. It reports whether the policy existed; deleting
// an unknown id is not an error.
func (e *Engine) Delete(_ context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.current.Load()
	i := old.index(id)
	if i < 0 {
		return false, nil
	}
	next := &snapshot{policies: make([]*compiledPolicy, 0, len(old.policies)-1)}
	next.policies = append(next.policies, old.policies[:i]...)
	next.policies = append(next.policies, old.policies[i+1:]...)
	e.current.Store(next)

	e.logger.Info("policy deleted", zap.String("policy_id", id))
	return true, nil
}

// Get returns a copy of one policy
func (e *Engine) Get(_ context.Context, id string) (*models.SecurityPolicy, error) {
	snap := e.current.Load()
	i := snap.index(id)
	if i < 0 {
		return nil, services.NewPolicyNotFound(id)
	}
	return snap.policies[i].policy.Clone(), nil
}

// List returns copies of all policies in creation order
func (e *Engine) List(_ context.Context) []*models.SecurityPolicy {
	snap := e.current.Load()
	out := make([]*models.SecurityPolicy, len(snap.policies))
	for i, cp := range snap.policies {
		out[i] = cp.policy.Clone()
	}
	return out
}

// Load creates each policy in order, stopping at the first failure
func (e *Engine) Load(ctx context.Context, policies []models.SecurityPolicy) error {
	for _, p := range policies {
		if _, err := e.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// compile validates p, assigns missing rule ids and builds every rule evaluator.
// Disabled rules are compiled too so enabling them later cannot fail.
func (e *Engine) compile(ctx context.Context, p *models.SecurityPolicy) (*compiledPolicy, error) {
	if err := utils.ValidateStruct(p); err != nil {
		return nil, services.FromValidation("invalid policy", err)
	}

	cp := &compiledPolicy{policy: p, rules: make([]compiledRule, len(p.Rules))}
	seen := make(map[string]bool, len(p.Rules))
	for i := range p.Rules {
		rule := &p.Rules[i]
		if rule.ID == "" {
			rule.ID = uuid.New().String()
		}
		if seen[rule.ID] {
			return nil, services.NewValidationError("rules", "duplicate rule id "+rule.ID)
		}
		seen[rule.ID] = true

		ev, err := e.registry.Build(ctx, *rule)
		if err != nil {
			return nil, err
		}
		cp.rules[i] = compiledRule{rule: *rule, evaluator: ev}
	}
	return cp, nil
}
