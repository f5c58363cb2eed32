package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/internal/observability"
	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
	"github.com/upb/tenant-governance/services/audit"
	"github.com/upb/tenant-governance/services/policy"
	"github.com/upb/tenant-governance/services/ratelimit"
	"github.com/upb/tenant-governance/services/resource"
	"github.com/upb/tenant-governance/services/tenant"
)

const tracerName = "github.com/upb/tenant-governance/services/governance"

// MaintenanceConfig controls the background sweep
type MaintenanceConfig struct {
	Interval time.Duration
	// RateLimitGrace is how long an expired window is kept before it is purged
	RateLimitGrace time.Duration
	// UsageRetention is how long tenant usage samples are kept
	UsageRetention time.Duration
}

// DefaultMaintenanceConfig returns the maintenance defaults
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Interval:       time.Minute,
		RateLimitGrace: 5 * time.Second,
		UsageRetention: 24 * time.Hour,
	}
}

// Deps are the components a Service coordinates
type Deps struct {
	Tenants  *tenant.Registry
	Pools    *resource.Manager
	Limiter  *ratelimit.Limiter
	Policies *policy.Engine
	// Sink receives the administrative audit trail. Nil disables it.
	Sink audit.Sink
	// Metrics is optional
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Service is the inbound boundary of the governance core
type Service struct {
	tenants  *tenant.Registry
	pools    *resource.Manager
	limiter  *ratelimit.Limiter
	policies *policy.Engine
	sink     audit.Sink
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *zap.Logger

	maintenance MaintenanceConfig
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewService creates a Service. Background maintenance starts with Start.
func NewService(deps Deps, maintenance MaintenanceConfig) *Service {
	defaults := DefaultMaintenanceConfig()
	if maintenance.Interval <= 0 {
		maintenance.Interval = defaults.Interval
	}
	if maintenance.RateLimitGrace <= 0 {
		maintenance.RateLimitGrace = defaults.RateLimitGrace
	}
	if maintenance.UsageRetention <= 0 {
		maintenance.UsageRetention = defaults.UsageRetention
	}
	return &Service{
		tenants:     deps.Tenants,
		pools:       deps.Pools,
		limiter:     deps.Limiter,
		policies:    deps.Policies,
		sink:        deps.Sink,
		metrics:     deps.Metrics,
		tracer:      otel.Tracer(tracerName),
		logger:      deps.Logger,
		maintenance: maintenance,
	}
}

// ProvisionTenant creates a tenant and reserves its plan allocation
func (s *Service) ProvisionTenant(ctx context.Context, req tenant.ProvisionRequest) (*models.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "governance.ProvisionTenant",
		trace.WithAttributes(attribute.String("tenant.plan", string(req.Plan))))
	defer span.End()

	t, err := s.tenants.Provision(ctx, req)
	if err != nil {
		endWithError(span, err)
		s.recordAdmin(ctx, models.AuditActionTenantProvisioned, "tenant/"+req.Domain, "", err)
		return nil, err
	}

	span.SetAttributes(attribute.String("tenant.id", t.ID))
	s.recordAdmin(ctx, models.AuditActionTenantProvisioned, "tenant/"+t.ID, t.ID, nil)
	return t, nil
}

// ManageTenant applies a lifecycle operation to a tenant
func (s *Service) ManageTenant(ctx context.Context, tenantID string, op TenantOperation) (*models.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "governance.ManageTenant",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("operation", fmt.Sprintf("%T", op)),
		))
	defer span.End()

	var (
		t      *models.Tenant
		err    error
		action string
	)
	switch op := op.(type) {
	case UpdateTenant:
		action = models.AuditActionTenantUpdated
		t, err = s.updateTenant(ctx, tenantID, op)
	case SuspendTenant:
		action = models.AuditActionTenantSuspended
		t, err = s.tenants.Suspend(ctx, tenantID)
	case ActivateTenant:
		action = models.AuditActionTenantActivated
		t, err = s.tenants.Activate(ctx, tenantID)
	case DeprovisionTenant:
		action = models.AuditActionTenantDeprovisioned
		t, err = s.tenants.Deprovision(ctx, tenantID)
	default:
		err = services.NewValidationError("operation", fmt.Sprintf("unsupported tenant operation %T", op))
		endWithError(span, err)
		return nil, err
	}

	s.recordAdmin(ctx, action, "tenant/"+tenantID, tenantID, err)
	if err != nil {
		endWithError(span, err)
		return nil, err
	}
	return t, nil
}

func (s *Service) updateTenant(ctx context.Context, tenantID string, op UpdateTenant) (*models.Tenant, error) {
	if op.Plan == nil && op.Name == nil && op.Configuration == nil {
		return nil, services.NewValidationError("update", "nothing to update")
	}
	cfg := tenant.ConfigurationUpdate{Name: op.Name, Configuration: op.Configuration}
	return s.tenants.Update(ctx, tenantID, op.Plan, cfg)
}

// GetTenant returns a live tenant
func (s *Service) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return s.tenants.Get(ctx, tenantID)
}

// ListTenants returns all live tenants
func (s *Service) ListTenants(ctx context.Context) []*models.Tenant {
	return s.tenants.List(ctx)
}

// TenantQuotas returns a tenant's quotas
func (s *Service) TenantQuotas(ctx context.Context, tenantID string) ([]models.ResourceQuota, error) {
	return s.tenants.Quotas(ctx, tenantID)
}

// ReportUsage records consumption against a tenant quota
func (s *Service) ReportUsage(ctx context.Context, tenantID string, kind models.ResourceKind, used int64) (models.ResourceQuota, error) {
	return s.tenants.ReportUsage(ctx, tenantID, kind, used)
}

// UsageHistory returns a tenant's recent usage samples, oldest first
func (s *Service) UsageHistory(ctx context.Context, tenantID string) ([]tenant.UsageSample, error) {
	return s.tenants.UsageHistory(ctx, tenantID)
}

// Evaluate decides whether sc may perform action on resource. A strict
// policy block is returned in the decision, not as an error.
func (s *Service) Evaluate(ctx context.Context, sc *models.SecurityContext, action, resource string) (*policy.Decision, error) {
	ctx, span := s.tracer.Start(ctx, "governance.Evaluate",
		trace.WithAttributes(
			attribute.String("action", action),
			attribute.String("resource", resource),
		))
	defer span.End()
	if sc != nil && sc.TenantID != "" {
		span.SetAttributes(attribute.String("tenant.id", sc.TenantID))
	}

	d, err := s.policies.Evaluate(ctx, sc, action, resource)
	if err != nil {
		endWithError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("decision.allowed", d.Allowed),
		attribute.Int("decision.violations", len(d.Violations)),
	)
	return d, nil
}

// CheckRateLimit counts one request for identifier against a named preset
func (s *Service) CheckRateLimit(ctx context.Context, identifier, preset string) (ratelimit.Result, error) {
	ctx, span := s.tracer.Start(ctx, "governance.CheckRateLimit",
		trace.WithAttributes(attribute.String("preset", preset)))
	defer span.End()

	res, err := s.limiter.CheckPreset(ctx, identifier, preset)
	if err != nil {
		endWithError(span, err)
		return ratelimit.Result{}, err
	}
	span.SetAttributes(attribute.Bool("ratelimit.allowed", res.Allowed))
	return res, nil
}

// ResetRateLimit clears the window of identifier
func (s *Service) ResetRateLimit(ctx context.Context, identifier string) error {
	if identifier == "" {
		return services.NewValidationError("identifier", "identifier is required")
	}
	return s.limiter.Reset(ctx, identifier)
}

// ManagePolicy runs a policy administration command
func (s *Service) ManagePolicy(ctx context.Context, cmd PolicyCommand) (*PolicyResult, error) {
	ctx, span := s.tracer.Start(ctx, "governance.ManagePolicy",
		trace.WithAttributes(attribute.String("command", fmt.Sprintf("%T", cmd))))
	defer span.End()

	var (
		result = &PolicyResult{}
		err    error
	)
	switch cmd := cmd.(type) {
	case CreatePolicy:
		result.Policy, err = s.policies.Create(ctx, cmd.Policy)
		id := cmd.Policy.ID
		if result.Policy != nil {
			id = result.Policy.ID
		}
		s.recordAdmin(ctx, models.AuditActionPolicyCreated, "policy/"+id, "", err)
	case UpdatePolicy:
		result.Policy, err = s.policies.Update(ctx, cmd.ID, cmd.Policy)
		s.recordAdmin(ctx, models.AuditActionPolicyUpdated, "policy/"+cmd.ID, "", err)
	case DeletePolicy:
		result.Existed, err = s.policies.Delete(ctx, cmd.ID)
		if result.Existed {
			s.recordAdmin(ctx, models.AuditActionPolicyDeleted, "policy/"+cmd.ID, "", err)
		}
	case GetPolicy:
		result.Policy, err = s.policies.Get(ctx, cmd.ID)
	case ListPolicies:
		result.Policies = s.policies.List(ctx)
	default:
		err = services.NewValidationError("command", fmt.Sprintf("unsupported policy command %T", cmd))
	}

	if err != nil {
		endWithError(span, err)
		return nil, err
	}
	return result, nil
}

// recordAdmin appends one entry for an administrative mutation. The actor
// comes from the security context attached to ctx, when there is one.
func (s *Service) recordAdmin(ctx context.Context, action, resource, tenantID string, opErr error) {
	if s.sink == nil {
		return
	}

	result := models.AuditResultSuccess
	reason := ""
	if opErr != nil {
		result = models.AuditResultFailure
		reason = opErr.Error()
	}

	entry := models.NewAuditEntry(action, resource, result).WithReason(reason)
	if sc, ok := models.SecurityFromContext(ctx); ok {
		entry.WithRequest(sc.RequestID)
		entry.UserID = sc.UserID
		if sc.TenantID != "" {
			entry.WithMetadata("actor_tenant_id", sc.TenantID)
		}
	}
	if tenantID != "" {
		entry.WithTenant(tenantID)
	}

	if err := s.sink.Append(context.WithoutCancel(ctx), *entry); err != nil {
		s.logger.Warn("failed to append audit entry",
			zap.String("action", action),
			zap.String("resource", resource),
			zap.Error(err),
		)
	}
}

func endWithError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
