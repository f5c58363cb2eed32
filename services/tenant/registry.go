package tenant

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
	"github.com/upb/tenant-governance/services/resource"
	"github.com/upb/tenant-governance/utils"
)

// ProvisionRequest carries the caller-supplied fields of a new tenant
type ProvisionRequest struct {
	Name          string                     `json:"name" validate:"required,min=1,max=255"`
	Domain        string                     `json:"domain" validate:"required,fqdn,max=253"`
	Plan          models.Plan                `json:"plan" validate:"required,plan"`
	Configuration models.TenantConfiguration `json:"configuration"`
}

// ConfigurationUpdate changes mutable tenant fields. Nil fields are left alone.
type ConfigurationUpdate struct {
	Name          *string                     `json:"name,omitempty" validate:"omitnil,min=1,max=255"`
	Configuration *models.TenantConfiguration `json:"configuration,omitempty"`
}

// entry is one tenant plus its lock. Status changes, pool calls and quota
// updates for a tenant all happen while holding mu.
type entry struct {
	mu     sync.Mutex
	tenant *models.Tenant
	usage  *usageRing
}

// Registry owns tenant records and drives their pool allocations.
// Lock order is entry.mu before Registry.mu; pool locks are innermost.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*entry
	domains map[string]string

	plans        PlanTable
	pools        *resource.Manager
	keys         *KeyDeriver
	usageHistory int
	now          func() time.Time
	logger       *zap.Logger
}

// Options tune a Registry
type Options struct {
	// UsageHistory bounds the usage samples kept per tenant
	UsageHistory int
}

// NewRegistry creates an empty registry
func NewRegistry(plans PlanTable, pools *resource.Manager, keys *KeyDeriver, opts Options, logger *zap.Logger) (*Registry, error) {
	if err := plans.Validate(); err != nil {
		return nil, err
	}
	if opts.UsageHistory <= 0 {
		opts.UsageHistory = DefaultUsageHistory
	}
	return &Registry{
		tenants:      make(map[string]*entry),
		domains:      make(map[string]string),
		plans:        plans,
		pools:        pools,
		keys:         keys,
		usageHistory: opts.UsageHistory,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}, nil
}

// Provision validates req, reserves the plan allocation and stores the tenant
// as active. If the allocation fails nothing is stored.
func (r *Registry) Provision(ctx context.Context, req ProvisionRequest) (*models.Tenant, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, services.FromValidation("invalid provisioning request", err)
	}
	spec, ok := r.plans[req.Plan]
	if !ok {
		return nil, services.NewValidationError("plan", "unknown plan "+string(req.Plan))
	}
	pool, err := r.pools.Pool(req.Plan)
	if err != nil {
		return nil, err
	}

	domain := normalizeDomain(req.Domain)
	t := models.NewTenant(req.Name, domain, req.Plan)
	t.Configuration = req.Configuration.Clone()
	t.Limits = spec.Limits

	key, err := r.keys.Derive(t.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to build tenant isolation", err)
	}
	t.Isolation = isolationFor(t, key)

	// Reserve the domain first so two concurrent requests cannot both pass the check.
	r.mu.Lock()
	if _, taken := r.domains[domain]; taken {
		r.mu.Unlock()
		return nil, services.NewDomainError(services.ErrorTypeConflict, "tenant domain already exists", nil).
			WithDetail("domain", domain)
	}
	r.domains[domain] = t.ID
	r.mu.Unlock()

	if err := pool.Allocate(ctx, t.ID, spec.Allocation); err != nil {
		r.mu.Lock()
		delete(r.domains, domain)
		r.mu.Unlock()
		r.logger.Warn("tenant provisioning rejected",
			zap.String("domain", domain),
			zap.String("plan", string(req.Plan)),
			zap.Error(err),
		)
		return nil, err
	}

	t.Status = models.TenantStatusActive
	t.Quotas = quotasFor(spec, nil)
	t.UpdatedAt = r.now()

	r.mu.Lock()
	r.tenants[t.ID] = &entry{tenant: t, usage: newUsageRing(r.usageHistory)}
	r.mu.Unlock()

	r.logger.Info("tenant provisioned",
		zap.String("tenant_id", t.ID),
		zap.String("domain", domain),
		zap.String("plan", string(t.Plan)),
	)
	return t.Clone(), nil
}

// Get returns a copy of a live tenant. Unknown and deprovisioned tenants
// both yield a tenant-not-found error.
func (r *Registry) Get(_ context.Context, id string) (*models.Tenant, error) {
	e, err := r.lockLive(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.tenant.Clone(), nil
}

// Status reports a live tenant's lifecycle state
func (r *Registry) Status(id string) (models.TenantStatus, error) {
	e, err := r.lockLive(id)
	if err != nil {
		return "", err
	}
	defer e.mu.Unlock()
	return e.tenant.Status, nil
}

// List returns copies of all live tenants, oldest first
func (r *Registry) List(_ context.Context) []*models.Tenant {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.tenants))
	for _, e := range r.tenants {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*models.Tenant, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.tenant.IsLive() {
			out = append(out, e.tenant.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Counts returns the number of live tenants per status
func (r *Registry) Counts() map[models.TenantStatus]int {
	counts := map[models.TenantStatus]int{
		models.TenantStatusActive:    0,
		models.TenantStatusSuspended: 0,
	}
	for _, t := range r.List(context.Background()) {
		counts[t.Status]++
	}
	return counts
}

// Suspend moves an active tenant to suspended and frees its allocation.
// Quotas and usage are kept.
func (r *Registry) Suspend(_ context.Context, id string) (*models.Tenant, error) {
	e, err := r.lockLive(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if err := r.transition(e.tenant, models.TenantStatusSuspended); err != nil {
		return nil, err
	}
	if pool, err := r.pools.Pool(e.tenant.Plan); err == nil {
		pool.Release(id)
	}
	e.tenant.Status = models.TenantStatusSuspended
	e.tenant.UpdatedAt = r.now()

	r.logger.Info("tenant suspended", zap.String("tenant_id", id))
	return e.tenant.Clone(), nil
}

// Activate re-allocates a suspended tenant under its current plan. When the
// pool cannot fit it the tenant stays suspended and the error is returned.
func (r *Registry) Activate(ctx context.Context, id string) (*models.Tenant, error) {
	e, err := r.lockLive(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if err := r.transition(e.tenant, models.TenantStatusActive); err != nil {
		return nil, err
	}
	pool, err := r.pools.Pool(e.tenant.Plan)
	if err != nil {
		return nil, err
	}
	if err := pool.Allocate(ctx, id, r.plans[e.tenant.Plan].Allocation); err != nil {
		r.logger.Warn("tenant activation rejected", zap.String("tenant_id", id), zap.Error(err))
		return nil, err
	}
	e.tenant.Status = models.TenantStatusActive
	e.tenant.UpdatedAt = r.now()

	r.logger.Info("tenant activated", zap.String("tenant_id", id))
	return e.tenant.Clone(), nil
}

// Deprovision marks the tenant inactive and frees everything it holds.
// Afterwards the tenant is indistinguishable from one that never existed.
func (r *Registry) Deprovision(_ context.Context, id string) (*models.Tenant, error) {
	e, err := r.lockLive(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if err := r.transition(e.tenant, models.TenantStatusInactive); err != nil {
		return nil, err
	}
	if pool, err := r.pools.Pool(e.tenant.Plan); err == nil {
		pool.Release(id)
	}
	e.tenant.Status = models.TenantStatusInactive
	e.tenant.UpdatedAt = r.now()

	r.mu.Lock()
	delete(r.tenants, id)
	if r.domains[e.tenant.Domain] == id {
		delete(r.domains, e.tenant.Domain)
	}
	r.mu.Unlock()

	r.logger.Info("tenant deprovisioned", zap.String("tenant_id", id))
	return e.tenant.Clone(), nil
}

// UpdatePlan moves a tenant to newPlan. For an active tenant the new
// allocation is reserved before the old one is released, so a failure
// leaves the old plan and allocation untouched. Suspended tenants only
// have their entitlements recomputed; they allocate on activation.
func (r *Registry) UpdatePlan(ctx context.Context, id string, newPlan models.Plan) (*models.Tenant, error) {
	return r.Update(ctx, id, &newPlan, ConfigurationUpdate{})
}

// UpdateConfiguration changes the tenant's name and/or opaque configuration
func (r *Registry) UpdateConfiguration(ctx context.Context, id string, update ConfigurationUpdate) (*models.Tenant, error) {
	return r.Update(ctx, id, nil, update)
}

// Update applies an optional plan change and a configuration update under
// one hold of the tenant lock. Either both take effect or neither does.
func (r *Registry) Update(ctx context.Context, id string, newPlan *models.Plan, update ConfigurationUpdate) (*models.Tenant, error) {
	if err := utils.ValidateStruct(update); err != nil {
		return nil, services.FromValidation("invalid tenant update", err)
	}
	var spec PlanSpec
	if newPlan != nil {
		if _, err := models.ParsePlan(string(*newPlan)); err != nil {
			return nil, services.NewValidationError("plan", err.Error())
		}
		var ok bool
		if spec, ok = r.plans[*newPlan]; !ok {
			return nil, services.NewValidationError("plan", "unknown plan "+string(*newPlan))
		}
	}

	e, err := r.lockLive(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if newPlan != nil {
		if err := r.changePlan(ctx, e, *newPlan, spec); err != nil {
			return nil, err
		}
	}
	if update.Name != nil {
		e.tenant.Name = *update.Name
	}
	if update.Configuration != nil {
		e.tenant.Configuration = update.Configuration.Clone()
	}
	e.tenant.UpdatedAt = r.now()
	return e.tenant.Clone(), nil
}

// changePlan must be called with e.mu held. Nothing is modified when it
// returns an error.
func (r *Registry) changePlan(ctx context.Context, e *entry, newPlan models.Plan, spec PlanSpec) error {
	t := e.tenant
	oldPlan := t.Plan
	if err := checkUsageFits(spec, t.Quotas); err != nil {
		r.logger.Warn("plan change rejected: usage exceeds new plan",
			zap.String("tenant_id", t.ID),
			zap.String("from", string(oldPlan)),
			zap.String("to", string(newPlan)),
			zap.Error(err),
		)
		return err
	}
	if t.Status == models.TenantStatusActive {
		newPool, err := r.pools.Pool(newPlan)
		if err != nil {
			return err
		}
		if err := newPool.Allocate(ctx, t.ID, spec.Allocation); err != nil {
			r.logger.Warn("plan change rejected",
				zap.String("tenant_id", t.ID),
				zap.String("from", string(oldPlan)),
				zap.String("to", string(newPlan)),
				zap.Error(err),
			)
			return err
		}
		if newPlan != oldPlan {
			if oldPool, err := r.pools.Pool(oldPlan); err == nil {
				oldPool.Release(t.ID)
			}
		}
	}

	key := t.Isolation.EncryptionKey
	t.Plan = newPlan
	t.Limits = spec.Limits
	t.Quotas = quotasFor(spec, t.Quotas)
	t.Isolation = isolationFor(t, key)

	r.logger.Info("tenant plan updated",
		zap.String("tenant_id", t.ID),
		zap.String("from", string(oldPlan)),
		zap.String("to", string(newPlan)),
	)
	return nil
}

// Quotas returns a copy of the tenant's quotas
func (r *Registry) Quotas(_ context.Context, id string) ([]models.ResourceQuota, error) {
	e, err := r.lockLive(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return append([]models.ResourceQuota(nil), e.tenant.Quotas...), nil
}

// ReportUsage records the current consumption of one resource kind. Under an
// enforced quota a value above the allocation is rejected, never truncated.
func (r *Registry) ReportUsage(_ context.Context, id string, kind models.ResourceKind, used int64) (models.ResourceQuota, error) {
	if used < 0 {
		return models.ResourceQuota{}, services.NewValidationError("used", "usage must not be negative")
	}

	e, err := r.lockLive(id)
	if err != nil {
		return models.ResourceQuota{}, err
	}
	defer e.mu.Unlock()

	for i := range e.tenant.Quotas {
		q := &e.tenant.Quotas[i]
		if q.Kind != kind {
			continue
		}
		if q.EnforceLimit && used > q.Allocated {
			return *q, services.NewInsufficientResource(kind, used, q.Allocated)
		}
		q.Used = used
		now := r.now()
		e.usage.add(UsageSample{Kind: kind, Used: used, ReportedAt: now})
		e.tenant.UpdatedAt = now
		return *q, nil
	}
	return models.ResourceQuota{}, services.NewValidationError("kind", "no quota for resource kind "+string(kind))
}

// UsageHistory returns the retained usage samples for a tenant, oldest first
func (r *Registry) UsageHistory(_ context.Context, id string) ([]UsageSample, error) {
	e, err := r.lockLive(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.usage.snapshot(), nil
}

// PruneUsage drops usage samples reported before olderThan and returns how many were removed
func (r *Registry) PruneUsage(olderThan time.Time) int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.tenants))
	for _, e := range r.tenants {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	pruned := 0
	for _, e := range entries {
		e.mu.Lock()
		pruned += e.usage.pruneBefore(olderThan)
		e.mu.Unlock()
	}
	return pruned
}

// lockLive returns the tenant's entry locked, or tenant-not-found
func (r *Registry) lockLive(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.tenants[id]
	r.mu.RUnlock()
	if !ok {
		return nil, services.NewTenantNotFound(id)
	}

	e.mu.Lock()
	if !e.tenant.IsLive() {
		e.mu.Unlock()
		return nil, services.NewTenantNotFound(id)
	}
	return e, nil
}

func (r *Registry) transition(t *models.Tenant, next models.TenantStatus) error {
	if t.Status.CanTransitionTo(next) {
		return nil
	}
	return services.NewDomainError(services.ErrorTypeValidation, "invalid tenant status transition", nil).
		WithDetail("from", string(t.Status)).
		WithDetail("to", string(next))
}

func normalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}
