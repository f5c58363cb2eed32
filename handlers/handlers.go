package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services/governance"
	"github.com/upb/tenant-governance/services/policy"
	"github.com/upb/tenant-governance/services/ratelimit"
	"github.com/upb/tenant-governance/services/resource"
	"github.com/upb/tenant-governance/services/tenant"
	"github.com/upb/tenant-governance/utils"
)

// GovernanceService is the part of the governance core the HTTP layer uses
type GovernanceService interface {
	ProvisionTenant(ctx context.Context, req tenant.ProvisionRequest) (*models.Tenant, error)
	ManageTenant(ctx context.Context, tenantID string, op governance.TenantOperation) (*models.Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	ListTenants(ctx context.Context) []*models.Tenant
	TenantQuotas(ctx context.Context, tenantID string) ([]models.ResourceQuota, error)
	ReportUsage(ctx context.Context, tenantID string, kind models.ResourceKind, used int64) (models.ResourceQuota, error)
	UsageHistory(ctx context.Context, tenantID string) ([]tenant.UsageSample, error)
	PoolUtilization() []resource.Snapshot

	Evaluate(ctx context.Context, sc *models.SecurityContext, action, resource string) (*policy.Decision, error)
	CheckRateLimit(ctx context.Context, identifier, preset string) (ratelimit.Result, error)
	ResetRateLimit(ctx context.Context, identifier string) error
	ManagePolicy(ctx context.Context, cmd governance.PolicyCommand) (*governance.PolicyResult, error)
}

// ListResponse wraps collection responses
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// currentSecurity returns the caller's security context or writes a 401
func currentSecurity(w http.ResponseWriter, r *http.Request) (*models.SecurityContext, bool) {
	sc, ok := models.SecurityFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return nil, false
	}
	return sc, true
}

// queryInt parses an integer query parameter, clamping it to [1, max]
func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
