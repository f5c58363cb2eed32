package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
	"github.com/upb/tenant-governance/services/governance"
	"github.com/upb/tenant-governance/services/tenant"
	"github.com/upb/tenant-governance/utils"
)

// TenantActionRequest is the body of POST /tenants/{id}/actions
type TenantActionRequest struct {
	Action        string                      `json:"action" validate:"required,oneof=update suspend activate deprovision"`
	Plan          *models.Plan                `json:"plan,omitempty"`
	Name          *string                     `json:"name,omitempty"`
	Configuration *models.TenantConfiguration `json:"configuration,omitempty"`
}

// operation converts the request into a tenant operation
func (r TenantActionRequest) operation() governance.TenantOperation {
	switch r.Action {
	case "suspend":
		return governance.SuspendTenant{}
	case "activate":
		return governance.ActivateTenant{}
	case "deprovision":
		return governance.DeprovisionTenant{}
	default:
		return governance.UpdateTenant{Plan: r.Plan, Name: r.Name, Configuration: r.Configuration}
	}
}

// UsageReportRequest is the body of PUT /tenants/{id}/usage
type UsageReportRequest struct {
	Kind models.ResourceKind `json:"kind" validate:"required"`
	Used *int64              `json:"used" validate:"required,gte=0"`
}

// TenantHandler handles tenant lifecycle and quota requests
type TenantHandler struct {
	svc    GovernanceService
	logger *zap.Logger
}

// NewTenantHandler creates a new TenantHandler
func NewTenantHandler(svc GovernanceService, logger *zap.Logger) *TenantHandler {
	return &TenantHandler{svc: svc, logger: logger}
}

// HandleProvision handles POST /api/v1/tenants
func (h *TenantHandler) HandleProvision(w http.ResponseWriter, r *http.Request) {
	var req tenant.ProvisionRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}

	t, err := h.svc.ProvisionTenant(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("tenant provisioned",
		zap.String("tenant_id", t.ID),
		zap.String("plan", string(t.Plan)))
	_ = utils.WriteCreated(w, t)
}

// HandleList handles GET /api/v1/tenants
func (h *TenantHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenants := h.svc.ListTenants(r.Context())
	_ = utils.WriteOK(w, ListResponse{Data: tenants, Total: len(tenants)})
}

// HandleGet handles GET /api/v1/tenants/{id}
func (h *TenantHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTenant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, t)
}

// HandleAction handles POST /api/v1/tenants/{id}/actions
func (h *TenantHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req TenantActionRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleServiceError(w, services.FromValidation("invalid tenant action", err), h.logger)
		return
	}

	id := chi.URLParam(r, "id")
	t, err := h.svc.ManageTenant(r.Context(), id, req.operation())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("tenant updated",
		zap.String("tenant_id", id),
		zap.String("action", req.Action),
		zap.String("status", string(t.Status)))
	_ = utils.WriteOK(w, t)
}

// HandleQuotas handles GET /api/v1/tenants/{id}/quotas
func (h *TenantHandler) HandleQuotas(w http.ResponseWriter, r *http.Request) {
	quotas, err := h.svc.TenantQuotas(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, ListResponse{Data: quotas, Total: len(quotas)})
}

// HandleReportUsage handles PUT /api/v1/tenants/{id}/usage
func (h *TenantHandler) HandleReportUsage(w http.ResponseWriter, r *http.Request) {
	var req UsageReportRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleServiceError(w, services.FromValidation("invalid usage report", err), h.logger)
		return
	}

	q, err := h.svc.ReportUsage(r.Context(), chi.URLParam(r, "id"), req.Kind, *req.Used)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, q)
}

// HandleUsageHistory handles GET /api/v1/tenants/{id}/usage
func (h *TenantHandler) HandleUsageHistory(w http.ResponseWriter, r *http.Request) {
	samples, err := h.svc.UsageHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, ListResponse{Data: samples, Total: len(samples)})
}

// HandlePools handles GET /api/v1/pools
func (h *TenantHandler) HandlePools(w http.ResponseWriter, r *http.Request) {
	pools := h.svc.PoolUtilization()
	_ = utils.WriteOK(w, ListResponse{Data: pools, Total: len(pools)})
}
