package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services/governance"
	"github.com/upb/tenant-governance/utils"
)

// PolicyHandler handles security policy administration
type PolicyHandler struct {
	svc    GovernanceService
	logger *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(svc GovernanceService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleListPolicies handles GET /api/v1/policies
func (h *PolicyHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ManagePolicy(r.Context(), governance.ListPolicies{})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, ListResponse{Data: res.Policies, Total: len(res.Policies)})
}

// HandleCreatePolicy handles POST /api/v1/policies
func (h *PolicyHandler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req models.SecurityPolicy
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}

	res, err := h.svc.ManagePolicy(r.Context(), governance.CreatePolicy{Policy: req})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy created",
		zap.String("policy_id", res.Policy.ID),
		zap.String("enforcement", string(res.Policy.Enforcement)))
	_ = utils.WriteCreated(w, res.Policy)
}

// HandleGetPolicy handles GET /api/v1/policies/{id}
func (h *PolicyHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ManagePolicy(r.Context(), governance.GetPolicy{ID: chi.URLParam(r, "id")})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, res.Policy)
}

// HandleUpdatePolicy handles PUT /api/v1/policies/{id}
func (h *PolicyHandler) HandleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req models.SecurityPolicy
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}

	id := chi.URLParam(r, "id")
	res, err := h.svc.ManagePolicy(r.Context(), governance.UpdatePolicy{ID: id, Policy: req})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy updated",
		zap.String("policy_id", id),
		zap.Int("version", res.Policy.Version))
	_ = utils.WriteOK(w, res.Policy)
}

// HandleDeletePolicy handles DELETE /api/v1/policies/{id}. Deleting a
// missing policy is not an error.
func (h *PolicyHandler) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.svc.ManagePolicy(r.Context(), governance.DeletePolicy{ID: id})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if res.Existed {
		h.logger.Info("policy deleted", zap.String("policy_id", id))
	}
	utils.WriteNoContent(w)
}
