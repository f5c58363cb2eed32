package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/services"
	"github.com/upb/tenant-governance/services/ratelimit"
	"github.com/upb/tenant-governance/utils"
)

// EvaluateRequest is the body of POST /api/v1/evaluate
type EvaluateRequest struct {
	Action   string `json:"action" validate:"required,max=255"`
	Resource string `json:"resource" validate:"required,max=1024"`
}

// RateLimitCheckRequest is the body of POST /api/v1/ratelimit/check.
// An empty identifier means the caller's own user key.
type RateLimitCheckRequest struct {
	Identifier string `json:"identifier,omitempty" validate:"max=512"`
	Preset     string `json:"preset" validate:"required"`
}

// AdmissionHandler answers policy and rate limit questions
type AdmissionHandler struct {
	svc       GovernanceService
	adminRole string
	logger    *zap.Logger
}

// NewAdmissionHandler creates a new AdmissionHandler. Only adminRole may
// check or reset identifiers other than its own.
func NewAdmissionHandler(svc GovernanceService, adminRole string, logger *zap.Logger) *AdmissionHandler {
	return &AdmissionHandler{svc: svc, adminRole: adminRole, logger: logger}
}

// HandleEvaluate handles POST /api/v1/evaluate. A blocked request is still
// a 200; the decision says so.
func (h *AdmissionHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	sc, ok := currentSecurity(w, r)
	if !ok {
		return
	}

	var req EvaluateRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleServiceError(w, services.FromValidation("invalid evaluation request", err), h.logger)
		return
	}

	decision, err := h.svc.Evaluate(r.Context(), sc, req.Action, req.Resource)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, decision)
}

// HandleCheckRateLimit handles POST /api/v1/ratelimit/check
func (h *AdmissionHandler) HandleCheckRateLimit(w http.ResponseWriter, r *http.Request) {
	sc, ok := currentSecurity(w, r)
	if !ok {
		return
	}

	var req RateLimitCheckRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleDecodeError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleServiceError(w, services.FromValidation("invalid rate limit check", err), h.logger)
		return
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = ratelimit.UserKey(sc.Principal())
	} else if !sc.HasRole(h.adminRole) {
		_ = utils.WriteForbidden(w, "Only administrators may check other identifiers")
		return
	}

	res, err := h.svc.CheckRateLimit(r.Context(), identifier, req.Preset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		_ = utils.WriteTooManyRequests(w, "Rate limit exceeded", time.Until(res.ResetAt), map[string]interface{}{
			"limit":    res.Limit,
			"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
		})
		return
	}
	_ = utils.WriteOK(w, res)
}

// HandleResetRateLimit handles DELETE /api/v1/ratelimit/{identifier}
func (h *AdmissionHandler) HandleResetRateLimit(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.svc.ResetRateLimit(r.Context(), identifier); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.logger.Info("rate limit reset", zap.String("identifier", identifier))
	utils.WriteNoContent(w)
}
