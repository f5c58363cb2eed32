package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services/audit"
	"github.com/upb/tenant-governance/utils"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditReader is the queryable part of the audit trail
type AuditReader interface {
	Query(f audit.Filter) []models.AuditEntry
}

// AuditHandler serves the in-memory audit trail
type AuditHandler struct {
	reader AuditReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(reader AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{reader: reader, logger: logger}
}

// HandleQuery handles GET /api/v1/audit. Results are newest first.
func (h *AuditHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	result := models.AuditResult(q.Get("result"))
	switch result {
	case "", models.AuditResultSuccess, models.AuditResultFailure, models.AuditResultBlocked:
	default:
		_ = utils.WriteBadRequest(w, "invalid result filter", map[string]interface{}{
			"result": string(result),
		})
		return
	}

	entries := h.reader.Query(audit.Filter{
		TenantID:  q.Get("tenant_id"),
		UserID:    q.Get("user_id"),
		RequestID: q.Get("request_id"),
		Action:    q.Get("action"),
		Result:    result,
		Limit:     queryInt(r, "limit", defaultAuditLimit, maxAuditLimit),
	})
	_ = utils.WriteOK(w, ListResponse{Data: entries, Total: len(entries)})
}
