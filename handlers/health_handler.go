package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/utils"
)

const (
	checkHealthy   = "healthy"
	checkUnhealthy = "unhealthy"
	checkDisabled  = "disabled"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests. Either backend may be
// nil when it is not configured.
type HealthHandler struct {
	db     *sql.DB
	redis  redis.UniversalClient
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *sql.DB, rdb redis.UniversalClient, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		redis:  rdb,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only; always 200 while the process serves requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    checkHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{
		"database":  h.check(ctx, "database", h.db != nil, h.checkDatabase),
		"ratelimit": h.check(ctx, "ratelimit", h.redis != nil, h.checkRedis),
	}

	status := checkHealthy
	httpStatus := http.StatusOK
	for _, c := range checks {
		if c == checkUnhealthy {
			status = checkUnhealthy
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) check(ctx context.Context, name string, enabled bool, fn func(context.Context) error) string {
	if !enabled {
		return checkDisabled
	}
	if err := fn(ctx); err != nil {
		h.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
		return checkUnhealthy
	}
	return checkHealthy
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}

// checkRedis checks the shared rate limit backend. The limiter fails open
// to local counters, so an outage here only degrades accuracy.
func (h *HealthHandler) checkRedis(ctx context.Context) error {
	return h.redis.Ping(ctx).Err()
}
