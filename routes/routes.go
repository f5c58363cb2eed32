package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/tenant-governance/app"
	"github.com/upb/tenant-governance/middleware"
	"github.com/upb/tenant-governance/utils"
)

// Actions checked by the policy engine before tenant-scoped handlers run
const (
	ActionQuotaRead   = "tenant.quota.read"
	ActionUsageRead   = "tenant.usage.read"
	ActionUsageReport = "tenant.usage.report"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.Use(chimw.Timeout(timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.Health.HandleHealth)
	r.Get("/readyz", deps.Health.HandleReadiness)
	if cfg.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	adminRole := cfg.Auth.AdminRole
	auth := deps.AuthMiddleware
	enforce := deps.PolicyMiddleware.Enforce
	requireAdmin := auth.RequireRole(adminRole)
	tenantParam := func(r *http.Request) string { return chi.URLParam(r, "id") }

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Use(deps.PolicyMiddleware.LimitByIP)

		// Any authenticated caller
		r.Post("/evaluate", deps.Admission.HandleEvaluate)
		r.Post("/ratelimit/check", deps.Admission.HandleCheckRateLimit)

		r.Route("/tenants", func(r chi.Router) {
			r.With(requireAdmin).Get("/", deps.Tenant.HandleList)
			r.With(requireAdmin).Post("/", deps.Tenant.HandleProvision)

			// Tenant members see their own tenant; admins see all
			r.Route("/{id}", func(r chi.Router) {
				r.Use(auth.RequireTenantAccess(adminRole, tenantParam))
				r.Get("/", deps.Tenant.HandleGet)
				r.With(enforce(ActionQuotaRead)).Get("/quotas", deps.Tenant.HandleQuotas)
				r.With(enforce(ActionUsageRead)).Get("/usage", deps.Tenant.HandleUsageHistory)
				r.With(enforce(ActionUsageReport)).Put("/usage", deps.Tenant.HandleReportUsage)
				r.With(requireAdmin).Post("/actions", deps.Tenant.HandleAction)
			})
		})

		// Administration
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/pools", deps.Tenant.HandlePools)
			r.Get("/audit", deps.Audit.HandleQuery)
			r.Get("/audit/logs", deps.Audit.HandleQuery)
			r.Delete("/ratelimit/{identifier}", deps.Admission.HandleResetRateLimit)

			r.Route("/policies", func(r chi.Router) {
				r.Get("/", deps.Policy.HandleListPolicies)
				r.Post("/", deps.Policy.HandleCreatePolicy)
				r.Get("/{id}", deps.Policy.HandleGetPolicy)
				r.Put("/{id}", deps.Policy.HandleUpdatePolicy)
				r.Delete("/{id}", deps.Policy.HandleDeletePolicy)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
