package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/utils"
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// AuthMiddleware turns bearer tokens into security contexts
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// authTokenCookieName is the cookie name for JWT tokens (Authorization header takes precedence)
const authTokenCookieName = "auth_token"

// RequireAuth is a middleware that requires a valid JWT token. On success
// the claims and the derived SecurityContext are attached to the request.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		sc := &models.SecurityContext{
			RequestID:   requestID,
			TenantID:    claims.TenantID,
			UserID:      claims.Subject,
			SessionID:   claims.SessionID,
			Roles:       append([]string(nil), claims.Roles...),
			Permissions: append([]string(nil), claims.Permissions...),
			SourceIP:    clientIP(r),
			UserAgent:   r.UserAgent(),
		}
		ctx = WithClaims(ctx, claims)
		ctx = models.ContextWithSecurity(ctx, sc)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Subject),
			zap.String("tenant_id", claims.TenantID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole is a middleware that requires a specific role
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			sc, ok := models.SecurityFromContext(ctx)
			if !ok {
				m.logger.Error("security context not found",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !sc.HasRole(role) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("required_role", role),
					zap.Strings("roles", sc.Roles))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenantAccess lets a caller through when it belongs to the tenant
// named by tenantID(r) or holds adminRole
func (m *AuthMiddleware) RequireTenantAccess(adminRole string, tenantID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, ok := models.SecurityFromContext(r.Context())
			if !ok {
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}
			target := tenantID(r)
			if sc.HasRole(adminRole) || (sc.TenantID != "" && sc.TenantID == target) {
				next.ServeHTTP(w, r)
				return
			}
			m.logger.Warn("cross-tenant access denied",
				zap.String("request_id", sc.RequestID),
				zap.String("tenant_id", sc.TenantID),
				zap.String("target_tenant_id", target))
			_ = utils.WriteForbidden(w, "Access to this tenant is not allowed")
		})
	}
}

// extractToken extracts JWT from the Authorization header ("Bearer TOKEN")
// or, failing that, the auth_token cookie
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
