package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tenant-governance/handlers"
	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
	"github.com/upb/tenant-governance/services/policy"
	"github.com/upb/tenant-governance/services/ratelimit"
	"github.com/upb/tenant-governance/utils"
)

// DecisionKey is the context key for the policy decision of the request
const DecisionKey contextKey = "policy_decision"

// PolicyEvaluator defines the interface for policy evaluation
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, sc *models.SecurityContext, action, resource string) (*policy.Decision, error)
}

// RateLimitChecker defines the interface for rate limit checking
type RateLimitChecker interface {
	CheckPreset(ctx context.Context, identifier, preset string) (ratelimit.Result, error)
}

// PolicyEnforcementMiddleware puts the governance core in front of handlers
type PolicyEnforcementMiddleware struct {
	evaluator PolicyEvaluator
	limiter   RateLimitChecker
	preset    string
	ipSalt    string
	logger    *zap.Logger
}

// NewPolicyEnforcementMiddleware creates a new PolicyEnforcementMiddleware.
// preset names the rate limit applied per client address.
func NewPolicyEnforcementMiddleware(
	evaluator PolicyEvaluator,
	limiter RateLimitChecker,
	preset, ipSalt string,
	logger *zap.Logger,
) *PolicyEnforcementMiddleware {
	return &PolicyEnforcementMiddleware{
		evaluator: evaluator,
		limiter:   limiter,
		preset:    preset,
		ipSalt:    ipSalt,
		logger:    logger,
	}
}

// LimitByIP applies the configured preset to the hashed client address
func (m *PolicyEnforcementMiddleware) LimitByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		res, err := m.limiter.CheckPreset(ctx, ratelimit.IPKey(clientIP(r), m.ipSalt), m.preset)
		if err != nil {
			// Misconfiguration must not take the API down.
			m.logger.Error("failed to check rate limit",
				zap.String("request_id", requestID),
				zap.String("preset", m.preset),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			m.logger.Warn("request blocked by rate limit",
				zap.String("request_id", requestID),
				zap.String("preset", m.preset))
			_ = utils.WriteTooManyRequests(w, "Rate limit exceeded", time.Until(res.ResetAt), map[string]interface{}{
				"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Enforce evaluates the security policies for action on the request path.
// It must run after RequireAuth.
func (m *PolicyEnforcementMiddleware) Enforce(action string) func(http.Handler) http.Handler {
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

			decision, err := m.evaluator.Evaluate(ctx, sc, action, r.URL.Path)
			if err != nil {
				m.logger.Debug("policy evaluation failed",
					zap.String("request_id", requestID),
					zap.String("action", action),
					zap.Error(err))
				handlers.HandleServiceError(w, err, m.logger)
				return
			}

			if blocked := decision.Err(); blocked != nil {
				m.logger.Warn("request blocked by policy",
					zap.String("request_id", requestID),
					zap.String("action", action),
					zap.Int("violations", len(decision.Violations)))
				_ = utils.WritePolicyBlocked(w, decision.Reason, services.GetErrorDetails(blocked))
				return
			}

			ctx = context.WithValue(ctx, DecisionKey, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDecisionFromContext retrieves the policy decision from context
func GetDecisionFromContext(ctx context.Context) *policy.Decision {
	if val := ctx.Value(DecisionKey); val != nil {
		if d, ok := val.(*policy.Decision); ok {
			return d
		}
	}
	return nil
}
