package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
	"github.com/upb/tenant-governance/services/policy"
	"github.com/upb/tenant-governance/services/ratelimit"
)

// MockPolicyEvaluator is a mock implementation of PolicyEvaluator
type MockPolicyEvaluator struct {
	mock.Mock
}

func (m *MockPolicyEvaluator) Evaluate(ctx context.Context, sc *models.SecurityContext, action, resource string) (*policy.Decision, error) {
	args := m.Called(ctx, sc, action, resource)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*policy.Decision), args.Error(1)
}

// MockRateLimitChecker is a mock implementation of RateLimitChecker
type MockRateLimitChecker struct {
	mock.Mock
}

func (m *MockRateLimitChecker) CheckPreset(ctx context.Context, identifier, preset string) (ratelimit.Result, error) {
	args := m.Called(ctx, identifier, preset)
	return args.Get(0).(ratelimit.Result), args.Error(1)
}

func TestLimitByIP(t *testing.T) {
	logger := zap.NewNop()
	key := ratelimit.IPKey("198.51.100.4", "salt")
	resetAt := time.Now().Add(30 * time.Second)

	t.Run("allowed request carries headers", func(t *testing.T) {
		limiter := new(MockRateLimitChecker)
		limiter.On("CheckPreset", mock.Anything, key, "api").
			Return(ratelimit.Result{Allowed: true, Limit: 100, Remaining: 99, ResetAt: resetAt}, nil)
		mw := NewPolicyEnforcementMiddleware(new(MockPolicyEvaluator), limiter, "api", "salt", logger)

		called := false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:4000"
		w := httptest.NewRecorder()
		mw.LimitByIP(okHandler(&called)).ServeHTTP(w, req)

		assert.True(t, called)
		assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
		limiter.AssertExpectations(t)
	})

	t.Run("denied request gets 429", func(t *testing.T) {
		limiter := new(MockRateLimitChecker)
		limiter.On("CheckPreset", mock.Anything, key, "api").
			Return(ratelimit.Result{Allowed: false, Limit: 100, Remaining: 0, ResetAt: resetAt}, nil)
		mw := NewPolicyEnforcementMiddleware(new(MockPolicyEvaluator), limiter, "api", "salt", logger)

		called := false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:4000"
		w := httptest.NewRecorder()
		mw.LimitByIP(okHandler(&called)).ServeHTTP(w, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("limiter error lets the request through", func(t *testing.T) {
		limiter := new(MockRateLimitChecker)
		limiter.On("CheckPreset", mock.Anything, mock.Anything, "api").
			Return(ratelimit.Result{}, services.NewValidationError("preset", "unknown"))
		mw := NewPolicyEnforcementMiddleware(new(MockPolicyEvaluator), limiter, "api", "salt", logger)

		called := false
		w := httptest.NewRecorder()
		mw.LimitByIP(okHandler(&called)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.True(t, called)
	})
}

func TestEnforce(t *testing.T) {
	logger := zap.NewNop()
	sc := &models.SecurityContext{UserID: "u-1", TenantID: "tenant-1"}

	newRequest := func() *http.Request {
		return withSecurity(httptest.NewRequest(http.MethodPut, "/api/v1/tenants/tenant-1/usage", nil), sc)
	}

	t.Run("allowed decision reaches the handler", func(t *testing.T) {
		evaluator := new(MockPolicyEvaluator)
		decision := &policy.Decision{Allowed: true, Reason: "allowed"}
		evaluator.On("Evaluate", mock.Anything, sc, "usage.report", "/api/v1/tenants/tenant-1/usage").Return(decision, nil)
		mw := NewPolicyEnforcementMiddleware(evaluator, new(MockRateLimitChecker), "api", "", logger)

		var got *policy.Decision
		handler := mw.Enforce("usage.report")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = GetDecisionFromContext(r.Context())
		}))
		handler.ServeHTTP(httptest.NewRecorder(), newRequest())

		assert.Same(t, decision, got)
		evaluator.AssertExpectations(t)
	})

	t.Run("blocking violation gets 403", func(t *testing.T) {
		evaluator := new(MockPolicyEvaluator)
		evaluator.On("Evaluate", mock.Anything, sc, "usage.report", mock.Anything).Return(&policy.Decision{
			Allowed: false,
			Reason:  "missing permission usage:write",
			Violations: []policy.Violation{{
				PolicyID: "p1", RuleID: "r1", Reason: "missing permission usage:write", Blocking: true,
			}},
		}, nil)
		mw := NewPolicyEnforcementMiddleware(evaluator, new(MockRateLimitChecker), "api", "", logger)

		called := false
		w := httptest.NewRecorder()
		mw.Enforce("usage.report")(okHandler(&called)).ServeHTTP(w, newRequest())

		assert.False(t, called)
		assert.Equal(t, http.StatusForbidden, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "policy_blocked", body["error"])
		details, _ := body["details"].(map[string]interface{})
		assert.Equal(t, "p1", details["policy_id"])
	})

	t.Run("inactive tenant gets the same 404 as the tenant endpoints", func(t *testing.T) {
		evaluator := new(MockPolicyEvaluator)
		evaluator.On("Evaluate", mock.Anything, sc, mock.Anything, mock.Anything).
			Return(nil, services.NewTenantNotFound("tenant-1"))
		mw := NewPolicyEnforcementMiddleware(evaluator, new(MockRateLimitChecker), "api", "", logger)

		called := false
		w := httptest.NewRecorder()
		mw.Enforce("usage.report")(okHandler(&called)).ServeHTTP(w, newRequest())
		assert.False(t, called)
		assert.Equal(t, http.StatusNotFound, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "not_found", body["error"])
	})

	t.Run("rate limited rule keeps its status", func(t *testing.T) {
		evaluator := new(MockPolicyEvaluator)
		evaluator.On("Evaluate", mock.Anything, sc, mock.Anything, mock.Anything).
			Return(nil, services.NewRateLimited(time.Now().Add(time.Minute)))
		mw := NewPolicyEnforcementMiddleware(evaluator, new(MockRateLimitChecker), "api", "", logger)

		called := false
		w := httptest.NewRecorder()
		mw.Enforce("usage.report")(okHandler(&called)).ServeHTTP(w, newRequest())
		assert.False(t, called)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("unexpected error gets 500", func(t *testing.T) {
		evaluator := new(MockPolicyEvaluator)
		evaluator.On("Evaluate", mock.Anything, sc, mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
		mw := NewPolicyEnforcementMiddleware(evaluator, new(MockRateLimitChecker), "api", "", logger)

		called := false
		w := httptest.NewRecorder()
		mw.Enforce("usage.report")(okHandler(&called)).ServeHTTP(w, newRequest())
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("missing security context", func(t *testing.T) {
		mw := NewPolicyEnforcementMiddleware(new(MockPolicyEvaluator), new(MockRateLimitChecker), "api", "", logger)

		called := false
		w := httptest.NewRecorder()
		mw.Enforce("usage.report")(okHandler(&called)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
