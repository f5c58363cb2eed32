package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/models"
	"github.com/upb/tenant-governance/services"
	"github.com/upb/tenant-governance/utils"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "not found error",
			err:            services.NewTenantNotFound("t-1"),
			expectedStatus: http.StatusNotFound,
			expectedError:  "not_found",
		},
		{
			name:           "validation error",
			err:            services.ErrInvalidInput,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "bad_request",
		},
		{
			name:           "unauthorized error",
			err:            services.ErrUnauthorized,
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "forbidden error",
			err:            services.ErrForbidden,
			expectedStatus: http.StatusForbidden,
			expectedError:  "forbidden",
		},
		{
			name:           "policy blocked error",
			err:            services.NewPolicyBlocked("identity required", "p-1", "r-1"),
			expectedStatus: http.StatusForbidden,
			expectedError:  "policy_blocked",
		},
		{
			name:           "rate limit error",
			err:            services.NewRateLimited(time.Now().Add(time.Minute)),
			expectedStatus: http.StatusTooManyRequests,
			expectedError:  "rate_limit_exceeded",
		},
		{
			name:           "insufficient resource error",
			err:            services.NewInsufficientResource(models.ResourceCPU, 10, 2),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedError:  "insufficient_resource",
		},
		{
			name:           "conflict error",
			err:            services.ErrDuplicateDomain,
			expectedStatus: http.StatusConflict,
			expectedError:  "conflict",
		},
		{
			name:           "backend unavailable error",
			err:            services.NewBackendUnavailable(errors.New("dial tcp: refused")),
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "unavailable",
		},
		{
			name:           "cancelled context",
			err:            fmt.Errorf("evaluate: %w", context.Canceled),
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "unavailable",
		},
		{
			name:           "internal error",
			err:            services.ErrInternal,
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
		{
			name:           "unknown error",
			err:            errors.New("some unknown error"),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response utils.ErrorResponse
			err := json.NewDecoder(w.Body).Decode(&response)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedError, response.Error)
			assert.NotEmpty(t, response.Message)
		})
	}
}

func TestHandleServiceErrorWithDetails(t *testing.T) {
	logger := zap.NewNop()

	t.Run("policy blocked names the rule", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleServiceError(w, services.NewPolicyBlocked("identity required", "p-1", "r-1"), logger)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "p-1", response.Details["policy_id"])
		assert.Equal(t, "r-1", response.Details["rule_id"])
	})

	t.Run("rate limit sets retry after", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleServiceError(w, services.NewRateLimited(time.Now().Add(30*time.Second)), logger)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		secs, err := strconv.Atoi(w.Header().Get("Retry-After"))
		require.NoError(t, err)
		assert.InDelta(t, 30, secs, 2)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.NotEmpty(t, response.Details["reset_at"])
	})

	t.Run("insufficient resource reports the kind", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleServiceError(w, services.NewInsufficientResource(models.ResourceMemory, 4096, 1024), logger)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, string(models.ResourceMemory), response.Details["kind"])
		assert.Equal(t, float64(4096), response.Details["requested"])
		assert.Equal(t, float64(1024), response.Details["available"])
	})
}

func TestHandleServiceErrorNil(t *testing.T) {
	logger := zap.NewNop()
	w := httptest.NewRecorder()

	HandleServiceError(w, nil, logger)

	// Should not write anything
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, retryAfter(nil))
	assert.Zero(t, retryAfter(map[string]interface{}{"reset_at": "not a time"}))
	assert.Zero(t, retryAfter(map[string]interface{}{"reset_at": 42}))

	d := retryAfter(map[string]interface{}{
		"reset_at": time.Now().Add(time.Minute).UTC().Format(time.RFC3339),
	})
	assert.InDelta(t, time.Minute.Seconds(), d.Seconds(), 2)
}
