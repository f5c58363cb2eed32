package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tenant-governance/services"
	"github.com/upb/tenant-governance/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, err.Error())

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, err.Error())

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, err.Error())

	case services.IsPolicyBlockedError(err):
		writeErr = utils.WritePolicyBlocked(w, err.Error(), details)

	case services.IsRateLimitError(err):
		writeErr = utils.WriteTooManyRequests(w, err.Error(), retryAfter(details), details)

	case services.IsInsufficientResourceError(err):
		writeErr = utils.WriteInsufficientResource(w, err.Error(), details)

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, err.Error(), details)

	case services.IsBackendUnavailableError(err):
		// Should have been absorbed by the limiter; never leak backend details.
		logger.Error("backend unavailable reached the API", zap.Error(err))
		writeErr = utils.WriteError(w, http.StatusServiceUnavailable, "Service temporarily unavailable", nil)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeErr = utils.WriteError(w, http.StatusServiceUnavailable, "Request cancelled", nil)

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleDecodeError answers a request whose body could not be decoded
func HandleDecodeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if writeErr := utils.WriteBadRequest(w, err.Error(), nil); writeErr != nil {
		logger.Error("failed to write bad request response", zap.Error(writeErr))
	}
}

func retryAfter(details map[string]interface{}) time.Duration {
	raw, ok := details["reset_at"].(string)
	if !ok {
		return 0
	}
	resetAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0
	}
	return time.Until(resetAt)
}
