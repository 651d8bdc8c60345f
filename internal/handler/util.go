package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/orbitos/conversation-platform/internal/middleware"
	"github.com/orbitos/conversation-platform/internal/model"
	"github.com/orbitos/conversation-platform/internal/orchestrator"
	"github.com/orbitos/conversation-platform/internal/service"
	"github.com/orbitos/conversation-platform/internal/store"
	"github.com/orbitos/conversation-platform/pkg/logger"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps service and orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, orchestrator.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrConversationNotActive),
		errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNoAgents),
		errors.Is(err, orchestrator.ErrEmptyTranscript):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, model.ErrInvertedThresholds):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Internal errors are
// logged and hidden behind fallback.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, fallback string) {
	status, message := publicError(log, err, fallback)
	writeError(w, status, message)
}

// publicError maps err to a status and the message safe to show the caller.
func publicError(log *logger.Logger, err error, fallback string) (int, string) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		log.Error(fallback, zap.Error(err))
		return status, fallback
	case http.StatusNotFound:
		return status, "not found"
	default:
		return status, err.Error()
	}
}

// requestLogger scopes base to the caller of r.
func requestLogger(base *logger.Logger, r *http.Request) *logger.Logger {
	ctx := r.Context()
	return base.WithRequest(middleware.GetCorrelationID(ctx), middleware.GetOrganizationID(ctx), middleware.GetUserID(ctx))
}

// queryInt parses a non-negative integer query parameter, returning def when
// absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
