// Package api provides HTTP handlers for the lead magnet API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/go-playground/validator/v10"

	"github.com/fluia/leadmagnet/internal/session"
)

// SessionLister enumerates persisted session ids.
type SessionLister interface {
	List(ctx context.Context) ([]string, error)
}

// Handler serves the session endpoints.
type Handler struct {
	sessions      *session.Manager
	repo          SessionLister
	secureCookies bool
	allowedOrigin []string
	logger        *slog.Logger
	validate      *validator.Validate
}

// Config tunes a Handler.
type Config struct {
	// SecureCookies marks the session cookie Secure. Off in development.
	SecureCookies bool
	// WatchOrigins are accepted websocket origins; empty allows any.
	WatchOrigins []string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions *session.Manager, repo SessionLister, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:      sessions,
		repo:          repo,
		secureCookies: cfg.SecureCookies,
		allowedOrigin: cfg.WatchOrigins,
		logger:        logger,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error class onto an HTTP status. withSession reports
// whether the body should still carry the session, because the failure
// changed what the visitor sees.
func statusFor(err error) (status int, withSession bool) {
	switch {
	case errdefs.IsInvalidArgument(err):
		return http.StatusUnprocessableEntity, true
	case errdefs.IsNotFound(err):
		return http.StatusNotFound, false
	case errdefs.IsConflict(err), errdefs.IsFailedPrecondition(err):
		return http.StatusConflict, false
	case errdefs.IsUnavailable(err), errdefs.IsDeadlineExceeded(err), errdefs.IsDataLoss(err):
		return http.StatusBadGateway, true
	case errdefs.IsCanceled(err):
		return statusClientClosedRequest, false
	default:
		return http.StatusInternalServerError, false
	}
}

// statusClientClosedRequest is nginx's code for a caller that went away.
const statusClientClosedRequest = 499
