package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/storesync/client/internal/models"
	"github.com/storesync/client/internal/observability"
	"github.com/storesync/client/internal/remote"
)

// LoginService is the slice of the auth service the control API uses.
type LoginService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error)
	Logout()
}

// AuthHandler exposes login and logout.
type AuthHandler struct {
	auth    LoginService
	metrics *observability.SyncMetrics
	log     *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. metrics may be nil.
func NewAuthHandler(auth LoginService, metrics *observability.SyncMetrics, log *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, metrics: metrics, log: log}
}

// Login verifies credentials remotely or against the local cache.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	result, err := h.auth.Login(r.Context(), req)
	if err != nil {
		h.metrics.RecordLogin(r.Context(), false, false)

		var authErr models.AuthError
		if errors.As(err, &authErr) {
			respondError(w, http.StatusUnauthorized, authErr.Message)
			return
		}
		if remote.IsConnectivity(err) {
			respondError(w, http.StatusServiceUnavailable, "Server unreachable and no cached credentials matched.")
			return
		}
		h.log.Error("login failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Login failed.")
		return
	}

	h.metrics.RecordLogin(r.Context(), result.IsOffline, true)
	respondJSON(w, http.StatusOK, result)
}

// Logout drops the remote session token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout()
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
