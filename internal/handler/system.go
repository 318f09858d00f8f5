package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sleepd/sleepd/internal/config"
	"github.com/sleepd/sleepd/internal/history"
	"github.com/sleepd/sleepd/internal/model"
	"github.com/sleepd/sleepd/internal/service"
)

// SystemHandler serves the operator surface: admin sessions, API key
// management, request history and the liveness probe.
type SystemHandler struct {
	authSvc    *service.AuthService
	ledger     *history.Ledger
	sessionTTL time.Duration
	version    string
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(authSvc *service.AuthService, ledger *history.Ledger, sessionTTL time.Duration, version string) *SystemHandler {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &SystemHandler{
		authSvc:    authSvc,
		ledger:     ledger,
		sessionTTL: sessionTTL,
		version:    version,
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

// Login checks the admin credentials and returns a session token.
// POST /admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	token, err := h.authSvc.Login(req.Username, req.Password, h.sessionTTL)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.sessionTTL.Seconds()),
	})
}

// Logout acknowledges the end of a session. Tokens are stateless, so the
// client discards its copy.
// DELETE /admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.StatusResponse{
		Status:  "success",
		Message: "Logged out",
	})
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// GenerateAPIKey issues a new trigger key. The plaintext is returned in this
// response only.
// POST /generate-api-key
func (h *SystemHandler) GenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	rawKey, err := h.authSvc.IssueKey(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate API key")
		return
	}

	writeJSON(w, http.StatusCreated, model.IssuedKeyResponse{
		APIKey:    rawKey,
		KeyPrefix: rawKey[:service.KeyPrefixLen],
		Message:   "New API key generated successfully. Store it now; it will not be shown again.",
	})
}

// ListAPIKeys returns the metadata of every issued key. Hashes are never
// included.
// GET /api/keys
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.authSvc.ListKeyRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}

	writeJSON(w, http.StatusOK, model.ListResponse[model.APIKey]{
		Resource: keys,
		Count:    len(keys),
	})
}

// RevokeAPIKey revokes the single active key matching the prefix.
// DELETE /api/keys/{prefix}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "Key prefix is required")
		return
	}

	key, err := h.authSvc.RevokeKey(r.Context(), prefix)
	switch {
	case errors.Is(err, config.ErrNotFound):
		writeError(w, http.StatusNotFound, "API key not found: "+prefix)
		return
	case errors.Is(err, config.ErrAmbiguousPrefix):
		writeError(w, http.StatusConflict, "Prefix matches more than one API key: "+prefix)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to revoke API key")
		return
	}

	writeJSON(w, http.StatusOK, key)
}

// ---------------------------------------------------------------------------
// History and status
// ---------------------------------------------------------------------------

// History returns the recent trigger requests, oldest first. The optional
// limit parameter keeps only the newest entries.
// GET /api/history
func (h *SystemHandler) History(w http.ResponseWriter, r *http.Request) {
	events := h.ledger.Snapshot()
	limit := clampInt(queryInt(r, "limit", len(events)), 0, len(events))
	events = events[len(events)-limit:]

	writeJSON(w, http.StatusOK, model.ListResponse[model.TriggerEvent]{
		Resource: events,
		Count:    len(events),
	})
}

// statusResponse is the liveness probe body.
type statusResponse struct {
	Status  string `json:"status"`
	Time    string `json:"time"`
	Version string `json:"version"`
}

// Status reports that the service is running.
// GET /status
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "ok",
		Time:    time.Now().Format(time.RFC3339),
		Version: h.version,
	})
}
