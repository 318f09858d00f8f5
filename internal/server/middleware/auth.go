package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sleepd/sleepd/internal/model"
	"github.com/sleepd/sleepd/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal types.
const (
	PrincipalAPIKey  = "api_key"
	PrincipalBasic   = "basic"
	PrincipalSession = "admin_session"
)

// Principal represents the authenticated identity making the request.
type Principal struct {
	Type      string
	KeyPrefix string // set for API key principals
	Username  string // set for basic and session principals
}

// AuthenticateTrigger guards the sleep trigger. It delegates the decision to
// the auth service (API key header first, then HTTP basic credentials) and
// answers 401 on any rejection. The response never says which check failed
// beyond the channel used.
func AuthenticateTrigger(authSvc *service.AuthService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := authSvc.AuthenticateRequest(r)
			if !d.Authorized() {
				traceRejection(r.Context(), string(d.Channel))
				logger.Warn("sleep request rejected",
					"reason", d.Err.Error(),
					"channel", string(d.Channel),
					"key_hint", keyHint(r.Header.Get(service.APIKeyHeader)),
					"remote_addr", r.RemoteAddr,
					"request_id", GetRequestID(r.Context()),
				)
				switch {
				case errors.Is(d.Err, service.ErrInvalidAPIKey):
					writeError(w, http.StatusUnauthorized, "Invalid API key")
				case errors.Is(d.Err, service.ErrInvalidBasic):
					w.Header().Set("WWW-Authenticate", `Basic realm="sleepd"`)
					writeError(w, http.StatusUnauthorized, "Invalid credentials")
				default:
					w.Header().Set("WWW-Authenticate", `Basic realm="sleepd"`)
					writeError(w, http.StatusUnauthorized, "API key required")
				}
				return
			}

			p := &Principal{Type: PrincipalAPIKey, KeyPrefix: d.KeyPrefix}
			if d.Channel == service.ChannelBasic {
				username, _, _ := r.BasicAuth()
				p = &Principal{Type: PrincipalBasic, Username: username}
			}
			tracePrincipal(r.Context(), p)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminSession enforces a valid admin session token in the
// Authorization: Bearer header.
func RequireAdminSession(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				traceRejection(r.Context(), "")
				writeError(w, http.StatusUnauthorized, "Admin session required")
				return
			}
			sess, err := authSvc.ValidateSession(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				traceRejection(r.Context(), PrincipalSession)
				writeError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}

			p := &Principal{Type: PrincipalSession, Username: sess.Username}
			tracePrincipal(r.Context(), p)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// keyHint returns at most the first five characters of a presented key.
func keyHint(key string) string {
	if len(key) > 5 {
		return key[:5] + "..."
	}
	return key
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{Error: message})
}
