package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/sleepd/sleepd/internal/config"
	"github.com/sleepd/sleepd/internal/service"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if respID := rr.Header().Get("X-Request-ID"); respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestRequestIDReplacesUnsafeClientID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for name, id := range map[string]string{
		"oversized":    strings.Repeat("x", 500),
		"newline":      "abc\nlevel=ERROR msg=forged",
		"space":        "two words",
		"control byte": "id\x07",
		"non-ascii":    "idé",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("X-Request-ID", id)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			got := rr.Header().Get("X-Request-ID")
			if got == id || len(got) != 36 {
				t.Errorf("unsafe client ID should be replaced by a UUID, got %q", got)
			}
		})
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Trigger authentication tests
// ---------------------------------------------------------------------------

const (
	testAdminUser = "operator"
	testAdminPass = "hunter2hunter2"
)

func newTestAuth(t *testing.T) *service.AuthService {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return service.NewAuthService(store,
		service.Admin{Username: testAdminUser, Password: testAdminPass},
		"test-session-secret",
		service.WithHashCost(bcrypt.MinCost),
		service.WithLogger(discardLogger()),
	)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestAuthenticateTrigger(t *testing.T) {
	authSvc := newTestAuth(t)
	key, err := authSvc.IssueKey(context.Background())
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}

	tests := []struct {
		name      string
		setup     func(r *http.Request)
		wantCode  int
		wantError string
		wantType  string
	}{
		{"api key", func(r *http.Request) { r.Header.Set("X-API-Key", key) }, 200, "", PrincipalAPIKey},
		{"basic", func(r *http.Request) { r.SetBasicAuth(testAdminUser, testAdminPass) }, 200, "", PrincipalBasic},
		{"no credentials", func(r *http.Request) {}, 401, "API key required", ""},
		{"bad key", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }, 401, "Invalid API key", ""},
		{"bad basic", func(r *http.Request) { r.SetBasicAuth(testAdminUser, "x") }, 401, "Invalid credentials", ""},
		{"bad key beats good basic", func(r *http.Request) {
			r.Header.Set("X-API-Key", "nope")
			r.SetBasicAuth(testAdminUser, testAdminPass)
		}, 401, "Invalid API key", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *Principal
			handler := AuthenticateTrigger(authSvc, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetPrincipal(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("POST", "/api/sleep", nil)
			tt.setup(req)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if tt.wantCode != 200 {
				if got != nil {
					t.Error("inner handler must not run on rejection")
				}
				if msg := decodeError(t, rr); msg != tt.wantError {
					t.Errorf("error = %q, want %q", msg, tt.wantError)
				}
				return
			}
			if got == nil || got.Type != tt.wantType {
				t.Errorf("principal = %+v, want type %q", got, tt.wantType)
			}
		})
	}
}

func TestAuthenticateTriggerLogsOnlyKeyHint(t *testing.T) {
	authSvc := newTestAuth(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	handler := AuthenticateTrigger(authSvc, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest("POST", "/api/sleep", nil)
	req.Header.Set("X-API-Key", "abcdefghijklmnop")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(logs.String(), "abcdefghijklmnop") {
		t.Error("full presented key must not be logged")
	}
	if !strings.Contains(logs.String(), "abcde...") {
		t.Errorf("expected key hint in log, got %s", logs.String())
	}
}

// ---------------------------------------------------------------------------
// RequireAdminSession tests
// ---------------------------------------------------------------------------

func TestRequireAdminSession(t *testing.T) {
	authSvc := newTestAuth(t)
	token, err := authSvc.IssueSession(testAdminUser, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid session", "Bearer " + token, 200},
		{"missing", "", 401},
		{"garbage", "Bearer garbage", 401},
		{"basic instead", "Basic b3BlcmF0b3I6aHVudGVyMmh1bnRlcjI=", 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAdminSession(authSvc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p := GetPrincipal(r.Context())
				if p == nil || p.Type != PrincipalSession || p.Username != testAdminUser {
					t.Errorf("principal = %+v", p)
				}
			}))
			req := httptest.NewRequest("POST", "/generate-api-key", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Recoverer and RateLimit tests
// ---------------------------------------------------------------------------

func TestRecovererReturnsJSON(t *testing.T) {
	handler := Recoverer(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if msg := decodeError(t, rr); msg != "Server error" {
		t.Errorf("error = %q", msg)
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest("POST", "/api/sleep", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes[i] = rr.Code
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	unlimited := RateLimit(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		unlimited.ServeHTTP(rr, httptest.NewRequest("POST", "/api/sleep", nil))
		if rr.Code != 200 {
			t.Fatalf("disabled limiter returned %d", rr.Code)
		}
	}
}

func TestRateLimitIgnoresForwardedFor(t *testing.T) {
	var origins []string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origins = append(origins, r.RemoteAddr)
	})
	handler := PeerAddr(chimw.RealIP(RateLimit(2)(inner)))

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest("POST", "/api/sleep", nil)
		req.RemoteAddr = "198.51.100.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes[i] = rr.Code
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want third request limited despite rotating X-Forwarded-For", codes)
	}
	// RealIP still rewrites the address seen by handlers.
	if len(origins) != 2 || origins[0] != "203.0.113.1" {
		t.Errorf("origins = %v", origins)
	}
}

func TestKeyByPeerWithoutPeerAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if key, err := keyByPeer(req); err != nil || key != "192.0.2.1" {
		t.Errorf("keyByPeer = %q, %v", key, err)
	}
	req.RemoteAddr = "unix-socket"
	if key, _ := keyByPeer(req); key != "unix-socket" {
		t.Errorf("portless key = %q", key)
	}
}

func TestLoggerRecordsAuthOutcome(t *testing.T) {
	authSvc := newTestAuth(t)
	key, err := authSvc.IssueKey(context.Background())
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  []string
	}{
		{"api key", func(r *http.Request) { r.Header.Set("X-API-Key", key) },
			[]string{"auth=api_key", "principal=" + key[:service.KeyPrefixLen], "status=200"}},
		{"basic", func(r *http.Request) { r.SetBasicAuth(testAdminUser, testAdminPass) },
			[]string{"auth=basic", "principal=" + testAdminUser}},
		{"bad key", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") },
			[]string{"auth=rejected", "auth_channel=api_key", "status=401"}},
		{"no credentials", func(r *http.Request) {},
			[]string{"auth=rejected", "auth_channel=none"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			handler := Logger(slog.New(slog.NewTextHandler(&logs, nil)))(
				AuthenticateTrigger(authSvc, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

			req := httptest.NewRequest("POST", "/api/sleep", nil)
			tt.setup(req)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			for _, want := range tt.want {
				if !strings.Contains(logs.String(), want) {
					t.Errorf("access line missing %q: %s", want, logs.String())
				}
			}
			if strings.Contains(logs.String(), key) {
				t.Error("full key must not reach the access line")
			}
		})
	}
}

func TestLoggerWithoutAuthLayer(t *testing.T) {
	var logs bytes.Buffer
	handler := Logger(slog.New(slog.NewTextHandler(&logs, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/status", nil))

	line := logs.String()
	if !strings.Contains(line, "level=WARN") || !strings.Contains(line, "status=404") {
		t.Errorf("unexpected access line: %s", line)
	}
	if strings.Contains(line, "auth=") {
		t.Errorf("unauthenticated route should not report auth: %s", line)
	}
}
