package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/sleepd/sleepd/internal/config"
	"github.com/sleepd/sleepd/internal/history"
	"github.com/sleepd/sleepd/internal/model"
	"github.com/sleepd/sleepd/internal/service"
)

const (
	testAdminUser     = "operator"
	testAdminPassword = "correct-horse-battery"
	testSessionSecret = "handler-test-secret"
	testVersion       = "v1.2.3-test"
)

// fakeSleeper returns a canned outcome and counts invocations.
type fakeSleeper struct {
	mu      sync.Mutex
	outcome model.SleepOutcome
	calls   int
}

func (f *fakeSleeper) Sleep(ctx context.Context) model.SleepOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.outcome
}

func (f *fakeSleeper) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testEnv holds all the pieces needed for handler-level tests.
type testEnv struct {
	store   *config.Store
	authSvc *service.AuthService
	ledger  *history.Ledger
	sleeper *fakeSleeper
	router  chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory key store
// and a Chi router with routes mounted (no auth middleware).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(store,
		service.Admin{Username: testAdminUser, Password: testAdminPassword},
		testSessionSecret,
		service.WithHashCost(bcrypt.MinCost),
		service.WithLogger(logger),
	)
	ledger := history.NewLedger(history.DefaultCapacity)
	sleeper := &fakeSleeper{outcome: model.SleepOutcome{Success: true, Message: "Sleep command simulated (demo mode)"}}

	sysHandler := NewSystemHandler(authSvc, ledger, time.Hour, testVersion)
	sleepHandler := NewSleepHandler(ledger, sleeper, logger)

	// Mount routes without auth middleware for direct handler testing.
	r := chi.NewRouter()
	r.Get("/status", sysHandler.Status)
	r.Post("/admin/session", sysHandler.Login)
	r.Delete("/admin/session", sysHandler.Logout)
	r.Post("/generate-api-key", sysHandler.GenerateAPIKey)
	r.Get("/api/keys", sysHandler.ListAPIKeys)
	r.Delete("/api/keys/{prefix}", sysHandler.RevokeAPIKey)
	r.Get("/api/history", sysHandler.History)
	r.Post("/api/sleep", sleepHandler.Trigger)

	return &testEnv{
		store:   store,
		authSvc: authSvc,
		ledger:  ledger,
		sleeper: sleeper,
		router:  r,
	}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
