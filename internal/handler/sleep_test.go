package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sleepd/sleepd/internal/model"
	"github.com/sleepd/sleepd/internal/sleep"
)

func TestTrigger_Success(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/sleep", nil)
	req.RemoteAddr = "192.0.2.44:60000"
	req.Header.Set("User-Agent", "curl/8.5.0")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	assertStatus(t, rr, http.StatusOK)
	var resp model.StatusResponse
	decodeJSON(t, rr, &resp)
	if resp.Status != "success" || resp.Message == "" {
		t.Errorf("response = %+v", resp)
	}

	latest, ok := env.ledger.Latest()
	if !ok {
		t.Fatal("ledger should hold the request")
	}
	if latest.Origin != "192.0.2.44" {
		t.Errorf("origin = %q, want 192.0.2.44", latest.Origin)
	}
	if latest.UserAgent != "curl/8.5.0" {
		t.Errorf("user agent = %q", latest.UserAgent)
	}
	if time.Since(latest.Timestamp) > time.Minute {
		t.Errorf("timestamp %v not recent", latest.Timestamp)
	}
	if env.sleeper.Calls() != 1 {
		t.Errorf("sleeper calls = %d, want 1", env.sleeper.Calls())
	}
}

func TestTrigger_UnknownUserAgent(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/sleep", nil)
	req.Header.Del("User-Agent")
	env.router.ServeHTTP(httptest.NewRecorder(), req)

	latest, _ := env.ledger.Latest()
	if latest.UserAgent != "Unknown" {
		t.Errorf("user agent = %q, want Unknown", latest.UserAgent)
	}
}

func TestTrigger_FailureStillRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.sleeper.outcome = model.SleepOutcome{Success: false, Message: "Failed to trigger sleep mode using all available methods"}

	rr := env.do(t, "POST", "/api/sleep", nil)
	assertStatus(t, rr, http.StatusInternalServerError)

	var resp model.StatusResponse
	decodeJSON(t, rr, &resp)
	if resp.Status != "error" {
		t.Errorf("status = %q, want error", resp.Status)
	}
	if resp.Message != "Failed to trigger sleep mode using all available methods" {
		t.Errorf("message = %q", resp.Message)
	}
	if env.ledger.Len() != 1 {
		t.Errorf("ledger len = %d, want 1", env.ledger.Len())
	}
}

func TestTrigger_LedgerBounded(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 25; i++ {
		env.do(t, "POST", "/api/sleep", nil)
	}
	if env.ledger.Len() != 20 {
		t.Errorf("ledger len = %d, want 20", env.ledger.Len())
	}
}

func TestTrigger_ClientDisconnectDoesNotAbortFallbacks(t *testing.T) {
	env := newTestEnv(t)

	engine := sleep.New(sleep.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep.WithPlatform(sleep.TargetPlatform),
		sleep.WithCapabilityCheck(func() error { return nil }),
		sleep.WithPrivilegeCheck(func() (bool, error) { return true, nil }),
		sleep.WithStrategies(
			&sleep.NativeStrategy{Grace: 200 * time.Millisecond, Call: func() error { return nil }},
			&sleep.CommandStrategy{
				Label:   "rundll32",
				Path:    "rundll32.exe",
				Timeout: time.Second,
				Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
					return nil, nil
				},
			},
		),
	)
	h := NewSleepHandler(env.ledger, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest("POST", "/api/sleep", nil).WithContext(ctx)
	req.RemoteAddr = "192.0.2.44:60000"

	// Hang up while the native call is still inside its grace window.
	time.AfterFunc(50*time.Millisecond, cancel)

	rr := httptest.NewRecorder()
	h.Trigger(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rr.Code, rr.Body.String())
	}
	var resp model.StatusResponse
	decodeJSON(t, rr, &resp)
	if resp.Status != "success" || resp.Message != "Sleep command sent via rundll32" {
		t.Errorf("response = %+v, want success via rundll32", resp)
	}
	if ctx.Err() == nil {
		t.Error("request context was never cancelled")
	}
}
