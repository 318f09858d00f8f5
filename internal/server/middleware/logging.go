package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const requestTraceKey contextKey = "request_trace"

// requestTrace collects what the auth layer decided so the access line can
// report it. Middleware further down the chain fills it in place.
type requestTrace struct {
	principal *Principal
	rejected  string // channel of a refused credential
}

func traceFrom(ctx context.Context) *requestTrace {
	t, _ := ctx.Value(requestTraceKey).(*requestTrace)
	return t
}

func tracePrincipal(ctx context.Context, p *Principal) {
	if t := traceFrom(ctx); t != nil {
		t.principal = p
	}
}

func traceRejection(ctx context.Context, channel string) {
	if t := traceFrom(ctx); t != nil {
		if channel == "" {
			channel = "none"
		}
		t.rejected = channel
	}
}

// authAttrs renders the auth outcome for the access line: the principal
// type with its key prefix or username, or the refused channel.
func (t *requestTrace) authAttrs() []any {
	switch {
	case t.principal != nil:
		who := t.principal.KeyPrefix
		if who == "" {
			who = t.principal.Username
		}
		return []any{"auth", t.principal.Type, "principal", who}
	case t.rejected != "":
		return []any{"auth", "rejected", "auth_channel", t.rejected}
	}
	return nil
}

// Logger returns an HTTP middleware that writes one access line per request.
// Trigger and admin requests also carry the auth outcome. 4xx responses log
// at Warn and 5xx at Error.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			trace := &requestTrace{}

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestTraceKey, trace)))

			level := slog.LevelInfo
			switch {
			case ww.status >= 500:
				level = slog.LevelError
			case ww.status >= 400:
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", ww.bytes,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" && pattern != r.URL.Path {
					attrs = append(attrs, "route", pattern)
				}
			}
			attrs = append(attrs, trace.authAttrs()...)
			attrs = append(attrs, "user_agent", r.UserAgent())

			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

// responseWriter records the status and body size of a response.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
