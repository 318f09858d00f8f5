package middleware

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

const peerAddrKey contextKey = "peer_addr"

// PeerAddr remembers the socket address of the connection before any
// forwarded-header rewriting. Mount it ahead of chi's RealIP.
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerAddrKey, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// keyByPeer keys the limiter on the connecting host. Forwarded headers are
// client controlled and would let a caller mint a fresh bucket per request.
func keyByPeer(r *http.Request) (string, error) {
	addr, _ := r.Context().Value(peerAddrKey).(string)
	if addr == "" {
		addr = r.RemoteAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, nil
	}
	return host, nil
}

// RateLimit returns an HTTP middleware that limits requests per peer address
// to the specified number per minute, answering 429 with a JSON error body.
// A non-positive limit disables limiting.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(keyByPeer),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
		}),
	)
}
