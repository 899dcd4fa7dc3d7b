package middleware

import (
	"context"
	"net"
	"net/http"
)

type callerKeyKey struct{}

// CallerKey returns an HTTP middleware that derives the caller key used for
// admission control. Authentication is handled upstream; this layer trusts the
// X-Caller-Key header when present and falls back to the client IP.
func CallerKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Caller-Key")
		if key == "" {
			key = clientIP(r)
		}
		ctx := context.WithValue(r.Context(), callerKeyKey{}, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerKeyFromContext extracts the caller key from the context.
// Returns an empty string if none is present.
func CallerKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(callerKeyKey{}).(string)
	return key
}

// clientIP extracts the client IP address from the request, stripping the port.
// Only uses RemoteAddr — X-Forwarded-For is untrusted and ignored to prevent
// rate-limit bypass via header spoofing.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
