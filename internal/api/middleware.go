package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/shehryarbajwa/gameprobe/internal/ratelimit"
)

// RateLimitMiddleware creates a middleware that enforces rate limits per
// client. onLimited is called for every rejected request and may be nil.
func RateLimitMiddleware(limiter *ratelimit.Limiter, requestsPerHour int, onLimited func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Preflight requests are answered by the CORS middleware
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			clientID := getClientID(r)

			// Check rate limit
			if !limiter.Allow(clientID) {
				if onLimited != nil {
					onLimited()
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerHour))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)

				json.NewEncoder(w).Encode(map[string]string{
					"error": fmt.Sprintf("Rate limit exceeded. Maximum %d requests per hour per client.", requestsPerHour),
				})
				return
			}

			// Add rate limit headers
			tokens := limiter.Tokens(clientID)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerHour))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(tokens)))

			next.ServeHTTP(w, r)
		})
	}
}

// getClientID identifies the caller by X-Client-ID, falling back to the
// remote address
func getClientID(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
