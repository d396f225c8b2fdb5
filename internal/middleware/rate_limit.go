package middleware

import (
	"net"
	"net/http"
	"strconv"
)

// KeyLimiter is the slice of the rate limiter the middleware needs.
type KeyLimiter interface {
	Allow(key string) bool
	Remaining(key string) int
}

// RateLimit throttles requests per client IP. Rejected requests get 429 with
// an X-RateLimit-Remaining header so clients can back off.
func RateLimit(limiter KeyLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if !limiter.Allow(key) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
