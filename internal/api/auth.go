package api

import (
	"crypto/subtle"
	"fmt"
	"math"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// BearerAuth rejects requests without the configured token. An empty token
// leaves the routes open.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit admits requests at perSecond with the given burst. A
// non-positive rate disables limiting.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if perSecond <= 0 {
			return next
		}
		limiter := rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		retryAfter := fmt.Sprint(int(math.Ceil(1 / perSecond)))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", retryAfter)
				httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many submissions, retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
