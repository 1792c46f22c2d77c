package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimiter implements fixed-window rate limiting backed by Redis, applied
// to connection attempts so a flapping or hostile client cannot churn the
// gateway. Event-level flood control lives on the connection itself.
type RateLimiter struct {
	client   *redis.Client
	logger   zerolog.Logger
	requests int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing requests per window per IP.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:   client,
		logger:   logger,
		requests: requests,
		window:   window,
	}
}

// Middleware enforces the limit. With no Redis configured it passes everything
// through: development runs without one.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.client == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		key := "ratelimit:conn:" + ip

		count, err := rl.client.Incr(r.Context(), key).Result()
		if err != nil {
			// Redis trouble must not take chat down with it.
			rl.logger.Warn().Err(err).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			rl.client.Expire(r.Context(), key, rl.window)
		}

		if count > int64(rl.requests) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client IP, trusting X-Forwarded-For from the edge.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
