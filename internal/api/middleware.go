/**
 * @description
 * This file contains the HTTP middleware guarding the payment endpoints: a
 * shared-secret API key check and a per-client-IP rate limit backed by Redis.
 *
 * @dependencies
 * - crypto/subtle, log, net, net/http, time: Standard Go libraries.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

const apiKeyHeader = "X-Api-Key"

// RateLimiter counts requests per subject inside a time window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// APIKeyMiddleware rejects requests whose X-Api-Key header does not match the
// configured key. The comparison is constant-time.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(apiKeyHeader)
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid or missing API key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware applies a per-client-IP request limit. When the limiter
// itself fails the request is allowed through: availability of the payment
// flow wins over precise throttling.
func RateLimitMiddleware(limiter RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), "payment_api", clientIP(r), limit, window)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable, allowing request\" error=%q", err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller's address, honoring X-Forwarded-For when the
// service runs behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
