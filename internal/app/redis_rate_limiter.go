package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter keys carry the window index, so every bucket is self-contained and
// the script only has to INCR and arm an expiry on first touch. Retry-After
// falls out of the bucket boundary without asking Redis for a TTL.
var rateLimitBucketScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisRateLimiter implements fixed-window rate limiting using Redis. It backs
// the per-IP limit on the payment endpoints.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "oracle:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		now:    time.Now,
	}
}

// ConsumeRateLimit records one request for subject within scope and returns
// the running count for the current window plus the seconds until the window
// rolls over. A nil limiter or non-positive limit disables limiting.
func (r *RedisRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	nowMs := r.now().UnixMilli()

	key := bucketKey(r.prefix, normalizedScope, normalizedSubject, nowMs, windowMs)

	// Expire at double the window so a bucket outlives its own boundary but
	// never accumulates.
	current, err := rateLimitBucketScript.Run(ctx, r.client, []string{key}, windowMs*2).Int()
	if err != nil {
		return 0, 0, err
	}

	return current, bucketRetryAfterSeconds(nowMs, windowMs), nil
}

func bucketKey(prefix, scope, subject string, nowMs, windowMs int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", prefix, scope, subject, nowMs/windowMs)
}

func bucketRetryAfterSeconds(nowMs, windowMs int64) int {
	remainingMs := windowMs - nowMs%windowMs
	seconds := int((remainingMs + 999) / 1000)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
