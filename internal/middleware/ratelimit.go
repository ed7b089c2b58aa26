package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vanshansh-prajav/Hack36/pkg/clientip"
)

const (
	// RateLimitWindow is 120 seconds
	RateLimitWindow = 120 * time.Second
	// RateLimitMaxRequests is the maximum number of writes allowed in the window
	RateLimitMaxRequests = 600
	// RateLimitKeyPrefix is the Redis key prefix for rate limiting
	RateLimitKeyPrefix = "ratelimit:"
	// BlockedIPKeyPrefix is the Redis key prefix for blocked IPs
	BlockedIPKeyPrefix = "blocked_ip:"
	// BlockedIPDuration is how long an IP stays blocked
	BlockedIPDuration = 15 * time.Minute
)

// RedisRateLimit counts writes per IP in a fixed window shared by every
// relay on the same Redis, and blocks an IP that exceeds it. Redis errors
// fail open.
func RedisRateLimit(client *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isWrite(r) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			ipAddress := clientip.RateLimitKey(r)

			blockedKey := BlockedIPKeyPrefix + ipAddress
			isBlocked, err := client.Exists(ctx, blockedKey).Result()
			if err == nil && isBlocked > 0 {
				tooManyRequests(w, "Your IP has been temporarily blocked due to excessive requests. Please try again later.")
				return
			}

			rateLimitKey := RateLimitKeyPrefix + ipAddress
			count, err := client.Incr(ctx, rateLimitKey).Result()
			if err != nil {
				log.Printf("ratelimit: redis unavailable, allowing request: %v", err)
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				// First write in this window
				client.Expire(ctx, rateLimitKey, RateLimitWindow)
			}

			if count > RateLimitMaxRequests {
				if err := client.Set(ctx, blockedKey, "1", BlockedIPDuration).Err(); err != nil {
					log.Printf("ratelimit: failed to block %s: %v", ipAddress, err)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(fmt.Sprintf(`{"success":false,"message":"Rate limit exceeded. Your IP has been temporarily blocked. Please try again later.","retry_after":%d}`, int(BlockedIPDuration.Seconds()))))
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(RateLimitMaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(RateLimitMaxRequests-count, 10))
			next.ServeHTTP(w, r)
		})
	}
}
