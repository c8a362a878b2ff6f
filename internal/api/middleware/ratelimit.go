package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/profullstack/qryptchat-web-sub004/internal/store"
)

// SendRateLimiter throttles the message-send path per user. Counters live in
// Redis so limits hold across instances.
type SendRateLimiter struct {
	redis  *store.RedisStore
	logger zerolog.Logger
	limit  int
	window time.Duration
}

// NewSendRateLimiter creates the limiter. limit <= 0 or a nil redis store
// disables limiting entirely.
func NewSendRateLimiter(redis *store.RedisStore, logger zerolog.Logger, limit int) *SendRateLimiter {
	return &SendRateLimiter{
		redis:  redis,
		logger: logger,
		limit:  limit,
		window: time.Minute,
	}
}

// Middleware enforces the per-user send limit. Redis failures degrade open:
// a broken limiter must not take message delivery down with it.
func (rl *SendRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.redis == nil || rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		userID := GetUserFromContext(r.Context())

		allowed, err := rl.redis.CheckRateLimit(r.Context(), userID.String(), rl.limit)
		if err != nil {
			rl.logger.Warn().Err(err).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", "60")
			jsonError(w, http.StatusTooManyRequests, "send rate limit exceeded")
			return
		}

		if err := rl.redis.IncrementRateLimit(r.Context(), userID.String(), rl.window); err != nil {
			rl.logger.Warn().Err(err).Msg("rate limit increment failed")
		}

		next.ServeHTTP(w, r)
	})
}
