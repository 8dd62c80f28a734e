package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/idrock/riskengine/internal/common/errors"
)

var (
	rlHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by rate limiting",
		},
	)

	rlFailOpenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Name:      "rate_limit_fail_open_total",
			Help:      "Requests allowed because Redis was unavailable",
		},
	)
)

// RateLimitConfig holds configuration for the rate limiter
type RateLimitConfig struct {
	// Requests allowed per client IP within Window
	Requests int
	// Sliding window duration
	Window time.Duration
	// Path prefixes exempt from limiting
	SkipPrefixes []string
	// Redis round trip budget; the request fails open past it
	Timeout time.Duration

	Now func() time.Time
}

// DefaultRateLimitConfig returns 1000 requests per 15 minutes per IP
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests:     1000,
		Window:       15 * time.Minute,
		SkipPrefixes: []string{"/api/health", "/metrics"},
		Timeout:      200 * time.Millisecond,
	}
}

// SlidingWindowRateLimit limits requests per client IP with a Redis sorted
// set holding one member per request inside the window. A nil client turns
// the middleware into a pass-through; Redis errors fail open.
func SlidingWindowRateLimit(client *redis.Client, cfg RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	if client == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 200 * time.Millisecond
	}
	logger = logger.With(zap.String("component", "ratelimit"))
	windowSeconds := strconv.Itoa(int(cfg.Window.Seconds()))

	return func(c *gin.Context) {
		for _, prefix := range cfg.SkipPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.Timeout)
		defer cancel()

		now := cfg.Now()
		key := "ratelimit:ip:" + c.ClientIP()
		windowStart := now.Add(-cfg.Window).UnixNano()

		var count *redis.IntCmd
		_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10))
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
			count = pipe.ZCard(ctx, key)
			pipe.Expire(ctx, key, cfg.Window+time.Second)
			return nil
		})
		if err != nil {
			rlFailOpenTotal.Inc()
			logger.Warn("Rate limit Redis error, failing open", zap.Error(err))
			c.Next()
			return
		}

		n := int(count.Val())
		remaining := cfg.Requests - n
		if remaining < 0 {
			remaining = 0
		}
		c.Header("RateLimit-Limit", strconv.Itoa(cfg.Requests))
		c.Header("RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("RateLimit-Policy", strconv.Itoa(cfg.Requests)+";w="+windowSeconds)

		if n > cfg.Requests {
			rlHitsTotal.Inc()
			c.Header("Retry-After", windowSeconds)
			apperrors.HandleError(c, apperrors.RateLimit("Too many requests from this IP, please try again later."))
			return
		}

		c.Next()
	}
}
