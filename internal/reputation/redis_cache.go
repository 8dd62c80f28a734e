package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/idrock/riskengine/internal/metrics"
	"github.com/idrock/riskengine/internal/risk"
)

const keyPrefix = "reputation:"

// RedisCache is a Provider that shares lookups between service instances.
// Redis failures are logged and the inner provider is called directly.
type RedisCache struct {
	inner  risk.Provider
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache wraps inner with a Redis cache holding entries for ttl
func NewRedisCache(inner risk.Provider, client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "reputation_redis_cache")),
	}
}

func cacheKey(ip string) string {
	return keyPrefix + ip
}

// CheckIP serves ip from Redis, or asks the inner provider and stores the result
func (c *RedisCache) CheckIP(ctx context.Context, ip string) (*risk.ProviderResult, error) {
	if res, ok := c.get(ctx, ip); ok {
		return res, nil
	}

	res, err := c.inner.CheckIP(ctx, ip)
	if err != nil {
		return nil, err
	}
	c.set(ctx, map[string]*risk.ProviderResult{ip: res})
	return res, nil
}

// CheckIPs reads all ips with one MGET and sends only the misses to the inner provider
func (c *RedisCache) CheckIPs(ctx context.Context, ips []string) (map[string]*risk.ProviderResult, error) {
	out := make(map[string]*risk.ProviderResult, len(ips))
	if len(ips) == 0 {
		return out, nil
	}

	keys := make([]string, len(ips))
	for i, ip := range ips {
		keys[i] = cacheKey(ip)
	}

	missing := ips
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		metrics.RecordCacheOperation("get", "error")
		c.logger.Warn("Redis batch read failed", zap.Error(err))
	} else {
		missing = make([]string, 0, len(ips))
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				metrics.RecordCacheOperation("get", "miss")
				missing = append(missing, ips[i])
				continue
			}
			var res risk.ProviderResult
			if err := json.Unmarshal([]byte(s), &res); err != nil {
				metrics.RecordCacheOperation("get", "error")
				missing = append(missing, ips[i])
				continue
			}
			metrics.RecordCacheOperation("get", "hit")
			out[ips[i]] = &res
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.inner.CheckIPs(ctx, missing)
	if err != nil {
		return nil, err
	}
	c.set(ctx, fetched)
	for ip, res := range fetched {
		out[ip] = res
	}
	return out, nil
}

func (c *RedisCache) get(ctx context.Context, ip string) (*risk.ProviderResult, bool) {
	data, err := c.client.Get(ctx, cacheKey(ip)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheOperation("get", "miss")
		} else {
			metrics.RecordCacheOperation("get", "error")
			c.logger.Warn("Redis read failed", zap.String("ip", ip), zap.Error(err))
		}
		return nil, false
	}

	var res risk.ProviderResult
	if err := json.Unmarshal(data, &res); err != nil {
		metrics.RecordCacheOperation("get", "error")
		c.logger.Warn("Corrupt cached reputation entry", zap.String("ip", ip), zap.Error(err))
		return nil, false
	}
	metrics.RecordCacheOperation("get", "hit")
	return &res, true
}

func (c *RedisCache) set(ctx context.Context, results map[string]*risk.ProviderResult) {
	if len(results) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for ip, res := range results {
		if res == nil {
			continue
		}
		data, err := json.Marshal(res)
		if err != nil {
			continue
		}
		pipe.Set(ctx, cacheKey(ip), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordCacheOperation("set", "error")
		c.logger.Warn("Redis write failed", zap.Int("entries", len(results)), zap.Error(err))
		return
	}
	metrics.RecordCacheOperation("set", "success")
}

var _ risk.Provider = (*RedisCache)(nil)
