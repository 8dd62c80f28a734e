package health

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/idrock/riskengine/internal/common/resilience"
	"github.com/idrock/riskengine/internal/risk"
)

func checkedAt() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func latencyMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// Pinger is implemented by history stores
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker checks the history store
type StoreChecker struct {
	store    Pinger
	backend  string
	critical bool
}

// NewStoreChecker creates a critical StoreChecker; backend names the
// implementation ("memory", "postgres") in the details.
func NewStoreChecker(store Pinger, backend string) *StoreChecker {
	return &StoreChecker{store: store, backend: backend, critical: true}
}

func (s *StoreChecker) Name() string     { return "database" }
func (s *StoreChecker) IsCritical() bool { return s.critical }

// Check pings the store; latency above 500ms is degraded
func (s *StoreChecker) Check(ctx context.Context) ComponentStatus {
	start := time.Now()
	err := s.store.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMS: latencyMS(latency),
			Details:   fmt.Sprintf("%s store not reachable: %v", s.backend, err),
			CheckedAt: checkedAt(),
		}
	}

	status, details := StatusHealthy, "Connected"
	if latency > 500*time.Millisecond {
		status, details = StatusDegraded, "high latency"
	}
	return ComponentStatus{
		Status:    status,
		LatencyMS: latencyMS(latency),
		Details:   details,
		Metadata:  map[string]interface{}{"backend": s.backend},
		CheckedAt: checkedAt(),
	}
}

// ProviderChecker reports the reputation provider and cache. Without an API
// key the provider still answers on the free tier, so it is degraded rather
// than unhealthy.
type ProviderChecker struct {
	name       string
	configured bool
	cache      func() risk.CacheStatus
}

// NewProviderChecker creates a non-critical ProviderChecker
func NewProviderChecker(name string, apiKeyConfigured bool, cache func() risk.CacheStatus) *ProviderChecker {
	return &ProviderChecker{name: name, configured: apiKeyConfigured, cache: cache}
}

func (p *ProviderChecker) Name() string     { return p.name }
func (p *ProviderChecker) IsCritical() bool { return false }

func (p *ProviderChecker) Check(ctx context.Context) ComponentStatus {
	cs := ComponentStatus{
		Status:    StatusHealthy,
		Details:   "API key configured",
		CheckedAt: checkedAt(),
	}
	if !p.configured {
		cs.Status = StatusDegraded
		cs.Details = "No API key configured"
	}
	if p.cache != nil {
		st := p.cache()
		cs.Metadata = map[string]interface{}{
			"cache_size":     st.Size,
			"cache_capacity": st.Capacity,
			"cache_ttl":      st.TTL.String(),
		}
	}
	return cs
}

// BreakerChecker reports the circuit breaker registry; any open breaker
// degrades the service
type BreakerChecker struct {
	registry *resilience.Registry
}

// NewBreakerChecker creates a non-critical BreakerChecker
func NewBreakerChecker(registry *resilience.Registry) *BreakerChecker {
	return &BreakerChecker{registry: registry}
}

func (b *BreakerChecker) Name() string     { return "circuit_breakers" }
func (b *BreakerChecker) IsCritical() bool { return false }

func (b *BreakerChecker) Check(ctx context.Context) ComponentStatus {
	stats := b.registry.AllStats()
	breakers := make(map[string]interface{}, len(stats))
	for _, s := range stats {
		breakers[s.Name] = s
	}

	cs := ComponentStatus{
		Status:    StatusHealthy,
		Details:   fmt.Sprintf("%d breakers, 0 open", len(stats)),
		Metadata:  breakers,
		CheckedAt: checkedAt(),
	}
	if open := b.registry.Open(); len(open) > 0 {
		cs.Status = StatusDegraded
		cs.Details = fmt.Sprintf("%d breakers, %d open: %s", len(stats), len(open), strings.Join(open, ", "))
	}
	return cs
}

// RedisChecker checks the shared Redis instance
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a non-critical RedisChecker; the service keeps
// scoring without Redis
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string     { return "redis" }
func (r *RedisChecker) IsCritical() bool { return false }

// Check tests the Redis connection by running PING and measuring latency
func (r *RedisChecker) Check(ctx context.Context) ComponentStatus {
	start := time.Now()
	err := r.client.Ping(ctx).Err()
	latency := time.Since(start)

	if err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMS: latencyMS(latency),
			Details:   err.Error(),
			CheckedAt: checkedAt(),
		}
	}

	status := StatusHealthy
	details := ""
	if latency > 200*time.Millisecond {
		status = StatusDegraded
		details = "high latency"
	}
	return ComponentStatus{
		Status:    status,
		LatencyMS: latencyMS(latency),
		Details:   details,
		CheckedAt: checkedAt(),
	}
}

// MemoryChecker degrades when the Go heap grows past a limit
type MemoryChecker struct {
	limitBytes uint64
}

// NewMemoryChecker creates a MemoryChecker; a zero limit uses 500 MB
func NewMemoryChecker(limitBytes uint64) *MemoryChecker {
	if limitBytes == 0 {
		limitBytes = 500 << 20
	}
	return &MemoryChecker{limitBytes: limitBytes}
}

func (m *MemoryChecker) Name() string     { return "memory" }
func (m *MemoryChecker) IsCritical() bool { return false }

func (m *MemoryChecker) Check(ctx context.Context) ComponentStatus {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	status := StatusHealthy
	if ms.HeapAlloc >= m.limitBytes {
		status = StatusDegraded
	}
	return ComponentStatus{
		Status: status,
		Metadata: map[string]interface{}{
			"heap_alloc_mb": ms.HeapAlloc >> 20,
			"heap_sys_mb":   ms.HeapSys >> 20,
			"goroutines":    runtime.NumGoroutine(),
		},
		CheckedAt: checkedAt(),
	}
}

// FuncChecker allows creating a health checker from a function
type FuncChecker struct {
	name     string
	check    func(context.Context) ComponentStatus
	critical bool
}

// NewFuncChecker creates a checker from a function
func NewFuncChecker(name string, check func(context.Context) ComponentStatus, critical bool) *FuncChecker {
	return &FuncChecker{name: name, check: check, critical: critical}
}

func (f *FuncChecker) Name() string     { return f.name }
func (f *FuncChecker) IsCritical() bool { return f.critical }

// Check calls the wrapped function
func (f *FuncChecker) Check(ctx context.Context) ComponentStatus {
	return f.check(ctx)
}
