package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/idrock/riskengine/internal/common/resilience"
	"github.com/idrock/riskengine/internal/history"
	"github.com/idrock/riskengine/internal/risk"
)

// mockChecker is a mock implementation of HealthChecker for testing
type mockChecker struct {
	name     string
	status   string
	critical bool
}

func (m *mockChecker) Name() string     { return m.name }
func (m *mockChecker) IsCritical() bool { return m.critical }

func (m *mockChecker) Check(ctx context.Context) ComponentStatus {
	return ComponentStatus{Status: m.status, CheckedAt: checkedAt()}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthService_Check(t *testing.T) {
	tests := []struct {
		name           string
		checkers       []HealthChecker
		expectedStatus string
	}{
		{
			name:           "no components",
			expectedStatus: StatusHealthy,
		},
		{
			name: "all components healthy",
			checkers: []HealthChecker{
				&mockChecker{name: "database", status: StatusHealthy, critical: true},
				&mockChecker{name: "proxycheck", status: StatusHealthy},
			},
			expectedStatus: StatusHealthy,
		},
		{
			name: "one component degraded",
			checkers: []HealthChecker{
				&mockChecker{name: "database", status: StatusHealthy, critical: true},
				&mockChecker{name: "proxycheck", status: StatusDegraded},
			},
			expectedStatus: StatusDegraded,
		},
		{
			name: "unhealthy takes precedence over degraded",
			checkers: []HealthChecker{
				&mockChecker{name: "database", status: StatusUnhealthy, critical: true},
				&mockChecker{name: "proxycheck", status: StatusDegraded},
			},
			expectedStatus: StatusUnhealthy,
		},
		{
			name: "non-critical unhealthy still counts",
			checkers: []HealthChecker{
				&mockChecker{name: "database", status: StatusHealthy, critical: true},
				&mockChecker{name: "redis", status: StatusUnhealthy},
			},
			expectedStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService("risk-service", "1.0.0", zaptest.NewLogger(t))
			for _, checker := range tt.checkers {
				hs.RegisterCheck(checker)
			}

			result := hs.Check(context.Background())

			if result.Status != tt.expectedStatus {
				t.Errorf("expected status %q, got %q", tt.expectedStatus, result.Status)
			}
			if len(result.Components) != len(tt.checkers) {
				t.Errorf("expected %d components, got %d", len(tt.checkers), len(result.Components))
			}
			if result.Service != "risk-service" || result.Version != "1.0.0" {
				t.Errorf("unexpected identity %q %q", result.Service, result.Version)
			}
		})
	}
}

func TestHealthService_Handlers(t *testing.T) {
	tests := []struct {
		name         string
		checkers     []HealthChecker
		path         string
		expectedCode int
	}{
		{
			name:         "live ignores components",
			checkers:     []HealthChecker{&mockChecker{name: "database", status: StatusUnhealthy, critical: true}},
			path:         "/api/health",
			expectedCode: http.StatusOK,
		},
		{
			name:         "detailed degraded is 200",
			checkers:     []HealthChecker{&mockChecker{name: "proxycheck", status: StatusDegraded}},
			path:         "/api/health/detailed",
			expectedCode: http.StatusOK,
		},
		{
			name:         "detailed unhealthy is 503",
			checkers:     []HealthChecker{&mockChecker{name: "database", status: StatusUnhealthy, critical: true}},
			path:         "/api/health/detailed",
			expectedCode: http.StatusServiceUnavailable,
		},
		{
			name:         "ready with critical unhealthy",
			checkers:     []HealthChecker{&mockChecker{name: "database", status: StatusUnhealthy, critical: true}},
			path:         "/api/health/ready",
			expectedCode: http.StatusServiceUnavailable,
		},
		{
			name:         "ready with non-critical unhealthy",
			checkers:     []HealthChecker{&mockChecker{name: "redis", status: StatusUnhealthy}},
			path:         "/api/health/ready",
			expectedCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService("risk-service", "1.0.0", zaptest.NewLogger(t))
			for _, c := range tt.checkers {
				hs.RegisterCheck(c)
			}
			r := gin.New()
			hs.RegisterRoutes(r.Group("/api/health"))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.expectedCode {
				t.Errorf("expected %d, got %d: %s", tt.expectedCode, w.Code, w.Body.String())
			}
		})
	}
}

func TestHealthService_LiveBody(t *testing.T) {
	hs := NewHealthService("risk-service", "1.0.0", zaptest.NewLogger(t))
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	hs.startTime = start
	hs.now = func() time.Time { return start.Add(90 * time.Second) }

	r := gin.New()
	hs.RegisterRoutes(r.Group("/api/health"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var body HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", body.Status)
	}
	if body.Uptime != "1m 30s" || body.UptimeSeconds != 90 {
		t.Errorf("unexpected uptime %q %v", body.Uptime, body.UptimeSeconds)
	}
	if body.Timestamp != "2025-01-01T00:01:30Z" {
		t.Errorf("unexpected timestamp %s", body.Timestamp)
	}
}

func TestStoreChecker(t *testing.T) {
	ok := NewStoreChecker(history.NewMemoryStore(nil), "memory").Check(context.Background())
	if ok.Status != StatusHealthy {
		t.Errorf("memory store: expected healthy, got %s", ok.Status)
	}

	down := NewStoreChecker(failingPinger{}, "postgres").Check(context.Background())
	if down.Status != StatusUnhealthy {
		t.Errorf("failing store: expected unhealthy, got %s", down.Status)
	}
}

func TestProviderChecker(t *testing.T) {
	status := func() risk.CacheStatus {
		return risk.CacheStatus{ProviderConfigured: true, Size: 7, Capacity: 1000, TTL: time.Hour}
	}

	configured := NewProviderChecker("proxycheck", true, status).Check(context.Background())
	if configured.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", configured.Status)
	}
	if configured.Metadata["cache_size"] != 7 {
		t.Errorf("expected cache size 7, got %v", configured.Metadata["cache_size"])
	}

	free := NewProviderChecker("proxycheck", false, nil).Check(context.Background())
	if free.Status != StatusDegraded {
		t.Errorf("expected degraded without API key, got %s", free.Status)
	}
}

func TestBreakerChecker(t *testing.T) {
	registry := resilience.NewRegistry()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "proxycheck",
		Threshold:    1,
		ResetTimeout: time.Minute,
	})
	registry.Register(cb)
	checker := NewBreakerChecker(registry)

	if got := checker.Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("closed breaker: expected healthy, got %s", got)
	}

	_ = cb.Execute(func() error { return errors.New("upstream 503") })

	if got := checker.Check(context.Background()).Status; got != StatusDegraded {
		t.Errorf("open breaker: expected degraded, got %s", got)
	}
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisChecker(client)
	if got := checker.Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("expected healthy, got %s", got)
	}

	mr.Close()
	if got := checker.Check(context.Background()).Status; got != StatusUnhealthy {
		t.Errorf("expected unhealthy after close, got %s", got)
	}
}

func TestMemoryChecker(t *testing.T) {
	if got := NewMemoryChecker(0).Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("expected healthy under default limit, got %s", got)
	}
	if got := NewMemoryChecker(1).Check(context.Background()).Status; got != StatusDegraded {
		t.Errorf("expected degraded over a 1 byte limit, got %s", got)
	}
}

func TestFuncChecker(t *testing.T) {
	calls := 0
	hs := NewHealthService("risk-service", "", zaptest.NewLogger(t))
	hs.RegisterCheck(NewFuncChecker("func", func(ctx context.Context) ComponentStatus {
		calls++
		return ComponentStatus{Status: StatusHealthy, Details: "func check"}
	}, true))

	result := hs.Check(context.Background())

	if calls != 1 {
		t.Errorf("expected func checker to be called once, was called %d times", calls)
	}
	if result.Components["func"].Details != "func check" {
		t.Errorf("unexpected details %q", result.Components["func"].Details)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{time.Second, "1s"},
		{90 * time.Second, "1m 30s"},
		{time.Hour, "1h 0m 0s"},
		{24*time.Hour + 2*time.Hour, "1d 2h 0m 0s"},
		{2*24*time.Hour + 3*time.Hour + 45*time.Minute + 30*time.Second, "2d 3h 45m 30s"},
	}

	for _, tt := range tests {
		t.Run(tt.input.String(), func(t *testing.T) {
			if got := formatDuration(tt.input); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
