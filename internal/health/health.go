// Package health provides the liveness, readiness and detailed health
// endpoints of the risk service.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Component and overall statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ComponentStatus represents the health status of a single component
type ComponentStatus struct {
	Status    string                 `json:"status"`
	LatencyMS float64                `json:"latency_ms"`
	Details   string                 `json:"details,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CheckedAt string                 `json:"checked_at"`
}

// HealthResponse is the body of the detailed health endpoint
type HealthResponse struct {
	Status        string                     `json:"status"`
	Service       string                     `json:"service"`
	Version       string                     `json:"version,omitempty"`
	Timestamp     string                     `json:"timestamp"`
	Uptime        string                     `json:"uptime"`
	UptimeSeconds float64                    `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components,omitempty"`
}

// HealthChecker is the interface that dependency health checks must implement
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) ComponentStatus
	IsCritical() bool // Returns true if this component is critical for readiness
}

// HealthService orchestrates health checks across all registered components
type HealthService struct {
	service      string
	version      string
	checkTimeout time.Duration
	logger       *zap.Logger
	startTime    time.Time
	now          func() time.Time

	mu       sync.RWMutex
	checkers []HealthChecker
}

// NewHealthService creates a new HealthService
func NewHealthService(service, version string, logger *zap.Logger) *HealthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthService{
		service:      service,
		version:      version,
		checkTimeout: 5 * time.Second,
		logger:       logger.With(zap.String("component", "health")),
		startTime:    time.Now(),
		now:          time.Now,
	}
}

// RegisterCheck adds a new health checker to the service
func (h *HealthService) RegisterCheck(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
	h.logger.Debug("Registered health checker",
		zap.String("name", checker.Name()),
		zap.Bool("critical", checker.IsCritical()))
}

func (h *HealthService) snapshot() []HealthChecker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checkers := make([]HealthChecker, len(h.checkers))
	copy(checkers, h.checkers)
	return checkers
}

func (h *HealthService) base() *HealthResponse {
	uptime := h.now().Sub(h.startTime)
	return &HealthResponse{
		Status:        StatusHealthy,
		Service:       h.service,
		Version:       h.version,
		Timestamp:     h.now().UTC().Format(time.RFC3339),
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
	}
}

// Check runs all registered checkers concurrently. The overall status is
// unhealthy when any component is unhealthy, degraded when any is degraded.
func (h *HealthService) Check(ctx context.Context) *HealthResponse {
	checkers := h.snapshot()

	type result struct {
		name  string
		check ComponentStatus
	}
	results := make(chan result, len(checkers))

	for _, checker := range checkers {
		go func(c HealthChecker) {
			checkCtx, cancel := context.WithTimeout(ctx, h.checkTimeout)
			defer cancel()
			results <- result{name: c.Name(), check: c.Check(checkCtx)}
		}(checker)
	}

	resp := h.base()
	resp.Components = make(map[string]ComponentStatus, len(checkers))
	for range checkers {
		r := <-results
		resp.Components[r.name] = r.check
	}

	names := make([]string, 0, len(resp.Components))
	for name := range resp.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		switch resp.Components[name].Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
			h.logger.Warn("Component is unhealthy", zap.String("name", name))
		case StatusDegraded:
			if resp.Status != StatusUnhealthy {
				resp.Status = StatusDegraded
			}
			h.logger.Debug("Component is degraded", zap.String("name", name))
		}
	}

	return resp
}

// LiveHandler answers liveness probes; it never runs dependency checks
func (h *HealthService) LiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.base())
	}
}

// DetailedHandler returns 200 for healthy/degraded and 503 for unhealthy
func (h *HealthService) DetailedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := h.Check(c.Request.Context())

		httpStatus := http.StatusOK
		if resp.Status == StatusUnhealthy {
			httpStatus = http.StatusServiceUnavailable
		}

		c.JSON(httpStatus, resp)
	}
}

// ReadyHandler returns 503 if any critical component is unhealthy
func (h *HealthService) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := h.Check(c.Request.Context())

		for _, checker := range h.snapshot() {
			if !checker.IsCritical() {
				continue
			}
			if comp, ok := resp.Components[checker.Name()]; ok && comp.Status == StatusUnhealthy {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "not ready",
					"reason": fmt.Sprintf("critical component %s is unhealthy", checker.Name()),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// RegisterRoutes mounts the health endpoints on the given group
func (h *HealthService) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("", h.LiveHandler())
	group.GET("/detailed", h.DetailedHandler())
	group.GET("/ready", h.ReadyHandler())
}

// formatDuration produces a human-readable duration string
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
