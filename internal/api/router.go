package api

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	apperrors "github.com/idrock/riskengine/internal/common/errors"
	"github.com/idrock/riskengine/internal/common/logger"
	"github.com/idrock/riskengine/internal/health"
	"github.com/idrock/riskengine/internal/metrics"
	"github.com/idrock/riskengine/internal/middleware"
)

// RouterConfig holds the HTTP surface settings
type RouterConfig struct {
	ServiceName string
	Production  bool
	// Development disables API key authentication
	Development bool
	APIKeys     []string
	CORS        middleware.CORSConfig
	// RateLimit is nil when rate limiting is disabled
	RateLimit *middleware.RateLimitConfig
	// Redis backs the rate limiter; nil makes it a pass-through
	Redis *redis.Client
}

// NewRouter builds the Gin engine with the full middleware chain:
// panic recovery, request ID, tracing, request logging, metrics, security
// headers and CORS globally; rate limiting, version negotiation and API key
// authentication under /api.
func NewRouter(cfg RouterConfig, h *Handler, hs *health.HealthService, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	r.Use(middleware.RequestID())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(logger.GinMiddleware(log))
	r.Use(metrics.Middleware(cfg.ServiceName))
	r.Use(middleware.SecurityHeaders(cfg.Production))
	r.Use(middleware.CORS(cfg.CORS))

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	if cfg.RateLimit != nil {
		api.Use(middleware.SlidingWindowRateLimit(cfg.Redis, *cfg.RateLimit, log))
	}
	api.Use(VersionMiddleware(DefaultAPIVersion, []string{DefaultAPIVersion}))

	hs.RegisterRoutes(api.Group("/health"))

	protected := api.Group("")
	protected.Use(middleware.APIKeyAuth(middleware.APIKeyAuthConfig{
		Keys:     cfg.APIKeys,
		Disabled: cfg.Development,
	}, log))
	h.RegisterRoutes(protected)

	r.NoRoute(func(c *gin.Context) {
		apperrors.HandleError(c, apperrors.NotFound("Endpoint "+c.Request.Method+" "+c.Request.URL.Path))
	})

	return r
}
