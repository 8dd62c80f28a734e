// Package main is the entry point for the Risk Service
// Risk Service scores sessions for fraud risk and tracks the sessions,
// devices and addresses it has seen.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/idrock/riskengine/internal/api"
	"github.com/idrock/riskengine/internal/common/config"
	"github.com/idrock/riskengine/internal/common/database"
	"github.com/idrock/riskengine/internal/common/logger"
	"github.com/idrock/riskengine/internal/common/resilience"
	"github.com/idrock/riskengine/internal/common/tracing"
	"github.com/idrock/riskengine/internal/health"
	"github.com/idrock/riskengine/internal/history"
	"github.com/idrock/riskengine/internal/middleware"
	"github.com/idrock/riskengine/internal/reputation"
	"github.com/idrock/riskengine/internal/risk"
	"github.com/idrock/riskengine/internal/server"
)

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

const memoryLimitBytes = 500 << 20

func main() {
	log := logger.New()
	defer log.Sync()

	log.Info("Starting Risk Service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	cfg, err := config.Load("risk-service")
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if Version != "dev" {
		cfg.Version = Version
	}
	log = logger.WithService(log, cfg.ServiceName)
	cfg.LogSecurityWarnings(log)

	ctx := context.Background()

	shutdownTracer, err := tracing.Init(ctx, cfg.TracingConfig(), log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	var closers []server.Shutdownable

	// History store: PostgreSQL when configured, memory otherwise
	var store history.Store
	backend := "memory"
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		pg := history.NewPostgresStore(db, log)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
		store = pg
		backend = "postgres"
		closers = append(closers, server.Closer("postgres", db))
	} else {
		log.Warn("DATABASE_URL is not set; history is kept in memory and lost on restart")
		store = history.NewMemoryStore(log)
	}

	if cfg.ElasticsearchURL != "" {
		es, err := database.NewElasticsearch(cfg.ElasticsearchURL)
		if err != nil {
			log.Fatal("Failed to connect to Elasticsearch", zap.Error(err))
		}
		indexer, err := history.NewSearchIndexer(es)
		if err != nil {
			log.Fatal("Failed to prepare assessment index", zap.Error(err))
		}
		store = history.NewIndexedStore(store, indexer, log)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		closers = append(closers, server.Closer("redis", redisClient))
	}

	// Reputation provider chain: proxycheck.io, optionally behind Redis
	breakers := resilience.NewRegistry()
	proxyCheck := reputation.NewProxyCheckClient(reputation.ProxyCheckConfig{
		BaseURL: cfg.ProxyCheckURL,
		APIKey:  cfg.ProxyCheckAPIKey,
	}, nil, log)
	breakers.Register(proxyCheck.Breaker())
	if proxyCheck.Configured() {
		testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := proxyCheck.TestConnection(testCtx); err != nil {
			log.Warn("proxycheck.io connection test failed; lookups will fall back until it recovers", zap.Error(err))
		}
		cancel()
	}

	cacheCfg := cfg.Risk.CacheConfig()
	var provider risk.Provider = proxyCheck
	if redisClient != nil {
		provider = reputation.NewRedisCache(proxyCheck, redisClient, cacheCfg.TTL, log)
	}
	cache := risk.NewReputationCache(provider, cacheCfg, log)

	engineCfg, err := cfg.Risk.ToEngineConfig()
	if err != nil {
		log.Fatal("Invalid risk configuration", zap.Error(err))
	}
	engine, err := risk.NewEngine(
		risk.WithConfig(engineCfg),
		risk.WithHistoryStore(store),
		risk.WithReputationCache(cache),
		risk.WithLogger(log),
	)
	if err != nil {
		log.Fatal("Failed to create risk engine", zap.Error(err))
	}

	healthService := health.NewHealthService(cfg.ServiceName, cfg.Version, log)
	healthService.RegisterCheck(health.NewStoreChecker(store, backend))
	healthService.RegisterCheck(health.NewProviderChecker("proxycheck", proxyCheck.Configured(), cache.Status))
	healthService.RegisterCheck(health.NewBreakerChecker(breakers))
	healthService.RegisterCheck(health.NewMemoryChecker(memoryLimitBytes))
	if redisClient != nil {
		healthService.RegisterCheck(health.NewRedisChecker(redisClient))
	}

	routerCfg := api.RouterConfig{
		ServiceName: cfg.ServiceName,
		Production:  cfg.IsProduction(),
		Development: cfg.IsDevelopment(),
		APIKeys:     cfg.GetAPIKeys(),
		CORS:        middleware.DefaultCORSConfig(),
		Redis:       redisClient,
	}
	routerCfg.CORS.AllowedOrigins = cfg.GetCORSOrigins()
	if cfg.EnableRateLimit {
		rl := middleware.DefaultRateLimitConfig()
		rl.Requests = cfg.RateLimitRequests
		rl.Window = time.Duration(cfg.RateLimitWindow) * time.Second
		routerCfg.RateLimit = &rl
		if redisClient == nil {
			log.Warn("Rate limiting is enabled but REDIS_URL is not set; requests are not limited")
		}
	}

	handler := api.NewHandler(engine, store, log)
	router := api.NewRouter(routerCfg, handler, healthService, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	closers = append(closers, server.CloseTracer(shutdownTracer))
	gs := server.New(server.Config{
		Server:          srv,
		Logger:          log,
		Shutdownables:   closers,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	log.Info("Server listening",
		zap.Int("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("history_backend", backend),
		zap.Bool("proxycheck_key", proxyCheck.Configured()))

	if err := gs.Run(ctx); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
	}
	log.Info("Server exited")
}
