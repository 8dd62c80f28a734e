package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idrock/riskengine/internal/risk"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("risk-service")
	require.NoError(t, err)

	assert.Equal(t, "risk-service", cfg.ServiceName)
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.DatabaseURL, "memory store by default")
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	engine, err := cfg.Risk.ToEngineConfig()
	require.NoError(t, err)
	for _, f := range risk.Factors {
		assert.InDelta(t, risk.DefaultConfig().Weights[f], engine.Weights[f], 1e-9, f.String())
	}
	assert.Equal(t, 30, engine.LowThreshold)
	assert.Equal(t, time.UTC, engine.TimeZone)

	cache := cfg.Risk.CacheConfig()
	assert.Equal(t, time.Hour, cache.TTL)
	assert.Equal(t, 1000, cache.Capacity)
	assert.Equal(t, 5*time.Second, cache.LookupTimeout)
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "8088")
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/risk")
	t.Setenv("PROXYCHECK_API_KEY", "pc-key")
	t.Setenv("API_KEYS", "key-one-123, key-two-456 ,")
	t.Setenv("RISKENGINE_RISK_CACHE_TTL", "15m")
	t.Setenv("RISKENGINE_RISK_HIGH_RISK_COUNTRIES", "KP,IR")
	t.Setenv("RISKENGINE_RISK_MEDIUM_ACTION", "BLOCK")

	cfg, err := Load("risk-service")
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "postgres://u:p@db:5432/risk", cfg.DatabaseURL)
	assert.Equal(t, "pc-key", cfg.ProxyCheckAPIKey)
	assert.Equal(t, []string{"key-one-123", "key-two-456"}, cfg.GetAPIKeys())
	assert.Equal(t, 15*time.Minute, cfg.Risk.CacheConfig().TTL)

	engine, err := cfg.Risk.ToEngineConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"KP", "IR"}, engine.HighRiskCountries)
	assert.Equal(t, risk.ActionBlock, engine.MediumAction)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "70000")

	_, err := Load("risk-service")
	assert.Error(t, err)
}

func TestRiskConfig_ToEngineConfig(t *testing.T) {
	valid := func() RiskConfig {
		return RiskConfig{
			Weights:       WeightsConfig{IPReputation: 3, DeviceFingerprint: 2.5, Behavioral: 2, Geolocation: 1.5, Temporal: 1},
			LowThreshold:  30,
			HighThreshold: 70,
			LowAction:     "allow",
			MediumAction:  "review",
			HighAction:    "block",
			TimeZone:      "America/Sao_Paulo",
		}
	}

	t.Run("relative weights are normalized", func(t *testing.T) {
		cfg, err := valid().ToEngineConfig()
		require.NoError(t, err)
		assert.InDelta(t, 0.30, cfg.Weights[risk.FactorIPReputation], 1e-9)
		assert.InDelta(t, 0.10, cfg.Weights[risk.FactorTemporal], 1e-9)
		assert.Equal(t, "America/Sao_Paulo", cfg.TimeZone.String())
	})

	tests := []struct {
		name   string
		mutate func(*RiskConfig)
	}{
		{"negative weight", func(r *RiskConfig) { r.Weights.Behavioral = -1 }},
		{"zero weights", func(r *RiskConfig) { r.Weights = WeightsConfig{} }},
		{"inverted thresholds", func(r *RiskConfig) { r.LowThreshold, r.HighThreshold = 80, 20 }},
		{"unknown action", func(r *RiskConfig) { r.HighAction = "quarantine" }},
		{"bad time zone", func(r *RiskConfig) { r.TimeZone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			_, err := r.ToEngineConfig()
			assert.Error(t, err)
		})
	}
}

func TestProductionWarnings(t *testing.T) {
	cfg := &Config{Environment: "production", CORSAllowedOrigins: "*"}
	assert.Len(t, cfg.ProductionWarnings(), 4)

	cfg = &Config{
		Environment:        "production",
		APIKeys:            "key-one-123",
		ProxyCheckAPIKey:   "pc",
		CORSAllowedOrigins: "https://shop.example.com",
		EnableRateLimit:    true,
	}
	assert.Empty(t, cfg.ProductionWarnings())
	assert.Equal(t, []string{"https://shop.example.com"}, cfg.GetCORSOrigins())
}

func TestConfig_TracingConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load("risk-service")
	require.NoError(t, err)

	tc := cfg.TracingConfig()
	assert.True(t, tc.Enabled)
	assert.Equal(t, "collector:4317", tc.Endpoint)
	assert.Equal(t, "risk-service", tc.ServiceName)
	assert.Equal(t, 1.0, tc.SampleRate)
}
