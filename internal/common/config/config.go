// Package config provides configuration management for the risk engine service
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // risk.time_zone must resolve in minimal images

	"github.com/spf13/viper"

	"github.com/idrock/riskengine/internal/common/tracing"
	"github.com/idrock/riskengine/internal/risk"
)

// Config holds all configuration for the application
type Config struct {
	// Service identification
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Port        int    `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`

	// Storage connections; an empty DatabaseURL selects the in-memory store
	DatabaseURL      string `mapstructure:"database_url"`
	RedisURL         string `mapstructure:"redis_url"`
	ElasticsearchURL string `mapstructure:"elasticsearch_url"`

	// Reputation provider
	ProxyCheckAPIKey string `mapstructure:"proxycheck_api_key"`
	ProxyCheckURL    string `mapstructure:"proxycheck_url"`

	// Security settings
	APIKeys            string `mapstructure:"api_keys"` // comma separated
	CORSAllowedOrigins string `mapstructure:"cors_allowed_origins"`

	// Rate limiting
	EnableRateLimit   bool `mapstructure:"enable_rate_limit"`
	RateLimitRequests int  `mapstructure:"rate_limit_requests"`
	RateLimitWindow   int  `mapstructure:"rate_limit_window"` // seconds

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Tracing
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint      string  `mapstructure:"otlp_endpoint"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`

	Risk RiskConfig `mapstructure:"risk"`
}

// RiskConfig holds the scoring engine settings
type RiskConfig struct {
	Weights WeightsConfig `mapstructure:"weights"`

	LowThreshold  int `mapstructure:"low_threshold"`
	HighThreshold int `mapstructure:"high_threshold"`

	LowAction    string `mapstructure:"low_action"`
	MediumAction string `mapstructure:"medium_action"`
	HighAction   string `mapstructure:"high_action"`

	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheCapacity int           `mapstructure:"cache_capacity"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`

	HighRiskCountries      []string `mapstructure:"high_risk_countries"`
	MaxHardwareConcurrency int      `mapstructure:"max_hardware_concurrency"`
	MaxDeviceMemoryGB      float64  `mapstructure:"max_device_memory_gb"`
	MinConfidence          float64  `mapstructure:"min_confidence"`
	MaxTravelSpeedKmh      float64  `mapstructure:"max_travel_speed_kmh"`
	TimeZone               string   `mapstructure:"time_zone"`

	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

// WeightsConfig holds the relative factor weights; they are normalized to sum to 1
type WeightsConfig struct {
	IPReputation      float64 `mapstructure:"ip_reputation"`
	DeviceFingerprint float64 `mapstructure:"device_fingerprint"`
	Behavioral        float64 `mapstructure:"behavioral"`
	Geolocation       float64 `mapstructure:"geolocation"`
	Temporal          float64 `mapstructure:"temporal"`
}

// Load reads configuration from file and environment variables
func Load(serviceName string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/riskengine")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("RISKENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Also support non-prefixed env vars for common settings
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.ServiceName = serviceName

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := risk.DefaultConfig()
	c := risk.DefaultCacheConfig()

	v.SetDefault("version", "1.0.0")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 3001)

	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("elasticsearch_url", "")

	v.SetDefault("proxycheck_api_key", "")
	v.SetDefault("proxycheck_url", "https://proxycheck.io/v2")

	v.SetDefault("api_keys", "")
	v.SetDefault("cors_allowed_origins", "*")

	v.SetDefault("enable_rate_limit", true)
	v.SetDefault("rate_limit_requests", 1000)
	v.SetDefault("rate_limit_window", 900)

	v.SetDefault("shutdown_timeout", 30*time.Second)

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing_sample_rate", 1.0)

	v.SetDefault("risk.weights.ip_reputation", d.Weights[risk.FactorIPReputation])
	v.SetDefault("risk.weights.device_fingerprint", d.Weights[risk.FactorDeviceFingerprint])
	v.SetDefault("risk.weights.behavioral", d.Weights[risk.FactorBehavioral])
	v.SetDefault("risk.weights.geolocation", d.Weights[risk.FactorGeolocation])
	v.SetDefault("risk.weights.temporal", d.Weights[risk.FactorTemporal])
	v.SetDefault("risk.low_threshold", d.LowThreshold)
	v.SetDefault("risk.high_threshold", d.HighThreshold)
	v.SetDefault("risk.low_action", string(d.LowAction))
	v.SetDefault("risk.medium_action", string(d.MediumAction))
	v.SetDefault("risk.high_action", string(d.HighAction))
	v.SetDefault("risk.cache_ttl", c.TTL)
	v.SetDefault("risk.cache_capacity", c.Capacity)
	v.SetDefault("risk.lookup_timeout", c.LookupTimeout)
	v.SetDefault("risk.high_risk_countries", []string{})
	v.SetDefault("risk.max_hardware_concurrency", d.MaxHardwareConcurrency)
	v.SetDefault("risk.max_device_memory_gb", d.MaxDeviceMemoryGB)
	v.SetDefault("risk.min_confidence", d.MinConfidence)
	v.SetDefault("risk.max_travel_speed_kmh", d.MaxTravelSpeedKmh)
	v.SetDefault("risk.time_zone", "UTC")
	v.SetDefault("risk.persist_timeout", d.PersistTimeout)
}

func bindEnvVars(v *viper.Viper) {
	envMappings := map[string]string{
		"database_url":         "DATABASE_URL",
		"redis_url":            "REDIS_URL",
		"elasticsearch_url":    "ELASTICSEARCH_URL",
		"proxycheck_api_key":   "PROXYCHECK_API_KEY",
		"api_keys":             "API_KEYS",
		"environment":          "APP_ENV",
		"log_level":            "LOG_LEVEL",
		"port":                 "PORT",
		"cors_allowed_origins": "CORS_ALLOWED_ORIGINS",
		"tracing_enabled":      "TRACING_ENABLED",
		"otlp_endpoint":        "OTEL_EXPORTER_OTLP_ENDPOINT",
	}

	for key, env := range envMappings {
		v.BindEnv(key, "RISKENGINE_"+strings.ToUpper(key), env)
	}
}

func validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cfg.RateLimitRequests < 1 || cfg.RateLimitWindow < 1 {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1")
	}
	if _, err := cfg.Risk.ToEngineConfig(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	return nil
}

// ToEngineConfig converts the risk section into an engine configuration
func (r RiskConfig) ToEngineConfig() (risk.Config, error) {
	cfg := risk.DefaultConfig()

	w := r.Weights
	for _, v := range []float64{w.IPReputation, w.DeviceFingerprint, w.Behavioral, w.Geolocation, w.Temporal} {
		if v < 0 {
			return cfg, fmt.Errorf("weights must not be negative")
		}
	}
	if w.IPReputation+w.DeviceFingerprint+w.Behavioral+w.Geolocation+w.Temporal <= 0 {
		return cfg, fmt.Errorf("at least one weight must be positive")
	}
	cfg.SetWeights(w.IPReputation, w.DeviceFingerprint, w.Behavioral, w.Geolocation, w.Temporal)

	cfg.LowThreshold = r.LowThreshold
	cfg.HighThreshold = r.HighThreshold
	cfg.LowAction = risk.Action(strings.ToLower(r.LowAction))
	cfg.MediumAction = risk.Action(strings.ToLower(r.MediumAction))
	cfg.HighAction = risk.Action(strings.ToLower(r.HighAction))

	cfg.HighRiskCountries = r.HighRiskCountries
	if r.MaxHardwareConcurrency > 0 {
		cfg.MaxHardwareConcurrency = r.MaxHardwareConcurrency
	}
	if r.MaxDeviceMemoryGB > 0 {
		cfg.MaxDeviceMemoryGB = r.MaxDeviceMemoryGB
	}
	if r.MinConfidence > 0 {
		cfg.MinConfidence = r.MinConfidence
	}
	if r.MaxTravelSpeedKmh > 0 {
		cfg.MaxTravelSpeedKmh = r.MaxTravelSpeedKmh
	}
	if r.PersistTimeout > 0 {
		cfg.PersistTimeout = r.PersistTimeout
	}
	if r.TimeZone != "" {
		loc, err := time.LoadLocation(r.TimeZone)
		if err != nil {
			return cfg, fmt.Errorf("invalid time zone %q: %w", r.TimeZone, err)
		}
		cfg.TimeZone = loc
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// CacheConfig returns the reputation cache settings
func (r RiskConfig) CacheConfig() risk.CacheConfig {
	c := risk.DefaultCacheConfig()
	if r.CacheTTL > 0 {
		c.TTL = r.CacheTTL
	}
	if r.CacheCapacity > 0 {
		c.Capacity = r.CacheCapacity
	}
	if r.LookupTimeout > 0 {
		c.LookupTimeout = r.LookupTimeout
	}
	return c
}

// TracingConfig returns the OpenTelemetry export settings
func (c *Config) TracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:        c.TracingEnabled,
		Endpoint:       c.OTLPEndpoint,
		ServiceName:    c.ServiceName,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		SampleRate:     c.TracingSampleRate,
	}
}

// GetAPIKeys returns the configured API keys
func (c *Config) GetAPIKeys() []string {
	var keys []string
	for _, k := range strings.Split(c.APIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// GetCORSOrigins returns CORS allowed origins as a slice
func (c *Config) GetCORSOrigins() []string {
	if c.CORSAllowedOrigins == "*" {
		return []string{"*"}
	}
	return strings.Split(c.CORSAllowedOrigins, ",")
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
