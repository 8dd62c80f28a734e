package config

import "go.uber.org/zap"

// ProductionWarnings lists insecure settings that matter in production
func (c *Config) ProductionWarnings() []string {
	var warnings []string
	if len(c.GetAPIKeys()) == 0 {
		warnings = append(warnings, "API_KEYS is empty; any well-formed bearer token is accepted")
	}
	if c.ProxyCheckAPIKey == "" {
		warnings = append(warnings, "PROXYCHECK_API_KEY is not set; reputation lookups use the anonymous quota")
	}
	if c.CORSAllowedOrigins == "*" {
		warnings = append(warnings, "CORS_ALLOWED_ORIGINS allows every origin")
	}
	if !c.EnableRateLimit {
		warnings = append(warnings, "rate limiting is disabled")
	}
	return warnings
}

// LogSecurityWarnings logs actionable security warnings when running in
// production with insecure defaults. Call this at service startup after
// configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()

	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}

	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}
