// Package reputation implements IP reputation providers for the risk engine.
package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/idrock/riskengine/internal/common/resilience"
	"github.com/idrock/riskengine/internal/risk"
)

// ErrProviderRejected is returned when proxycheck.io answers with an error or denied status
var ErrProviderRejected = errors.New("reputation provider rejected request")

// ProxyCheckConfig configures a ProxyCheckClient
type ProxyCheckConfig struct {
	BaseURL   string
	APIKey    string
	// Timeout bounds a request whose context carries no deadline
	Timeout   time.Duration
	UserAgent string
	MaxBatch  int
}

// DefaultProxyCheckConfig returns the proxycheck.io v2 defaults
func DefaultProxyCheckConfig() ProxyCheckConfig {
	return ProxyCheckConfig{
		BaseURL:   "https://proxycheck.io/v2",
		Timeout:   5 * time.Second,
		UserAgent: "idRock-MVP/1.0.0",
		MaxBatch:  100,
	}
}

// ProxyCheckClient queries proxycheck.io through a circuit breaker
type ProxyCheckClient struct {
	config ProxyCheckConfig
	http   *resilience.ResilientHTTPClient
	logger *zap.Logger
}

// NewProxyCheckClient creates a client. When httpClient is nil a default
// client guarded by a "proxycheck" circuit breaker is created.
func NewProxyCheckClient(cfg ProxyCheckConfig, httpClient *resilience.ResilientHTTPClient, logger *zap.Logger) *ProxyCheckClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultProxyCheckConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = d.MaxBatch
	}
	if httpClient == nil {
		cbCfg := resilience.DefaultCircuitBreakerConfig("proxycheck")
		cbCfg.Logger = logger
		httpClient = resilience.NewResilientHTTPClient(
			&http.Client{},
			resilience.NewCircuitBreaker(cbCfg),
		)
	}
	return &ProxyCheckClient{
		config: cfg,
		http:   httpClient,
		logger: logger.With(zap.String("component", "proxycheck")),
	}
}

// Configured reports whether an API key is set. Without a key proxycheck.io
// applies a small anonymous daily quota.
func (c *ProxyCheckClient) Configured() bool {
	return c.config.APIKey != ""
}

// Breaker returns the circuit breaker guarding upstream calls
func (c *ProxyCheckClient) Breaker() *resilience.CircuitBreaker {
	return c.http.Breaker()
}

// CheckIP looks up a single address
func (c *ProxyCheckClient) CheckIP(ctx context.Context, ip string) (*risk.ProviderResult, error) {
	entries, err := c.query(ctx, []string{ip}, true)
	if err != nil {
		return nil, err
	}
	res, ok := entries[ip]
	if !ok {
		return nil, fmt.Errorf("proxycheck response has no entry for %s", ip)
	}
	return res, nil
}

// CheckIPs looks up several addresses, MaxBatch per request. Addresses
// missing from the response are omitted from the result.
func (c *ProxyCheckClient) CheckIPs(ctx context.Context, ips []string) (map[string]*risk.ProviderResult, error) {
	if len(ips) == 0 {
		return map[string]*risk.ProviderResult{}, nil
	}
	out := make(map[string]*risk.ProviderResult, len(ips))
	for start := 0; start < len(ips); start += c.config.MaxBatch {
		end := min(start+c.config.MaxBatch, len(ips))
		entries, err := c.query(ctx, ips[start:end], false)
		if err != nil {
			return nil, err
		}
		for ip, res := range entries {
			out[ip] = res
		}
	}
	return out, nil
}

// TestConnection checks that the upstream answers for a well-known address
func (c *ProxyCheckClient) TestConnection(ctx context.Context) error {
	if _, err := c.CheckIP(ctx, "8.8.8.8"); err != nil {
		return fmt.Errorf("proxycheck connection test: %w", err)
	}
	return nil
}

func (c *ProxyCheckClient) buildURL(ips []string, detailed bool) string {
	escaped := make([]string, len(ips))
	for i, ip := range ips {
		escaped[i] = url.PathEscape(ip)
	}

	q := url.Values{}
	if c.config.APIKey != "" {
		q.Set("key", c.config.APIKey)
	}
	q.Set("vpn", "1")
	q.Set("asn", "1")
	q.Set("risk", "1")
	if detailed {
		q.Set("node", "1")
		q.Set("time", "1")
		q.Set("inf", "1")
	}
	return c.config.BaseURL + "/" + strings.Join(escaped, ",") + "?" + q.Encode()
}

func (c *ProxyCheckClient) query(ctx context.Context, ips []string, detailed bool) (map[string]*risk.ProviderResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(ips, detailed), nil)
	if err != nil {
		return nil, fmt.Errorf("build proxycheck request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxycheck request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("proxycheck returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read proxycheck response: %w", err)
	}

	entries, err := parseResponse(body, ips)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("ProxyCheck lookup completed", zap.Int("requested", len(ips)), zap.Int("returned", len(entries)))
	return entries, nil
}

// proxyCheckEntry is one address in a proxycheck.io v2 response
type proxyCheckEntry struct {
	ASN          string          `json:"asn"`
	Provider     string          `json:"provider"`
	Organisation string          `json:"organisation"`
	Continent    string          `json:"continent"`
	Country      string          `json:"country"`
	IsoCode      string          `json:"isocode"`
	Region       string          `json:"region"`
	City         string          `json:"city"`
	Timezone     string          `json:"timezone"`
	Latitude     *float64        `json:"latitude"`
	Longitude    *float64        `json:"longitude"`
	Proxy        string          `json:"proxy"`
	VPN          string          `json:"vpn"`
	Type         string          `json:"type"`
	Risk         json.RawMessage `json:"risk"`
}

func parseResponse(body []byte, ips []string) (map[string]*risk.ProviderResult, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode proxycheck response: %w", err)
	}

	var status, message string
	if v, ok := raw["status"]; ok {
		_ = json.Unmarshal(v, &status)
	}
	if v, ok := raw["message"]; ok {
		_ = json.Unmarshal(v, &message)
	}
	switch strings.ToLower(status) {
	case "error", "denied":
		return nil, fmt.Errorf("%w: %s: %s", ErrProviderRejected, status, message)
	}

	out := make(map[string]*risk.ProviderResult, len(ips))
	for _, ip := range ips {
		v, ok := raw[ip]
		if !ok {
			continue
		}
		var e proxyCheckEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, fmt.Errorf("decode proxycheck entry for %s: %w", ip, err)
		}
		out[ip] = e.toResult()
	}
	return out, nil
}

func (e proxyCheckEntry) toResult() *risk.ProviderResult {
	return &risk.ProviderResult{
		Proxy:        strings.EqualFold(e.Proxy, "yes"),
		VPNFlag:      strings.EqualFold(e.VPN, "yes"),
		Type:         e.Type,
		Risk:         parseRisk(e.Risk),
		Country:      e.Country,
		CountryCode:  e.IsoCode,
		Region:       e.Region,
		City:         e.City,
		Provider:     e.Provider,
		Organisation: e.Organisation,
		ASN:          e.ASN,
		Continent:    e.Continent,
		Timezone:     e.Timezone,
		Latitude:     e.Latitude,
		Longitude:    e.Longitude,
	}
}

// parseRisk maps the provider's risk field to a tier. The field is a 0-100
// number in v2 responses; older responses carry the tier as a string. An
// absent field is treated as low.
func parseRisk(raw json.RawMessage) risk.RiskTier {
	if len(raw) == 0 || string(raw) == "null" {
		return risk.TierLow
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return tierFromScore(n)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return risk.TierUnknown
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return tierFromScore(n)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return risk.TierLow
	case "medium":
		return risk.TierMedium
	case "high":
		return risk.TierHigh
	default:
		return risk.TierUnknown
	}
}

func tierFromScore(n float64) risk.RiskTier {
	switch {
	case n < 34:
		return risk.TierLow
	case n < 67:
		return risk.TierMedium
	default:
		return risk.TierHigh
	}
}

var _ risk.Provider = (*ProxyCheckClient)(nil)
