package risk

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/idrock/riskengine/internal/metrics"
)

// ProviderResult is a single IP as reported by a reputation provider
type ProviderResult struct {
	Proxy        bool
	// VPNFlag is the provider's own vpn field. Scoring reads Type instead.
	VPNFlag      bool
	Type         string
	Risk         RiskTier
	Country      string
	CountryCode  string
	Region       string
	City         string
	Provider     string
	Organisation string
	ASN          string
	Continent    string
	Timezone     string
	Latitude     *float64
	Longitude    *float64
}

// Provider looks up IP reputation from an external service.
// Implementations must return an error on timeout, non-2xx status or a malformed body.
type Provider interface {
	CheckIP(ctx context.Context, ip string) (*ProviderResult, error)
	CheckIPs(ctx context.Context, ips []string) (map[string]*ProviderResult, error)
}

// ReputationRecord is a cached reputation lookup
type ReputationRecord struct {
	IP           string    `json:"ip"`
	Proxy        bool      `json:"proxy"`
	VPN          VPNStatus `json:"vpn"`
	VPNFlag      bool      `json:"vpnFlag,omitempty"`
	Type         string    `json:"type,omitempty"`
	RiskTier     RiskTier  `json:"riskTier"`
	Location     Location  `json:"location"`
	Provider     string    `json:"provider,omitempty"`
	Organisation string    `json:"organisation,omitempty"`
	ASN          string    `json:"asn,omitempty"`
	Fallback     bool      `json:"fallback,omitempty"`
	CachedAt     time.Time `json:"cachedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// CacheConfig configures a ReputationCache
type CacheConfig struct {
	TTL           time.Duration
	Capacity      int
	LookupTimeout time.Duration // batch calls use twice this
	BatchSize     int
	// EvictFraction of Capacity is removed, oldest first, when an insert overflows
	EvictFraction float64
	Now           func() time.Time
}

// DefaultCacheConfig returns the default reputation cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:           time.Hour,
		Capacity:      1000,
		LookupTimeout: 5 * time.Second,
		BatchSize:     100,
		EvictFraction: 0.10,
	}
}

// CacheStatus summarizes the cache for health reporting
type CacheStatus struct {
	ProviderConfigured bool          `json:"providerConfigured"`
	Size               int           `json:"size"`
	Capacity           int           `json:"capacity"`
	TTL                time.Duration `json:"ttl"`
}

// ReputationCache is a bounded TTL cache of reputation records keyed by IP.
// Provider failures never escape Lookup; a fallback record is returned instead.
type ReputationCache struct {
	provider Provider
	config   CacheConfig
	logger   *zap.Logger

	mu      sync.RWMutex
	entries map[string]ReputationRecord

	inflight singleflight.Group
}

// NewReputationCache creates a cache in front of provider. provider may be nil,
// in which case every lookup falls back.
func NewReputationCache(provider Provider, config CacheConfig, logger *zap.Logger) *ReputationCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultCacheConfig()
	if config.TTL <= 0 {
		config.TTL = d.TTL
	}
	if config.Capacity <= 0 {
		config.Capacity = d.Capacity
	}
	if config.LookupTimeout <= 0 {
		config.LookupTimeout = d.LookupTimeout
	}
	if config.BatchSize <= 0 {
		config.BatchSize = d.BatchSize
	}
	if config.EvictFraction <= 0 || config.EvictFraction > 1 {
		config.EvictFraction = d.EvictFraction
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &ReputationCache{
		provider: provider,
		config:   config,
		logger:   logger.With(zap.String("component", "reputation_cache")),
		entries:  make(map[string]ReputationRecord),
	}
}

// Lookup returns the reputation of ip from the cache or the provider
func (c *ReputationCache) Lookup(ctx context.Context, ip string) ReputationRecord {
	if rec, ok := c.get(ip); ok {
		metrics.RecordCacheLookup("hit")
		return rec
	}
	metrics.RecordCacheLookup("miss")

	// The shared fetch outlives any single caller; each caller stops waiting
	// when its own context ends.
	ch := c.inflight.DoChan(ip, func() (interface{}, error) {
		// another caller may have populated the entry while we waited
		if rec, ok := c.get(ip); ok {
			return rec, nil
		}
		return c.fetch(context.WithoutCancel(ctx), ip), nil
	})
	select {
	case res := <-ch:
		return res.Val.(ReputationRecord)
	case <-ctx.Done():
		metrics.RecordCacheLookup("fallback")
		return c.fallback(ip)
	}
}

// LookupMany resolves several IPs, using one provider call per BatchSize misses.
// A failed batch falls back to Lookup for each IP in it.
func (c *ReputationCache) LookupMany(ctx context.Context, ips []string) map[string]ReputationRecord {
	results := make(map[string]ReputationRecord, len(ips))
	var misses []string
	for _, ip := range ips {
		if _, seen := results[ip]; seen || slices.Contains(misses, ip) {
			continue
		}
		if rec, ok := c.get(ip); ok {
			metrics.RecordCacheLookup("hit")
			results[ip] = rec
			continue
		}
		misses = append(misses, ip)
	}

	for start := 0; start < len(misses); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(misses))
		c.lookupBatch(ctx, misses[start:end], results)
	}
	return results
}

func (c *ReputationCache) lookupBatch(ctx context.Context, batch []string, results map[string]ReputationRecord) {
	if c.provider == nil {
		for _, ip := range batch {
			results[ip] = c.Lookup(ctx, ip)
		}
		return
	}

	batchCtx, cancel := context.WithTimeout(ctx, 2*c.config.LookupTimeout)
	defer cancel()

	start := time.Now()
	found, err := c.provider.CheckIPs(batchCtx, batch)
	if err != nil {
		metrics.RecordProviderCall("batch", "error", time.Since(start))
		c.logger.Warn("Batch reputation lookup failed, falling back to single lookups",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		for _, ip := range batch {
			results[ip] = c.Lookup(ctx, ip)
		}
		return
	}
	metrics.RecordProviderCall("batch", "success", time.Since(start))

	for _, ip := range batch {
		res, ok := found[ip]
		if !ok || res == nil {
			results[ip] = c.Lookup(ctx, ip)
			continue
		}
		metrics.RecordCacheLookup("miss")
		results[ip] = c.put(ip, res)
	}
}

func (c *ReputationCache) fetch(ctx context.Context, ip string) ReputationRecord {
	if c.provider == nil {
		metrics.RecordCacheLookup("fallback")
		return c.fallback(ip)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.config.LookupTimeout)
	defer cancel()

	start := time.Now()
	res, err := c.checkIP(lookupCtx, ip)
	if err != nil {
		metrics.RecordProviderCall("single", "error", time.Since(start))
		metrics.RecordCacheLookup("fallback")
		c.logger.Warn("Reputation lookup failed, using fallback",
			zap.String("ip", ip),
			zap.Error(err))
		return c.fallback(ip)
	}
	metrics.RecordProviderCall("single", "success", time.Since(start))
	return c.put(ip, res)
}

// checkIP converts provider panics into errors so they take the fallback path
func (c *ReputationCache) checkIP(ctx context.Context, ip string) (res *ProviderResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reputation provider panic: %v", r)
		}
	}()
	res, err = c.provider.CheckIP(ctx, ip)
	if err == nil && res == nil {
		err = fmt.Errorf("reputation provider returned no result for %s", ip)
	}
	return res, err
}

func (c *ReputationCache) get(ip string) (ReputationRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.entries[ip]
	if !ok {
		return ReputationRecord{}, false
	}
	if c.config.Now().Sub(rec.CachedAt) > c.config.TTL {
		return ReputationRecord{}, false
	}
	return rec, true
}

func (c *ReputationCache) put(ip string, res *ProviderResult) ReputationRecord {
	now := c.config.Now()
	rec := recordFromProvider(ip, res)
	rec.CachedAt = now
	rec.ExpiresAt = now.Add(c.config.TTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[ip] = rec
	if len(c.entries) > c.config.Capacity {
		c.evictOldest()
	}
	metrics.SetCacheSize(len(c.entries))
	return rec
}

// evictOldest drops the oldest entries by CachedAt so that the cache holds
// Capacity minus one eviction batch. Caller must hold c.mu.
func (c *ReputationCache) evictOldest() {
	batch := int(float64(c.config.Capacity) * c.config.EvictFraction)
	if batch < 1 {
		batch = 1
	}
	target := c.config.Capacity - batch
	excess := len(c.entries) - target
	if excess <= 0 {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for ip := range c.entries {
		keys = append(keys, ip)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if d := c.entries[a].CachedAt.Compare(c.entries[b].CachedAt); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	for _, ip := range keys[:excess] {
		delete(c.entries, ip)
	}

	metrics.RecordCacheEvictions(excess, len(c.entries))
	c.logger.Debug("Evicted oldest reputation entries",
		zap.Int("evicted", excess),
		zap.Int("size", len(c.entries)))
}

func (c *ReputationCache) fallback(ip string) ReputationRecord {
	now := c.config.Now()
	if isLocalAddress(ip) {
		return ReputationRecord{
			IP:       ip,
			VPN:      VPNNo,
			Type:     "localhost",
			RiskTier: TierLocalhost,
			Location: Location{Country: "LOCAL", Region: "unknown", City: "unknown"},
			Fallback: true,
			CachedAt: now,
		}
	}
	return ReputationRecord{
		IP:       ip,
		VPN:      VPNUnknown,
		Type:     "unknown",
		RiskTier: TierUnknown,
		Location: Location{Country: "unknown", Region: "unknown", City: "unknown"},
		Fallback: true,
		CachedAt: now,
	}
}

// Len returns the number of cached entries, including expired ones not yet replaced
func (c *ReputationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes every entry
func (c *ReputationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]ReputationRecord)
	metrics.SetCacheSize(0)
	c.logger.Info("Reputation cache cleared")
}

// Status reports cache state for health checks
func (c *ReputationCache) Status() CacheStatus {
	return CacheStatus{
		ProviderConfigured: c.provider != nil,
		Size:               c.Len(),
		Capacity:           c.config.Capacity,
		TTL:                c.config.TTL,
	}
}

func recordFromProvider(ip string, res *ProviderResult) ReputationRecord {
	vpn := VPNNo
	if strings.EqualFold(res.Type, "vpn") {
		vpn = VPNYes
	}
	tier := res.Risk
	if tier == "" {
		tier = TierUnknown
	}

	loc := Location{
		Country:     res.Country,
		CountryCode: res.CountryCode,
		Region:      res.Region,
		City:        res.City,
		Timezone:    res.Timezone,
	}
	if res.Latitude != nil && res.Longitude != nil {
		loc.Point = &GeoPoint{Latitude: *res.Latitude, Longitude: *res.Longitude}
	}

	return ReputationRecord{
		IP:           ip,
		Proxy:        res.Proxy,
		VPN:          vpn,
		VPNFlag:      res.VPNFlag,
		Type:         res.Type,
		RiskTier:     tier,
		Location:     loc,
		Provider:     res.Provider,
		Organisation: res.Organisation,
		ASN:          res.ASN,
	}
}

// isLocalAddress reports loopback and unspecified addresses, and "localhost"
func isLocalAddress(ip string) bool {
	if strings.EqualFold(ip, "localhost") {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsUnspecified()
}
