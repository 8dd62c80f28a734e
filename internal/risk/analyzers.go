package risk

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// suspiciousUserAgentPatterns are matched case-insensitively as substrings
var suspiciousUserAgentPatterns = []string{
	"headless",
	"phantom",
	"selenium",
	"webdriver",
	"bot",
	"crawler",
}

// IPReputationAnalyzer scores the network reputation of the client IP
type IPReputationAnalyzer struct {
	cache *ReputationCache
}

// NewIPReputationAnalyzer creates an analyzer backed by cache
func NewIPReputationAnalyzer(cache *ReputationCache) *IPReputationAnalyzer {
	return &IPReputationAnalyzer{cache: cache}
}

// Analyze looks up ip and scores proxy, VPN and provider risk tier
func (a *IPReputationAnalyzer) Analyze(ctx context.Context, ip string) (SubScore, error) {
	if ip == "" || isLocalAddress(ip) {
		return SubScore{
			Score:    10,
			Reasons:  []string{},
			Tier:     TierLocalhost,
			Location: &Location{Country: "LOCAL", Region: "LOCAL"},
		}, nil
	}

	rec := a.cache.Lookup(ctx, ip)

	s := SubScore{Tier: rec.RiskTier}
	if rec.Proxy {
		s.add(40, "Proxy connection detected")
	}
	if rec.VPN == VPNYes {
		s.add(30, "VPN connection detected")
	}
	switch rec.RiskTier {
	case TierHigh:
		s.add(50, "High-risk IP address")
	case TierMedium:
		s.add(25, "Medium-risk IP address")
	}
	s.IsProxy = rec.Proxy
	s.IsVPN = rec.VPN == VPNYes
	s.IsMalicious = rec.RiskTier == TierHigh

	loc := rec.Location
	loc.Country = orUnknown(loc.Country)
	loc.Region = orUnknown(loc.Region)
	loc.City = orUnknown(loc.City)
	s.Location = &loc

	s.clamp()
	return s, nil
}

// DeviceFingerprintAnalyzer scores fingerprint novelty and device plausibility
type DeviceFingerprintAnalyzer struct {
	store  HistoryStore
	config Config
	logger *zap.Logger
}

// NewDeviceFingerprintAnalyzer creates a device analyzer
func NewDeviceFingerprintAnalyzer(store HistoryStore, config Config, logger *zap.Logger) *DeviceFingerprintAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceFingerprintAnalyzer{store: store, config: config, logger: logger}
}

// Analyze scores the fingerprint, user agent and device attributes of req
func (a *DeviceFingerprintAnalyzer) Analyze(ctx context.Context, req *AssessmentRequest) (SubScore, error) {
	var s SubScore
	fp := req.Fingerprint

	if fp == nil || fp.VisitorID == "" {
		s.add(30, "Unable to generate device fingerprint")
	} else {
		s.FingerprintID = fp.VisitorID
		known, err := a.store.FindDeviceByFingerprint(ctx, fp.VisitorID)
		switch {
		case err != nil:
			a.logger.Debug("Device lookup failed, treating as no history",
				zap.String("fingerprint_id", fp.VisitorID),
				zap.Error(err))
		case known == nil:
			s.add(15, "New device detected")
		default:
			s.IsKnownDevice = true
		}

		if fp.Confidence != nil {
			s.Confidence = *fp.Confidence
			if *fp.Confidence < a.config.MinConfidence {
				s.add(20, "Low fingerprint confidence")
			}
		}
	}

	if isSuspiciousUserAgent(req.UserAgent) {
		s.add(25, "Suspicious user agent detected")
	}

	if info := req.DeviceInfo; info != nil {
		if a.hasAutomationIndicators(info) {
			s.add(35, "Automation indicators detected")
		}
		if hasInconsistentDeviceInfo(info) {
			s.add(20, "Inconsistent device information")
		}
	}

	s.clamp()
	return s, nil
}

func (a *DeviceFingerprintAnalyzer) hasAutomationIndicators(info *DeviceInfo) bool {
	if info.CookieEnabled != nil && !*info.CookieEnabled {
		return true
	}
	if info.HardwareConcurrency != nil && *info.HardwareConcurrency > a.config.MaxHardwareConcurrency {
		return true
	}
	if info.DeviceMemory != nil && *info.DeviceMemory > a.config.MaxDeviceMemoryGB {
		return true
	}
	return len(info.Languages) == 0
}

func isSuspiciousUserAgent(ua string) bool {
	if strings.TrimSpace(ua) == "" {
		return true
	}
	lower := strings.ToLower(ua)
	for _, p := range suspiciousUserAgentPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// hasInconsistentDeviceInfo reports a window wider than the screen
func hasInconsistentDeviceInfo(info *DeviceInfo) bool {
	return dimensionWidth(info.WindowSize) > dimensionWidth(info.ScreenResolution)
}

// dimensionWidth parses the width of a "WxH" string, 0 when malformed
func dimensionWidth(dim string) int {
	w, _, _ := strings.Cut(dim, "x")
	n, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0
	}
	return n
}

// BehavioralAnalyzer scores session timing and the session's event stream
type BehavioralAnalyzer struct {
	store    HistoryStore
	detector AnomalyDetector
	config   Config
	logger   *zap.Logger
}

// NewBehavioralAnalyzer creates a behavioral analyzer; a nil detector contributes nothing
func NewBehavioralAnalyzer(store HistoryStore, detector AnomalyDetector, config Config, logger *zap.Logger) *BehavioralAnalyzer {
	if detector == nil {
		detector = NoAnomalyDetector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BehavioralAnalyzer{store: store, detector: detector, config: config, logger: logger}
}

// Analyze scores req as of now
func (a *BehavioralAnalyzer) Analyze(ctx context.Context, req *AssessmentRequest, now time.Time) (SubScore, error) {
	var s SubScore

	if info := req.BehavioralInfo; info != nil {
		if info.SessionStart != nil {
			elapsed := now.Sub(*info.SessionStart)
			s.SessionDurationMs = elapsed.Milliseconds()
			if req.Event == "checkout" && elapsed < a.config.MinCheckoutSession {
				s.add(30, "Very short session before checkout")
			}
		}
		if info.PageLoadTime != nil && *info.PageLoadTime < a.config.MinPageLoadMs {
			s.add(15, "Unusually fast page interaction")
		}
	}

	history, err := a.store.GetBehaviorHistory(ctx, req.SessionID, a.config.BehaviorHistoryLimit)
	if err != nil {
		a.logger.Debug("Behavior history unavailable",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		history = nil
	}
	if len(history) > 0 {
		c := a.detector.Detect(req, history, now)
		s.Score += c.Score
		s.Reasons = append(s.Reasons, c.Reasons...)
	}

	s.clamp()
	return s, nil
}

// GeolocationAnalyzer scores the current location against the session's history
type GeolocationAnalyzer struct {
	store    HistoryStore
	travel   TravelChecker
	config   Config
	highRisk map[string]struct{}
	logger   *zap.Logger
}

// NewGeolocationAnalyzer creates a geolocation analyzer; a nil checker never flags travel
func NewGeolocationAnalyzer(store HistoryStore, travel TravelChecker, config Config, logger *zap.Logger) *GeolocationAnalyzer {
	if travel == nil {
		travel = NoTravelChecker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	highRisk := make(map[string]struct{}, len(config.HighRiskCountries))
	for _, c := range config.HighRiskCountries {
		if c = strings.TrimSpace(c); c != "" {
			highRisk[strings.ToUpper(c)] = struct{}{}
		}
	}
	return &GeolocationAnalyzer{
		store:    store,
		travel:   travel,
		config:   config,
		highRisk: highRisk,
		logger:   logger,
	}
}

// Analyze scores loc for sessionID at time at
func (a *GeolocationAnalyzer) Analyze(ctx context.Context, sessionID string, loc *Location, at time.Time) (SubScore, error) {
	var s SubScore

	if !loc.Known() {
		s.add(10, "Unable to determine location")
		s.clamp()
		return s, nil
	}
	current := *loc
	s.Location = &current

	history, err := a.store.GetLocationHistory(ctx, sessionID, a.config.LocationHistoryLimit)
	if err != nil {
		a.logger.Debug("Location history unavailable",
			zap.String("session_id", sessionID),
			zap.Error(err))
		history = nil
	}
	s.HistoricalLocations = len(history)

	if len(history) > 0 && a.travel.ImpossibleTravel(history[0], current, at) {
		s.add(40, "Impossible travel detected")
	}

	countries := make(map[string]struct{})
	for _, rec := range history {
		if rec.Location.Known() {
			countries[rec.Location.Country] = struct{}{}
		}
	}
	if len(countries) > 3 {
		s.add(20, "Frequent location changes")
	}

	if a.isHighRisk(current) {
		s.add(15, "High-risk geographic region")
	}

	s.clamp()
	return s, nil
}

func (a *GeolocationAnalyzer) isHighRisk(loc Location) bool {
	if len(a.highRisk) == 0 {
		return false
	}
	if _, ok := a.highRisk[strings.ToUpper(loc.CountryCode)]; ok {
		return true
	}
	_, ok := a.highRisk[strings.ToUpper(loc.Country)]
	return ok
}

// TemporalAnalyzer scores the access time against the session's prior assessments
type TemporalAnalyzer struct {
	store    HistoryStore
	patterns AccessPatternAnalyzer
	config   Config
	logger   *zap.Logger
}

// NewTemporalAnalyzer creates a temporal analyzer; a nil pattern analyzer contributes nothing
func NewTemporalAnalyzer(store HistoryStore, patterns AccessPatternAnalyzer, config Config, logger *zap.Logger) *TemporalAnalyzer {
	if patterns == nil {
		patterns = NoAccessPatternAnalyzer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemporalAnalyzer{store: store, patterns: patterns, config: config, logger: logger}
}

// Analyze scores an access at time at
func (a *TemporalAnalyzer) Analyze(ctx context.Context, sessionID string, at time.Time) (SubScore, error) {
	var s SubScore

	hour := at.In(a.config.TimeZone).Hour()
	s.AccessHour = hour
	if hour >= a.config.UnusualHourStart && hour < a.config.UnusualHourEnd {
		s.add(15, "Access during unusual hours")
	}

	history, err := a.store.GetAccessHistory(ctx, sessionID, a.config.AccessHistoryLimit)
	if err != nil {
		a.logger.Debug("Access history unavailable",
			zap.String("session_id", sessionID),
			zap.Error(err))
		history = nil
	}
	s.HistoricalAccesses = len(history)

	if len(history) > 5 {
		c := a.patterns.Analyze(at, history)
		s.Score += c.Score
		s.Reasons = append(s.Reasons, c.Reasons...)
	}

	s.clamp()
	return s, nil
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
