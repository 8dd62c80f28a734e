// Package risk provides real-time fraud risk scoring for user actions.
//
// Five independent analyzers (IP reputation, device fingerprint, behaviour,
// geolocation and access time) each produce a 0-100 sub-score. The Engine
// runs them concurrently, combines the sub-scores with fixed weights and maps
// the result to a risk level and a recommended action.
package risk

import (
	"errors"
	"time"
)

// ErrInvalidRequest is returned by AssessRisk when required request fields are missing
var ErrInvalidRequest = errors.New("invalid assessment request")

// Factor identifies one of the five scoring factors
type Factor int

const (
	FactorIPReputation Factor = iota
	FactorDeviceFingerprint
	FactorBehavioral
	FactorGeolocation
	FactorTemporal

	// FactorCount is the number of scoring factors
	FactorCount
)

// Factors lists every factor in aggregation order
var Factors = [FactorCount]Factor{
	FactorIPReputation,
	FactorDeviceFingerprint,
	FactorBehavioral,
	FactorGeolocation,
	FactorTemporal,
}

var factorNames = [FactorCount]string{
	"ip_reputation",
	"device_fingerprint",
	"behavioral",
	"geolocation",
	"temporal",
}

// String returns the metric/JSON name of the factor
func (f Factor) String() string {
	if f < 0 || f >= FactorCount {
		return "unknown"
	}
	return factorNames[f]
}

// RiskLevel is the engine-computed classification of a request
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "LOW"
	RiskLevelMedium RiskLevel = "MEDIUM"
	RiskLevelHigh   RiskLevel = "HIGH"
)

// Action is the decision attached to a risk level
type Action string

const (
	ActionAllow  Action = "allow"
	ActionReview Action = "review"
	ActionBlock  Action = "block"
)

// RiskTier is the provider-reported coarse classification of an IP
type RiskTier string

const (
	TierLow       RiskTier = "low"
	TierMedium    RiskTier = "medium"
	TierHigh      RiskTier = "high"
	TierUnknown   RiskTier = "unknown"
	TierLocalhost RiskTier = "localhost"
)

// VPNStatus is a tri-state VPN flag; fallback records report VPNUnknown
type VPNStatus string

const (
	VPNYes     VPNStatus = "yes"
	VPNNo      VPNStatus = "no"
	VPNUnknown VPNStatus = "unknown"
)

// DeviceInfo holds browser-reported device attributes. Every field is optional.
type DeviceInfo struct {
	ScreenResolution    string   `json:"screenResolution,omitempty"` // "1920x1080"
	WindowSize          string   `json:"windowSize,omitempty"`       // "1280x720"
	HardwareConcurrency *int     `json:"hardwareConcurrency,omitempty"`
	DeviceMemory        *float64 `json:"deviceMemory,omitempty"` // GB
	CookieEnabled       *bool    `json:"cookieEnabled,omitempty"`
	Languages           []string `json:"languages,omitempty"`
	Language            string   `json:"language,omitempty"`
	Timezone            string   `json:"timezone,omitempty"`
	Platform            string   `json:"platform,omitempty"`
}

// BehavioralInfo holds session timing signals collected by the client
type BehavioralInfo struct {
	SessionStart *time.Time `json:"sessionStart,omitempty"`
	PageLoadTime *float64   `json:"pageLoadTime,omitempty"` // milliseconds
	CurrentURL   string     `json:"currentUrl,omitempty"`
}

// Fingerprint is the client-side device fingerprint
type Fingerprint struct {
	VisitorID  string                 `json:"visitorId,omitempty"`
	Confidence *float64               `json:"confidence,omitempty"` // 0..1
	Components map[string]interface{} `json:"components,omitempty"`
}

// AssessmentRequest is the input to a single risk assessment
type AssessmentRequest struct {
	SessionID      string                 `json:"sessionId"`
	Event          string                 `json:"event"`
	IPAddress      string                 `json:"ipAddress,omitempty"`
	UserAgent      string                 `json:"userAgent,omitempty"`
	DeviceInfo     *DeviceInfo            `json:"deviceInfo,omitempty"`
	BehavioralInfo *BehavioralInfo        `json:"behavioralInfo,omitempty"`
	Fingerprint    *Fingerprint           `json:"fingerprint,omitempty"`
	Timestamp      time.Time              `json:"timestamp,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the fields every assessment needs
func (r *AssessmentRequest) Validate() error {
	if r == nil {
		return ErrInvalidRequest
	}
	if r.SessionID == "" {
		return &ValidationError{Field: "sessionId", Message: "Session ID is required"}
	}
	if r.Event == "" {
		return &ValidationError{Field: "event", Message: "Event type is required"}
	}
	return nil
}

// ValidationError reports a missing or malformed request field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Unwrap lets callers match any validation failure with errors.Is(err, ErrInvalidRequest)
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// GeoPoint is a latitude/longitude pair in degrees
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is a normalized geographic location
type Location struct {
	Country     string    `json:"country,omitempty"`
	CountryCode string    `json:"countryCode,omitempty"`
	Region      string    `json:"region,omitempty"`
	City        string    `json:"city,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	Point       *GeoPoint `json:"point,omitempty"`
}

// Known reports whether the country could be determined
func (l *Location) Known() bool {
	if l == nil {
		return false
	}
	return l.Country != "" && l.Country != "unknown"
}

// SubScore is one factor's contribution to an assessment
type SubScore struct {
	Score    int      `json:"score"`
	Reasons  []string `json:"reasons"`
	Degraded bool     `json:"degraded,omitempty"`

	// IP reputation
	Tier        RiskTier  `json:"tier,omitempty"`
	IsMalicious bool      `json:"isMalicious,omitempty"`
	IsProxy     bool      `json:"isProxy,omitempty"`
	IsVPN       bool      `json:"isVpn,omitempty"`
	Location    *Location `json:"location,omitempty"`

	// Device fingerprint
	IsKnownDevice bool    `json:"isKnownDevice,omitempty"`
	FingerprintID string  `json:"fingerprintId,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`

	// Behavioral
	SessionDurationMs int64 `json:"sessionDurationMs,omitempty"`

	// Geolocation
	HistoricalLocations int `json:"historicalLocations,omitempty"`

	// Temporal
	AccessHour         int `json:"accessHour,omitempty"`
	HistoricalAccesses int `json:"historicalAccesses,omitempty"`
}

func (s *SubScore) add(points int, reason string) {
	s.Score += points
	s.Reasons = append(s.Reasons, reason)
}

func (s *SubScore) clamp() {
	s.Score = clampScore(s.Score)
	if s.Reasons == nil {
		s.Reasons = []string{}
	}
}

// RiskAssessment is the complete result of scoring one request
type RiskAssessment struct {
	ID                string                 `json:"id"`
	SessionID         string                 `json:"sessionId"`
	Event             string                 `json:"event"`
	Timestamp         time.Time              `json:"timestamp"`
	Factors           [FactorCount]SubScore  `json:"-"`
	OverallScore      int                    `json:"overallScore"`
	RiskLevel         RiskLevel              `json:"riskLevel"`
	RecommendedAction Action                 `json:"recommendedAction"`
	Reasons           []string               `json:"reasons"`
	ProcessingTimeMs  int64                  `json:"processingTimeMs"`
	RiskFactors       map[string]SubScore    `json:"riskFactors"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Factor returns the sub-score for f
func (a *RiskAssessment) Factor(f Factor) SubScore {
	return a.Factors[f]
}

// Contribution is the additional score and reasons from a pluggable strategy
type Contribution struct {
	Score   int
	Reasons []string
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
