// Package history provides durable storage of sessions, devices, events,
// locations and risk assessments for the risk engine.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/idrock/riskengine/internal/risk"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("history: not found")

// Store is the full history store used by the API layer. The engine only
// needs the risk.HistoryStore subset.
type Store interface {
	risk.HistoryStore

	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	StoreDeviceFingerprint(ctx context.Context, device risk.DeviceRecord) error
	TrackEvent(ctx context.Context, event risk.BehaviorEvent) error
	StoreIPAddress(ctx context.Context, record IPAddressRecord) error
	RecordLocation(ctx context.Context, record risk.LocationRecord) error
	Statistics(ctx context.Context) (*Statistics, error)
	Ping(ctx context.Context) error
}

// Session is a client session seen by the service
type Session struct {
	SessionID string                 `json:"sessionId"`
	IPAddress string                 `json:"ipAddress,omitempty"`
	UserAgent string                 `json:"userAgent,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// IPAddressRecord is the last known reputation of an IP address
type IPAddressRecord struct {
	IPAddress       string        `json:"ipAddress"`
	SessionID       string        `json:"sessionId,omitempty"`
	RiskTier        risk.RiskTier `json:"riskTier"`
	IsProxy         bool          `json:"isProxy"`
	IsVPN           bool          `json:"isVpn"`
	Country         string        `json:"country,omitempty"`
	Region          string        `json:"region,omitempty"`
	City            string        `json:"city,omitempty"`
	ReputationScore int           `json:"reputationScore"`
	FirstSeen       time.Time     `json:"firstSeen"`
	LastSeen        time.Time     `json:"lastSeen"`
}

// Statistics are row counts per entity
type Statistics struct {
	Sessions    int64            `json:"sessions"`
	Assessments int64            `json:"assessments"`
	Devices     int64            `json:"devices"`
	IPAddresses int64            `json:"ipAddresses"`
	Events      int64            `json:"events"`
	Locations   int64            `json:"locations"`
	ByRiskLevel map[string]int64 `json:"byRiskLevel"`
}

// ReputationScore converts a reputation outcome into the 0-100 score stored with an IP
func ReputationScore(tier risk.RiskTier, proxy, vpn bool) int {
	var score int
	switch tier {
	case risk.TierLow:
		score = 20
	case risk.TierMedium:
		score = 50
	case risk.TierHigh:
		score = 80
	default:
		score = 50
	}
	if proxy {
		score += 20
	}
	if vpn {
		score += 15
	}
	return min(score, 100)
}

// IPAddressFromAssessment builds the IP record for an assessment's reputation sub-score
func IPAddressFromAssessment(ip string, a *risk.RiskAssessment) IPAddressRecord {
	s := a.Factor(risk.FactorIPReputation)
	rec := IPAddressRecord{
		IPAddress:       ip,
		SessionID:       a.SessionID,
		RiskTier:        s.Tier,
		IsProxy:         s.IsProxy,
		IsVPN:           s.IsVPN,
		ReputationScore: ReputationScore(s.Tier, s.IsProxy, s.IsVPN),
		FirstSeen:       a.Timestamp,
		LastSeen:        a.Timestamp,
	}
	if s.Location != nil {
		rec.Country = s.Location.Country
		rec.Region = s.Location.Region
		rec.City = s.Location.City
	}
	return rec
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*IndexedStore)(nil)
)
