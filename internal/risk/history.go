package risk

import (
	"context"
	"time"
)

// HistoryStore is the read/write view of durable history the engine needs.
// Read methods return most-recent-first slices.
type HistoryStore interface {
	// FindDeviceByFingerprint returns nil, nil when the fingerprint is unknown
	FindDeviceByFingerprint(ctx context.Context, fingerprintID string) (*DeviceRecord, error)
	GetBehaviorHistory(ctx context.Context, sessionID string, limit int) ([]BehaviorEvent, error)
	GetLocationHistory(ctx context.Context, sessionID string, limit int) ([]LocationRecord, error)
	GetAccessHistory(ctx context.Context, sessionID string, limit int) ([]AccessRecord, error)
	StoreRiskAssessment(ctx context.Context, assessment *RiskAssessment) error
}

// DeviceRecord is a previously seen device fingerprint
type DeviceRecord struct {
	FingerprintID    string                 `json:"fingerprintId"`
	SessionID        string                 `json:"sessionId"`
	Confidence       float64                `json:"confidence"`
	Components       map[string]interface{} `json:"components,omitempty"`
	UserAgent        string                 `json:"userAgent,omitempty"`
	ScreenResolution string                 `json:"screenResolution,omitempty"`
	Timezone         string                 `json:"timezone,omitempty"`
	Language         string                 `json:"language,omitempty"`
	Platform         string                 `json:"platform,omitempty"`
	FirstSeen        time.Time              `json:"firstSeen"`
	LastSeen         time.Time              `json:"lastSeen"`
	SeenCount        int                    `json:"seenCount"`
}

// BehaviorEvent is a tracked client event
type BehaviorEvent struct {
	SessionID string                 `json:"sessionId"`
	Type      string                 `json:"type"`
	URL       string                 `json:"url,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// LocationRecord is a location observed for a session
type LocationRecord struct {
	SessionID  string    `json:"sessionId"`
	IPAddress  string    `json:"ipAddress"`
	Location   Location  `json:"location"`
	RecordedAt time.Time `json:"recordedAt"`
}

// AccessRecord is a summary of a prior assessment
type AccessRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Score     int       `json:"score"`
	Level     RiskLevel `json:"level"`
}
