package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/idrock/riskengine/internal/risk"
)

// MemoryStore is a process-local Store. Reads return the most recent entries first.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	devices     map[string]*risk.DeviceRecord
	ips         map[string]*IPAddressRecord
	events      map[string][]risk.BehaviorEvent
	locations   map[string][]risk.LocationRecord
	assessments map[string][]risk.RiskAssessment
	total       int64

	now    func() time.Time
	logger *zap.Logger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		devices:     make(map[string]*risk.DeviceRecord),
		ips:         make(map[string]*IPAddressRecord),
		events:      make(map[string][]risk.BehaviorEvent),
		locations:   make(map[string][]risk.LocationRecord),
		assessments: make(map[string][]risk.RiskAssessment),
		now:         time.Now,
		logger:      logger.With(zap.String("component", "memory_history")),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.sessions[session.SessionID]; ok {
		if session.IPAddress != "" {
			existing.IPAddress = session.IPAddress
		}
		if session.UserAgent != "" {
			existing.UserAgent = session.UserAgent
		}
		if session.Metadata != nil {
			existing.Metadata = session.Metadata
		}
		existing.UpdatedAt = now
		return nil
	}

	session.CreatedAt = now
	session.UpdatedAt = now
	s.sessions[session.SessionID] = &session
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) StoreDeviceFingerprint(_ context.Context, device risk.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.devices[device.FingerprintID]; ok {
		existing.LastSeen = now
		existing.SeenCount++
		existing.SessionID = device.SessionID
		existing.Confidence = device.Confidence
		return nil
	}

	device.FirstSeen = now
	device.LastSeen = now
	device.SeenCount = 1
	s.devices[device.FingerprintID] = &device
	return nil
}

func (s *MemoryStore) FindDeviceByFingerprint(_ context.Context, fingerprintID string) (*risk.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[fingerprintID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) TrackEvent(_ context.Context, event risk.BehaviorEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	s.mu.Lock()
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetBehaviorHistory(_ context.Context, sessionID string, limit int) ([]risk.BehaviorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.events[sessionID], limit), nil
}

func (s *MemoryStore) StoreIPAddress(_ context.Context, record IPAddressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.ips[record.IPAddress]; ok {
		record.FirstSeen = existing.FirstSeen
	} else {
		record.FirstSeen = now
	}
	record.LastSeen = now
	s.ips[record.IPAddress] = &record
	return nil
}

// IPAddress returns the stored record for ip
func (s *MemoryStore) IPAddress(ip string) (*IPAddressRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.ips[ip]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

func (s *MemoryStore) RecordLocation(_ context.Context, record risk.LocationRecord) error {
	if record.RecordedAt.IsZero() {
		record.RecordedAt = s.now()
	}
	s.mu.Lock()
	s.locations[record.SessionID] = append(s.locations[record.SessionID], record)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetLocationHistory(_ context.Context, sessionID string, limit int) ([]risk.LocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.locations[sessionID], limit), nil
}

func (s *MemoryStore) StoreRiskAssessment(_ context.Context, a *risk.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[a.SessionID] = append(s.assessments[a.SessionID], *a)
	s.total++
	return nil
}

func (s *MemoryStore) GetAccessHistory(_ context.Context, sessionID string, limit int) ([]risk.AccessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := newestFirst(s.assessments[sessionID], limit)
	out := make([]risk.AccessRecord, 0, len(stored))
	for _, a := range stored {
		out = append(out, risk.AccessRecord{
			Timestamp: a.Timestamp,
			Event:     a.Event,
			Score:     a.OverallScore,
			Level:     a.RiskLevel,
		})
	}
	return out, nil
}

func (s *MemoryStore) Statistics(_ context.Context) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Statistics{
		Sessions:    int64(len(s.sessions)),
		Assessments: s.total,
		Devices:     int64(len(s.devices)),
		IPAddresses: int64(len(s.ips)),
		ByRiskLevel: make(map[string]int64),
	}
	for _, evs := range s.events {
		stats.Events += int64(len(evs))
	}
	for _, locs := range s.locations {
		stats.Locations += int64(len(locs))
	}
	for _, list := range s.assessments {
		for _, a := range list {
			stats.ByRiskLevel[string(a.RiskLevel)]++
		}
	}
	return stats, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// newestFirst returns up to limit items of an append-ordered slice, newest first
func newestFirst[T any](items []T, limit int) []T {
	n := len(items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, items[i])
	}
	return out
}
