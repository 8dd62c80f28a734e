package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/idrock/riskengine/internal/risk"
)

var storeEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestMemoryStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()
	now := storeEpoch
	s := NewMemoryStore(zaptest.NewLogger(t))
	s.now = func() time.Time { return now }
	return s, &now
}

func TestMemoryStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s, now := newTestMemoryStore(t)

	_, err := s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateSession(ctx, Session{SessionID: "s1", IPAddress: "203.0.113.7", UserAgent: "ua-1"}))
	*now = now.Add(time.Minute)
	require.NoError(t, s.CreateSession(ctx, Session{SessionID: "s1", UserAgent: "ua-2"}))

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", sess.IPAddress, "empty fields keep the stored value")
	assert.Equal(t, "ua-2", sess.UserAgent)
	assert.Equal(t, storeEpoch, sess.CreatedAt)
	assert.Equal(t, storeEpoch.Add(time.Minute), sess.UpdatedAt)
}

func TestMemoryStore_DeviceFingerprints(t *testing.T) {
	ctx := context.Background()
	s, now := newTestMemoryStore(t)

	d, err := s.FindDeviceByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	assert.Nil(t, d, "unknown fingerprint is nil without error")

	require.NoError(t, s.StoreDeviceFingerprint(ctx, risk.DeviceRecord{FingerprintID: "fp-1", SessionID: "s1", Confidence: 0.9}))
	*now = now.Add(time.Hour)
	require.NoError(t, s.StoreDeviceFingerprint(ctx, risk.DeviceRecord{FingerprintID: "fp-1", SessionID: "s2", Confidence: 0.95}))

	d, err = s.FindDeviceByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.SeenCount)
	assert.Equal(t, "s2", d.SessionID)
	assert.Equal(t, storeEpoch, d.FirstSeen)
	assert.Equal(t, storeEpoch.Add(time.Hour), d.LastSeen)
}

func TestMemoryStore_HistoryIsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore(t)

	for i, typ := range []string{"page_view", "click", "checkout"} {
		require.NoError(t, s.TrackEvent(ctx, risk.BehaviorEvent{
			SessionID: "s1",
			Type:      typ,
			Timestamp: storeEpoch.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.TrackEvent(ctx, risk.BehaviorEvent{SessionID: "other", Type: "click"}))

	events, err := s.GetBehaviorHistory(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "checkout", events[0].Type)
	assert.Equal(t, "click", events[1].Type)

	all, err := s.GetBehaviorHistory(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.GetBehaviorHistory(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_Locations(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore(t)

	require.NoError(t, s.RecordLocation(ctx, risk.LocationRecord{SessionID: "s1", Location: risk.Location{Country: "France"}}))
	require.NoError(t, s.RecordLocation(ctx, risk.LocationRecord{SessionID: "s1", Location: risk.Location{Country: "Spain"}}))

	locs, err := s.GetLocationHistory(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "Spain", locs[0].Location.Country)
	assert.Equal(t, storeEpoch, locs[0].RecordedAt, "zero timestamp defaults to now")
}

func TestMemoryStore_IPAddressKeepsFirstSeen(t *testing.T) {
	ctx := context.Background()
	s, now := newTestMemoryStore(t)

	require.NoError(t, s.StoreIPAddress(ctx, IPAddressRecord{IPAddress: "198.51.100.4", RiskTier: risk.TierLow}))
	*now = now.Add(2 * time.Hour)
	require.NoError(t, s.StoreIPAddress(ctx, IPAddressRecord{IPAddress: "198.51.100.4", RiskTier: risk.TierHigh}))

	rec, ok := s.IPAddress("198.51.100.4")
	require.True(t, ok)
	assert.Equal(t, risk.TierHigh, rec.RiskTier)
	assert.Equal(t, storeEpoch, rec.FirstSeen)
	assert.Equal(t, storeEpoch.Add(2*time.Hour), rec.LastSeen)
}

func TestMemoryStore_AssessmentsAndStatistics(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore(t)

	levels := []risk.RiskLevel{risk.RiskLevelLow, risk.RiskLevelHigh, risk.RiskLevelLow}
	for i, level := range levels {
		require.NoError(t, s.StoreRiskAssessment(ctx, &risk.RiskAssessment{
			ID:           string(rune('a' + i)),
			SessionID:    "s1",
			Event:        "login",
			Timestamp:    storeEpoch.Add(time.Duration(i) * time.Minute),
			OverallScore: 10 * (i + 1),
			RiskLevel:    level,
		}))
	}
	require.NoError(t, s.CreateSession(ctx, Session{SessionID: "s1"}))
	require.NoError(t, s.TrackEvent(ctx, risk.BehaviorEvent{SessionID: "s1", Type: "click"}))

	access, err := s.GetAccessHistory(ctx, "s1", 50)
	require.NoError(t, err)
	require.Len(t, access, 3)
	assert.Equal(t, 30, access[0].Score)
	assert.Equal(t, risk.RiskLevelLow, access[0].Level)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Sessions)
	assert.Equal(t, int64(3), stats.Assessments)
	assert.Equal(t, int64(1), stats.Events)
	assert.Equal(t, map[string]int64{"LOW": 2, "HIGH": 1}, stats.ByRiskLevel)
	assert.NoError(t, s.Ping(ctx))
}
