package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/idrock/riskengine/internal/risk"
)

func TestReputationScore(t *testing.T) {
	tests := []struct {
		name  string
		tier  risk.RiskTier
		proxy bool
		vpn   bool
		want  int
	}{
		{"low", risk.TierLow, false, false, 20},
		{"medium", risk.TierMedium, false, false, 50},
		{"high", risk.TierHigh, false, false, 80},
		{"unknown", risk.TierUnknown, false, false, 50},
		{"localhost", risk.TierLocalhost, false, false, 50},
		{"low proxy", risk.TierLow, true, false, 40},
		{"medium vpn", risk.TierMedium, false, true, 65},
		{"high proxy vpn capped", risk.TierHigh, true, true, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReputationScore(tt.tier, tt.proxy, tt.vpn))
		})
	}
}

func TestIPAddressFromAssessment(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &risk.RiskAssessment{SessionID: "s1", Timestamp: ts}
	a.Factors[risk.FactorIPReputation] = risk.SubScore{
		Tier:     risk.TierMedium,
		IsProxy:  true,
		Location: &risk.Location{Country: "Germany", Region: "Berlin", City: "Berlin"},
	}

	rec := IPAddressFromAssessment("192.0.2.10", a)
	assert.Equal(t, IPAddressRecord{
		IPAddress:       "192.0.2.10",
		SessionID:       "s1",
		RiskTier:        risk.TierMedium,
		IsProxy:         true,
		Country:         "Germany",
		Region:          "Berlin",
		City:            "Berlin",
		ReputationScore: 70,
		FirstSeen:       ts,
		LastSeen:        ts,
	}, rec)
}
