package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/idrock/riskengine/internal/risk"
)

type recordingIndexer struct {
	docs map[string][]byte
	err  error
}

func (r *recordingIndexer) Index(index, docID string, body []byte) error {
	if r.err != nil {
		return r.err
	}
	if r.docs == nil {
		r.docs = make(map[string][]byte)
	}
	r.docs[index+"/"+docID] = body
	return nil
}

func sampleAssessment() *risk.RiskAssessment {
	a := &risk.RiskAssessment{
		ID:                "a-1",
		SessionID:         "s1",
		Event:             "checkout",
		OverallScore:      42,
		RiskLevel:         risk.RiskLevelMedium,
		RecommendedAction: risk.ActionReview,
		Reasons:           []string{"VPN detected"},
		Metadata:          map[string]interface{}{"ipAddress": "203.0.113.9"},
	}
	a.Factors[risk.FactorIPReputation] = risk.SubScore{Score: 30, IsVPN: true, Location: &risk.Location{Country: "Canada"}}
	a.Factors[risk.FactorTemporal] = risk.SubScore{Score: 5, Degraded: true}
	return a
}

func TestIndexedStore_IndexesAssessments(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore(zaptest.NewLogger(t))
	idx := &recordingIndexer{}
	s := NewIndexedStore(inner, idx, zaptest.NewLogger(t))

	require.NoError(t, s.StoreRiskAssessment(ctx, sampleAssessment()))

	body, ok := idx.docs[AssessmentIndex+"/a-1"]
	require.True(t, ok, "assessment should be indexed under its id")

	var doc assessmentDocument
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "s1", doc.SessionID)
	assert.Equal(t, "MEDIUM", doc.RiskLevel)
	assert.Equal(t, "203.0.113.9", doc.IPAddress)
	assert.Equal(t, "Canada", doc.Country)
	assert.True(t, doc.IsVPN)
	assert.Equal(t, 30, doc.Scores["ip_reputation"])
	assert.Equal(t, []string{"temporal"}, doc.Degraded)

	access, err := s.GetAccessHistory(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, access, 1, "write goes through to the inner store")
}

func TestIndexedStore_IndexFailureIsNotReturned(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore(nil)
	s := NewIndexedStore(inner, &recordingIndexer{err: errors.New("cluster red")}, zaptest.NewLogger(t))

	assert.NoError(t, s.StoreRiskAssessment(ctx, sampleAssessment()))

	stats, err := inner.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Assessments)
}
