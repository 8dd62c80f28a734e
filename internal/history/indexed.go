package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/idrock/riskengine/internal/common/database"
	"github.com/idrock/riskengine/internal/risk"
)

// AssessmentIndex is the Elasticsearch index holding assessment documents
const AssessmentIndex = "risk-assessments"

const assessmentMapping = `{
  "mappings": {
    "properties": {
      "id":                 { "type": "keyword" },
      "session_id":         { "type": "keyword" },
      "event":              { "type": "keyword" },
      "timestamp":          { "type": "date" },
      "overall_score":      { "type": "integer" },
      "risk_level":         { "type": "keyword" },
      "recommended_action": { "type": "keyword" },
      "reasons":            { "type": "text" },
      "ip_address":         { "type": "keyword" },
      "country":            { "type": "keyword" },
      "is_proxy":           { "type": "boolean" },
      "is_vpn":             { "type": "boolean" },
      "degraded":           { "type": "keyword" },
      "processing_time_ms": { "type": "long" },
      "scores":             { "type": "object" }
    }
  }
}`

// Indexer writes documents to a search index
type Indexer interface {
	Index(index, docID string, body []byte) error
}

// SearchIndexer indexes assessments into Elasticsearch
type SearchIndexer struct {
	es *database.ElasticsearchClient
}

// NewSearchIndexer creates the assessment index if needed
func NewSearchIndexer(es *database.ElasticsearchClient) (*SearchIndexer, error) {
	if err := es.EnsureIndex(AssessmentIndex, assessmentMapping); err != nil {
		return nil, fmt.Errorf("ensure assessment index: %w", err)
	}
	return &SearchIndexer{es: es}, nil
}

func (s *SearchIndexer) Index(index, docID string, body []byte) error {
	return s.es.Index(index, docID, body)
}

type assessmentDocument struct {
	ID                string         `json:"id"`
	SessionID         string         `json:"session_id"`
	Event             string         `json:"event"`
	Timestamp         time.Time      `json:"timestamp"`
	OverallScore      int            `json:"overall_score"`
	RiskLevel         string         `json:"risk_level"`
	RecommendedAction string         `json:"recommended_action"`
	Reasons           []string       `json:"reasons"`
	IPAddress         string         `json:"ip_address,omitempty"`
	Country           string         `json:"country,omitempty"`
	IsProxy           bool           `json:"is_proxy"`
	IsVPN             bool           `json:"is_vpn"`
	Degraded          []string       `json:"degraded,omitempty"`
	ProcessingTimeMs  int64          `json:"processing_time_ms"`
	Scores            map[string]int `json:"scores"`
}

func newAssessmentDocument(a *risk.RiskAssessment) assessmentDocument {
	ip := a.Factor(risk.FactorIPReputation)
	doc := assessmentDocument{
		ID:                a.ID,
		SessionID:         a.SessionID,
		Event:             a.Event,
		Timestamp:         a.Timestamp,
		OverallScore:      a.OverallScore,
		RiskLevel:         string(a.RiskLevel),
		RecommendedAction: string(a.RecommendedAction),
		Reasons:           a.Reasons,
		IsProxy:           ip.IsProxy,
		IsVPN:             ip.IsVPN,
		ProcessingTimeMs:  a.ProcessingTimeMs,
		Scores:            make(map[string]int, risk.FactorCount),
	}
	if v, ok := a.Metadata["ipAddress"].(string); ok {
		doc.IPAddress = v
	}
	if ip.Location != nil {
		doc.Country = ip.Location.Country
	}
	for _, f := range risk.Factors {
		s := a.Factor(f)
		doc.Scores[f.String()] = s.Score
		if s.Degraded {
			doc.Degraded = append(doc.Degraded, f.String())
		}
	}
	return doc
}

// IndexedStore writes through to an inner Store and indexes every stored
// assessment. Index failures are logged and never returned.
type IndexedStore struct {
	Store
	indexer Indexer
	logger  *zap.Logger
}

// NewIndexedStore wraps inner with assessment indexing
func NewIndexedStore(inner Store, indexer Indexer, logger *zap.Logger) *IndexedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexedStore{
		Store:   inner,
		indexer: indexer,
		logger:  logger.With(zap.String("component", "assessment_indexer")),
	}
}

func (s *IndexedStore) StoreRiskAssessment(ctx context.Context, a *risk.RiskAssessment) error {
	if err := s.Store.StoreRiskAssessment(ctx, a); err != nil {
		return err
	}

	body, err := json.Marshal(newAssessmentDocument(a))
	if err != nil {
		s.logger.Warn("Failed to encode assessment document", zap.String("id", a.ID), zap.Error(err))
		return nil
	}
	if err := s.indexer.Index(AssessmentIndex, a.ID, body); err != nil {
		s.logger.Warn("Failed to index assessment",
			zap.String("id", a.ID),
			zap.String("session_id", a.SessionID),
			zap.Error(err))
	}
	return nil
}
