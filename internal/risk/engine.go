package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/idrock/riskengine/internal/metrics"
)

const tracerName = "github.com/idrock/riskengine/internal/risk"

// degradedScores are returned when an analyzer fails internally
var degradedScores = [FactorCount]SubScore{
	FactorIPReputation:      {Score: 20, Tier: TierUnknown, Reasons: []string{"Unable to verify IP reputation"}},
	FactorDeviceFingerprint: {Score: 25, Reasons: []string{"Unable to analyze device fingerprint"}},
	FactorBehavioral:        {Score: 15, Reasons: []string{"Unable to analyze behavioral patterns"}},
	FactorGeolocation:       {Score: 10, Reasons: []string{"Unable to analyze geolocation patterns"}},
	FactorTemporal:          {Score: 5, Reasons: []string{"Unable to analyze temporal patterns"}},
}

// Option configures an Engine
type Option func(*Engine)

// WithConfig replaces the default scoring configuration
func WithConfig(config Config) Option {
	return func(e *Engine) { e.config = config }
}

// WithHistoryStore sets the store used for history reads and assessment writes
func WithHistoryStore(store HistoryStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithReputationCache sets the reputation cache shared across requests
func WithReputationCache(cache *ReputationCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithTravelChecker sets the impossible travel strategy
func WithTravelChecker(tc TravelChecker) Option {
	return func(e *Engine) { e.travel = tc }
}

// WithAnomalyDetector sets the behavioral anomaly strategy
func WithAnomalyDetector(d AnomalyDetector) Option {
	return func(e *Engine) { e.anomaly = d }
}

// WithAccessPatternAnalyzer sets the access pattern strategy
func WithAccessPatternAnalyzer(p AccessPatternAnalyzer) Option {
	return func(e *Engine) { e.patterns = p }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the assessment ID generator
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine scores AssessmentRequests. It is safe for concurrent use.
type Engine struct {
	config   Config
	store    HistoryStore
	cache    *ReputationCache
	travel   TravelChecker
	anomaly  AnomalyDetector
	patterns AccessPatternAnalyzer
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger

	ip         *IPReputationAnalyzer
	device     *DeviceFingerprintAnalyzer
	behavioral *BehavioralAnalyzer
	geo        *GeolocationAnalyzer
	temporal   *TemporalAnalyzer
	aggregator Aggregator
}

// NewEngine creates an engine. Without a history store every history read is
// empty and writes are dropped; without a cache every non-local IP falls back.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{config: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}
	e.config = e.config.withDefaults()

	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "risk_engine"))
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.store == nil {
		e.store = emptyHistory{}
	}
	if e.cache == nil {
		e.cache = NewReputationCache(nil, CacheConfig{Now: e.now}, e.logger)
	}
	if e.travel == nil {
		e.travel = SpeedTravelChecker{
			MaxSpeedKmh:   e.config.MaxTravelSpeedKmh,
			MinDistanceKm: e.config.MinTravelDistanceKm,
		}
	}

	e.ip = NewIPReputationAnalyzer(e.cache)
	e.device = NewDeviceFingerprintAnalyzer(e.store, e.config, e.logger)
	e.behavioral = NewBehavioralAnalyzer(e.store, e.anomaly, e.config, e.logger)
	e.geo = NewGeolocationAnalyzer(e.store, e.travel, e.config, e.logger)
	e.temporal = NewTemporalAnalyzer(e.store, e.patterns, e.config, e.logger)
	e.aggregator = NewAggregator(e.config)

	return e, nil
}

// Config returns the engine's effective configuration
func (e *Engine) Config() Config {
	return e.config
}

// Cache returns the engine's reputation cache
func (e *Engine) Cache() *ReputationCache {
	return e.cache
}

// AssessRisk scores req. The only error returned is a validation failure;
// analyzer failures degrade their sub-score and persistence failures are logged.
func (e *Engine) AssessRisk(ctx context.Context, req *AssessmentRequest) (*RiskAssessment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "risk.AssessRisk")
	defer span.End()
	span.SetAttributes(
		attribute.String("risk.session_id", req.SessionID),
		attribute.String("risk.event", req.Event),
	)

	start := e.now()
	ts := req.Timestamp
	if ts.IsZero() {
		ts = start
	}

	var factors [FactorCount]SubScore
	var g errgroup.Group

	// geolocation needs the location resolved by the reputation lookup
	g.Go(func() error {
		factors[FactorIPReputation] = e.guard(FactorIPReputation, func() (SubScore, error) {
			return e.ip.Analyze(ctx, req.IPAddress)
		})
		loc := factors[FactorIPReputation].Location
		factors[FactorGeolocation] = e.guard(FactorGeolocation, func() (SubScore, error) {
			return e.geo.Analyze(ctx, req.SessionID, loc, ts)
		})
		return nil
	})
	g.Go(func() error {
		factors[FactorDeviceFingerprint] = e.guard(FactorDeviceFingerprint, func() (SubScore, error) {
			return e.device.Analyze(ctx, req)
		})
		return nil
	})
	g.Go(func() error {
		factors[FactorBehavioral] = e.guard(FactorBehavioral, func() (SubScore, error) {
			return e.behavioral.Analyze(ctx, req, ts)
		})
		return nil
	})
	g.Go(func() error {
		factors[FactorTemporal] = e.guard(FactorTemporal, func() (SubScore, error) {
			return e.temporal.Analyze(ctx, req.SessionID, ts)
		})
		return nil
	})
	_ = g.Wait()

	score := e.aggregator.Score(factors)
	level := e.aggregator.Level(score)

	assessment := &RiskAssessment{
		ID:                e.newID(),
		SessionID:         req.SessionID,
		Event:             req.Event,
		Timestamp:         ts,
		Factors:           factors,
		OverallScore:      score,
		RiskLevel:         level,
		RecommendedAction: e.aggregator.Action(level),
		Reasons:           e.aggregator.Reasons(factors),
		RiskFactors:       make(map[string]SubScore, FactorCount),
		Metadata:          assessmentMetadata(req),
	}
	for _, f := range Factors {
		assessment.RiskFactors[f.String()] = factors[f]
	}

	elapsed := e.now().Sub(start)
	assessment.ProcessingTimeMs = elapsed.Milliseconds()

	e.persist(ctx, assessment)

	span.SetAttributes(
		attribute.Int("risk.score", score),
		attribute.String("risk.level", string(level)),
	)
	metrics.RecordAssessment(req.Event, string(level), string(assessment.RecommendedAction), score, elapsed)

	e.logger.Info("Risk assessment completed",
		zap.String("assessment_id", assessment.ID),
		zap.String("session_id", req.SessionID),
		zap.String("event", req.Event),
		zap.Int("score", score),
		zap.String("level", string(level)),
		zap.Int64("processing_ms", assessment.ProcessingTimeMs))

	return assessment, nil
}

// guard runs an analyzer and converts errors and panics into the factor's degraded sub-score
func (e *Engine) guard(f Factor, analyze func() (SubScore, error)) (result SubScore) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Analyzer panicked",
				zap.String("factor", f.String()),
				zap.Any("panic", r))
			metrics.RecordAnalyzerDegraded(f.String())
			result = degraded(f)
		}
	}()

	var err error
	result, err = analyze()
	if err != nil {
		e.logger.Warn("Analyzer failed",
			zap.String("factor", f.String()),
			zap.Error(err))
		metrics.RecordAnalyzerDegraded(f.String())
		return degraded(f)
	}
	return result
}

func (e *Engine) persist(ctx context.Context, assessment *RiskAssessment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.PersistTimeout)
	defer cancel()

	if err := e.store.StoreRiskAssessment(ctx, assessment); err != nil {
		metrics.RecordPersistFailure()
		e.logger.Warn("Failed to store risk assessment",
			zap.String("assessment_id", assessment.ID),
			zap.String("session_id", assessment.SessionID),
			zap.Error(err))
	}
}

func degraded(f Factor) SubScore {
	s := degradedScores[f]
	s.Reasons = append([]string(nil), s.Reasons...)
	s.Degraded = true
	return s
}

func assessmentMetadata(req *AssessmentRequest) map[string]interface{} {
	md := make(map[string]interface{}, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		md[k] = v
	}
	if req.IPAddress != "" {
		md["ipAddress"] = req.IPAddress
	}
	if req.UserAgent != "" {
		md["userAgent"] = req.UserAgent
	}
	return md
}

// emptyHistory is used when the engine has no history store
type emptyHistory struct{}

func (emptyHistory) FindDeviceByFingerprint(context.Context, string) (*DeviceRecord, error) {
	return nil, nil
}

func (emptyHistory) GetBehaviorHistory(context.Context, string, int) ([]BehaviorEvent, error) {
	return nil, nil
}

func (emptyHistory) GetLocationHistory(context.Context, string, int) ([]LocationRecord, error) {
	return nil, nil
}

func (emptyHistory) GetAccessHistory(context.Context, string, int) ([]AccessRecord, error) {
	return nil, nil
}

func (emptyHistory) StoreRiskAssessment(context.Context, *RiskAssessment) error {
	return nil
}
