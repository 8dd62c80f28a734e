package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/idrock/riskengine/internal/common/database"
	"github.com/idrock/riskengine/internal/metrics"
	"github.com/idrock/riskengine/internal/risk"
)

// PostgresStore is a Store backed by PostgreSQL
type PostgresStore struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// NewPostgresStore creates a store on db. Call Migrate before first use.
func NewPostgresStore(db *database.PostgresDB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		db:     db,
		logger: logger.With(zap.String("component", "postgres_history")),
	}
}

// Migrate creates the schema if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id VARCHAR(255) PRIMARY KEY,
			ip_address VARCHAR(64),
			user_agent TEXT,
			metadata JSONB DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS risk_assessments (
			id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			event VARCHAR(100) NOT NULL,
			assessed_at TIMESTAMPTZ NOT NULL,
			overall_score INTEGER NOT NULL CHECK (overall_score BETWEEN 0 AND 100),
			risk_level VARCHAR(10) NOT NULL CHECK (risk_level IN ('LOW', 'MEDIUM', 'HIGH')),
			recommended_action VARCHAR(10) NOT NULL,
			ip_reputation_score INTEGER NOT NULL,
			device_fingerprint_score INTEGER NOT NULL,
			behavioral_score INTEGER NOT NULL,
			geolocation_score INTEGER NOT NULL,
			temporal_score INTEGER NOT NULL,
			reasons JSONB NOT NULL DEFAULT '[]',
			risk_factors JSONB NOT NULL DEFAULT '{}',
			metadata JSONB DEFAULT '{}',
			processing_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS device_fingerprints (
			fingerprint_id VARCHAR(255) PRIMARY KEY,
			session_id VARCHAR(255),
			confidence DOUBLE PRECISION,
			components JSONB DEFAULT '{}',
			user_agent TEXT,
			screen_resolution VARCHAR(32),
			timezone VARCHAR(64),
			language VARCHAR(32),
			platform VARCHAR(64),
			seen_count INTEGER NOT NULL DEFAULT 1,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS ip_addresses (
			ip_address VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(255),
			risk_tier VARCHAR(16),
			is_proxy BOOLEAN NOT NULL DEFAULT false,
			is_vpn BOOLEAN NOT NULL DEFAULT false,
			country VARCHAR(100),
			region VARCHAR(100),
			city VARCHAR(100),
			reputation_score INTEGER NOT NULL DEFAULT 50,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			url TEXT,
			data JSONB DEFAULT '{}',
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS location_history (
			id BIGSERIAL PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			ip_address VARCHAR(64),
			country VARCHAR(100),
			country_code VARCHAR(8),
			region VARCHAR(100),
			city VARCHAR(100),
			timezone VARCHAR(64),
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_risk_assessments_session ON risk_assessments(session_id, assessed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_assessments_level ON risk_assessments(risk_level)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_location_history_session ON location_history(session_id, recorded_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	s.logger.Info("History schema ready")
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session Session) error {
	defer observe("upsert", "sessions")()

	metadata, err := marshalJSON(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO sessions (session_id, ip_address, user_agent, metadata)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		ON CONFLICT (session_id) DO UPDATE SET
			ip_address = COALESCE(EXCLUDED.ip_address, sessions.ip_address),
			user_agent = COALESCE(EXCLUDED.user_agent, sessions.user_agent),
			metadata = CASE WHEN $5 THEN EXCLUDED.metadata ELSE sessions.metadata END,
			updated_at = NOW()`,
		session.SessionID, session.IPAddress, session.UserAgent, metadata, session.Metadata != nil)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	defer observe("select", "sessions")()

	var (
		sess         Session
		ip, ua       *string
		metadataJSON []byte
	)
	err := s.db.Pool.QueryRow(ctx, `
		SELECT session_id, ip_address, user_agent, metadata, created_at, updated_at
		FROM sessions WHERE session_id = $1`, sessionID).
		Scan(&sess.SessionID, &ip, &ua, &metadataJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	if ip != nil {
		sess.IPAddress = *ip
	}
	if ua != nil {
		sess.UserAgent = *ua
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sess.Metadata); err != nil {
			s.logger.Warn("Corrupt session metadata", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return &sess, nil
}

func (s *PostgresStore) StoreDeviceFingerprint(ctx context.Context, d risk.DeviceRecord) error {
	defer observe("upsert", "device_fingerprints")()

	components, err := marshalJSON(d.Components)
	if err != nil {
		return fmt.Errorf("marshal device components: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO device_fingerprints
			(fingerprint_id, session_id, confidence, components, user_agent,
			 screen_resolution, timezone, language, platform)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (fingerprint_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			confidence = EXCLUDED.confidence,
			seen_count = device_fingerprints.seen_count + 1,
			last_seen = NOW()`,
		d.FingerprintID, d.SessionID, d.Confidence, components, d.UserAgent,
		d.ScreenResolution, d.Timezone, d.Language, d.Platform)
	if err != nil {
		return fmt.Errorf("upsert device fingerprint: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindDeviceByFingerprint(ctx context.Context, fingerprintID string) (*risk.DeviceRecord, error) {
	defer observe("select", "device_fingerprints")()

	var (
		d              risk.DeviceRecord
		sessionID      *string
		confidence     *float64
		componentsJSON []byte
		ua, screen     *string
		tz, lang, plat *string
	)
	err := s.db.Pool.QueryRow(ctx, `
		SELECT fingerprint_id, session_id, confidence, components, user_agent,
		       screen_resolution, timezone, language, platform,
		       first_seen, last_seen, seen_count
		FROM device_fingerprints WHERE fingerprint_id = $1`, fingerprintID).
		Scan(&d.FingerprintID, &sessionID, &confidence, &componentsJSON, &ua,
			&screen, &tz, &lang, &plat,
			&d.FirstSeen, &d.LastSeen, &d.SeenCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select device fingerprint: %w", err)
	}

	d.SessionID = deref(sessionID)
	d.UserAgent = deref(ua)
	d.ScreenResolution = deref(screen)
	d.Timezone = deref(tz)
	d.Language = deref(lang)
	d.Platform = deref(plat)
	if confidence != nil {
		d.Confidence = *confidence
	}
	if len(componentsJSON) > 0 {
		_ = json.Unmarshal(componentsJSON, &d.Components)
	}
	return &d, nil
}

func (s *PostgresStore) TrackEvent(ctx context.Context, event risk.BehaviorEvent) error {
	defer observe("insert", "events")()

	data, err := marshalJSON(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO events (session_id, event_type, url, data, occurred_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)`,
		event.SessionID, event.Type, event.URL, data, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBehaviorHistory(ctx context.Context, sessionID string, limit int) ([]risk.BehaviorEvent, error) {
	defer observe("select", "events")()

	rows, err := s.db.Pool.Query(ctx, `
		SELECT session_id, event_type, url, data, occurred_at
		FROM events WHERE session_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []risk.BehaviorEvent
	for rows.Next() {
		var (
			ev       risk.BehaviorEvent
			url      *string
			dataJSON []byte
		)
		if err := rows.Scan(&ev.SessionID, &ev.Type, &url, &dataJSON, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.URL = deref(url)
		if len(dataJSON) > 0 {
			_ = json.Unmarshal(dataJSON, &ev.Data)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) StoreIPAddress(ctx context.Context, r IPAddressRecord) error {
	defer observe("upsert", "ip_addresses")()

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO ip_addresses
			(ip_address, session_id, risk_tier, is_proxy, is_vpn, country, region, city, reputation_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ip_address) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			risk_tier = EXCLUDED.risk_tier,
			is_proxy = EXCLUDED.is_proxy,
			is_vpn = EXCLUDED.is_vpn,
			country = EXCLUDED.country,
			region = EXCLUDED.region,
			city = EXCLUDED.city,
			reputation_score = EXCLUDED.reputation_score,
			last_seen = NOW()`,
		r.IPAddress, r.SessionID, string(r.RiskTier), r.IsProxy, r.IsVPN,
		r.Country, r.Region, r.City, r.ReputationScore)
	if err != nil {
		return fmt.Errorf("upsert ip address: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordLocation(ctx context.Context, r risk.LocationRecord) error {
	defer observe("insert", "location_history")()

	var lat, lon *float64
	if p := r.Location.Point; p != nil {
		lat, lon = &p.Latitude, &p.Longitude
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO location_history
			(session_id, ip_address, country, country_code, region, city, timezone, latitude, longitude, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.SessionID, r.IPAddress, r.Location.Country, r.Location.CountryCode,
		r.Location.Region, r.Location.City, r.Location.Timezone, lat, lon, r.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLocationHistory(ctx context.Context, sessionID string, limit int) ([]risk.LocationRecord, error) {
	defer observe("select", "location_history")()

	rows, err := s.db.Pool.Query(ctx, `
		SELECT session_id, ip_address, country, country_code, region, city, timezone,
		       latitude, longitude, recorded_at
		FROM location_history WHERE session_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var out []risk.LocationRecord
	for rows.Next() {
		var (
			r                         risk.LocationRecord
			ip, country, code, region *string
			city, tz                  *string
			lat, lon                  *float64
		)
		if err := rows.Scan(&r.SessionID, &ip, &country, &code, &region, &city, &tz,
			&lat, &lon, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		r.IPAddress = deref(ip)
		r.Location = risk.Location{
			Country:     deref(country),
			CountryCode: deref(code),
			Region:      deref(region),
			City:        deref(city),
			Timezone:    deref(tz),
		}
		if lat != nil && lon != nil {
			r.Location.Point = &risk.GeoPoint{Latitude: *lat, Longitude: *lon}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) StoreRiskAssessment(ctx context.Context, a *risk.RiskAssessment) error {
	defer observe("insert", "risk_assessments")()

	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	factors, err := json.Marshal(a.RiskFactors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}
	metadata, err := marshalJSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO risk_assessments
			(id, session_id, event, assessed_at, overall_score, risk_level, recommended_action,
			 ip_reputation_score, device_fingerprint_score, behavioral_score, geolocation_score, temporal_score,
			 reasons, risk_factors, metadata, processing_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.SessionID, a.Event, a.Timestamp, a.OverallScore, string(a.RiskLevel), string(a.RecommendedAction),
		a.Factor(risk.FactorIPReputation).Score,
		a.Factor(risk.FactorDeviceFingerprint).Score,
		a.Factor(risk.FactorBehavioral).Score,
		a.Factor(risk.FactorGeolocation).Score,
		a.Factor(risk.FactorTemporal).Score,
		reasons, factors, metadata, a.ProcessingTimeMs)
	if err != nil {
		return fmt.Errorf("insert risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccessHistory(ctx context.Context, sessionID string, limit int) ([]risk.AccessRecord, error) {
	defer observe("select", "risk_assessments")()

	rows, err := s.db.Pool.Query(ctx, `
		SELECT assessed_at, event, overall_score, risk_level
		FROM risk_assessments WHERE session_id = $1
		ORDER BY assessed_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var out []risk.AccessRecord
	for rows.Next() {
		var (
			r     risk.AccessRecord
			level string
		)
		if err := rows.Scan(&r.Timestamp, &r.Event, &r.Score, &level); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		r.Level = risk.RiskLevel(level)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Statistics(ctx context.Context) (*Statistics, error) {
	defer observe("select", "statistics")()

	stats := &Statistics{ByRiskLevel: make(map[string]int64)}
	err := s.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM risk_assessments),
			(SELECT COUNT(*) FROM device_fingerprints),
			(SELECT COUNT(*) FROM ip_addresses),
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM location_history)`).
		Scan(&stats.Sessions, &stats.Assessments, &stats.Devices,
			&stats.IPAddresses, &stats.Events, &stats.Locations)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx, `SELECT risk_level, COUNT(*) FROM risk_assessments GROUP BY risk_level`)
	if err != nil {
		return nil, fmt.Errorf("count by level: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			level string
			n     int64
		)
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scan level count: %w", err)
		}
		stats.ByRiskLevel[level] = n
	}
	return stats, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Pool.Ping(ctx)
}

// observe times a query; call the returned func when it completes
func observe(operation, table string) func() {
	start := time.Now()
	return func() {
		metrics.RecordDBQuery(operation, table, time.Since(start))
	}
}

// marshalJSON encodes a JSONB map column; nil maps are stored as {}
func marshalJSON(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
