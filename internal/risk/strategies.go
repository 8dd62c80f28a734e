package risk

import (
	"math"
	"time"
)

// TravelChecker decides whether moving from the previous location to the
// current one is physically implausible
type TravelChecker interface {
	ImpossibleTravel(previous LocationRecord, current Location, at time.Time) bool
}

// AnomalyDetector inspects a session's recent events (most recent first)
type AnomalyDetector interface {
	Detect(req *AssessmentRequest, history []BehaviorEvent, now time.Time) Contribution
}

// AccessPatternAnalyzer inspects a session's prior assessments (most recent first)
type AccessPatternAnalyzer interface {
	Analyze(at time.Time, history []AccessRecord) Contribution
}

// NoTravelChecker never reports impossible travel
type NoTravelChecker struct{}

func (NoTravelChecker) ImpossibleTravel(LocationRecord, Location, time.Time) bool { return false }

// SpeedTravelChecker flags travel whose implied ground speed exceeds MaxSpeedKmh.
// Both locations need coordinates; hops shorter than MinDistanceKm are ignored.
type SpeedTravelChecker struct {
	MaxSpeedKmh   float64
	MinDistanceKm float64
}

// ImpossibleTravel implements TravelChecker
func (s SpeedTravelChecker) ImpossibleTravel(previous LocationRecord, current Location, at time.Time) bool {
	if previous.Location.Point == nil || current.Point == nil || s.MaxSpeedKmh <= 0 {
		return false
	}

	distance := haversineDistance(
		previous.Location.Point.Latitude, previous.Location.Point.Longitude,
		current.Point.Latitude, current.Point.Longitude,
	)
	if distance < s.MinDistanceKm {
		return false
	}

	elapsed := at.Sub(previous.RecordedAt)
	if elapsed < 0 {
		return false
	}

	minTravelTime := time.Duration(distance / s.MaxSpeedKmh * float64(time.Hour))
	return elapsed < minTravelTime
}

// haversineDistance calculates the distance between two points in km
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371 // km

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// NoAnomalyDetector contributes nothing
type NoAnomalyDetector struct{}

func (NoAnomalyDetector) Detect(*AssessmentRequest, []BehaviorEvent, time.Time) Contribution {
	return Contribution{}
}

// BurstAnomalyDetector flags sessions with more than MaxEvents events inside Window
type BurstAnomalyDetector struct {
	Window    time.Duration
	MaxEvents int
	Points    int
}

// DefaultBurstAnomalyDetector allows 20 events per minute
func DefaultBurstAnomalyDetector() BurstAnomalyDetector {
	return BurstAnomalyDetector{Window: time.Minute, MaxEvents: 20, Points: 20}
}

// Detect implements AnomalyDetector
func (b BurstAnomalyDetector) Detect(_ *AssessmentRequest, history []BehaviorEvent, now time.Time) Contribution {
	if b.MaxEvents <= 0 || b.Window <= 0 {
		return Contribution{}
	}
	cutoff := now.Add(-b.Window)
	count := 0
	for _, ev := range history {
		if ev.Timestamp.After(now) {
			continue
		}
		// history is newest first, so the first event before the window ends the scan
		if ev.Timestamp.Before(cutoff) {
			break
		}
		count++
	}
	if count <= b.MaxEvents {
		return Contribution{}
	}
	return Contribution{Score: b.Points, Reasons: []string{"Rapid event burst detected"}}
}

// NoAccessPatternAnalyzer contributes nothing
type NoAccessPatternAnalyzer struct{}

func (NoAccessPatternAnalyzer) Analyze(time.Time, []AccessRecord) Contribution {
	return Contribution{}
}

// HourProfileAnalyzer flags access at an hour never seen in the session's history
type HourProfileAnalyzer struct {
	TimeZone *time.Location
	Points   int
}

// Analyze implements AccessPatternAnalyzer
func (h HourProfileAnalyzer) Analyze(at time.Time, history []AccessRecord) Contribution {
	tz := h.TimeZone
	if tz == nil {
		tz = time.UTC
	}
	points := h.Points
	if points == 0 {
		points = 10
	}

	hour := at.In(tz).Hour()
	for _, rec := range history {
		if rec.Timestamp.In(tz).Hour() == hour {
			return Contribution{}
		}
	}
	return Contribution{Score: points, Reasons: []string{"Access outside established hours"}}
}
