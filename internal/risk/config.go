package risk

import (
	"fmt"
	"math"
	"time"
)

// Config holds the tunable parameters of the scoring engine
type Config struct {
	// Weights indexed by Factor; must sum to 1.0
	Weights [FactorCount]float64

	// Score <= LowThreshold is LOW, <= HighThreshold is MEDIUM, otherwise HIGH
	LowThreshold  int
	HighThreshold int

	LowAction    Action
	MediumAction Action
	HighAction   Action

	// Device rules
	MaxHardwareConcurrency int
	MaxDeviceMemoryGB      float64
	MinConfidence          float64

	// Behavioral rules
	MinCheckoutSession time.Duration
	MinPageLoadMs      float64

	// Geolocation rules
	HighRiskCountries   []string
	MaxTravelSpeedKmh   float64
	MinTravelDistanceKm float64

	// Temporal rules, hours in [UnusualHourStart, UnusualHourEnd) of TimeZone
	UnusualHourStart int
	UnusualHourEnd   int
	TimeZone         *time.Location

	// History read limits
	BehaviorHistoryLimit int
	LocationHistoryLimit int
	AccessHistoryLimit   int

	// PersistTimeout bounds the best-effort write of the finished assessment
	PersistTimeout time.Duration
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Weights: [FactorCount]float64{
			FactorIPReputation:      0.30,
			FactorDeviceFingerprint: 0.25,
			FactorBehavioral:        0.20,
			FactorGeolocation:       0.15,
			FactorTemporal:          0.10,
		},
		LowThreshold:  30,
		HighThreshold: 70,
		LowAction:     ActionAllow,
		MediumAction:  ActionReview,
		HighAction:    ActionBlock,

		MaxHardwareConcurrency: 16,
		MaxDeviceMemoryGB:      32,
		MinConfidence:          0.5,

		MinCheckoutSession: 30 * time.Second,
		MinPageLoadMs:      100,

		MaxTravelSpeedKmh:   900, // commercial aircraft
		MinTravelDistanceKm: 100,

		UnusualHourStart: 2,
		UnusualHourEnd:   6,
		TimeZone:         time.UTC,

		BehaviorHistoryLimit: 100,
		LocationHistoryLimit: 10,
		AccessHistoryLimit:   50,

		PersistTimeout: 5 * time.Second,
	}
}

// Validate checks weights and thresholds
func (c Config) Validate() error {
	var total float64
	for _, f := range Factors {
		w := c.Weights[f]
		if w < 0 {
			return fmt.Errorf("weight for %s must not be negative", f)
		}
		total += w
	}
	if math.Abs(total-1.0) > 1e-6 {
		return fmt.Errorf("factor weights must sum to 1.0, got %.4f", total)
	}
	if c.LowThreshold < 0 || c.HighThreshold > 100 || c.LowThreshold >= c.HighThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= low < high <= 100, got low=%d high=%d",
			c.LowThreshold, c.HighThreshold)
	}
	for _, a := range []Action{c.LowAction, c.MediumAction, c.HighAction} {
		switch a {
		case ActionAllow, ActionReview, ActionBlock:
		default:
			return fmt.Errorf("unknown action %q", a)
		}
	}
	if c.UnusualHourStart < 0 || c.UnusualHourEnd > 24 || c.UnusualHourStart > c.UnusualHourEnd {
		return fmt.Errorf("unusual hours must satisfy 0 <= start <= end <= 24")
	}
	return nil
}

// SetWeights normalizes the given weights so they sum to 1.0
func (c *Config) SetWeights(ip, device, behavioral, geo, temporal float64) {
	total := ip + device + behavioral + geo + temporal
	if total <= 0 {
		return
	}
	c.Weights = [FactorCount]float64{
		FactorIPReputation:      ip / total,
		FactorDeviceFingerprint: device / total,
		FactorBehavioral:        behavioral / total,
		FactorGeolocation:       geo / total,
		FactorTemporal:          temporal / total,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TimeZone == nil {
		c.TimeZone = d.TimeZone
	}
	if c.BehaviorHistoryLimit <= 0 {
		c.BehaviorHistoryLimit = d.BehaviorHistoryLimit
	}
	if c.LocationHistoryLimit <= 0 {
		c.LocationHistoryLimit = d.LocationHistoryLimit
	}
	if c.AccessHistoryLimit <= 0 {
		c.AccessHistoryLimit = d.AccessHistoryLimit
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	if c.MaxTravelSpeedKmh <= 0 {
		c.MaxTravelSpeedKmh = d.MaxTravelSpeedKmh
	}
	return c
}
