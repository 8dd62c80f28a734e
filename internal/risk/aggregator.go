package risk

import "math"

// Aggregator combines factor sub-scores into an overall score, level and action
type Aggregator struct {
	config Config
}

// NewAggregator creates an aggregator for config. config must be valid.
func NewAggregator(config Config) Aggregator {
	return Aggregator{config: config}
}

// Score returns round(sum of score*weight) clamped to [0,100]
func (a Aggregator) Score(factors [FactorCount]SubScore) int {
	var total float64
	for _, f := range Factors {
		total += float64(clampScore(factors[f].Score)) * a.config.Weights[f]
	}
	return clampScore(int(math.Round(total)))
}

// Level maps a score onto LOW, MEDIUM or HIGH
func (a Aggregator) Level(score int) RiskLevel {
	switch {
	case score <= a.config.LowThreshold:
		return RiskLevelLow
	case score <= a.config.HighThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelHigh
	}
}

// Action returns the configured action for level
func (a Aggregator) Action(level RiskLevel) Action {
	switch level {
	case RiskLevelLow:
		return a.config.LowAction
	case RiskLevelMedium:
		return a.config.MediumAction
	default:
		return a.config.HighAction
	}
}

// Reasons concatenates every factor's reasons in factor order
func (a Aggregator) Reasons(factors [FactorCount]SubScore) []string {
	reasons := []string{}
	for _, f := range Factors {
		reasons = append(reasons, factors[f].Reasons...)
	}
	return reasons
}
