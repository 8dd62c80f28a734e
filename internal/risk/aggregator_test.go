package risk

import (
	"math"
	"reflect"
	"testing"
)

func TestAggregator_EveryFactorContributes(t *testing.T) {
	cfg := DefaultConfig()
	agg := NewAggregator(cfg)

	for _, f := range Factors {
		var factors [FactorCount]SubScore
		factors[f].Score = 100

		want := int(math.Round(100 * cfg.Weights[f]))
		got := agg.Score(factors)
		if got != want {
			t.Errorf("%s alone at 100: Score = %d, want %d", f, got, want)
		}
		if got == 0 {
			t.Errorf("%s does not contribute to the overall score", f)
		}
	}
}

func TestAggregator_Score(t *testing.T) {
	agg := NewAggregator(DefaultConfig())

	tests := []struct {
		name   string
		scores [FactorCount]int
		want   int
	}{
		{"all zero", [FactorCount]int{}, 0},
		{"all max", [FactorCount]int{100, 100, 100, 100, 100}, 100},
		{"rounds half up", [FactorCount]int{0, 10, 0, 0, 0}, 3}, // 2.5
		{"mixed", [FactorCount]int{90, 15, 0, 0, 0}, 31},         // 27 + 3.75
		{"out of range sub-scores are clamped", [FactorCount]int{250, -40, 0, 0, 0}, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var factors [FactorCount]SubScore
			for i, s := range tt.scores {
				factors[i].Score = s
			}
			if got := agg.Score(factors); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAggregator_LevelIsMonotonic(t *testing.T) {
	agg := NewAggregator(DefaultConfig())
	rank := map[RiskLevel]int{RiskLevelLow: 0, RiskLevelMedium: 1, RiskLevelHigh: 2}

	prev := -1
	for score := 0; score <= 100; score++ {
		r := rank[agg.Level(score)]
		if r < prev {
			t.Fatalf("Level(%d) = %s is lower than Level(%d)", score, agg.Level(score), score-1)
		}
		prev = r
	}

	boundaries := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskLevelLow},
		{30, RiskLevelLow},
		{31, RiskLevelMedium},
		{70, RiskLevelMedium},
		{71, RiskLevelHigh},
		{100, RiskLevelHigh},
	}
	for _, b := range boundaries {
		if got := agg.Level(b.score); got != b.want {
			t.Errorf("Level(%d) = %s, want %s", b.score, got, b.want)
		}
	}
}

func TestAggregator_ConfiguredActions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MediumAction = ActionBlock
	agg := NewAggregator(cfg)

	if got := agg.Action(RiskLevelLow); got != ActionAllow {
		t.Errorf("Action(LOW) = %s, want allow", got)
	}
	if got := agg.Action(RiskLevelMedium); got != ActionBlock {
		t.Errorf("Action(MEDIUM) = %s, want block", got)
	}
	if got := agg.Action(RiskLevelHigh); got != ActionBlock {
		t.Errorf("Action(HIGH) = %s, want block", got)
	}
}

func TestAggregator_ReasonsInFactorOrder(t *testing.T) {
	var factors [FactorCount]SubScore
	factors[FactorTemporal].Reasons = []string{"temporal"}
	factors[FactorIPReputation].Reasons = []string{"ip-1", "ip-2"}
	factors[FactorGeolocation].Reasons = []string{"geo"}
	factors[FactorDeviceFingerprint].Reasons = []string{"device"}

	got := NewAggregator(DefaultConfig()).Reasons(factors)
	want := []string{"ip-1", "ip-2", "device", "geo", "temporal"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Reasons() = %v, want %v", got, want)
	}
}

func TestConfig_SetWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetWeights(3, 2, 2, 2, 1)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() after SetWeights error = %v", err)
	}
	if math.Abs(cfg.Weights[FactorIPReputation]-0.3) > 1e-9 {
		t.Errorf("ip weight = %v, want 0.3", cfg.Weights[FactorIPReputation])
	}
}

func TestFactorString(t *testing.T) {
	want := []string{"ip_reputation", "device_fingerprint", "behavioral", "geolocation", "temporal"}
	for i, f := range Factors {
		if f.String() != want[i] {
			t.Errorf("Factor(%d).String() = %q, want %q", i, f.String(), want[i])
		}
	}
	if Factor(99).String() != "unknown" {
		t.Errorf("out-of-range factor should be unknown")
	}
}
