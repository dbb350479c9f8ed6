package signals

import (
	"fmt"
	"math"
	"strings"

	"github.com/JakeFAU/records-resolver/internal/records"
)

// ScoringConfig overrides the default weights and strength multipliers.
// Keys are signal type and strength names.
type ScoringConfig struct {
	Weights     map[string]float64 `mapstructure:"weights"`
	Multipliers map[string]float64 `mapstructure:"multipliers"`
}

// Scorer turns active signals into a composite prospect score.
type Scorer struct {
	weights     map[records.SignalType]float64
	multipliers map[records.Strength]float64
}

// DefaultWeights is the base weight per signal type.
func DefaultWeights() map[records.SignalType]float64 {
	return map[records.SignalType]float64{
		records.SignalMortgageSatisfied:  30,
		records.SignalPropertySold:       25,
		records.SignalProbateFiled:       20,
		records.SignalDivorceFiled:       15,
		records.SignalHighValueProperty:  15,
		records.SignalRetirementWindow:   15,
		records.SignalMultiPropertyOwner: 10,
		records.SignalLongTenure:         5,
		records.SignalSeniorProfessional: 5,
	}
}

// DefaultMultipliers scales a weight by signal strength.
func DefaultMultipliers() map[records.Strength]float64 {
	return map[records.Strength]float64{
		records.StrengthLow:      0.5,
		records.StrengthMedium:   1,
		records.StrengthHigh:     1.5,
		records.StrengthVeryHigh: 2,
	}
}

// NewScorer applies cfg on top of the defaults. Signal type keys are matched
// case-insensitively since viper lowercases map keys. Unknown keys are
// rejected.
func NewScorer(cfg ScoringConfig) (Scorer, error) {
	s := Scorer{weights: DefaultWeights(), multipliers: DefaultMultipliers()}
	for name, w := range cfg.Weights {
		t := records.SignalType(strings.ToUpper(name))
		if _, ok := s.weights[t]; !ok {
			return Scorer{}, fmt.Errorf("scoring.weights: unknown signal type %q", name)
		}
		if w < 0 {
			return Scorer{}, fmt.Errorf("scoring.weights.%s must be non-negative", name)
		}
		s.weights[t] = w
	}
	for name, m := range cfg.Multipliers {
		st := records.Strength(strings.ToLower(name))
		if _, ok := s.multipliers[st]; !ok {
			return Scorer{}, fmt.Errorf("scoring.multipliers: unknown strength %q", name)
		}
		if m < 0 {
			return Scorer{}, fmt.Errorf("scoring.multipliers.%s must be non-negative", name)
		}
		s.multipliers[st] = m
	}
	return s, nil
}

// Score sums weight times strength multiplier over the active signals. A
// signal's own Weight overrides the type weight. The result is rounded to
// two decimals.
func (s Scorer) Score(active []records.Signal) float64 {
	var total float64
	for _, sig := range active {
		w := s.weights[sig.Type]
		if sig.Weight != nil {
			w = *sig.Weight
		}
		total += w * s.multipliers[sig.Strength]
	}
	return math.Round(total*100) / 100
}
