package records

import "time"

// SignalType names a behavioral or financial event.
type SignalType string

// Signal types emitted by the detectors.
const (
	SignalMortgageSatisfied  SignalType = "MORTGAGE_SATISFIED"
	SignalPropertySold       SignalType = "PROPERTY_SOLD"
	SignalProbateFiled       SignalType = "PROBATE_FILED"
	SignalDivorceFiled       SignalType = "DIVORCE_FILED"
	SignalHighValueProperty  SignalType = "HIGH_VALUE_PROPERTY"
	SignalMultiPropertyOwner SignalType = "MULTI_PROPERTY_OWNER"
	SignalLongTenure         SignalType = "LONG_TENURE"
	SignalRetirementWindow   SignalType = "RETIREMENT_WINDOW"
	SignalSeniorProfessional SignalType = "SENIOR_PROFESSIONAL"
)

// Strength grades how strongly a signal indicates an outreach opportunity.
type Strength string

// Signal strengths, weakest first.
const (
	StrengthLow      Strength = "low"
	StrengthMedium   Strength = "medium"
	StrengthHigh     Strength = "high"
	StrengthVeryHigh Strength = "very-high"
)

// Signal is an immutable observation attached to an entity.
type Signal struct {
	EntityID    string      `json:"entity_id"`
	Type        SignalType  `json:"type"`
	Strength    Strength    `json:"strength"`
	Source      string      `json:"source"`
	DetectedAt  time.Time   `json:"detected_at"`
	Weight      *float64    `json:"weight,omitempty"`
	WindowStart *time.Time  `json:"window_start,omitempty"`
	WindowEnd   *time.Time  `json:"window_end,omitempty"`
	Evidence    []RecordRef `json:"evidence,omitempty"`
}

// SameAs reports whether two signals are identical for deduplication.
func (s Signal) SameAs(o Signal) bool {
	return s.Type == o.Type && s.Source == o.Source && s.DetectedAt.Equal(o.DetectedAt)
}

// ActiveSignals keeps only the newest signal per type; older ones are
// superseded.
func ActiveSignals(all []Signal) []Signal {
	latest := make(map[SignalType]Signal, len(all))
	order := make([]SignalType, 0, len(all))
	for _, s := range all {
		cur, ok := latest[s.Type]
		if !ok {
			order = append(order, s.Type)
			latest[s.Type] = s
			continue
		}
		if s.DetectedAt.After(cur.DetectedAt) {
			latest[s.Type] = s
		}
	}
	out := make([]Signal, 0, len(order))
	for _, t := range order {
		out = append(out, latest[t])
	}
	return out
}
