package signals

import (
	"regexp"
	"sort"
	"time"

	"github.com/JakeFAU/records-resolver/internal/records"
)

var (
	releaseRe  = regexp.MustCompile(`(?i)\b(satisfaction|reconveyance|release)\b`)
	mortgageRe = regexp.MustCompile(`(?i)\b(mortgage|deed of trust|heloc)\b`)
	deedRe     = regexp.MustCompile(`(?i)\b(deed|conveyance)\b`)
	probateRe  = regexp.MustCompile(`(?i)\b(probate|estate|decedent)\b`)
	divorceRe  = regexp.MustCompile(`(?i)\b(divorce|dissolution)\b`)
	seniorRe   = regexp.MustCompile(`(?i)\b(partner|director|president|owner|principal|chief|vp|managing|founder)\b`)

	// A bare release type, or one naming a mortgage or lien, is a payoff.
	bareReleaseRe = regexp.MustCompile(`(?i)^\s*(full |partial )?(satisfaction|reconveyance|release)\s*$`)
	securedRe     = regexp.MustCompile(`(?i)\b(mortgage|deed of trust|heloc|lien)\b`)
)

// Thresholds tunes the state-based detectors.
type Thresholds struct {
	HighValue          int64 `mapstructure:"high_value"`
	VeryHighValue      int64 `mapstructure:"very_high_value"`
	MultiPropertyCount int   `mapstructure:"multi_property_count"`
	LongTenureYears    int   `mapstructure:"long_tenure_years"`
	RetirementMinAge   int   `mapstructure:"retirement_min_age"`
	RetirementMaxAge   int   `mapstructure:"retirement_max_age"`
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighValue:          1_000_000,
		VeryHighValue:      2_500_000,
		MultiPropertyCount: 2,
		LongTenureYears:    15,
		RetirementMinAge:   55,
		RetirementMaxAge:   70,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.HighValue <= 0 {
		t.HighValue = d.HighValue
	}
	if t.VeryHighValue <= 0 {
		t.VeryHighValue = d.VeryHighValue
	}
	if t.MultiPropertyCount <= 0 {
		t.MultiPropertyCount = d.MultiPropertyCount
	}
	if t.LongTenureYears <= 0 {
		t.LongTenureYears = d.LongTenureYears
	}
	if t.RetirementMinAge <= 0 {
		t.RetirementMinAge = d.RetirementMinAge
	}
	if t.RetirementMaxAge <= 0 {
		t.RetirementMaxAge = d.RetirementMaxAge
	}
	return t
}

// Defaults returns every detector.
func Defaults(t Thresholds) []Detector {
	t = t.withDefaults()
	return []Detector{
		MortgageSatisfied{},
		PropertySold{},
		CaseFiled{SignalType: records.SignalProbateFiled, Strength: records.StrengthHigh, Match: probateRe},
		CaseFiled{SignalType: records.SignalDivorceFiled, Strength: records.StrengthMedium, Match: divorceRe},
		HighValueProperty{High: t.HighValue, VeryHigh: t.VeryHighValue},
		MultiPropertyOwner{Min: t.MultiPropertyCount},
		LongTenure{Years: t.LongTenureYears},
		RetirementWindow{MinAge: t.RetirementMinAge, MaxAge: t.RetirementMaxAge},
		SeniorProfessional{},
	}
}

// Liquidity window after a mortgage is paid off.
const (
	payoffWindowStart = 30 * 24 * time.Hour
	payoffWindowEnd   = 90 * 24 * time.Hour
)

// MortgageSatisfied fires when a satisfaction, release or reconveyance is
// recorded against a parcel the entity owns.
type MortgageSatisfied struct{}

// Type implements Detector.
func (MortgageSatisfied) Type() records.SignalType { return records.SignalMortgageSatisfied }

// Detect implements Detector.
func (MortgageSatisfied) Detect(in Input) []records.Signal {
	owned := in.owned()
	docs := in.documents()
	var out []records.Signal
	for _, d := range docs {
		if !isPayoff(d.DocumentType) {
			continue
		}
		if _, ok := owned[parcelKey{d.Jurisdiction, d.ParcelID}]; !ok || d.ParcelID == "" {
			continue
		}
		evidence := []records.RecordRef{d.Ref()}
		for _, prior := range docs {
			if prior.ParcelID == d.ParcelID && prior.Jurisdiction == d.Jurisdiction &&
				mortgageRe.MatchString(prior.DocumentType) && !releaseRe.MatchString(prior.DocumentType) &&
				prior.RecordedDate.Before(d.RecordedDate) {
				evidence = append(evidence, prior.Ref())
			}
		}
		recorded := dayOf(d.RecordedDate)
		out = append(out, records.Signal{
			Type:        records.SignalMortgageSatisfied,
			Strength:    records.StrengthVeryHigh,
			Source:      d.Ref().String(),
			DetectedAt:  recorded,
			WindowStart: ptr(recorded.Add(payoffWindowStart)),
			WindowEnd:   ptr(recorded.Add(payoffWindowEnd)),
			Evidence:    evidence,
		})
	}
	return out
}

func isPayoff(docType string) bool {
	if !releaseRe.MatchString(docType) {
		return false
	}
	return bareReleaseRe.MatchString(docType) || securedRe.MatchString(docType)
}

// PropertySold fires when the entity is a grantor on a deed.
type PropertySold struct{}

// Type implements Detector.
func (PropertySold) Type() records.SignalType { return records.SignalPropertySold }

// Detect implements Detector.
func (PropertySold) Detect(in Input) []records.Signal {
	var out []records.Signal
	for _, d := range in.documents() {
		if !deedRe.MatchString(d.DocumentType) || mortgageRe.MatchString(d.DocumentType) || releaseRe.MatchString(d.DocumentType) {
			continue
		}
		if !in.roles(d.Ref())["grantor"] {
			continue
		}
		out = append(out, records.Signal{
			Type:       records.SignalPropertySold,
			Strength:   records.StrengthHigh,
			Source:     d.Ref().String(),
			DetectedAt: dayOf(d.RecordedDate),
			Evidence:   []records.RecordRef{d.Ref()},
		})
	}
	return out
}

// CaseFiled fires on court cases of a matching type that name the entity or
// concern a parcel it owns.
type CaseFiled struct {
	SignalType records.SignalType
	Strength   records.Strength
	Match      *regexp.Regexp
}

// Type implements Detector.
func (c CaseFiled) Type() records.SignalType { return c.SignalType }

// Detect implements Detector.
func (c CaseFiled) Detect(in Input) []records.Signal {
	owned := in.owned()
	var out []records.Signal
	for _, cs := range in.courtCases() {
		if !c.Match.MatchString(cs.CaseType) {
			continue
		}
		_, onParcel := owned[parcelKey{cs.Jurisdiction, cs.ParcelID}]
		if len(in.roles(cs.Ref())) == 0 && (cs.ParcelID == "" || !onParcel) {
			continue
		}
		out = append(out, records.Signal{
			Type:       c.SignalType,
			Strength:   c.Strength,
			Source:     cs.Ref().String(),
			DetectedAt: dayOf(cs.FiledDate),
			Evidence:   []records.RecordRef{cs.Ref()},
		})
	}
	return out
}

// HighValueProperty grades the entity's most valuable parcel.
type HighValueProperty struct {
	High     int64
	VeryHigh int64
}

// Type implements Detector.
func (HighValueProperty) Type() records.SignalType { return records.SignalHighValueProperty }

// Detect implements Detector.
func (h HighValueProperty) Detect(in Input) []records.Signal {
	var (
		best  records.Property
		found bool
	)
	for _, p := range in.owned() {
		if !found || p.MarketValue > best.MarketValue ||
			(p.MarketValue == best.MarketValue && p.ParcelID < best.ParcelID) {
			best, found = p, true
		}
	}
	if !found || best.MarketValue < h.High {
		return nil
	}
	strength := records.StrengthMedium
	if best.MarketValue >= h.VeryHigh {
		strength = records.StrengthHigh
	}
	return []records.Signal{{
		Type:       records.SignalHighValueProperty,
		Strength:   strength,
		Source:     best.Ref().String(),
		DetectedAt: dayOf(best.ScrapedAt),
		Evidence:   []records.RecordRef{best.Ref()},
	}}
}

// MultiPropertyOwner fires once the entity owns Min parcels.
type MultiPropertyOwner struct {
	Min int
}

// Type implements Detector.
func (MultiPropertyOwner) Type() records.SignalType { return records.SignalMultiPropertyOwner }

// Detect implements Detector.
func (m MultiPropertyOwner) Detect(in Input) []records.Signal {
	owned := in.owned()
	if len(owned) < m.Min {
		return nil
	}
	props := make([]records.Property, 0, len(owned))
	for _, p := range owned {
		props = append(props, p)
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Ref().String() < props[j].Ref().String() })

	// Dated by the latest known purchase, the day the portfolio was complete.
	var (
		detected time.Time
		evidence []records.RecordRef
	)
	for _, p := range props {
		evidence = append(evidence, p.Ref())
		at := p.ScrapedAt
		if p.PurchaseDate != nil {
			at = *p.PurchaseDate
		}
		if at.After(detected) {
			detected = at
		}
	}
	return []records.Signal{{
		Type:       records.SignalMultiPropertyOwner,
		Strength:   records.StrengthMedium,
		Source:     "assessor",
		DetectedAt: dayOf(detected),
		Evidence:   evidence,
	}}
}

// LongTenure fires when a parcel has been held for Years.
type LongTenure struct {
	Years int
}

// Type implements Detector.
func (LongTenure) Type() records.SignalType { return records.SignalLongTenure }

// Detect implements Detector.
func (l LongTenure) Detect(in Input) []records.Signal {
	var (
		earliest records.Property
		found    bool
	)
	for _, p := range in.owned() {
		if p.PurchaseDate == nil {
			continue
		}
		if !found || p.PurchaseDate.Before(*earliest.PurchaseDate) {
			earliest, found = p, true
		}
	}
	if !found {
		return nil
	}
	crossed := earliest.PurchaseDate.AddDate(l.Years, 0, 0)
	if crossed.After(in.Now) {
		return nil
	}
	return []records.Signal{{
		Type:       records.SignalLongTenure,
		Strength:   records.StrengthLow,
		Source:     earliest.Ref().String(),
		DetectedAt: dayOf(crossed),
		Evidence:   []records.RecordRef{earliest.Ref()},
	}}
}

// RetirementWindow fires while the estimated age sits between MinAge and
// MaxAge, the band where annuity surrender charges typically expire.
type RetirementWindow struct {
	MinAge int
	MaxAge int
}

// Type implements Detector.
func (RetirementWindow) Type() records.SignalType { return records.SignalRetirementWindow }

// Detect implements Detector.
func (r RetirementWindow) Detect(in Input) []records.Signal {
	age := in.Entity.AgeEstimate
	if age < r.MinAge || age > r.MaxAge {
		return nil
	}
	asOf := in.Entity.LastUpdated
	if asOf.IsZero() {
		asOf = in.Now
	}
	born := asOf.Year() - age
	start := time.Date(born+r.MinAge, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(born+r.MaxAge, time.January, 1, 0, 0, 0, 0, time.UTC)
	return []records.Signal{{
		Type:        records.SignalRetirementWindow,
		Strength:    records.StrengthMedium,
		Source:      "age_estimate",
		DetectedAt:  start,
		WindowStart: ptr(start),
		WindowEnd:   ptr(end),
	}}
}

// SeniorProfessional fires on registry titles that suggest seniority.
type SeniorProfessional struct{}

// Type implements Detector.
func (SeniorProfessional) Type() records.SignalType { return records.SignalSeniorProfessional }

// Detect implements Detector.
func (SeniorProfessional) Detect(in Input) []records.Signal {
	var out []records.Signal
	for _, rec := range in.Records {
		p, ok := rec.(records.Professional)
		if !ok || !seniorRe.MatchString(p.Title) {
			continue
		}
		out = append(out, records.Signal{
			Type:       records.SignalSeniorProfessional,
			Strength:   records.StrengthLow,
			Source:     p.Ref().String(),
			DetectedAt: dayOf(p.ScrapedAt),
			Evidence:   []records.RecordRef{p.Ref()},
		})
	}
	return out
}
