package resolve

import (
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/records-resolver/internal/names"
	"github.com/JakeFAU/records-resolver/internal/records"
)

// ConfidencePolicy aggregates an entity's match evidence into its
// confidence score.
type ConfidencePolicy string

// Confidence policies.
const (
	// PolicyMax takes the strongest contributing match.
	PolicyMax ConfidencePolicy = "max"
	// PolicyMean averages every contributing match.
	PolicyMean ConfidencePolicy = "mean"
)

// ParsePolicy validates a configured policy name. Empty means max.
func ParsePolicy(s string) (ConfidencePolicy, error) {
	switch ConfidencePolicy(s) {
	case "", PolicyMax:
		return PolicyMax, nil
	case PolicyMean:
		return PolicyMean, nil
	default:
		return "", fmt.Errorf("unknown confidence policy %q", s)
	}
}

// Score applies the policy to the evidence list.
func (p ConfidencePolicy) Score(matches []records.MatchEvidence) float64 {
	if len(matches) == 0 {
		return 0
	}
	if p == PolicyMean {
		var sum float64
		for _, m := range matches {
			sum += m.Confidence
		}
		return sum / float64(len(matches))
	}
	best := matches[0].Confidence
	for _, m := range matches[1:] {
		best = max(best, m.Confidence)
	}
	return best
}

// seedAgeOffset is the assumed minimum age of a first-time buyer.
const seedAgeOffset = 25

// absorb folds a mention into the entity profile and records the evidence.
func absorb(e *records.Entity, m Mention, layer records.MatchLayer, confidence float64, policy ConfidencePolicy, now time.Time) {
	e.AddNameVariant(m.Raw)
	addName(e, m.Name)
	if !m.RawAddress.IsZero() {
		addAddress(e, records.EntityAddress{
			Address:    m.RawAddress,
			Normalized: m.Address.Full(),
			ValidFrom:  m.ObservedAt,
		})
	}
	for _, p := range m.Phones {
		addContact(e, records.ContactPoint{Kind: records.ContactPhone, Value: p, Source: m.Record})
	}
	for _, em := range m.Emails {
		addContact(e, records.ContactPoint{Kind: records.ContactEmail, Value: em, Source: m.Record})
	}
	if m.Profession != nil {
		addProfession(e, *m.Profession)
	}
	if m.PurchasedAt != nil {
		years := int(now.Sub(*m.PurchasedAt).Hours() / (24 * 365.25))
		e.AgeEstimate = max(e.AgeEstimate, years+seedAgeOffset)
	}
	addEvidence(e, records.MatchEvidence{Record: m.Record, Layer: layer, Confidence: confidence, MatchedAt: now})
	refresh(e, policy, now)
}

// mergeProfiles folds loser into survivor.
func mergeProfiles(survivor *records.Entity, loser records.Entity, policy ConfidencePolicy, now time.Time) {
	for _, v := range loser.NameVariants {
		survivor.AddNameVariant(v)
	}
	for _, n := range loser.Names {
		addName(survivor, names.Name{First: n.First, Middle: n.Middle, Last: n.Last})
	}
	for _, a := range loser.Addresses {
		addAddress(survivor, a)
	}
	for _, c := range loser.ContactPoints {
		addContact(survivor, c)
	}
	for _, p := range loser.Professions {
		addProfession(survivor, p)
	}
	for _, ev := range loser.Matches {
		addEvidence(survivor, ev)
	}
	survivor.AgeEstimate = max(survivor.AgeEstimate, loser.AgeEstimate)
	if !loser.CreatedAt.IsZero() && (survivor.CreatedAt.IsZero() || loser.CreatedAt.Before(survivor.CreatedAt)) {
		survivor.CreatedAt = loser.CreatedAt
	}
	refresh(survivor, policy, now)
}

func addName(e *records.Entity, n names.Name) {
	pn := records.PersonName{First: n.First, Middle: n.Middle, Last: n.Last}
	for i, existing := range e.Names {
		if existing.First == pn.First && existing.Last == pn.Last {
			if existing.Middle == "" && pn.Middle != "" {
				e.Names[i].Middle = pn.Middle
			}
			return
		}
	}
	e.Names = append(e.Names, pn)
}

// addAddress keeps addresses newest first; each address is valid until the
// next one was observed.
func addAddress(e *records.Entity, a records.EntityAddress) {
	merged := false
	for i, existing := range e.Addresses {
		if existing.Normalized != a.Normalized {
			continue
		}
		if !a.ValidFrom.IsZero() && (existing.ValidFrom.IsZero() || a.ValidFrom.Before(existing.ValidFrom)) {
			e.Addresses[i].ValidFrom = a.ValidFrom
		}
		merged = true
		break
	}
	if !merged {
		a.ValidTo = nil
		e.Addresses = append(e.Addresses, a)
	}
	sort.SliceStable(e.Addresses, func(i, j int) bool {
		return e.Addresses[i].ValidFrom.After(e.Addresses[j].ValidFrom)
	})
	for i := range e.Addresses {
		if i == 0 {
			e.Addresses[i].ValidTo = nil
			continue
		}
		next := e.Addresses[i-1].ValidFrom
		e.Addresses[i].ValidTo = &next
	}
}

func addContact(e *records.Entity, c records.ContactPoint) {
	for _, existing := range e.ContactPoints {
		if existing.Kind == c.Kind && existing.Value == c.Value {
			return
		}
	}
	e.ContactPoints = append(e.ContactPoints, c)
}

func addProfession(e *records.Entity, p records.Profession) {
	key := professionKey(p)
	for _, existing := range e.Professions {
		if professionKey(existing) == key {
			return
		}
	}
	e.Professions = append(e.Professions, p)
}

func addEvidence(e *records.Entity, ev records.MatchEvidence) {
	for i, existing := range e.Matches {
		if existing.Record == ev.Record && existing.Layer == ev.Layer {
			e.Matches[i].Confidence = max(existing.Confidence, ev.Confidence)
			return
		}
	}
	e.Matches = append(e.Matches, ev)
}

// refresh recomputes every derived field.
func refresh(e *records.Entity, policy ConfidencePolicy, now time.Time) {
	sources := map[records.RecordRef]bool{}
	for _, ev := range e.Matches {
		sources[ev.Record] = true
	}
	e.SourceCount = len(sources)
	e.ConfidenceScore = policy.Score(e.Matches)
	e.BlockingKeys = blockingKeys(*e)
	if best, ok := bestName(e.Names); ok {
		e.CanonicalName = best.Display()
	}
	e.LastUpdated = now
}

// bestName prefers a full first name, then one with a middle name, then the
// earliest observed.
func bestName(list []records.PersonName) (names.Name, bool) {
	bestIdx := -1
	rank := func(p records.PersonName) int {
		r := 0
		if len([]rune(p.First)) > 1 {
			r += 2
		}
		if p.Middle != "" {
			r++
		}
		return r
	}
	for i, p := range list {
		if bestIdx < 0 || rank(p) > rank(list[bestIdx]) {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return names.Name{}, false
	}
	p := list[bestIdx]
	return names.Name{First: p.First, Middle: p.Middle, Last: p.Last}, true
}

func blockingKeys(e records.Entity) []string {
	var keys []string
	for _, n := range e.Names {
		keys = append(keys, nameKeys(names.Name{First: n.First, Last: n.Last})...)
	}
	for _, a := range e.Addresses {
		if sz := names.NormalizeAddress(a.Address).StreetZip(); sz != "" {
			keys = append(keys, "a:"+sz)
		}
	}
	for _, c := range e.ContactPoints {
		switch c.Kind {
		case records.ContactPhone:
			keys = append(keys, "p:"+c.Value)
		case records.ContactEmail:
			keys = append(keys, "e:"+c.Value)
		}
	}
	return dedupeSorted(keys)
}

// newEntity seeds an entity from a single mention.
func newEntity(id string, m Mention, layer records.MatchLayer, confidence float64, policy ConfidencePolicy, now time.Time) records.Entity {
	e := records.Entity{ID: id, CreatedAt: now}
	absorb(&e, m, layer, confidence, policy, now)
	return e
}
