package resolve

import (
	"fmt"

	"github.com/JakeFAU/records-resolver/internal/names"
	"github.com/JakeFAU/records-resolver/internal/records"
)

// Candidate is an entity prepared for comparison against mentions.
type Candidate struct {
	Entity records.Entity
	// Chained is set when the entity is already linked to a record the
	// mention's record references, e.g. the property a deed conveys.
	Chained bool

	names       []names.Name
	addresses   []names.Address
	cities      map[string]bool
	phones      map[string]bool
	emails      map[string]bool
	professions map[string]bool
}

// NewCandidate precomputes the comparison forms of an entity.
func NewCandidate(e records.Entity, chained bool) Candidate {
	c := Candidate{
		Entity:      e,
		Chained:     chained,
		cities:      map[string]bool{},
		phones:      map[string]bool{},
		emails:      map[string]bool{},
		professions: map[string]bool{},
	}
	for _, n := range e.Names {
		c.names = append(c.names, names.Name{First: n.First, Middle: n.Middle, Last: n.Last})
	}
	for _, a := range e.Addresses {
		c.addresses = append(c.addresses, names.NormalizeAddress(a.Address))
		if a.City != "" {
			c.cities[normLower(a.City)+"|"+normLower(a.State)] = true
		}
	}
	for _, cp := range e.ContactPoints {
		switch cp.Kind {
		case records.ContactPhone:
			c.phones[cp.Value] = true
		case records.ContactEmail:
			c.emails[cp.Value] = true
		}
	}
	for _, p := range e.Professions {
		c.professions[professionKey(p)] = true
		if p.City != "" {
			c.cities[normLower(p.City)+"|"+normLower(p.State)] = true
		}
	}
	return c
}

func (c Candidate) anyName(pred func(names.Name) bool) bool {
	for _, n := range c.names {
		if pred(n) {
			return true
		}
	}
	return false
}

func (c Candidate) anyAddress(pred func(names.Address) bool) bool {
	for _, a := range c.addresses {
		if pred(a) {
			return true
		}
	}
	return false
}

// Layer is one step of the matching cascade. Test must be pure.
type Layer struct {
	Name       records.MatchLayer
	Confidence float64
	// Household layers relate the mention to the candidate instead of
	// resolving it into the candidate.
	Household bool
	Test      func(m Mention, c Candidate) bool
}

// DefaultLayers returns the cascade in descending confidence order.
func DefaultLayers(maxEdit int) []Layer {
	compatible := compatibleName(maxEdit)
	return []Layer{
		{Name: records.LayerExactAddress, Confidence: 99, Test: exactNameAddress},
		{Name: records.LayerStreetZip, Confidence: 95, Test: exactNameStreetZip},
		{Name: records.LayerRecordChain, Confidence: 94, Test: func(m Mention, c Candidate) bool {
			return c.Chained && c.anyName(func(n names.Name) bool { return compatible(m.Name, n) })
		}},
		{Name: records.LayerFuzzyName, Confidence: 92, Test: func(m Mention, c Candidate) bool {
			full := m.Address.Full()
			return full != "" &&
				c.anyAddress(func(a names.Address) bool { return a.Full() == full }) &&
				c.anyName(func(n names.Name) bool { return names.FuzzyName(m.Name, n, maxEdit) })
		}},
		{Name: records.LayerNicknameContact, Confidence: 90, Test: nicknameContact},
		{Name: records.LayerProfessional, Confidence: 88, Test: func(m Mention, c Candidate) bool {
			return m.Profession != nil &&
				c.professions[professionKey(*m.Profession)] &&
				c.anyName(func(n names.Name) bool { return compatible(m.Name, n) })
		}},
		{Name: records.LayerHousehold, Confidence: 85, Household: true, Test: func(m Mention, c Candidate) bool {
			sz := m.Address.StreetZip()
			return sz != "" &&
				c.anyAddress(func(a names.Address) bool { return a.StreetZip() == sz }) &&
				c.anyName(func(n names.Name) bool { return n.Last == m.Name.Last && !compatible(m.Name, n) })
		}},
	}
}

func exactNameAddress(m Mention, c Candidate) bool {
	full := m.Address.Full()
	return full != "" &&
		c.anyName(func(n names.Name) bool { return names.SameName(m.Name, n) }) &&
		c.anyAddress(func(a names.Address) bool { return a.Full() == full })
}

func exactNameStreetZip(m Mention, c Candidate) bool {
	sz := m.Address.StreetZip()
	return sz != "" &&
		c.anyName(func(n names.Name) bool { return names.SameName(m.Name, n) }) &&
		c.anyAddress(func(a names.Address) bool { return a.StreetZip() == sz })
}

func nicknameContact(m Mention, c Candidate) bool {
	named := c.anyName(func(n names.Name) bool {
		return n.Last == m.Name.Last && (n.First == m.Name.First || names.NicknameEquivalent(n.First, m.Name.First))
	})
	if !named {
		return false
	}
	for _, p := range m.Phones {
		if c.phones[p] {
			return true
		}
	}
	for _, e := range m.Emails {
		if c.emails[e] {
			return true
		}
	}
	return false
}

func compatibleName(maxEdit int) func(a, b names.Name) bool {
	return func(a, b names.Name) bool {
		if names.FuzzyName(a, b, maxEdit) {
			return true
		}
		return a.Last == b.Last && names.NicknameEquivalent(a.First, b.First)
	}
}

// Decision is the outcome of running the cascade for one mention.
type Decision struct {
	Layer      records.MatchLayer
	Confidence float64
	Household  bool
	Matches    []Candidate
	// Review is set when no layer accepted but a candidate came close.
	Review *ReviewHint
}

// Accepted reports whether a layer produced a match.
func (d Decision) Accepted() bool { return len(d.Matches) > 0 }

// ReviewHint describes a sub-threshold candidate.
type ReviewHint struct {
	CandidateID string
	Confidence  float64
	Reason      string
}

// Cascade evaluates layers in order and accepts the first that matches.
type Cascade struct {
	Layers      []Layer
	MaxEdit     int
	ReviewFloor float64
}

// Evaluate runs m against the candidates. Every candidate matching the
// winning layer is returned; lower layers are never consulted once a layer
// accepts.
func (cs Cascade) Evaluate(m Mention, candidates []Candidate) Decision {
	for _, layer := range cs.Layers {
		var matched []Candidate
		for _, c := range candidates {
			if layer.Test(m, c) {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			return Decision{
				Layer:      layer.Name,
				Confidence: layer.Confidence,
				Household:  layer.Household,
				Matches:    matched,
			}
		}
	}

	var best *ReviewHint
	for _, c := range candidates {
		score, reason := cs.reviewScore(m, c)
		if score < cs.ReviewFloor || score <= 0 {
			continue
		}
		if best == nil || score > best.Confidence {
			best = &ReviewHint{CandidateID: c.Entity.ID, Confidence: score, Reason: reason}
		}
	}
	return Decision{Layer: records.LayerBelowThreshold, Review: best}
}

// reviewScore grades a near miss in the 70-85 band: a name agreement without
// the corroboration any layer requires.
func (cs Cascade) reviewScore(m Mention, c Candidate) (float64, string) {
	compatible := compatibleName(cs.MaxEdit)
	var (
		score  float64
		reason string
	)
	switch {
	case c.anyName(func(n names.Name) bool { return names.SameName(m.Name, n) }):
		score, reason = 80, "same name"
	case c.anyName(func(n names.Name) bool { return compatible(m.Name, n) }):
		score, reason = 75, "similar name"
	default:
		return 0, ""
	}
	if corroborated(m, c) {
		score += 4
		reason += ", same locality"
	}
	return score, fmt.Sprintf("%s without address, contact or record chain", reason)
}

func corroborated(m Mention, c Candidate) bool {
	if m.Address.Zip != "" && c.anyAddress(func(a names.Address) bool { return a.Zip == m.Address.Zip }) {
		return true
	}
	return m.City != "" && c.cities[m.City+"|"+m.State]
}
