package records

import (
	"sort"
	"time"
)

// MatchLayer names the resolution layer that linked a record to an entity.
type MatchLayer string

// Match layers in the resolution cascade.
const (
	LayerSeed             MatchLayer = "seed"
	LayerExactAddress     MatchLayer = "exact_name_address"
	LayerStreetZip        MatchLayer = "exact_name_street_zip"
	LayerRecordChain      MatchLayer = "record_chain"
	LayerFuzzyName        MatchLayer = "fuzzy_name_address"
	LayerNicknameContact  MatchLayer = "nickname_contact"
	LayerProfessional     MatchLayer = "professional_identity"
	LayerHousehold        MatchLayer = "household"
	LayerBelowThreshold   MatchLayer = "below_threshold"
	LayerManualResolution MatchLayer = "manual"
)

// MatchEvidence records one contributing match for an entity.
type MatchEvidence struct {
	Record     RecordRef  `json:"record"`
	Layer      MatchLayer `json:"layer"`
	Confidence float64    `json:"confidence"`
	MatchedAt  time.Time  `json:"matched_at"`
}

// EntityAddress is an address with the period it was observed as valid.
type EntityAddress struct {
	Address
	Normalized string     `json:"normalized"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to,omitempty"`
}

// ContactKind distinguishes phone from email contact points.
type ContactKind string

// Contact point kinds.
const (
	ContactPhone ContactKind = "phone"
	ContactEmail ContactKind = "email"
)

// ContactPoint is a phone or email with source attribution.
type ContactPoint struct {
	Kind   ContactKind `json:"kind"`
	Value  string      `json:"value"`
	Source RecordRef   `json:"source"`
}

// Profession is a company/title/location tuple from a registry record.
type Profession struct {
	Company string    `json:"company"`
	Title   string    `json:"title"`
	City    string    `json:"city"`
	State   string    `json:"state"`
	Source  RecordRef `json:"source"`
}

// PersonName is the parsed comparison form of one observed name.
type PersonName struct {
	First  string `json:"first,omitempty"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last"`
}

// Entity is a canonical resolved identity.
type Entity struct {
	ID              string          `json:"id"`
	CanonicalName   string          `json:"canonical_name"`
	NameVariants    []string        `json:"name_variants"`
	Names           []PersonName    `json:"names,omitempty"`
	Addresses       []EntityAddress `json:"addresses"`
	ContactPoints   []ContactPoint  `json:"contact_points"`
	Professions     []Profession    `json:"professions,omitempty"`
	AgeEstimate     int             `json:"age_estimate,omitempty"`
	ConfidenceScore float64         `json:"confidence_score"`
	SourceCount     int             `json:"source_count"`
	Matches         []MatchEvidence `json:"matches"`
	BlockingKeys    []string        `json:"blocking_keys,omitempty"`
	Score           float64         `json:"score"`
	RedirectTo      string          `json:"redirect_to,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// Tombstoned reports whether the entity was merged into another.
func (e Entity) Tombstoned() bool {
	return e.RedirectTo != ""
}

// Clone deep-copies slices so stored entities are never aliased.
func (e Entity) Clone() Entity {
	out := e
	out.NameVariants = append([]string(nil), e.NameVariants...)
	out.Names = append([]PersonName(nil), e.Names...)
	out.Addresses = append([]EntityAddress(nil), e.Addresses...)
	out.ContactPoints = append([]ContactPoint(nil), e.ContactPoints...)
	out.Professions = append([]Profession(nil), e.Professions...)
	out.Matches = append([]MatchEvidence(nil), e.Matches...)
	out.BlockingKeys = append([]string(nil), e.BlockingKeys...)
	return out
}

// AddNameVariant inserts a raw name into the sorted variant set.
func (e *Entity) AddNameVariant(name string) {
	if name == "" {
		return
	}
	i := sort.SearchStrings(e.NameVariants, name)
	if i < len(e.NameVariants) && e.NameVariants[i] == name {
		return
	}
	e.NameVariants = append(e.NameVariants, "")
	copy(e.NameVariants[i+1:], e.NameVariants[i:])
	e.NameVariants[i] = name
}

// HasRecord reports whether the record already contributes to the entity.
func (e Entity) HasRecord(ref RecordRef) bool {
	for _, m := range e.Matches {
		if m.Record == ref {
			return true
		}
	}
	return false
}

// RelationHousehold is the only entity-to-entity relation type.
const RelationHousehold = "HOUSEHOLD"

// HouseholdEdge is a weak, non-owning link between two entities.
type HouseholdEdge struct {
	A         string    `json:"a"`
	B         string    `json:"b"`
	Relation  string    `json:"relation"`
	Evidence  RecordRef `json:"evidence"`
	CreatedAt time.Time `json:"created_at"`
}

// Canonical orders the edge endpoints so (a,b) and (b,a) collide.
func (h HouseholdEdge) Canonical() HouseholdEdge {
	if h.B < h.A {
		h.A, h.B = h.B, h.A
	}
	if h.Relation == "" {
		h.Relation = RelationHousehold
	}
	return h
}

// RecordLink ties a record to at most one entity at a time.
type RecordLink struct {
	Record     RecordRef  `json:"record"`
	EntityID   string     `json:"entity_id"`
	Layer      MatchLayer `json:"layer"`
	Confidence float64    `json:"confidence"`
	Mention    string     `json:"mention"`
	LinkedAt   time.Time  `json:"linked_at"`
}

// ReviewItem is a sub-threshold match awaiting manual review.
type ReviewItem struct {
	ID          string    `json:"id"`
	Record      RecordRef `json:"record"`
	Mention     string    `json:"mention"`
	CandidateID string    `json:"candidate_id"`
	Confidence  float64   `json:"confidence"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}
