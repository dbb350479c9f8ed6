// Package records defines the normalized record, job, entity, and signal types
// shared across the acquisition and resolution subsystems.
package records

import (
	"fmt"
	"time"
)

// RecordKind discriminates the normalized record variants.
type RecordKind string

// Record kinds persisted by the store gateway. Each kind maps to its own
// natural-key scoped table.
const (
	KindProperty     RecordKind = "property"
	KindDocument     RecordKind = "document"
	KindCourtCase    RecordKind = "court_case"
	KindProfessional RecordKind = "professional"
)

// RecordRef identifies a record by its natural key within a jurisdiction.
type RecordRef struct {
	Kind         RecordKind `json:"kind"`
	Jurisdiction string     `json:"jurisdiction"`
	NaturalKey   string     `json:"natural_key"`
}

// String renders the ref as kind:jurisdiction:key.
func (r RecordRef) String() string {
	return fmt.Sprintf("%s:%s:%s", r.Kind, r.Jurisdiction, r.NaturalKey)
}

// Record is implemented by every normalized record variant.
type Record interface {
	Ref() RecordRef
	Scraped() time.Time
}

// Address is a postal address as recorded by a source.
type Address struct {
	Street string `json:"street"`
	Unit   string `json:"unit,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`
}

// IsZero reports whether the address carries no street or zip.
func (a Address) IsZero() bool {
	return a.Street == "" && a.Zip == ""
}

// Property is an assessor parcel record.
type Property struct {
	Jurisdiction   string     `json:"jurisdiction"`
	ParcelID       string     `json:"parcel_id"`
	OwnerName      string     `json:"owner_name"`
	SitusAddress   Address    `json:"situs_address"`
	MailingAddress Address    `json:"mailing_address"`
	PropertyType   string     `json:"property_type,omitempty"`
	AssessedValue  int64      `json:"assessed_value"`
	MarketValue    int64      `json:"market_value"`
	LastSalePrice  int64      `json:"last_sale_price,omitempty"`
	LastSaleDate   *time.Time `json:"last_sale_date,omitempty"`
	PurchaseDate   *time.Time `json:"purchase_date,omitempty"`
	JobID          string     `json:"job_id,omitempty"`
	ScrapedAt      time.Time  `json:"scraped_at"`
}

// Ref implements Record.
func (p Property) Ref() RecordRef {
	return RecordRef{Kind: KindProperty, Jurisdiction: p.Jurisdiction, NaturalKey: p.ParcelID}
}

// Scraped implements Record.
func (p Property) Scraped() time.Time { return p.ScrapedAt }

// Document is a recorder instrument such as a deed or a reconveyance.
type Document struct {
	Jurisdiction   string    `json:"jurisdiction"`
	DocumentNumber string    `json:"document_number"`
	DocumentType   string    `json:"document_type"`
	RecordedDate   time.Time `json:"recorded_date"`
	Grantors       []string  `json:"grantors"`
	Grantees       []string  `json:"grantees"`
	Amount         int64     `json:"amount,omitempty"`
	ParcelID       string    `json:"parcel_id,omitempty"`
	JobID          string    `json:"job_id,omitempty"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

// Ref implements Record.
func (d Document) Ref() RecordRef {
	return RecordRef{Kind: KindDocument, Jurisdiction: d.Jurisdiction, NaturalKey: d.DocumentNumber}
}

// Scraped implements Record.
func (d Document) Scraped() time.Time { return d.ScrapedAt }

// Party is a named participant in a court case.
type Party struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// CourtCase is a court docket entry.
type CourtCase struct {
	Jurisdiction string    `json:"jurisdiction"`
	CaseNumber   string    `json:"case_number"`
	CaseType     string    `json:"case_type"`
	FiledDate    time.Time `json:"filed_date"`
	Status       string    `json:"status,omitempty"`
	Parties      []Party   `json:"parties"`
	ParcelID     string    `json:"parcel_id,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// Ref implements Record.
func (c CourtCase) Ref() RecordRef {
	return RecordRef{Kind: KindCourtCase, Jurisdiction: c.Jurisdiction, NaturalKey: c.CaseNumber}
}

// Scraped implements Record.
func (c CourtCase) Scraped() time.Time { return c.ScrapedAt }

// Professional is a row from a professional or federal registry.
type Professional struct {
	Jurisdiction string    `json:"jurisdiction"`
	RegistryID   string    `json:"registry_id"`
	Name         string    `json:"name"`
	Company      string    `json:"company"`
	Title        string    `json:"title"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	Phones       []string  `json:"phones,omitempty"`
	Emails       []string  `json:"emails,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// Ref implements Record.
func (p Professional) Ref() RecordRef {
	return RecordRef{Kind: KindProfessional, Jurisdiction: p.Jurisdiction, NaturalKey: p.RegistryID}
}

// Scraped implements Record.
func (p Professional) Scraped() time.Time { return p.ScrapedAt }

// UpsertOutcome reports whether an upsert inserted or updated a row.
type UpsertOutcome int

// Upsert outcomes.
const (
	OutcomeCreated UpsertOutcome = iota + 1
	OutcomeUpdated
)

// String returns the outcome label used in metrics.
func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}
