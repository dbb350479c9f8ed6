// Package sample serves deterministic fixture records for a jurisdiction so
// the full pipeline can run offline.
package sample

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/source"
)

// Kind is the configuration name of this adapter.
const Kind = "sample"

func init() {
	source.RegisterKind(Kind, func(env source.Env, _ source.Phase, cfg source.SourceConfig) (any, error) {
		return New(cfg.Size, env.Clock), nil
	})
}

// Adapter implements every source interface from fixed fixture data.
type Adapter struct {
	size  int
	clock records.Clock
}

var _ source.Adapter = (*Adapter)(nil)

// New returns an adapter. size pads the property fixtures with generated
// parcels beyond the fixed ones.
func New(size int, clock records.Clock) *Adapter {
	return &Adapter{size: size, clock: clock}
}

func (a *Adapter) now() time.Time {
	if a.clock == nil {
		return time.Now().UTC()
	}
	return a.clock.Now()
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(year int, month time.Month, d int) *time.Time {
	t := day(year, month, d)
	return &t
}

// FetchProperties implements source.PropertySource.
func (a *Adapter) FetchProperties(_ context.Context, q source.Query) (source.Batch, error) {
	now := a.now()
	home := records.Address{Street: "412 Oak Street", City: "Springfield", State: "IL", Zip: "62704"}
	fixtures := []records.Property{
		{
			ParcelID:       "14-22-301-007",
			OwnerName:      "SMITH JOHN & MARY",
			SitusAddress:   home,
			MailingAddress: home,
			PropertyType:   "residential",
			AssessedValue:  410000,
			MarketValue:    1250000,
			LastSalePrice:  380000,
			LastSaleDate:   dayPtr(2001, time.June, 14),
			PurchaseDate:   dayPtr(2001, time.June, 14),
		},
		{
			ParcelID:       "14-22-301-019",
			OwnerName:      "GARCIA ELENA R REVOCABLE LIVING TRUST",
			SitusAddress:   records.Address{Street: "88 Lakeview Drive", Unit: "Apt 4", City: "Springfield", State: "IL", Zip: "62704"},
			MailingAddress: records.Address{Street: "88 Lakeview Drive", Unit: "Apt 4", City: "Springfield", State: "IL", Zip: "62704"},
			PropertyType:   "condo",
			AssessedValue:  210000,
			MarketValue:    640000,
			PurchaseDate:   dayPtr(2012, time.March, 2),
		},
		{
			ParcelID:       "14-27-110-002",
			OwnerName:      "Robert Chen",
			SitusAddress:   records.Address{Street: "5 Hillcrest Court", City: "Springfield", State: "IL", Zip: "62711"},
			MailingAddress: records.Address{Street: "5 Hillcrest Court", City: "Springfield", State: "IL", Zip: "62711"},
			PropertyType:   "residential",
			AssessedValue:  520000,
			MarketValue:    1800000,
			PurchaseDate:   dayPtr(1998, time.September, 30),
		},
	}
	for i := len(fixtures); i < a.size; i++ {
		fixtures = append(fixtures, records.Property{
			ParcelID:     fmt.Sprintf("99-00-%03d-%03d", i/1000, i%1000),
			OwnerName:    fmt.Sprintf("OWNER %03d", i),
			SitusAddress: records.Address{Street: fmt.Sprintf("%d Elm Street", 100+i), City: "Springfield", State: "IL", Zip: "62702"},
			PropertyType: "residential",
		})
	}
	var batch source.Batch
	for _, p := range fixtures {
		if q.Capped(len(batch.Properties)) {
			break
		}
		p.Jurisdiction = q.Jurisdiction
		p.JobID = q.JobID
		p.ScrapedAt = now
		if p.MailingAddress.IsZero() {
			p.MailingAddress = p.SitusAddress
		}
		batch.Properties = append(batch.Properties, p)
	}
	return batch, nil
}

// FetchDocuments implements source.DocumentSource.
func (a *Adapter) FetchDocuments(_ context.Context, q source.Query) (source.Batch, error) {
	now := a.now()
	fixtures := []records.Document{
		{
			DocumentNumber: "2001-0061422",
			DocumentType:   "deed",
			RecordedDate:   day(2001, time.June, 14),
			Grantors:       []string{"WALKER THOMAS"},
			Grantees:       []string{"SMITH JOHN", "SMITH MARY"},
			Amount:         380000,
			ParcelID:       "14-22-301-007",
		},
		{
			DocumentNumber: "2001-0061423",
			DocumentType:   "mortgage",
			RecordedDate:   day(2001, time.June, 14),
			Grantors:       []string{"SMITH JOHN", "SMITH MARY"},
			Grantees:       []string{"FIRST SPRINGFIELD BANK"},
			Amount:         304000,
			ParcelID:       "14-22-301-007",
		},
		{
			DocumentNumber: "2024-0118870",
			DocumentType:   "satisfaction",
			RecordedDate:   day(2024, time.August, 9),
			Grantors:       []string{"FIRST SPRINGFIELD BANK"},
			Grantees:       []string{"SMITH JOHN", "SMITH MARY"},
			ParcelID:       "14-22-301-007",
		},
	}
	var batch source.Batch
	for _, d := range fixtures {
		if q.Capped(len(batch.Documents)) {
			break
		}
		if !q.InRange(d.RecordedDate) {
			continue
		}
		d.Jurisdiction = q.Jurisdiction
		d.JobID = q.JobID
		d.ScrapedAt = now
		batch.Documents = append(batch.Documents, d)
	}
	return batch, nil
}

// FetchCourtCases implements source.CourtSource.
func (a *Adapter) FetchCourtCases(_ context.Context, q source.Query) (source.Batch, error) {
	now := a.now()
	fixtures := []records.CourtCase{
		{
			CaseNumber: "2024-PR-000381",
			CaseType:   "probate",
			FiledDate:  day(2024, time.May, 3),
			Status:     "open",
			ParcelID:   "14-27-110-002",
			Parties: []records.Party{
				{Name: "ESTATE OF MARGARET CHEN", Role: "decedent"},
				{Name: "CHEN ROBERT", Role: "petitioner"},
			},
		},
	}
	var batch source.Batch
	for _, c := range fixtures {
		if q.Capped(len(batch.CourtCases)) {
			break
		}
		if !q.InRange(c.FiledDate) {
			continue
		}
		c.Jurisdiction = q.Jurisdiction
		c.JobID = q.JobID
		c.ScrapedAt = now
		batch.CourtCases = append(batch.CourtCases, c)
	}
	return batch, nil
}

// FetchProfessionals implements source.ProfessionalSource.
func (a *Adapter) FetchProfessionals(_ context.Context, q source.Query) (source.Batch, error) {
	now := a.now()
	fixtures := []records.Professional{
		{
			RegistryID: "CRD-4410923",
			Name:       "Robert Chen",
			Company:    "Chen Orthopedic Associates",
			Title:      "Managing Partner",
			City:       "Springfield",
			State:      "IL",
			Phones:     []string{"(217) 555-0142"},
			Emails:     []string{"rchen@chenortho.example"},
		},
	}
	var batch source.Batch
	for _, p := range fixtures {
		if q.Capped(len(batch.Professionals)) {
			break
		}
		p.Jurisdiction = q.Jurisdiction
		p.JobID = q.JobID
		p.ScrapedAt = now
		batch.Professionals = append(batch.Professionals, p)
	}
	return batch, nil
}
