// Package source defines the pluggable source adapter contract, the
// per-jurisdiction adapter registry, and shared plumbing for row-based public
// data sources.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/records-resolver/internal/records"
)

// Query bounds one adapter call.
type Query struct {
	Jurisdiction string
	JobID        string
	From         *time.Time
	To           *time.Time
	MaxRecords   int
}

// QueryFromOptions builds a Query for a job.
func QueryFromOptions(jurisdiction, jobID string, opts records.Options) Query {
	return Query{
		Jurisdiction: jurisdiction,
		JobID:        jobID,
		From:         opts.From,
		To:           opts.To,
		MaxRecords:   opts.MaxRecords,
	}
}

// Batch is the result of one adapter call. Rows that failed to map are
// reported in Rejects and never abort the batch.
type Batch struct {
	Properties    []records.Property
	Documents     []records.Document
	CourtCases    []records.CourtCase
	Professionals []records.Professional
	Rejects       []*records.SourceFormatError
	ArchiveURI    string
}

// Len counts the mapped records across kinds.
func (b Batch) Len() int {
	return len(b.Properties) + len(b.Documents) + len(b.CourtCases) + len(b.Professionals)
}

// PropertySource yields assessor parcels.
type PropertySource interface {
	FetchProperties(ctx context.Context, q Query) (Batch, error)
}

// DocumentSource yields recorder instruments.
type DocumentSource interface {
	FetchDocuments(ctx context.Context, q Query) (Batch, error)
}

// CourtSource yields court docket entries.
type CourtSource interface {
	FetchCourtCases(ctx context.Context, q Query) (Batch, error)
}

// ProfessionalSource yields professional or federal registry rows.
type ProfessionalSource interface {
	FetchProfessionals(ctx context.Context, q Query) (Batch, error)
}

// Adapter is the per-jurisdiction contract a scraper job drives. Phases the
// jurisdiction does not offer return records.ErrUnsupported.
type Adapter interface {
	PropertySource
	DocumentSource
	CourtSource
	ProfessionalSource
}

// Composite assembles an Adapter from independently configured sources.
type Composite struct {
	Properties    PropertySource
	Documents     DocumentSource
	Courts        CourtSource
	Professionals ProfessionalSource
}

var _ Adapter = (*Composite)(nil)

// FetchProperties implements Adapter.
func (c *Composite) FetchProperties(ctx context.Context, q Query) (Batch, error) {
	if c.Properties == nil {
		return Batch{}, fmt.Errorf("properties for %s: %w", q.Jurisdiction, records.ErrUnsupported)
	}
	return c.Properties.FetchProperties(ctx, q)
}

// FetchDocuments implements Adapter.
func (c *Composite) FetchDocuments(ctx context.Context, q Query) (Batch, error) {
	if c.Documents == nil {
		return Batch{}, fmt.Errorf("documents for %s: %w", q.Jurisdiction, records.ErrUnsupported)
	}
	return c.Documents.FetchDocuments(ctx, q)
}

// FetchCourtCases implements Adapter.
func (c *Composite) FetchCourtCases(ctx context.Context, q Query) (Batch, error) {
	if c.Courts == nil {
		return Batch{}, fmt.Errorf("court cases for %s: %w", q.Jurisdiction, records.ErrUnsupported)
	}
	return c.Courts.FetchCourtCases(ctx, q)
}

// FetchProfessionals implements Adapter.
func (c *Composite) FetchProfessionals(ctx context.Context, q Query) (Batch, error) {
	if c.Professionals == nil {
		return Batch{}, fmt.Errorf("professionals for %s: %w", q.Jurisdiction, records.ErrUnsupported)
	}
	return c.Professionals.FetchProfessionals(ctx, q)
}

// Jurisdiction pairs an id with its adapter.
type Jurisdiction struct {
	ID      string
	Name    string
	State   string
	Adapter Adapter
}
