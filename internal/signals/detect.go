// Package signals derives behavioral and financial signals from an entity's
// linked records and turns the active signal set into a prospect score.
package signals

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/records-resolver/internal/records"
)

// Input is everything a detector may look at for one entity.
type Input struct {
	Entity records.Entity
	// Links are the entity's record links; the mention key carries the role.
	Links []records.RecordLink
	// Records are the records behind Links.
	Records []records.Record
	// Related are documents and court cases filed against parcels the
	// entity owns, whether or not the entity is named on them.
	Related []records.Record
	Now     time.Time
}

// Detector inspects one entity. Implementations must be pure and safe for
// concurrent use.
type Detector interface {
	Type() records.SignalType
	Detect(in Input) []records.Signal
}

// Run executes every detector concurrently and returns the signals sorted by
// type, detection date and source, stamped with the entity id.
func Run(in Input, detectors []Detector) []records.Signal {
	results := make([][]records.Signal, len(detectors))
	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			results[i] = d.Detect(in)
		}(i, d)
	}
	wg.Wait()

	var out []records.Signal
	for _, batch := range results {
		for _, sig := range batch {
			sig.EntityID = in.Entity.ID
			out = append(out, sig)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if !a.DetectedAt.Equal(b.DetectedAt) {
			return a.DetectedAt.Before(b.DetectedAt)
		}
		return a.Source < b.Source
	})
	return out
}

// parcelKey scopes a parcel id to its jurisdiction.
type parcelKey struct {
	jurisdiction string
	parcel       string
}

// owned returns the properties the entity is linked to as owner.
func (in Input) owned() map[parcelKey]records.Property {
	owner := map[records.RecordRef]bool{}
	for _, l := range in.Links {
		if l.Record.Kind == records.KindProperty && role(l.Mention) == "owner" {
			owner[l.Record] = true
		}
	}
	out := map[parcelKey]records.Property{}
	for _, rec := range in.Records {
		p, ok := rec.(records.Property)
		if !ok || !owner[p.Ref()] {
			continue
		}
		out[parcelKey{p.Jurisdiction, p.ParcelID}] = p
	}
	return out
}

// roles returns the roles the entity plays on ref.
func (in Input) roles(ref records.RecordRef) map[string]bool {
	out := map[string]bool{}
	for _, l := range in.Links {
		if l.Record == ref {
			out[role(l.Mention)] = true
		}
	}
	return out
}

// documents returns linked and related documents once each.
func (in Input) documents() []records.Document {
	seen := map[records.RecordRef]bool{}
	var out []records.Document
	for _, group := range [][]records.Record{in.Records, in.Related} {
		for _, rec := range group {
			d, ok := rec.(records.Document)
			if !ok || seen[d.Ref()] {
				continue
			}
			seen[d.Ref()] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedDate.Equal(out[j].RecordedDate) {
			return out[i].RecordedDate.Before(out[j].RecordedDate)
		}
		return out[i].DocumentNumber < out[j].DocumentNumber
	})
	return out
}

func (in Input) courtCases() []records.CourtCase {
	seen := map[records.RecordRef]bool{}
	var out []records.CourtCase
	for _, group := range [][]records.Record{in.Records, in.Related} {
		for _, rec := range group {
			c, ok := rec.(records.CourtCase)
			if !ok || seen[c.Ref()] {
				continue
			}
			seen[c.Ref()] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CaseNumber < out[j].CaseNumber })
	return out
}

func role(mention string) string {
	r, _, _ := strings.Cut(mention, ":")
	return r
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func ptr(t time.Time) *time.Time { return &t }
