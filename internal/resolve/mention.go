package resolve

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/records-resolver/internal/names"
	"github.com/JakeFAU/records-resolver/internal/records"
)

// Mention is one person name observed on a record, with whatever
// corroborating attributes the record carries.
type Mention struct {
	Record     records.RecordRef
	Role       string
	Raw        string
	Name       names.Name
	Address    names.Address
	RawAddress records.Address
	City       string
	State      string
	Phones     []string
	Emails     []string
	Profession *records.Profession
	ParcelID   string
	ObservedAt time.Time
	// PurchasedAt is set for owner mentions with a known purchase date.
	PurchasedAt *time.Time
	// Group ties joint owners parsed from the same raw string.
	Group int
}

// Key identifies the mention within its record.
func (m Mention) Key() string {
	return m.Role + ":" + m.Name.Key()
}

// BlockingKeys are the index keys used to fetch candidate entities.
func (m Mention) BlockingKeys() []string {
	keys := nameKeys(m.Name)
	if sz := m.Address.StreetZip(); sz != "" {
		keys = append(keys, "a:"+sz)
	}
	for _, p := range m.Phones {
		keys = append(keys, "p:"+p)
	}
	for _, e := range m.Emails {
		keys = append(keys, "e:"+e)
	}
	return dedupeSorted(keys)
}

func nameKeys(n names.Name) []string {
	if n.Last == "" || n.First == "" {
		return nil
	}
	initial := string([]rune(n.First)[0])
	return []string{
		"n:" + n.Last + "|" + initial,
		"c:" + n.Last + "|" + names.CanonicalFirst(n.First),
	}
}

func dedupeSorted(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	for i, k := range in {
		if i > 0 && k == in[i-1] {
			continue
		}
		out = append(out, k)
	}
	return out
}

var orgRe = regexp.MustCompile(`(?i)\b(bank|bancorp|credit union|mortgage|servicing|financial|lending|loans?|savings|association|assn|company|corporation|llc|inc|corp|ltd|county|city of|state of|village of|unknown)\b`)

// isPerson filters out institutions and placeholder owners; only people are
// resolved into entities.
func isPerson(raw string, n names.Name) bool {
	if orgRe.MatchString(raw) {
		return false
	}
	if n.First == "" || n.Last == "" {
		return false
	}
	return !hasDigit(n.First) && !hasDigit(n.Last)
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// Extract returns the person mentions of a record in a stable order.
func Extract(rec records.Record) []Mention {
	ref := rec.Ref()
	var out []Mention
	add := func(raw, role string, order names.Order, group int, fill func(*Mention)) {
		for _, n := range names.Parse(raw, order) {
			if !isPerson(raw, n) {
				continue
			}
			m := Mention{Record: ref, Role: role, Raw: raw, Name: n, Group: group}
			if fill != nil {
				fill(&m)
			}
			out = append(out, m)
		}
	}

	switch r := rec.(type) {
	case records.Property:
		addr := r.SitusAddress
		if addr.IsZero() {
			addr = r.MailingAddress
		}
		observed := r.ScrapedAt
		if r.PurchaseDate != nil {
			observed = *r.PurchaseDate
		}
		add(r.OwnerName, "owner", names.OrderAuto, 0, func(m *Mention) {
			m.RawAddress = addr
			m.Address = names.NormalizeAddress(addr)
			m.City, m.State = normLower(addr.City), normLower(addr.State)
			m.ParcelID = r.ParcelID
			m.ObservedAt = observed
			m.PurchasedAt = r.PurchaseDate
		})
	case records.Document:
		fill := func(m *Mention) {
			m.ParcelID = r.ParcelID
			m.ObservedAt = r.RecordedDate
		}
		for i, g := range r.Grantors {
			add(g, "grantor", names.OrderAuto, i, fill)
		}
		for i, g := range r.Grantees {
			add(g, "grantee", names.OrderAuto, len(r.Grantors)+i, fill)
		}
	case records.CourtCase:
		for i, p := range r.Parties {
			role := strings.ToLower(strings.TrimSpace(p.Role))
			if role == "" {
				role = "party"
			}
			add(p.Name, role, names.OrderAuto, i, func(m *Mention) {
				m.ParcelID = r.ParcelID
				m.ObservedAt = r.FiledDate
			})
		}
	case records.Professional:
		add(r.Name, "registrant", names.OrderAuto, 0, func(m *Mention) {
			m.City, m.State = normLower(r.City), normLower(r.State)
			for _, p := range r.Phones {
				if p = names.NormalizePhone(p); p != "" {
					m.Phones = append(m.Phones, p)
				}
			}
			for _, e := range r.Emails {
				if e = names.NormalizeEmail(e); e != "" {
					m.Emails = append(m.Emails, e)
				}
			}
			if r.Company != "" || r.Title != "" {
				m.Profession = &records.Profession{
					Company: r.Company,
					Title:   r.Title,
					City:    r.City,
					State:   r.State,
					Source:  ref,
				}
			}
			m.ObservedAt = r.ScrapedAt
		})
	}
	return out
}

func normLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func professionKey(p records.Profession) string {
	return strings.Join([]string{
		normLower(p.Company), normLower(p.Title), normLower(p.City), normLower(p.State),
	}, "|")
}
