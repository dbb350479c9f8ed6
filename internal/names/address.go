package names

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/records-resolver/internal/records"
)

var streetAbbrev = map[string]string{
	"street": "st", "avenue": "ave", "av": "ave", "road": "rd", "drive": "dr",
	"lane": "ln", "boulevard": "blvd", "court": "ct", "place": "pl",
	"circle": "cir", "highway": "hwy", "parkway": "pkwy", "terrace": "ter",
	"north": "n", "south": "s", "east": "e", "west": "w",
	"northeast": "ne", "northwest": "nw", "southeast": "se", "southwest": "sw",
}

var (
	unitRe    = regexp.MustCompile(`(?i)\s*(?:#|\bapt\b|\bapartment\b|\bunit\b|\bste\b|\bsuite\b)\.?\s*([a-z0-9-]+)\s*$`)
	addrPunct = regexp.MustCompile(`[^a-z0-9 ]+`)
	digitsRe  = regexp.MustCompile(`\D`)
)

// Address is the comparison form of a postal address.
type Address struct {
	Street string
	Unit   string
	Zip    string
}

// Full is the exact-address comparison key.
func (a Address) Full() string {
	if a.Street == "" {
		return ""
	}
	return a.Street + "|" + a.Unit + "|" + a.Zip
}

// StreetZip ignores the unit.
func (a Address) StreetZip() string {
	if a.Street == "" || a.Zip == "" {
		return ""
	}
	return a.Street + "|" + a.Zip
}

// NormalizeAddress lowercases, abbreviates street types and directionals, pulls
// a trailing unit out of the street line, and truncates ZIP+4.
func NormalizeAddress(a records.Address) Address {
	street := stripDiacritics(strings.TrimSpace(a.Street))
	unit := strings.TrimSpace(a.Unit)
	if m := unitRe.FindStringSubmatch(street); m != nil {
		if unit == "" {
			unit = m[1]
		}
		street = street[:len(street)-len(m[0])]
	}
	street = strings.ToLower(street)
	street = addrPunct.ReplaceAllString(street, " ")
	tokens := strings.Fields(street)
	for i, tok := range tokens {
		if short, ok := streetAbbrev[tok]; ok {
			tokens[i] = short
		}
	}
	unit = strings.ToLower(addrPunct.ReplaceAllString(strings.ToLower(unit), ""))
	unit = strings.TrimPrefix(unit, "apt")
	unit = strings.TrimPrefix(unit, "unit")
	zip := digitsRe.ReplaceAllString(a.Zip, "")
	if len(zip) > 5 {
		zip = zip[:5]
	}
	return Address{Street: strings.Join(tokens, " "), Unit: unit, Zip: zip}
}

// NormalizePhone keeps the last ten digits.
func NormalizePhone(p string) string {
	d := digitsRe.ReplaceAllString(p, "")
	if len(d) > 10 {
		d = d[len(d)-10:]
	}
	return d
}

// NormalizeEmail lowercases and trims.
func NormalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
