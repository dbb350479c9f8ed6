// Package names normalizes person names and postal addresses as they appear in
// public records so mentions from different sources can be compared.
package names

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Order tells the parser how a source writes names.
type Order int

// Name orders.
const (
	// OrderAuto treats comma or all-caps names as LAST FIRST, else First Last.
	OrderAuto Order = iota
	OrderLastFirst
	OrderFirstLast
)

// Name is a parsed, lowercase person name.
type Name struct {
	First      string
	Middle     string
	Last       string
	Suffix     string
	Qualifiers []string
	Raw        string
}

// Key is the comparison form: first and last name, middle initials dropped.
func (n Name) Key() string {
	if n.First == "" {
		return n.Last
	}
	return n.First + " " + n.Last
}

// Display renders the name in title case for canonical names.
func (n Name) Display() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{n.First, n.Middle, n.Last} {
		if p == "" {
			continue
		}
		parts = append(parts, titleWord(p))
	}
	if n.Suffix != "" {
		parts = append(parts, strings.ToUpper(n.Suffix))
	}
	return strings.Join(parts, " ")
}

// IsInitial reports whether the first name is a single letter.
func (n Name) IsInitial() bool {
	return len([]rune(n.First)) == 1
}

// Empty reports whether parsing produced no usable name.
func (n Name) Empty() bool {
	return n.Last == ""
}

var (
	punctRe      = regexp.MustCompile(`[^a-z0-9,&/' ]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	jointRe      = regexp.MustCompile(`\s*(?:&|\band\b|/)\s*`)
)

var suffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
	"md": true, "phd": true, "esq": true, "cpa": true, "dds": true,
}

// Multi-word qualifiers are matched before single tokens.
var phraseQualifiers = []string{
	"revocable living trust", "living trust", "revocable trust", "family trust",
	"irrevocable trust", "estate of", "et al", "et ux", "et vir", "life estate",
}

var tokenQualifiers = map[string]bool{
	"trust": true, "trustee": true, "trustees": true, "ttee": true, "ttees": true, "tr": true,
	"estate": true, "llc": true, "inc": true, "corp": true, "co": true, "lp": true, "ltd": true,
	"etal": true, "etux": true, "jtwros": true, "jt": true, "h/w": true, "le": true, "deceased": true,
	"dec": true, "decd": true,
}

// Parse splits a recorded owner or party string into one or more names.
// Joint owners ("SMITH JOHN & MARY") yield one Name per person; members
// listed without a surname inherit the first owner's surname.
func Parse(raw string, order Order) []Name {
	cleaned, qualifiers, trustLike := clean(raw)
	if cleaned == "" {
		return nil
	}
	if order == OrderAuto {
		order = detectOrder(raw, cleaned, trustLike)
	}

	segments := jointRe.Split(cleaned, -1)
	out := make([]Name, 0, len(segments))
	var primary Name
	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		var n Name
		if i > 0 && !primary.Empty() && inheritsSurname(seg) {
			n = parseGiven(strings.Fields(seg))
			n.Last = primary.Last
		} else {
			n = parseSegment(seg, order)
		}
		if n.Empty() {
			continue
		}
		n.Raw = raw
		n.Qualifiers = qualifiers
		if primary.Empty() {
			primary = n
		}
		out = append(out, n)
	}
	return out
}

// ParsePrimary returns the first parsed name, or false when none parsed.
func ParsePrimary(raw string, order Order) (Name, bool) {
	parsed := Parse(raw, order)
	if len(parsed) == 0 {
		return Name{}, false
	}
	return parsed[0], true
}

func clean(raw string) (string, []string, bool) {
	s := strings.ToLower(stripDiacritics(strings.TrimSpace(raw)))
	s = strings.ReplaceAll(s, ".", " ")
	s = punctRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = " " + strings.TrimSpace(s) + " "

	var qualifiers []string
	trustLike := false
	for _, phrase := range phraseQualifiers {
		if strings.Contains(s, " "+phrase+" ") {
			s = strings.ReplaceAll(s, " "+phrase+" ", " ")
			qualifiers = append(qualifiers, phrase)
			if strings.Contains(phrase, "trust") || phrase == "estate of" {
				trustLike = true
			}
		}
	}
	tokens := strings.Fields(s)
	kept := tokens[:0]
	for _, tok := range tokens {
		bare := strings.Trim(tok, ",'")
		if tokenQualifiers[bare] {
			qualifiers = append(qualifiers, bare)
			if bare == "trust" || bare == "trustee" || bare == "ttee" {
				trustLike = true
			}
			continue
		}
		kept = append(kept, tok)
	}
	out := strings.TrimSpace(strings.Join(kept, " "))
	out = strings.Trim(out, ",& ")
	return out, qualifiers, trustLike
}

func detectOrder(raw, cleaned string, trustLike bool) Order {
	if strings.Contains(cleaned, ",") {
		return OrderLastFirst
	}
	if trustLike {
		return OrderFirstLast
	}
	if isUpper(raw) {
		return OrderLastFirst
	}
	return OrderFirstLast
}

func inheritsSurname(seg string) bool {
	tokens := nonSuffixTokens(strings.Fields(strings.ReplaceAll(seg, ",", " ")))
	if len(tokens) <= 1 {
		return true
	}
	// "MARY J" carries a middle initial, not a surname.
	return len(tokens) == 2 && len([]rune(tokens[1])) == 1
}

func parseSegment(seg string, order Order) Name {
	if before, after, ok := strings.Cut(seg, ","); ok {
		last := nonSuffixTokens(strings.Fields(before))
		n := parseGiven(strings.Fields(after))
		if len(last) > 0 {
			n.Last = strings.Join(last, " ")
		}
		if n.Suffix == "" {
			n.Suffix = firstSuffix(strings.Fields(before))
		}
		return n
	}

	tokens := strings.Fields(seg)
	suffix := firstSuffix(tokens)
	tokens = nonSuffixTokens(tokens)
	if len(tokens) == 0 {
		return Name{}
	}
	if len(tokens) == 1 {
		return Name{Last: tokens[0], Suffix: suffix}
	}
	var n Name
	if order == OrderLastFirst {
		n = parseGiven(tokens[1:])
		n.Last = tokens[0]
	} else {
		n = parseGiven(tokens[:len(tokens)-1])
		n.Last = tokens[len(tokens)-1]
	}
	if n.Suffix == "" {
		n.Suffix = suffix
	}
	return n
}

func parseGiven(tokens []string) Name {
	n := Name{Suffix: firstSuffix(tokens)}
	given := nonSuffixTokens(tokens)
	if len(given) == 0 {
		return n
	}
	n.First = given[0]
	if len(given) > 1 {
		n.Middle = strings.Join(given[1:], " ")
	}
	return n
}

func nonSuffixTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.Trim(t, ",")
		if t == "" || suffixes[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

func firstSuffix(tokens []string) string {
	for _, t := range tokens {
		t = strings.Trim(t, ",")
		if suffixes[t] {
			return t
		}
	}
	return ""
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

// stripDiacritics decomposes to NFD and drops combining marks.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func titleWord(w string) string {
	parts := strings.Split(w, " ")
	for i, p := range parts {
		r := []rune(p)
		if len(r) == 0 {
			continue
		}
		r[0] = unicode.ToUpper(r[0])
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}
