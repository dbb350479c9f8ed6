package names

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/records-resolver/internal/records"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   string
		order Order
		want  []string
	}{
		{"assessor caps last first", "SMITH JOHN", OrderAuto, []string{"john smith"}},
		{"joint owners share surname", "SMITH JOHN & MARY", OrderAuto, []string{"john smith", "mary smith"}},
		{"joint owners with and", "SMITH JOHN AND MARY", OrderAuto, []string{"john smith", "mary smith"}},
		{"comma with middle initial", "Smith, John J.", OrderAuto, []string{"john smith"}},
		{"initial first", "J. Smith", OrderAuto, []string{"j smith"}},
		{"first last mixed case", "John Smith", OrderAuto, []string{"john smith"}},
		{"suffix stripped", "SMITH JOHN JR", OrderAuto, []string{"john smith"}},
		{"trust qualifier first last", "JOHN A SMITH REVOCABLE TRUST", OrderAuto, []string{"john smith"}},
		{"trustee qualifier", "Smith, John TTEE", OrderAuto, []string{"john smith"}},
		{"diacritics", "José Núñez", OrderAuto, []string{"jose nunez"}},
		{"estate of", "ESTATE OF JOHN SMITH", OrderAuto, []string{"john smith"}},
		{"two full names", "SMITH JOHN & JONES MARY", OrderAuto, []string{"john smith", "mary jones"}},
		{"explicit order", "John Smith", OrderLastFirst, []string{"smith john"}},
		{"empty", "  ", OrderAuto, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			parsed := Parse(tc.raw, tc.order)
			var got []string
			for _, n := range parsed {
				got = append(got, n.Key())
				require.Equal(t, tc.raw, n.Raw)
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseKeepsQualifiersAndSuffix(t *testing.T) {
	t.Parallel()

	n, ok := ParsePrimary("SMITH JOHN III ET AL", OrderAuto)
	require.True(t, ok)
	require.Equal(t, "iii", n.Suffix)
	require.Contains(t, n.Qualifiers, "et al")
	require.Equal(t, "John Smith III", n.Display())
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Levenshtein("smith", "smith"))
	require.Equal(t, 1, Levenshtein("smith", "smyth"))
	require.Equal(t, 2, Levenshtein("book", "back"))
	require.Equal(t, 3, Levenshtein("", "abc"))
	require.True(t, WithinDistance("katherine", "catherine", 2))
	require.False(t, WithinDistance("bob", "robert", 2))
}

func TestFuzzyName(t *testing.T) {
	t.Parallel()

	john := Name{First: "john", Last: "smith"}
	require.True(t, FuzzyName(john, Name{First: "jon", Last: "smith"}, 2))
	require.True(t, FuzzyName(john, Name{First: "j", Last: "smith"}, 2))
	require.False(t, FuzzyName(john, Name{First: "mary", Last: "smith"}, 2))
	require.False(t, FuzzyName(john, Name{First: "m", Last: "smith"}, 2))
	require.True(t, FuzzyName(john, Name{First: "john", Last: "smyth"}, 2))
	require.False(t, FuzzyName(john, Name{First: "john", Last: "jones"}, 2))
}

func TestNicknames(t *testing.T) {
	t.Parallel()

	require.True(t, NicknameEquivalent("bob", "robert"))
	require.True(t, NicknameEquivalent("bill", "will"))
	require.False(t, NicknameEquivalent("bob", "william"))
	require.Equal(t, "margaret", CanonicalFirst("peggy"))
	require.Equal(t, "zelda", CanonicalFirst("zelda"))
}

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	a := NormalizeAddress(records.Address{Street: "123 North Main Street Apt 4B", Zip: "60601-1234"})
	require.Equal(t, Address{Street: "123 n main st", Unit: "4b", Zip: "60601"}, a)

	b := NormalizeAddress(records.Address{Street: "123 N. Main St.", Unit: "#4B", Zip: "60601"})
	require.Equal(t, a.Full(), b.Full())

	c := NormalizeAddress(records.Address{Street: "123 N Main St", Unit: "7", Zip: "60601"})
	require.NotEqual(t, a.Full(), c.Full())
	require.Equal(t, a.StreetZip(), c.StreetZip())
	require.Empty(t, Address{}.Full())
}

func TestNormalizeContacts(t *testing.T) {
	t.Parallel()

	require.Equal(t, "3125550100", NormalizePhone("+1 (312) 555-0100"))
	require.Equal(t, "jane@example.com", NormalizeEmail(" Jane@Example.COM "))
}
