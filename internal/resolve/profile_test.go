package resolve

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/records-resolver/internal/records"
)

func evidence(confidences []float64) []records.MatchEvidence {
	out := make([]records.MatchEvidence, 0, len(confidences))
	for i, c := range confidences {
		out = append(out, records.MatchEvidence{
			Record:     records.RecordRef{Kind: records.KindProperty, Jurisdiction: "x", NaturalKey: string(rune('a' + i%26))},
			Layer:      records.LayerSeed,
			Confidence: c,
		})
	}
	return out
}

func TestMaxPolicyNeverDropsWithMoreEvidence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("adding a match never lowers the max score", prop.ForAll(
		func(existing []float64, next float64) bool {
			before := PolicyMax.Score(evidence(existing))
			after := PolicyMax.Score(evidence(append(existing, next)))
			return after >= before
		},
		gen.SliceOf(gen.Float64Range(0, 100)),
		gen.Float64Range(0, 100),
	))

	properties.Property("mean lies between min and max", prop.ForAll(
		func(confidences []float64) bool {
			if len(confidences) == 0 {
				return PolicyMean.Score(nil) == 0
			}
			lo, hi := confidences[0], confidences[0]
			for _, c := range confidences {
				lo, hi = min(lo, c), max(hi, c)
			}
			mean := PolicyMean.Score(evidence(confidences))
			return mean >= lo-1e-9 && mean <= hi+1e-9
		},
		gen.SliceOf(gen.Float64Range(0, 100)),
	))

	properties.Property("merged confidence is the larger of both under max", prop.ForAll(
		func(a, b float64) bool {
			survivor := records.Entity{ID: "s", Matches: evidence([]float64{a})}
			loser := records.Entity{ID: "l", Matches: []records.MatchEvidence{{
				Record:     records.RecordRef{Kind: records.KindDocument, Jurisdiction: "x", NaturalKey: "d"},
				Layer:      records.LayerFuzzyName,
				Confidence: b,
			}}}
			mergeProfiles(&survivor, loser, PolicyMax, time.Unix(0, 0))
			return survivor.ConfidenceScore == max(a, b) && survivor.SourceCount == 2
		},
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyMax, p)
	p, err = ParsePolicy("mean")
	require.NoError(t, err)
	require.Equal(t, PolicyMean, p)
	_, err = ParsePolicy("avg")
	require.Error(t, err)
}

func TestAddressesStayNewestFirst(t *testing.T) {
	t.Parallel()

	e := records.Entity{ID: "a"}
	first := time.Date(2010, 3, 1, 0, 0, 0, 0, time.UTC)
	moved := time.Date(2019, 8, 15, 0, 0, 0, 0, time.UTC)
	addAddress(&e, records.EntityAddress{Address: cabin, Normalized: "cabin", ValidFrom: first})
	addAddress(&e, records.EntityAddress{Address: home, Normalized: "home", ValidFrom: moved})
	addAddress(&e, records.EntityAddress{Address: cabin, Normalized: "cabin", ValidFrom: moved})

	require.Len(t, e.Addresses, 2)
	require.Equal(t, "home", e.Addresses[0].Normalized)
	require.Nil(t, e.Addresses[0].ValidTo)
	require.Equal(t, first, e.Addresses[1].ValidFrom)
	require.NotNil(t, e.Addresses[1].ValidTo)
	require.Equal(t, moved, *e.Addresses[1].ValidTo)
}

func TestAgeEstimateUsesEarliestPurchase(t *testing.T) {
	t.Parallel()

	bought := testNow.AddDate(-30, 0, -1)
	m := Mention{
		Record:      records.RecordRef{Kind: records.KindProperty, Jurisdiction: "x", NaturalKey: "p"},
		Raw:         "SMITH JOHN",
		PurchasedAt: &bought,
	}
	m.Name.First, m.Name.Last = "john", "smith"
	e := newEntity("a", m, records.LayerSeed, 75, PolicyMax, testNow)
	require.Equal(t, 55, e.AgeEstimate)
	require.Equal(t, "John Smith", e.CanonicalName)
	require.Equal(t, []string{"c:smith|john", "n:smith|j"}, e.BlockingKeys)
}
