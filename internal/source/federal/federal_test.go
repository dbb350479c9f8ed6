package federal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/records-resolver/internal/source"
)

type fakeRows struct{ rows []source.Row }

func (f fakeRows) FetchRows(context.Context, source.Params) ([]source.Row, error) {
	return f.rows, nil
}

func TestFetchProfessionalsMapsContacts(t *testing.T) {
	t.Parallel()

	a := New(fakeRows{rows: []source.Row{
		{
			"crd":     float64(4410923),
			"name":    "Robert Chen",
			"company": "Chen Orthopedic Associates",
			"title":   "Managing Partner",
			"city":    "Springfield",
			"state":   "IL",
			"phones":  []any{"(217) 555-0142"},
			"emails":  "rchen@chenortho.example",
		},
		{"crd": "1"},
	}}, "us/professionals", source.SourceConfig{Fields: map[string]string{"registry_id": "crd"}}, nil, nil)

	batch, err := a.FetchProfessionals(context.Background(), source.Query{Jurisdiction: "us"})
	require.NoError(t, err)
	require.Len(t, batch.Professionals, 1)
	require.Len(t, batch.Rejects, 1)

	p := batch.Professionals[0]
	require.Equal(t, "4410923", p.RegistryID)
	require.Equal(t, []string{"(217) 555-0142"}, p.Phones)
	require.Equal(t, []string{"rchen@chenortho.example"}, p.Emails)
	require.Equal(t, "us", p.Ref().Jurisdiction)
}
