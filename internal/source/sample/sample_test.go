package sample

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/records-resolver/internal/source"
)

func TestSampleFixturesAreDeterministic(t *testing.T) {
	t.Parallel()

	a := New(5, nil)
	q := source.Query{Jurisdiction: "sangamon-il", JobID: "job-1"}

	first, err := a.FetchProperties(context.Background(), q)
	require.NoError(t, err)
	second, err := a.FetchProperties(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, first.Properties, 5)
	for i := range first.Properties {
		require.Equal(t, first.Properties[i].Ref(), second.Properties[i].Ref())
	}
	require.Equal(t, "SMITH JOHN & MARY", first.Properties[0].OwnerName)
	require.Equal(t, "sangamon-il", first.Properties[0].Jurisdiction)
}

func TestSampleDocumentsIncludeSatisfaction(t *testing.T) {
	t.Parallel()

	batch, err := New(0, nil).FetchDocuments(context.Background(), source.Query{Jurisdiction: "j"})
	require.NoError(t, err)
	types := map[string]bool{}
	for _, d := range batch.Documents {
		types[d.DocumentType] = true
	}
	require.True(t, types["mortgage"])
	require.True(t, types["satisfaction"])

	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent, err := New(0, nil).FetchDocuments(context.Background(), source.Query{Jurisdiction: "j", From: &from})
	require.NoError(t, err)
	require.Len(t, recent.Documents, 1)
}

func TestSampleRegistersForEveryPhase(t *testing.T) {
	t.Parallel()

	require.Contains(t, source.Kinds(), Kind)
	courts, err := New(0, nil).FetchCourtCases(context.Background(), source.Query{MaxRecords: 1})
	require.NoError(t, err)
	require.Len(t, courts.CourtCases, 1)
	pros, err := New(0, nil).FetchProfessionals(context.Background(), source.Query{})
	require.NoError(t, err)
	require.Len(t, pros.Professionals, 1)
}
