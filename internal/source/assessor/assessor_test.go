package assessor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/source"
)

type fakeRows struct {
	rows   []source.Row
	err    error
	params source.Params
}

func (f *fakeRows) FetchRows(_ context.Context, params source.Params) ([]source.Row, error) {
	f.params = params
	return f.rows, f.err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestFetchPropertiesMapsRowsAndRejectsMalformed(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := &fakeRows{rows: []source.Row{
		{
			"PIN":           "14-22-301-007",
			"owner_name":    "SMITH JOHN & MARY",
			"situs_street":  "412 Oak St",
			"situs_zip":     "62704",
			"market_value":  "$1,250,000",
			"purchase_date": "2001-06-14",
		},
		{"PIN": "14-22-301-008"},
		{
			"PIN":            "14-22-301-009",
			"owner_name":     "Robert Chen",
			"situs_street":   "5 Hillcrest Ct",
			"mailing_street": "PO Box 12",
			"mailing_zip":    "62711",
		},
	}}
	a := New(rows, "cook-il/properties", source.SourceConfig{
		Dataset: "parcels",
		Fields:  map[string]string{"parcel_id": "PIN"},
	}, fixedClock{now: now}, zap.NewNop())

	batch, err := a.FetchProperties(context.Background(), source.Query{Jurisdiction: "cook-il", JobID: "job-1"})
	require.NoError(t, err)
	require.Len(t, batch.Properties, 2)
	require.Len(t, batch.Rejects, 1)
	require.Equal(t, "owner_name", batch.Rejects[0].Field)
	require.Equal(t, "14-22-301-008", batch.Rejects[0].Key)
	require.Equal(t, "parcels", rows.params.Dataset)

	first := batch.Properties[0]
	require.Equal(t, "cook-il", first.Jurisdiction)
	require.Equal(t, int64(1250000), first.MarketValue)
	require.Equal(t, first.SitusAddress, first.MailingAddress)
	require.Equal(t, "job-1", first.JobID)
	require.Equal(t, now, first.ScrapedAt)
	require.NotNil(t, first.PurchaseDate)

	second := batch.Properties[1]
	require.Equal(t, "PO Box 12", second.MailingAddress.Street)
}

func TestFetchPropertiesHonorsCap(t *testing.T) {
	t.Parallel()

	rows := &fakeRows{rows: []source.Row{
		{"parcel_id": "1", "owner_name": "A B"},
		{"parcel_id": "2", "owner_name": "C D"},
		{"parcel_id": "3", "owner_name": "E F"},
	}}
	a := New(rows, "x/properties", source.SourceConfig{}, nil, nil)
	batch, err := a.FetchProperties(context.Background(), source.Query{MaxRecords: 2})
	require.NoError(t, err)
	require.Len(t, batch.Properties, 2)
	require.Equal(t, 2, rows.params.Limit)
}

func TestFetchPropertiesPropagatesSourceError(t *testing.T) {
	t.Parallel()

	a := New(&fakeRows{err: records.ErrNetwork}, "x/properties", source.SourceConfig{}, nil, nil)
	_, err := a.FetchProperties(context.Background(), source.Query{})
	require.True(t, errors.Is(err, records.ErrNetwork))
}
