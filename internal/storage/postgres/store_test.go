package postgres

import (
	"context"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/records-resolver/internal/records"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock, nil), mock
}

func TestUpsertPropertyReportsOutcome(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	scraped := time.Unix(1_700_000_000, 0).UTC()
	p := records.Property{Jurisdiction: "cook-il", ParcelID: "14-22-301-007", OwnerName: "SMITH JOHN", JobID: "job-1", ScrapedAt: scraped}

	mock.ExpectQuery("INSERT INTO properties").
		WithArgs("cook-il", "14-22-301-007", "14-22-301-007", "job-1", scraped, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO properties").
		WithArgs("cook-il", "14-22-301-007", "14-22-301-007", "job-1", scraped, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	outcome, err := store.UpsertProperty(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, records.OutcomeCreated, outcome)

	outcome, err = store.UpsertProperty(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, records.OutcomeUpdated, outcome)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = store.UpsertProperty(context.Background(), records.Property{Jurisdiction: "cook-il"})
	require.Error(t, err)
}

func TestConnectionFailuresAreStoreUnavailable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO documents").
		WillReturnError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

	_, err := store.UpsertDocument(context.Background(), records.Document{Jurisdiction: "cook-il", DocumentNumber: "D1"})
	require.ErrorIs(t, err, records.ErrStoreUnavailable)
}

func TestSaveJobResultIsAppendOnly(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	result := records.JobResult{JobID: "job-1", JurisdictionID: "cook-il", Status: records.StatusCompleted}
	mock.ExpectExec("INSERT INTO job_results").
		WithArgs("job-1", "cook-il", "completed", result.StartedAt, result.CompletedAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO job_results").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	require.NoError(t, store.SaveJobResult(context.Background(), result))
	err := store.SaveJobResult(context.Background(), result)
	require.ErrorContains(t, err, "already recorded")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntityFollowsRedirects(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("WITH RECURSIVE chain").
		WithArgs("old", maxRedirectHops).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("live"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload, score FROM entities WHERE id = $1")).
		WithArgs("live").
		WillReturnRows(pgxmock.NewRows([]string{"payload", "score"}).
			AddRow([]byte(`{"id":"live","canonical_name":"John Smith"}`), 42.5))

	e, err := store.GetEntity(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, "live", e.ID)
	require.Equal(t, "John Smith", e.CanonicalName)
	require.InDelta(t, 42.5, e.Score, 1e-9)

	mock.ExpectQuery("WITH RECURSIVE chain").
		WithArgs("ghost", maxRedirectHops).
		WillReturnError(pgx.ErrNoRows)
	_, err = store.GetEntity(context.Background(), "ghost")
	require.ErrorIs(t, err, records.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeEntitiesRunsInOneTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	survivor := records.Entity{ID: "b", CanonicalName: "John Smith", BlockingKeys: []string{"smith|j|62704"}}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT redirect_to FROM entities").WithArgs("a").
		WillReturnRows(pgxmock.NewRows([]string{"redirect_to"}).AddRow((*string)(nil)))
	mock.ExpectQuery("SELECT redirect_to FROM entities").WithArgs("b").
		WillReturnRows(pgxmock.NewRows([]string{"redirect_to"}).AddRow((*string)(nil)))
	mock.ExpectExec("INSERT INTO entities").
		WithArgs("b", nil, pgxmock.AnyArg(), 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM entity_keys").WithArgs("b").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO entity_keys").
		WithArgs([]string{"smith|j|62704"}, "b").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE entities SET redirect_to").WithArgs("b", "a").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM entity_keys").WithArgs("a").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("UPDATE record_links").WithArgs("b", "a").WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec("INSERT INTO signals").WithArgs("b", "a").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM signals").WithArgs("a").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO household_edges").WithArgs("b", "a").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM household_edges").WithArgs("a").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.MergeEntities(context.Background(), survivor, "a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeEntitiesRollsBackWhenLoserAlreadyMerged(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	elsewhere := "z"
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT redirect_to FROM entities").WithArgs("a").
		WillReturnRows(pgxmock.NewRows([]string{"redirect_to"}).AddRow(&elsewhere))
	mock.ExpectRollback()

	err := store.MergeEntities(context.Background(), records.Entity{ID: "b"}, "a")
	require.ErrorContains(t, err, "already merged")
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.MergeEntities(context.Background(), records.Entity{ID: "a"}, "a"))
}

func TestQueryRecordsDecodesPayloads(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM documents WHERE jurisdiction = $1 AND parcel_id = $2 ORDER BY jurisdiction, natural_key LIMIT $3")).
		WithArgs("cook-il", "P1", 5).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).
			AddRow([]byte(`{"jurisdiction":"cook-il","document_number":"2024-0118870","document_type":"satisfaction","parcel_id":"P1"}`)))

	got, err := store.QueryRecords(context.Background(), records.Filter{
		Kind:         records.KindDocument,
		Jurisdiction: "cook-il",
		ParcelID:     "P1",
		Limit:        5,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	doc, ok := got[0].(records.Document)
	require.True(t, ok)
	require.Equal(t, "satisfaction", doc.DocumentType)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = store.QueryRecords(context.Background(), records.Filter{Kind: "deed"})
	require.Error(t, err)
}

func TestRecordQueryBuildsFilters(t *testing.T) {
	t.Parallel()

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, args := recordQuery("properties", records.Filter{JobID: "job-9", Since: since}, 0)
	require.Equal(t, "SELECT payload FROM properties WHERE job_id = $1 AND scraped_at >= $2 ORDER BY jurisdiction, natural_key", sql)
	require.Equal(t, []any{"job-9", since}, args)

	sql, args = recordQuery("court_cases", records.Filter{}, 0)
	require.Equal(t, "SELECT payload FROM court_cases ORDER BY jurisdiction, natural_key", sql)
	require.Empty(t, args)
}

func TestListEntitiesWithoutLimit(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT payload, score FROM entities WHERE redirect_to IS NULL").
		WithArgs(nil).
		WillReturnRows(pgxmock.NewRows([]string{"payload", "score"}).
			AddRow([]byte(`{"id":"a"}`), 0.0).
			AddRow([]byte(`{"id":"b"}`), 12.0))

	list, err := store.ListEntities(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.InDelta(t, 12.0, list[1].Score, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveReviewDeletesByMention(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ref := records.RecordRef{Kind: records.KindDocument, Jurisdiction: "cook-il", NaturalKey: "D1"}
	mock.ExpectExec("DELETE FROM review_queue").
		WithArgs("document", "cook-il", "D1", "grantee:john smith").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.ResolveReview(context.Background(), ref, "grantee:john smith"))
	require.NoError(t, mock.ExpectationsWereMet())
}
