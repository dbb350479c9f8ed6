package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/source"
	"github.com/JakeFAU/records-resolver/internal/storage/memory"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", s.n.Add(1)), nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeAdapter struct {
	properties source.Batch
	documents  source.Batch
	docErr     error
	courtPanic bool
	calls      sync.Map
}

func (f *fakeAdapter) FetchProperties(_ context.Context, q source.Query) (source.Batch, error) {
	f.calls.Store(source.PhaseProperties, q)
	return f.properties, nil
}

func (f *fakeAdapter) FetchDocuments(context.Context, source.Query) (source.Batch, error) {
	f.calls.Store(source.PhaseDocuments, true)
	return f.documents, f.docErr
}

func (f *fakeAdapter) FetchCourtCases(context.Context, source.Query) (source.Batch, error) {
	if f.courtPanic {
		panic("court portal parser exploded")
	}
	return source.Batch{}, fmt.Errorf("court: %w", records.ErrUnsupported)
}

func (f *fakeAdapter) FetchProfessionals(context.Context, source.Query) (source.Batch, error) {
	return source.Batch{}, fmt.Errorf("registry: %w", records.ErrUnsupported)
}

// flakyStore wraps the memory store and fails selected upserts.
type flakyStore struct {
	*memory.Store
	failParcel  string
	unavailable bool
}

func (s *flakyStore) UpsertProperty(ctx context.Context, p records.Property) (records.UpsertOutcome, error) {
	if s.unavailable {
		return 0, fmt.Errorf("dial tcp: %w", records.ErrStoreUnavailable)
	}
	if p.ParcelID == s.failParcel {
		return 0, errors.New("value too long for column owner_name")
	}
	return s.Store.UpsertProperty(ctx, p)
}

func properties(jurisdiction string, parcels ...string) []records.Property {
	out := make([]records.Property, 0, len(parcels))
	for _, p := range parcels {
		out = append(out, records.Property{Jurisdiction: jurisdiction, ParcelID: p, OwnerName: "OWNER " + p})
	}
	return out
}

func newJob(t *testing.T, adapter source.Adapter, store Store, opts records.Options, cfg Config) *Job {
	t.Helper()
	job, err := New(source.Jurisdiction{ID: "cook-il", Adapter: adapter}, store, &seqIDs{}, fakeClock{now: time.Unix(500, 0).UTC()}, opts, cfg, zap.NewNop())
	require.NoError(t, err)
	return job
}

func TestJobRunCompletesAndPersistsResult(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	adapter := &fakeAdapter{
		properties: source.Batch{Properties: properties("cook-il", "P1", "P2")},
		documents: source.Batch{Documents: []records.Document{
			{Jurisdiction: "cook-il", DocumentNumber: "D1", Grantors: []string{"A"}},
		}},
	}
	job := newJob(t, adapter, store, records.AllPhases(), Config{})
	require.Equal(t, records.StatusIdle, job.Snapshot().Status)

	result, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, records.StatusCompleted, result.Status)
	require.Equal(t, records.JobCounters{RecordsProcessed: 3, RecordsCreated: 3}, result.Counters)
	require.Empty(t, result.Errors)
	require.Equal(t, time.Unix(500, 0).UTC(), result.StartedAt)

	stored, err := store.GetJobResult(context.Background(), result.JobID)
	require.NoError(t, err)
	require.Equal(t, result, stored)

	_, err = job.Run(context.Background())
	require.Error(t, err)
}

func TestJobRunTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	adapter := &fakeAdapter{properties: source.Batch{Properties: properties("cook-il", "P1", "P2", "P3")}}
	opts := records.Options{Properties: true}

	first, err := newJob(t, adapter, store, opts, Config{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, first.Counters.RecordsCreated)

	second, err := newJob(t, adapter, store, opts, Config{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, records.JobCounters{RecordsProcessed: 3, RecordsUpdated: 3}, second.Counters)

	all, err := store.QueryRecords(context.Background(), records.Filter{Kind: records.KindProperty})
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestJobIsolatesRejectedRecords(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	adapter := &fakeAdapter{properties: source.Batch{
		Properties: properties("cook-il", "P1", "P2", "P3", "P4"),
		Rejects: []*records.SourceFormatError{
			{Source: "cook-il/properties", Key: "P5", Field: "owner_name", Reason: "required field missing"},
		},
	}}
	result, err := newJob(t, adapter, store, records.Options{Properties: true}, Config{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, records.StatusCompleted, result.Status)
	require.Equal(t, 4, result.Counters.RecordsProcessed)
	require.Equal(t, 1, result.Counters.RecordsRejected)
	require.Len(t, result.Errors, 1)
	require.Equal(t, "properties", result.Errors[0].Context)
}

func TestJobContinuesAfterAdapterAndWriteFailures(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Store: memory.NewStore(), failParcel: "P2"}
	adapter := &fakeAdapter{
		properties: source.Batch{Properties: properties("cook-il", "P1", "P2", "P3")},
		docErr:     &records.HTTPStatusError{Code: 503, Body: "maintenance"},
	}
	result, err := newJob(t, adapter, store, records.AllPhases(), Config{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, records.StatusCompleted, result.Status)
	require.Equal(t, 2, result.Counters.RecordsProcessed)
	require.Len(t, result.Errors, 2)
	require.Contains(t, result.Errors[0].Message, "value too long")
	require.Equal(t, "documents", result.Errors[1].Context)
}

func TestJobFailsWhenStoreUnavailable(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Store: memory.NewStore(), unavailable: true}
	adapter := &fakeAdapter{properties: source.Batch{Properties: properties("cook-il", "P1")}}
	result, err := newJob(t, adapter, store, records.AllPhases(), Config{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, records.StatusFailed, result.Status)
	require.NotEmpty(t, result.Errors)
	_, documentsRan := adapter.calls.Load(source.PhaseDocuments)
	require.False(t, documentsRan)
}

func TestJobRecoversPanics(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{courtPanic: true}
	result, err := newJob(t, adapter, memory.NewStore(), records.Options{CourtCases: true}, Config{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, records.StatusFailed, result.Status)
	require.Contains(t, result.Errors[0].Message, "panic")
}

func TestJobConcurrentPhasesPassQuery(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{
		properties: source.Batch{Properties: properties("cook-il", "P1")},
		documents:  source.Batch{Documents: []records.Document{{Jurisdiction: "cook-il", DocumentNumber: "D1"}}},
	}
	opts := records.Options{Properties: true, Documents: true, From: &from, MaxRecords: 10}
	job := newJob(t, adapter, memory.NewStore(), opts, Config{ConcurrentPhases: true})
	result, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Counters.RecordsCreated)

	raw, ok := adapter.calls.Load(source.PhaseProperties)
	require.True(t, ok)
	q := raw.(source.Query)
	require.Equal(t, "cook-il", q.Jurisdiction)
	require.Equal(t, job.ID(), q.JobID)
	require.Equal(t, 10, q.MaxRecords)
	require.Equal(t, &from, q.From)
}
