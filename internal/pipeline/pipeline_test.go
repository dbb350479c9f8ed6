package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	memorypublisher "github.com/JakeFAU/records-resolver/internal/publisher/memory"
	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/resolve"
	"github.com/JakeFAU/records-resolver/internal/signals"
	"github.com/JakeFAU/records-resolver/internal/storage/memory"
)

const topic = "entity-scores"

var testNow = time.Date(2024, time.September, 1, 9, 0, 0, 0, time.UTC)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("e-%03d", s.n), nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type harness struct {
	store    *memory.Store
	pub      *memorypublisher.Publisher
	pipeline *Pipeline
}

func newHarness(t *testing.T) harness {
	t.Helper()
	store := memory.NewStore()
	clock := fixedClock{t: testNow}
	engine, err := resolve.New(store, &seqIDs{}, clock, resolve.Config{}, nil)
	require.NoError(t, err)
	scorer, err := signals.NewScorer(signals.ScoringConfig{})
	require.NoError(t, err)
	pub := memorypublisher.New()
	p := New(store, engine, signals.Defaults(signals.Thresholds{}), scorer, pub, topic, clock, nil)
	return harness{store: store, pub: pub, pipeline: p}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (h harness) upsert(t *testing.T, recs ...records.Record) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range recs {
		var err error
		switch r := rec.(type) {
		case records.Property:
			_, err = h.store.UpsertProperty(ctx, r)
		case records.Document:
			_, err = h.store.UpsertDocument(ctx, r)
		case records.CourtCase:
			_, err = h.store.UpsertCourtCase(ctx, r)
		}
		require.NoError(t, err)
	}
}

func TestMortgageSatisfactionRaisesScoreAndPublishes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	purchased := day(2019, time.June, 14)
	h.upsert(t,
		records.Property{
			Jurisdiction:   "sangamon-il",
			ParcelID:       "14-22-301-007",
			OwnerName:      "SMITH JOHN",
			MailingAddress: records.Address{Street: "1420 Maple Ave", City: "Springfield", State: "IL", Zip: "62704"},
			MarketValue:    610_000,
			PurchaseDate:   &purchased,
			JobID:          "job-1",
			ScrapedAt:      testNow,
		},
		records.Document{
			Jurisdiction:   "sangamon-il",
			DocumentNumber: "2019-0061423",
			DocumentType:   "MORTGAGE",
			RecordedDate:   purchased,
			Grantors:       []string{"SMITH JOHN"},
			Grantees:       []string{"FIRST NATIONAL BANK"},
			ParcelID:       "14-22-301-007",
			JobID:          "job-1",
			ScrapedAt:      testNow,
		},
	)

	first, err := h.pipeline.ProcessJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, first.Resolution.Entities, 1)
	owner := first.Resolution.Entities[0]
	require.Zero(t, first.ScoreChanges)
	require.Empty(t, h.pub.Messages())

	// The satisfaction names only the lender; the owner is found through the parcel.
	h.upsert(t, records.Document{
		Jurisdiction:   "sangamon-il",
		DocumentNumber: "2024-0118870",
		DocumentType:   "SATISFACTION",
		RecordedDate:   day(2024, time.August, 9),
		Grantors:       []string{"FIRST NATIONAL BANK"},
		ParcelID:       "14-22-301-007",
		JobID:          "job-2",
		ScrapedAt:      testNow,
	})

	second, err := h.pipeline.ProcessJob(ctx, "job-2")
	require.NoError(t, err)
	require.Empty(t, second.Errors)
	require.Equal(t, 1, second.Rescored)
	require.Equal(t, 1, second.NewSignals)
	require.Equal(t, 1, second.ScoreChanges)

	sigs, err := h.store.ListSignals(ctx, owner)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	require.Equal(t, records.SignalMortgageSatisfied, sigs[0].Type)
	require.Equal(t, day(2024, time.September, 8), *sigs[0].WindowStart)
	require.Len(t, sigs[0].Evidence, 2)

	entity, err := h.store.GetEntity(ctx, owner)
	require.NoError(t, err)
	require.InDelta(t, 60, entity.Score, 1e-9)

	published := h.pub.Topic(topic)
	require.Len(t, published, 1)
	event, ok := published[0].(ScoreChanged)
	require.True(t, ok)
	require.Equal(t, owner, event.EntityID)
	require.Zero(t, event.PreviousScore)
	require.Greater(t, event.Score, event.PreviousScore)
	require.Equal(t, []records.SignalType{records.SignalMortgageSatisfied}, event.ActiveSignals)
	require.Equal(t, owner, event.OrderingKey())

	again, err := h.pipeline.ProcessJob(ctx, "job-2")
	require.NoError(t, err)
	require.Zero(t, again.NewSignals)
	require.Zero(t, again.ScoreChanges)
	require.Len(t, h.pub.Messages(), 1)
}

func TestPublishFailureKeepsScore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.pub.FailWith(errors.New("broker down"))
	h.upsert(t,
		records.Property{Jurisdiction: "sangamon-il", ParcelID: "P1", OwnerName: "WALKER THOMAS", ScrapedAt: testNow, JobID: "job-1"},
		records.Document{
			Jurisdiction:   "sangamon-il",
			DocumentNumber: "D1",
			DocumentType:   "WARRANTY DEED",
			RecordedDate:   day(2024, time.July, 2),
			Grantors:       []string{"WALKER THOMAS"},
			Grantees:       []string{"NGUYEN ANH"},
			ParcelID:       "P1",
			JobID:          "job-1",
			ScrapedAt:      testNow,
		},
	)

	report, err := h.pipeline.ProcessJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, report.ScoreChanges)

	out, err := h.pipeline.RescoreAll(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, out.ScoreChanges)

	entities, err := h.store.ListEntities(ctx, 0)
	require.NoError(t, err)
	var scored int
	for _, e := range entities {
		if e.Score > 0 {
			scored++
			require.InDelta(t, 25*1.5, e.Score, 1e-9)
		}
	}
	require.Equal(t, 1, scored)
	require.Empty(t, h.pub.Messages())
}

type fakeResolver struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (f *fakeResolver) ResolveJob(_ context.Context, jobID string) (resolve.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, jobID)
	return resolve.Summary{}, f.err
}

func (f *fakeResolver) ResolveRecords(context.Context, records.Filter) (resolve.Summary, error) {
	return resolve.Summary{}, f.err
}

func TestAfterJobSkipsFailedJobs(t *testing.T) {
	t.Parallel()

	res := &fakeResolver{}
	p := New(memory.NewStore(), res, nil, signals.Scorer{}, nil, topic, fixedClock{t: testNow}, nil)
	p.AfterJob(context.Background(), records.JobResult{JobID: "job-1", Status: records.StatusFailed})
	p.AfterJob(context.Background(), records.JobResult{JobID: "job-2", Status: records.StatusCompleted})
	require.Equal(t, []string{"job-2"}, res.jobs)

	res.err = records.ErrStoreUnavailable
	_, err := p.ProcessJob(context.Background(), "job-3")
	require.ErrorIs(t, err, records.ErrStoreUnavailable)
}
