package fleet

import (
	"context"
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

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

type propertyAdapter struct {
	jurisdiction string
	panics       bool
	fail         error
	onFetch      func()
}

func (a *propertyAdapter) FetchProperties(context.Context, source.Query) (source.Batch, error) {
	if a.onFetch != nil {
		a.onFetch()
	}
	if a.panics {
		panic("adapter blew up")
	}
	if a.fail != nil {
		return source.Batch{}, a.fail
	}
	return source.Batch{Properties: []records.Property{
		{Jurisdiction: a.jurisdiction, ParcelID: "P1", OwnerName: "OWNER"},
	}}, nil
}

func (a *propertyAdapter) FetchDocuments(context.Context, source.Query) (source.Batch, error) {
	return source.Batch{}, records.ErrUnsupported
}

func (a *propertyAdapter) FetchCourtCases(context.Context, source.Query) (source.Batch, error) {
	return source.Batch{}, records.ErrUnsupported
}

func (a *propertyAdapter) FetchProfessionals(context.Context, source.Query) (source.Batch, error) {
	return source.Batch{}, records.ErrUnsupported
}

type recordingHook struct {
	mu   sync.Mutex
	jobs []string
}

func (h *recordingHook) AfterJob(_ context.Context, result records.JobResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, result.JobID)
}

func newRegistry(t *testing.T, adapters map[string]*propertyAdapter) *source.Registry {
	t.Helper()
	reg := source.NewRegistry()
	for id, a := range adapters {
		a.jurisdiction = id
		require.NoError(t, reg.Register(source.Jurisdiction{ID: id, Name: id, Adapter: a}))
	}
	return reg
}

func TestRunAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, map[string]*propertyAdapter{
		"a-county": {},
		"b-county": {panics: true},
		"c-county": {fail: &records.HTTPStatusError{Code: 500, Body: "boom"}},
		"d-county": {},
	})
	store := memory.NewStore()
	hook := &recordingHook{}
	o := New(reg, store, &seqIDs{}, fixedClock{}, Config{}, hook, zap.NewNop())

	outcomes := o.RunAll(context.Background(), records.Options{Properties: true})
	require.Len(t, outcomes, 4)
	got := map[string]records.JobStatus{}
	for _, out := range outcomes {
		got[out.JurisdictionID] = out.Result.Status
	}
	require.Equal(t, map[string]records.JobStatus{
		"a-county": records.StatusCompleted,
		"b-county": records.StatusFailed,
		"c-county": records.StatusCompleted,
		"d-county": records.StatusCompleted,
	}, got)
	require.Len(t, outcomes[2].Result.Errors, 1)
	require.Len(t, hook.jobs, 4)

	saved, err := store.ListJobResults(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, saved, 4)
	require.Empty(t, o.Active())
}

func TestRunAllStopsIssuingOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := newRegistry(t, map[string]*propertyAdapter{
		"a-county": {onFetch: cancel},
		"b-county": {},
		"c-county": {},
	})
	o := New(reg, memory.NewStore(), &seqIDs{}, fixedClock{}, Config{Pause: time.Hour}, nil, nil)

	outcomes := o.RunAll(ctx, records.Options{Properties: true})
	require.Len(t, outcomes, 1)
	require.Equal(t, "a-county", outcomes[0].JurisdictionID)
	require.Equal(t, records.StatusCompleted, outcomes[0].Result.Status)
	require.Equal(t, 1, outcomes[0].Result.Counters.RecordsCreated)
}

func TestRunAllPoolRunsEveryJurisdiction(t *testing.T) {
	t.Parallel()

	adapters := map[string]*propertyAdapter{}
	for i := 0; i < 6; i++ {
		adapters[fmt.Sprintf("county-%d", i)] = &propertyAdapter{}
	}
	reg := newRegistry(t, adapters)
	o := New(reg, memory.NewStore(), &seqIDs{}, fixedClock{}, Config{Parallelism: 3}, nil, nil)

	outcomes := o.RunAll(context.Background(), records.Options{Properties: true})
	require.Len(t, outcomes, 6)
	for i, out := range outcomes {
		require.Equal(t, fmt.Sprintf("county-%d", i), out.JurisdictionID)
		require.Equal(t, records.StatusCompleted, out.Result.Status)
	}
}

func TestRunOneUnknownJurisdiction(t *testing.T) {
	t.Parallel()

	o := New(source.NewRegistry(), memory.NewStore(), &seqIDs{}, fixedClock{}, Config{}, nil, nil)
	_, err := o.RunOne(context.Background(), "nowhere", records.AllPhases())
	require.ErrorIs(t, err, records.ErrNotFound)
	require.Empty(t, o.Jurisdictions())
}

func TestStartSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	reg := newRegistry(t, map[string]*propertyAdapter{
		"a-county": {onFetch: func() { <-release }},
	})
	store := memory.NewStore()
	o := New(reg, store, &seqIDs{}, fixedClock{}, Config{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	jobID, done, err := o.Start(ctx, "a-county", records.Options{Properties: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, ok := o.ActiveJob(jobID)
		return ok && snap.Status == records.StatusRunning
	}, time.Second, 5*time.Millisecond)

	cancel()
	close(release)
	result := <-done
	require.Equal(t, records.StatusCompleted, result.Status)
	require.Equal(t, 1, result.Counters.RecordsCreated)
	_, ok := o.ActiveJob(jobID)
	require.False(t, ok)
}

type panickingHook struct{}

func (panickingHook) AfterJob(context.Context, records.JobResult) { panic("hook blew up") }

func TestPanickingHookStillDeliversResult(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, map[string]*propertyAdapter{"a-county": {}})
	o := New(reg, memory.NewStore(), &seqIDs{}, fixedClock{}, Config{}, panickingHook{}, nil)

	result, err := o.RunOne(context.Background(), "a-county", records.Options{Properties: true})
	require.NoError(t, err)
	require.Equal(t, records.StatusCompleted, result.Status)
	require.Empty(t, o.Active())
}

func TestDrainWaitsForRunningJobAndStopsFleet(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	reg := newRegistry(t, map[string]*propertyAdapter{
		"a-county": {onFetch: func() { close(started); <-release }},
		"b-county": {},
	})
	store := memory.NewStore()
	hook := &recordingHook{}
	o := New(reg, store, &seqIDs{}, fixedClock{}, Config{}, hook, nil)

	outcomes := make(chan []Outcome, 1)
	go func() { outcomes <- o.RunAll(context.Background(), records.Options{Properties: true}) }()
	<-started

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, o.Drain(short), context.DeadlineExceeded)

	_, _, err := o.Start(context.Background(), "b-county", records.Options{Properties: true})
	require.ErrorIs(t, err, ErrDraining)

	drained := make(chan error, 1)
	go func() { drained <- o.Drain(context.Background()) }()
	close(release)
	require.NoError(t, <-drained)
	got := <-outcomes
	require.Len(t, got, 1)
	require.Equal(t, "a-county", got[0].JurisdictionID)
	require.Equal(t, records.StatusCompleted, got[0].Result.Status)

	hook.mu.Lock()
	require.Len(t, hook.jobs, 1)
	hook.mu.Unlock()
	saved, err := store.ListJobResults(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
}
