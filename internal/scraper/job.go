// Package scraper runs one jurisdiction's source adapters as a job with a
// tracked lifecycle, counters and an ordered error list.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/records-resolver/internal/metrics"
	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/source"
)

var tracer = otel.Tracer("github.com/JakeFAU/records-resolver/internal/scraper")

// Store is the slice of the store gateway a job writes to.
type Store interface {
	records.RecordStore
	records.JobStore
}

// Config controls job execution.
type Config struct {
	// ConcurrentPhases runs the enabled phases at the same time instead of in
	// properties, documents, court cases, professionals order.
	ConcurrentPhases bool
}

// Job is a single execution of one jurisdiction's adapters. It is single use.
type Job struct {
	jurisdiction source.Jurisdiction
	store        Store
	clock        records.Clock
	logger       *zap.Logger
	cfg          Config
	started      atomic.Bool

	mu     sync.Mutex
	result records.JobResult
}

// New constructs an idle job with a freshly generated id.
func New(
	jurisdiction source.Jurisdiction,
	store Store,
	ids records.IDGenerator,
	clock records.Clock,
	opts records.Options,
	cfg Config,
	logger *zap.Logger,
) (*Job, error) {
	if jurisdiction.Adapter == nil {
		return nil, fmt.Errorf("jurisdiction %s has no adapter", jurisdiction.ID)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	id, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		jurisdiction: jurisdiction,
		store:        store,
		clock:        clock,
		cfg:          cfg,
		logger: logger.Named("scraper").With(
			zap.String("job_id", id),
			zap.String("jurisdiction", jurisdiction.ID),
		),
		result: records.JobResult{
			JobID:          id,
			JurisdictionID: jurisdiction.ID,
			Status:         records.StatusIdle,
			Options:        opts,
		},
	}, nil
}

// ID returns the job id.
func (j *Job) ID() string { return j.result.JobID }

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() records.JobResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result.Clone()
}

// Run executes the enabled phases and returns the terminal result. Failures
// are reported in the result; the error is non-nil only when the job was
// already run.
func (j *Job) Run(ctx context.Context) (result records.JobResult, err error) {
	if !j.started.CompareAndSwap(false, true) {
		return records.JobResult{}, fmt.Errorf("job %s already started", j.ID())
	}

	ctx, span := tracer.Start(ctx, "scraper.Job.Run")
	span.SetAttributes(
		attribute.String("job.id", j.ID()),
		attribute.String("jurisdiction", j.jurisdiction.ID),
	)
	defer span.End()

	j.mu.Lock()
	j.result.Status = records.StatusRunning
	j.result.StartedAt = j.now()
	j.mu.Unlock()
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	j.logger.Info("job started")

	var fatal error
	func() {
		defer func() {
			if r := recover(); r != nil {
				fatal = fmt.Errorf("panic: %v", r)
				j.logger.Error("job panicked", zap.Any("panic", r))
			}
		}()
		fatal = j.runPhases(ctx)
	}()

	status := deriveFinalStatus(fatal)
	if fatal != nil {
		j.logError(fatal.Error(), "job")
		span.RecordError(fatal)
		span.SetStatus(codes.Error, fatal.Error())
	}

	j.mu.Lock()
	j.result.Status = status
	j.result.CompletedAt = j.now()
	result = j.result.Clone()
	j.mu.Unlock()

	if saveErr := j.store.SaveJobResult(context.WithoutCancel(ctx), result.Clone()); saveErr != nil {
		j.logger.Error("persist job result failed", zap.Error(saveErr))
	}
	metrics.ObserveJob(j.jurisdiction.ID, string(status))
	j.logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("processed", result.Counters.RecordsProcessed),
		zap.Int("created", result.Counters.RecordsCreated),
		zap.Int("updated", result.Counters.RecordsUpdated),
		zap.Int("rejected", result.Counters.RecordsRejected),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

type phase struct {
	name  source.Phase
	fetch func(context.Context, source.Query) (source.Batch, error)
}

func (j *Job) enabledPhases(opts records.Options) []phase {
	a := j.jurisdiction.Adapter
	var phases []phase
	if opts.Properties {
		phases = append(phases, phase{source.PhaseProperties, a.FetchProperties})
	}
	if opts.Documents {
		phases = append(phases, phase{source.PhaseDocuments, a.FetchDocuments})
	}
	if opts.CourtCases {
		phases = append(phases, phase{source.PhaseCourtCases, a.FetchCourtCases})
	}
	if opts.Professionals {
		phases = append(phases, phase{source.PhaseProfessionals, a.FetchProfessionals})
	}
	return phases
}

func (j *Job) runPhases(ctx context.Context) error {
	opts := j.result.Options
	q := source.QueryFromOptions(j.jurisdiction.ID, j.ID(), opts)
	phases := j.enabledPhases(opts)

	if !j.cfg.ConcurrentPhases {
		for _, p := range phases {
			if err := j.runPhase(ctx, p, q); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range phases {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in %s phase: %v", p.name, r)
				}
			}()
			return j.runPhase(gctx, p, q)
		})
	}
	return g.Wait()
}

// runPhase fetches and upserts one phase. Only store unavailability escapes;
// every other failure lands in the error list.
func (j *Job) runPhase(ctx context.Context, p phase, q source.Query) error {
	ctx, span := tracer.Start(ctx, "scraper.phase."+string(p.name))
	defer span.End()

	batch, err := p.fetch(ctx, q)
	if err != nil {
		if errors.Is(err, records.ErrUnsupported) {
			j.logger.Debug("phase not offered", zap.String("phase", string(p.name)))
			return nil
		}
		if errors.Is(err, records.ErrStoreUnavailable) {
			return err
		}
		j.noteRateLimited(p.name, err)
		j.logError(err.Error(), string(p.name))
		span.RecordError(err)
		return nil
	}

	for _, reject := range batch.Rejects {
		j.mu.Lock()
		j.result.Counters.RecordsRejected++
		j.mu.Unlock()
		j.logError(reject.Error(), string(p.name))
	}

	for _, rec := range batchRecords(batch) {
		if err := j.upsert(ctx, rec); err != nil {
			return err
		}
	}
	j.logger.Debug("phase finished",
		zap.String("phase", string(p.name)),
		zap.Int("records", batch.Len()),
		zap.Int("rejected", len(batch.Rejects)),
		zap.String("archive_uri", batch.ArchiveURI),
	)
	return nil
}

func batchRecords(b source.Batch) []records.Record {
	out := make([]records.Record, 0, b.Len())
	for _, r := range b.Properties {
		out = append(out, r)
	}
	for _, r := range b.Documents {
		out = append(out, r)
	}
	for _, r := range b.CourtCases {
		out = append(out, r)
	}
	for _, r := range b.Professionals {
		out = append(out, r)
	}
	return out
}

func (j *Job) upsert(ctx context.Context, rec records.Record) error {
	var (
		outcome records.UpsertOutcome
		err     error
	)
	switch r := rec.(type) {
	case records.Property:
		outcome, err = j.store.UpsertProperty(ctx, r)
	case records.Document:
		outcome, err = j.store.UpsertDocument(ctx, r)
	case records.CourtCase:
		outcome, err = j.store.UpsertCourtCase(ctx, r)
	case records.Professional:
		outcome, err = j.store.UpsertProfessional(ctx, r)
	default:
		err = fmt.Errorf("unsupported record type %T", rec)
	}
	ref := rec.Ref()
	if err != nil {
		if errors.Is(err, records.ErrStoreUnavailable) {
			return fmt.Errorf("upsert %s: %w", ref, err)
		}
		j.logError(fmt.Sprintf("upsert failed: %v", err), ref.String())
		return nil
	}

	j.mu.Lock()
	j.result.Counters.RecordsProcessed++
	switch outcome {
	case records.OutcomeCreated:
		j.result.Counters.RecordsCreated++
	case records.OutcomeUpdated:
		j.result.Counters.RecordsUpdated++
	}
	j.mu.Unlock()
	metrics.ObserveUpsert(string(ref.Kind), outcome.String())
	return nil
}

func (j *Job) noteRateLimited(p source.Phase, err error) {
	var statusErr *records.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.Code == 429 {
		j.logger.Warn("source rate limited",
			zap.String("phase", string(p)),
			zap.String("state", string(records.StatusRateLimited)),
		)
	}
}

// logError appends an entry to the job's ordered error list.
func (j *Job) logError(message, where string) {
	j.mu.Lock()
	j.result.Errors = append(j.result.Errors, records.JobError{
		Message: message,
		Context: where,
		At:      j.now(),
	})
	j.mu.Unlock()
	j.logger.Warn("job error", zap.String("context", where), zap.String("error", message))
}

func (j *Job) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock.Now()
}

func deriveFinalStatus(fatal error) records.JobStatus {
	if fatal != nil {
		return records.StatusFailed
	}
	return records.StatusCompleted
}
