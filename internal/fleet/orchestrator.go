// Package fleet sequences scraper jobs across jurisdictions.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/scraper"
	"github.com/JakeFAU/records-resolver/internal/source"
)

// Config controls fleet scheduling.
type Config struct {
	// Pause is the wait between jurisdictions in sequential mode.
	Pause time.Duration `mapstructure:"pause"`
	// Parallelism > 1 runs that many jurisdictions at once.
	Parallelism      int  `mapstructure:"parallelism"`
	ConcurrentPhases bool `mapstructure:"concurrent_phases"`
}

// JobHook runs after a job reaches a terminal state, e.g. to resolve the
// job's records.
type JobHook interface {
	AfterJob(ctx context.Context, result records.JobResult)
}

// Outcome pairs a jurisdiction with its job result.
type Outcome struct {
	JurisdictionID string            `json:"jurisdiction_id"`
	Result         records.JobResult `json:"result"`
}

// JurisdictionInfo describes a registered jurisdiction.
type JurisdictionInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	State string `json:"state,omitempty"`
}

// ErrDraining is returned by Start once Drain has been called.
var ErrDraining = errors.New("fleet is draining")

// Orchestrator runs jobs for registered jurisdictions.
type Orchestrator struct {
	registry *source.Registry
	store    scraper.Store
	ids      records.IDGenerator
	clock    records.Clock
	cfg      Config
	hook     JobHook
	logger   *zap.Logger

	mu       sync.RWMutex
	active   map[string]*scraper.Job
	draining bool
	inflight sync.WaitGroup
	stop     chan struct{}
}

// New constructs an Orchestrator. hook may be nil.
func New(
	registry *source.Registry,
	store scraper.Store,
	ids records.IDGenerator,
	clock records.Clock,
	cfg Config,
	hook JobHook,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		store:    store,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		hook:     hook,
		logger:   logger.Named("fleet"),
		active:   make(map[string]*scraper.Job),
		stop:     make(chan struct{}),
	}
}

// Jurisdictions lists the registered jurisdictions by id.
func (o *Orchestrator) Jurisdictions() []JurisdictionInfo {
	list := o.registry.List()
	out := make([]JurisdictionInfo, 0, len(list))
	for _, j := range list {
		out = append(out, JurisdictionInfo{ID: j.ID, Name: j.Name, State: j.State})
	}
	return out
}

// Start launches one jurisdiction's job in the background and returns its id.
// The job runs to completion even if ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context, jurisdictionID string, opts records.Options) (string, <-chan records.JobResult, error) {
	j, err := o.registry.Lookup(jurisdictionID)
	if err != nil {
		return "", nil, err
	}
	job, err := scraper.New(j, o.store, o.ids, o.clock, opts, scraper.Config{ConcurrentPhases: o.cfg.ConcurrentPhases}, o.logger)
	if err != nil {
		return "", nil, fmt.Errorf("create job for %s: %w", jurisdictionID, err)
	}
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return "", nil, fmt.Errorf("start %s: %w", jurisdictionID, ErrDraining)
	}
	o.active[job.ID()] = job
	o.inflight.Add(1)
	o.mu.Unlock()

	done := make(chan records.JobResult, 1)
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.inflight.Done()
		defer close(done)
		defer func() {
			o.mu.Lock()
			delete(o.active, job.ID())
			o.mu.Unlock()
		}()
		result, runErr := job.Run(runCtx)
		if runErr != nil {
			o.logger.Error("job run rejected", zap.String("job_id", job.ID()), zap.Error(runErr))
			result = job.Snapshot()
		}
		o.afterJob(runCtx, result)
		done <- result
	}()
	return job.ID(), done, nil
}

// afterJob runs the hook; a panicking hook is logged and the result is still
// delivered.
func (o *Orchestrator) afterJob(ctx context.Context, result records.JobResult) {
	if o.hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job hook panicked", zap.String("job_id", result.JobID), zap.Any("panic", r))
		}
	}()
	o.hook.AfterJob(ctx, result)
}

// Drain stops new jobs from starting and waits for running ones, including
// their hooks, to finish. It returns ctx's error if ctx ends first.
func (o *Orchestrator) Drain(ctx context.Context) error {
	o.mu.Lock()
	if !o.draining {
		o.draining = true
		close(o.stop)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-o.stop:
		return true
	default:
		return false
	}
}

// RunOne runs one jurisdiction and waits for its terminal result.
func (o *Orchestrator) RunOne(ctx context.Context, jurisdictionID string, opts records.Options) (records.JobResult, error) {
	_, done, err := o.Start(ctx, jurisdictionID, opts)
	if err != nil {
		return records.JobResult{}, err
	}
	return <-done, nil
}

// Active returns snapshots of the jobs currently running.
func (o *Orchestrator) Active() []records.JobResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]records.JobResult, 0, len(o.active))
	for _, job := range o.active {
		out = append(out, job.Snapshot())
	}
	return out
}

// ActiveJob returns the snapshot of a running job.
func (o *Orchestrator) ActiveJob(jobID string) (records.JobResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.active[jobID]
	if !ok {
		return records.JobResult{}, false
	}
	return job.Snapshot(), true
}

// RunAll runs every registered jurisdiction. One jurisdiction's failure never
// aborts the others. Cancelling ctx or draining the orchestrator stops new
// jurisdictions from starting; jobs already running finish and are reported.
func (o *Orchestrator) RunAll(ctx context.Context, opts records.Options) []Outcome {
	ids := o.registry.IDs()
	if o.cfg.Parallelism > 1 {
		return o.runPool(ctx, ids, opts)
	}

	outcomes := make([]Outcome, 0, len(ids))
	for i, id := range ids {
		if o.stopping(ctx) {
			o.logger.Info("fleet run stopped", zap.Int("remaining", len(ids)-i))
			break
		}
		if i > 0 && o.cfg.Pause > 0 && !o.pause(ctx) {
			o.logger.Info("fleet run stopped", zap.Int("remaining", len(ids)-i))
			break
		}
		outcomes = append(outcomes, o.runSafely(ctx, id, opts))
	}
	return outcomes
}

func (o *Orchestrator) pause(ctx context.Context) bool {
	timer := time.NewTimer(o.cfg.Pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-o.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (o *Orchestrator) runPool(ctx context.Context, ids []string, opts records.Options) []Outcome {
	results := make([]*Outcome, len(ids))
	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				out := o.runSafely(ctx, ids[i], opts)
				results[i] = &out
			}
		}()
	}
feed:
	for i := range ids {
		if o.stopping(ctx) {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case <-o.stop:
			break feed
		case work <- i:
		}
	}
	close(work)
	wg.Wait()

	outcomes := make([]Outcome, 0, len(ids))
	for _, r := range results {
		if r != nil {
			outcomes = append(outcomes, *r)
		}
	}
	return outcomes
}

// runSafely turns lookup errors and panics into failed results.
func (o *Orchestrator) runSafely(ctx context.Context, id string, opts records.Options) (out Outcome) {
	out.JurisdictionID = id
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("jurisdiction panicked", zap.String("jurisdiction", id), zap.Any("panic", r))
			out.Result = o.failedResult(id, opts, fmt.Sprintf("panic: %v", r))
		}
	}()
	result, err := o.RunOne(ctx, id, opts)
	if err != nil {
		o.logger.Error("jurisdiction failed to start", zap.String("jurisdiction", id), zap.Error(err))
		out.Result = o.failedResult(id, opts, err.Error())
		return out
	}
	out.Result = result
	return out
}

func (o *Orchestrator) failedResult(id string, opts records.Options, message string) records.JobResult {
	now := time.Now().UTC()
	if o.clock != nil {
		now = o.clock.Now()
	}
	return records.JobResult{
		JurisdictionID: id,
		Status:         records.StatusFailed,
		Errors:         []records.JobError{{Message: message, Context: "fleet", At: now}},
		StartedAt:      now,
		CompletedAt:    now,
		Options:        opts,
	}
}
