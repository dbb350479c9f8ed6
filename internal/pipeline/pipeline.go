// Package pipeline carries freshly scraped records through entity resolution
// and signal detection, persisting new signals and composite scores.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/metrics"
	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/resolve"
	"github.com/JakeFAU/records-resolver/internal/signals"
)

var tracer = otel.Tracer("github.com/JakeFAU/records-resolver/internal/pipeline")

// Store is the subset of the store gateway the pipeline reads and writes.
type Store interface {
	records.RecordStore
	records.EntityStore
	records.SignalStore
}

// Resolver resolves stored records into entities.
type Resolver interface {
	ResolveJob(ctx context.Context, jobID string) (resolve.Summary, error)
	ResolveRecords(ctx context.Context, filter records.Filter) (resolve.Summary, error)
}

// ScoreChanged is published whenever an entity's composite score moves.
type ScoreChanged struct {
	EntityID      string               `json:"entity_id"`
	CanonicalName string               `json:"canonical_name"`
	PreviousScore float64              `json:"previous_score"`
	Score         float64              `json:"score"`
	ActiveSignals []records.SignalType `json:"active_signals"`
	At            time.Time            `json:"at"`
}

// OrderingKey keeps one entity's score changes in order downstream.
func (e ScoreChanged) OrderingKey() string { return e.EntityID }

// EventType names the event in message attributes.
func (ScoreChanged) EventType() string { return "entity.score_changed" }

// Report summarizes one pipeline pass.
type Report struct {
	JobID        string          `json:"job_id,omitempty"`
	Resolution   resolve.Summary `json:"resolution"`
	Rescored     int             `json:"rescored"`
	NewSignals   int             `json:"new_signals"`
	ScoreChanges int             `json:"score_changes"`
	Errors       []string        `json:"errors,omitempty"`
}

// Rescored is the outcome for one entity.
type Rescored struct {
	EntityID      string
	NewSignals    []records.Signal
	PreviousScore float64
	Score         float64
	Published     bool
}

// Pipeline resolves a job's records, then rescores every affected entity.
type Pipeline struct {
	store     Store
	resolver  Resolver
	detectors []signals.Detector
	scorer    signals.Scorer
	publisher records.Publisher
	topic     string
	clock     records.Clock
	locks     *resolve.Lockset
	logger    *zap.Logger
}

// New builds a Pipeline. publisher may be nil, in which case score changes
// are only persisted.
func New(
	store Store,
	resolver Resolver,
	detectors []signals.Detector,
	scorer signals.Scorer,
	publisher records.Publisher,
	topic string,
	clock records.Clock,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     store,
		resolver:  resolver,
		detectors: detectors,
		scorer:    scorer,
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		locks:     resolve.NewLockset(),
		logger:    logger.Named("pipeline"),
	}
}

// AfterJob implements fleet.JobHook. Failed jobs are skipped; their records
// are picked up by the next full resolution pass.
func (p *Pipeline) AfterJob(ctx context.Context, result records.JobResult) {
	if result.Status != records.StatusCompleted {
		p.logger.Info("skipping resolution for unfinished job",
			zap.String("job_id", result.JobID),
			zap.String("status", string(result.Status)),
		)
		return
	}
	report, err := p.ProcessJob(ctx, result.JobID)
	if err != nil {
		p.logger.Error("job pipeline failed", zap.String("job_id", result.JobID), zap.Error(err))
		return
	}
	p.logger.Info("job pipeline finished",
		zap.String("job_id", result.JobID),
		zap.Int("entities", len(report.Resolution.Entities)),
		zap.Int("rescored", report.Rescored),
		zap.Int("new_signals", report.NewSignals),
		zap.Int("score_changes", report.ScoreChanges),
		zap.Int("errors", len(report.Errors)),
	)
}

// ProcessJob resolves the records written by jobID and rescores every entity
// it touched, plus the owners of parcels its documents and cases reference.
func (p *Pipeline) ProcessJob(ctx context.Context, jobID string) (Report, error) {
	ctx, span := tracer.Start(ctx, "pipeline.ProcessJob")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", jobID))

	report := Report{JobID: jobID}
	sum, err := p.resolver.ResolveJob(ctx, jobID)
	report.Resolution = sum
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("resolve job %s: %w", jobID, err)
	}

	affected := make(map[string]bool, len(sum.Entities))
	for _, id := range sum.Entities {
		affected[id] = true
	}
	owners, err := p.parcelOwners(ctx, records.Filter{JobID: jobID})
	if err != nil {
		return report, err
	}
	for _, id := range owners {
		affected[id] = true
	}

	ids := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	err = p.rescoreEach(ctx, ids, &report)
	span.SetAttributes(attribute.Int("rescored", report.Rescored))
	return report, err
}

// RescoreAll recomputes signals and scores for up to limit live entities.
// A limit of zero means all of them.
func (p *Pipeline) RescoreAll(ctx context.Context, limit int) (Report, error) {
	entities, err := p.store.ListEntities(ctx, limit)
	if err != nil {
		return Report{}, fmt.Errorf("list entities: %w", err)
	}
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	var report Report
	err = p.rescoreEach(ctx, ids, &report)
	return report, err
}

func (p *Pipeline) rescoreEach(ctx context.Context, ids []string, report *Report) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := p.Rescore(ctx, id)
		if err != nil {
			if errors.Is(err, records.ErrStoreUnavailable) {
				return err
			}
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		// Two ids may redirect to the same survivor.
		if seen[out.EntityID] {
			continue
		}
		seen[out.EntityID] = true
		report.Rescored++
		report.NewSignals += len(out.NewSignals)
		if out.Score != out.PreviousScore {
			report.ScoreChanges++
		}
	}
	return nil
}

// Rescore runs every detector over one entity, appends the signals not seen
// before and recomputes the composite score from the active set.
func (p *Pipeline) Rescore(ctx context.Context, id string) (Rescored, error) {
	live, err := p.store.ResolveEntityID(ctx, id)
	if err != nil {
		return Rescored{}, fmt.Errorf("resolve entity %s: %w", id, err)
	}
	unlock := p.locks.Lock([]string{"score:" + live})
	defer unlock()

	entity, err := p.store.GetEntity(ctx, live)
	if err != nil {
		return Rescored{}, fmt.Errorf("load entity %s: %w", live, err)
	}
	in, err := p.input(ctx, entity)
	if err != nil {
		return Rescored{}, err
	}
	existing, err := p.store.ListSignals(ctx, entity.ID)
	if err != nil {
		return Rescored{}, fmt.Errorf("list signals for %s: %w", entity.ID, err)
	}

	out := Rescored{EntityID: entity.ID, PreviousScore: entity.Score}
	for _, sig := range signals.Run(in, p.detectors) {
		if containsSignal(existing, sig) || containsSignal(out.NewSignals, sig) {
			continue
		}
		out.NewSignals = append(out.NewSignals, sig)
	}
	if len(out.NewSignals) > 0 {
		if err := p.store.AppendSignals(ctx, out.NewSignals); err != nil {
			return Rescored{}, fmt.Errorf("append signals for %s: %w", entity.ID, err)
		}
		for _, sig := range out.NewSignals {
			metrics.ObserveSignal(string(sig.Type), string(sig.Strength))
		}
	}

	active := records.ActiveSignals(append(existing, out.NewSignals...))
	out.Score = p.scorer.Score(active)
	if out.Score == entity.Score {
		return out, nil
	}
	if err := p.store.SaveScore(ctx, entity.ID, out.Score); err != nil {
		return Rescored{}, fmt.Errorf("save score for %s: %w", entity.ID, err)
	}
	p.logger.Debug("entity score changed",
		zap.String("entity_id", entity.ID),
		zap.Float64("previous", out.PreviousScore),
		zap.Float64("score", out.Score),
	)
	out.Published = p.publish(ctx, entity, out, active)
	return out, nil
}

// publish sends the score change downstream. A failed publish is logged but
// does not undo the stored score.
func (p *Pipeline) publish(ctx context.Context, entity records.Entity, out Rescored, active []records.Signal) bool {
	if p.publisher == nil {
		return false
	}
	types := make([]records.SignalType, 0, len(active))
	for _, sig := range active {
		types = append(types, sig.Type)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	event := ScoreChanged{
		EntityID:      entity.ID,
		CanonicalName: entity.CanonicalName,
		PreviousScore: out.PreviousScore,
		Score:         out.Score,
		ActiveSignals: types,
		At:            p.clock.Now().UTC(),
	}
	msgID, err := p.publisher.Publish(ctx, p.topic, event)
	if err != nil {
		p.logger.Warn("score change publish failed", zap.String("entity_id", entity.ID), zap.Error(err))
		return false
	}
	p.logger.Debug("score change published", zap.String("entity_id", entity.ID), zap.String("message_id", msgID))
	return true
}

// input gathers the entity's linked records and the documents and cases
// filed against the parcels it owns.
func (p *Pipeline) input(ctx context.Context, entity records.Entity) (signals.Input, error) {
	links, err := p.store.LinkedRecords(ctx, entity.ID)
	if err != nil {
		return signals.Input{}, fmt.Errorf("linked records for %s: %w", entity.ID, err)
	}
	in := signals.Input{Entity: entity, Links: links, Now: p.clock.Now()}

	loaded := map[records.RecordRef]bool{}
	for _, l := range links {
		if loaded[l.Record] {
			continue
		}
		loaded[l.Record] = true
		rec, err := p.store.GetRecord(ctx, l.Record)
		if err != nil {
			if errors.Is(err, records.ErrNotFound) {
				continue
			}
			return signals.Input{}, fmt.Errorf("load %s: %w", l.Record, err)
		}
		in.Records = append(in.Records, rec)
	}

	for _, rec := range in.Records {
		prop, ok := rec.(records.Property)
		if !ok || prop.ParcelID == "" {
			continue
		}
		related, err := p.store.QueryRecords(ctx, records.Filter{Jurisdiction: prop.Jurisdiction, ParcelID: prop.ParcelID})
		if err != nil {
			return signals.Input{}, fmt.Errorf("records for parcel %s: %w", prop.ParcelID, err)
		}
		for _, r := range related {
			if k := r.Ref().Kind; k == records.KindDocument || k == records.KindCourtCase {
				in.Related = append(in.Related, r)
			}
		}
	}
	return in, nil
}

// parcelOwners returns the live owner entities of every parcel referenced by
// documents and court cases matching filter.
func (p *Pipeline) parcelOwners(ctx context.Context, filter records.Filter) ([]string, error) {
	type parcel struct{ jurisdiction, id string }
	parcels := map[parcel]bool{}
	for _, kind := range []records.RecordKind{records.KindDocument, records.KindCourtCase} {
		f := filter
		f.Kind = kind
		recs, err := p.store.QueryRecords(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("load %s records: %w", kind, err)
		}
		for _, rec := range recs {
			var id string
			switch r := rec.(type) {
			case records.Document:
				id = r.ParcelID
			case records.CourtCase:
				id = r.ParcelID
			}
			if id != "" {
				parcels[parcel{rec.Ref().Jurisdiction, id}] = true
			}
		}
	}

	var owners []string
	for pc := range parcels {
		ref := records.RecordRef{Kind: records.KindProperty, Jurisdiction: pc.jurisdiction, NaturalKey: pc.id}
		links, err := p.store.RecordLinks(ctx, ref)
		if err != nil {
			if errors.Is(err, records.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("owners of %s: %w", ref, err)
		}
		for _, l := range links {
			if strings.HasPrefix(l.Mention, "owner:") {
				owners = append(owners, l.EntityID)
			}
		}
	}
	return owners, nil
}

func containsSignal(list []records.Signal, sig records.Signal) bool {
	for _, s := range list {
		if s.SameAs(sig) {
			return true
		}
	}
	return false
}
