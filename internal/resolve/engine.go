// Package resolve links person mentions in normalized records to canonical
// entities through an ordered cascade of match layers.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/metrics"
	"github.com/JakeFAU/records-resolver/internal/records"
)

// Store is the slice of the store gateway the engine reads and writes.
type Store interface {
	records.RecordStore
	records.EntityStore
	records.ReviewStore
}

// Config tunes matching. Zero values take the defaults.
type Config struct {
	ConfidencePolicy string  `mapstructure:"confidence_policy"`
	MaxEditDistance  int     `mapstructure:"max_edit_distance"`
	ReviewFloor      float64 `mapstructure:"review_floor"`
	MergeThreshold   float64 `mapstructure:"merge_threshold"`
	SeedConfidence   float64 `mapstructure:"seed_confidence"`
}

// Defaults used when Config leaves a field zero.
const (
	DefaultMaxEditDistance = 2
	DefaultReviewFloor     = 70
	DefaultMergeThreshold  = 95
	DefaultSeedConfidence  = 75
)

// kindPriority resolves the identity-bearing kinds first so later records
// find their owners.
var kindPriority = []records.RecordKind{
	records.KindProperty,
	records.KindProfessional,
	records.KindDocument,
	records.KindCourtCase,
}

// ErrMentionLinked is returned by Assign when the mention already belongs to
// another entity. Merge the two entities instead.
var ErrMentionLinked = errors.New("mention already linked to another entity")

// lockRetries bounds how often a mention re-locks after its candidate set
// grew while it waited.
const lockRetries = 8

// Summary counts what a resolution pass did.
type Summary struct {
	Records    int      `json:"records"`
	Mentions   int      `json:"mentions"`
	Linked     int      `json:"linked"`
	Seeded     int      `json:"seeded"`
	Reviewed   int      `json:"reviewed"`
	Merged     int      `json:"merged"`
	Households int      `json:"households"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
	// Entities lists every live entity the pass touched, sorted.
	Entities []string `json:"entities"`

	touched map[string]bool
}

func (s *Summary) touch(id string) {
	if s.touched == nil {
		s.touched = map[string]bool{}
	}
	s.touched[id] = true
}

func (s *Summary) add(o Summary) {
	s.Records += o.Records
	s.Mentions += o.Mentions
	s.Linked += o.Linked
	s.Seeded += o.Seeded
	s.Reviewed += o.Reviewed
	s.Merged += o.Merged
	s.Households += o.Households
	s.Skipped += o.Skipped
	s.Errors = append(s.Errors, o.Errors...)
	for id := range o.touched {
		s.touch(id)
	}
}

func (s *Summary) finish() {
	s.Entities = make([]string, 0, len(s.touched))
	for id := range s.touched {
		s.Entities = append(s.Entities, id)
	}
	sort.Strings(s.Entities)
}

// Engine resolves records into entities. It is safe for concurrent use.
type Engine struct {
	store   Store
	ids     records.IDGenerator
	clock   records.Clock
	cfg     Config
	policy  ConfidencePolicy
	cascade Cascade
	locks   *Lockset
	logger  *zap.Logger
}

// New validates cfg and builds an engine with the default layer cascade.
func New(store Store, ids records.IDGenerator, clock records.Clock, cfg Config, logger *zap.Logger) (*Engine, error) {
	if store == nil || ids == nil || clock == nil {
		return nil, errors.New("resolve: store, ids and clock are required")
	}
	policy, err := ParsePolicy(cfg.ConfidencePolicy)
	if err != nil {
		return nil, err
	}
	if cfg.MaxEditDistance <= 0 {
		cfg.MaxEditDistance = DefaultMaxEditDistance
	}
	if cfg.ReviewFloor <= 0 {
		cfg.ReviewFloor = DefaultReviewFloor
	}
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = DefaultMergeThreshold
	}
	if cfg.SeedConfidence <= 0 {
		cfg.SeedConfidence = DefaultSeedConfidence
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		policy: policy,
		cascade: Cascade{
			Layers:      DefaultLayers(cfg.MaxEditDistance),
			MaxEdit:     cfg.MaxEditDistance,
			ReviewFloor: cfg.ReviewFloor,
		},
		locks:  NewLockset(),
		logger: logger.Named("resolve"),
	}, nil
}

// ResolveJob resolves every record a scraper job wrote.
func (e *Engine) ResolveJob(ctx context.Context, jobID string) (Summary, error) {
	return e.ResolveRecords(ctx, records.Filter{JobID: jobID})
}

// ResolveRecords resolves the records matching filter, identity-bearing
// kinds first. Per-record failures are collected; a store outage aborts.
func (e *Engine) ResolveRecords(ctx context.Context, filter records.Filter) (Summary, error) {
	var total Summary
	kinds := kindPriority
	if filter.Kind != "" {
		kinds = []records.RecordKind{filter.Kind}
	}
	for _, kind := range kinds {
		f := filter
		f.Kind = kind
		recs, err := e.store.QueryRecords(ctx, f)
		if err != nil {
			total.finish()
			return total, fmt.Errorf("load %s records: %w", kind, err)
		}
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				total.finish()
				return total, err
			}
			sum, err := e.resolveRecord(ctx, rec)
			total.add(sum)
			if err == nil {
				continue
			}
			if errors.Is(err, records.ErrStoreUnavailable) {
				total.finish()
				return total, err
			}
			e.logger.Warn("record resolution failed",
				zap.String("record", rec.Ref().String()),
				zap.Error(err),
			)
			total.Errors = append(total.Errors, fmt.Sprintf("%s: %v", rec.Ref(), err))
		}
	}
	total.finish()
	e.logger.Info("resolution pass finished",
		zap.Int("records", total.Records),
		zap.Int("linked", total.Linked),
		zap.Int("seeded", total.Seeded),
		zap.Int("reviewed", total.Reviewed),
		zap.Int("merged", total.Merged),
		zap.Int("errors", len(total.Errors)),
	)
	return total, nil
}

// ResolveRecord resolves every person mention of one record. Mentions that
// are already linked are left alone, so re-running is a no-op.
func (e *Engine) ResolveRecord(ctx context.Context, rec records.Record) (Summary, error) {
	sum, err := e.resolveRecord(ctx, rec)
	sum.finish()
	return sum, err
}

func (e *Engine) resolveRecord(ctx context.Context, rec records.Record) (Summary, error) {
	sum := Summary{Records: 1}
	mentions := Extract(rec)
	if len(mentions) == 0 {
		return sum, nil
	}
	existing, err := e.store.RecordLinks(ctx, rec.Ref())
	if err != nil {
		return sum, err
	}
	linked := make(map[string]string, len(existing))
	for _, l := range existing {
		live, err := e.store.ResolveEntityID(ctx, l.EntityID)
		if err != nil {
			return sum, err
		}
		linked[l.Mention] = live
	}

	byGroup := map[int][]string{}
	for _, m := range mentions {
		sum.Mentions++
		if id, ok := linked[m.Key()]; ok {
			sum.Skipped++
			byGroup[m.Group] = appendUnique(byGroup[m.Group], id)
			continue
		}
		exclude := map[string]bool{}
		for _, id := range linked {
			exclude[id] = true
		}
		id, err := e.resolveMention(ctx, m, exclude, &sum)
		if err != nil {
			return sum, fmt.Errorf("mention %q: %w", m.Raw, err)
		}
		if id != "" {
			linked[m.Key()] = id
			byGroup[m.Group] = appendUnique(byGroup[m.Group], id)
		}
	}

	for _, group := range byGroup {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if err := e.linkHousehold(ctx, group[i], group[j], rec.Ref()); err != nil {
					return sum, err
				}
				sum.Households++
			}
		}
	}
	return sum, nil
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// resolveMention runs the cascade for one mention under the lockset and
// returns the entity it was linked to, or "" when it went to review.
func (e *Engine) resolveMention(ctx context.Context, m Mention, exclude map[string]bool, sum *Summary) (string, error) {
	chainIDs, err := e.chainEntities(ctx, m)
	if err != nil {
		return "", err
	}

	held := dedupeSorted(append(m.BlockingKeys(), idKeys(chainIDs)...))
	unlock := e.locks.Lock(held)
	defer func() { unlock() }()

	var candidates []Candidate
	for attempt := 0; ; attempt++ {
		candidates, err = e.candidates(ctx, m, chainIDs, exclude)
		if err != nil {
			return "", err
		}
		want := make([]string, 0, len(candidates))
		for _, c := range candidates {
			want = append(want, "id:"+c.Entity.ID)
		}
		if covers(held, want) {
			break
		}
		if attempt == lockRetries {
			return "", fmt.Errorf("candidate set for %s kept changing", m.Key())
		}
		unlock()
		held = dedupeSorted(append(held, want...))
		unlock = e.locks.Lock(held)
	}

	d := e.cascade.Evaluate(m, candidates)
	now := e.clock.Now().UTC()
	switch {
	case d.Accepted() && d.Household:
		id, err := e.seed(ctx, m, records.LayerHousehold, d.Confidence, now)
		if err != nil {
			return "", err
		}
		for _, c := range d.Matches {
			if err := e.linkHousehold(ctx, id, c.Entity.ID, m.Record); err != nil {
				return "", err
			}
			sum.Households++
			sum.touch(c.Entity.ID)
		}
		metrics.ObserveMatch(string(d.Layer))
		sum.Seeded++
		sum.touch(id)
		return id, nil

	case d.Accepted():
		target, merged, err := e.collapse(ctx, d, now)
		if err != nil {
			return "", err
		}
		if target == nil {
			return "", e.review(ctx, m, d.Matches[0].Entity.ID, d.Confidence,
				fmt.Sprintf("%v: %d candidates at %s", records.ErrAmbiguousMatch, len(d.Matches), d.Layer), sum)
		}
		sum.Merged += merged
		absorb(target, m, d.Layer, d.Confidence, e.policy, now)
		if err := e.store.SaveEntity(ctx, *target); err != nil {
			return "", err
		}
		if err := e.link(ctx, m, target.ID, d.Layer, d.Confidence, now); err != nil {
			return "", err
		}
		metrics.ObserveMatch(string(d.Layer))
		e.logger.Debug("mention linked",
			zap.String("record", m.Record.String()),
			zap.String("mention", m.Key()),
			zap.String("entity_id", target.ID),
			zap.String("layer", string(d.Layer)),
			zap.Float64("confidence", d.Confidence),
		)
		sum.Linked++
		sum.touch(target.ID)
		return target.ID, nil

	case d.Review != nil:
		return "", e.review(ctx, m, d.Review.CandidateID, d.Review.Confidence,
			fmt.Sprintf("%v: %s", records.ErrAmbiguousMatch, d.Review.Reason), sum)

	default:
		id, err := e.seed(ctx, m, records.LayerSeed, e.cfg.SeedConfidence, now)
		if err != nil {
			return "", err
		}
		metrics.ObserveMatch(string(records.LayerSeed))
		sum.Seeded++
		sum.touch(id)
		return id, nil
	}
}

// collapse picks the entity a mention resolves into. Several matches at or
// above the merge threshold are the same person and are merged; below it
// the mention is ambiguous and collapse returns nil.
func (e *Engine) collapse(ctx context.Context, d Decision, now time.Time) (*records.Entity, int, error) {
	if len(d.Matches) == 1 {
		target := d.Matches[0].Entity.Clone()
		return &target, 0, nil
	}
	if d.Confidence < e.cfg.MergeThreshold {
		return nil, 0, nil
	}
	matches := append([]Candidate(nil), d.Matches...)
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].Entity, matches[j].Entity
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	survivor := matches[0].Entity.Clone()
	for _, c := range matches[1:] {
		mergeProfiles(&survivor, c.Entity, e.policy, now)
		if err := e.store.MergeEntities(ctx, survivor, c.Entity.ID); err != nil {
			return nil, 0, fmt.Errorf("merge %s into %s: %w", c.Entity.ID, survivor.ID, err)
		}
		metrics.ObserveMerge()
		e.logger.Info("entities merged during resolution",
			zap.String("survivor", survivor.ID),
			zap.String("loser", c.Entity.ID),
			zap.String("layer", string(d.Layer)),
		)
	}
	return &survivor, len(matches) - 1, nil
}

func (e *Engine) seed(ctx context.Context, m Mention, layer records.MatchLayer, confidence float64, now time.Time) (string, error) {
	id, err := e.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("entity id: %w", err)
	}
	ent := newEntity(id, m, layer, confidence, e.policy, now)
	if err := e.store.SaveEntity(ctx, ent); err != nil {
		return "", err
	}
	if err := e.link(ctx, m, id, layer, confidence, now); err != nil {
		return "", err
	}
	e.logger.Debug("entity seeded",
		zap.String("entity_id", id),
		zap.String("record", m.Record.String()),
		zap.String("layer", string(layer)),
	)
	return id, nil
}

// link records the mention on entityID and settles any review item queued
// for it.
func (e *Engine) link(ctx context.Context, m Mention, entityID string, layer records.MatchLayer, confidence float64, now time.Time) error {
	err := e.store.LinkRecord(ctx, records.RecordLink{
		Record:     m.Record,
		EntityID:   entityID,
		Layer:      layer,
		Confidence: confidence,
		Mention:    m.Key(),
		LinkedAt:   now,
	})
	if err != nil {
		return err
	}
	return e.store.ResolveReview(ctx, m.Record, m.Key())
}

func (e *Engine) linkHousehold(ctx context.Context, a, b string, evidence records.RecordRef) error {
	return e.store.AddHouseholdEdge(ctx, records.HouseholdEdge{
		A:         a,
		B:         b,
		Relation:  records.RelationHousehold,
		Evidence:  evidence,
		CreatedAt: e.clock.Now().UTC(),
	})
}

func (e *Engine) review(ctx context.Context, m Mention, candidateID string, confidence float64, reason string, sum *Summary) error {
	id, err := e.ids.NewID()
	if err != nil {
		return fmt.Errorf("review id: %w", err)
	}
	item := records.ReviewItem{
		ID:          id,
		Record:      m.Record,
		Mention:     m.Key(),
		CandidateID: candidateID,
		Confidence:  confidence,
		Reason:      reason,
		CreatedAt:   e.clock.Now().UTC(),
	}
	if err := e.store.EnqueueReview(ctx, item); err != nil {
		return err
	}
	metrics.ObserveReviewQueued()
	e.logger.Info("mention routed to review",
		zap.String("record", m.Record.String()),
		zap.String("mention", m.Key()),
		zap.String("candidate_id", candidateID),
		zap.Float64("confidence", confidence),
	)
	sum.Reviewed++
	return nil
}

// chainEntities returns the owners of the property the mention's record
// refers to.
func (e *Engine) chainEntities(ctx context.Context, m Mention) ([]string, error) {
	if m.ParcelID == "" || m.Record.Kind == records.KindProperty {
		return nil, nil
	}
	ref := records.RecordRef{Kind: records.KindProperty, Jurisdiction: m.Record.Jurisdiction, NaturalKey: m.ParcelID}
	links, err := e.store.RecordLinks(ctx, ref)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, l := range links {
		live, err := e.store.ResolveEntityID(ctx, l.EntityID)
		if err != nil {
			return nil, err
		}
		ids = appendUnique(ids, live)
	}
	sort.Strings(ids)
	return ids, nil
}

func (e *Engine) candidates(ctx context.Context, m Mention, chainIDs []string, exclude map[string]bool) ([]Candidate, error) {
	found, err := e.store.FindCandidates(ctx, m.BlockingKeys())
	if err != nil {
		return nil, err
	}
	chained := make(map[string]bool, len(chainIDs))
	for _, id := range chainIDs {
		chained[id] = true
	}
	seen := map[string]bool{}
	var out []Candidate
	for _, ent := range found {
		if exclude[ent.ID] || ent.Tombstoned() {
			continue
		}
		seen[ent.ID] = true
		out = append(out, NewCandidate(ent, chained[ent.ID]))
	}
	for _, id := range chainIDs {
		if seen[id] || exclude[id] {
			continue
		}
		ent, err := e.store.GetEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		seen[ent.ID] = true
		out = append(out, NewCandidate(ent, true))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity.ID < out[j].Entity.ID })
	return out, nil
}

func idKeys(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, "id:"+id)
	}
	return out
}

// Merge folds loserID into survivorID: the loser's records, signals and
// household edges move to the survivor and the loser becomes a redirect.
func (e *Engine) Merge(ctx context.Context, survivorID, loserID string) (records.Entity, error) {
	sid, err := e.store.ResolveEntityID(ctx, survivorID)
	if err != nil {
		return records.Entity{}, err
	}
	lid, err := e.store.ResolveEntityID(ctx, loserID)
	if err != nil {
		return records.Entity{}, err
	}
	if sid == lid {
		return records.Entity{}, fmt.Errorf("entities %s and %s are already one entity %s", survivorID, loserID, sid)
	}
	unlock := e.locks.Lock([]string{"id:" + sid, "id:" + lid})
	defer unlock()

	survivor, err := e.store.GetEntity(ctx, sid)
	if err != nil {
		return records.Entity{}, err
	}
	loser, err := e.store.GetEntity(ctx, lid)
	if err != nil {
		return records.Entity{}, err
	}
	if survivor.ID != sid || loser.ID != lid {
		return records.Entity{}, fmt.Errorf("entities %s and %s changed during merge", sid, lid)
	}
	mergeProfiles(&survivor, loser, e.policy, e.clock.Now().UTC())
	if err := e.store.MergeEntities(ctx, survivor, lid); err != nil {
		return records.Entity{}, err
	}
	metrics.ObserveMerge()
	e.logger.Info("entities merged",
		zap.String("survivor", sid),
		zap.String("loser", lid),
		zap.Int("source_count", survivor.SourceCount),
	)
	return survivor, nil
}

// Assign resolves a reviewed mention by hand. A mention already linked to
// entityID is left as is; one linked elsewhere fails with ErrMentionLinked.
func (e *Engine) Assign(ctx context.Context, ref records.RecordRef, mention, entityID string) (records.Entity, error) {
	rec, err := e.store.GetRecord(ctx, ref)
	if err != nil {
		return records.Entity{}, err
	}
	var (
		m     Mention
		found bool
	)
	for _, candidate := range Extract(rec) {
		if candidate.Key() == mention {
			m, found = candidate, true
			break
		}
	}
	if !found {
		return records.Entity{}, fmt.Errorf("mention %q on %s: %w", mention, ref, records.ErrNotFound)
	}
	id, err := e.store.ResolveEntityID(ctx, entityID)
	if err != nil {
		return records.Entity{}, err
	}
	unlock := e.locks.Lock([]string{"id:" + id})
	defer unlock()

	target, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return records.Entity{}, err
	}
	current, err := e.linkedEntity(ctx, ref, mention)
	if err != nil {
		return records.Entity{}, err
	}
	switch current {
	case "":
	case target.ID:
		return target, e.store.ResolveReview(ctx, ref, mention)
	default:
		return records.Entity{}, fmt.Errorf("%s on %s is linked to %s: %w", mention, ref, current, ErrMentionLinked)
	}
	const manualConfidence = 100
	now := e.clock.Now().UTC()
	absorb(&target, m, records.LayerManualResolution, manualConfidence, e.policy, now)
	if err := e.store.SaveEntity(ctx, target); err != nil {
		return records.Entity{}, err
	}
	if err := e.link(ctx, m, target.ID, records.LayerManualResolution, manualConfidence, now); err != nil {
		return records.Entity{}, err
	}
	metrics.ObserveMatch(string(records.LayerManualResolution))
	return target, nil
}

// linkedEntity returns the live entity a mention is linked to, or "".
func (e *Engine) linkedEntity(ctx context.Context, ref records.RecordRef, mention string) (string, error) {
	links, err := e.store.RecordLinks(ctx, ref)
	if err != nil {
		return "", err
	}
	for _, l := range links {
		if l.Mention == mention {
			return e.store.ResolveEntityID(ctx, l.EntityID)
		}
	}
	return "", nil
}

// Resolve returns the live entity for id, following merge redirects.
func (e *Engine) Resolve(ctx context.Context, id string) (records.Entity, error) {
	return e.store.GetEntity(ctx, id)
}
