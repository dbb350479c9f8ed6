package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/records-resolver/internal/records"
)

type recordKey struct {
	kind         records.RecordKind
	jurisdiction string
	naturalKey   string
}

func keyOf(ref records.RecordRef) recordKey {
	return recordKey{kind: ref.Kind, jurisdiction: ref.Jurisdiction, naturalKey: ref.NaturalKey}
}

type linkKey struct {
	record  recordKey
	mention string
}

// Store is an in-memory records.Store for development and tests. Every call
// is atomic under a single lock.
type Store struct {
	mu        sync.RWMutex
	records   map[recordKey]records.Record
	entities  map[string]records.Entity
	keyIndex  map[string]map[string]struct{}
	links     map[linkKey]records.RecordLink
	household map[[2]string]records.HouseholdEdge
	signals   map[string][]records.Signal
	jobs      map[string]records.JobResult
	jobOrder  []string
	review    []records.ReviewItem
}

var _ records.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		records:   make(map[recordKey]records.Record),
		entities:  make(map[string]records.Entity),
		keyIndex:  make(map[string]map[string]struct{}),
		links:     make(map[linkKey]records.RecordLink),
		household: make(map[[2]string]records.HouseholdEdge),
		signals:   make(map[string][]records.Signal),
		jobs:      make(map[string]records.JobResult),
	}
}

// Close implements records.Store.
func (s *Store) Close() {}

func (s *Store) upsert(rec records.Record) records.UpsertOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(rec.Ref())
	_, exists := s.records[k]
	s.records[k] = rec
	if exists {
		return records.OutcomeUpdated
	}
	return records.OutcomeCreated
}

// UpsertProperty implements records.RecordStore.
func (s *Store) UpsertProperty(_ context.Context, p records.Property) (records.UpsertOutcome, error) {
	if p.Jurisdiction == "" || p.ParcelID == "" {
		return 0, fmt.Errorf("property natural key is required")
	}
	return s.upsert(p), nil
}

// UpsertDocument implements records.RecordStore.
func (s *Store) UpsertDocument(_ context.Context, d records.Document) (records.UpsertOutcome, error) {
	if d.Jurisdiction == "" || d.DocumentNumber == "" {
		return 0, fmt.Errorf("document natural key is required")
	}
	d.Grantors = append([]string(nil), d.Grantors...)
	d.Grantees = append([]string(nil), d.Grantees...)
	return s.upsert(d), nil
}

// UpsertCourtCase implements records.RecordStore.
func (s *Store) UpsertCourtCase(_ context.Context, c records.CourtCase) (records.UpsertOutcome, error) {
	if c.Jurisdiction == "" || c.CaseNumber == "" {
		return 0, fmt.Errorf("court case natural key is required")
	}
	c.Parties = append([]records.Party(nil), c.Parties...)
	return s.upsert(c), nil
}

// UpsertProfessional implements records.RecordStore.
func (s *Store) UpsertProfessional(_ context.Context, p records.Professional) (records.UpsertOutcome, error) {
	if p.Jurisdiction == "" || p.RegistryID == "" {
		return 0, fmt.Errorf("professional natural key is required")
	}
	p.Phones = append([]string(nil), p.Phones...)
	p.Emails = append([]string(nil), p.Emails...)
	return s.upsert(p), nil
}

// QueryRecords implements records.RecordStore. Results are ordered by kind,
// jurisdiction and natural key.
func (s *Store) QueryRecords(_ context.Context, f records.Filter) ([]records.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]records.Record, 0)
	for k, rec := range s.records {
		if f.Kind != "" && k.kind != f.Kind {
			continue
		}
		if f.Jurisdiction != "" && k.jurisdiction != f.Jurisdiction {
			continue
		}
		if !f.Since.IsZero() && rec.Scraped().Before(f.Since) {
			continue
		}
		if f.ParcelID != "" && parcelOf(rec) != f.ParcelID {
			continue
		}
		if f.JobID != "" && jobOf(rec) != f.JobID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Ref(), out[j].Ref()
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Jurisdiction != b.Jurisdiction {
			return a.Jurisdiction < b.Jurisdiction
		}
		return a.NaturalKey < b.NaturalKey
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func parcelOf(rec records.Record) string {
	switch r := rec.(type) {
	case records.Property:
		return r.ParcelID
	case records.Document:
		return r.ParcelID
	case records.CourtCase:
		return r.ParcelID
	default:
		return ""
	}
}

func jobOf(rec records.Record) string {
	switch r := rec.(type) {
	case records.Property:
		return r.JobID
	case records.Document:
		return r.JobID
	case records.CourtCase:
		return r.JobID
	case records.Professional:
		return r.JobID
	default:
		return ""
	}
}

// GetRecord implements records.RecordStore.
func (s *Store) GetRecord(_ context.Context, ref records.RecordRef) (records.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[keyOf(ref)]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", ref, records.ErrNotFound)
	}
	return rec, nil
}

// SaveEntity implements records.EntityStore.
func (s *Store) SaveEntity(_ context.Context, e records.Entity) error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveEntityLocked(e)
	return nil
}

// saveEntityLocked writes e but keeps the stored score of an existing
// entity; only SaveScore changes it.
func (s *Store) saveEntityLocked(e records.Entity) {
	if prev, ok := s.entities[e.ID]; ok {
		for _, k := range prev.BlockingKeys {
			delete(s.keyIndex[k], e.ID)
		}
		e.Score = prev.Score
	}
	s.entities[e.ID] = e.Clone()
	if e.Tombstoned() {
		return
	}
	for _, k := range e.BlockingKeys {
		if s.keyIndex[k] == nil {
			s.keyIndex[k] = make(map[string]struct{})
		}
		s.keyIndex[k][e.ID] = struct{}{}
	}
}

func (s *Store) resolveLocked(id string) (string, error) {
	seen := map[string]bool{}
	for {
		e, ok := s.entities[id]
		if !ok {
			return "", fmt.Errorf("entity %s: %w", id, records.ErrNotFound)
		}
		if !e.Tombstoned() {
			return id, nil
		}
		if seen[id] {
			return "", fmt.Errorf("entity %s: redirect cycle", id)
		}
		seen[id] = true
		id = e.RedirectTo
	}
}

// GetEntity implements records.EntityStore.
func (s *Store) GetEntity(_ context.Context, id string) (records.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, err := s.resolveLocked(id)
	if err != nil {
		return records.Entity{}, err
	}
	return s.entities[live].Clone(), nil
}

// ResolveEntityID implements records.EntityStore.
func (s *Store) ResolveEntityID(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(id)
}

// FindCandidates implements records.EntityStore. Entities are returned once,
// ordered by id.
func (s *Store) FindCandidates(_ context.Context, keys []string) ([]records.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := map[string]struct{}{}
	for _, k := range keys {
		for id := range s.keyIndex[k] {
			ids[id] = struct{}{}
		}
	}
	out := make([]records.Entity, 0, len(ids))
	for id := range ids {
		out = append(out, s.entities[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LinkRecord implements records.EntityStore.
func (s *Store) LinkRecord(_ context.Context, link records.RecordLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[link.EntityID]; !ok {
		return fmt.Errorf("entity %s: %w", link.EntityID, records.ErrNotFound)
	}
	s.links[linkKey{record: keyOf(link.Record), mention: link.Mention}] = link
	return nil
}

// RecordLinks implements records.EntityStore.
func (s *Store) RecordLinks(_ context.Context, ref records.RecordRef) ([]records.RecordLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := keyOf(ref)
	var out []records.RecordLink
	for lk, link := range s.links {
		if lk.record == k {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mention < out[j].Mention })
	return out, nil
}

// LinkedRecords implements records.EntityStore.
func (s *Store) LinkedRecords(_ context.Context, entityID string) ([]records.RecordLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, err := s.resolveLocked(entityID)
	if err != nil {
		return nil, err
	}
	var out []records.RecordLink
	for _, link := range s.links {
		if link.EntityID == live {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Record != out[j].Record {
			return out[i].Record.String() < out[j].Record.String()
		}
		return out[i].Mention < out[j].Mention
	})
	return out, nil
}

// MergeEntities implements records.EntityStore.
func (s *Store) MergeEntities(_ context.Context, survivor records.Entity, loserID string) error {
	if survivor.ID == loserID {
		return fmt.Errorf("cannot merge entity %s into itself", loserID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	loser, ok := s.entities[loserID]
	if !ok {
		return fmt.Errorf("entity %s: %w", loserID, records.ErrNotFound)
	}
	if loser.Tombstoned() {
		return fmt.Errorf("entity %s already merged into %s", loserID, loser.RedirectTo)
	}
	if _, ok := s.entities[survivor.ID]; !ok {
		return fmt.Errorf("entity %s: %w", survivor.ID, records.ErrNotFound)
	}

	s.saveEntityLocked(survivor)
	tomb := records.Entity{
		ID:          loser.ID,
		RedirectTo:  survivor.ID,
		CreatedAt:   loser.CreatedAt,
		LastUpdated: survivor.LastUpdated,
	}
	s.saveEntityLocked(tomb)

	for k, link := range s.links {
		if link.EntityID == loserID {
			link.EntityID = survivor.ID
			s.links[k] = link
		}
	}

	merged := s.signals[survivor.ID]
	for _, sig := range s.signals[loserID] {
		sig.EntityID = survivor.ID
		if !containsSignal(merged, sig) {
			merged = append(merged, sig)
		}
	}
	s.signals[survivor.ID] = merged
	delete(s.signals, loserID)

	for k, edge := range s.household {
		if edge.A != loserID && edge.B != loserID {
			continue
		}
		delete(s.household, k)
		if edge.A == loserID {
			edge.A = survivor.ID
		}
		if edge.B == loserID {
			edge.B = survivor.ID
		}
		if edge.A == edge.B {
			continue
		}
		edge = edge.Canonical()
		s.household[[2]string{edge.A, edge.B}] = edge
	}
	return nil
}

func containsSignal(list []records.Signal, sig records.Signal) bool {
	for _, existing := range list {
		if existing.SameAs(sig) {
			return true
		}
	}
	return false
}

// AddHouseholdEdge implements records.EntityStore. Edges are undirected and
// deduplicated.
func (s *Store) AddHouseholdEdge(_ context.Context, edge records.HouseholdEdge) error {
	edge = edge.Canonical()
	if edge.A == "" || edge.A == edge.B {
		return fmt.Errorf("household edge needs two distinct entities")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{edge.A, edge.B}
	if _, exists := s.household[key]; !exists {
		s.household[key] = edge
	}
	return nil
}

// Household implements records.EntityStore.
func (s *Store) Household(_ context.Context, entityID string) ([]records.HouseholdEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, err := s.resolveLocked(entityID)
	if err != nil {
		return nil, err
	}
	var out []records.HouseholdEdge
	for _, edge := range s.household {
		if edge.A == live || edge.B == live {
			out = append(out, edge)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out, nil
}

// ListEntities implements records.EntityStore. Tombstones are skipped.
func (s *Store) ListEntities(_ context.Context, limit int) ([]records.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]records.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if e.Tombstoned() {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendSignals implements records.SignalStore. Identical signals are stored once.
func (s *Store) AppendSignals(_ context.Context, signals []records.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range signals {
		live, err := s.resolveLocked(sig.EntityID)
		if err != nil {
			return err
		}
		sig.EntityID = live
		sig.Evidence = append([]records.RecordRef(nil), sig.Evidence...)
		if containsSignal(s.signals[live], sig) {
			continue
		}
		s.signals[live] = append(s.signals[live], sig)
	}
	return nil
}

// ListSignals implements records.SignalStore, oldest first.
func (s *Store) ListSignals(_ context.Context, entityID string) ([]records.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, err := s.resolveLocked(entityID)
	if err != nil {
		return nil, err
	}
	out := append([]records.Signal(nil), s.signals[live]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

// SaveScore implements records.SignalStore.
func (s *Store) SaveScore(_ context.Context, entityID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	live, err := s.resolveLocked(entityID)
	if err != nil {
		return err
	}
	e := s.entities[live]
	e.Score = score
	s.entities[live] = e
	return nil
}

// SaveJobResult implements records.JobStore. Results are append-only.
func (s *Store) SaveJobResult(_ context.Context, result records.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[result.JobID]; exists {
		return fmt.Errorf("job result %s already recorded", result.JobID)
	}
	s.jobs[result.JobID] = result.Clone()
	s.jobOrder = append(s.jobOrder, result.JobID)
	return nil
}

// GetJobResult implements records.JobStore.
func (s *Store) GetJobResult(_ context.Context, jobID string) (records.JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.jobs[jobID]
	if !ok {
		return records.JobResult{}, fmt.Errorf("job %s: %w", jobID, records.ErrNotFound)
	}
	return r.Clone(), nil
}

// ListJobResults implements records.JobStore, newest first.
func (s *Store) ListJobResults(_ context.Context, jurisdictionID string, limit int) ([]records.JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []records.JobResult
	for i := len(s.jobOrder) - 1; i >= 0; i-- {
		r := s.jobs[s.jobOrder[i]]
		if jurisdictionID != "" && r.JurisdictionID != jurisdictionID {
			continue
		}
		out = append(out, r.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// EnqueueReview implements records.ReviewStore. A record mention is queued once.
func (s *Store) EnqueueReview(_ context.Context, item records.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.review {
		if existing.Record == item.Record && existing.Mention == item.Mention {
			return nil
		}
	}
	s.review = append(s.review, item)
	return nil
}

// ResolveReview implements records.ReviewStore.
func (s *Store) ResolveReview(_ context.Context, ref records.RecordRef, mention string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.review[:0]
	for _, item := range s.review {
		if item.Record == ref && item.Mention == mention {
			continue
		}
		kept = append(kept, item)
	}
	s.review = kept
	return nil
}

// ListReview implements records.ReviewStore, oldest first.
func (s *Store) ListReview(_ context.Context, limit int) ([]records.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.review)
	if limit > 0 && n > limit {
		n = limit
	}
	return append([]records.ReviewItem(nil), s.review[:n]...), nil
}
