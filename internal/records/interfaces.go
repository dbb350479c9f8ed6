package records

import (
	"context"
	"time"
)

// Filter narrows record queries. Zero values mean "any".
type Filter struct {
	Kind         RecordKind
	Jurisdiction string
	ParcelID     string
	JobID        string
	Since        time.Time
	Limit        int
}

// RecordStore upserts normalized records keyed by (jurisdiction, natural key).
type RecordStore interface {
	UpsertProperty(ctx context.Context, p Property) (UpsertOutcome, error)
	UpsertDocument(ctx context.Context, d Document) (UpsertOutcome, error)
	UpsertCourtCase(ctx context.Context, c CourtCase) (UpsertOutcome, error)
	UpsertProfessional(ctx context.Context, p Professional) (UpsertOutcome, error)
	QueryRecords(ctx context.Context, filter Filter) ([]Record, error)
	GetRecord(ctx context.Context, ref RecordRef) (Record, error)
}

// EntityStore persists canonical entities, their record links and household edges.
type EntityStore interface {
	SaveEntity(ctx context.Context, e Entity) error
	// GetEntity follows redirects and returns the surviving entity.
	GetEntity(ctx context.Context, id string) (Entity, error)
	// ResolveEntityID follows redirects without loading the profile.
	ResolveEntityID(ctx context.Context, id string) (string, error)
	FindCandidates(ctx context.Context, keys []string) ([]Entity, error)
	// LinkRecord ties one name mention of a record to an entity. A mention is
	// linked to at most one entity; relinking replaces the previous link.
	LinkRecord(ctx context.Context, link RecordLink) error
	// RecordLinks returns the links of every mention of ref.
	RecordLinks(ctx context.Context, ref RecordRef) ([]RecordLink, error)
	LinkedRecords(ctx context.Context, entityID string) ([]RecordLink, error)
	// MergeEntities saves the survivor, tombstones the loser and moves its links,
	// signals and household edges atomically.
	MergeEntities(ctx context.Context, survivor Entity, loserID string) error
	AddHouseholdEdge(ctx context.Context, edge HouseholdEdge) error
	Household(ctx context.Context, entityID string) ([]HouseholdEdge, error)
	ListEntities(ctx context.Context, limit int) ([]Entity, error)
}

// SignalStore keeps the append-only signal log per entity.
type SignalStore interface {
	AppendSignals(ctx context.Context, signals []Signal) error
	ListSignals(ctx context.Context, entityID string) ([]Signal, error)
	SaveScore(ctx context.Context, entityID string, score float64) error
}

// JobStore keeps terminal job results. Results are append-only.
type JobStore interface {
	SaveJobResult(ctx context.Context, result JobResult) error
	GetJobResult(ctx context.Context, jobID string) (JobResult, error)
	ListJobResults(ctx context.Context, jurisdictionID string, limit int) ([]JobResult, error)
}

// ReviewStore holds sub-threshold matches for manual review.
type ReviewStore interface {
	EnqueueReview(ctx context.Context, item ReviewItem) error
	ListReview(ctx context.Context, limit int) ([]ReviewItem, error)
	// ResolveReview drops the queued item for a mention once it is linked.
	ResolveReview(ctx context.Context, ref RecordRef, mention string) error
}

// Store is the durable store gateway handle opened once per process.
type Store interface {
	RecordStore
	EntityStore
	SignalStore
	JobStore
	ReviewStore
	Close()
}

// BlobStore writes raw source payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes downstream events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
