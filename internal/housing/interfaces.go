package housing

import (
	"context"
	"io"
	"time"
)

// ListingStore persists listings and answers search queries.
type ListingStore interface {
	UpsertListing(ctx context.Context, listing Listing) (UpsertResult, error)
	SearchListings(ctx context.Context, query ListingQuery) ([]Listing, error)
	GetListing(ctx context.Context, id string) (Listing, error)
}

// CampusStore persists campuses with their addresses.
type CampusStore interface {
	CreateCampus(ctx context.Context, campus Campus) error
	GetCampus(ctx context.Context, id string) (Campus, error)
	ListCampuses(ctx context.Context, universityID string) ([]Campus, error)
}

// UniversityStore persists universities.
type UniversityStore interface {
	CreateUniversity(ctx context.Context, university University) error
	GetUniversity(ctx context.Context, id string) (University, error)
	DeleteUniversity(ctx context.Context, id string) error
	ListUniversities(ctx context.Context) ([]University, error)
}

// JobStore persists ingest job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job IngestJob) error
	UpdateJob(ctx context.Context, jobID string, status JobStatus, errText string, summary IngestSummary) error
	GetJob(ctx context.Context, jobID string) (IngestJob, error)
}

// Queue provides enqueue/dequeue semantics for ingest jobs.
type Queue interface {
	Enqueue(ctx context.Context, req IngestRequest) error
	Dequeue(ctx context.Context) (IngestRequest, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Cache stores JSON-serializable values for a bounded time.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix and reports how many went.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
