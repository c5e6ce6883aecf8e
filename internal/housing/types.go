// Package housing defines core types shared across subsystems.
package housing

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a listing.
type Category string

// Listing categories persisted in listings.category.
const (
	CategoryDormitory Category = "DORMITORY"
	CategoryApartment Category = "APARTMENT"
	CategoryTownhome  Category = "TOWNHOME"
)

// AllCategories is the default category filter.
var AllCategories = []Category{CategoryDormitory, CategoryApartment, CategoryTownhome}

// ParseCategory accepts a category name in any case.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", raw)}
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryDormitory, CategoryApartment, CategoryTownhome:
		return true
	default:
		return false
	}
}

// Address is owned by exactly one listing or campus.
type Address struct {
	ID        string  `json:"id"`
	Street    string  `json:"street"`
	City      string  `json:"city"`
	State     string  `json:"state"`
	Zip       string  `json:"zip"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// University owns zero or more campuses.
type University struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Campus is the anchor point listings are measured from.
type Campus struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	UniversityID string  `json:"university_id"`
	Address      Address `json:"address"`
}

// Listing is a living space discovered near a campus.
type Listing struct {
	ID                string   `json:"id"`
	PlaceID           string   `json:"place_id"`
	Name              string   `json:"name"`
	Category          Category `json:"category"`
	DistanceMeters    int      `json:"distance_meters"`
	Website           *string  `json:"website,omitempty"`
	Phone             *string  `json:"phone,omitempty"`
	PhotoURL          *string  `json:"photo_url,omitempty"`
	PhotoAttributions []string `json:"photo_attributions"`
	MapsURL           string   `json:"maps_url"`
	CampusID          string   `json:"campus_id"`
	Address           Address  `json:"address"`
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	ListingID string
	Inserted  bool
}

// PagingMode selects how search pages are addressed. A deployment uses exactly one.
type PagingMode string

// Supported paging modes.
const (
	PagingOffset PagingMode = "offset"
	PagingCursor PagingMode = "cursor"
)

// Page addresses one page of search results. Index is used in offset mode, Cursor
// (the id of the last listing already seen) in cursor mode.
type Page struct {
	Index  int    `json:"page,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	// IndexSet records that the caller sent an index, so an explicit page 0
	// is distinguishable from no index at all.
	IndexSet bool `json:"-"`
}

// SortKey names a sort order for search results.
type SortKey string

// SortDistanceAsc is the only sort order the store implements.
const SortDistanceAsc SortKey = "distance_asc"

// Filter narrows a listing search. Rating, price and sort are part of the request
// contract but listings carry no rating or price data, so only the default sort is accepted.
type Filter struct {
	Categories  []Category `json:"categories,omitempty"`
	MinDistance *int       `json:"min_distance,omitempty"`
	MaxDistance *int       `json:"max_distance,omitempty"`
	MinRating   *float64   `json:"min_rating,omitempty"`
	MaxRating   *float64   `json:"max_rating,omitempty"`
	MinPrice    *float64   `json:"min_price,omitempty"`
	MaxPrice    *float64   `json:"max_price,omitempty"`
	Sort        []SortKey  `json:"sort,omitempty"`
}

// ListingQuery is the store-level form of a validated search.
type ListingQuery struct {
	CampusID    string
	Categories  []Category
	MinDistance *int
	MaxDistance *int
	Limit       int
	Offset      int
	// AfterID resumes after this listing in (distance, id) order; empty starts at the top.
	AfterID string
}

// JobStatus represents the lifecycle state of an ingest job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IngestSummary counts what one ingestion run did.
type IngestSummary struct {
	Discovered int              `json:"discovered"`
	Inserted   int              `json:"inserted"`
	Updated    int              `json:"updated"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	ByCategory map[Category]int `json:"by_category"`
	// SearchErrors counts category searches that failed outright.
	SearchErrors int `json:"search_errors"`
}

// IngestJob is the metadata persisted for each admin-triggered ingestion.
type IngestJob struct {
	ID        string        `json:"id"`
	CampusID  string        `json:"campus_id"`
	Status    JobStatus     `json:"status"`
	Submitted time.Time     `json:"submitted_at"`
	Started   *time.Time    `json:"started_at,omitempty"`
	Finished  *time.Time    `json:"finished_at,omitempty"`
	ErrorText string        `json:"error_text,omitempty"`
	Summary   IngestSummary `json:"summary"`
}

// IngestRequest wraps a job ready to run.
type IngestRequest struct {
	JobID     string
	CampusID  string
	Attempt   int
	Submitted int64
}
