// Package memory provides in-memory stores for development and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

// ListingStore keeps listings keyed by place id.
type ListingStore struct {
	mu      sync.RWMutex
	byPlace map[string]housing.Listing
	placeOf map[string]string
}

// NewListingStore constructs an empty ListingStore.
func NewListingStore() *ListingStore {
	return &ListingStore{
		byPlace: make(map[string]housing.Listing),
		placeOf: make(map[string]string),
	}
}

// UpsertListing inserts a new listing or, when the place id is already stored,
// refreshes only its distance and photo URL.
func (s *ListingStore) UpsertListing(_ context.Context, listing housing.Listing) (housing.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byPlace[listing.PlaceID]; ok {
		existing.DistanceMeters = listing.DistanceMeters
		existing.PhotoURL = cloneString(listing.PhotoURL)
		s.byPlace[listing.PlaceID] = existing
		return housing.UpsertResult{ListingID: existing.ID}, nil
	}
	stored := cloneListing(listing)
	s.byPlace[listing.PlaceID] = stored
	s.placeOf[listing.ID] = listing.PlaceID
	return housing.UpsertResult{ListingID: listing.ID, Inserted: true}, nil
}

// GetListing returns a listing by id.
func (s *ListingStore) GetListing(_ context.Context, id string) (housing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	placeID, ok := s.placeOf[id]
	if !ok {
		return housing.Listing{}, &housing.NotFoundError{Kind: "listing", ID: id}
	}
	return cloneListing(s.byPlace[placeID]), nil
}

// SearchListings filters by campus, category and distance, orders by
// (distance, id) and applies the cursor or offset window.
func (s *ListingStore) SearchListings(_ context.Context, q housing.ListingQuery) ([]housing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var after *housing.Listing
	if q.AfterID != "" {
		placeID, ok := s.placeOf[q.AfterID]
		if !ok {
			return []housing.Listing{}, nil
		}
		l := s.byPlace[placeID]
		after = &l
	}

	matched := make([]housing.Listing, 0)
	for _, l := range s.byPlace {
		if l.CampusID != q.CampusID {
			continue
		}
		if len(q.Categories) > 0 && !slices.Contains(q.Categories, l.Category) {
			continue
		}
		if q.MinDistance != nil && l.DistanceMeters < *q.MinDistance {
			continue
		}
		if q.MaxDistance != nil && l.DistanceMeters > *q.MaxDistance {
			continue
		}
		if after != nil && compareListings(l, *after) <= 0 {
			continue
		}
		matched = append(matched, l)
	}
	slices.SortFunc(matched, compareListings)

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []housing.Listing{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]housing.Listing, len(matched))
	for i, l := range matched {
		out[i] = cloneListing(l)
	}
	return out, nil
}

// Len reports how many listings are stored.
func (s *ListingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPlace)
}

func compareListings(a, b housing.Listing) int {
	return cmp.Or(cmp.Compare(a.DistanceMeters, b.DistanceMeters), cmp.Compare(a.ID, b.ID))
}

func cloneListing(l housing.Listing) housing.Listing {
	l.Website = cloneString(l.Website)
	l.Phone = cloneString(l.Phone)
	l.PhotoURL = cloneString(l.PhotoURL)
	l.PhotoAttributions = append([]string{}, l.PhotoAttributions...)
	return l
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
