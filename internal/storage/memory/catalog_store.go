package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

// CatalogStore holds universities and campuses. It implements both
// housing.UniversityStore and housing.CampusStore so referential checks can
// run under one lock.
type CatalogStore struct {
	mu           sync.RWMutex
	universities map[string]housing.University
	campuses     map[string]housing.Campus
}

// NewCatalogStore constructs an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		universities: make(map[string]housing.University),
		campuses:     make(map[string]housing.Campus),
	}
}

// CreateUniversity stores a university with a unique name.
func (s *CatalogStore) CreateUniversity(_ context.Context, u housing.University) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.universities {
		if strings.EqualFold(existing.Name, u.Name) {
			return &housing.ConflictError{Kind: "university", Name: u.Name}
		}
	}
	s.universities[u.ID] = u
	return nil
}

// GetUniversity returns a university by id.
func (s *CatalogStore) GetUniversity(_ context.Context, id string) (housing.University, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.universities[id]
	if !ok {
		return housing.University{}, &housing.NotFoundError{Kind: "university", ID: id}
	}
	return u, nil
}

// DeleteUniversity removes a university that owns no campuses.
func (s *CatalogStore) DeleteUniversity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.universities[id]
	if !ok {
		return &housing.NotFoundError{Kind: "university", ID: id}
	}
	for _, c := range s.campuses {
		if c.UniversityID == id {
			return &housing.ConflictError{Kind: "university", Name: u.Name, Reason: "still has campuses"}
		}
	}
	delete(s.universities, id)
	return nil
}

// ListUniversities returns universities ordered by name.
func (s *CatalogStore) ListUniversities(_ context.Context) ([]housing.University, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]housing.University, 0, len(s.universities))
	for _, u := range s.universities {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b housing.University) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// CreateCampus stores a campus under an existing university. Campus names are
// unique within a university.
func (s *CatalogStore) CreateCampus(_ context.Context, c housing.Campus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.universities[c.UniversityID]; !ok {
		return &housing.NotFoundError{Kind: "university", ID: c.UniversityID}
	}
	for _, existing := range s.campuses {
		if existing.UniversityID == c.UniversityID && strings.EqualFold(existing.Name, c.Name) {
			return &housing.ConflictError{Kind: "campus", Name: c.Name}
		}
	}
	s.campuses[c.ID] = c
	return nil
}

// GetCampus returns a campus by id.
func (s *CatalogStore) GetCampus(_ context.Context, id string) (housing.Campus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campuses[id]
	if !ok {
		return housing.Campus{}, &housing.NotFoundError{Kind: "campus", ID: id}
	}
	return c, nil
}

// ListCampuses returns campuses ordered by name, optionally limited to one university.
func (s *CatalogStore) ListCampuses(_ context.Context, universityID string) ([]housing.Campus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]housing.Campus, 0)
	for _, c := range s.campuses {
		if universityID != "" && c.UniversityID != universityID {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b housing.Campus) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
