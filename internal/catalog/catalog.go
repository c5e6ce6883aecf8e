// Package catalog manages the universities and campuses listings are anchored to.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/places"
)

// Name length bounds for universities and campuses.
const (
	MinNameLength = 4
	MaxNameLength = 100
)

// DetailsFetcher resolves a campus place into its address.
type DetailsFetcher interface {
	FetchDetails(ctx context.Context, placeID string) (places.Details, error)
}

// Service implements the admin catalog operations.
type Service struct {
	universities housing.UniversityStore
	campuses     housing.CampusStore
	places       DetailsFetcher
	ids          housing.IDGenerator
	logger       *zap.Logger
}

// New constructs a Service.
func New(
	universities housing.UniversityStore,
	campuses housing.CampusStore,
	fetcher DetailsFetcher,
	ids housing.IDGenerator,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		universities: universities,
		campuses:     campuses,
		places:       fetcher,
		ids:          ids,
		logger:       logger.Named("catalog"),
	}
}

// AddUniversity creates a university with a unique name.
func (s *Service) AddUniversity(ctx context.Context, name string) (housing.University, error) {
	name, err := validName("name", name)
	if err != nil {
		return housing.University{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return housing.University{}, err
	}
	u := housing.University{ID: id, Name: name}
	if err := s.universities.CreateUniversity(ctx, u); err != nil {
		return housing.University{}, fmt.Errorf("create university: %w", err)
	}
	s.logger.Info("university added", zap.String("university_id", id), zap.String("name", name))
	return u, nil
}

// RemoveUniversity deletes a university that owns no campuses.
func (s *Service) RemoveUniversity(ctx context.Context, id string) error {
	if err := s.universities.DeleteUniversity(ctx, id); err != nil {
		return fmt.Errorf("delete university: %w", err)
	}
	s.logger.Info("university removed", zap.String("university_id", id))
	return nil
}

// ListUniversities returns every university ordered by name.
func (s *Service) ListUniversities(ctx context.Context) ([]housing.University, error) {
	out, err := s.universities.ListUniversities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list universities: %w", err)
	}
	return out, nil
}

// AddCampus resolves placeID through the Places API and stores the campus
// with its address under universityID.
func (s *Service) AddCampus(ctx context.Context, name, universityID, placeID string) (housing.Campus, error) {
	name, err := validName("name", name)
	if err != nil {
		return housing.Campus{}, err
	}
	if strings.TrimSpace(placeID) == "" {
		return housing.Campus{}, &housing.ValidationError{Field: "place_id", Reason: "required"}
	}
	if _, err := s.universities.GetUniversity(ctx, universityID); err != nil {
		return housing.Campus{}, fmt.Errorf("load university: %w", err)
	}

	details, err := s.places.FetchDetails(ctx, placeID)
	if err != nil {
		return housing.Campus{}, fmt.Errorf("resolve campus place: %w", err)
	}
	addr, err := places.ExtractAddress(details, places.StateLong)
	if err != nil {
		return housing.Campus{}, err
	}

	campusID, err := s.ids.NewID()
	if err != nil {
		return housing.Campus{}, err
	}
	addr.ID, err = s.ids.NewID()
	if err != nil {
		return housing.Campus{}, err
	}
	c := housing.Campus{ID: campusID, Name: name, UniversityID: universityID, Address: addr}
	if err := s.campuses.CreateCampus(ctx, c); err != nil {
		return housing.Campus{}, fmt.Errorf("create campus: %w", err)
	}
	s.logger.Info("campus added",
		zap.String("campus_id", campusID),
		zap.String("university_id", universityID),
		zap.String("city", addr.City),
	)
	return c, nil
}

// ListCampuses returns campuses, optionally only those of one university.
func (s *Service) ListCampuses(ctx context.Context, universityID string) ([]housing.Campus, error) {
	out, err := s.campuses.ListCampuses(ctx, universityID)
	if err != nil {
		return nil, fmt.Errorf("list campuses: %w", err)
	}
	return out, nil
}

func validName(field, raw string) (string, error) {
	name := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(name)
	if n < MinNameLength || n > MaxNameLength {
		return "", &housing.ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("must be %d to %d characters", MinNameLength, MaxNameLength),
		}
	}
	return name, nil
}
