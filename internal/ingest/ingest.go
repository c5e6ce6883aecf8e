// Package ingest discovers housing near a campus and upserts it into the listing store.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ratemystay/internal/geo"
	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/metrics"
	"github.com/JakeFAU/ratemystay/internal/places"
)

// ZeroDistanceSentinel replaces a computed distance of exactly 0 meters.
const ZeroDistanceSentinel = 20000

// PlacesAPI is the subset of the Places client the ingestor uses.
type PlacesAPI interface {
	SearchNearby(ctx context.Context, s places.Search) ([]string, error)
	FetchDetails(ctx context.Context, placeID string) (places.Details, error)
	PhotoURL(photoReference string) string
}

// CategorySearch maps a listing category onto a keyword search.
type CategorySearch struct {
	Category     housing.Category
	Keyword      string
	RadiusMeters int
}

// DefaultSearches are the three category searches run for every campus.
var DefaultSearches = []CategorySearch{
	{Category: housing.CategoryDormitory, Keyword: "dormitory", RadiusMeters: 2000},
	{Category: housing.CategoryApartment, Keyword: "apartment", RadiusMeters: 10000},
	{Category: housing.CategoryTownhome, Keyword: "townhomes", RadiusMeters: 10000},
}

// Config tunes an ingestion run.
type Config struct {
	Searches         []CategorySearch
	MaxPages         int
	PlaceConcurrency int
	// ArchivePrefix is the object prefix for raw details payloads.
	ArchivePrefix string
}

// Outcome labels for a single place.
const (
	OutcomeInserted = "inserted"
	OutcomeUpdated  = "updated"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Ingestor runs campus ingestions.
type Ingestor struct {
	cfg      Config
	places   PlacesAPI
	campuses housing.CampusStore
	listings housing.ListingStore
	ids      housing.IDGenerator
	archive  housing.BlobStore
	hasher   housing.Hasher
	cache    CacheInvalidator
	logger   *zap.Logger
}

// CacheInvalidator forgets cached search results for a campus.
type CacheInvalidator interface {
	InvalidateCampus(ctx context.Context, campusID string) error
}

// WithCacheInvalidation clears the campus's cached search pages after a run
// that inserted or updated listings.
func WithCacheInvalidation(c CacheInvalidator) Option {
	return func(i *Ingestor) { i.cache = c }
}

// Option customizes an Ingestor.
type Option func(*Ingestor)

// WithArchive stores each raw details payload under a content-addressed path.
func WithArchive(store housing.BlobStore, hasher housing.Hasher) Option {
	return func(i *Ingestor) {
		i.archive = store
		i.hasher = hasher
	}
}

// New constructs an Ingestor.
func New(
	cfg Config,
	api PlacesAPI,
	campuses housing.CampusStore,
	listings housing.ListingStore,
	ids housing.IDGenerator,
	logger *zap.Logger,
	opts ...Option,
) *Ingestor {
	if len(cfg.Searches) == 0 {
		cfg.Searches = DefaultSearches
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if cfg.PlaceConcurrency <= 0 {
		cfg.PlaceConcurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Ingestor{
		cfg:      cfg,
		places:   api,
		campuses: campuses,
		listings: listings,
		ids:      ids,
		logger:   logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type candidate struct {
	placeID  string
	category housing.Category
}

// Ingest discovers and upserts listings for campusID. Per-place failures are
// counted in the summary; only a missing campus, every category search failing
// or context cancellation produce an error.
func (i *Ingestor) Ingest(ctx context.Context, campusID string) (housing.IngestSummary, error) {
	summary := housing.IngestSummary{ByCategory: make(map[housing.Category]int)}

	campus, err := i.campuses.GetCampus(ctx, campusID)
	if err != nil {
		return summary, fmt.Errorf("load campus: %w", err)
	}
	origin := geo.Point{Lat: campus.Address.Latitude, Lon: campus.Address.Longitude}
	logger := i.logger.With(zap.String("campus_id", campusID))

	found := make([][]string, len(i.cfg.Searches))
	searchErrs := make([]error, len(i.cfg.Searches))
	var searches errgroup.Group
	for idx, s := range i.cfg.Searches {
		searches.Go(func() error {
			ids, err := i.places.SearchNearby(ctx, places.Search{
				Keyword:      s.Keyword,
				RadiusMeters: s.RadiusMeters,
				MaxPages:     i.cfg.MaxPages,
				Location:     origin,
			})
			found[idx] = ids
			searchErrs[idx] = err
			return nil
		})
	}
	_ = searches.Wait()

	var candidates []candidate
	for idx, s := range i.cfg.Searches {
		if err := searchErrs[idx]; err != nil {
			summary.SearchErrors++
			logger.Warn("category search failed",
				zap.String("category", string(s.Category)),
				zap.Int("partial_results", len(found[idx])),
				zap.Error(err),
			)
		}
		for _, id := range found[idx] {
			candidates = append(candidates, candidate{placeID: id, category: s.Category})
		}
		summary.ByCategory[s.Category] += len(found[idx])
	}
	summary.Discovered = len(candidates)
	if summary.SearchErrors == len(i.cfg.Searches) {
		return summary, fmt.Errorf("all category searches failed: %w", errors.Join(searchErrs...))
	}

	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	group.SetLimit(i.cfg.PlaceConcurrency)
	for _, c := range candidates {
		group.Go(func() error {
			outcome, err := i.processPlace(ctx, campus, origin, c)
			metrics.ObserveListing(string(c.category), outcome)
			if err != nil {
				level := logger.Warn
				if outcome == OutcomeSkipped {
					level = logger.Debug
				}
				level("place not stored",
					zap.String("place_id", c.placeID),
					zap.String("category", string(c.category)),
					zap.String("outcome", outcome),
					zap.Error(err),
				)
			}

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeInserted:
				summary.Inserted++
			case OutcomeUpdated:
				summary.Updated++
			case OutcomeSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("ingest campus %s: %w", campusID, err)
	}
	if i.cache != nil && summary.Inserted+summary.Updated > 0 {
		if err := i.cache.InvalidateCampus(ctx, campusID); err != nil {
			logger.Warn("search cache invalidation failed", zap.Error(err))
		}
	}
	logger.Info("ingestion complete",
		zap.Int("discovered", summary.Discovered),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("search_errors", summary.SearchErrors),
	)
	return summary, nil
}

func (i *Ingestor) processPlace(ctx context.Context, campus housing.Campus, origin geo.Point, c candidate) (string, error) {
	details, err := i.places.FetchDetails(ctx, c.placeID)
	if err != nil {
		return OutcomeFailed, err
	}

	addr, err := places.ExtractAddress(details, places.StateShort)
	if err != nil {
		return OutcomeSkipped, err
	}

	listing, err := i.buildListing(campus, origin, c, details, addr)
	if err != nil {
		return OutcomeFailed, err
	}

	i.archiveDetails(ctx, campus.ID, details)

	res, err := i.listings.UpsertListing(ctx, listing)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("upsert listing: %w", err)
	}
	if res.Inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

func (i *Ingestor) buildListing(
	campus housing.Campus,
	origin geo.Point,
	c candidate,
	d places.Details,
	addr housing.Address,
) (housing.Listing, error) {
	listingID, err := i.ids.NewID()
	if err != nil {
		return housing.Listing{}, err
	}
	addr.ID, err = i.ids.NewID()
	if err != nil {
		return housing.Listing{}, err
	}

	distance := geo.Distance(geo.Point{Lat: addr.Latitude, Lon: addr.Longitude}, origin)
	if distance == 0 {
		distance = ZeroDistanceSentinel
	}

	listing := housing.Listing{
		ID:                listingID,
		PlaceID:           c.placeID,
		Name:              d.Name,
		Category:          c.category,
		DistanceMeters:    distance,
		Website:           optional(d.Website),
		Phone:             NormalizePhone(d.InternationalPhoneNumber),
		PhotoAttributions: []string{},
		MapsURL:           d.URL,
		CampusID:          campus.ID,
		Address:           addr,
	}
	if photo, ok := d.PrimaryPhoto(); ok && photo.PhotoReference != "" {
		u := i.places.PhotoURL(photo.PhotoReference)
		listing.PhotoURL = &u
		if len(photo.HTMLAttributions) > 0 {
			listing.PhotoAttributions = photo.HTMLAttributions
		}
	}
	return listing, nil
}

func (i *Ingestor) archiveDetails(ctx context.Context, campusID string, d places.Details) {
	if i.archive == nil || i.hasher == nil || len(d.Raw) == 0 {
		return
	}
	digest, err := i.hasher.Hash(d.Raw)
	if err != nil {
		i.logger.Warn("hash details payload", zap.String("place_id", d.PlaceID), zap.Error(err))
		return
	}
	objectPath := path.Join(i.cfg.ArchivePrefix, campusID, d.PlaceID, digest+".json")
	if _, err := i.archive.PutObject(ctx, objectPath, "application/json", bytes.NewReader(d.Raw)); err != nil {
		i.logger.Warn("archive details payload", zap.String("path", objectPath), zap.Error(err))
	}
}

// NormalizePhone drops the leading country-code segment of an international
// number ("+1 512-478-9811") and keeps only digits. It returns nil when no
// digits remain.
func NormalizePhone(international string) *string {
	fields := strings.Fields(international)
	if len(fields) == 0 {
		return nil
	}
	if strings.HasPrefix(fields[0], "+") {
		fields = fields[1:]
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, strings.Join(fields, ""))
	if digits == "" {
		return nil
	}
	return &digits
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
