// Package search serves filtered, distance-ordered, paginated listing queries.
package search

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/cache"
	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/metrics"
)

// DefaultPageSize is the number of listings in one page.
const DefaultPageSize = 20

// Config controls paging and caching.
type Config struct {
	PageSize int
	Paging   housing.PagingMode
	// CachePrefix namespaces cache keys.
	CachePrefix string
	CacheTTL    time.Duration
}

// Service answers listing searches.
type Service struct {
	cfg    Config
	store  housing.ListingStore
	cache  housing.Cache
	logger *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithCache caches result pages for cfg.CacheTTL.
func WithCache(c housing.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// New constructs a Service.
func New(cfg Config, store housing.ListingStore, logger *zap.Logger, opts ...Option) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Paging == "" {
		cfg.Paging = housing.PagingOffset
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "listings"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{cfg: cfg, store: store, logger: logger.Named("search")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode reports the paging mode of this deployment.
func (s *Service) Mode() housing.PagingMode { return s.cfg.Paging }

// PageSize reports the number of listings per page.
func (s *Service) PageSize() int { return s.cfg.PageSize }

// Search returns one page of listings for campusID ordered by ascending
// distance, ties broken by id. No match, a page past the end or an unknown
// cursor yield an empty slice.
func (s *Service) Search(ctx context.Context, campusID string, filter housing.Filter, page housing.Page) ([]housing.Listing, error) {
	q, err := s.buildQuery(campusID, filter, page)
	if err != nil {
		return nil, err
	}

	key := ""
	if s.cache != nil {
		key = cache.QueryKey(s.campusPrefix(campusID), queryParams(q))
		var cached []housing.Listing
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("search cache read", zap.String("key", key), zap.Error(err))
		}
		if hit {
			metrics.ObserveSearch("hit")
			return cached, nil
		}
		metrics.ObserveSearch("miss")
	} else {
		metrics.ObserveSearch("disabled")
	}

	listings, err := s.store.SearchListings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	if listings == nil {
		listings = []housing.Listing{}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, listings, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("search cache write", zap.String("key", key), zap.Error(err))
		}
	}
	return listings, nil
}

// InvalidateCampus drops every cached page for campusID.
func (s *Service) InvalidateCampus(ctx context.Context, campusID string) error {
	if s.cache == nil {
		return nil
	}
	n, err := s.cache.DeletePrefix(ctx, s.campusPrefix(campusID)+":")
	if err != nil {
		return fmt.Errorf("invalidate campus %s: %w", campusID, err)
	}
	s.logger.Debug("search cache invalidated", zap.String("campus_id", campusID), zap.Int("keys", n))
	return nil
}

func (s *Service) campusPrefix(campusID string) string {
	return s.cfg.CachePrefix + ":" + campusID
}

func (s *Service) buildQuery(campusID string, filter housing.Filter, page housing.Page) (housing.ListingQuery, error) {
	if strings.TrimSpace(campusID) == "" {
		return housing.ListingQuery{}, &housing.ValidationError{Field: "campus_id", Reason: "required"}
	}
	if err := validateUnsupported(filter); err != nil {
		return housing.ListingQuery{}, err
	}

	categories, err := normalizeCategories(filter.Categories)
	if err != nil {
		return housing.ListingQuery{}, err
	}
	if err := validateDistance(filter.MinDistance, filter.MaxDistance); err != nil {
		return housing.ListingQuery{}, err
	}

	q := housing.ListingQuery{
		CampusID:    campusID,
		Categories:  categories,
		MinDistance: filter.MinDistance,
		MaxDistance: filter.MaxDistance,
		Limit:       s.cfg.PageSize,
	}

	if page.Cursor != "" && (page.IndexSet || page.Index != 0) {
		return housing.ListingQuery{}, &housing.ValidationError{Field: "page", Reason: "page and cursor are mutually exclusive"}
	}
	switch s.cfg.Paging {
	case housing.PagingCursor:
		if page.IndexSet || page.Index != 0 {
			return housing.ListingQuery{}, &housing.ValidationError{Field: "page", Reason: "this deployment pages by cursor"}
		}
		q.AfterID = page.Cursor
	default:
		if page.Cursor != "" {
			return housing.ListingQuery{}, &housing.ValidationError{Field: "cursor", Reason: "this deployment pages by index"}
		}
		if page.Index < 0 {
			return housing.ListingQuery{}, &housing.ValidationError{Field: "page", Reason: "must not be negative"}
		}
		q.Offset = page.Index * s.cfg.PageSize
	}
	return q, nil
}

// Rating and price are accepted by the request shape but listings carry
// neither, so any value is rejected instead of silently ignored.
func validateUnsupported(f housing.Filter) error {
	unsupported := []struct {
		field string
		set   bool
	}{
		{"min_rating", f.MinRating != nil},
		{"max_rating", f.MaxRating != nil},
		{"min_price", f.MinPrice != nil},
		{"max_price", f.MaxPrice != nil},
	}
	for _, u := range unsupported {
		if u.set {
			return &housing.ValidationError{Field: u.field, Reason: "filter is not supported"}
		}
	}
	for _, key := range f.Sort {
		if key != housing.SortDistanceAsc {
			return &housing.ValidationError{Field: "sort", Reason: fmt.Sprintf("unsupported sort %q", key)}
		}
	}
	return nil
}

func normalizeCategories(in []housing.Category) ([]housing.Category, error) {
	if len(in) == 0 {
		in = housing.AllCategories
	}
	out := make([]housing.Category, 0, len(in))
	for _, c := range in {
		parsed, err := housing.ParseCategory(string(c))
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, parsed) {
			out = append(out, parsed)
		}
	}
	slices.Sort(out)
	return out, nil
}

func validateDistance(minD, maxD *int) error {
	if minD != nil && *minD < 0 {
		return &housing.ValidationError{Field: "min_distance", Reason: "must not be negative"}
	}
	if maxD != nil && *maxD < 0 {
		return &housing.ValidationError{Field: "max_distance", Reason: "must not be negative"}
	}
	if minD != nil && maxD != nil && *minD > *maxD {
		return &housing.ValidationError{Field: "min_distance", Reason: "exceeds max_distance"}
	}
	return nil
}

func queryParams(q housing.ListingQuery) map[string]string {
	cats := make([]string, len(q.Categories))
	for i, c := range q.Categories {
		cats[i] = string(c)
	}
	params := map[string]string{
		"campus":     q.CampusID,
		"categories": strings.Join(cats, ","),
		"limit":      strconv.Itoa(q.Limit),
		"offset":     strconv.Itoa(q.Offset),
		"after":      q.AfterID,
	}
	if q.MinDistance != nil {
		params["min_distance"] = strconv.Itoa(*q.MinDistance)
	}
	if q.MaxDistance != nil {
		params["max_distance"] = strconv.Itoa(*q.MaxDistance)
	}
	return params
}
