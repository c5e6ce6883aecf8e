package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

// ListingsResponse is one page of search results.
type ListingsResponse struct {
	Listings []housing.Listing `json:"listings"`
	HasMore  bool              `json:"has_more"`
	// NextPage is set in offset mode, NextCursor in cursor mode.
	NextPage   *int   `json:"next_page,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func (s *Server) searchListings(w http.ResponseWriter, r *http.Request) {
	campusID := chi.URLParam(r, "campus_id")
	filter, page, err := parseListingQuery(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	listings, err := s.deps.Search.Search(r.Context(), campusID, filter, page)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if listings == nil {
		listings = []housing.Listing{}
	}

	resp := ListingsResponse{
		Listings: listings,
		HasMore:  len(listings) == s.deps.Search.PageSize(),
	}
	if resp.HasMore {
		switch s.deps.Search.Mode() {
		case housing.PagingCursor:
			resp.NextCursor = listings[len(listings)-1].ID
		default:
			next := page.Index + 1
			resp.NextPage = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseListingQuery reads filters from the query string. Categories and sort keys
// may be repeated or comma separated.
func parseListingQuery(r *http.Request) (housing.Filter, housing.Page, error) {
	q := r.URL.Query()
	var (
		filter housing.Filter
		page   housing.Page
		err    error
	)
	for _, raw := range splitValues(q["category"]) {
		c, err := housing.ParseCategory(raw)
		if err != nil {
			return filter, page, err
		}
		filter.Categories = append(filter.Categories, c)
	}
	for _, raw := range splitValues(q["sort"]) {
		filter.Sort = append(filter.Sort, housing.SortKey(raw))
	}
	if filter.MinDistance, err = intParam(q.Get("min_distance"), "min_distance"); err != nil {
		return filter, page, err
	}
	if filter.MaxDistance, err = intParam(q.Get("max_distance"), "max_distance"); err != nil {
		return filter, page, err
	}
	if filter.MinRating, err = floatParam(q.Get("min_rating"), "min_rating"); err != nil {
		return filter, page, err
	}
	if filter.MaxRating, err = floatParam(q.Get("max_rating"), "max_rating"); err != nil {
		return filter, page, err
	}
	if filter.MinPrice, err = floatParam(q.Get("min_price"), "min_price"); err != nil {
		return filter, page, err
	}
	if filter.MaxPrice, err = floatParam(q.Get("max_price"), "max_price"); err != nil {
		return filter, page, err
	}
	if q.Has("page") && q.Has("cursor") {
		return filter, page, &housing.ValidationError{Field: "page", Reason: "page and cursor are mutually exclusive"}
	}
	if q.Has("page") {
		idx, convErr := strconv.Atoi(q.Get("page"))
		if convErr != nil {
			return filter, page, &housing.ValidationError{Field: "page", Reason: "must be an integer"}
		}
		page.Index = idx
		page.IndexSet = true
	}
	page.Cursor = q.Get("cursor")
	return filter, page, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func intParam(raw, field string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &housing.ValidationError{Field: field, Reason: "must be an integer"}
	}
	return &v, nil
}

func floatParam(raw, field string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &housing.ValidationError{Field: field, Reason: "must be a number"}
	}
	return &v, nil
}
