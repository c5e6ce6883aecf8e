// Package client calls the listing search endpoint over HTTP.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/ratemystay/internal/api"
	"github.com/JakeFAU/ratemystay/internal/housing"
)

// Config controls the search client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements scroll.Fetcher against a running server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{baseURL: base, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Search fetches one page of listings.
func (c *Client) Search(ctx context.Context, campusID string, filter housing.Filter, page housing.Page) ([]housing.Listing, error) {
	endpoint := fmt.Sprintf("%s/v1/campuses/%s/listings", c.baseURL, url.PathEscape(campusID))
	if q := encodeQuery(filter, page).Encode(); q != "" {
		endpoint += "?" + q
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body, campusID)
	}

	var out api.ListingsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}
	return out.Listings, nil
}

func encodeQuery(filter housing.Filter, page housing.Page) url.Values {
	q := url.Values{}
	for _, c := range filter.Categories {
		q.Add("category", string(c))
	}
	for _, s := range filter.Sort {
		q.Add("sort", string(s))
	}
	setInt(q, "min_distance", filter.MinDistance)
	setInt(q, "max_distance", filter.MaxDistance)
	setFloat(q, "min_rating", filter.MinRating)
	setFloat(q, "max_rating", filter.MaxRating)
	setFloat(q, "min_price", filter.MinPrice)
	setFloat(q, "max_price", filter.MaxPrice)
	if page.Cursor != "" {
		q.Set("cursor", page.Cursor)
	}
	if page.Index != 0 {
		q.Set("page", strconv.Itoa(page.Index))
	}
	return q
}

func setInt(q url.Values, key string, v *int) {
	if v != nil {
		q.Set(key, strconv.Itoa(*v))
	}
}

func setFloat(q url.Values, key string, v *float64) {
	if v != nil {
		q.Set(key, strconv.FormatFloat(*v, 'f', -1, 64))
	}
}

func statusError(code int, body []byte, campusID string) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	switch code {
	case http.StatusBadRequest:
		return &housing.ValidationError{Field: "request", Reason: payload.Error}
	case http.StatusNotFound:
		return &housing.NotFoundError{Kind: "campus", ID: campusID}
	default:
		return &housing.FetchError{Op: "search listings", StatusCode: code, Status: payload.Error}
	}
}
