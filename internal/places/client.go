// Package places wraps the Google Places web service: paginated nearby search,
// place details and photo URL construction.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/geo"
	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/metrics"
	"github.com/JakeFAU/ratemystay/internal/ratelimit"
)

// DefaultBaseURL is the Places web service root.
const DefaultBaseURL = "https://maps.googleapis.com/maps/api/place"

// MinPageTokenDelay is how long the upstream takes to accept a fresh next_page_token.
const MinPageTokenDelay = 2 * time.Second

// DetailsFields is the fixed field set requested for each place.
const DetailsFields = "name,address_components,photo,geometry,website,international_phone_number,url"

const (
	endpointNearby  = "nearbysearch"
	endpointDetails = "details"
)

// Config controls the client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// PageTokenDelay is the minimum wait before a next_page_token becomes valid.
	PageTokenDelay time.Duration
	// MaxRetries bounds retries on throttling; 0 disables retries.
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// PhotoMaxWidth is appended to photo URLs when positive.
	PhotoMaxWidth int
}

// Search describes one nearby search.
type Search struct {
	Keyword      string
	RadiusMeters int
	MaxPages     int
	Location     geo.Point
}

// Client talks to the Places API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Limiter
	backoff backoff
	logger  *zap.Logger
}

// New constructs a Client. limiter may be nil.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.PageTokenDelay <= 0 {
		cfg.PageTokenDelay = MinPageTokenDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		backoff: backoff{initial: cfg.BackoffInitial, max: cfg.BackoffMax},
		logger:  logger.Named("places"),
	}
}

// SearchNearby returns the place ids found by a keyword search around a point,
// following next_page_token for up to MaxPages pages. When a continuation fails
// the ids gathered so far are returned together with the error.
func (c *Client) SearchNearby(ctx context.Context, s Search) ([]string, error) {
	maxPages := s.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}

	params := url.Values{}
	params.Set("location", formatLocation(s.Location))
	params.Set("radius", strconv.Itoa(s.RadiusMeters))
	params.Set("keyword", s.Keyword)

	var ids []string
	for page := 0; page < maxPages; page++ {
		continuation := page > 0
		if continuation {
			if err := c.waitForToken(ctx); err != nil {
				return ids, err
			}
		}

		body, status, err := c.get(ctx, endpointNearby, params, continuation)
		if err != nil {
			return ids, fmt.Errorf("nearby search %q page %d: %w", s.Keyword, page, err)
		}
		if status != statusOK && status != statusZeroResults {
			return ids, &housing.FetchError{Op: "nearby search", StatusCode: http.StatusOK, Status: status}
		}

		var resp nearbyResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return ids, fmt.Errorf("decode nearby search: %w", err)
		}
		for _, r := range resp.Results {
			if r.PlaceID != "" {
				ids = append(ids, r.PlaceID)
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		params = url.Values{}
		params.Set("pagetoken", resp.NextPageToken)
	}

	c.logger.Debug("nearby search complete",
		zap.String("keyword", s.Keyword),
		zap.Int("radius", s.RadiusMeters),
		zap.Int("places", len(ids)),
	)
	return ids, nil
}

// FetchDetails loads the fixed field set for placeID. A place the API does not
// know is reported as a NotFoundError.
func (c *Client) FetchDetails(ctx context.Context, placeID string) (Details, error) {
	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("fields", DetailsFields)

	body, status, err := c.get(ctx, endpointDetails, params, false)
	if err != nil {
		return Details{}, fmt.Errorf("place details %s: %w", placeID, err)
	}
	switch status {
	case statusOK:
	case statusNotFound, statusZeroResults, statusInvalidRequest:
		return Details{}, &housing.NotFoundError{Kind: "place", ID: placeID}
	default:
		return Details{}, &housing.FetchError{Op: "place details", StatusCode: http.StatusOK, Status: status}
	}

	var resp detailsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Details{}, fmt.Errorf("decode place details: %w", err)
	}
	raw := bytes.TrimSpace(resp.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("{}")) {
		return Details{}, &housing.NotFoundError{Kind: "place", ID: placeID}
	}

	var d Details
	if err := json.Unmarshal(raw, &d); err != nil {
		return Details{}, fmt.Errorf("decode place result: %w", err)
	}
	d.PlaceID = placeID
	d.Raw = append(json.RawMessage(nil), raw...)
	return d, nil
}

// PhotoURL builds, without fetching, a direct image URL for a photo reference.
func (c *Client) PhotoURL(photoReference string) string {
	params := url.Values{}
	if c.cfg.PhotoMaxWidth > 0 {
		params.Set("maxwidth", strconv.Itoa(c.cfg.PhotoMaxWidth))
	}
	params.Set("photoreference", photoReference)
	params.Set("key", c.cfg.APIKey)
	return c.cfg.BaseURL + "/photo?" + params.Encode()
}

// get issues one logical request, retrying throttled calls with backoff. It
// returns the body and the API status string of the final attempt.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, continuation bool) ([]byte, string, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", c.cfg.APIKey)
	target := fmt.Sprintf("%s/%s/json?%s", c.cfg.BaseURL, endpoint, q.Encode())

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return nil, "", err
		}

		body, status, hint, reason, err := c.do(ctx, endpoint, target, continuation)
		if reason == "" {
			return body, status, err
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, "", err
		}

		wait := c.backoff.delay(attempt)
		if hint > wait {
			wait = hint
		}
		if continuation && wait < c.cfg.PageTokenDelay {
			wait = c.cfg.PageTokenDelay
		}
		metrics.ObservePlacesRetry(endpoint, reason)
		c.logger.Debug("retrying places request",
			zap.String("endpoint", endpoint),
			zap.String("reason", reason),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
		)
		if err := sleep(ctx, wait); err != nil {
			return nil, "", err
		}
	}
}

// do performs a single HTTP round trip. A non-empty reason marks the failure as
// retryable; hint is any server-provided minimum wait.
func (c *Client) do(ctx context.Context, endpoint, target string, continuation bool) (body []byte, status string, hint time.Duration, reason string, err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.ObservePlacesRequest(endpoint, outcome, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		outcome = "error"
		return nil, "", 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = "transport_error"
		return nil, "", 0, "", fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		outcome = "throttled"
		fetchErr := &housing.FetchError{Op: endpoint, StatusCode: resp.StatusCode}
		return nil, "", retryAfter(resp.Header), "http_429", fetchErr
	}
	if resp.StatusCode != http.StatusOK {
		outcome = "http_error"
		return nil, "", 0, "", &housing.FetchError{Op: endpoint, StatusCode: resp.StatusCode}
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		outcome = "transport_error"
		return nil, "", 0, "", fmt.Errorf("read %s response: %w", endpoint, err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		outcome = "error"
		return nil, "", 0, "", fmt.Errorf("decode %s status: %w", endpoint, err)
	}

	switch {
	case env.Status == statusOverQueryLimit:
		outcome = "throttled"
		return nil, env.Status, 0, "over_query_limit",
			&housing.FetchError{Op: endpoint, StatusCode: resp.StatusCode, Status: env.Status}
	case continuation && env.Status == statusInvalidRequest:
		outcome = "token_not_ready"
		return nil, env.Status, 0, "token_not_ready",
			&housing.FetchError{Op: endpoint, StatusCode: resp.StatusCode, Status: env.Status}
	case env.Status != statusOK && env.Status != statusZeroResults:
		outcome = "api_error"
		if env.ErrorMessage != "" {
			c.logger.Warn("places api error",
				zap.String("endpoint", endpoint),
				zap.String("status", env.Status),
				zap.String("message", env.ErrorMessage),
			)
		}
	}
	return body, env.Status, 0, "", nil
}

func (c *Client) waitForToken(ctx context.Context) error {
	metrics.ObserveRateLimitDelay("page_token", c.cfg.PageTokenDelay)
	return sleep(ctx, c.cfg.PageTokenDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func formatLocation(p geo.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}
