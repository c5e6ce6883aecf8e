// Package scroll accumulates pages of search results as a viewer scrolls.
package scroll

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

// Fetcher loads one page of listings.
type Fetcher interface {
	Search(ctx context.Context, campusID string, filter housing.Filter, page housing.Page) ([]housing.Listing, error)
}

// State is the controller lifecycle state.
type State string

// Controller states.
const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
)

// TriggerRatio is how far down the content the viewport bottom must reach
// before the next page is requested.
const TriggerRatio = 0.9

// Query is a top-level search.
type Query struct {
	CampusID string
	Filter   housing.Filter
}

// Viewport describes the visible window over the rendered results.
type Viewport struct {
	ScrollY        float64
	ViewportHeight float64
	ContentHeight  float64
}

// NearBottom reports whether the viewport bottom is within the trigger zone.
func (v Viewport) NearBottom() bool {
	return v.ScrollY+v.ViewportHeight >= TriggerRatio*v.ContentHeight
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	State          State
	Query          Query
	Results        []housing.Listing
	HasMore        bool
	Pages          int
	Err            error
	StaleDiscarded int
}

// Controller owns the accumulated results of one search session. It is safe
// for concurrent use.
type Controller struct {
	fetcher  Fetcher
	mode     housing.PagingMode
	pageSize int
	logger   *zap.Logger
	onUpdate func(Snapshot)

	parent context.Context
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	query      Query
	generation uint64
	results    []housing.Listing
	pages      int
	next       housing.Page
	hasMore    bool
	lastErr    error
	failed     *housing.Page
	cancel     context.CancelFunc
	stale      int
}

// Option customizes a Controller.
type Option func(*Controller)

// WithOnUpdate registers a callback invoked after every accepted response.
func WithOnUpdate(fn func(Snapshot)) Option {
	return func(c *Controller) { c.onUpdate = fn }
}

// New constructs an idle Controller that pages in mode with pageSize rows per page.
func New(ctx context.Context, fetcher Fetcher, mode housing.PagingMode, pageSize int, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if mode == "" {
		mode = housing.PagingOffset
	}
	c := &Controller{
		fetcher:  fetcher,
		mode:     mode,
		pageSize: pageSize,
		logger:   logger.Named("scroll"),
		parent:   ctx,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts a new top-level search. Accumulated results and the page
// position reset and any in-flight fetch is superseded.
func (c *Controller) Submit(q Query) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	c.query = q
	c.results = nil
	c.pages = 0
	c.next = housing.Page{}
	c.hasMore = true
	c.lastErr = nil
	c.failed = nil
	c.startLocked(housing.Page{})
}

// OnScroll requests the next page when the viewport is near the bottom, more
// results may exist and nothing is loading. It reports whether a fetch started.
func (c *Controller) OnScroll(v Viewport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateLoaded || !c.hasMore || c.lastErr != nil {
		return false
	}
	if !v.NearBottom() {
		return false
	}
	c.startLocked(c.next)
	return true
}

// Retry re-issues the page whose fetch last failed.
func (c *Controller) Retry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateLoading || c.failed == nil {
		return false
	}
	page := *c.failed
	c.failed = nil
	c.lastErr = nil
	c.startLocked(page)
	return true
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until every issued fetch has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels any in-flight fetch and waits for it.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) startLocked(page housing.Page) {
	ctx, cancel := context.WithCancel(c.parent)
	c.cancel = cancel
	c.state = StateLoading
	gen := c.generation
	q := c.query

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		listings, err := c.fetcher.Search(ctx, q.CampusID, q.Filter, page)
		c.complete(gen, page, listings, err)
	}()
}

func (c *Controller) complete(gen uint64, page housing.Page, listings []housing.Listing, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.stale++
		c.mu.Unlock()
		c.logger.Debug("discarded stale page", zap.Uint64("generation", gen))
		return
	}

	c.state = StateLoaded
	if err != nil {
		c.lastErr = err
		c.failed = &page
		c.logger.Warn("page fetch failed", zap.String("campus_id", c.query.CampusID), zap.Error(err))
	} else {
		c.results = append(c.results, listings...)
		c.pages++
		c.hasMore = len(listings) >= c.pageSize
		c.next = c.advance(page)
	}
	snap := c.snapshotLocked()
	fn := c.onUpdate
	c.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// advance computes the page after the accumulated results.
func (c *Controller) advance(page housing.Page) housing.Page {
	if c.mode == housing.PagingCursor {
		if len(c.results) == 0 {
			return housing.Page{}
		}
		return housing.Page{Cursor: c.results[len(c.results)-1].ID}
	}
	return housing.Page{Index: page.Index + 1}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:          c.state,
		Query:          c.query,
		Results:        append([]housing.Listing(nil), c.results...),
		HasMore:        c.hasMore,
		Pages:          c.pages,
		Err:            c.lastErr,
		StaleDiscarded: c.stale,
	}
}
