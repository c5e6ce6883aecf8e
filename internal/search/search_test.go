package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/storage/memory"
)

func intPtr(i int) *int { return &i }

func floatPtr(f float64) *float64 { return &f }

type countingStore struct {
	*memory.ListingStore
	calls atomic.Int32
}

func (c *countingStore) SearchListings(ctx context.Context, q housing.ListingQuery) ([]housing.Listing, error) {
	c.calls.Add(1)
	return c.ListingStore.SearchListings(ctx, q)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapCache) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (m *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *mapCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

// seed stores n listings for campus c1 plus a few for campus c2.
func seed(t *testing.T, n int) *countingStore {
	t.Helper()
	store := &countingStore{ListingStore: memory.NewListingStore()}
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := store.UpsertListing(ctx, housing.Listing{
			ID:             fmt.Sprintf("l-%03d", i),
			PlaceID:        fmt.Sprintf("p-%03d", i),
			Category:       housing.AllCategories[i%3],
			DistanceMeters: 50 + (i*37)%2000,
			CampusID:       "c1",
		})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := store.UpsertListing(ctx, housing.Listing{
			ID: fmt.Sprintf("other-%d", i), PlaceID: fmt.Sprintf("op-%d", i),
			Category: housing.CategoryDormitory, DistanceMeters: 1, CampusID: "c2",
		})
		require.NoError(t, err)
	}
	return store
}

func TestSearchOffsetPagination(t *testing.T) {
	t.Parallel()

	svc := New(Config{}, seed(t, 45), zap.NewNop())
	ctx := context.Background()

	page0, err := svc.Search(ctx, "c1", housing.Filter{}, housing.Page{Index: 0})
	require.NoError(t, err)
	require.Len(t, page0, DefaultPageSize)
	for i := 1; i < len(page0); i++ {
		require.LessOrEqual(t, page0[i-1].DistanceMeters, page0[i].DistanceMeters)
	}

	page1, err := svc.Search(ctx, "c1", housing.Filter{}, housing.Page{Index: 1})
	require.NoError(t, err)
	require.Len(t, page1, DefaultPageSize)

	seen := map[string]bool{}
	for _, l := range page0 {
		seen[l.ID] = true
		require.Equal(t, "c1", l.CampusID)
	}
	for _, l := range page1 {
		require.False(t, seen[l.ID], "listing %s on both pages", l.ID)
	}
	require.LessOrEqual(t, page0[len(page0)-1].DistanceMeters, page1[0].DistanceMeters)

	past, err := svc.Search(ctx, "c1", housing.Filter{}, housing.Page{Index: 9})
	require.NoError(t, err)
	require.NotNil(t, past)
	require.Empty(t, past)
}

func TestSearchCategoryFilter(t *testing.T) {
	t.Parallel()

	svc := New(Config{}, seed(t, 45), zap.NewNop())
	got, err := svc.Search(context.Background(), "c1",
		housing.Filter{Categories: []housing.Category{housing.CategoryDormitory}}, housing.Page{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, l := range got {
		require.Equal(t, housing.CategoryDormitory, l.Category)
	}

	lower, err := svc.Search(context.Background(), "c1",
		housing.Filter{Categories: []housing.Category{"dormitory"}}, housing.Page{})
	require.NoError(t, err)
	require.Equal(t, got, lower)
}

func TestSearchDistanceRange(t *testing.T) {
	t.Parallel()

	svc := New(Config{}, seed(t, 45), zap.NewNop())
	got, err := svc.Search(context.Background(), "c1",
		housing.Filter{MinDistance: intPtr(200), MaxDistance: intPtr(900)}, housing.Page{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, l := range got {
		require.GreaterOrEqual(t, l.DistanceMeters, 200)
		require.LessOrEqual(t, l.DistanceMeters, 900)
	}
}

func TestSearchCursorPagination(t *testing.T) {
	t.Parallel()

	store := seed(t, 45)
	cursorSvc := New(Config{Paging: housing.PagingCursor}, store, zap.NewNop())
	offsetSvc := New(Config{Paging: housing.PagingOffset}, store, zap.NewNop())
	ctx := context.Background()

	var all []housing.Listing
	cursor := ""
	for {
		page, err := cursorSvc.Search(ctx, "c1", housing.Filter{}, housing.Page{Cursor: cursor})
		require.NoError(t, err)
		all = append(all, page...)
		if len(page) < cursorSvc.PageSize() {
			break
		}
		cursor = page[len(page)-1].ID
	}
	require.Len(t, all, 45)

	for i := 0; i < 3; i++ {
		page, err := offsetSvc.Search(ctx, "c1", housing.Filter{}, housing.Page{Index: i})
		require.NoError(t, err)
		end := min((i+1)*20, 45)
		require.Equal(t, all[i*20:end], page)
	}

	unknown, err := cursorSvc.Search(ctx, "c1", housing.Filter{}, housing.Page{Cursor: "missing"})
	require.NoError(t, err)
	require.Empty(t, unknown)
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()

	offsetSvc := New(Config{}, seed(t, 1), zap.NewNop())
	cursorSvc := New(Config{Paging: housing.PagingCursor}, seed(t, 1), zap.NewNop())

	testCases := []struct {
		name   string
		svc    *Service
		campus string
		filter housing.Filter
		page   housing.Page
	}{
		{"missing campus", offsetSvc, "", housing.Filter{}, housing.Page{}},
		{"unknown category", offsetSvc, "c1", housing.Filter{Categories: []housing.Category{"CASTLE"}}, housing.Page{}},
		{"rating filter", offsetSvc, "c1", housing.Filter{MinRating: floatPtr(4)}, housing.Page{}},
		{"price filter", offsetSvc, "c1", housing.Filter{MaxPrice: floatPtr(900)}, housing.Page{}},
		{"unsupported sort", offsetSvc, "c1", housing.Filter{Sort: []housing.SortKey{"price_desc"}}, housing.Page{}},
		{"negative distance", offsetSvc, "c1", housing.Filter{MinDistance: intPtr(-1)}, housing.Page{}},
		{"inverted range", offsetSvc, "c1", housing.Filter{MinDistance: intPtr(10), MaxDistance: intPtr(5)}, housing.Page{}},
		{"negative page", offsetSvc, "c1", housing.Filter{}, housing.Page{Index: -1}},
		{"cursor on offset deployment", offsetSvc, "c1", housing.Filter{}, housing.Page{Cursor: "l-000"}},
		{"index on cursor deployment", cursorSvc, "c1", housing.Filter{}, housing.Page{Index: 2}},
		{"explicit page zero on cursor deployment", cursorSvc, "c1", housing.Filter{}, housing.Page{IndexSet: true}},
		{"page and cursor together", cursorSvc, "c1", housing.Filter{}, housing.Page{IndexSet: true, Cursor: "l-000"}},
		{"page and cursor on offset deployment", offsetSvc, "c1", housing.Filter{}, housing.Page{IndexSet: true, Cursor: "l-000"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := tc.svc.Search(context.Background(), tc.campus, tc.filter, tc.page)
			require.True(t, housing.IsValidation(err), "got %v", err)
		})
	}

	_, err := offsetSvc.Search(context.Background(), "c1",
		housing.Filter{Sort: []housing.SortKey{housing.SortDistanceAsc}}, housing.Page{})
	require.NoError(t, err)
}

func TestSearchCachesPages(t *testing.T) {
	t.Parallel()

	store := seed(t, 25)
	c := &mapCache{data: map[string][]byte{}}
	svc := New(Config{}, store, zap.NewNop(), WithCache(c))
	ctx := context.Background()

	first, err := svc.Search(ctx, "c1", housing.Filter{}, housing.Page{})
	require.NoError(t, err)
	second, err := svc.Search(ctx, "c1", housing.Filter{}, housing.Page{})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, store.calls.Load())

	_, err = svc.Search(ctx, "c1", housing.Filter{}, housing.Page{Index: 1})
	require.NoError(t, err)
	require.EqualValues(t, 2, store.calls.Load())

	// Category order does not change the key.
	_, err = svc.Search(ctx, "c1", housing.Filter{Categories: []housing.Category{
		housing.CategoryTownhome, housing.CategoryApartment, housing.CategoryDormitory,
	}}, housing.Page{})
	require.NoError(t, err)
	require.EqualValues(t, 2, store.calls.Load())
}

func TestInvalidateCampusDropsOnlyThatCampus(t *testing.T) {
	t.Parallel()

	store := seed(t, 5)
	c := &mapCache{data: map[string][]byte{}}
	svc := New(Config{}, store, zap.NewNop(), WithCache(c))
	ctx := context.Background()

	for _, campus := range []string{"c1", "c2"} {
		_, err := svc.Search(ctx, campus, housing.Filter{}, housing.Page{})
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, store.calls.Load())

	require.NoError(t, svc.InvalidateCampus(ctx, "c1"))

	_, err := svc.Search(ctx, "c2", housing.Filter{}, housing.Page{})
	require.NoError(t, err)
	require.EqualValues(t, 2, store.calls.Load(), "c2 page should still be cached")

	_, err = svc.Search(ctx, "c1", housing.Filter{}, housing.Page{})
	require.NoError(t, err)
	require.EqualValues(t, 3, store.calls.Load(), "c1 page should be reloaded")
}

func TestInvalidateCampusWithoutCache(t *testing.T) {
	t.Parallel()

	svc := New(Config{}, seed(t, 1), zap.NewNop())
	require.NoError(t, svc.InvalidateCampus(context.Background(), "c1"))
}
