package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ratemystay/internal/hash/sha256"
	"github.com/JakeFAU/ratemystay/internal/housing"
	"github.com/JakeFAU/ratemystay/internal/id/uuid"
	"github.com/JakeFAU/ratemystay/internal/places"
	"github.com/JakeFAU/ratemystay/internal/storage/memory"
)

const (
	campusLat = 30.2849
	campusLon = -97.7341
)

type fakePlaces struct {
	mu        sync.Mutex
	byKeyword map[string][]string
	searchErr map[string]error
	details   map[string]places.Details
	detailErr map[string]error
	delay     time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakePlaces) SearchNearby(_ context.Context, s places.Search) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.searchErr[s.Keyword]; err != nil {
		return nil, err
	}
	return append([]string(nil), f.byKeyword[s.Keyword]...), nil
}

func (f *fakePlaces) FetchDetails(_ context.Context, placeID string) (places.Details, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if n <= prev || f.maxInFlight.CompareAndSwap(prev, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.detailErr[placeID]; err != nil {
		return places.Details{}, err
	}
	d, ok := f.details[placeID]
	if !ok {
		return places.Details{}, &housing.NotFoundError{Kind: "place", ID: placeID}
	}
	d.PlaceID = placeID
	return d, nil
}

func (f *fakePlaces) PhotoURL(ref string) string {
	return "https://photos.example/" + ref
}

func (f *fakePlaces) setPhoto(placeID, ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.details[placeID]
	d.Photos = []places.Photo{{PhotoReference: ref}}
	f.details[placeID] = d
}

func placeDetails(name string, lat, lon float64, withZip bool) places.Details {
	components := []places.AddressComponent{
		{LongName: "Speedway", ShortName: "Speedway", Types: []string{"route"}},
		{LongName: "Austin", ShortName: "Austin", Types: []string{"locality"}},
		{LongName: "Texas", ShortName: "TX", Types: []string{"administrative_area_level_1"}},
	}
	if withZip {
		components = append(components, places.AddressComponent{LongName: "78712", ShortName: "78712", Types: []string{"postal_code"}})
	}
	return places.Details{
		Name:                     name,
		AddressComponents:        components,
		Geometry:                 places.Geometry{Location: places.LatLng{Lat: lat, Lng: lon}},
		InternationalPhoneNumber: "+1 512-555-0100",
		URL:                      "https://maps.google.com/?cid=" + name,
		Raw:                      []byte(`{"name":"` + name + `"}`),
	}
}

type fixture struct {
	api      *fakePlaces
	catalog  *memory.CatalogStore
	listings *memory.ListingStore
	blobs    *memory.BlobStore
	ingestor *Ingestor
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	catalog := memory.NewCatalogStore()
	require.NoError(t, catalog.CreateUniversity(ctx, housing.University{ID: "u1", Name: "University of Texas"}))
	require.NoError(t, catalog.CreateCampus(ctx, housing.Campus{
		ID:           "c1",
		Name:         "Main",
		UniversityID: "u1",
		Address:      housing.Address{City: "Austin", State: "TX", Zip: "78712", Latitude: campusLat, Longitude: campusLon},
	}))

	api := &fakePlaces{
		byKeyword: map[string][]string{},
		searchErr: map[string]error{},
		details:   map[string]places.Details{},
		detailErr: map[string]error{},
	}
	listings := memory.NewListingStore()
	blobs := memory.NewBlobStore()
	ing := New(cfg, api, catalog, listings, uuid.New(), zap.NewNop(), WithArchive(blobs, sha256.New()))
	return &fixture{api: api, catalog: catalog, listings: listings, blobs: blobs, ingestor: ing}
}

func (f *fixture) all(t *testing.T) []housing.Listing {
	t.Helper()
	out, err := f.listings.SearchListings(context.Background(), housing.ListingQuery{CampusID: "c1"})
	require.NoError(t, err)
	return out
}

func TestIngestStoresListingsPerCategory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{ArchivePrefix: "raw"})
	f.api.byKeyword["dormitory"] = []string{"dorm-1"}
	f.api.byKeyword["apartment"] = []string{"apt-1"}
	f.api.byKeyword["townhomes"] = []string{"town-1"}
	f.api.details["dorm-1"] = placeDetails("dorm-1", 30.2860, -97.7350, true)
	f.api.details["apt-1"] = placeDetails("apt-1", 30.3000, -97.7400, true)
	f.api.details["town-1"] = placeDetails("town-1", 30.3100, -97.7500, true)
	f.api.setPhoto("dorm-1", "ref-dorm")

	summary, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 3, summary.Discovered)
	require.Equal(t, 3, summary.Inserted)
	require.Equal(t, 1, summary.ByCategory[housing.CategoryDormitory])

	got := f.all(t)
	require.Len(t, got, 3)
	byPlace := map[string]housing.Listing{}
	for _, l := range got {
		byPlace[l.PlaceID] = l
	}
	dorm := byPlace["dorm-1"]
	require.Equal(t, housing.CategoryDormitory, dorm.Category)
	require.Equal(t, housing.CategoryTownhome, byPlace["town-1"].Category)
	require.Equal(t, "TX", dorm.Address.State)
	require.Equal(t, "5125550100", *dorm.Phone)
	require.Equal(t, "https://photos.example/ref-dorm", *dorm.PhotoURL)
	require.Nil(t, byPlace["apt-1"].PhotoURL)
	require.Positive(t, dorm.DistanceMeters)
	require.NotEmpty(t, dorm.Address.ID)

	paths := f.blobs.Paths()
	require.Len(t, paths, 3)
	for _, p := range paths {
		require.True(t, strings.HasPrefix(p, "raw/c1/"), p)
		require.True(t, strings.HasSuffix(p, ".json"), p)
	}
}

func TestIngestZeroDistanceUsesSentinel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.api.byKeyword["dormitory"] = []string{"same-spot"}
	f.api.details["same-spot"] = placeDetails("same-spot", campusLat, campusLon, true)

	_, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)

	got := f.all(t)
	require.Len(t, got, 1)
	require.Equal(t, ZeroDistanceSentinel, got[0].DistanceMeters)
}

func TestIngestTwiceUpdatesPhotoWithoutDuplicating(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.api.byKeyword["apartment"] = []string{"apt-1"}
	f.api.details["apt-1"] = placeDetails("apt-1", 30.3, -97.74, true)
	f.api.setPhoto("apt-1", "first")

	first, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 1, first.Inserted)

	f.api.setPhoto("apt-1", "second")
	second, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 1, second.Updated)
	require.Zero(t, second.Inserted)

	got := f.all(t)
	require.Len(t, got, 1)
	require.Equal(t, "https://photos.example/second", *got[0].PhotoURL)
}

func TestIngestSkipsIncompleteAddress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.api.byKeyword["apartment"] = []string{"no-zip", "ok-1", "ok-2"}
	f.api.details["no-zip"] = placeDetails("no-zip", 30.29, -97.74, false)
	f.api.details["ok-1"] = placeDetails("ok-1", 30.30, -97.74, true)
	f.api.details["ok-2"] = placeDetails("ok-2", 30.31, -97.74, true)

	summary, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 2, summary.Inserted)

	for _, l := range f.all(t) {
		require.NotEqual(t, "no-zip", l.PlaceID)
	}
}

func TestIngestIsolatesPlaceFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.api.byKeyword["dormitory"] = []string{"broken", "fine"}
	f.api.detailErr["broken"] = &housing.FetchError{Op: "details", StatusCode: 500}
	f.api.details["fine"] = placeDetails("fine", 30.29, -97.74, true)

	summary, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Inserted)
	require.Len(t, f.all(t), 1)
}

type recordingInvalidator struct {
	mu       sync.Mutex
	campuses []string
	err      error
}

func (r *recordingInvalidator) InvalidateCampus(_ context.Context, campusID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campuses = append(r.campuses, campusID)
	return r.err
}

func TestIngestInvalidatesSearchCacheAfterChanges(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	inv := &recordingInvalidator{}
	WithCacheInvalidation(inv)(f.ingestor)
	f.api.byKeyword["apartment"] = []string{"apt-1"}
	f.api.details["apt-1"] = placeDetails("apt-1", 30.3, -97.74, true)

	_, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, inv.campuses)

	// A run that stores nothing leaves the cache alone.
	f.api.byKeyword["apartment"] = nil
	_, err = f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, inv.campuses, 1)

	// Invalidation errors are logged, not returned.
	inv.err = errors.New("redis down")
	f.api.byKeyword["apartment"] = []string{"apt-1"}
	summary, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)
	require.Len(t, inv.campuses, 2)
}

func TestIngestMissingCampus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	_, err := f.ingestor.Ingest(context.Background(), "nope")
	require.ErrorIs(t, err, housing.ErrNotFound)
}

func TestIngestSearchFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.api.searchErr["dormitory"] = errors.New("boom")
	f.api.byKeyword["apartment"] = []string{"apt-1"}
	f.api.details["apt-1"] = placeDetails("apt-1", 30.3, -97.74, true)

	summary, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.SearchErrors)
	require.Equal(t, 1, summary.Inserted)

	f.api.searchErr["apartment"] = errors.New("boom")
	f.api.searchErr["townhomes"] = errors.New("boom")
	_, err = f.ingestor.Ingest(context.Background(), "c1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "all category searches failed")
}

func TestIngestBoundsPlaceConcurrency(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PlaceConcurrency: 2})
	f.api.delay = 10 * time.Millisecond
	var ids []string
	for i := 0; i < 10; i++ {
		id := "apt-" + string(rune('a'+i))
		ids = append(ids, id)
		f.api.details[id] = placeDetails(id, 30.3+float64(i)/100, -97.74, true)
	}
	f.api.byKeyword["apartment"] = ids

	summary, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 10, summary.Inserted)
	require.LessOrEqual(t, f.api.maxInFlight.Load(), int32(2))
}

func TestIngestProcessesCrossCategoryDuplicatesTwice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.api.byKeyword["apartment"] = []string{"shared"}
	f.api.byKeyword["townhomes"] = []string{"shared"}
	f.api.details["shared"] = placeDetails("shared", 30.3, -97.74, true)

	summary, err := f.ingestor.Ingest(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Discovered)
	require.Equal(t, 1, summary.Inserted)
	require.Equal(t, 1, summary.Updated)
	require.Len(t, f.all(t), 1)
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want string
	}{
		{"+1 512-478-9811", "5124789811"},
		{"+44 20 7946 0958", "2079460958"},
		{"(512) 478-9811", "5124789811"},
		{"512.478.9811", "5124789811"},
	}
	for _, tc := range testCases {
		got := NormalizePhone(tc.in)
		require.NotNil(t, got, tc.in)
		require.Equal(t, tc.want, *got, tc.in)
	}
	require.Nil(t, NormalizePhone(""))
	require.Nil(t, NormalizePhone("+1"))
}
