package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := New(mock, fixedClock{t: time.Unix(1700000000, 0).UTC()})
	require.NoError(t, err)
	return store, mock
}

func strPtr(s string) *string { return &s }

func sampleListing() housing.Listing {
	return housing.Listing{
		ID:                "l-1",
		PlaceID:           "place-1",
		Name:              "Castilian",
		Category:          housing.CategoryDormitory,
		DistanceMeters:    420,
		Website:           strPtr("https://example.com"),
		Phone:             strPtr("5124789811"),
		PhotoURL:          strPtr("https://photo/1"),
		PhotoAttributions: []string{"<a>Jane</a>"},
		MapsURL:           "https://maps.google.com/?cid=1",
		CampusID:          "c1",
		Address: housing.Address{
			ID: "a-1", Street: "San Antonio Street", City: "Austin", State: "TX", Zip: "78705",
			Latitude: 30.2888, Longitude: -97.742,
		},
	}
}

var listingCols = []string{
	"id", "place_id", "name", "category", "distance_meters",
	"website", "phone", "photo_url", "photo_attributions", "maps_url", "campus_id",
	"address_id", "street", "city", "state", "zip", "latitude", "longitude",
}

func listingRow(l housing.Listing) []any {
	return []any{
		l.ID, l.PlaceID, l.Name, string(l.Category), l.DistanceMeters,
		l.Website, l.Phone, l.PhotoURL, l.PhotoAttributions, l.MapsURL, l.CampusID,
		l.Address.ID, l.Address.Street, l.Address.City, l.Address.State, l.Address.Zip,
		l.Address.Latitude, l.Address.Longitude,
	}
}

func TestUpsertListingUpdatesExistingPlace(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	l := sampleListing()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE listings SET distance_meters").
		WithArgs(l.PlaceID, l.DistanceMeters, l.PhotoURL).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("existing-id"))
	mock.ExpectCommit()

	res, err := store.UpsertListing(context.Background(), l)
	require.NoError(t, err)
	require.Equal(t, housing.UpsertResult{ListingID: "existing-id"}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertListingInsertsNewPlace(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	l := sampleListing()
	a := l.Address

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE listings SET distance_meters").
		WithArgs(l.PlaceID, l.DistanceMeters, l.PhotoURL).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO addresses").
		WithArgs(a.ID, a.Street, a.City, a.State, a.Zip, a.Latitude, a.Longitude).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO listings").
		WithArgs(
			l.ID, l.PlaceID, l.Name, "DORMITORY", l.DistanceMeters,
			l.Website, l.Phone, l.PhotoURL, l.PhotoAttributions, l.MapsURL,
			a.ID, l.CampusID,
		).
		WillReturnRows(mock.NewRows([]string{"id", "inserted"}).AddRow(l.ID, true))
	mock.ExpectCommit()

	res, err := store.UpsertListing(context.Background(), l)
	require.NoError(t, err)
	require.Equal(t, housing.UpsertResult{ListingID: l.ID, Inserted: true}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

// expectInsertPath queues the update miss and address insert that precede the listing insert.
func expectInsertPath(mock pgxmock.PgxPoolIface, l housing.Listing) {
	a := l.Address
	mock.ExpectQuery("UPDATE listings SET distance_meters").
		WithArgs(l.PlaceID, l.DistanceMeters, l.PhotoURL).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO addresses").
		WithArgs(a.ID, a.Street, a.City, a.State, a.Zip, a.Latitude, a.Longitude).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func listingInsertArgs(l housing.Listing) []any {
	return []any{
		l.ID, l.PlaceID, l.Name, string(l.Category), l.DistanceMeters,
		l.Website, l.Phone, l.PhotoURL, l.PhotoAttributions, l.MapsURL,
		l.Address.ID, l.CampusID,
	}
}

func TestUpsertListingRacedInsertDropsAddress(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	l := sampleListing()

	mock.ExpectBegin()
	expectInsertPath(mock, l)
	mock.ExpectQuery("INSERT INTO listings").
		WithArgs(listingInsertArgs(l)...).
		WillReturnRows(mock.NewRows([]string{"id", "inserted"}).AddRow("winner-id", false))
	mock.ExpectExec("DELETE FROM addresses").
		WithArgs(l.Address.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	res, err := store.UpsertListing(context.Background(), l)
	require.NoError(t, err)
	require.Equal(t, housing.UpsertResult{ListingID: "winner-id"}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertListingRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	l := sampleListing()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE listings SET distance_meters").
		WithArgs(l.PlaceID, l.DistanceMeters, l.PhotoURL).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.UpsertListing(context.Background(), l)
	require.Error(t, err)
	require.Contains(t, err.Error(), "update listing")
	require.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertListingUnknownCampus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	l := sampleListing()

	mock.ExpectBegin()
	expectInsertPath(mock, l)
	mock.ExpectQuery("INSERT INTO listings").
		WithArgs(listingInsertArgs(l)...).
		WillReturnError(&pgconn.PgError{Code: codeForeignKeyViolation})
	mock.ExpectRollback()

	_, err := store.UpsertListing(context.Background(), l)
	require.ErrorIs(t, err, housing.ErrNotFound)
	require.Contains(t, err.Error(), `campus "c1"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchListingsScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	l := sampleListing()
	second := sampleListing()
	second.ID, second.PlaceID, second.DistanceMeters = "l-2", "place-2", 900
	second.Website, second.Phone, second.PhotoURL = nil, nil, nil

	mock.ExpectQuery("FROM listings l JOIN addresses a").
		WithArgs("c1", []string{"DORMITORY"}, 20).
		WillReturnRows(mock.NewRows(listingCols).AddRow(listingRow(l)...).AddRow(listingRow(second)...))

	got, err := store.SearchListings(context.Background(), housing.ListingQuery{
		CampusID:   "c1",
		Categories: []housing.Category{housing.CategoryDormitory},
		Limit:      20,
	})
	require.NoError(t, err)
	require.Equal(t, []housing.Listing{l, second}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetListingNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM listings l JOIN addresses a").WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := store.GetListing(context.Background(), "nope")
	require.ErrorIs(t, err, housing.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildSearchOffset(t *testing.T) {
	t.Parallel()

	minD, maxD := 100, 5000
	sql, args := buildSearch(housing.ListingQuery{
		CampusID:    "c1",
		Categories:  []housing.Category{housing.CategoryApartment, housing.CategoryTownhome},
		MinDistance: &minD,
		MaxDistance: &maxD,
		Limit:       20,
		Offset:      40,
	})
	require.Contains(t, sql, "l.campus_id = $1")
	require.Contains(t, sql, "l.category = ANY($2)")
	require.Contains(t, sql, "l.distance_meters >= $3")
	require.Contains(t, sql, "l.distance_meters <= $4")
	require.True(t, strings.HasSuffix(sql, "ORDER BY l.distance_meters, l.id LIMIT $5 OFFSET $6"))
	require.Equal(t, []any{"c1", []string{"APARTMENT", "TOWNHOME"}, 100, 5000, 20, 40}, args)
}

func TestBuildSearchCursor(t *testing.T) {
	t.Parallel()

	sql, args := buildSearch(housing.ListingQuery{CampusID: "c1", Limit: 20, AfterID: "l-9"})
	require.Contains(t, sql,
		"(l.distance_meters, l.id) > (SELECT c.distance_meters, c.id FROM listings c WHERE c.id = $2)")
	require.NotContains(t, sql, "OFFSET")
	require.NotContains(t, sql, "ANY(")
	require.Equal(t, []any{"c1", "l-9", 20}, args)
}
