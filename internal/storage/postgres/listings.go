package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

const listingColumns = `
	l.id, l.place_id, l.name, l.category, l.distance_meters,
	l.website, l.phone, l.photo_url, l.photo_attributions, l.maps_url, l.campus_id,
	a.id, a.street, a.city, a.state, a.zip, a.latitude, a.longitude`

// UpsertListing inserts the listing with a new address or, when the place id
// already exists, updates only distance and photo URL. Both paths run in one
// transaction; a concurrent insert of the same place resolves through
// ON CONFLICT and drops the address created for the losing row.
func (s *Store) UpsertListing(ctx context.Context, l housing.Listing) (housing.UpsertResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return housing.UpsertResult{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer rollback(ctx, tx)

	var id string
	err = tx.QueryRow(ctx, `
UPDATE listings SET distance_meters = $2, photo_url = $3
WHERE place_id = $1
RETURNING id`, l.PlaceID, l.DistanceMeters, l.PhotoURL).Scan(&id)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return housing.UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
		}
		return housing.UpsertResult{ListingID: id}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return housing.UpsertResult{}, fmt.Errorf("update listing: %w", err)
	}

	a := l.Address
	if _, err := tx.Exec(ctx, `
INSERT INTO addresses (id, street, city, state, zip, latitude, longitude)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Street, a.City, a.State, a.Zip, a.Latitude, a.Longitude,
	); err != nil {
		return housing.UpsertResult{}, fmt.Errorf("insert listing address: %w", err)
	}

	attributions := l.PhotoAttributions
	if attributions == nil {
		attributions = []string{}
	}
	var inserted bool
	err = tx.QueryRow(ctx, `
INSERT INTO listings (
	id, place_id, name, category, distance_meters,
	website, phone, photo_url, photo_attributions, maps_url,
	address_id, campus_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (place_id) DO UPDATE
SET distance_meters = EXCLUDED.distance_meters, photo_url = EXCLUDED.photo_url
RETURNING id, (xmax = 0)`,
		l.ID, l.PlaceID, l.Name, string(l.Category), l.DistanceMeters,
		l.Website, l.Phone, l.PhotoURL, attributions, l.MapsURL,
		a.ID, l.CampusID,
	).Scan(&id, &inserted)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return housing.UpsertResult{}, &housing.NotFoundError{Kind: "campus", ID: l.CampusID}
		}
		return housing.UpsertResult{}, fmt.Errorf("insert listing: %w", err)
	}
	if !inserted {
		if _, err := tx.Exec(ctx, `DELETE FROM addresses WHERE id = $1`, a.ID); err != nil {
			return housing.UpsertResult{}, fmt.Errorf("drop orphan address: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return housing.UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}
	return housing.UpsertResult{ListingID: id, Inserted: inserted}, nil
}

// GetListing loads one listing with its address.
func (s *Store) GetListing(ctx context.Context, id string) (housing.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings l JOIN addresses a ON a.id = l.address_id WHERE l.id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return housing.Listing{}, &housing.NotFoundError{Kind: "listing", ID: id}
	}
	if err != nil {
		return housing.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

// SearchListings runs a filtered, (distance, id)-ordered query. A cursor that
// names no listing matches nothing.
func (s *Store) SearchListings(ctx context.Context, q housing.ListingQuery) ([]housing.Listing, error) {
	sql, args := buildSearch(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	defer rows.Close()

	out := make([]housing.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return out, nil
}

func buildSearch(q housing.ListingQuery) (string, []any) {
	var b strings.Builder
	args := []any{q.CampusID}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	b.WriteString(`SELECT ` + listingColumns + `
FROM listings l JOIN addresses a ON a.id = l.address_id
WHERE l.campus_id = $1`)
	if len(q.Categories) > 0 {
		cats := make([]string, len(q.Categories))
		for i, c := range q.Categories {
			cats[i] = string(c)
		}
		b.WriteString(` AND l.category = ANY(` + arg(cats) + `)`)
	}
	if q.MinDistance != nil {
		b.WriteString(` AND l.distance_meters >= ` + arg(*q.MinDistance))
	}
	if q.MaxDistance != nil {
		b.WriteString(` AND l.distance_meters <= ` + arg(*q.MaxDistance))
	}
	if q.AfterID != "" {
		b.WriteString(` AND (l.distance_meters, l.id) > (SELECT c.distance_meters, c.id FROM listings c WHERE c.id = ` + arg(q.AfterID) + `)`)
	}
	b.WriteString(` ORDER BY l.distance_meters, l.id`)
	if q.Limit > 0 {
		b.WriteString(` LIMIT ` + arg(q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(` OFFSET ` + arg(q.Offset))
	}
	return b.String(), args
}

func scanListing(row pgx.Row) (housing.Listing, error) {
	var (
		l        housing.Listing
		category string
	)
	err := row.Scan(
		&l.ID, &l.PlaceID, &l.Name, &category, &l.DistanceMeters,
		&l.Website, &l.Phone, &l.PhotoURL, &l.PhotoAttributions, &l.MapsURL, &l.CampusID,
		&l.Address.ID, &l.Address.Street, &l.Address.City, &l.Address.State, &l.Address.Zip,
		&l.Address.Latitude, &l.Address.Longitude,
	)
	if err != nil {
		return housing.Listing{}, err
	}
	l.Category = housing.Category(category)
	if l.PhotoAttributions == nil {
		l.PhotoAttributions = []string{}
	}
	return l, nil
}
