package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

// CreateUniversity inserts a university; names are unique ignoring case.
func (s *Store) CreateUniversity(ctx context.Context, u housing.University) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO universities (id, name) VALUES ($1, $2)`, u.ID, u.Name)
	if pgCode(err) == codeUniqueViolation {
		return &housing.ConflictError{Kind: "university", Name: u.Name}
	}
	if err != nil {
		return fmt.Errorf("insert university: %w", err)
	}
	return nil
}

// GetUniversity loads a university by id.
func (s *Store) GetUniversity(ctx context.Context, id string) (housing.University, error) {
	var u housing.University
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM universities WHERE id = $1`, id).Scan(&u.ID, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return housing.University{}, &housing.NotFoundError{Kind: "university", ID: id}
	}
	if err != nil {
		return housing.University{}, fmt.Errorf("get university: %w", err)
	}
	return u, nil
}

// DeleteUniversity removes a university. The campuses foreign key refuses the
// delete while campuses remain.
func (s *Store) DeleteUniversity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM universities WHERE id = $1`, id)
	if pgCode(err) == codeForeignKeyViolation {
		return &housing.ConflictError{Kind: "university", Name: id, Reason: "still has campuses"}
	}
	if err != nil {
		return fmt.Errorf("delete university: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &housing.NotFoundError{Kind: "university", ID: id}
	}
	return nil
}

// ListUniversities returns universities ordered by name.
func (s *Store) ListUniversities(ctx context.Context) ([]housing.University, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM universities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list universities: %w", err)
	}
	defer rows.Close()

	out := make([]housing.University, 0)
	for rows.Next() {
		var u housing.University
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, fmt.Errorf("scan university: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateCampus inserts the campus address and the campus in one transaction.
func (s *Store) CreateCampus(ctx context.Context, c housing.Campus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create campus: %w", err)
	}
	defer rollback(ctx, tx)

	a := c.Address
	if _, err := tx.Exec(ctx, `
INSERT INTO addresses (id, street, city, state, zip, latitude, longitude)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Street, a.City, a.State, a.Zip, a.Latitude, a.Longitude,
	); err != nil {
		return fmt.Errorf("insert campus address: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO campuses (id, name, university_id, address_id) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.UniversityID, a.ID)
	switch pgCode(err) {
	case codeUniqueViolation:
		return &housing.ConflictError{Kind: "campus", Name: c.Name}
	case codeForeignKeyViolation:
		return &housing.NotFoundError{Kind: "university", ID: c.UniversityID}
	}
	if err != nil {
		return fmt.Errorf("insert campus: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create campus: %w", err)
	}
	return nil
}

const campusColumns = `c.id, c.name, c.university_id, a.id, a.street, a.city, a.state, a.zip, a.latitude, a.longitude`

// GetCampus loads a campus with its address.
func (s *Store) GetCampus(ctx context.Context, id string) (housing.Campus, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+campusColumns+` FROM campuses c JOIN addresses a ON a.id = c.address_id WHERE c.id = $1`, id)
	c, err := scanCampus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return housing.Campus{}, &housing.NotFoundError{Kind: "campus", ID: id}
	}
	if err != nil {
		return housing.Campus{}, fmt.Errorf("get campus: %w", err)
	}
	return c, nil
}

// ListCampuses returns campuses ordered by name, optionally for one university.
func (s *Store) ListCampuses(ctx context.Context, universityID string) ([]housing.Campus, error) {
	sql := `SELECT ` + campusColumns + ` FROM campuses c JOIN addresses a ON a.id = c.address_id`
	var args []any
	if universityID != "" {
		sql += ` WHERE c.university_id = $1`
		args = append(args, universityID)
	}
	sql += ` ORDER BY c.name`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list campuses: %w", err)
	}
	defer rows.Close()

	out := make([]housing.Campus, 0)
	for rows.Next() {
		c, err := scanCampus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campus: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCampus(row pgx.Row) (housing.Campus, error) {
	var c housing.Campus
	err := row.Scan(
		&c.ID, &c.Name, &c.UniversityID,
		&c.Address.ID, &c.Address.Street, &c.Address.City, &c.Address.State, &c.Address.Zip,
		&c.Address.Latitude, &c.Address.Longitude,
	)
	return c, err
}
