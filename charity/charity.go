package charity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"charityflow/branch"
)

// ErrNotFound signals the requested charity unit does not exist.
var ErrNotFound = errors.New("charity: unit not found")

// Unit is a charity organisation that requests aid from branches.
type Unit struct {
	ID            string
	Name          string
	Address       string
	Location      branch.Location
	AccountUserID string
	Active        bool
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, id string) (Unit, error) {
	const query = `
		SELECT id::text, name, address, latitude, longitude, account_user_id::text, active
		FROM charity_units
		WHERE id::text = $1
	`

	var u Unit
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Name,
		&u.Address,
		&u.Location.Latitude,
		&u.Location.Longitude,
		&u.AccountUserID,
		&u.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Unit{}, ErrNotFound
		}
		return Unit{}, fmt.Errorf("charity: query by id: %w", err)
	}
	return u, nil
}
