package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested item does not exist.
var ErrNotFound = errors.New("catalog: item not found")

// Item is a donatable good. MaxTransportVolume is how many units of the item
// fill one transport.
type Item struct {
	ID                 string
	Name               string
	Unit               string
	Active             bool
	MaxTransportVolume int64
}

// Repository provides read access to the item catalog.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetItem(ctx context.Context, id string) (Item, error) {
	const query = `
		SELECT id::text, name, unit, active, max_transport_volume
		FROM items
		WHERE id::text = $1
	`

	item, err := scanItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("catalog: query item: %w", err)
	}
	return item, nil
}

// GetItems loads every listed item keyed by id. Missing ids are simply absent
// from the result.
func (r *Repository) GetItems(ctx context.Context, ids []string) (map[string]Item, error) {
	out := make(map[string]Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	const query = `
		SELECT id::text, name, unit, active, max_transport_volume
		FROM items
		WHERE id::text = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan item: %w", err)
		}
		out[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate items: %w", err)
	}
	return out, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	return item, row.Scan(&item.ID, &item.Name, &item.Unit, &item.Active, &item.MaxTransportVolume)
}
