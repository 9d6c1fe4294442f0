package branch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested branch does not exist.
var ErrNotFound = errors.New("branch: not found")

// Repository provides read access to branches.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a branch by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Branch, error) {
	const query = `
		SELECT id::text, name, address, latitude, longitude, admin_user_id::text, status, created_at
		FROM branches
		WHERE id::text = $1
	`

	b, err := scanBranch(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Branch{}, ErrNotFound
		}
		return Branch{}, fmt.Errorf("branch: query by id: %w", err)
	}
	return b, nil
}

// AdminsOf maps each branch id to its administrator's user id.
func (r *Repository) AdminsOf(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT id::text, admin_user_id::text FROM branches WHERE id::text = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("branch: query admins: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, admin string
		if err := rows.Scan(&id, &admin); err != nil {
			return nil, fmt.Errorf("branch: scan admin: %w", err)
		}
		out[id] = admin
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("branch: iterate admins: %w", err)
	}
	return out, nil
}

// List fetches up to limit active branches ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Branch, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id::text, name, address, latitude, longitude, admin_user_id::text, status, created_at
		FROM branches
		WHERE status = 'ACTIVE'
		ORDER BY name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("branch: list: %w", err)
	}
	defer rows.Close()

	branches := make([]Branch, 0, limit)
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("branch: scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("branch: iterate branches: %w", err)
	}
	return branches, nil
}

func scanBranch(row pgx.Row) (Branch, error) {
	var b Branch
	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.Address,
		&b.Location.Latitude,
		&b.Location.Longitude,
		&b.AdminUserID,
		&b.Status,
		&b.CreatedAt,
	)
	return b, err
}
