package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound       = errors.New("activity: not found")
	ErrTargetNotFound = errors.New("activity: target not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID loads an activity with its targets and participating branches.
func (r *Repository) GetByID(ctx context.Context, id string) (Activity, error) {
	const query = `
		SELECT a.id::text, a.name, a.scope, a.status, a.start_at, a.end_at,
		       COALESCE(array_agg(ab.branch_id::text) FILTER (WHERE ab.branch_id IS NOT NULL), '{}')
		FROM activities a
		LEFT JOIN activity_branches ab ON ab.activity_id = a.id
		WHERE a.id::text = $1
		GROUP BY a.id
	`

	var a Activity
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.Name,
		&a.Scope,
		&a.Status,
		&a.StartAt,
		&a.EndAt,
		&a.BranchIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Activity{}, ErrNotFound
		}
		return Activity{}, fmt.Errorf("activity: query by id: %w", err)
	}

	targets, err := r.targets(ctx, a.ID)
	if err != nil {
		return Activity{}, err
	}
	a.Targets = targets
	return a, nil
}

func (r *Repository) targets(ctx context.Context, activityID string) ([]TargetProcess, error) {
	const query = `
		SELECT item_id::text, target, process
		FROM target_processes
		WHERE activity_id::text = $1
		ORDER BY item_id
	`

	rows, err := r.pool.Query(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("activity: query targets: %w", err)
	}
	defer rows.Close()

	var targets []TargetProcess
	for rows.Next() {
		var t TargetProcess
		if err := rows.Scan(&t.ItemID, &t.Target, &t.Process); err != nil {
			return nil, fmt.Errorf("activity: scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity: iterate targets: %w", err)
	}
	return targets, nil
}

// IncrementProcess adds quantity to the delivered amount of one target.
func (r *Repository) IncrementProcess(ctx context.Context, tx pgx.Tx, activityID, itemID string, quantity int64) error {
	const query = `
		UPDATE target_processes
		SET process = process + $3
		WHERE activity_id::text = $1 AND item_id::text = $2
	`

	tag, err := tx.Exec(ctx, query, activityID, itemID, quantity)
	if err != nil {
		return fmt.Errorf("activity: increment process: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrTargetNotFound
	}
	return nil
}
