package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"charityflow/branch"
)

// Origin is the pickup point the seeded branches surround.
var Origin = branch.Location{Latitude: 10.7769, Longitude: 106.7009}

type SeededBranch struct {
	ID      string
	AdminID string
}

// Fixture is the reference data every integration scenario starts from.
type Fixture struct {
	ContributorID string
	CharityUserID string
	CharityUnitID string
	Branches      []SeededBranch
	FarBranchID   string
	ItemIDs       []string
	ActivityID    string
}

// Seed inserts users, branches near Origin, one far branch, a small catalog
// and one started public activity targeting every item.
func Seed(ctx context.Context, pool *pgxpool.Pool, nearBranches int) (Fixture, error) {
	var f Fixture
	suffix := time.Now().UnixNano()

	insertUser := func(label, role string) (string, error) {
		var id string
		err := pool.QueryRow(ctx, `
			INSERT INTO users (email, full_name, password_hash, role)
			VALUES ($1, $2, 'x', $3) RETURNING id`,
			fmt.Sprintf("%s+%d@example.org", label, suffix), label, role).Scan(&id)
		if err != nil {
			return "", fmt.Errorf("seed user %s: %w", label, err)
		}
		return id, nil
	}

	var err error
	if f.ContributorID, err = insertUser("contributor", "contributor"); err != nil {
		return f, err
	}
	if f.CharityUserID, err = insertUser("charity", "charity"); err != nil {
		return f, err
	}
	if err := pool.QueryRow(ctx, `
		INSERT INTO charity_units (name, address, latitude, longitude, account_user_id)
		VALUES ('Shelter', '1 Shelter Rd', $1, $2, $3) RETURNING id`,
		Origin.Latitude+0.01, Origin.Longitude, f.CharityUserID).Scan(&f.CharityUnitID); err != nil {
		return f, fmt.Errorf("seed charity unit: %w", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE users SET charity_unit_id = $1 WHERE id = $2`, f.CharityUnitID, f.CharityUserID); err != nil {
		return f, fmt.Errorf("link charity user: %w", err)
	}

	for i := 0; i < nearBranches; i++ {
		adminID, err := insertUser(fmt.Sprintf("branch%d", i), "branch_admin")
		if err != nil {
			return f, err
		}
		var id string
		if err := pool.QueryRow(ctx, `
			INSERT INTO branches (name, address, latitude, longitude, admin_user_id)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			fmt.Sprintf("Branch %d", i), fmt.Sprintf("%d Main St", i+1),
			Origin.Latitude+0.005*float64(i+1), Origin.Longitude, adminID).Scan(&id); err != nil {
			return f, fmt.Errorf("seed branch %d: %w", i, err)
		}
		if _, err := pool.Exec(ctx, `UPDATE users SET branch_id = $1 WHERE id = $2`, id, adminID); err != nil {
			return f, fmt.Errorf("link branch admin: %w", err)
		}
		f.Branches = append(f.Branches, SeededBranch{ID: id, AdminID: adminID})
	}

	if err := pool.QueryRow(ctx, `
		INSERT INTO branches (name, address, latitude, longitude)
		VALUES ('Far branch', 'Hanoi', 21.0278, 105.8342) RETURNING id`).Scan(&f.FarBranchID); err != nil {
		return f, fmt.Errorf("seed far branch: %w", err)
	}

	for _, item := range []struct {
		name   string
		unit   string
		volume int64
	}{
		{"Rice", "kg", 500},
		{"Milk", "box", 200},
		{"Blanket", "piece", 50},
	} {
		var id string
		if err := pool.QueryRow(ctx, `
			INSERT INTO items (name, unit, max_transport_volume) VALUES ($1, $2, $3) RETURNING id`,
			item.name, item.unit, item.volume).Scan(&id); err != nil {
			return f, fmt.Errorf("seed item %s: %w", item.name, err)
		}
		f.ItemIDs = append(f.ItemIDs, id)
	}

	now := time.Now()
	if err := pool.QueryRow(ctx, `
		INSERT INTO activities (name, scope, status, start_at, end_at)
		VALUES ('Winter drive', 'PUBLIC', 'STARTED', $1, $2) RETURNING id`,
		now.Add(-24*time.Hour), now.Add(30*24*time.Hour)).Scan(&f.ActivityID); err != nil {
		return f, fmt.Errorf("seed activity: %w", err)
	}
	for _, b := range f.Branches {
		if _, err := pool.Exec(ctx, `INSERT INTO activity_branches (activity_id, branch_id) VALUES ($1, $2)`, f.ActivityID, b.ID); err != nil {
			return f, fmt.Errorf("seed activity branch: %w", err)
		}
	}
	for _, itemID := range f.ItemIDs {
		if _, err := pool.Exec(ctx, `INSERT INTO target_processes (activity_id, item_id, target) VALUES ($1, $2, 1000)`, f.ActivityID, itemID); err != nil {
			return f, fmt.Errorf("seed target: %w", err)
		}
	}

	return f, nil
}
