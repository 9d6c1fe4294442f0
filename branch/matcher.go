package branch

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MatcherConfig bounds branch discovery. NearbyDistanceKM is the fan-out
// radius and is clamped to MaxDistanceKM.
type MatcherConfig struct {
	MaxDistanceKM    float64
	NearbyDistanceKM float64
}

// PGMatcher finds deliverable branches with a great-circle distance query.
// The great-circle distance stands in for road distance.
type PGMatcher struct {
	pool *pgxpool.Pool
	cfg  MatcherConfig
}

func NewPGMatcher(pool *pgxpool.Pool, cfg MatcherConfig) *PGMatcher {
	if cfg.NearbyDistanceKM <= 0 || cfg.NearbyDistanceKM > cfg.MaxDistanceKM {
		cfg.NearbyDistanceKM = cfg.MaxDistanceKM
	}
	return &PGMatcher{pool: pool, cfg: cfg}
}

// MaxDistanceKM is the threshold beyond which no branch is considered deliverable.
func (m *PGMatcher) MaxDistanceKM() float64 {
	return m.cfg.MaxDistanceKM
}

func (m *PGMatcher) FindDeliverable(ctx context.Context, q MatchQuery) (Match, error) {
	const query = `
		SELECT id, name, address, latitude, longitude, admin_user_id, status, created_at, distance_km
		FROM (
			SELECT b.id::text AS id, b.name, b.address, b.latitude, b.longitude,
			       b.admin_user_id::text AS admin_user_id, b.status, b.created_at,
			       6371.0 * 2 * asin(sqrt(
			           power(sin(radians(b.latitude - $1) / 2), 2) +
			           cos(radians($1)) * cos(radians(b.latitude)) *
			           power(sin(radians(b.longitude - $2) / 2), 2)
			       )) AS distance_km
			FROM branches b
			WHERE b.status = 'ACTIVE'
			  AND (cardinality($3::text[]) = 0 OR b.id::text = ANY($3::text[]))
			  AND NOT (b.id::text = ANY($4::text[]))
		) d
		WHERE distance_km <= $5
		ORDER BY distance_km ASC, id ASC
	`

	only := q.Only
	if only == nil {
		only = []string{}
	}
	exclude := q.Exclude
	if exclude == nil {
		exclude = []string{}
	}

	rows, err := m.pool.Query(ctx, query, q.Origin.Latitude, q.Origin.Longitude, only, exclude, m.cfg.MaxDistanceKM)
	if err != nil {
		return Match{}, fmt.Errorf("branch: match query: %w", err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0, 8)
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.Address,
			&c.Location.Latitude,
			&c.Location.Longitude,
			&c.AdminUserID,
			&c.Status,
			&c.CreatedAt,
			&c.DistanceKM,
		); err != nil {
			return Match{}, fmt.Errorf("branch: scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return Match{}, fmt.Errorf("branch: iterate candidates: %w", err)
	}

	return partition(candidates, m.cfg.NearbyDistanceKM), nil
}

// partition expects candidates ordered by ascending distance.
func partition(candidates []Candidate, nearbyKM float64) Match {
	if len(candidates) == 0 {
		return Match{}
	}
	nearest := candidates[0]
	nearby := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.DistanceKM <= nearbyKM {
			nearby = append(nearby, c)
		}
	}
	return Match{Nearest: &nearest, Nearby: nearby}
}
