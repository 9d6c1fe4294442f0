package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that returns rows only when an invariant is broken.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_offer",
			SQL: `SELECT request_id, COUNT(*) FROM acceptable_requests
                  WHERE status = 'ACCEPTED'
                  GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_assigned_status_has_accepted_offer",
			SQL: `SELECT r.id, r.status FROM requests r
                  WHERE r.status IN ('ACCEPTED', 'PROCESSING', 'FINISHED', 'EXPIRED')
                    AND NOT EXISTS (SELECT 1 FROM acceptable_requests ar
                                    WHERE ar.request_id = r.id AND ar.status = 'ACCEPTED')`,
		},
		{
			Name: "O3_pending_has_no_accepted_offer",
			SQL: `SELECT r.id FROM requests r
                  JOIN acceptable_requests ar ON ar.request_id = r.id
                  WHERE r.status IN ('PENDING', 'REJECTED') AND ar.status = 'ACCEPTED'`,
		},
		{
			Name: "O4_confirmed_at_when_accepted",
			SQL: `SELECT r.id FROM requests r
                  WHERE r.status IN ('ACCEPTED', 'PROCESSING', 'FINISHED') AND r.confirmed_at IS NULL`,
		},
		{
			Name: "O5_every_request_has_an_offer",
			SQL: `SELECT r.id FROM requests r
                  WHERE NOT EXISTS (SELECT 1 FROM acceptable_requests ar WHERE ar.request_id = r.id)`,
		},
		{
			Name: "O6_rejected_means_all_offers_rejected",
			SQL: `SELECT r.id FROM requests r
                  JOIN acceptable_requests ar ON ar.request_id = r.id
                  WHERE r.status = 'REJECTED' AND ar.status <> 'REJECTED'`,
		},
		{
			Name: "O7_applied_items_only_when_finished",
			SQL: `SELECT ri.id FROM request_items ri
                  JOIN requests r ON r.id = ri.request_id
                  WHERE (ri.status = 'APPLIED') <> (r.status = 'FINISHED')`,
		},
		{
			Name: "O8_activity_process_matches_finished_items",
			SQL: `SELECT tp.activity_id, tp.item_id, tp.process, COALESCE(SUM(ri.quantity), 0) AS delivered
                  FROM target_processes tp
                  LEFT JOIN requests r ON r.activity_id = tp.activity_id AND r.status = 'FINISHED'
                  LEFT JOIN request_items ri ON ri.request_id = r.id AND ri.item_id = tp.item_id
                  GROUP BY tp.activity_id, tp.item_id, tp.process
                  HAVING tp.process <> COALESCE(SUM(ri.quantity), 0)`,
		},
		{
			Name: "O9_single_accepted_index_present",
			SQL: `SELECT 'missing_acceptable_requests_one_accepted' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_indexes
                                    WHERE indexname = 'acceptable_requests_one_accepted'
                                      AND schemaname = current_schema())`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
