package chaos

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Terminator cuts connections of one application name while actors run, so
// request transactions die between their row lock and commit.
type Terminator struct {
	pool    *pgxpool.Pool
	appName string
	every   time.Duration
	killed  atomic.Int64
}

func NewTerminator(pool *pgxpool.Pool, appName string, every time.Duration) *Terminator {
	return &Terminator{pool: pool, appName: appName, every: every}
}

// Killed reports how many backends were terminated so far.
func (t *Terminator) Killed() int64 {
	return t.killed.Load()
}

// Run terminates, on roughly one tick in three, a random backend that sits
// inside a transaction. It returns when ctx is done or stop is closed.
func (t *Terminator) Run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(t.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(3) != 0 {
				continue
			}
			var terminated bool
			err := t.pool.QueryRow(ctx, `
				SELECT coalesce(bool_or(pg_terminate_backend(pid)), false) FROM (
					SELECT pid FROM pg_stat_activity
					WHERE datname = current_database()
					  AND pid <> pg_backend_pid()
					  AND application_name = $1
					  AND state IN ('idle in transaction', 'active')
					ORDER BY random() LIMIT 1
				) victim`, t.appName).Scan(&terminated)
			if err == nil && terminated {
				t.killed.Add(1)
			}
		}
	}
}
