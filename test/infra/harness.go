package infra

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"charityflow/db"
)

// AppName is the application_name every harness connection reports.
const AppName = "charityflow-test"

// Harness owns a migrated database for integration and stress tests. On a
// shared database it works inside a private schema that Close drops.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	schema    string
}

// NewHarness connects to overrideDSN, CHARITYFLOW_TEST_PG_DSN or a fresh
// Postgres container, in that order, and applies the embedded migrations.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	container, dsn, err := StartPostgres16(ctx, overrideDSN)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	h := &Harness{container: container, dsn: dsn}

	opts := []db.PoolOption{
		db.WithApplicationName(AppName),
		db.WithMaxConns(32),
		db.WithConnLifetimes(5*time.Minute, 30*time.Second),
	}
	if container.C == nil {
		h.schema = fmt.Sprintf("charity_run_%d", time.Now().UnixNano())
		if err := h.createSchema(ctx); err != nil {
			h.Close(ctx)
			return nil, err
		}
		opts = append(opts, db.WithSearchPath(h.schema))
	}

	h.pool, err = db.NewPool(ctx, dsn, opts...)
	if err != nil {
		h.Close(ctx)
		return nil, err
	}

	if err := db.Migrate(ctx, h.pool); err != nil {
		h.Close(ctx)
		return nil, err
	}
	return h, nil
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections.
func (h *Harness) DSN() string {
	return h.dsn
}

// Reset empties every domain table.
func (h *Harness) Reset(ctx context.Context) error {
	return db.Truncate(ctx, h.pool)
}

// Close drops the private schema, if any, and tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.schema != "" {
		if conn, err := pgx.Connect(ctx, h.dsn); err == nil {
			_, _ = conn.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pgx.Identifier{h.schema}.Sanitize()))
			conn.Close(ctx)
		}
	}
	_ = h.container.Terminate(ctx)
}

func (h *Harness) createSchema(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, h.dsn)
	if err != nil {
		return fmt.Errorf("connect for schema: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", pgx.Identifier{h.schema}.Sanitize())); err != nil {
		return fmt.Errorf("create schema %s: %w", h.schema, err)
	}
	return nil
}

// DockerAvailable reports whether a Docker daemon answers.
func DockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
