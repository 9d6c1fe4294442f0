package db

import (
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames_Ordered(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, "0001_schema.sql", names[0])
	for i := 1; i < len(names); i++ {
		require.Less(t, names[i-1], names[i])
	}
}

func TestSchema_EnforcesSingleAcceptedOffer(t *testing.T) {
	body, err := migrationFS.ReadFile("migrations/0001_schema.sql")
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "WHERE status = 'ACCEPTED'"))
}

func TestNewPool_RejectsEmpty(t *testing.T) {
	_, err := NewPool(t.Context(), "")
	require.Error(t, err)
}

func TestPoolOptions_Apply(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/charity")
	require.NoError(t, err)
	defaultMax := cfg.MaxConns

	WithMaxConns(0)(cfg)
	require.Equal(t, defaultMax, cfg.MaxConns)
	WithMaxConns(7)(cfg)
	require.Equal(t, int32(7), cfg.MaxConns)

	WithConnLifetimes(time.Minute, 0)(cfg)
	require.Equal(t, time.Minute, cfg.MaxConnLifetime)

	WithApplicationName("charityflow-test")(cfg)
	require.Equal(t, "charityflow-test", cfg.ConnConfig.RuntimeParams["application_name"])

	require.Nil(t, cfg.AfterConnect)
	WithSearchPath("run_1")(cfg)
	require.NotNil(t, cfg.AfterConnect)
}
