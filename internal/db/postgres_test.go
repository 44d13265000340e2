package db

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"bus-wait-tracker/internal/store"
	"bus-wait-tracker/internal/store/storetest"
)

// TestPostgres runs against a scratch database named by TEST_DATABASE_URL.
// Every case writes under fresh trip IDs, so rows from earlier runs do not
// interfere.
func TestPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(dsn))
	sqlDB, err := Open(dsn)
	require.NoError(t, err)
	require.NoError(t, Ping(context.Background(), sqlDB))
	pg := NewPostgres(sqlDB)
	t.Cleanup(func() { pg.Close() })

	storetest.Run(t, func(t *testing.T) store.Store { return pg })
}
