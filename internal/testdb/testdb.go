// Package testdb opens migrated in-memory sqlite databases for tests.
package testdb

import (
	"context"
	"database/sql"
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// New returns a bun DB over a private in-memory sqlite database with every
// portal migration applied. The database is closed when the test ends.
func New(t testing.TB) *bun.DB {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	t.Cleanup(func() {
		_ = bunDB.Close()
	})

	require.NoError(t, auth.Migrate(context.Background(), bunDB))

	return bunDB
}
