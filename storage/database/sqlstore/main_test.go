package sqlstore

import (
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/storage/database"
)

// newTestDB returns a migrated in-memory sqlite database.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conf := core.NewTestConfig()
	db, err := database.Open(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db, conf.Database.Engine))
	return NewDB(db, conf.Database.Engine)
}
