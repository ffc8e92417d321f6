package db

import (
	"database/sql"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blerx/internal/monitoring"
	"github.com/banshee-data/blerx/internal/testutil"
)

// setupMigrationTestDB creates a test database without running migrations
func setupMigrationTestDB(t *testing.T) *DB {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(t.Logf) })

	sqlDB, err := sql.Open("sqlite", testutil.TempPath(t, "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{sqlDB}
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"000001_create_test_table.up.sql": {Data: []byte(`
			CREATE TABLE IF NOT EXISTS test_table (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL
			);`)},
		"000001_create_test_table.down.sql": {Data: []byte(`DROP TABLE IF EXISTS test_table;`)},
		"000002_add_test_column.up.sql":     {Data: []byte(`ALTER TABLE test_table ADD COLUMN description TEXT;`)},
		"000002_add_test_column.down.sql":   {Data: []byte(`ALTER TABLE test_table DROP COLUMN description;`)},
	}
}

func TestMigrateUpAndDown(t *testing.T) {
	db := setupMigrationTestDB(t)
	migrations := testMigrations()

	version, dirty, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp(migrations))
	version, _, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	// Up again is a no-op.
	require.NoError(t, db.MigrateUp(migrations))

	_, err = db.Exec(`INSERT INTO test_table (name, description) VALUES ('a', 'b')`)
	require.NoError(t, err)

	require.NoError(t, db.MigrateDown(migrations))
	version, _, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = db.Exec(`INSERT INTO test_table (name, description) VALUES ('a', 'b')`)
	assert.Error(t, err, "description column should be gone")
}

func TestLatestMigrationVersion(t *testing.T) {
	v, err := LatestMigrationVersion(testMigrations())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	v, err = LatestMigrationVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	_, err = LatestMigrationVersion(fstest.MapFS{"README.md": {Data: []byte("none")}})
	assert.Error(t, err)
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	ups, err := fs.Glob(Migrations(), "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(Migrations(), "*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups), "every up migration needs a down migration")
}
