package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_index.up.sql":      {Data: []byte("CREATE INDEX idx_items_name ON items(name);")},
		"migrations/000001_create_items.up.sql":   {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY, name TEXT NOT NULL);")},
		"migrations/000001_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"migrations/README.md":                    {Data: []byte("ignored")},
		"migrations/bad_name.up.sql":              {Data: []byte("SYNTAX ERROR")},
	}

	t.Run("バージョン順に適用され、2回目は何も適用しないこと", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		db := openMemory(t)

		n, err := Run(ctx, db, fsys, "migrations", zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = db.ExecContext(ctx, "INSERT INTO items (id, name) VALUES ('1', 'a')")
		require.NoError(t, err)

		n, err = Run(ctx, db, fsys, "migrations", zap.NewNop())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("SQLが不正な場合はエラーになり、バージョンが記録されないこと", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		db := openMemory(t)
		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte("CREATE TABLE (")},
		}

		_, err := Run(ctx, db, broken, "m", zap.NewNop())
		require.Error(t, err)

		var count int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Zero(t, count)
	})

	t.Run("ディレクトリが存在しない場合はエラー", func(t *testing.T) {
		t.Parallel()

		_, err := Run(context.Background(), openMemory(t), fsys, "missing", zap.NewNop())
		require.Error(t, err)
	})
}
