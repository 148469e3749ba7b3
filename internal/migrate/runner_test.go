package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/mte-gateway/internal/storage/pg"
)

// memDB 记录执行过的 SQL；脚本内容含 "FAIL" 时执行失败
type memDB struct {
	applied  []int64
	executed []string
	commits  int
}

func (m *memDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "FAIL") {
		return pgconn.CommandTag{}, errors.New("syntax error")
	}
	if strings.HasPrefix(sql, "INSERT INTO schema_migrations") {
		m.applied = append(m.applied, args[0].(int64))
	} else if !strings.HasPrefix(sql, "CREATE TABLE IF NOT EXISTS schema_migrations") {
		m.executed = append(m.executed, sql)
	}
	return pgconn.CommandTag{}, nil
}

func (m *memDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &memRows{versions: append([]int64(nil), m.applied...)}, nil
}

func (m *memDB) Begin(context.Context) (pgx.Tx, error) {
	return &memTx{db: m}, nil
}

type memRows struct {
	pgx.Rows
	versions []int64
	cur      int64
}

func (r *memRows) Next() bool {
	if len(r.versions) == 0 {
		return false
	}
	r.cur, r.versions = r.versions[0], r.versions[1:]
	return true
}

func (r *memRows) Scan(dest ...any) error {
	*dest[0].(*int64) = r.cur
	return nil
}

func (r *memRows) Err() error { return nil }
func (r *memRows) Close() {}

type memTx struct {
	pgx.Tx
	db *memDB
}

func (t *memTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *memTx) Commit(context.Context) error {
	t.db.commits++
	return nil
}

func (t *memTx) Rollback(context.Context) error { return nil }

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name string
		want int64
		ok   bool
	}{
		{"0001_op_log_up.sql", 1, true},
		{"0010_later_up.sql", 10, true},
		{"0001_op_log_down.sql", 0, false},
		{"abc_up.sql", 0, false},
		{"notes.txt", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := parseVersion(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestDiscoverUpMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0010_later_up.sql":    {Data: []byte("SELECT 1;")},
		"migrations/0002_second_up.sql":   {Data: []byte("SELECT 1;")},
		"migrations/0002_second_down.sql": {Data: []byte("SELECT 1;")},
		"migrations/notes.txt":            {Data: []byte("ignored")},
		"migrations/abc_up.sql":           {Data: []byte("ignored")},
	}

	ups, err := Runner{}.discoverUpMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, ups, 2)
	assert.Equal(t, int64(2), ups[0].Version)
	assert.Equal(t, "migrations/0002_second_up.sql", ups[0].Path)
	assert.Equal(t, int64(10), ups[1].Version)
}

func TestEmbeddedMigrations(t *testing.T) {
	ups, err := Runner{}.discoverUpMigrations(pg.Migrations)
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	assert.Equal(t, int64(1), ups[0].Version)
}

func TestUp_NoSource(t *testing.T) {
	err := Runner{}.Up(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestUp(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_op_log_up.sql":   {Data: []byte("CREATE TABLE op_log ();")},
		"0002_op_index_up.sql": {Data: []byte("CREATE INDEX op_log_at ON op_log (at);")},
	}

	t.Run("按版本顺序执行并跳过已执行", func(t *testing.T) {
		db := &memDB{applied: []int64{1}}
		require.NoError(t, Runner{FS: fsys}.Up(context.Background(), db))
		assert.Equal(t, []int64{1, 2}, db.applied)
		assert.Equal(t, []string{"CREATE INDEX op_log_at ON op_log (at);"}, db.executed)
		assert.Equal(t, 1, db.commits)

		require.NoError(t, Runner{FS: fsys}.Up(context.Background(), db))
		assert.Equal(t, 1, db.commits, "second run is a no-op")
	})

	t.Run("失败时保留已成功版本", func(t *testing.T) {
		broken := fstest.MapFS{
			"0001_op_log_up.sql": {Data: []byte("CREATE TABLE op_log ();")},
			"0002_bad_up.sql":    {Data: []byte("FAIL;")},
			"0003_never_up.sql":  {Data: []byte("SELECT 3;")},
		}
		db := &memDB{}
		err := Runner{FS: broken}.Up(context.Background(), db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "migration 2 (0002_bad_up.sql)")
		assert.Equal(t, []int64{1}, db.applied)
		assert.Equal(t, 1, db.commits)
	})
}
