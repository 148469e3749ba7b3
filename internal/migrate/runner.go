package migrate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrNoSource 未提供迁移脚本来源
var ErrNoSource = errors.New("migrate: no migration source")

// DB 迁移所需的数据库能力，*pgxpool.Pool 满足
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Runner 在启动时为操作审计表建表或升级。
// 脚本命名 NNNN_<desc>_up.sql，按版本号升序各自在独立事务中执行。
type Runner struct {
	FS     fs.FS  // 通常为 pg.Migrations
	Dir    string // FS 为空时从该目录读取，便于现场补丁
	Logger *zap.Logger
}

type script struct {
	Version int64
	Path    string
}

const versionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func (r Runner) source() (fs.FS, error) {
	switch {
	case r.FS != nil:
		return r.FS, nil
	case r.Dir != "":
		return os.DirFS(r.Dir), nil
	default:
		return nil, ErrNoSource
	}
}

// parseVersion 取文件名的数字前缀；非 _up.sql 或前缀非数字返回 false
func parseVersion(name string) (int64, bool) {
	if !strings.HasSuffix(name, "_up.sql") {
		return 0, false
	}
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(prefix, 10, 64)
	return v, err == nil
}

func (r Runner) discoverUpMigrations(fsys fs.FS) ([]script, error) {
	var out []script
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if v, ok := parseVersion(path.Base(p)); ok {
			out = append(out, script{Version: v, Path: p})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b script) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

func appliedVersions(ctx context.Context, db DB) (map[int64]struct{}, error) {
	if _, err := db.Exec(ctx, versionTable); err != nil {
		return nil, fmt.Errorf("migrate: version table: %w", err)
	}
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	done := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		done[v] = struct{}{}
	}
	return done, nil
}

// Up 执行尚未记录在 schema_migrations 中的脚本；失败时已成功的版本保留
func (r Runner) Up(ctx context.Context, db DB) error {
	fsys, err := r.source()
	if err != nil {
		return err
	}
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	pending, err := r.discoverUpMigrations(fsys)
	if err != nil {
		return err
	}
	for _, s := range pending {
		if _, ok := done[s.Version]; ok {
			continue
		}
		body, err := fs.ReadFile(fsys, s.Path)
		if err != nil {
			return err
		}
		err = pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, s.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", s.Version, s.Path, err)
		}
		log.Info("migration applied", zap.Int64("version", s.Version), zap.String("file", s.Path))
	}
	return nil
}
