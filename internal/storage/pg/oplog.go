package pg

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrations 内置迁移脚本（migrations/*_up.sql）
//
//go:embed migrations/*.sql
var Migrations embed.FS

// OpRecord 一次仪器操作的审计记录
type OpRecord struct {
	ID         int64           `json:"id"`
	RequestID  string          `json:"request_id,omitempty"`
	Op         string          `json:"op"`
	Target     string          `json:"target"`
	Result     string          `json:"result"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	ErrorMsg   string          `json:"error_msg,omitempty"`
	DurationMs int             `json:"duration_ms"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OpLog 操作审计表 op_log
type OpLog struct {
	Pool *pgxpool.Pool
}

// NewOpLog 创建审计仓库
func NewOpLog(pool *pgxpool.Pool) *OpLog {
	return &OpLog{Pool: pool}
}

// Record 写入一条记录
func (r *OpLog) Record(ctx context.Context, rec OpRecord) error {
	const q = `INSERT INTO op_log (request_id, op, target, result, error_kind, error_msg, duration_ms, detail, created_at)
               VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	var detail any
	if len(rec.Detail) > 0 {
		detail = []byte(rec.Detail)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.Pool.Exec(ctx, q, rec.RequestID, rec.Op, rec.Target, rec.Result,
		rec.ErrorKind, rec.ErrorMsg, rec.DurationMs, detail, createdAt)
	if err != nil {
		return fmt.Errorf("insert op_log: %w", err)
	}
	return nil
}

// Recent 最近的记录，按时间倒序；op 为空表示不过滤
func (r *OpLog) Recent(ctx context.Context, op string, limit int) ([]OpRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const q = `SELECT id, request_id, op, target, result, error_kind, error_msg, duration_ms, detail, created_at
               FROM op_log
               WHERE ($1 = '' OR op = $1)
               ORDER BY created_at DESC, id DESC
               LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, op, limit)
	if err != nil {
		return nil, fmt.Errorf("query op_log: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (OpRecord, error) {
		var rec OpRecord
		var detail []byte
		err := row.Scan(&rec.ID, &rec.RequestID, &rec.Op, &rec.Target, &rec.Result,
			&rec.ErrorKind, &rec.ErrorMsg, &rec.DurationMs, &detail, &rec.CreatedAt)
		if len(detail) > 0 {
			rec.Detail = json.RawMessage(detail)
		}
		return rec, err
	})
}
