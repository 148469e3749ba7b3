package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/mte-gateway/internal/config"
	"github.com/taoyao-code/mte-gateway/internal/metrics"
	"github.com/taoyao-code/mte-gateway/internal/mteconfig"
	"github.com/taoyao-code/mte-gateway/internal/service"
	pgstorage "github.com/taoyao-code/mte-gateway/internal/storage/pg"
	redisstorage "github.com/taoyao-code/mte-gateway/internal/storage/redis"
)

// NewTargetStore 创建目标配置并尝试从 Redis 恢复上次设置
func NewTargetStore(ctx context.Context, cfg cfgpkg.MteConfig, redisClient *redisstorage.Client, log *zap.Logger) *mteconfig.Store {
	var persister mteconfig.Persister
	if redisClient != nil {
		persister = redisstorage.NewTargetStore(redisClient)
	}
	store := mteconfig.NewStore(mteconfig.FromConfig(cfg), persister, log)
	if err := store.Restore(ctx); err != nil {
		// 恢复失败沿用配置文件中的默认目标
		log.Warn("restore mte target failed", zap.Error(err))
	}
	return store
}

// NewMteService 组装仪器服务；dbpool 为 nil 时不写审计
func NewMteService(cfg cfgpkg.MteConfig, store *mteconfig.Store, appm *metrics.AppMetrics, dbpool *pgxpool.Pool, log *zap.Logger) (*service.MteService, *pgstorage.OpLog) {
	opts := []service.Option{service.WithMetrics(appm)}
	var oplog *pgstorage.OpLog
	if dbpool != nil {
		oplog = pgstorage.NewOpLog(dbpool)
		opts = append(opts, service.WithAuditor(oplog))
	}
	return service.NewMteService(store, service.ConfigFrom(cfg), log, opts...), oplog
}
