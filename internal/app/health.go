package app

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/mte-gateway/internal/health"
	"github.com/taoyao-code/mte-gateway/internal/service"
)

// NewHealthAggregator 创建健康检查聚合器：仪器状态与会话占用
func NewHealthAggregator(svc *service.MteService, probe bool) *health.Aggregator {
	return health.NewAggregator(
		health.NewMteChecker(svc, probe),
		health.NewSessionChecker(svc),
	)
}

// AddDatabaseChecker 启用审计库时添加检查器
func AddDatabaseChecker(aggregator *health.Aggregator, dbpool *pgxpool.Pool) {
	if dbpool != nil {
		aggregator.AddChecker(health.NewDatabaseChecker(dbpool))
	}
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}
