package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/mte-gateway/internal/api/middleware"
)

// RegisterMteRoutes 注册仪器路由
func RegisterMteRoutes(
	r *gin.Engine,
	ops MteOperations,
	oplog OpLogReader,
	authCfg middleware.AuthConfig,
	logger *zap.Logger,
) {
	if r == nil || ops == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := NewMteHandler(ops, oplog, logger)

	api := r.Group("/api")
	api.Use(middleware.RequestTracing(), middleware.AccessLog(logger))
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	api.GET("/instantaneous", handler.GetInstantaneous)
	api.PUT("/loadef", handler.PutLoadDefinition)

	test := api.Group("/test")
	test.PUT("/start/:mindex", handler.StartTest)
	test.PUT("/stop/:mindex", handler.StopTest)
	test.GET("/result/:mindex", handler.GetTestResult)

	api.GET("/device", handler.GetDevice)
	api.GET("/mteconfig", handler.GetConfig)
	api.PUT("/mteconfig", handler.PutConfig)
	api.GET("/oplog", handler.GetOpLog)

	logger.Info("mte routes registered", zap.Int("endpoints", 9))
}
