package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/mte-gateway/internal/api/middleware"
	"github.com/taoyao-code/mte-gateway/internal/mteconfig"
	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
	"github.com/taoyao-code/mte-gateway/internal/service"
	"github.com/taoyao-code/mte-gateway/internal/storage/pg"
)

// MteOperations 仪器操作（service.MteService 实现）
type MteOperations interface {
	DeviceInfo(ctx context.Context) (*mte.DeviceInfo, error)
	ReadInstantaneous(ctx context.Context) (*mte.Instantaneous, error)
	SetupLoad(ctx context.Context, def *mte.LoadDefinition) (bool, error)
	StartTest(ctx context.Context, mindex byte) error
	StopTest(ctx context.Context, mindex byte) error
	PollTestResult(ctx context.Context, mindex byte) (*mte.TestResult, error)
	Targets() *mteconfig.Store
}

// OpLogReader 审计查询，可为 nil
type OpLogReader interface {
	Recent(ctx context.Context, op string, limit int) ([]pg.OpRecord, error)
}

// MteHandler 仪器 REST 接口
type MteHandler struct {
	ops    MteOperations
	oplog  OpLogReader
	logger *zap.Logger
}

// NewMteHandler 创建Handler
func NewMteHandler(ops MteOperations, oplog OpLogReader, logger *zap.Logger) *MteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MteHandler{ops: ops, oplog: oplog, logger: logger}
}

// requestContext 携带请求ID，供审计关联
func requestContext(c *gin.Context) context.Context {
	return service.WithRequestID(c.Request.Context(), c.GetString(middleware.RequestIDKey))
}

// GetInstantaneous GET /api/instantaneous[?raw=true]
func (h *MteHandler) GetInstantaneous(c *gin.Context) {
	reading, err := h.ops.ReadInstantaneous(requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if raw, _ := strconv.ParseBool(c.Query("raw")); !raw {
		reading.Raw = nil
	}
	respondOK(c, "ok", reading)
}

// PutLoadDefinition PUT /api/loadef
func (h *MteHandler) PutLoadDefinition(c *gin.Context) {
	var def mte.LoadDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		respondKind(c, mte.KindEncoding, fmt.Sprintf("invalid load definition: %v", err))
		return
	}
	ok, err := h.ops.SetupLoad(requestContext(c), &def)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondOK(c, "instrument rejected load definition", gin.H{"result": service.ResultFailure})
		return
	}
	respondOK(c, "load definition applied", gin.H{"result": service.ResultOK})
}

// StartTest PUT /api/test/start/:mindex
func (h *MteHandler) StartTest(c *gin.Context) {
	mindex, ok := meterIndex(c)
	if !ok {
		return
	}
	if err := h.ops.StartTest(requestContext(c), mindex); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "test started", gin.H{"result": service.ResultOK, "mindex": mindex})
}

// StopTest PUT /api/test/stop/:mindex
func (h *MteHandler) StopTest(c *gin.Context) {
	mindex, ok := meterIndex(c)
	if !ok {
		return
	}
	if err := h.ops.StopTest(requestContext(c), mindex); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "test stopped", gin.H{"result": service.ResultOK, "mindex": mindex})
}

// GetTestResult GET /api/test/result/:mindex
func (h *MteHandler) GetTestResult(c *gin.Context) {
	mindex, ok := meterIndex(c)
	if !ok {
		return
	}
	res, err := h.ops.PollTestResult(requestContext(c), mindex)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "ok", res)
}

// GetDevice GET /api/device
func (h *MteHandler) GetDevice(c *gin.Context) {
	info, err := h.ops.DeviceInfo(requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "ok", info)
}

// GetConfig GET /api/mteconfig
func (h *MteHandler) GetConfig(c *gin.Context) {
	respondOK(c, "ok", h.ops.Targets().Current())
}

// PutConfig PUT /api/mteconfig，body 为待修改字段，如 {"host": "10.0.0.5", "port": 6200}
func (h *MteHandler) PutConfig(c *gin.Context) {
	var changes map[string]any
	if err := c.ShouldBindJSON(&changes); err != nil {
		respondKind(c, KindBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}
	if len(changes) == 0 {
		respondKind(c, KindBadRequest, "no fields to update")
		return
	}
	next, err := h.ops.Targets().Update(c.Request.Context(), changes)
	if err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("mte target changed via api",
		zap.String("addr", next.Addr()),
		zap.String("request_id", c.GetString(middleware.RequestIDKey)))
	respondOK(c, "mte target updated", next)
}

// GetOpLog GET /api/oplog?op=&limit=
func (h *MteHandler) GetOpLog(c *gin.Context) {
	if h.oplog == nil {
		respondKind(c, KindAuditDisabled, "operation log is not enabled")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	recs, err := h.oplog.Recent(c.Request.Context(), c.Query("op"), limit)
	if err != nil {
		h.logger.Error("query op log failed", zap.Error(err))
		respondKind(c, mte.KindUnknown, err.Error())
		return
	}
	respondOK(c, "ok", recs)
}

// meterIndex 解析 :mindex（0..255），失败时已写出 400
func meterIndex(c *gin.Context) (byte, bool) {
	v, err := strconv.ParseUint(c.Param("mindex"), 10, 8)
	if err != nil {
		respondKind(c, KindBadRequest, fmt.Sprintf("invalid meter index %q", c.Param("mindex")))
		return 0, false
	}
	return byte(v), true
}
