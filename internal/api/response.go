package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/mte-gateway/internal/api/middleware"
	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
	"github.com/taoyao-code/mte-gateway/internal/service"
)

const (
	// KindBadRequest 请求参数非法（路径参数、JSON 格式）
	KindBadRequest = "bad_request"
	// KindAuditDisabled 未启用审计存储
	KindAuditDisabled = "audit_disabled"
)

// StandardResponse 标准响应格式
type StandardResponse struct {
	Code      int         `json:"code"`           // 0=成功, >0=错误码
	Message   string      `json:"message"`        // 消息
	Data      interface{} `json:"data,omitempty"` // 业务数据
	RequestID string      `json:"request_id"`     // 请求追踪ID
	Timestamp int64       `json:"timestamp"`      // 时间戳
}

// statusForKind 错误类别 → HTTP 状态码
func statusForKind(kind string) int {
	switch kind {
	case mte.KindEncoding, KindBadRequest, service.KindInvalidTarget:
		return http.StatusBadRequest
	case mte.KindBusy:
		return http.StatusConflict
	case service.KindCircuitOpen, KindAuditDisabled:
		return http.StatusServiceUnavailable
	case mte.KindConnectionClosed:
		return http.StatusBadGateway
	case mte.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondOK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, StandardResponse{
		Code:      0,
		Message:   message,
		Data:      data,
		RequestID: c.GetString(middleware.RequestIDKey),
		Timestamp: time.Now().Unix(),
	})
}

func respondKind(c *gin.Context, kind, message string) {
	status := statusForKind(kind)
	c.JSON(status, StandardResponse{
		Code:      status,
		Message:   message,
		Data:      gin.H{"error_kind": kind},
		RequestID: c.GetString(middleware.RequestIDKey),
		Timestamp: time.Now().Unix(),
	})
}

// respondError 按错误类别映射状态码；仪器拒绝（NAK）不是网关错误，返回 200 + result=failure
func respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	if kind == mte.KindNak {
		respondOK(c, "instrument rejected request", gin.H{"result": service.ResultFailure})
		return
	}
	respondKind(c, kind, err.Error())
}
