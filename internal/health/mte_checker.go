package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/mte-gateway/internal/guard"
	"github.com/taoyao-code/mte-gateway/internal/service"
)

// MteSource 仪器服务状态来源（service.MteService 实现）
type MteSource interface {
	Status() service.Status
	Probe(ctx context.Context) error
}

// MteChecker 仪器可达性：熔断器状态，可选主动握手探测
type MteChecker struct {
	src   MteSource
	probe bool
}

// NewMteChecker probe=true 时每次检查都握手一次（占用一个仪器会话）
func NewMteChecker(src MteSource, probe bool) *MteChecker {
	return &MteChecker{src: src, probe: probe}
}

// Name 返回检查器名称
func (c *MteChecker) Name() string {
	return "mte"
}

// Check 仪器不可达只降级，网关本身仍可服务配置类接口
func (c *MteChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	st := c.src.Status()
	details := map[string]any{
		"target":  st.Target,
		"breaker": st.Breaker,
	}
	if st.LastOp != "" {
		details["last_op"] = st.LastOp
	}
	if st.LastErrorKind != "" {
		details["last_error_kind"] = st.LastErrorKind
	}
	if !st.LastSuccessAt.IsZero() {
		details["last_success_at"] = st.LastSuccessAt
	}

	status := StatusHealthy
	message := "ok"
	if st.Breaker != guard.StateClosed.String() {
		status = StatusDegraded
		message = "instrument circuit breaker " + st.Breaker
	}

	if c.probe && status == StatusHealthy {
		if err := c.src.Probe(ctx); err != nil {
			status = StatusDegraded
			message = fmt.Sprintf("probe failed: %v", err)
			details["probe_error_kind"] = service.KindOf(err)
		}
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
