package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/taoyao-code/mte-gateway/internal/guard"
)

// SessionStatsSource 仪器会话许可统计
type SessionStatsSource interface {
	SessionStats() guard.LimiterStats
}

// SessionChecker 仪器会话占用检查器
type SessionChecker struct {
	src          SessionStatsSource
	lastRejected atomic.Int64
}

// NewSessionChecker 创建会话检查器
func NewSessionChecker(src SessionStatsSource) *SessionChecker {
	return &SessionChecker{src: src}
}

// Name 返回检查器名称
func (c *SessionChecker) Name() string {
	return "sessions"
}

// Check 自上次检查以来出现等待许可超时即降级
func (c *SessionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	stats := c.src.SessionStats()
	prev := c.lastRejected.Swap(stats.RejectedTotal)

	status := StatusHealthy
	message := "ok"
	if stats.RejectedTotal > prev {
		status = StatusDegraded
		message = fmt.Sprintf("%d requests timed out waiting for an instrument session", stats.RejectedTotal-prev)
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]any{
			"active_sessions": stats.Active,
			"max_sessions":    stats.Max,
			"rejected_total":  stats.RejectedTotal,
			"utilization":     fmt.Sprintf("%.1f%%", stats.Utilization*100),
		},
		Latency: time.Since(start),
	}
}
