package guard

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrSessionLimit 等待会话许可超时
var ErrSessionLimit = errors.New("session limit exceeded")

// SessionLimiter 并发会话限流（信号量）。
// 仪器严格一问一答，网关侧默认同一时刻只开一个会话。
type SessionLimiter struct {
	sem           chan struct{}
	timeout       time.Duration
	max           int
	activeCount   atomic.Int64
	rejectedCount atomic.Int64
}

// NewSessionLimiter max 最大并发会话数，timeout 等待许可上限
func NewSessionLimiter(max int, timeout time.Duration) *SessionLimiter {
	if max <= 0 {
		max = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SessionLimiter{
		sem:     make(chan struct{}, max),
		timeout: timeout,
		max:     max,
	}
}

// Acquire 获取许可
func (l *SessionLimiter) Acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	select {
	case l.sem <- struct{}{}:
		l.activeCount.Add(1)
		return nil
	case <-ctx.Done():
		l.rejectedCount.Add(1)
		return fmt.Errorf("%w: max=%d", ErrSessionLimit, l.max)
	}
}

// Release 释放许可
func (l *SessionLimiter) Release() {
	select {
	case <-l.sem:
		l.activeCount.Add(-1)
	default:
	}
}

// Current 当前活跃会话数
func (l *SessionLimiter) Current() int { return int(l.activeCount.Load()) }

// Stats 统计信息
func (l *SessionLimiter) Stats() LimiterStats {
	return LimiterStats{
		Max:           l.max,
		Active:        l.Current(),
		RejectedTotal: l.rejectedCount.Load(),
		Utilization:   float64(l.Current()) / float64(l.max),
	}
}

// LimiterStats 会话限流统计
type LimiterStats struct {
	Max           int     `json:"max_sessions"`
	Active        int     `json:"active_sessions"`
	RejectedTotal int64   `json:"rejected_total"`
	Utilization   float64 `json:"utilization"`
}
