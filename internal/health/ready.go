package health

import "sync/atomic"

// Readiness 启动阶段就绪标记（/readyz）
type Readiness struct {
	targetReady atomic.Bool
	httpReady   atomic.Bool
}

func New() *Readiness { return &Readiness{} }

// SetTargetReady 仪器目标配置已加载（含持久化恢复）
func (r *Readiness) SetTargetReady(v bool) { r.targetReady.Store(v) }

// SetHTTPReady REST 路由已注册
func (r *Readiness) SetHTTPReady(v bool) { r.httpReady.Store(v) }

// Ready 总体就绪：各阶段均为 true
func (r *Readiness) Ready() bool {
	return r.targetReady.Load() && r.httpReady.Load()
}
