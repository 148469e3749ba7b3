package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	ExchangeTotal    *prometheus.CounterVec   // labels: cmd, result
	ExchangeDuration *prometheus.HistogramVec // labels: cmd
	FrameDropTotal   *prometheus.CounterVec   // labels: reason
	WireBytesTotal   *prometheus.CounterVec   // labels: direction=rx|tx
	OperationTotal   *prometheus.CounterVec   // labels: op, result
	SessionActive    prometheus.Gauge         // 当前仪器会话数
	BreakerState     prometheus.Gauge         // 0=closed 1=open 2=half_open
	SimAccepted      prometheus.Counter       // 模拟仪器接受的连接
	SimBytesReceived prometheus.Counter
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		ExchangeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mte_exchange_total",
			Help: "Request/response exchanges with the instrument by command and result.",
		}, []string{"cmd", "result"}),
		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mte_exchange_duration_seconds",
			Help:    "Time from frame write to exchange resolution.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 3, 5},
		}, []string{"cmd"}),
		FrameDropTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mte_frame_drop_total",
			Help: "Inbound frames discarded by reason.",
		}, []string{"reason"}),
		WireBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mte_wire_bytes_total",
			Help: "Bytes exchanged with the instrument.",
		}, []string{"direction"}),
		OperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mte_operation_total",
			Help: "Gateway operations by name and result.",
		}, []string{"op", "result"}),
		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mte_session_active",
			Help: "Currently open instrument sessions.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mte_breaker_state",
			Help: "Instrument circuit breaker state (0 closed, 1 open, 2 half-open).",
		}),
		SimAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mte_sim_accept_total",
			Help: "Connections accepted by the instrument simulator.",
		}),
		SimBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mte_sim_bytes_received_total",
			Help: "Bytes received by the instrument simulator.",
		}),
	}
	reg.MustRegister(m.ExchangeTotal, m.ExchangeDuration, m.FrameDropTotal, m.WireBytesTotal,
		m.OperationTotal, m.SessionActive, m.BreakerState, m.SimAccepted, m.SimBytesReceived)
	return m
}

// ObserveExchange 记录一次交互
func (m *AppMetrics) ObserveExchange(cmd byte, result string, elapsed time.Duration) {
	label := strconv.Itoa(int(cmd))
	m.ExchangeTotal.WithLabelValues(label, result).Inc()
	m.ExchangeDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// ObserveDrop 记录丢弃帧
func (m *AppMetrics) ObserveDrop(reason string) {
	m.FrameDropTotal.WithLabelValues(reason).Inc()
}

// ObserveBytes 记录收发字节
func (m *AppMetrics) ObserveBytes(direction string, n int) {
	m.WireBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// ObserveOperation 记录网关操作结果
func (m *AppMetrics) ObserveOperation(op, result string) {
	m.OperationTotal.WithLabelValues(op, result).Inc()
}
