package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/mte-gateway/internal/config"
	"github.com/taoyao-code/mte-gateway/internal/driver"
	"github.com/taoyao-code/mte-gateway/internal/guard"
	"github.com/taoyao-code/mte-gateway/internal/metrics"
	"github.com/taoyao-code/mte-gateway/internal/mteconfig"
	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
	"github.com/taoyao-code/mte-gateway/internal/storage/pg"
)

// 操作名（指标与审计标签）
const (
	OpDeviceInfo        = "device_info"
	OpReadInstantaneous = "read_instantaneous"
	OpSetupLoad         = "setup_load"
	OpStartTest         = "start_test"
	OpStopTest          = "stop_test"
	OpPollTestResult    = "poll_test_result"
	OpProbe             = "probe"
)

// 操作结果
const (
	ResultOK      = "ok"
	ResultFailure = "failure" // 仪器 NAK
	ResultError   = "error"
)

// 服务层附加的错误类别
const (
	KindCircuitOpen   = "circuit_open"
	KindInvalidTarget = "invalid_target"
	KindCanceled      = "canceled"
)

// Auditor 操作审计（如 PostgreSQL op_log），可为 nil
type Auditor interface {
	Record(ctx context.Context, rec pg.OpRecord) error
}

// Config 会话治理参数
type Config struct {
	DialTimeout      time.Duration
	MaxSessions      int
	SessionWait      time.Duration
	RatePerSec       float64
	Burst            int
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// ConfigFrom 由进程配置构造
func ConfigFrom(c cfgpkg.MteConfig) Config {
	return Config{
		DialTimeout:      c.DialTimeout,
		MaxSessions:      c.MaxSessions,
		SessionWait:      c.SessionWait,
		RatePerSec:       c.RatePerSec,
		Burst:            c.Burst,
		BreakerThreshold: c.BreakerThreshold,
		BreakerTimeout:   c.BreakerTimeout,
	}
}

// Status 服务运行状态（健康检查）
type Status struct {
	Target        string    `json:"target"`
	Breaker       string    `json:"breaker"`
	Sessions      int       `json:"sessions"`
	LastOp        string    `json:"last_op,omitempty"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitzero"`
}

// MteService 仪器操作服务：每次操作独立建连 → 握手 → 执行 → 关闭，
// 会话经过限速、并发许可与熔断器。
type MteService struct {
	targets  *mteconfig.Store
	cfg      Config
	sessions *guard.SessionLimiter
	rate     *guard.RateLimiter
	breaker  *guard.Breaker
	metrics  *metrics.AppMetrics
	audit    Auditor
	logger   *zap.Logger

	mu            sync.Mutex
	lastOp        string
	lastErrorKind string
	lastSuccessAt time.Time
}

// Option 可选依赖
type Option func(*MteService)

// WithMetrics 挂接 Prometheus 指标
func WithMetrics(m *metrics.AppMetrics) Option {
	return func(s *MteService) { s.metrics = m }
}

// WithAuditor 挂接审计日志
func WithAuditor(a Auditor) Option {
	return func(s *MteService) { s.audit = a }
}

// NewMteService 创建服务
func NewMteService(targets *mteconfig.Store, cfg Config, logger *zap.Logger, opts ...Option) *MteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionWait <= 0 {
		cfg.SessionWait = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	s := &MteService{
		targets:  targets,
		cfg:      cfg,
		sessions: guard.NewSessionLimiter(cfg.MaxSessions, cfg.SessionWait),
		rate:     guard.NewRateLimiter(cfg.RatePerSec, cfg.Burst),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breaker = guard.NewBreaker(guard.BreakerConfig{
		Threshold: cfg.BreakerThreshold,
		Timeout:   cfg.BreakerTimeout,
		IsFailure: isInstrumentFailure,
	})
	s.breaker.SetStateChangeCallback(func(from, to guard.State) {
		s.logger.Warn("mte breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		if s.metrics != nil {
			s.metrics.BreakerState.Set(float64(to))
		}
	})
	return s
}

// Targets 运行时目标配置
func (s *MteService) Targets() *mteconfig.Store { return s.targets }

// SessionStats 会话许可统计
func (s *MteService) SessionStats() guard.LimiterStats { return s.sessions.Stats() }

// Breaker 熔断器（健康检查读取状态）
func (s *MteService) Breaker() *guard.Breaker { return s.breaker }

// isInstrumentFailure 只有不可达与无应答计入熔断
func isInstrumentFailure(err error) bool {
	switch mte.KindOf(err) {
	case mte.KindTimeout, mte.KindConnectionClosed:
		return true
	}
	return false
}

// KindOf 错误类别：协议类别之外补充会话治理产生的错误
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, guard.ErrCircuitOpen), errors.Is(err, guard.ErrTooManyProbes):
		return KindCircuitOpen
	case errors.Is(err, guard.ErrSessionLimit):
		return mte.KindBusy
	case errors.Is(err, mteconfig.ErrInvalidTarget):
		return KindInvalidTarget
	case errors.Is(err, context.DeadlineExceeded):
		return mte.KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return mte.KindOf(err)
}

// DeviceInfo 仅握手，返回设备信息
func (s *MteService) DeviceInfo(ctx context.Context) (*mte.DeviceInfo, error) {
	var info *mte.DeviceInfo
	err := s.session(ctx, OpDeviceInfo, nil, func(c *driver.Client) (string, error) {
		info = c.DeviceInfo()
		return ResultOK, nil
	})
	return info, err
}

// Probe 健康探测：握手一次，不写审计
func (s *MteService) Probe(ctx context.Context) error {
	return s.session(ctx, OpProbe, nil, func(*driver.Client) (string, error) {
		return ResultOK, nil
	})
}

// ReadInstantaneous 读取瞬时测量值
func (s *MteService) ReadInstantaneous(ctx context.Context) (*mte.Instantaneous, error) {
	var reading *mte.Instantaneous
	err := s.session(ctx, OpReadInstantaneous, nil, func(c *driver.Client) (string, error) {
		r, err := c.ReadInstantaneous(ctx)
		if err != nil {
			return ResultError, err
		}
		reading = r
		return ResultOK, nil
	})
	return reading, err
}

// SetupLoad 下发负载定义；仪器拒绝时返回 (false, nil)
func (s *MteService) SetupLoad(ctx context.Context, def *mte.LoadDefinition) (bool, error) {
	if def == nil {
		return false, fmt.Errorf("%w: empty load definition", mte.ErrEncoding)
	}
	// 编码错误在建连前检出
	if _, err := mte.BuildLoadSetupPayload(def); err != nil {
		s.observe(OpSetupLoad, ResultError, err)
		return false, err
	}
	var ok bool
	err := s.session(ctx, OpSetupLoad, def, func(c *driver.Client) (string, error) {
		accepted, err := c.SetupLoad(ctx, def)
		if err != nil {
			return ResultError, err
		}
		ok = accepted
		if !accepted {
			return ResultFailure, nil
		}
		return ResultOK, nil
	})
	return ok, err
}

// StartTest 启动电能误差测试
func (s *MteService) StartTest(ctx context.Context, mindex byte) error {
	return s.session(ctx, OpStartTest, meterArgs{mindex}, func(c *driver.Client) (string, error) {
		if err := c.StartTest(ctx, mindex); err != nil {
			return ResultError, err
		}
		return ResultOK, nil
	})
}

// StopTest 停止测试
func (s *MteService) StopTest(ctx context.Context, mindex byte) error {
	return s.session(ctx, OpStopTest, meterArgs{mindex}, func(c *driver.Client) (string, error) {
		if err := c.StopTest(ctx, mindex); err != nil {
			return ResultError, err
		}
		return ResultOK, nil
	})
}

// PollTestResult 查询测试误差
func (s *MteService) PollTestResult(ctx context.Context, mindex byte) (*mte.TestResult, error) {
	var res *mte.TestResult
	err := s.session(ctx, OpPollTestResult, meterArgs{mindex}, func(c *driver.Client) (string, error) {
		r, err := c.PollTestResult(ctx, mindex)
		if err != nil {
			return ResultError, err
		}
		res = r
		return ResultOK, nil
	})
	return res, err
}

// Status 当前状态
func (s *MteService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Target:        s.targets.Current().Addr(),
		Breaker:       s.breaker.State().String(),
		Sessions:      s.sessions.Current(),
		LastOp:        s.lastOp,
		LastErrorKind: s.lastErrorKind,
		LastSuccessAt: s.lastSuccessAt,
	}
}

type meterArgs struct {
	MeterIndex byte `json:"mindex"`
}

// session 一次完整的仪器会话；fn 返回操作结果标签
func (s *MteService) session(ctx context.Context, op string, args any, fn func(c *driver.Client) (string, error)) error {
	start := time.Now()
	target := s.targets.Current()
	log := s.logger.With(zap.String("op", op), zap.String("target", target.Addr()))

	result := ResultError
	err := s.acquire(ctx)
	if err == nil {
		defer s.release()
		err = s.breaker.Call(func() error {
			client, err := driver.Open(ctx, target.Addr(), s.driverOptions(target, log))
			if err != nil {
				return err
			}
			defer client.Close()
			result, err = fn(client)
			return err
		})
	}
	if err != nil {
		result = ResultError
	}

	elapsed := time.Since(start)
	s.observe(op, result, err)
	if err != nil {
		log.Warn("mte operation failed", zap.String("kind", KindOf(err)), zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		log.Info("mte operation done", zap.String("result", result), zap.Duration("elapsed", elapsed))
	}
	if op != OpProbe {
		s.record(ctx, op, target, result, args, err, elapsed)
	}
	return err
}

func (s *MteService) acquire(ctx context.Context) error {
	if err := s.rate.Wait(ctx); err != nil {
		return err
	}
	if err := s.sessions.Acquire(ctx); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SessionActive.Inc()
	}
	return nil
}

func (s *MteService) release() {
	s.sessions.Release()
	if s.metrics != nil {
		s.metrics.SessionActive.Dec()
	}
}

func (s *MteService) driverOptions(t mteconfig.Target, log *zap.Logger) driver.Options {
	opts := driver.Options{
		StationAddr: t.StationAddr,
		DeviceAddr:  t.DeviceAddr,
		Timeout:     t.Timeout,
		DialTimeout: s.cfg.DialTimeout,
		Logger:      log,
	}
	if s.metrics != nil {
		opts.Hooks = driver.Hooks{
			OnExchange: s.metrics.ObserveExchange,
			OnDrop:     s.metrics.ObserveDrop,
			OnBytes:    s.metrics.ObserveBytes,
		}
	}
	return opts
}

func (s *MteService) observe(op, result string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, result)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOp = op
	s.lastErrorKind = KindOf(err)
	if err == nil {
		s.lastSuccessAt = time.Now()
	}
}

func (s *MteService) record(ctx context.Context, op string, t mteconfig.Target, result string, args any, opErr error, elapsed time.Duration) {
	if s.audit == nil {
		return
	}
	rec := pg.OpRecord{
		RequestID:  RequestIDFrom(ctx),
		Op:         op,
		Target:     t.Addr(),
		Result:     result,
		ErrorKind:  KindOf(opErr),
		DurationMs: int(elapsed.Milliseconds()),
	}
	if opErr != nil {
		rec.ErrorMsg = opErr.Error()
	}
	if args != nil {
		if data, err := json.Marshal(args); err == nil {
			rec.Detail = data
		}
	}
	// 请求可能已取消，审计使用独立超时
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.audit.Record(actx, rec); err != nil {
		s.logger.Warn("record op log failed", zap.String("op", op), zap.Error(err))
	}
}

type requestIDKey struct{}

// WithRequestID 在 ctx 中携带请求 ID（审计关联）
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom 读取请求 ID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
