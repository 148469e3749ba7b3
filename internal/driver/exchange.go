package driver

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
)

// DefaultTimeout 默认应答超时
const DefaultTimeout = 3000 * time.Millisecond

const (
	stateIdle int32 = iota
	stateAwaiting
)

// 交互结果（指标标签）
const (
	ResultOK            = "ok"
	ResultTimeout       = "timeout"
	ResultFireAndForget = "fire_and_forget"
	ResultClosed        = "closed"
	ResultCanceled      = "canceled"
	ResultError         = "error"
)

// Hooks 交互观测回调，均可为 nil
type Hooks struct {
	// OnExchange 每次 Send 结束时回调
	OnExchange func(cmd byte, result string, elapsed time.Duration)
	// OnDrop 重组器丢弃帧或空闲时收到帧
	OnDrop func(reason string)
	// OnBytes 收发字节数
	OnBytes func(direction string, n int)
}

// SendOptions 单次交互选项
type SendOptions struct {
	Timeout       time.Duration
	FireAndForget bool
}

// SendOption 选项函数
type SendOption func(*SendOptions)

// WithTimeout 覆盖默认超时
func WithTimeout(d time.Duration) SendOption {
	return func(o *SendOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// FireAndForget 超时视为成功
func FireAndForget() SendOption {
	return func(o *SendOptions) { o.FireAndForget = true }
}

// Exchanger 单连接请求/应答关联：Idle → Awaiting → Idle，同一时刻至多一个未完成请求
type Exchanger struct {
	w       io.Writer
	station byte
	peer    byte
	timeout time.Duration
	clock   clock.Clock
	logger  *zap.Logger
	hooks   Hooks

	state     atomic.Int32
	respC     chan *mte.Frame
	closedC   chan struct{}
	closeOnce sync.Once
}

// ExchangerConfig Exchanger 配置
type ExchangerConfig struct {
	StationAddr byte
	PeerAddr    byte
	Timeout     time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
	Hooks       Hooks
}

// NewExchanger 创建 Exchanger，w 为连接写端
func NewExchanger(w io.Writer, cfg ExchangerConfig) *Exchanger {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Exchanger{
		w:       w,
		station: cfg.StationAddr,
		peer:    cfg.PeerAddr,
		timeout: cfg.Timeout,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		hooks:   cfg.Hooks,
		respC:   make(chan *mte.Frame, 1),
		closedC: make(chan struct{}),
	}
}

// Send 发送一帧并等待下一帧应答。
// 返回 (frame, nil) 收到应答；(nil, nil) 免应答命令超时；
// ErrTimeout / ErrConnectionClosed / ErrBusy / ctx 错误。不做重试。
func (e *Exchanger) Send(ctx context.Context, cmd byte, payload []byte, opts ...SendOption) (*mte.Frame, error) {
	o := SendOptions{Timeout: e.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := mte.EncodeFrame(e.peer, e.station, cmd, payload)
	if err != nil {
		return nil, err
	}
	if e.Closed() {
		return nil, mte.ErrConnectionClosed
	}
	if !e.state.CompareAndSwap(stateIdle, stateAwaiting) {
		return nil, fmt.Errorf("%w: cmd %d", mte.ErrBusy, cmd)
	}
	defer e.state.Store(stateIdle)

	// 丢弃上一次交互超时后迟到的应答
	select {
	case stale := <-e.respC:
		e.logger.Debug("discard stale response", zap.Uint8("cmd", stale.Cmd))
	default:
	}

	start := e.clock.Now()
	timer := e.clock.Timer(o.Timeout)
	defer timer.Stop()

	if _, err := e.w.Write(raw); err != nil {
		e.observe(cmd, ResultClosed, start)
		return nil, fmt.Errorf("%w: write: %v", mte.ErrConnectionClosed, err)
	}
	if e.hooks.OnBytes != nil {
		e.hooks.OnBytes("tx", len(raw))
	}
	e.logger.Debug("mte frame sent", zap.Uint8("cmd", cmd), zap.Binary("frame", raw))

	select {
	case f := <-e.respC:
		e.observe(cmd, ResultOK, start)
		return f, nil
	case <-timer.C:
		if o.FireAndForget {
			e.observe(cmd, ResultFireAndForget, start)
			return nil, nil
		}
		e.observe(cmd, ResultTimeout, start)
		return nil, fmt.Errorf("%w: cmd %d after %s", mte.ErrTimeout, cmd, o.Timeout)
	case <-e.closedC:
		// 关闭前已交付的应答优先
		select {
		case f := <-e.respC:
			e.observe(cmd, ResultOK, start)
			return f, nil
		default:
		}
		e.observe(cmd, ResultClosed, start)
		return nil, mte.ErrConnectionClosed
	case <-ctx.Done():
		e.observe(cmd, ResultCanceled, start)
		return nil, ctx.Err()
	}
}

// Deliver 重组器回调：等待中则交付，空闲时丢弃
func (e *Exchanger) Deliver(f *mte.Frame) {
	if e.state.Load() != stateAwaiting {
		e.drop("unsolicited", f)
		return
	}
	select {
	case e.respC <- f:
	default:
		e.drop("extra_response", f)
	}
}

// Close 唤醒未完成的 Send（ErrConnectionClosed），幂等
func (e *Exchanger) Close() {
	e.closeOnce.Do(func() { close(e.closedC) })
}

// Closed 是否已关闭
func (e *Exchanger) Closed() bool {
	select {
	case <-e.closedC:
		return true
	default:
		return false
	}
}

// Busy 是否有未完成请求
func (e *Exchanger) Busy() bool {
	return e.state.Load() == stateAwaiting
}

func (e *Exchanger) drop(reason string, f *mte.Frame) {
	e.logger.Warn("mte frame dropped", zap.String("reason", reason), zap.Uint8("cmd", f.Cmd))
	if e.hooks.OnDrop != nil {
		e.hooks.OnDrop(reason)
	}
}

func (e *Exchanger) observe(cmd byte, result string, start time.Time) {
	if e.hooks.OnExchange != nil {
		e.hooks.OnExchange(cmd, result, e.clock.Since(start))
	}
}
