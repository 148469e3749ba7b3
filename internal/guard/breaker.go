package guard

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常，放行仪器会话
	StateOpen                  // 熔断，直接拒绝
	StateHalfOpen              // 半开，放行少量试探会话
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen 仪器连续不可达，熔断中
	ErrCircuitOpen = errors.New("instrument circuit breaker is open")
	// ErrTooManyProbes 半开状态试探会话已满
	ErrTooManyProbes = errors.New("too many probe sessions in half-open state")
)

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Threshold   int           // 连续失败阈值
	Timeout     time.Duration // Open → HalfOpen 冷却时间
	HalfOpenMax int           // 半开最大试探数
	// IsFailure 判定错误是否计入失败，nil 表示所有错误都计入
	IsFailure func(error) bool
	Clock     clock.Clock
}

// Breaker 仪器会话熔断器：连续失败达到阈值后快速失败
type Breaker struct {
	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	lastFailTime  time.Time
	lastStateTime time.Time
	tripCount     int64

	cfg           BreakerConfig
	onStateChange func(from, to State)
}

// NewBreaker 创建熔断器
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 2
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Breaker{
		state:         StateClosed,
		cfg:           cfg,
		lastStateTime: cfg.Clock.Now(),
	}
}

// Call 在熔断器保护下执行 fn
func (b *Breaker) Call(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := fn()
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.cfg.Clock.Since(b.lastFailTime) >= b.cfg.Timeout {
			b.transitionTo(StateHalfOpen)
			b.failureCount = 0
			b.successCount = 0
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.successCount+b.failureCount >= b.cfg.HalfOpenMax {
			return ErrTooManyProbes
		}
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && (b.cfg.IsFailure == nil || b.cfg.IsFailure(err)) {
		b.onFailure()
		return
	}
	b.onSuccess()
}

func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailTime = b.cfg.Clock.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.Threshold {
			b.transitionTo(StateOpen)
			b.tripCount++
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
		b.tripCount++
	}
}

func (b *Breaker) onSuccess() {
	b.successCount++

	switch b.state {
	case StateHalfOpen:
		if b.successCount >= b.cfg.HalfOpenMax {
			b.transitionTo(StateClosed)
			b.failureCount = 0
			b.successCount = 0
		}
	case StateClosed:
		// 连续失败才熔断
		b.failureCount = 0
	}
}

func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.lastStateTime = b.cfg.Clock.Now()
	if b.onStateChange != nil {
		go b.onStateChange(prev, next)
	}
}

// State 当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetStateChangeCallback 设置状态变化回调（异步触发）
func (b *Breaker) SetStateChangeCallback(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Reset 手动恢复
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
	b.failureCount = 0
	b.successCount = 0
}

// Stats 统计信息
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		TripCount:       b.tripCount,
		LastStateChange: b.lastStateTime,
	}
}

// BreakerStats 熔断器统计信息
type BreakerStats struct {
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	TripCount       int64     `json:"trip_count"`
	LastStateChange time.Time `json:"last_state_change"`
}
