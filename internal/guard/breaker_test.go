package guard

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestBreaker(t *testing.T) {
	testErr := errors.New("instrument unreachable")

	t.Run("熔断器状态转换", func(t *testing.T) {
		mock := clock.NewMock()
		breaker := NewBreaker(BreakerConfig{Threshold: 3, Timeout: 100 * time.Millisecond, Clock: mock})

		if breaker.State() != StateClosed {
			t.Fatalf("初始状态应该是Closed，实际: %v", breaker.State())
		}

		for i := 0; i < 3; i++ {
			_ = breaker.Call(func() error { return testErr })
		}
		if breaker.State() != StateOpen {
			t.Fatalf("3次失败后应该是Open状态，实际: %v", breaker.State())
		}

		err := breaker.Call(func() error { return nil })
		if !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("Open状态应该返回ErrCircuitOpen，实际: %v", err)
		}

		mock.Add(150 * time.Millisecond)

		if err := breaker.Call(func() error { return nil }); err != nil {
			t.Fatalf("冷却后第一次调用应该成功: %v", err)
		}
		if breaker.State() != StateHalfOpen {
			t.Fatalf("应该进入HalfOpen状态，实际: %v", breaker.State())
		}

		_ = breaker.Call(func() error { return nil })
		if breaker.State() != StateClosed {
			t.Fatalf("成功后应该恢复到Closed状态，实际: %v", breaker.State())
		}
	})

	t.Run("半开状态失败立即熔断", func(t *testing.T) {
		mock := clock.NewMock()
		breaker := NewBreaker(BreakerConfig{Threshold: 2, Timeout: 100 * time.Millisecond, Clock: mock})

		_ = breaker.Call(func() error { return testErr })
		_ = breaker.Call(func() error { return testErr })
		assert.Equal(t, StateOpen, breaker.State())

		mock.Add(150 * time.Millisecond)
		_ = breaker.Call(func() error { return testErr })
		assert.Equal(t, StateOpen, breaker.State())
		assert.Equal(t, int64(2), breaker.Stats().TripCount)
	})

	t.Run("成功重置连续失败计数", func(t *testing.T) {
		breaker := NewBreaker(BreakerConfig{Threshold: 3, Clock: clock.NewMock()})
		_ = breaker.Call(func() error { return testErr })
		_ = breaker.Call(func() error { return testErr })
		_ = breaker.Call(func() error { return nil })
		_ = breaker.Call(func() error { return testErr })
		_ = breaker.Call(func() error { return testErr })
		assert.Equal(t, StateClosed, breaker.State())
	})

	t.Run("非故障错误不计入失败", func(t *testing.T) {
		rejected := errors.New("rejected")
		breaker := NewBreaker(BreakerConfig{
			Threshold: 1,
			Clock:     clock.NewMock(),
			IsFailure: func(err error) bool { return !errors.Is(err, rejected) },
		})
		err := breaker.Call(func() error { return rejected })
		assert.ErrorIs(t, err, rejected)
		assert.Equal(t, StateClosed, breaker.State())
	})

	t.Run("状态变化回调", func(t *testing.T) {
		type transition struct{ from, to State }
		ch := make(chan transition, 2)
		breaker := NewBreaker(BreakerConfig{Threshold: 2, Clock: clock.NewMock()})
		breaker.SetStateChangeCallback(func(from, to State) { ch <- transition{from, to} })

		_ = breaker.Call(func() error { return testErr })
		_ = breaker.Call(func() error { return testErr })

		select {
		case evt := <-ch:
			assert.Equal(t, transition{StateClosed, StateOpen}, evt)
		case <-time.After(time.Second):
			t.Fatalf("状态变化回调未触发")
		}

		breaker.Reset()
		assert.Equal(t, StateClosed, breaker.State())
	})
}
