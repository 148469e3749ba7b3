package mteconfig

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taoyao-code/mte-gateway/internal/config"
)

type memPersister struct {
	mu      sync.Mutex
	saved   *Target
	saveErr error
}

func (p *memPersister) SaveTarget(_ context.Context, t Target) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saved = &t
	return nil
}

func (p *memPersister) LoadTarget(context.Context) (*Target, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saved == nil {
		return nil, nil
	}
	t := *p.saved
	return &t, nil
}

func defaultTarget() Target {
	return FromConfig(cfgpkg.MteConfig{Host: "10.0.0.5", Port: 2404, StationAddr: 6, DeviceAddr: 1, Timeout: 3 * time.Second})
}

func TestTarget_Apply(t *testing.T) {
	base := defaultTarget()

	tests := []struct {
		name  string
		key   string
		value any
		check func(t *testing.T, got Target)
	}{
		{"命令行字符串端口", "port", "6200", func(t *testing.T, got Target) { assert.Equal(t, 6200, got.Port) }},
		{"命令行字符串地址带空格", "device_addr", " 9 ", func(t *testing.T, got Target) { assert.Equal(t, byte(9), got.DeviceAddr) }},
		{"JSON数字端口", "port", float64(6201), func(t *testing.T, got Target) { assert.Equal(t, 6201, got.Port) }},
		{"主机", "host", " 192.168.1.20 ", func(t *testing.T, got Target) { assert.Equal(t, "192.168.1.20", got.Host) }},
		{"下划线键", "device_addr", 3, func(t *testing.T, got Target) { assert.Equal(t, byte(3), got.DeviceAddr) }},
		{"驼峰键", "stationAddr", "7", func(t *testing.T, got Target) { assert.Equal(t, byte(7), got.StationAddr) }},
		{"超时duration", "timeout", "1500ms", func(t *testing.T, got Target) {
			assert.Equal(t, 1500*time.Millisecond, got.Timeout)
			assert.Equal(t, int64(1500), got.TimeoutMs)
		}},
		{"超时毫秒数", "timeout_ms", "2000", func(t *testing.T, got Target) { assert.Equal(t, 2*time.Second, got.Timeout) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := base.Apply(tt.key, tt.value)
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
	assert.Equal(t, 2404, base.Port, "Apply must not mutate the receiver")

	for _, bad := range []struct {
		key   string
		value any
	}{
		{"port", "abc"},
		{"deviceAddr", 300},
		{"device_addr", 0},
		{"stationAddr", "0"},
		{"port", 6200.7},
		{"deviceAddr", float64(1.5)},
		{"timeout", "soon"},
		{"color", "red"},
	} {
		_, err := base.Apply(bad.key, bad.value)
		assert.ErrorIs(t, err, ErrInvalidTarget, "%s=%v", bad.key, bad.value)
	}
}

func TestStore_Update(t *testing.T) {
	p := &memPersister{}
	s := NewStore(defaultTarget(), p, nil)
	before := s.Current()

	next, err := s.Update(context.Background(), map[string]any{"host": "mte.lab", "port": "6200"})
	require.NoError(t, err)
	assert.Equal(t, "mte.lab:6200", next.Addr())
	assert.Equal(t, int64(1), next.Version)
	assert.Equal(t, next, s.Current())
	assert.Equal(t, "10.0.0.5:2404", before.Addr(), "earlier snapshot unchanged")

	require.NotNil(t, p.saved)
	assert.Equal(t, "mte.lab", p.saved.Host)
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	s := NewStore(defaultTarget(), nil, nil)

	_, err := s.Update(context.Background(), map[string]any{"host": "ok", "port": 0})
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Equal(t, "10.0.0.5:2404", s.Current().Addr(), "partial update must not apply")
	assert.Equal(t, int64(0), s.Current().Version)
}

func TestStore_UpdateRejectsFractionalAndZero(t *testing.T) {
	s := NewStore(defaultTarget(), nil, nil)

	for _, patch := range []map[string]any{
		{"port": 6200.7},
		{"device_addr": 0},
		{"station_addr": float64(0)},
	} {
		_, err := s.Update(context.Background(), patch)
		assert.ErrorIs(t, err, ErrInvalidTarget, "%v", patch)
	}
	cur := s.Current()
	assert.Equal(t, 2404, cur.Port)
	assert.Equal(t, byte(1), cur.DeviceAddr)
	assert.Equal(t, byte(6), cur.StationAddr)

	zero := defaultTarget()
	zero.DeviceAddr = 0
	assert.ErrorIs(t, zero.Validate(), ErrInvalidTarget)
}

func TestStore_PersistFailureStillApplies(t *testing.T) {
	p := &memPersister{saveErr: errors.New("redis down")}
	s := NewStore(defaultTarget(), p, nil)

	next, err := s.Update(context.Background(), map[string]any{"port": 7000})
	require.NoError(t, err)
	assert.Equal(t, 7000, next.Port)
	assert.Equal(t, 7000, s.Current().Port)
}

func TestStore_Restore(t *testing.T) {
	p := &memPersister{}
	first := NewStore(defaultTarget(), p, nil)
	_, err := first.Update(context.Background(), map[string]any{"host": "restored.lab", "timeout": "2s"})
	require.NoError(t, err)

	second := NewStore(defaultTarget(), p, nil)
	require.NoError(t, second.Restore(context.Background()))
	got := second.Current()
	assert.Equal(t, "restored.lab", got.Host)
	assert.Equal(t, 2*time.Second, got.Timeout)

	empty := NewStore(defaultTarget(), &memPersister{}, nil)
	require.NoError(t, empty.Restore(context.Background()))
	assert.Equal(t, "10.0.0.5", empty.Current().Host)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore(defaultTarget(), nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i%2 == 0 {
					_, _ = s.Update(context.Background(), map[string]any{"port": 1000 + j})
				} else {
					cur := s.Current()
					assert.NoError(t, cur.Validate())
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(200), s.Current().Version)
}
