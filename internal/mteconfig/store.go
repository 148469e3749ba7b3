package mteconfig

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Persister 目标快照持久化（如 Redis），可为 nil
type Persister interface {
	SaveTarget(ctx context.Context, t Target) error
	LoadTarget(ctx context.Context) (*Target, error)
}

// Store 进程级仪器目标：读取无锁，更新串行并整体替换快照。
// 进行中的调用持有旧快照副本，不受更新影响。
type Store struct {
	cur       atomic.Pointer[Target]
	mu        sync.Mutex
	persister Persister
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore 以默认目标创建
func NewStore(def Target, p Persister, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{persister: p, logger: logger, now: time.Now}
	def.UpdatedAt = s.now()
	s.cur.Store(&def)
	return s
}

// Current 当前快照（值拷贝）
func (s *Store) Current() Target {
	return *s.cur.Load()
}

// Restore 从持久化恢复上次设置的目标；无记录时保持默认
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	t, err := s.persister.LoadTarget(ctx)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	if t.Timeout == 0 && t.TimeoutMs > 0 {
		t.Timeout = time.Duration(t.TimeoutMs) * time.Millisecond
	}
	if err := t.Validate(); err != nil {
		s.logger.Warn("ignore persisted mte target", zap.Error(err))
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Store(t)
	s.logger.Info("mte target restored", zap.String("addr", t.Addr()), zap.Int64("version", t.Version))
	return nil
}

// Update 批量应用修改，全部合法才替换快照
func (s *Store) Update(ctx context.Context, changes map[string]any) (Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.Current()
	// 固定顺序，错误信息可复现
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var err error
		if next, err = next.Apply(k, changes[k]); err != nil {
			return s.Current(), err
		}
	}
	if err := next.Validate(); err != nil {
		return s.Current(), err
	}
	next.Version++
	next.UpdatedAt = s.now()

	if s.persister != nil {
		if err := s.persister.SaveTarget(ctx, next); err != nil {
			// 持久化失败不影响本进程生效
			s.logger.Warn("persist mte target failed", zap.Error(err))
		}
	}
	s.cur.Store(&next)
	s.logger.Info("mte target updated", zap.String("addr", next.Addr()), zap.Int64("version", next.Version))
	return next, nil
}
