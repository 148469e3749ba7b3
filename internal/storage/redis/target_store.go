package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/mte-gateway/internal/mteconfig"
)

// targetKey 运行时仪器目标（String，JSON）
const targetKey = "target"

// TargetStore 基于 Redis 的仪器目标持久化，实现 mteconfig.Persister
type TargetStore struct {
	client *Client
}

// NewTargetStore 创建目标持久化
func NewTargetStore(client *Client) *TargetStore {
	return &TargetStore{client: client}
}

// SaveTarget 保存快照
func (s *TargetStore) SaveTarget(ctx context.Context, t mteconfig.Target) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal target: %w", err)
	}
	return s.client.Set(ctx, s.client.Key(targetKey), data, 0).Err()
}

// LoadTarget 读取快照，不存在返回 (nil, nil)
func (s *TargetStore) LoadTarget(ctx context.Context) (*mteconfig.Target, error) {
	data, err := s.client.Get(ctx, s.client.Key(targetKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load target: %w", err)
	}
	var t mteconfig.Target
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal target: %w", err)
	}
	return &t, nil
}
