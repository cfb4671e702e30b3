package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sre_assistant/internal/models"

	"github.com/go-redis/redis/v8"
)

// taskKeyPrefix 是任务记录在 Redis 中的键前缀。
const taskKeyPrefix = "diagnostic:session:"

// RedisTaskStore 把每条任务记录作为一个 JSON 值整体写入 Redis，
// 并带上保留窗口 TTL。终态记录在窗口到期后自动过期。
type RedisTaskStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisTaskStore(client *redis.Client, retention time.Duration) *RedisTaskStore {
	return &RedisTaskStore{client: client, retention: retention}
}

func (s *RedisTaskStore) Create(ctx context.Context, status *models.DiagnosticStatus) error {
	return s.write(ctx, status)
}

func (s *RedisTaskStore) Update(ctx context.Context, status *models.DiagnosticStatus) error {
	return s.write(ctx, status)
}

func (s *RedisTaskStore) Get(ctx context.Context, sessionID string) (*models.DiagnosticStatus, error) {
	raw, err := s.client.Get(ctx, taskKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取任务记录失败: %w", err)
	}

	var status models.DiagnosticStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("解析任务记录失败: %w", err)
	}
	return &status, nil
}

func (s *RedisTaskStore) write(ctx context.Context, status *models.DiagnosticStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("序列化任务记录失败: %w", err)
	}
	if err := s.client.Set(ctx, taskKeyPrefix+status.SessionID, raw, s.retention).Err(); err != nil {
		return fmt.Errorf("写入任务记录失败: %w", err)
	}
	return nil
}
