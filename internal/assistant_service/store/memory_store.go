package store

import (
	"context"
	"encoding/json"
	"sync"

	"sre_assistant/internal/models"
)

// MemoryTaskStore 进程内任务存储，用于测试和未配置 Redis 的开发环境。
// 记录经过一次 JSON 拷贝再存入，避免调用方后续修改影响已存状态。
type MemoryTaskStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{records: make(map[string][]byte)}
}

func (s *MemoryTaskStore) Create(ctx context.Context, status *models.DiagnosticStatus) error {
	return s.write(status)
}

func (s *MemoryTaskStore) Update(ctx context.Context, status *models.DiagnosticStatus) error {
	return s.write(status)
}

func (s *MemoryTaskStore) Get(ctx context.Context, sessionID string) (*models.DiagnosticStatus, error) {
	s.mu.RLock()
	raw, ok := s.records[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var status models.DiagnosticStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *MemoryTaskStore) write(status *models.DiagnosticStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[status.SessionID] = raw
	s.mu.Unlock()
	return nil
}
