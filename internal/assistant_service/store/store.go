package store

import (
	"context"

	"sre_assistant/internal/models"
)

// TaskStore 持久化诊断任务的状态记录。提交入口、后台 worker 和
// 状态查询端点可能运行在不同进程，因此记录必须落在共享存储上。
type TaskStore interface {
	// Create 写入一条新的任务记录。
	Create(ctx context.Context, status *models.DiagnosticStatus) error
	// Get 按会话 ID 读取任务记录，记录不存在时返回 (nil, nil)。
	Get(ctx context.Context, sessionID string) (*models.DiagnosticStatus, error)
	// Update 整条覆盖已有任务记录（last-write-wins）。
	Update(ctx context.Context, status *models.DiagnosticStatus) error
}
