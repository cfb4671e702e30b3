package models

import (
	"time"
)

// TaskStatus 定义了诊断任务的几种可能状态
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// DiagnosticStatus 代表一个异步诊断任务的当前状态。
// 整条记录以 JSON 形式整体写入任务存储（last-write-wins），
// 状态轮询与后台执行可以发生在不同进程。
// 任务一旦进入 completed 或 failed 状态即不再变化，
// 并在保留窗口到期后从存储中过期。
type DiagnosticStatus struct {
	SessionID   string            `json:"session_id"`             // 诊断会话 ID (UUID 字符串)
	Status      TaskStatus        `json:"status"`                 // 任务当前状态
	Progress    int               `json:"progress"`               // 进度百分比 0-100
	CurrentStep string            `json:"current_step"`           // 当前执行步骤
	Result      *DiagnosticResult `json:"result,omitempty"`       // 诊断结果（完成后填充）
	Error       string            `json:"error,omitempty"`        // 任务失败时的错误信息
	SubmittedAt time.Time         `json:"submitted_at"`           // 任务提交时间
	CompletedAt time.Time         `json:"completed_at,omitempty"` // 任务完成时间
}

// Terminal 报告任务是否已到达终态。
func (s *DiagnosticStatus) Terminal() bool {
	return s.Status == TaskStatusCompleted || s.Status == TaskStatusFailed
}

// TaskEnvelope 是通过 Kafka 投递给后台 worker 的任务载荷。
type TaskEnvelope struct {
	SessionID string            `json:"session_id"`
	Request   DiagnosticRequest `json:"request"`
}
