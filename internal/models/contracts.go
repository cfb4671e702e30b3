package models

import (
	"fmt"
	"time"
)

// DiagnosticType 标识一次诊断请求的类型。
type DiagnosticType string

const (
	DiagnosticDeployment DiagnosticType = "deployment_diagnosis"
	DiagnosticAlerts     DiagnosticType = "alert_analysis"
	DiagnosticCapacity   DiagnosticType = "capacity_analysis"
	DiagnosticQuery      DiagnosticType = "free_text_query"
)

// DeploymentDiagnosisRequest 定义了部署诊断请求的数据结构。
type DeploymentDiagnosisRequest struct {
	ServiceName  string `json:"service_name" binding:"required"` // 受影响的服务名称
	DeploymentID string `json:"deployment_id"`                   // 部署 ID
	Namespace    string `json:"namespace"`                       // 命名空间, 默认 "default"
}

// AlertAnalysisRequest 定义了告警分析请求的数据结构。
type AlertAnalysisRequest struct {
	AlertIDs          []string `json:"alert_ids" binding:"required,min=1"` // 要分析的告警 ID 列表
	CorrelationWindow int      `json:"correlation_window"`                 // 关联时间窗口（秒）, 默认 300
}

// CapacityAnalysisRequest 定义了容量分析请求的数据结构。
type CapacityAnalysisRequest struct {
	ResourceIDs []string `json:"resource_ids" binding:"required,min=1"` // 要分析的资源 ID 列表
	MetricType  string   `json:"metric_type"`                           // 指标类型: cpu/memory/disk, 默认 cpu
}

// FreeTextQueryRequest 定义了自然语言查询请求的数据结构。
type FreeTextQueryRequest struct {
	Query   string            `json:"query" binding:"required"` // 自然语言查询内容
	Context map[string]string `json:"context"`                  // 查询上下文（如 service, namespace）
}

// DiagnosticRequest 是诊断请求的标签联合：Type 指明变体，
// 对应的字段有且仅有一个非空。调度逻辑对 Type 做 switch，
// 避免基于字符串字段的 if/else 链。
type DiagnosticRequest struct {
	Type       DiagnosticType              `json:"type"`
	Deployment *DeploymentDiagnosisRequest `json:"deployment,omitempty"`
	Alerts     *AlertAnalysisRequest       `json:"alerts,omitempty"`
	Capacity   *CapacityAnalysisRequest    `json:"capacity,omitempty"`
	Query      *FreeTextQueryRequest       `json:"query,omitempty"`
}

// Validate 校验联合体的变体字段与 Type 一致。
func (r *DiagnosticRequest) Validate() error {
	switch r.Type {
	case DiagnosticDeployment:
		if r.Deployment == nil {
			return fmt.Errorf("deployment_diagnosis 请求缺少 deployment 字段")
		}
	case DiagnosticAlerts:
		if r.Alerts == nil {
			return fmt.Errorf("alert_analysis 请求缺少 alerts 字段")
		}
	case DiagnosticCapacity:
		if r.Capacity == nil {
			return fmt.Errorf("capacity_analysis 请求缺少 capacity 字段")
		}
	case DiagnosticQuery:
		if r.Query == nil {
			return fmt.Errorf("free_text_query 请求缺少 query 字段")
		}
	default:
		return fmt.Errorf("未知的诊断类型: %q", r.Type)
	}
	return nil
}

// Severity 表示单条发现的严重程度。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding 代表从单个工具的成功结果中提取出的一条规范化观察。
type Finding struct {
	Source    string                 `json:"source"`             // 发现来源（如 prometheus, loki）
	Severity  Severity               `json:"severity"`           // 严重程度
	Message   string                 `json:"message"`            // 发现描述
	Evidence  map[string]interface{} `json:"evidence,omitempty"` // 支撑证据
	Timestamp time.Time              `json:"timestamp"`          // 时间戳
}

// DiagnosticResult 存储一次完整诊断的最终结果。
// 由编排器一次性组装，写入任务记录后不再修改。
type DiagnosticResult struct {
	Summary            string    `json:"summary"`             // 诊断摘要
	Findings           []Finding `json:"findings"`            // 发现列表
	RecommendedActions []string  `json:"recommended_actions"` // 建议采取的行动
	ConfidenceScore    float64   `json:"confidence_score"`    // 诊断信心分数 [0,1]
	ToolsUsed          []string  `json:"tools_used"`          // 调用成功的诊断工具
	ExecutionTime      float64   `json:"execution_time"`      // 执行时间（秒）
}
