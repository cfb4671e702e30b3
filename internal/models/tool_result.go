package models

import "errors"

// 工具调用失败的错误码分类。只有超时、连接错误和 5xx/429
// 级别的 HTTP 错误会被重试，其余错误首次出现即视为终态。
const (
	ErrCodeHTTPStatus = "HTTP_STATUS_ERROR" // 下游返回非 2xx 状态码
	ErrCodeTimeout    = "TIMEOUT_ERROR"     // 请求超时
	ErrCodeConnection = "CONNECTION_ERROR"  // 无法建立连接
	ErrCodeValidation = "VALIDATION_ERROR"  // 下游响应不符合预期结构
	ErrCodeAuth       = "AUTH_ERROR"        // M2M 令牌获取失败
	ErrCodeUnexpected = "UNEXPECTED_ERROR"  // 兜底错误
)

// ToolError 定义工具执行失败时的错误结构。它实现了 error 接口，
// 使适配器内部的分类结果可以沿错误链传递到重试器和调度器。
type ToolError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	return e.Code + ": " + e.Message
}

// HTTPStatus 返回错误中携带的下游 HTTP 状态码，没有则返回 0。
func (e *ToolError) HTTPStatus() int {
	if e.Details == nil {
		return 0
	}
	switch v := e.Details["status_code"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Retryable 判断该错误是否值得重试：连接错误、超时，
// 以及 5xx/429 级别的状态码错误。客户端错误（4xx）重试
// 只会白白消耗重试预算，一律视为终态。
func (e *ToolError) Retryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeConnection:
		return true
	case ErrCodeHTTPStatus:
		status := e.HTTPStatus()
		return status >= 500 || status == 429
	}
	return false
}

// ToolResult 定义单个工具执行的标准返回格式。
// 不变式：每次适配器调用恰好返回 Success/Failure 中的一种，
// 适配器绝不向编排器抛出原始传输层错误。
type ToolResult struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   *ToolError             `json:"error,omitempty"`
}

// OK 构造成功的 ToolResult。
func OK(data map[string]interface{}) ToolResult {
	return ToolResult{Success: true, Data: data}
}

// Fail 把任意错误转换为失败的 ToolResult。
// 已分类的 *ToolError 原样携带，其余错误归入 UNEXPECTED_ERROR。
func Fail(err error) ToolResult {
	var te *ToolError
	if errors.As(err, &te) {
		return ToolResult{Success: false, Error: te}
	}
	return ToolResult{Success: false, Error: &ToolError{
		Code:    ErrCodeUnexpected,
		Message: err.Error(),
	}}
}
