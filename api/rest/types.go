package rest

import (
	"yqhp/web-runner/internal/browser"
	"yqhp/web-runner/pkg/types"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ExecuteRequest 执行测试用例请求
type ExecuteRequest struct {
	Testcase        *types.Testcase      `json:"testcase"`
	Mode            string               `json:"mode"`
	TimeoutSettings *types.TimeoutConfig `json:"timeout_settings,omitempty"`
	OnFailure       string               `json:"on_failure,omitempty"`
}

// ExecutionAck 受理或停止执行的响应
type ExecutionAck struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"executionId"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
}

// StatusResponse 服务状态
type StatusResponse struct {
	Status             string  `json:"status"`
	BrowserInitialized bool    `json:"browserInitialized"`
	RunningExecutions  int     `json:"runningExecutions"`
	TotalExecutions    int     `json:"totalExecutions"`
	Uptime             float64 `json:"uptime"` // seconds
	Timestamp          string  `json:"timestamp"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ActionResponse 单动作接口响应
type ActionResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Result    any    `json:"result,omitempty"`
	Timestamp string `json:"timestamp"`
}

// GotoRequest /goto
type GotoRequest struct {
	URL  string `json:"url"`
	Mode string `json:"mode,omitempty"`
}

// InputRequest /ai-input
type InputRequest struct {
	Text   string `json:"text"`
	Locate string `json:"locate"`
}

// PromptRequest /ai-tap, /ai-assert, /ai-action, /ai-query
type PromptRequest struct {
	Prompt string `json:"prompt"`
}

// WaitForRequest /ai-wait-for
type WaitForRequest struct {
	Prompt  string `json:"prompt"`
	Timeout int    `json:"timeout,omitempty"` // ms
}

// ScrollRequest /ai-scroll
type ScrollRequest struct {
	Options browser.ScrollOptions `json:"options"`
	Locate  string                `json:"locate,omitempty"`
}

// ScreenshotRequest /screenshot
type ScreenshotRequest struct {
	Path string `json:"path,omitempty"`
}

// ModeRequest /set-browser-mode
type ModeRequest struct {
	Mode string `json:"mode"`
}

// PageInfoResponse /page-info
type PageInfoResponse struct {
	Success  bool             `json:"success"`
	URL      string           `json:"url"`
	Title    string           `json:"title"`
	Viewport browser.Viewport `json:"viewport"`
}
