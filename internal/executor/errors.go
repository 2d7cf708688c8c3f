package executor

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode 步骤错误类型
type ErrorCode string

const (
	// ErrCodeNavigationTimeout 导航及其降级重试均超时
	ErrCodeNavigationTimeout ErrorCode = "NAVIGATION_TIMEOUT"
	// ErrCodeNavigationFailed 导航出现非超时错误
	ErrCodeNavigationFailed ErrorCode = "NAVIGATION_FAILED"
	// ErrCodeAgentFailed AI 代理调用失败
	ErrCodeAgentFailed ErrorCode = "AGENT_FAILED"
	// ErrCodeInvalidParam 步骤参数缺失或非法
	ErrCodeInvalidParam ErrorCode = "INVALID_PARAM"
	// ErrCodeScreenshotFailed 截图失败
	ErrCodeScreenshotFailed ErrorCode = "SCREENSHOT_FAILED"
	// ErrCodeScriptFailed 页面脚本执行失败
	ErrCodeScriptFailed ErrorCode = "SCRIPT_FAILED"
	// ErrCodeTimeout 步骤超时
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeCancelled 执行被取消
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// StepError 步骤执行错误，只会出现在 StepResult 中，不会传播到执行器之外
type StepError struct {
	Code    ErrorCode
	Message string
	Action  string
	Cause   error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// NewStepError creates a new StepError.
func NewStepError(code ErrorCode, action, message string, cause error) *StepError {
	return &StepError{
		Code:    code,
		Message: message,
		Action:  action,
		Cause:   cause,
	}
}

// NewInvalidParamError 缺少必需参数
func NewInvalidParamError(action, param string) *StepError {
	return &StepError{
		Code:    ErrCodeInvalidParam,
		Message: fmt.Sprintf("%s 缺少参数 %s", action, param),
		Action:  action,
	}
}

// NewParamRangeError 参数取值越界
func NewParamRangeError(action, param string) *StepError {
	return &StepError{
		Code:    ErrCodeInvalidParam,
		Message: fmt.Sprintf("%s 参数 %s 超出范围", action, param),
		Action:  action,
	}
}

// agentError 按上下文错误区分超时与取消
func agentError(action, message string, err error) *StepError {
	switch {
	case errors.Is(err, context.Canceled):
		return NewStepError(ErrCodeCancelled, action, message, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewStepError(ErrCodeTimeout, action, message, err)
	default:
		return NewStepError(ErrCodeAgentFailed, action, message, err)
	}
}

// CodeOf 返回错误码，非 StepError 返回空
func CodeOf(err error) ErrorCode {
	var se *StepError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNavigationTimeout checks if the error is a navigation timeout.
func IsNavigationTimeout(err error) bool {
	return CodeOf(err) == ErrCodeNavigationTimeout
}

// IsInvalidParam checks if the error is a parameter error.
func IsInvalidParam(err error) bool {
	return CodeOf(err) == ErrCodeInvalidParam
}
