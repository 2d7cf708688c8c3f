package types

import (
	"fmt"
	"time"
)

// ExecutionStatus 执行状态
type ExecutionStatus string

const (
	// ExecutionStatusRunning 执行中，唯一的初始状态
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusSuccess 所有步骤成功
	ExecutionStatusSuccess ExecutionStatus = "success"
	// ExecutionStatusFailed 至少一个步骤失败或会话初始化失败
	ExecutionStatusFailed ExecutionStatus = "failed"
	// ExecutionStatusStopped 被调用方停止
	ExecutionStatusStopped ExecutionStatus = "stopped"
)

// IsTerminal 是否为终态
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed || s == ExecutionStatusStopped
}

// Mode 浏览器模式
type Mode string

const (
	ModeHeadless Mode = "headless"
	ModeBrowser  Mode = "browser"
)

// ParseMode 解析模式，空值为 headless
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeHeadless:
		return ModeHeadless, nil
	case ModeBrowser:
		return ModeBrowser, nil
	default:
		return "", fmt.Errorf("unknown mode %q, expected headless or browser", s)
	}
}

// Headless 是否无头模式
func (m Mode) Headless() bool {
	return m != ModeBrowser
}

// FailurePolicy 步骤失败后的处理策略
type FailurePolicy string

const (
	// FailurePolicyContinue 继续执行剩余步骤，最终状态为 failed
	FailurePolicyContinue FailurePolicy = "continue"
	// FailurePolicyAbort 在第一个失败步骤后停止
	FailurePolicyAbort FailurePolicy = "abort"
)

// ParseFailurePolicy 解析失败策略，空值返回 def
func ParseFailurePolicy(s string, def FailurePolicy) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "":
		return def, nil
	case FailurePolicyContinue, FailurePolicyAbort:
		return FailurePolicy(s), nil
	default:
		return "", fmt.Errorf("unknown failure policy %q, expected continue or abort", s)
	}
}

// StepStatus 步骤状态
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
)

// StepResult 单个步骤的执行结果，每个已执行步骤恰好一条
type StepResult struct {
	Index       int            `json:"index"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Type        string         `json:"type"`
	Params      map[string]any `json:"params,omitempty"`
	Status      StepStatus     `json:"status"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     time.Time      `json:"endTime"`
	Duration    int64          `json:"duration"` // ms
	Error       string         `json:"error,omitempty"`
	Result      any            `json:"result,omitempty"`
	Fallback    bool           `json:"fallback,omitempty"`
}

// NewStepResult 创建一个初始状态为 success 的 StepResult，
// 配合 defer result.Finish() 使用
func NewStepResult(index int, step Step, action string) *StepResult {
	return &StepResult{
		Index:       index,
		Description: step.Label(),
		Action:      action,
		Type:        step.Token(),
		Params:      cloneParams(step.Params),
		Status:      StepStatusSuccess,
		StartTime:   time.Now(),
	}
}

// Fail 标记步骤为失败
func (r *StepResult) Fail(err error) {
	r.Status = StepStatusFailed
	if err != nil {
		r.Error = err.Error()
	}
	if r.Error == "" {
		r.Error = "step failed"
	}
}

// Finish 设置 EndTime 和 Duration
func (r *StepResult) Finish() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime).Milliseconds()
}

// IsSuccess 步骤是否成功
func (r *StepResult) IsSuccess() bool {
	return r.Status == StepStatusSuccess
}

func cloneParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// LogLevel 日志级别
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogEntry 执行日志
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	StepIndex *int      `json:"stepIndex,omitempty"`
}

// ScreenshotEntry 截图记录
type ScreenshotEntry struct {
	StepIndex   int       `json:"stepIndex"`
	Path        string    `json:"path"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ExecutionRecord 一次执行的状态快照
type ExecutionRecord struct {
	ID            string            `json:"executionId"`
	Status        ExecutionStatus   `json:"status"`
	Testcase      string            `json:"testcase"`
	Mode          Mode              `json:"mode"`
	FailurePolicy FailurePolicy     `json:"failurePolicy"`
	Timeouts      TimeoutConfig     `json:"timeouts"`
	StartTime     time.Time         `json:"startTime"`
	EndTime       *time.Time        `json:"endTime"`
	Duration      int64             `json:"duration"` // ms
	TotalSteps    int               `json:"totalSteps"`
	Steps         []StepResult      `json:"steps"`
	Logs          []LogEntry        `json:"logs"`
	Screenshots   []ScreenshotEntry `json:"screenshots"`
	Error         string            `json:"error,omitempty"`
	ReportPath    string            `json:"reportPath,omitempty"`
}

// StepCounts 统计成功与失败的步骤数
func (r *ExecutionRecord) StepCounts() (successful, failed int) {
	for i := range r.Steps {
		if r.Steps[i].IsSuccess() {
			successful++
		} else {
			failed++
		}
	}
	return successful, failed
}

// ExecutionSummary 执行汇总
type ExecutionSummary struct {
	Total      int   `json:"total"`
	Successful int   `json:"successful"`
	Failed     int   `json:"failed"`
	Duration   int64 `json:"duration"` // ms
}

// ExecutionReport 执行报告
type ExecutionReport struct {
	ExecutionID string            `json:"executionId"`
	Testcase    string            `json:"testcase"`
	Status      ExecutionStatus   `json:"status"`
	Mode        Mode              `json:"mode"`
	StartTime   time.Time         `json:"startTime"`
	EndTime     *time.Time        `json:"endTime"`
	Summary     ExecutionSummary  `json:"summary"`
	Steps       []StepResult      `json:"steps"`
	Logs        []LogEntry        `json:"logs"`
	Screenshots []ScreenshotEntry `json:"screenshots"`
	Error       string            `json:"error,omitempty"`
	ReportPath  string            `json:"reportPath,omitempty"`
	GeneratedAt time.Time         `json:"generatedAt"`
}

// NewExecutionReport 由记录快照生成报告
func NewExecutionReport(rec *ExecutionRecord) *ExecutionReport {
	ok, failed := rec.StepCounts()
	return &ExecutionReport{
		ExecutionID: rec.ID,
		Testcase:    rec.Testcase,
		Status:      rec.Status,
		Mode:        rec.Mode,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
		Summary: ExecutionSummary{
			Total:      max(rec.TotalSteps, len(rec.Steps)),
			Successful: ok,
			Failed:     failed,
			Duration:   rec.Duration,
		},
		Steps:       rec.Steps,
		Logs:        rec.Logs,
		Screenshots: rec.Screenshots,
		Error:       rec.Error,
		ReportPath:  rec.ReportPath,
		GeneratedAt: time.Now(),
	}
}
