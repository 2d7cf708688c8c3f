package types

import "time"

// EventType 实时事件类型
type EventType string

const (
	EventServerStatus       EventType = "server-status"
	EventExecutionStart     EventType = "execution-start"
	EventStepStart          EventType = "step-start"
	EventStepProgress       EventType = "step-progress"
	EventStepCompleted      EventType = "step-completed"
	EventStepFailed         EventType = "step-failed"
	EventScreenshotTaken    EventType = "screenshot-taken"
	EventExecutionCompleted EventType = "execution-completed"
	EventExecutionStopped   EventType = "execution-stopped"
	EventLogMessage         EventType = "log-message"
)

// Event 通过统一通知端口发布的事件，Data 的具体类型由 Type 决定
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"executionId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Data        any       `json:"data,omitempty"`
}

// NewEvent 创建事件
func NewEvent(typ EventType, executionID string, data any) Event {
	return Event{
		Type:        typ,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		Data:        data,
	}
}

// NewLogEvent 创建日志事件
func NewLogEvent(executionID string, level LogLevel, message string) Event {
	return NewEvent(EventLogMessage, executionID, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
}

// NewStepLogEvent 创建关联步骤的日志事件
func NewStepLogEvent(executionID string, stepIndex int, level LogLevel, message string) Event {
	idx := stepIndex
	return NewEvent(EventLogMessage, executionID, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		StepIndex: &idx,
	})
}

// ServerStatusData server-status 事件数据
type ServerStatusData struct {
	Status string `json:"status"`
}

// ExecutionStartData execution-start 事件数据
type ExecutionStartData struct {
	Testcase   string `json:"testcase"`
	Mode       Mode   `json:"mode"`
	TotalSteps int    `json:"totalSteps"`
}

// StepStartData step-start 事件数据
type StepStartData struct {
	StepIndex   int    `json:"stepIndex"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// StepProgressData step-progress 事件数据
type StepProgressData struct {
	StepIndex  int    `json:"stepIndex"`
	TotalSteps int    `json:"totalSteps"`
	Step       string `json:"step"`
	Progress   int    `json:"progress"`
}

// StepOutcomeData step-completed / step-failed 事件数据
type StepOutcomeData struct {
	StepIndex int    `json:"stepIndex"`
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Duration  int64  `json:"duration"`
	Error     string `json:"error,omitempty"`
}

// ScreenshotData screenshot-taken 事件数据
type ScreenshotData struct {
	StepIndex  int    `json:"stepIndex"`
	Path       string `json:"path,omitempty"`
	Screenshot string `json:"screenshot,omitempty"` // base64 png
}

// ExecutionTerminalData execution-completed / execution-stopped 事件数据
type ExecutionTerminalData struct {
	Status   ExecutionStatus  `json:"status"`
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Error    string           `json:"error,omitempty"`
	Duration int64            `json:"duration"`
	Summary  ExecutionSummary `json:"summary"`
}
