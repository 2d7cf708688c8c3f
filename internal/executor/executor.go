// Package executor 把单个规范化步骤分派到页面或 AI 代理能力，
// 并把结果统一为 StepResult。执行器从不返回错误。
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"yqhp/web-runner/internal/browser"
	"yqhp/web-runner/internal/metrics"
	"yqhp/web-runner/internal/notify"
	"yqhp/web-runner/internal/step"
	"yqhp/web-runner/pkg/types"
)

// MaxFallbackTimeout 导航降级重试的超时上限
const MaxFallbackTimeout = 15 * time.Second

// FallbackTimeout 降级重试超时为导航超时的一半，且不超过 MaxFallbackTimeout
func FallbackTimeout(navigation time.Duration) time.Duration {
	half := navigation / 2
	if half <= 0 || half > MaxFallbackTimeout {
		return MaxFallbackTimeout
	}
	return half
}

// Recorder 接收步骤产生的截图
type Recorder interface {
	AddScreenshot(entry types.ScreenshotEntry)
}

// Request 一次步骤执行请求
type Request struct {
	Step        types.Step
	Session     *browser.Session
	ExecutionID string
	Index       int
	Total       int
	Timeouts    types.TimeoutConfig
	Recorder    Recorder
}

// Config 执行器配置
type Config struct {
	ScreenshotDir string
}

type handlerFunc func(ctx context.Context, c *step.Canonical, req *Request, result *types.StepResult) error

// Executor 步骤执行器
type Executor struct {
	config   Config
	events   notify.Publisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	handlers map[string]handlerFunc
}

// New 创建执行器
func New(cfg Config, events notify.Publisher, m *metrics.Metrics, logger *zap.Logger) *Executor {
	if events == nil {
		events = notify.Nop
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = "screenshots"
	}
	e := &Executor{
		config:  cfg,
		events:  events,
		metrics: m,
		logger:  logger.Named("executor"),
	}
	e.handlers = map[string]handlerFunc{
		step.ActionNavigate:   e.navigate,
		step.ActionTap:        e.tap,
		step.ActionInput:      e.input,
		step.ActionAssert:     e.assert,
		step.ActionHover:      e.hover,
		step.ActionWaitFor:    e.waitFor,
		step.ActionScroll:     e.scroll,
		step.ActionQuery:      e.query,
		step.ActionWait:       e.wait,
		step.ActionRefresh:    e.refresh,
		step.ActionBack:       e.back,
		step.ActionScreenshot: e.screenshot,
		step.ActionEvaluateJS: e.evaluate,
		step.ActionAI:         e.act,
	}
	return e
}

// Execute 执行一个步骤，所有失败都记录在返回的 StepResult 上
func (e *Executor) Execute(ctx context.Context, req *Request) *types.StepResult {
	c := step.Canonicalize(req.Step)
	result := types.NewStepResult(req.Index, req.Step, c.Action)

	e.events.Publish(types.NewEvent(types.EventStepStart, req.ExecutionID, types.StepStartData{
		StepIndex:   req.Index,
		Action:      c.Action,
		Description: result.Description,
	}))
	e.events.Publish(types.NewStepLogEvent(req.ExecutionID, req.Index, types.LogLevelInfo,
		fmt.Sprintf("执行步骤 %d/%d: %s", req.Index+1, req.Total, result.Description)))

	err := e.dispatch(ctx, &c, req, result)
	result.Finish()

	if err != nil {
		result.Fail(err)
		e.logger.Warn("step failed",
			zap.String("execution_id", req.ExecutionID),
			zap.Int("step", req.Index),
			zap.String("action", c.Action),
			zap.Error(err))
		e.events.Publish(types.NewEvent(types.EventStepFailed, req.ExecutionID, types.StepOutcomeData{
			StepIndex: req.Index,
			Action:    c.Action,
			Success:   false,
			Duration:  result.Duration,
			Error:     result.Error,
		}))
		e.events.Publish(types.NewStepLogEvent(req.ExecutionID, req.Index, types.LogLevelError,
			fmt.Sprintf("步骤 %d 执行失败: %s", req.Index+1, result.Error)))
	} else {
		e.events.Publish(types.NewEvent(types.EventStepCompleted, req.ExecutionID, types.StepOutcomeData{
			StepIndex: req.Index,
			Action:    c.Action,
			Success:   true,
			Duration:  result.Duration,
		}))
		e.events.Publish(types.NewStepLogEvent(req.ExecutionID, req.Index, types.LogLevelSuccess,
			fmt.Sprintf("步骤 %d 执行成功 (%dms)", req.Index+1, result.Duration)))
	}

	e.metrics.StepFinished(metricsLabel(c.Action), string(result.Status), time.Duration(result.Duration)*time.Millisecond)
	return result
}

func (e *Executor) dispatch(ctx context.Context, c *step.Canonical, req *Request, result *types.StepResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("step panicked", zap.String("action", c.Action), zap.Any("panic", r))
			err = NewStepError(ErrCodeAgentFailed, c.Action, fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	if c.Invalid != "" {
		return NewParamRangeError(c.Action, c.Invalid)
	}
	if req.Session == nil || req.Session.Page == nil {
		return NewStepError(ErrCodeAgentFailed, c.Action, "浏览器会话不可用", browser.ErrNoSession)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return agentError(c.Action, "执行已取消", ctxErr)
	}

	h, ok := e.handlers[c.Action]
	if !ok {
		h = e.act
	}
	return h(ctx, c, req, result)
}

func metricsLabel(action string) string {
	if step.IsKnown(action) {
		return action
	}
	return step.ActionAI
}

func (e *Executor) navigate(ctx context.Context, c *step.Canonical, req *Request, result *types.StepResult) error {
	if c.URL == "" {
		return NewInvalidParamError(c.Action, "url")
	}
	page := req.Session.Page
	nav := req.Timeouts.Navigation()

	err := page.Goto(ctx, c.URL, browser.GotoOptions{WaitUntil: browser.WaitDOMContentLoaded, Timeout: nav})
	if err != nil {
		if !errorsIsNavTimeout(err) {
			return NewStepError(ErrCodeNavigationFailed, c.Action, "导航失败: "+c.URL, err)
		}

		fb := FallbackTimeout(nav)
		e.metrics.NavigationFallback()
		e.events.Publish(types.NewStepLogEvent(req.ExecutionID, req.Index, types.LogLevelWarning,
			fmt.Sprintf("页面加载超时，使用宽松条件重试 (%dms)", fb.Milliseconds())))

		err = page.Goto(ctx, c.URL, browser.GotoOptions{WaitUntil: browser.WaitCommit, Timeout: fb})
		if err != nil {
			if errorsIsNavTimeout(err) {
				return NewStepError(ErrCodeNavigationTimeout, c.Action, "导航超时: "+c.URL, err)
			}
			return NewStepError(ErrCodeNavigationFailed, c.Action, "导航失败: "+c.URL, err)
		}
		result.Fallback = true
	}

	title, _ := page.Title(ctx)
	result.Result = map[string]any{"url": page.URL(), "title": title}
	return nil
}

func (e *Executor) tap(ctx context.Context, c *step.Canonical, req *Request, _ *types.StepResult) error {
	if c.Locate == "" {
		return NewInvalidParamError(c.Action, "locate")
	}
	if err := req.Session.Agent.Tap(ctx, c.Locate); err != nil {
		return agentError(c.Action, "点击失败: "+c.Locate, err)
	}
	return nil
}

func (e *Executor) input(ctx context.Context, c *step.Canonical, req *Request, _ *types.StepResult) error {
	if c.Locate == "" {
		return NewInvalidParamError(c.Action, "locate")
	}
	if err := req.Session.Agent.Input(ctx, c.Text, c.Locate); err != nil {
		return agentError(c.Action, "输入失败: "+c.Locate, err)
	}
	return nil
}

func (e *Executor) assert(ctx context.Context, c *step.Canonical, req *Request, _ *types.StepResult) error {
	if c.Condition == "" {
		return NewInvalidParamError(c.Action, "condition")
	}
	if err := req.Session.Agent.Assert(ctx, c.Condition); err != nil {
		return agentError(c.Action, "断言失败: "+c.Condition, err)
	}
	return nil
}

func (e *Executor) hover(ctx context.Context, c *step.Canonical, req *Request, _ *types.StepResult) error {
	if c.Locate == "" {
		return NewInvalidParamError(c.Action, "locate")
	}
	if err := req.Session.Agent.Hover(ctx, c.Locate); err != nil {
		return agentError(c.Action, "悬停失败: "+c.Locate, err)
	}
	return nil
}

func (e *Executor) waitFor(ctx context.Context, c *step.Canonical, req *Request, _ *types.StepResult) error {
	if c.Condition == "" {
		return NewInvalidParamError(c.Action, "condition")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = req.Timeouts.Page()
	}
	if err := req.Session.Agent.WaitFor(ctx, c.Condition, timeout); err != nil {
		return agentError(c.Action, "等待条件未满足: "+c.Condition, err)
	}
	return nil
}

func (e *Executor) scroll(ctx context.Context, c *step.Canonical, req *Request, _ *types.StepResult) error {
	opts := browser.ScrollOptions{
		Direction:  c.Direction,
		Distance:   c.Distance,
		ScrollType: c.ScrollType,
	}
	switch opts.Direction {
	case "":
		opts.Direction = "down"
	case "up", "down", "left", "right":
	default:
		return NewStepError(ErrCodeInvalidParam, c.Action, "未知的滚动方向: "+opts.Direction, nil)
	}
	if opts.Distance <= 0 {
		opts.Distance = req.Session.Page.Viewport().Height
	}
	if err := req.Session.Agent.Scroll(ctx, opts, c.Locate); err != nil {
		return agentError(c.Action, "滚动失败", err)
	}
	return nil
}

func (e *Executor) query(ctx context.Context, c *step.Canonical, req *Request, result *types.StepResult) error {
	if c.Query == "" {
		return NewInvalidParamError(c.Action, "query")
	}
	value, err := req.Session.Agent.Query(ctx, c.Query)
	if err != nil {
		return agentError(c.Action, "查询失败: "+c.Query, err)
	}
	if c.Extract != "" {
		value, err = extract(value, c.Extract)
		if err != nil {
			return NewStepError(ErrCodeInvalidParam, c.Action, "提取失败: "+c.Extract, err)
		}
	}
	if c.Variable != "" {
		result.Result = map[string]any{c.Variable: value}
	} else {
		result.Result = value
	}
	e.events.Publish(types.NewStepLogEvent(req.ExecutionID, req.Index, types.LogLevelInfo,
		"查询结果: "+compact(value)))
	return nil
}

func (e *Executor) wait(ctx context.Context, c *step.Canonical, _ *Request, _ *types.StepResult) error {
	timer := time.NewTimer(c.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return agentError(c.Action, "等待被中断", ctx.Err())
	}
}

func (e *Executor) refresh(ctx context.Context, c *step.Canonical, req *Request, _ *types.StepResult) error {
	if err := req.Session.Page.Reload(ctx, req.Timeouts.Navigation()); err != nil {
		return NewStepError(ErrCodeNavigationFailed, c.Action, "刷新失败", err)
	}
	return nil
}

func (e *Executor) back(ctx context.Context, c *step.Canonical, req *Request, _ *types.StepResult) error {
	if err := req.Session.Page.Back(ctx, req.Timeouts.Navigation()); err != nil {
		return NewStepError(ErrCodeNavigationFailed, c.Action, "后退失败", err)
	}
	return nil
}

func (e *Executor) screenshot(ctx context.Context, c *step.Canonical, req *Request, result *types.StepResult) error {
	path := filepath.Join(e.config.ScreenshotDir, req.ExecutionID, fmt.Sprintf("step-%d.png", req.Index))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return NewStepError(ErrCodeScreenshotFailed, c.Action, "创建截图目录失败", err)
	}
	if _, err := req.Session.Page.Screenshot(ctx, browser.ScreenshotOptions{FullPage: true, Path: path}); err != nil {
		return NewStepError(ErrCodeScreenshotFailed, c.Action, "截图失败", err)
	}

	entry := types.ScreenshotEntry{
		StepIndex:   req.Index,
		Path:        path,
		Description: result.Description,
		Timestamp:   time.Now(),
	}
	if req.Recorder != nil {
		req.Recorder.AddScreenshot(entry)
	}
	e.events.Publish(types.NewEvent(types.EventScreenshotTaken, req.ExecutionID, types.ScreenshotData{
		StepIndex: req.Index,
		Path:      path,
	}))
	result.Result = path
	return nil
}

func (e *Executor) evaluate(ctx context.Context, c *step.Canonical, req *Request, result *types.StepResult) error {
	if c.Script == "" {
		return NewInvalidParamError(c.Action, "script")
	}
	value, err := req.Session.Page.Evaluate(ctx, c.Script)
	if err != nil {
		return NewStepError(ErrCodeScriptFailed, c.Action, "脚本执行失败", err)
	}
	result.Result = value
	e.events.Publish(types.NewStepLogEvent(req.ExecutionID, req.Index, types.LogLevelInfo,
		"脚本返回: "+compact(value)))
	return nil
}

func (e *Executor) act(ctx context.Context, c *step.Canonical, req *Request, _ *types.StepResult) error {
	instruction := c.Instruction
	if instruction == "" {
		instruction = c.Raw.Token()
	}
	if instruction == "" {
		return NewInvalidParamError(c.Action, "instruction")
	}
	if err := req.Session.Agent.Act(ctx, instruction); err != nil {
		return agentError(c.Action, "AI 操作失败: "+instruction, err)
	}
	return nil
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	const limit = 500
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
