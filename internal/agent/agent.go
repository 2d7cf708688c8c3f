// Package agent 用 OpenAI 兼容的多模态/文本模型实现 browser.Agent：
// 在页面中枚举可交互元素，由模型按自然语言挑选目标或判断断言，再用页面定位器执行动作。
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/ohler55/ojg/oj"
	"go.uber.org/zap"

	"yqhp/web-runner/internal/browser"
	"yqhp/web-runner/internal/config"
)

// ErrElementNotFound 模型未能在页面中找到描述的元素
var ErrElementNotFound = errors.New("element not found")

// Config 代理配置
type Config struct {
	MaxElements   int
	MaxTextLength int
	PollInterval  time.Duration
	MaxActions    int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxElements:   300,
		MaxTextLength: 6000,
		PollInterval:  time.Second,
		MaxActions:    10,
	}
}

// NewChatModel 按配置创建 OpenAI 兼容的聊天模型
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, error) {
	chatConfig := &openai.ChatModelConfig{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.RequestTimeout,
	}
	if cfg.Temperature > 0 {
		t := cfg.Temperature
		chatConfig.Temperature = &t
	}
	return openai.NewChatModel(ctx, chatConfig)
}

// Agent 绑定单个页面的 AI 代理
type Agent struct {
	page   browser.Page
	model  model.BaseChatModel
	config Config
	logger *zap.Logger
}

// New 创建代理
func New(page browser.Page, m model.BaseChatModel, cfg Config, logger *zap.Logger) *Agent {
	def := DefaultConfig()
	if cfg.MaxElements <= 0 {
		cfg.MaxElements = def.MaxElements
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = def.MaxActions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{page: page, model: m, config: cfg, logger: logger.Named("agent")}
}

// Factory 返回会话管理器使用的代理工厂
func Factory(m model.BaseChatModel, cfg Config, logger *zap.Logger) browser.AgentFactory {
	return func(page browser.Page) (browser.Agent, error) {
		if m == nil {
			return nil, errors.New("ai model not configured")
		}
		return New(page, m, cfg, logger), nil
	}
}

// Tap 点击描述的元素
func (a *Agent) Tap(ctx context.Context, locate string) error {
	sel, err := a.locate(ctx, locate)
	if err != nil {
		return err
	}
	return a.page.Click(ctx, sel)
}

// Input 向描述的元素输入文本
func (a *Agent) Input(ctx context.Context, text, locate string) error {
	sel, err := a.locate(ctx, locate)
	if err != nil {
		return err
	}
	return a.page.Fill(ctx, sel, text)
}

// Hover 悬停在描述的元素上
func (a *Agent) Hover(ctx context.Context, locate string) error {
	sel, err := a.locate(ctx, locate)
	if err != nil {
		return err
	}
	return a.page.Hover(ctx, sel)
}

// Assert 断言页面满足条件
func (a *Agent) Assert(ctx context.Context, condition string) error {
	v, err := a.judge(ctx, condition)
	if err != nil {
		return err
	}
	if !v.Pass {
		return fmt.Errorf("assertion failed: %s: %s", condition, v.Reason)
	}
	return nil
}

// WaitFor 轮询直到条件满足或超时
func (a *Agent) WaitFor(ctx context.Context, condition string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	last := ""
	for {
		v, err := a.judge(ctx, condition)
		if err == nil && v.Pass {
			return nil
		}
		if err != nil {
			last = err.Error()
		} else {
			last = v.Reason
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %q timed out after %s: %s", condition, timeout, last)
		case <-ticker.C:
		}
	}
}

// Scroll 按方向与距离滚动页面，指定 locate 时滚动该元素
func (a *Agent) Scroll(ctx context.Context, opts browser.ScrollOptions, locate string) error {
	switch opts.ScrollType {
	case "untilBottom":
		_, err := a.page.Evaluate(ctx, `() => window.scrollTo(0, document.body.scrollHeight)`)
		return err
	case "untilTop":
		_, err := a.page.Evaluate(ctx, `() => window.scrollTo(0, 0)`)
		return err
	}

	dx, dy := scrollDelta(opts, a.page.Viewport())
	if locate == "" {
		return a.page.Wheel(ctx, dx, dy)
	}

	sel, err := a.locate(ctx, locate)
	if err != nil {
		return err
	}
	_, err = a.page.Evaluate(ctx, scrollElementScript, []any{sel, dx, dy})
	return err
}

func scrollDelta(opts browser.ScrollOptions, vp browser.Viewport) (float64, float64) {
	distance := opts.Distance
	switch opts.Direction {
	case "left", "right":
		if distance <= 0 {
			distance = vp.Width
		}
	default:
		if distance <= 0 {
			distance = vp.Height
		}
	}
	d := float64(distance)
	switch opts.Direction {
	case "up":
		return 0, -d
	case "left":
		return -d, 0
	case "right":
		return d, 0
	default:
		return 0, d
	}
}

// Query 按描述从页面提取数据，返回解析后的 JSON 值
func (a *Agent) Query(ctx context.Context, demand string) (any, error) {
	text, err := a.pageText(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := a.generate(ctx, querySystemPrompt, fmt.Sprintf("页面文本:\n%s\n\n提取要求:\n%s", text, demand))
	if err != nil {
		return nil, err
	}
	v, err := oj.ParseString(extractJSON(reply))
	if err != nil {
		return nil, fmt.Errorf("parse query result: %w", err)
	}
	return v, nil
}

// Act 让模型规划一组原子动作并依次执行
func (a *Agent) Act(ctx context.Context, instruction string) error {
	elements, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	reply, err := a.generate(ctx, actSystemPrompt, fmt.Sprintf("可交互元素:\n%s\n\n指令:\n%s", formatElements(elements), instruction))
	if err != nil {
		return err
	}

	var plan []plannedAction
	if err := json.Unmarshal([]byte(extractJSON(reply)), &plan); err != nil {
		return fmt.Errorf("parse action plan: %w", err)
	}
	if len(plan) == 0 {
		return fmt.Errorf("no action planned for %q", instruction)
	}
	if len(plan) > a.config.MaxActions {
		plan = plan[:a.config.MaxActions]
	}

	for i, act := range plan {
		if err := a.perform(ctx, act); err != nil {
			return fmt.Errorf("action %d (%s): %w", i+1, act.Action, err)
		}
	}
	return nil
}

type plannedAction struct {
	Action    string `json:"action"`
	ID        int    `json:"id"`
	Text      string `json:"text"`
	Direction string `json:"direction"`
	Distance  int    `json:"distance"`
	Ms        int    `json:"ms"`
}

func (a *Agent) perform(ctx context.Context, act plannedAction) error {
	sel := selectorFor(act.ID)
	switch act.Action {
	case "tap", "click":
		return a.page.Click(ctx, sel)
	case "input", "type":
		return a.page.Fill(ctx, sel, act.Text)
	case "hover":
		return a.page.Hover(ctx, sel)
	case "scroll":
		dx, dy := scrollDelta(browser.ScrollOptions{Direction: act.Direction, Distance: act.Distance}, a.page.Viewport())
		return a.page.Wheel(ctx, dx, dy)
	case "wait":
		select {
		case <-time.After(time.Duration(act.Ms) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return fmt.Errorf("unsupported action %q", act.Action)
	}
}

func (a *Agent) locate(ctx context.Context, description string) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", errors.New("empty locate description")
	}
	elements, err := a.snapshot(ctx)
	if err != nil {
		return "", err
	}
	if len(elements) == 0 {
		return "", fmt.Errorf("%w: %s (page has no interactive elements)", ErrElementNotFound, description)
	}

	reply, err := a.generate(ctx, locateSystemPrompt, fmt.Sprintf("可交互元素:\n%s\n\n目标描述:\n%s", formatElements(elements), description))
	if err != nil {
		return "", err
	}

	var res struct {
		ID     int    `json:"id"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &res); err != nil {
		return "", fmt.Errorf("parse locate result: %w", err)
	}
	if res.ID <= 0 || res.ID > len(elements) {
		return "", fmt.Errorf("%w: %s %s", ErrElementNotFound, description, res.Reason)
	}
	a.logger.Debug("element located", zap.String("locate", description), zap.Int("id", res.ID))
	return selectorFor(res.ID), nil
}

type verdict struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason"`
}

func (a *Agent) judge(ctx context.Context, condition string) (verdict, error) {
	text, err := a.pageText(ctx)
	if err != nil {
		return verdict{}, err
	}
	title, _ := a.page.Title(ctx)
	reply, err := a.generate(ctx, assertSystemPrompt, fmt.Sprintf("页面地址: %s\n页面标题: %s\n页面文本:\n%s\n\n断言:\n%s", a.page.URL(), title, text, condition))
	if err != nil {
		return verdict{}, err
	}
	var v verdict
	if err := json.Unmarshal([]byte(extractJSON(reply)), &v); err != nil {
		return verdict{}, fmt.Errorf("parse assertion result: %w", err)
	}
	return v, nil
}

func (a *Agent) generate(ctx context.Context, system, user string) (string, error) {
	resp, err := a.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	})
	if err != nil {
		return "", fmt.Errorf("ai model: %w", err)
	}
	if resp == nil {
		return "", errors.New("ai model returned empty response")
	}
	return resp.Content, nil
}

// extractJSON 去掉 markdown 代码块等包裹，只保留首个 JSON 对象或数组
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return content
	}
	closer := "}"
	if content[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(content, closer)
	if end <= start {
		return content[start:]
	}
	return content[start : end+1]
}
