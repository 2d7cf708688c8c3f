// Package browser 管理进程内唯一的浏览器会话，并定义页面与 AI 代理的能力接口
package browser

import (
	"context"
	"errors"
	"time"

	"yqhp/web-runner/pkg/types"
)

var (
	// ErrNavigationTimeout 导航在就绪条件满足前超时
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrNoSession 当前没有浏览器会话
	ErrNoSession = errors.New("browser session not initialized")
)

// WaitUntil 导航就绪条件
type WaitUntil string

const (
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitCommit           WaitUntil = "commit"
	WaitLoad             WaitUntil = "load"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// GotoOptions 导航参数
type GotoOptions struct {
	WaitUntil WaitUntil
	Timeout   time.Duration
}

// ScreenshotOptions 截图参数，Path 为空时只返回图片数据
type ScreenshotOptions struct {
	FullPage bool
	Path     string
}

// Viewport 视口尺寸
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Page 浏览器页面能力
type Page interface {
	Goto(ctx context.Context, url string, opts GotoOptions) error
	Reload(ctx context.Context, timeout time.Duration) error
	Back(ctx context.Context, timeout time.Duration) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	Evaluate(ctx context.Context, script string, args ...any) (any, error)
	Title(ctx context.Context) (string, error)
	URL() string
	Viewport() Viewport
	SetTimeouts(tc types.TimeoutConfig)

	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	Hover(ctx context.Context, selector string) error
	Wheel(ctx context.Context, dx, dy float64) error
}

// ScrollOptions 滚动参数
type ScrollOptions struct {
	Direction  string `json:"direction,omitempty"`  // up, down, left, right
	Distance   int    `json:"distance,omitempty"`   // px
	ScrollType string `json:"scrollType,omitempty"` // once, untilBottom, untilTop
}

// Agent AI 自动化能力：按自然语言定位、操作与断言
type Agent interface {
	Tap(ctx context.Context, locate string) error
	Input(ctx context.Context, text, locate string) error
	Hover(ctx context.Context, locate string) error
	Assert(ctx context.Context, condition string) error
	WaitFor(ctx context.Context, condition string, timeout time.Duration) error
	Scroll(ctx context.Context, opts ScrollOptions, locate string) error
	Query(ctx context.Context, demand string) (any, error)
	Act(ctx context.Context, instruction string) error
}

// LaunchOptions 浏览器启动参数
type LaunchOptions struct {
	Headless bool
	Args     []string
	Viewport Viewport
}

// Instance 一个已启动的浏览器进程及其唯一的上下文与页面
type Instance interface {
	Page() Page
	Close(ctx context.Context) error
}

// Launcher 启动浏览器
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Instance, error)
}

// AgentFactory 为页面创建 AI 代理，代理在创建时绑定页面
type AgentFactory func(page Page) (Agent, error)

// Session 一次执行使用的页面与代理
type Session struct {
	Page  Page
	Agent Agent
}
