// Package browsertest 提供浏览器与 AI 代理的内存替身
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"yqhp/web-runner/internal/browser"
	"yqhp/web-runner/pkg/types"
)

// PNG 1x1 透明图片
var PNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// GotoCall 记录一次导航调用
type GotoCall struct {
	URL  string
	Opts browser.GotoOptions
}

// Page 内存页面
type Page struct {
	mu sync.Mutex

	// GotoFunc 为空时导航总是成功
	GotoFunc     func(url string, opts browser.GotoOptions) error
	EvaluateFunc func(script string, args ...any) (any, error)
	ScreenshotErr error

	GotoCalls   []GotoCall
	Screenshots []string
	Timeouts    types.TimeoutConfig
	Clicks      []string
	Fills       map[string]string
	Wheels      [][2]float64
	Reloads     int
	Backs       int

	url   string
	title string
}

// NewPage 创建页面
func NewPage() *Page {
	return &Page{url: "about:blank", Fills: map[string]string{}}
}

func (p *Page) Goto(ctx context.Context, url string, opts browser.GotoOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.GotoCalls = append(p.GotoCalls, GotoCall{URL: url, Opts: opts})
	fn := p.GotoFunc
	p.mu.Unlock()

	if fn != nil {
		if err := fn(url, opts); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.url = url
	p.title = "Page " + url
	p.mu.Unlock()
	return nil
}

func (p *Page) Reload(ctx context.Context, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Reloads++
	return ctx.Err()
}

func (p *Page) Back(ctx context.Context, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Backs++
	return ctx.Err()
}

func (p *Page) Screenshot(_ context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	// 与 playwright 一致，不创建父目录
	if opts.Path != "" {
		if err := os.WriteFile(opts.Path, PNG, 0o644); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	p.Screenshots = append(p.Screenshots, opts.Path)
	p.mu.Unlock()
	return PNG, nil
}

func (p *Page) Evaluate(_ context.Context, script string, args ...any) (any, error) {
	if p.EvaluateFunc != nil {
		return p.EvaluateFunc(script, args...)
	}
	return nil, nil
}

func (p *Page) Title(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Viewport() browser.Viewport {
	return browser.Viewport{Width: 1280, Height: 720}
}

func (p *Page) SetTimeouts(tc types.TimeoutConfig) {
	p.mu.Lock()
	p.Timeouts = tc
	p.mu.Unlock()
}

func (p *Page) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	p.Clicks = append(p.Clicks, selector)
	p.mu.Unlock()
	return nil
}

func (p *Page) Fill(_ context.Context, selector, text string) error {
	p.mu.Lock()
	p.Fills[selector] = text
	p.mu.Unlock()
	return nil
}

func (p *Page) Hover(context.Context, string) error { return nil }

func (p *Page) Wheel(_ context.Context, dx, dy float64) error {
	p.mu.Lock()
	p.Wheels = append(p.Wheels, [2]float64{dx, dy})
	p.mu.Unlock()
	return nil
}

// ErrNotFound 代理找不到目标元素
var ErrNotFound = errors.New("element not found")

// Agent 内存代理，Missing 中的定位描述与 Failing 中的断言会失败
type Agent struct {
	mu sync.Mutex

	Missing   map[string]bool
	Failing   map[string]bool
	QueryData any
	Delay     time.Duration

	Calls []string
}

// NewAgent 创建代理
func NewAgent() *Agent {
	return &Agent{Missing: map[string]bool{}, Failing: map[string]bool{}}
}

func (a *Agent) record(call string) {
	a.mu.Lock()
	a.Calls = append(a.Calls, call)
	a.mu.Unlock()
}

func (a *Agent) wait(ctx context.Context) error {
	if a.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(a.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) locate(locate string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Missing[locate] {
		return fmt.Errorf("%w: %s", ErrNotFound, locate)
	}
	return nil
}

func (a *Agent) Tap(ctx context.Context, locate string) error {
	a.record("tap:" + locate)
	if err := a.wait(ctx); err != nil {
		return err
	}
	return a.locate(locate)
}

func (a *Agent) Input(ctx context.Context, text, locate string) error {
	a.record("input:" + locate + "=" + text)
	if err := a.wait(ctx); err != nil {
		return err
	}
	return a.locate(locate)
}

func (a *Agent) Hover(ctx context.Context, locate string) error {
	a.record("hover:" + locate)
	if err := a.wait(ctx); err != nil {
		return err
	}
	return a.locate(locate)
}

func (a *Agent) Assert(ctx context.Context, condition string) error {
	a.record("assert:" + condition)
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Failing[condition] {
		return fmt.Errorf("assertion failed: %s", condition)
	}
	return nil
}

func (a *Agent) WaitFor(ctx context.Context, condition string, _ time.Duration) error {
	a.record("waitFor:" + condition)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Failing[condition] {
		return fmt.Errorf("wait for %q timed out", condition)
	}
	return ctx.Err()
}

func (a *Agent) Scroll(ctx context.Context, opts browser.ScrollOptions, locate string) error {
	a.record(fmt.Sprintf("scroll:%s:%d:%s", opts.Direction, opts.Distance, locate))
	if locate != "" {
		return a.locate(locate)
	}
	return ctx.Err()
}

func (a *Agent) Query(ctx context.Context, demand string) (any, error) {
	a.record("query:" + demand)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.QueryData, ctx.Err()
}

func (a *Agent) Act(ctx context.Context, instruction string) error {
	a.record("act:" + instruction)
	if err := a.wait(ctx); err != nil {
		return err
	}
	return a.locate(instruction)
}

// CallsSnapshot 返回调用记录副本
func (a *Agent) CallsSnapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.Calls...)
}

// Launcher 内存启动器，每次启动复用同一个页面与代理
type Launcher struct {
	mu sync.Mutex

	Page  *Page
	Agent *Agent
	Err   error

	Launches int
	Closes   int
	Options  []browser.LaunchOptions
}

// NewLauncher 创建启动器
func NewLauncher() *Launcher {
	return &Launcher{Page: NewPage(), Agent: NewAgent()}
}

func (l *Launcher) Launch(_ context.Context, opts browser.LaunchOptions) (browser.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Options = append(l.Options, opts)
	if l.Err != nil {
		return nil, l.Err
	}
	l.Launches++
	return &instance{launcher: l}, nil
}

// AgentFactory 返回绑定到 l.Agent 的代理工厂
func (l *Launcher) AgentFactory() browser.AgentFactory {
	return func(browser.Page) (browser.Agent, error) {
		return l.Agent, nil
	}
}

// Manager 创建使用该启动器的会话管理器
func (l *Launcher) Manager() *browser.Manager {
	return browser.NewManager(l, l.AgentFactory(), browser.DefaultManagerConfig(), nil)
}

// Counts 返回启动与关闭次数
func (l *Launcher) Counts() (launches, closes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Launches, l.Closes
}

type instance struct {
	launcher *Launcher
}

func (i *instance) Page() browser.Page {
	return i.launcher.Page
}

func (i *instance) Close(context.Context) error {
	i.launcher.mu.Lock()
	i.launcher.Closes++
	i.launcher.mu.Unlock()
	return nil
}
