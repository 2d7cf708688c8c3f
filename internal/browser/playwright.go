package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"yqhp/web-runner/pkg/types"
)

// PlaywrightLauncher 基于 playwright-go 的 Chromium 启动器，驱动进程在首次启动时拉起
type PlaywrightLauncher struct {
	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightLauncher 创建启动器
func NewPlaywrightLauncher() *PlaywrightLauncher {
	return &PlaywrightLauncher{}
}

// Launch 启动浏览器并创建一个上下文和一个页面
func (l *PlaywrightLauncher) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := l.driver()
	if err != nil {
		return nil, err
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	})
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height},
	})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("new context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}

	return &pwInstance{browser: b, context: bctx, page: &pwPage{page: page}}, nil
}

func (l *PlaywrightLauncher) driver() (*playwright.Playwright, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw != nil {
		return l.pw, nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	l.pw = pw
	return pw, nil
}

// Stop 关闭 playwright 驱动进程
func (l *PlaywrightLauncher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	return err
}

type pwInstance struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    *pwPage
}

func (i *pwInstance) Page() Page {
	return i.page
}

func (i *pwInstance) Close(_ context.Context) error {
	return errors.Join(i.context.Close(), i.browser.Close())
}

type pwPage struct {
	page playwright.Page
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func waitState(w WaitUntil) *playwright.WaitUntilState {
	switch w {
	case WaitCommit:
		return playwright.WaitUntilStateCommit
	case WaitLoad:
		return playwright.WaitUntilStateLoad
	case WaitNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	default:
		return playwright.WaitUntilStateDomcontentloaded
	}
}

// navErr 把 playwright 的超时错误统一为 ErrNavigationTimeout
func navErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	}
	return err
}

func (p *pwPage) Goto(ctx context.Context, url string, opts GotoOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitState(opts.WaitUntil),
		Timeout:   ms(opts.Timeout),
	})
	return navErr(err)
}

func (p *pwPage) Reload(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Reload(playwright.PageReloadOptions{Timeout: ms(timeout)})
	return navErr(err)
}

func (p *pwPage) Back(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.GoBack(playwright.PageGoBackOptions{Timeout: ms(timeout)})
	return navErr(err)
}

func (p *pwPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
		Type:     playwright.ScreenshotTypePng,
	}
	if opts.Path != "" {
		o.Path = playwright.String(opts.Path)
	}
	return p.page.Screenshot(o)
}

func (p *pwPage) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.page.Evaluate(script, args...)
}

func (p *pwPage) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Title()
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Viewport() Viewport {
	size := p.page.ViewportSize()
	if size == nil {
		return Viewport{}
	}
	return Viewport{Width: size.Width, Height: size.Height}
}

func (p *pwPage) SetTimeouts(tc types.TimeoutConfig) {
	p.page.SetDefaultTimeout(float64(tc.ActionTimeout))
	p.page.SetDefaultNavigationTimeout(float64(tc.NavigationTimeout))
}

func (p *pwPage) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Locator(selector).First().Click()
}

func (p *pwPage) Fill(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Locator(selector).First().Fill(text)
}

func (p *pwPage) Hover(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Locator(selector).First().Hover()
}

func (p *pwPage) Wheel(ctx context.Context, dx, dy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Mouse().Wheel(dx, dy)
}
