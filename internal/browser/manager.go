package browser

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"yqhp/web-runner/pkg/types"
)

// ManagerConfig 会话管理器配置
type ManagerConfig struct {
	Args     []string
	Viewport Viewport
	Headless bool // 未指定模式时使用
}

// DefaultManagerConfig 关闭沙箱，固定 1280x720 视口
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Args:     []string{"--no-sandbox", "--disable-setuid-sandbox"},
		Viewport: Viewport{Width: 1280, Height: 720},
		Headless: true,
	}
}

// Manager 独占持有浏览器、页面与代理，按需创建并在每次执行后销毁
type Manager struct {
	launcher Launcher
	newAgent AgentFactory
	config   ManagerConfig
	logger   *zap.Logger

	mu       sync.Mutex
	instance Instance
	session  *Session
	headless bool
}

// NewManager 创建会话管理器
func NewManager(launcher Launcher, newAgent AgentFactory, config ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		launcher: launcher,
		newAgent: newAgent,
		config:   config,
		logger:   logger.Named("browser"),
		headless: config.Headless,
	}
}

// Acquire 返回当前会话，没有时按 headless 启动。
// 已有会话只刷新超时设置；模式不同时先销毁再重建。
func (m *Manager) Acquire(ctx context.Context, headless bool, tc types.TimeoutConfig) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && m.headless != headless {
		m.logger.Info("browser mode changed, relaunching", zap.Bool("headless", headless))
		if err := m.closeLocked(ctx); err != nil {
			m.logger.Warn("close previous session failed", zap.Error(err))
		}
	}
	return m.ensureLocked(ctx, headless, tc)
}

// Current 返回当前会话，没有时以最近一次使用的模式启动
func (m *Manager) Current(ctx context.Context, tc types.TimeoutConfig) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx, m.headless, tc)
}

func (m *Manager) ensureLocked(ctx context.Context, headless bool, tc types.TimeoutConfig) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.session == nil {
		inst, err := m.launcher.Launch(ctx, LaunchOptions{
			Headless: headless,
			Args:     m.config.Args,
			Viewport: m.config.Viewport,
		})
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}

		page := inst.Page()
		agent, err := m.newAgent(page)
		if err != nil {
			_ = inst.Close(ctx)
			return nil, fmt.Errorf("create agent: %w", err)
		}

		m.instance = inst
		m.session = &Session{Page: page, Agent: agent}
		m.headless = headless
		m.logger.Info("browser launched", zap.Bool("headless", headless))
	}

	m.session.Page.SetTimeouts(tc)
	return m.session, nil
}

// Release 关闭上下文与浏览器进程并清空句柄，没有会话时为空操作
func (m *Manager) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(ctx)
}

func (m *Manager) closeLocked(ctx context.Context) error {
	if m.instance == nil {
		return nil
	}
	inst := m.instance
	m.instance = nil
	m.session = nil

	if err := inst.Close(ctx); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	m.logger.Info("browser closed")
	return nil
}

// SetMode 以指定模式重启浏览器
func (m *Manager) SetMode(ctx context.Context, headless bool, tc types.TimeoutConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.closeLocked(ctx); err != nil {
		m.logger.Warn("close previous session failed", zap.Error(err))
	}
	_, err := m.ensureLocked(ctx, headless, tc)
	return err
}

// Initialized 是否存在活动会话
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Headless 当前或下一次启动使用的模式
func (m *Manager) Headless() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headless
}
