package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"yqhp/web-runner/internal/agent"
	"yqhp/web-runner/internal/browser"
	"yqhp/web-runner/internal/config"
	"yqhp/web-runner/internal/execution"
	"yqhp/web-runner/internal/executor"
	"yqhp/web-runner/internal/metrics"
	"yqhp/web-runner/internal/notify"
	"yqhp/web-runner/internal/report"
	"yqhp/web-runner/pkg/logger"
	"yqhp/web-runner/pkg/types"
)

// stack 进程内组装好的组件
type stack struct {
	config   *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	store    *execution.Store
	hub      *notify.Hub
	bus      *notify.Bus
	redis    *notify.RedisSink
	launcher *browser.PlaywrightLauncher
	orch     *execution.Orchestrator
	actions  *executor.Executor
}

// loadConfig 按 默认值 < 配置文件 < 环境变量 < 命令行 的顺序加载配置
func loadConfig(overrides map[string]string) (*config.Config, error) {
	if debug {
		overrides["log.level"] = "debug"
	}
	cfg, err := config.NewLoader().
		WithConfigPath(cfgFile).
		WithCmdArgs(overrides).
		Load()
	if err != nil {
		return nil, err
	}
	logger.Init(&cfg.Log)
	return cfg, nil
}

func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	log := logger.L()
	m := metrics.New()
	store := execution.NewStore(cfg.Execution.MaxRecords)
	hub := notify.NewHub(m, log)
	bus := notify.NewBus(store, log, hub)

	s := &stack{
		config:  cfg,
		logger:  log,
		metrics: m,
		store:   store,
		hub:     hub,
		bus:     bus,
	}

	if cfg.Notify.Redis.Addr != "" {
		s.redis = notify.NewRedisSink(notify.NewRedisClient(cfg.Notify.Redis), cfg.Notify.Redis.Channel, m, log)
		bus.AddSink(s.redis)
		log.Info("redis event sink enabled",
			zap.String("addr", cfg.Notify.Redis.Addr),
			zap.String("channel", s.redis.Channel()))
	}

	chat, err := agent.NewChatModel(ctx, cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("创建模型客户端失败: %w", err)
	}
	agentCfg := agent.DefaultConfig()
	if cfg.AI.MaxElements > 0 {
		agentCfg.MaxElements = cfg.AI.MaxElements
	}
	if cfg.AI.MaxTextLength > 0 {
		agentCfg.MaxTextLength = cfg.AI.MaxTextLength
	}

	defaultMode, err := types.ParseMode(cfg.Browser.DefaultMode)
	if err != nil {
		return nil, err
	}
	policy, err := types.ParseFailurePolicy(cfg.Execution.FailurePolicy, types.FailurePolicyContinue)
	if err != nil {
		return nil, err
	}

	s.launcher = browser.NewPlaywrightLauncher()
	sessions := browser.NewManager(s.launcher, agent.Factory(chat, agentCfg, log), browser.ManagerConfig{
		Args: cfg.Browser.Args,
		Viewport: browser.Viewport{
			Width:  cfg.Browser.ViewportWidth,
			Height: cfg.Browser.ViewportHeight,
		},
		Headless: defaultMode.Headless(),
	}, log)

	execCfg := executor.Config{ScreenshotDir: cfg.Browser.ScreenshotDir}
	exec := executor.New(execCfg, bus, m, log)
	s.actions = executor.New(execCfg, notify.Nop, m, log)

	opts := []execution.Option{
		execution.WithMetrics(m),
		execution.WithLogger(log),
	}
	if cfg.Notify.Webhook.URL != "" {
		opts = append(opts, execution.WithNotifiers(notify.NewWebhook(cfg.Notify.Webhook)))
	}
	if cfg.Report.Enabled {
		opts = append(opts, execution.WithCorrelator(report.New(cfg.Report, log)))
	}

	s.orch = execution.New(execution.Config{
		DefaultMode:        defaultMode,
		FailurePolicy:      policy,
		Timeouts:           cfg.Timeouts,
		ScreenshotEachStep: cfg.Browser.ScreenshotEachStep,
		StepInterval:       cfg.Browser.StepInterval,
		MaxPending:         cfg.Execution.MaxPending,
	}, store, sessions, exec, bus, opts...)

	return s, nil
}

// close 停止执行、关闭浏览器驱动与外部连接
func (s *stack) close(ctx context.Context) error {
	var errs []error
	if err := s.orch.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := s.launcher.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}
