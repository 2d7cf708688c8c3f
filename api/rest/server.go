// Package rest 提供测试执行服务的 HTTP 与 WebSocket 接口
package rest

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"yqhp/web-runner/internal/config"
	"yqhp/web-runner/internal/execution"
	"yqhp/web-runner/internal/executor"
	"yqhp/web-runner/internal/metrics"
	"yqhp/web-runner/internal/notify"
	"yqhp/web-runner/pkg/logger"
)

// Server represents the REST API server.
type Server struct {
	app     *fiber.App
	config  *Config
	orch    *execution.Orchestrator
	actions *executor.Executor
	hub     *notify.Hub
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Config holds the configuration for the REST API server.
type Config struct {
	Address       string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	EnableCORS    bool
	EnableMetrics bool
	BodyLimit     int
	ScreenshotDir string
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:       ":3001",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  0,
		EnableCORS:    true,
		EnableMetrics: true,
		BodyLimit:     10 * 1024 * 1024,
		ScreenshotDir: "screenshots",
	}
}

// ConfigFrom 由服务配置生成
func ConfigFrom(sc config.ServerConfig, bc config.BrowserConfig) *Config {
	return &Config{
		Address:       sc.Address(),
		ReadTimeout:   sc.ReadTimeout,
		WriteTimeout:  sc.WriteTimeout,
		EnableCORS:    sc.EnableCORS,
		EnableMetrics: sc.EnableMetrics,
		BodyLimit:     sc.BodyLimit,
		ScreenshotDir: bc.ScreenshotDir,
	}
}

// Deps 服务依赖
type Deps struct {
	Orchestrator *execution.Orchestrator
	// Actions 执行单动作接口，通常不发布事件
	Actions *executor.Executor
	Hub     *notify.Hub
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Actions == nil {
		deps.Actions = executor.New(executor.Config{ScreenshotDir: cfg.ScreenshotDir}, notify.Nop, deps.Metrics, deps.Logger)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          customErrorHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		AppName:               "Web Runner",
		DisableStartupMessage: true,
	})

	s := &Server{
		app:     app,
		config:  cfg,
		orch:    deps.Orchestrator,
		actions: deps.Actions,
		hub:     deps.Hub,
		metrics: deps.Metrics,
		logger:  deps.Logger.Named("rest"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))
	s.app.Use(requestid.New())
	s.app.Use(logger.Middleware(s.logger))

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept,Authorization",
			MaxAge:       86400,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	api := s.app.Group("/api")
	api.Post("/execute-testcase", s.executeTestcase)
	api.Get("/execution-status/:id", s.getExecutionStatus)
	api.Get("/execution-report/:id", s.getExecutionReport)
	api.Get("/executions", s.listExecutions)
	api.Post("/stop-execution/:id", s.stopExecution)
	api.Get("/status", s.serverStatus)

	s.setupActionRoutes()

	if s.config.EnableMetrics && s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	s.setupWebSocketRoutes()
}

// Start starts the REST API server.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext 启动服务，ctx 取消时优雅关闭
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.ShutdownWithTimeout(10 * time.Second)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ShutdownWithTimeout gracefully shuts down the server with a timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Success: false,
		Error:   message,
	})
}

func fail(c *fiber.Ctx, code int, msg string) error {
	return c.Status(code).JSON(ErrorResponse{Success: false, Error: msg})
}

func now() string {
	return time.Now().Format(time.RFC3339Nano)
}
